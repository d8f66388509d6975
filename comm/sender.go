package comm

import (
	"net"
	"sync"
	"time"

	"crypto/tls"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Constants

// Number of marshalled envelopes a per-peer queue buffers
// before further envelopes for that peer are dropped.
const peerQueueLen = 256

// Structs

// Sender is the outbound half of the broadcast layer. It
// accepts envelopes from the local engine on a channel,
// marshals them once and fans them out to one goroutine
// per peer. Delivery is best-effort: a peer that is down
// or falling behind misses envelopes, recovering missed
// state is out of this layer's hands.
type Sender struct {
	lock       sync.Mutex
	logger     log.Logger
	name       string
	tlsConfig  *tls.Config
	membership Membership
	inc        chan Envelope
	links      map[string]*peerLink
	shutdown   chan struct{}
	wg         sync.WaitGroup
}

// peerLink is the dedicated outbound queue and connection
// of one peer. Frames leave the queue in order, which
// keeps envelopes from this origin in local send order on
// the receiving side.
type peerLink struct {
	name  string
	addr  string
	queue chan []byte
}

// Functions

// InitSender initializes the sender and returns the
// channel local processes put envelopes into to have
// them broadcast to all current peers.
func InitSender(logger log.Logger, name string, tlsConfig *tls.Config, membership Membership) (chan<- Envelope, *Sender) {

	sender := &Sender{
		logger:     logger,
		name:       name,
		tlsConfig:  tlsConfig,
		membership: membership,
		inc:        make(chan Envelope, 64),
		links:      make(map[string]*peerLink),
		shutdown:   make(chan struct{}),
	}

	// Start brokering routine in background.
	sender.wg.Add(1)
	go sender.BrokerMsgs()

	return sender.inc, sender
}

// BrokerMsgs awaits envelopes from the local engine,
// stamps and marshals them, and enqueues the frame at
// every peer link.
func (sender *Sender) BrokerMsgs() {

	defer sender.wg.Done()

	for {

		select {

		case <-sender.shutdown:
			return

		case env, ok := <-sender.inc:

			if !ok {
				return
			}

			// Set this replica's name as sending part in
			// case the engine left it empty.
			if env.Origin == "" {
				env.Origin = sender.name
			}

			data, err := env.MarshalBinary()
			if err != nil {
				level.Error(sender.logger).Log(
					"msg", "failed to marshal outbound envelope, dropping it",
					"origin", env.Origin,
					"err", err,
				)
				continue
			}

			for peer, addr := range sender.membership.OtherMembers() {

				link := sender.linkFor(peer, addr)

				select {
				case link.queue <- data:
				default:
					// Queue full: this peer is unreachable or
					// too slow, the envelope is lost for it.
					level.Warn(sender.logger).Log(
						"msg", "peer queue full, dropping envelope",
						"peer", peer,
						"effects", len(env.Effects),
					)
				}
			}
		}
	}
}

// linkFor returns the existing link of a peer or creates
// one with its own sending goroutine.
func (sender *Sender) linkFor(peer string, addr string) *peerLink {

	sender.lock.Lock()
	defer sender.lock.Unlock()

	if link, found := sender.links[peer]; found {
		return link
	}

	link := &peerLink{
		name:  peer,
		addr:  addr,
		queue: make(chan []byte, peerQueueLen),
	}
	sender.links[peer] = link

	sender.wg.Add(1)
	go sender.runLink(link)

	return link
}

// runLink drains one peer queue onto its connection,
// reconnecting when a write fails. Frames that cannot be
// written after a reconnect attempt are dropped.
func (sender *Sender) runLink(link *peerLink) {

	defer sender.wg.Done()

	var conn net.Conn

	for {

		select {

		case <-sender.shutdown:

			if conn != nil {
				conn.Close()
			}

			return

		case data, ok := <-link.queue:

			if !ok {
				return
			}

			if conn == nil {

				c, err := ReliableConnect(link.name, link.addr, sender.tlsConfig, 250*time.Millisecond, 3)
				if err != nil {
					level.Warn(sender.logger).Log(
						"msg", "peer unreachable, dropping envelope",
						"peer", link.name,
						"err", err,
					)
					continue
				}

				conn = c
			}

			if err := WriteFrame(conn, data); err != nil {

				// Connection went stale. Reconnect once and
				// retry the write, then give the frame up.
				conn.Close()
				conn = nil

				c, err := ReliableConnect(link.name, link.addr, sender.tlsConfig, 250*time.Millisecond, 3)
				if err != nil {
					level.Warn(sender.logger).Log(
						"msg", "peer unreachable after write failure, dropping envelope",
						"peer", link.name,
						"err", err,
					)
					continue
				}

				conn = c

				if err := WriteFrame(conn, data); err != nil {
					level.Warn(sender.logger).Log(
						"msg", "write to peer failed again, dropping envelope",
						"peer", link.name,
						"err", err,
					)
					conn.Close()
					conn = nil
				}
			}
		}
	}
}

// Shutdown stops the broker and all peer links and waits
// for them to finish.
func (sender *Sender) Shutdown() {

	close(sender.shutdown)
	sender.wg.Wait()
}
