package comm

import (
	"net"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// Structs

// Receiver is the inbound half of the broadcast layer.
// It accepts peer connections on the sync socket, decodes
// framed envelopes and hands each one to all registered
// local receivers. Duplicates and causal gaps are left to
// the engine; this layer only transports.
type Receiver struct {
	lock      sync.Mutex
	logger    log.Logger
	name      string
	socket    net.Listener
	receivers []func(*Envelope)
	conns     map[net.Conn]bool
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// Functions

// InitReceiver initializes the receiver on the supplied
// listening socket and starts accepting connections in
// the background.
func InitReceiver(logger log.Logger, name string, socket net.Listener) *Receiver {

	recv := &Receiver{
		logger:   logger,
		name:     name,
		socket:   socket,
		conns:    make(map[net.Conn]bool),
		shutdown: make(chan struct{}),
	}

	// Accept incoming envelopes in background.
	recv.wg.Add(1)
	go recv.AcceptIncMsgs()

	return recv
}

// RegisterReceiver adds r to the set of local receivers
// every decoded envelope is handed to.
func (recv *Receiver) RegisterReceiver(r func(*Envelope)) {

	recv.lock.Lock()
	defer recv.lock.Unlock()

	recv.receivers = append(recv.receivers, r)
}

// AcceptIncMsgs runs in background and waits for
// incoming peer connections. As soon as accepted, each
// connection is dispatched into its own routine.
func (recv *Receiver) AcceptIncMsgs() {

	defer recv.wg.Done()

	for {

		conn, err := recv.socket.Accept()
		if err != nil {

			select {

			case <-recv.shutdown:
				return

			default:
				level.Warn(recv.logger).Log(
					"msg", "accepting incoming sync connection failed",
					"err", err,
				)
				continue
			}
		}

		recv.lock.Lock()
		recv.conns[conn] = true
		recv.lock.Unlock()

		recv.wg.Add(1)
		go recv.handleConn(conn)
	}
}

// handleConn reads framed envelopes off one peer
// connection until it closes or turns malformed.
func (recv *Receiver) handleConn(conn net.Conn) {

	defer recv.wg.Done()
	defer func() {
		conn.Close()
		recv.lock.Lock()
		delete(recv.conns, conn)
		recv.lock.Unlock()
	}()

	for {

		data, err := ReadFrame(conn)
		if err != nil {
			// Peer closed the connection or sent garbage.
			// Either way this connection is done, the peer
			// will redial if it has more to say.
			return
		}

		env, err := ParseEnvelope(data)
		if err != nil {
			level.Warn(recv.logger).Log(
				"msg", "discarding malformed envelope",
				"err", err,
			)
			return
		}

		recv.lock.Lock()
		receivers := recv.receivers
		recv.lock.Unlock()

		for _, r := range receivers {
			r(env)
		}
	}
}

// Shutdown closes the listening socket and waits for all
// connection routines to finish.
func (recv *Receiver) Shutdown() {

	close(recv.shutdown)
	recv.socket.Close()

	// Unblock connection routines stuck in a read.
	recv.lock.Lock()
	for conn := range recv.conns {
		conn.Close()
	}
	recv.lock.Unlock()

	recv.wg.Wait()
}
