package node

import (
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/lawRathod/minidote/comm"
	"github.com/lawRathod/minidote/crdt"
	"github.com/lawRathod/minidote/storage"
)

// Variables

// ErrCausalTimeout is returned for a gated request whose
// causal dependencies were not satisfied before the
// configured wait deadline.
var ErrCausalTimeout = errors.New("causal dependencies not satisfied before deadline")

// ErrClosed is returned for requests reaching the engine
// after shutdown began.
var ErrClosed = errors.New("replica engine is shut down")

// Structs

// ReadResult pairs a key with its client-visible value.
type ReadResult struct {
	Key   crdt.Key
	Value interface{}
}

// Service defines the interface a replica engine
// provides to local clients and to the broadcast layer.
type Service interface {

	// Read returns the values of the given keys together
	// with the merge of the caller's and the replica's
	// clock. A caller clock ahead of the replica gates
	// the read until the dependencies arrived.
	Read(keys []crdt.Key, clock comm.VClock) ([]ReadResult, comm.VClock, error)

	// Update applies a batch of updates atomically with
	// respect to other client calls on this replica and
	// returns the replica clock after the batch. The
	// first origin rejection aborts the whole batch.
	Update(batch []crdt.Update, clock comm.VClock) (comm.VClock, error)

	// InjectEnvelope hands a received broadcast envelope
	// to the engine. It never blocks the caller on
	// engine work.
	InjectEnvelope(env *comm.Envelope)

	// Close drains the engine, writes a final snapshot
	// and releases the durable artefacts.
	Close() error
}

// Options bundles the tunables of a replica engine.
type Options struct {

	// SnapshotInterval is the number of logged batches
	// between snapshots.
	SnapshotInterval uint64

	// WaitDeadline bounds how long a causally gated
	// request may wait. Zero means no deadline: gated
	// requests wait until their dependencies arrive,
	// which is the default behaviour.
	WaitDeadline time.Duration

	// Metrics receives the engine-level instruments. Nil
	// falls back to discard metrics.
	Metrics *Metrics
}

// storedObject is one entry of the object map.
type storedObject struct {
	state   crdt.State
	version uint64
}

// waitingRequest is one gated client request: the
// dependency clock it waits for and the closure that
// executes and answers it once the clock is dominated.
type waitingRequest struct {
	clock     comm.VClock
	run       func()
	fail      func(error)
	cancelled bool
}

// service is the replica engine. Every field below the
// mailbox is owned by the actor goroutine.
type service struct {
	logger   log.Logger
	name     string
	opts     Options
	mailbox  chan func()
	shutdown chan struct{}
	done     chan struct{}

	mint         *crdt.TokenMint
	objects      map[crdt.Key]*storedObject
	clock        comm.VClock
	waiting      []*waitingRequest
	effectBuffer []*comm.Envelope
	logSeq       uint64
	lastSnapSeq  uint64

	wal       *storage.WAL
	snapshots *storage.SnapshotStore
	bcast     chan<- comm.Envelope

	rescanning bool
	closing    bool
}

// Functions

// NewService recovers a replica engine from the supplied
// durable artefacts and starts its actor goroutine. The
// bcast channel receives one envelope per locally applied
// batch, carrying all of the batch's effects.
func NewService(logger log.Logger, name string, opts Options, wal *storage.WAL, snapshots *storage.SnapshotStore, bcast chan<- comm.Envelope) (Service, error) {

	if opts.SnapshotInterval == 0 {
		opts.SnapshotInterval = 100
	}

	if opts.Metrics == nil {
		opts.Metrics = NewDiscardMetrics()
	}

	s := &service{
		logger:    logger,
		name:      name,
		opts:      opts,
		mailbox:   make(chan func(), 128),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		mint:      crdt.NewTokenMint(name),
		objects:   make(map[crdt.Key]*storedObject),
		clock:     comm.NewVClock(),
		wal:       wal,
		snapshots: snapshots,
		bcast:     bcast,
	}

	if err := s.recover(); err != nil {
		return nil, err
	}

	go s.run()

	return s, nil
}

// recover loads the snapshot, if one exists, and replays
// every log record beyond it. Replayed batches neither
// increment the clock nor broadcast; the record's clock
// is merged instead.
func (s *service) recover() error {

	snap, found, err := s.snapshots.Load()
	if err != nil {
		return err
	}

	if found {

		for _, obj := range snap.Objects {

			state, err := crdt.DecodeState(obj.State)
			if err != nil {
				return errors.Wrapf(err, "decoding snapshotted state of %s", obj.Key)
			}

			s.objects[obj.Key] = &storedObject{
				state:   state,
				version: obj.Version,
			}
		}

		s.clock = snap.Clock.Copy()
		s.logSeq = snap.Sequence
		s.lastSnapSeq = snap.Sequence
	}

	// Replay applies the effects each batch produced at
	// its origin, not the batch's operations. Re-running
	// downstream parts would mint fresh tokens and leave
	// this replica's state disagreeing with the effects
	// peers already received before the crash.
	err = s.wal.Scan(s.logSeq, func(rec *storage.Record) error {

		for _, er := range rec.Effects {

			entry, err := s.loadObject(er.Key)
			if err != nil {
				level.Warn(s.logger).Log(
					"msg", "skipping unreplayable effect during recovery",
					"key", er.Key.String(),
					"err", err,
				)
				continue
			}

			effect, err := crdt.DecodeEffect(er.Effect)
			if err != nil {
				return errors.Wrapf(err, "decoding logged effect for %s", er.Key)
			}

			if err := entry.state.Apply(effect); err != nil {
				return errors.Wrapf(err, "replaying effect on %s", er.Key)
			}

			entry.version++
		}

		s.clock.Merge(rec.ClockAfter)
		s.logSeq = rec.Sequence

		return nil
	})
	if err != nil {
		return err
	}

	// Versions minted before the crash must never be
	// minted again; tokens carry a random part, register
	// versions do not.
	for _, entry := range s.objects {

		if reg, ok := entry.state.(*crdt.MVRegister); ok {
			s.mint.Advance(reg.MaxVersionCounter(s.name))
		}
	}

	return nil
}

// run is the actor loop. Everything that touches engine
// state executes here, one closure at a time.
func (s *service) run() {

	defer close(s.done)

	for {

		select {

		case task := <-s.mailbox:

			task()

			if s.closing {
				return
			}

		case <-s.shutdown:

			// Drain what is already queued, then leave.
			for {
				select {
				case task := <-s.mailbox:
					task()
				default:
					return
				}
			}
		}
	}
}

// post hands a closure to the actor goroutine.
func (s *service) post(task func()) bool {

	select {
	case s.mailbox <- task:
		return true
	case <-s.shutdown:
		return false
	}
}

// Read implements Service.
func (s *service) Read(keys []crdt.Key, clock comm.VClock) ([]ReadResult, comm.VClock, error) {

	clock = comm.Normalize(clock).Copy()

	type reply struct {
		results []ReadResult
		merged  comm.VClock
		err     error
	}

	replyChan := make(chan reply, 1)

	ok := s.post(func() {
		s.admit(clock,
			func() {
				results, merged, err := s.readObjects(keys, clock)
				replyChan <- reply{results: results, merged: merged, err: err}
			},
			func(err error) {
				replyChan <- reply{err: err}
			})
	})
	if !ok {
		return nil, nil, ErrClosed
	}

	r := <-replyChan

	return r.results, r.merged, r.err
}

// Update implements Service.
func (s *service) Update(batch []crdt.Update, clock comm.VClock) (comm.VClock, error) {

	clock = comm.Normalize(clock).Copy()

	type reply struct {
		newClock comm.VClock
		err      error
	}

	replyChan := make(chan reply, 1)

	ok := s.post(func() {
		s.admit(clock,
			func() {
				newClock, err := s.updateObjects(batch, clock)
				replyChan <- reply{newClock: newClock, err: err}

				// Both the dependency merge and the batch
				// increment advance the clock.
				s.rescanWaiting()
			},
			func(err error) {
				replyChan <- reply{err: err}
			})
	})
	if !ok {
		return nil, ErrClosed
	}

	r := <-replyChan

	return r.newClock, r.err
}

// InjectEnvelope implements Service.
func (s *service) InjectEnvelope(env *comm.Envelope) {

	s.post(func() {
		s.receiveEnvelope(env)
	})
}

// Close implements Service.
func (s *service) Close() error {

	errChan := make(chan error, 1)

	ok := s.post(func() {

		s.closing = true

		// Gated requests cannot be satisfied anymore.
		for _, w := range s.waiting {
			if !w.cancelled {
				w.cancelled = true
				w.fail(ErrClosed)
			}
		}
		s.waiting = nil

		s.writeSnapshot()

		if err := s.wal.Close(); err != nil {
			errChan <- err
			return
		}

		errChan <- s.snapshots.Close()
	})
	if !ok {
		return ErrClosed
	}

	err := <-errChan

	close(s.shutdown)
	<-s.done

	return err
}

// admit runs ready directly if the caller's dependency
// clock is already dominated by the local clock, and
// enqueues the request otherwise. Equal, older and
// concurrent clocks are all ready; only a strictly newer
// clock names updates this replica has not seen.
func (s *service) admit(clock comm.VClock, ready func(), fail func(error)) {

	if clock.Compare(s.clock) != comm.OrdAfter {
		ready()
		return
	}

	w := &waitingRequest{
		clock: clock,
		run:   ready,
		fail:  fail,
	}

	s.waiting = append(s.waiting, w)
	s.opts.Metrics.GatedRequests.Add(1)

	if s.opts.WaitDeadline > 0 {

		time.AfterFunc(s.opts.WaitDeadline, func() {
			s.post(func() {
				if !w.cancelled {
					w.cancelled = true
					w.fail(ErrCausalTimeout)
				}
			})
		})
	}
}

// rescanWaiting delivers every request whose dependency
// clock is dominated by the advanced local clock, in the
// order the requests were gated. Executing one may
// advance the clock again or gate new requests, so each
// round picks the first ready entry afresh until none is
// left. The guard flag keeps executions triggered from
// inside a delivered request from re-entering the scan.
func (s *service) rescanWaiting() {

	if s.rescanning {
		return
	}

	s.rescanning = true
	defer func() { s.rescanning = false }()

	for {

		idx := -1

		remaining := s.waiting[:0]
		for _, w := range s.waiting {
			if !w.cancelled {
				remaining = append(remaining, w)
			}
		}
		s.waiting = remaining

		for i, w := range s.waiting {

			if w.clock.Compare(s.clock) != comm.OrdAfter {
				idx = i
				break
			}
		}

		if idx == -1 {
			return
		}

		w := s.waiting[idx]
		s.waiting = append(s.waiting[:idx], s.waiting[idx+1:]...)

		w.cancelled = true
		w.run()
	}
}

// readObjects computes the values of all requested keys
// and the merge of caller and replica clock.
func (s *service) readObjects(keys []crdt.Key, clock comm.VClock) ([]ReadResult, comm.VClock, error) {

	results := make([]ReadResult, 0, len(keys))

	for _, key := range keys {

		entry, err := s.loadObject(key)
		if err != nil {
			return nil, nil, err
		}

		results = append(results, ReadResult{
			Key:   key,
			Value: entry.state.Value(),
		})
	}

	merged := s.clock.Copy()
	merged.Merge(clock)

	return results, merged, nil
}

// loadObject returns the stored entry for key, lazily
// creating it with the type's initial state on first
// touch.
func (s *service) loadObject(key crdt.Key) (*storedObject, error) {

	if entry, found := s.objects[key]; found {
		return entry, nil
	}

	state, err := crdt.New(key.Type)
	if err != nil {
		return nil, err
	}

	entry := &storedObject{state: state}
	s.objects[key] = entry

	return entry, nil
}

// updateObjects executes one client batch: dependency
// merge, downstream and apply per update on scratch
// copies, then a single clock increment, the log record,
// and the batch's broadcast envelope. The first origin
// rejection aborts the batch with no state change beyond
// the dependency merge.
func (s *service) updateObjects(batch []crdt.Update, clock comm.VClock) (comm.VClock, error) {

	// Bump dependencies first.
	s.clock.Merge(clock)

	type pendingEffect struct {
		key    crdt.Key
		effect crdt.Effect
	}

	scratch := make(map[crdt.Key]*storedObject, len(batch))
	effects := make([]pendingEffect, 0, len(batch))

	for _, upd := range batch {

		entry, found := scratch[upd.Key]
		if !found {

			stored, err := s.loadObject(upd.Key)
			if err != nil {
				return nil, err
			}

			copied, err := copyObject(stored)
			if err != nil {
				return nil, err
			}

			entry = copied
			scratch[upd.Key] = entry
		}

		effect, err := entry.state.Downstream(upd.Operation(), s.mint)
		if err != nil {
			// Origin rejection: the whole batch aborts and
			// the scratch copies are simply dropped.
			return nil, err
		}

		if err := entry.state.Apply(effect); err != nil {
			return nil, err
		}

		entry.version++

		effects = append(effects, pendingEffect{key: upd.Key, effect: effect})
	}

	// Every update went through, commit the batch.
	for key, entry := range scratch {
		s.objects[key] = entry
	}

	s.clock.Increment(s.name)

	s.logSeq++

	// Encode the produced effects once; the same bytes go
	// into the log record and out in the envelope, so a
	// replay after a crash applies exactly what peers
	// received.
	logged := make([]storage.EffectRecord, 0, len(effects))

	for _, pe := range effects {

		data, err := crdt.EncodeEffect(pe.effect)
		if err != nil {
			level.Error(s.logger).Log(
				"msg", "failed to encode effect, excluding it from log and broadcast",
				"key", pe.key.String(),
				"err", err,
			)
			continue
		}

		logged = append(logged, storage.EffectRecord{
			Key:    pe.key,
			Effect: data,
		})
	}

	rec := &storage.Record{
		Sequence:   s.logSeq,
		Batch:      batch,
		Effects:    logged,
		ClockAfter: s.clock.Copy(),
	}

	// The record has to be durable before its effects
	// leave the replica. A failing append degrades
	// durability but not the in-memory state.
	if err := s.wal.Append(rec); err != nil {
		level.Error(s.logger).Log(
			"msg", "appending batch to WAL failed, continuing without durability",
			"sequence", s.logSeq,
			"err", err,
		)
	} else {
		s.opts.Metrics.WALAppends.Add(1)
	}

	// All effects of the batch leave in one envelope
	// carrying the batch's final clock.
	if len(logged) > 0 {

		entries := make([]comm.EffectEntry, 0, len(logged))
		for _, er := range logged {
			entries = append(entries, comm.EffectEntry{
				Key:    er.Key,
				Effect: er.Effect,
			})
		}

		s.bcast <- comm.Envelope{
			Effects: entries,
			Origin:  s.name,
			VClock:  s.clock.Copy(),
		}
	}

	s.opts.Metrics.AppliedBatches.Add(1)

	if s.logSeq%s.opts.SnapshotInterval == 0 {
		s.writeSnapshot()
	}

	return s.clock.Copy(), nil
}

// receiveEnvelope admits, buffers or drops one remote
// envelope. Delivery is strict causal: an envelope is
// applied once it is the next one from its origin and no
// entry for any other replica runs ahead of the local
// clock. Stale envelopes are duplicates and are dropped.
func (s *service) receiveEnvelope(env *comm.Envelope) {

	switch s.classifyEnvelope(env) {

	case envApply:

		s.applyEnvelope(env)
		s.opts.Metrics.EnvelopesApplied.Add(1)
		s.drainEffectBuffer()
		s.rescanWaiting()

	case envBuffer:

		s.effectBuffer = append(s.effectBuffer, env)
		s.opts.Metrics.EnvelopesBuffered.Add(1)

		level.Debug(s.logger).Log(
			"msg", "buffered out-of-order envelope",
			"origin", env.Origin,
			"clock", env.VClock.String(),
		)

	case envStale:

		s.opts.Metrics.EnvelopesDropped.Add(1)

		level.Debug(s.logger).Log(
			"msg", "dropped duplicate envelope",
			"origin", env.Origin,
			"clock", env.VClock.String(),
		)
	}
}

// Envelope admission outcomes.
const (
	envApply = iota
	envBuffer
	envStale
)

// classifyEnvelope implements the strict delivery
// predicate against the local clock.
func (s *service) classifyEnvelope(env *comm.Envelope) int {

	originEntry := env.VClock.Get(env.Origin)

	// Already seen this or a later envelope from the
	// origin: a duplicate or a replayed straggler.
	if originEntry <= s.clock.Get(env.Origin) {
		return envStale
	}

	if originEntry != s.clock.Get(env.Origin)+1 {
		return envBuffer
	}

	// The origin entry is the expected next one. All
	// other entries must already be covered locally.
	for replica, value := range env.VClock {

		if replica == env.Origin {
			continue
		}

		if value > s.clock.Get(replica) {
			return envBuffer
		}
	}

	return envApply
}

// applyEnvelope folds one admitted envelope into the
// object store and merges its clock. An entry that does
// not decode or apply is skipped with a log line, the
// remaining entries of the batch still apply.
func (s *service) applyEnvelope(env *comm.Envelope) {

	for _, ee := range env.Effects {

		effect, err := crdt.DecodeEffect(ee.Effect)
		if err != nil {
			level.Warn(s.logger).Log(
				"msg", "discarding undecodable remote effect",
				"origin", env.Origin,
				"key", ee.Key.String(),
				"err", err,
			)
			continue
		}

		entry, err := s.loadObject(ee.Key)
		if err != nil {
			level.Warn(s.logger).Log(
				"msg", "discarding remote effect for unknown CRDT type",
				"origin", env.Origin,
				"key", ee.Key.String(),
				"err", err,
			)
			continue
		}

		if err := entry.state.Apply(effect); err != nil {
			level.Warn(s.logger).Log(
				"msg", "applying remote effect failed",
				"origin", env.Origin,
				"key", ee.Key.String(),
				"err", err,
			)
			continue
		}

		entry.version++
	}

	s.clock.Merge(env.VClock)
}

// drainEffectBuffer applies buffered envelopes until no
// further one is admissible. Admitting one envelope can
// unlock others, so we loop to a fixed point.
func (s *service) drainEffectBuffer() {

	for {

		progressed := false
		remaining := s.effectBuffer[:0]

		for _, env := range s.effectBuffer {

			switch s.classifyEnvelope(env) {

			case envApply:
				s.applyEnvelope(env)
				s.opts.Metrics.EnvelopesApplied.Add(1)
				progressed = true

			case envBuffer:
				remaining = append(remaining, env)

			case envStale:
				// Superseded while sitting in the buffer.
				s.opts.Metrics.EnvelopesDropped.Add(1)
			}
		}

		s.effectBuffer = remaining

		if !progressed {
			return
		}
	}
}

// writeSnapshot persists the current object map, clock
// and sequence, then lets the WAL recycle covered
// segments. Failures degrade durability only.
func (s *service) writeSnapshot() {

	snap := &storage.Snapshot{
		Objects:  make([]storage.ObjectRecord, 0, len(s.objects)),
		Clock:    s.clock.Copy(),
		Sequence: s.logSeq,
	}

	for key, entry := range s.objects {

		data, err := crdt.EncodeState(entry.state)
		if err != nil {
			level.Error(s.logger).Log(
				"msg", "failed to encode state for snapshot, skipping snapshot",
				"key", key.String(),
				"err", err,
			)
			return
		}

		snap.Objects = append(snap.Objects, storage.ObjectRecord{
			Key:     key,
			State:   data,
			Version: entry.version,
		})
	}

	if err := s.snapshots.Save(snap); err != nil {
		level.Error(s.logger).Log(
			"msg", "writing snapshot failed, durability degraded until next attempt",
			"sequence", s.logSeq,
			"err", err,
		)
		return
	}

	s.lastSnapSeq = s.logSeq
	s.wal.Prune(s.lastSnapSeq)
	s.opts.Metrics.Snapshots.Add(1)

	level.Debug(s.logger).Log(
		"msg", "snapshot written",
		"sequence", s.logSeq,
	)
}

// copyObject deep-copies a stored object through the
// state codec so that an aborted batch leaves the
// original untouched.
func copyObject(entry *storedObject) (*storedObject, error) {

	data, err := crdt.EncodeState(entry.state)
	if err != nil {
		return nil, err
	}

	state, err := crdt.DecodeState(data)
	if err != nil {
		return nil, err
	}

	return &storedObject{
		state:   state,
		version: entry.version,
	}, nil
}
