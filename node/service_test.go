package node

import (
	"testing"
	"time"

	"path/filepath"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawRathod/minidote/comm"
	"github.com/lawRathod/minidote/crdt"
	"github.com/lawRathod/minidote/storage"
)

// Functions

func openArtefacts(t *testing.T, dir string) (*storage.WAL, *storage.SnapshotStore) {

	wal, err := storage.OpenWAL(log.NewNopLogger(), filepath.Join(dir, "wal"), 1024*1024, 4)
	require.Nil(t, err)

	snapshots, err := storage.OpenSnapshotStore(filepath.Join(dir, "snapshot.db"))
	require.Nil(t, err)

	return wal, snapshots
}

func newTestService(t *testing.T, name string, dir string, opts Options) (Service, chan comm.Envelope) {

	wal, snapshots := openArtefacts(t, dir)

	bcast := make(chan comm.Envelope, 1024)

	svc, err := NewService(log.NewNopLogger(), name, opts, wal, snapshots, bcast)
	require.Nil(t, err)

	return svc, bcast
}

// startCluster builds fully meshed in-process replicas:
// every envelope one replica broadcasts is injected into
// all others.
func startCluster(t *testing.T, names ...string) map[string]Service {

	services := make(map[string]Service, len(names))
	channels := make(map[string]chan comm.Envelope, len(names))

	for _, name := range names {
		svc, bcast := newTestService(t, name, t.TempDir(), Options{})
		services[name] = svc
		channels[name] = bcast
	}

	for name := range channels {

		self := name
		ch := channels[name]

		go func() {
			for env := range ch {

				delivered := env

				for peer, peerSvc := range services {
					if peer != self {
						peerSvc.InjectEnvelope(&delivered)
					}
				}
			}
		}()
	}

	t.Cleanup(func() {
		for _, svc := range services {
			svc.Close()
		}
	})

	return services
}

func counterKey(id string) crdt.Key {
	return crdt.Key{Namespace: "test", Type: crdt.TypePNCounterOp, ID: id}
}

// counterEnvelope builds the envelope of a single-update
// remote batch incrementing key by delta.
func counterEnvelope(t *testing.T, origin string, key crdt.Key, delta int64, clock comm.VClock) *comm.Envelope {

	effect, err := crdt.EncodeEffect(&crdt.CounterDelta{Delta: delta})
	require.Nil(t, err)

	return &comm.Envelope{
		Effects: []comm.EffectEntry{
			{Key: key, Effect: effect},
		},
		Origin: origin,
		VClock: clock,
	}
}

// counterValue reads one counter key. It stays free of
// fatal assertions because it also runs inside Eventually
// polling goroutines; a failed read returns a sentinel
// that no test expects.
func counterValue(t *testing.T, svc Service, key crdt.Key) int64 {

	results, _, err := svc.Read([]crdt.Key{key}, nil)
	if err != nil || len(results) != 1 {
		return -1 << 62
	}

	return results[0].Value.(int64)
}

// TestUpdateAndRead checks the plain local path: one
// increment, one read, the clock records the replica's
// contribution.
func TestUpdateAndRead(t *testing.T) {

	svc, _ := newTestService(t, "worker-1", t.TempDir(), Options{})
	defer svc.Close()

	newClock, err := svc.Update([]crdt.Update{
		{Key: counterKey("c"), Op: crdt.OpIncrement, Arg: int64(42)},
	}, nil)
	require.Nil(t, err)

	assert.Equal(t, uint64(1), newClock.Get("worker-1"))

	results, merged, err := svc.Read([]crdt.Key{counterKey("c")}, nil)
	require.Nil(t, err)
	assert.Equal(t, int64(42), results[0].Value.(int64))
	assert.Equal(t, uint64(1), merged.Get("worker-1"))
}

// TestBatchIncrementsClockOnce checks that a batch of
// several updates moves the replica entry by exactly one.
func TestBatchIncrementsClockOnce(t *testing.T) {

	svc, bcast := newTestService(t, "worker-1", t.TempDir(), Options{})
	defer svc.Close()

	newClock, err := svc.Update([]crdt.Update{
		{Key: counterKey("c"), Op: crdt.OpIncrement, Arg: int64(1)},
		{Key: counterKey("c"), Op: crdt.OpIncrement, Arg: int64(2)},
		{Key: counterKey("d"), Op: crdt.OpIncrement, Arg: int64(3)},
	}, nil)
	require.Nil(t, err)

	assert.Equal(t, uint64(1), newClock.Get("worker-1"))
	assert.Equal(t, int64(3), counterValue(t, svc, counterKey("c")))

	// The batch leaves in one envelope with all three
	// effects under the batch's final clock.
	env := <-bcast
	assert.Equal(t, comm.OrdEqual, newClock.Compare(env.VClock))
	assert.Equal(t, "worker-1", env.Origin)
	assert.Equal(t, 3, len(env.Effects))
}

// TestBatchAtomicity checks that the first origin
// rejection aborts the whole batch: no effect reaches
// the objects, nothing is broadcast, the clock entry of
// the replica stays untouched.
func TestBatchAtomicity(t *testing.T) {

	svc, bcast := newTestService(t, "worker-1", t.TempDir(), Options{})
	defer svc.Close()

	setKey := crdt.Key{Namespace: "test", Type: crdt.TypeTPSet, ID: "s"}

	_, err := svc.Update([]crdt.Update{
		{Key: setKey, Op: crdt.OpAdd, Arg: "kept"},
		// Removing a never-added element is rejected at
		// the origin.
		{Key: setKey, Op: crdt.OpRemove, Arg: "ghost"},
	}, nil)
	require.NotNil(t, err)

	results, merged, err := svc.Read([]crdt.Key{setKey}, nil)
	require.Nil(t, err)
	assert.Equal(t, 0, len(results[0].Value.([]string)))
	assert.Equal(t, uint64(0), merged.Get("worker-1"))

	select {
	case env := <-bcast:
		t.Fatalf("aborted batch must not broadcast, got envelope with %d effects", len(env.Effects))
	default:
	}
}

// TestUnknownTypeTag checks dispatch failure on a type
// tag no CRDT is registered for.
func TestUnknownTypeTag(t *testing.T) {

	svc, _ := newTestService(t, "worker-1", t.TempDir(), Options{})
	defer svc.Close()

	_, err := svc.Update([]crdt.Update{
		{Key: crdt.Key{Namespace: "test", Type: "g-set", ID: "x"}, Op: crdt.OpAdd, Arg: "e"},
	}, nil)
	assert.NotNil(t, err)
}

// TestRemoteEnvelopeApplied checks that an admissible
// remote effect lands in the object store and advances
// the clock.
func TestRemoteEnvelopeApplied(t *testing.T) {

	svc, _ := newTestService(t, "worker-1", t.TempDir(), Options{})
	defer svc.Close()

	svc.InjectEnvelope(counterEnvelope(t, "worker-2", counterKey("c"), 5, comm.VClock{"worker-2": 1}))

	require.Eventually(t, func() bool {
		return counterValue(t, svc, counterKey("c")) == 5
	}, 5*time.Second, 10*time.Millisecond)

	_, merged, err := svc.Read(nil, nil)
	require.Nil(t, err)
	assert.Equal(t, uint64(1), merged.Get("worker-2"))
}

// TestDuplicateEnvelopeDropped checks at-most-once
// application of remote effects.
func TestDuplicateEnvelopeDropped(t *testing.T) {

	svc, _ := newTestService(t, "worker-1", t.TempDir(), Options{})
	defer svc.Close()

	env := counterEnvelope(t, "worker-2", counterKey("c"), 5, comm.VClock{"worker-2": 1})

	svc.InjectEnvelope(env)
	svc.InjectEnvelope(env)

	require.Eventually(t, func() bool {
		return counterValue(t, svc, counterKey("c")) == 5
	}, 5*time.Second, 10*time.Millisecond)

	// Give the duplicate time to be classified, then
	// check it did not apply a second time.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(5), counterValue(t, svc, counterKey("c")))
}

// TestStrictDeliveryBuffersGaps checks that an envelope
// running ahead of its origin's next expected entry sits
// in the effect buffer until the gap closes.
func TestStrictDeliveryBuffersGaps(t *testing.T) {

	svc, _ := newTestService(t, "worker-1", t.TempDir(), Options{})
	defer svc.Close()

	// The second envelope of worker-2 arrives first.
	svc.InjectEnvelope(counterEnvelope(t, "worker-2", counterKey("c"), 2, comm.VClock{"worker-2": 2}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), counterValue(t, svc, counterKey("c")))

	// The gap closes, both envelopes apply.
	svc.InjectEnvelope(counterEnvelope(t, "worker-2", counterKey("c"), 1, comm.VClock{"worker-2": 1}))

	require.Eventually(t, func() bool {
		return counterValue(t, svc, counterKey("c")) == 3
	}, 5*time.Second, 10*time.Millisecond)
}

// TestCausalGating checks that a request carrying a
// dependency clock ahead of the replica waits and is
// answered once the dependency arrived.
func TestCausalGating(t *testing.T) {

	svc, _ := newTestService(t, "worker-1", t.TempDir(), Options{})
	defer svc.Close()

	type readReply struct {
		value  int64
		merged comm.VClock
	}

	done := make(chan readReply, 1)

	go func() {

		results, merged, err := svc.Read([]crdt.Key{counterKey("c")}, comm.VClock{"worker-2": 1})
		if err != nil {
			t.Errorf("gated read failed: %v", err)
			done <- readReply{}
			return
		}

		done <- readReply{value: results[0].Value.(int64), merged: merged}
	}()

	// The read depends on worker-2's first batch and
	// must not answer before it arrived.
	select {
	case <-done:
		t.Fatalf("read answered before its causal dependency was satisfied")
	case <-time.After(100 * time.Millisecond):
	}

	svc.InjectEnvelope(counterEnvelope(t, "worker-2", counterKey("c"), 7, comm.VClock{"worker-2": 1}))

	select {

	case reply := <-done:
		assert.Equal(t, int64(7), reply.value)
		assert.Equal(t, uint64(1), reply.merged.Get("worker-2"))

	case <-time.After(5 * time.Second):
		t.Fatalf("read stayed gated although its dependency arrived")
	}
}

// TestCausalTimeout checks the configurable wait
// deadline on gated requests.
func TestCausalTimeout(t *testing.T) {

	svc, _ := newTestService(t, "worker-1", t.TempDir(), Options{
		WaitDeadline: 50 * time.Millisecond,
	})
	defer svc.Close()

	_, _, err := svc.Read([]crdt.Key{counterKey("c")}, comm.VClock{"worker-2": 1})
	assert.Equal(t, ErrCausalTimeout, err)

	// A later update on the unrelated path still works.
	_, err = svc.Update([]crdt.Update{
		{Key: counterKey("c"), Op: crdt.OpIncrement},
	}, nil)
	assert.Nil(t, err)
}

// TestClusterCounterReplication replays the counter
// replication scenario across two live replicas.
func TestClusterCounterReplication(t *testing.T) {

	services := startCluster(t, "worker-1", "worker-2")

	newClock, err := services["worker-1"].Update([]crdt.Update{
		{Key: counterKey("c"), Op: crdt.OpIncrement, Arg: int64(42)},
	}, nil)
	require.Nil(t, err)
	assert.Equal(t, uint64(1), newClock.Get("worker-1"))

	for _, svc := range services {

		instance := svc
		require.Eventually(t, func() bool {
			return counterValue(t, instance, counterKey("c")) == 42
		}, 5*time.Second, 10*time.Millisecond)
	}
}

// TestConcurrentAddRemoveAddWins replays the concurrent
// add/remove scenario deterministically: both replicas
// update before any envelope is exchanged, so the remove
// has observed no adds and the add wins on both.
func TestConcurrentAddRemoveAddWins(t *testing.T) {

	setKey := crdt.Key{Namespace: "test", Type: crdt.TypeAWSet, ID: "s"}

	svcA, bcastA := newTestService(t, "worker-1", t.TempDir(), Options{})
	defer svcA.Close()
	svcB, bcastB := newTestService(t, "worker-2", t.TempDir(), Options{})
	defer svcB.Close()

	_, err := svcA.Update([]crdt.Update{
		{Key: setKey, Op: crdt.OpAdd, Arg: "x"},
	}, nil)
	require.Nil(t, err)

	_, err = svcB.Update([]crdt.Update{
		{Key: setKey, Op: crdt.OpRemove, Arg: "x"},
	}, nil)
	require.Nil(t, err)

	// Exchange the two concurrent envelopes only now.
	envA := <-bcastA
	envB := <-bcastB
	svcA.InjectEnvelope(&envB)
	svcB.InjectEnvelope(&envA)

	for name, svc := range map[string]Service{"worker-1": svcA, "worker-2": svcB} {

		instance := svc
		require.Eventually(t, func() bool {

			results, _, err := instance.Read([]crdt.Key{setKey}, nil)
			if err != nil {
				return false
			}

			value := results[0].Value.([]string)

			return len(value) == 1 && value[0] == "x"
		}, 5*time.Second, 10*time.Millisecond, "add did not win on %s", name)
	}
}

// TestConcurrentEnableWins replays the concurrent
// enable/disable scenario the same deterministic way.
func TestConcurrentEnableWins(t *testing.T) {

	flagKey := crdt.Key{Namespace: "test", Type: crdt.TypeEWFlag, ID: "f"}

	svcA, bcastA := newTestService(t, "worker-1", t.TempDir(), Options{})
	defer svcA.Close()
	svcB, bcastB := newTestService(t, "worker-2", t.TempDir(), Options{})
	defer svcB.Close()

	_, err := svcA.Update([]crdt.Update{
		{Key: flagKey, Op: crdt.OpEnable},
	}, nil)
	require.Nil(t, err)

	_, err = svcB.Update([]crdt.Update{
		{Key: flagKey, Op: crdt.OpDisable},
	}, nil)
	require.Nil(t, err)

	envA := <-bcastA
	envB := <-bcastB
	svcA.InjectEnvelope(&envB)
	svcB.InjectEnvelope(&envA)

	for name, svc := range map[string]Service{"worker-1": svcA, "worker-2": svcB} {

		instance := svc
		require.Eventually(t, func() bool {

			results, _, err := instance.Read([]crdt.Key{flagKey}, nil)
			if err != nil {
				return false
			}

			return results[0].Value.(bool)
		}, 5*time.Second, 10*time.Millisecond, "enable did not win on %s", name)
	}
}

// TestClusterCausalChain replays the causal chain
// scenario: three replicas increment in turn, each
// carrying the clock of its predecessor, and all three
// converge on the sum with causally ordered clocks.
func TestClusterCausalChain(t *testing.T) {

	services := startCluster(t, "worker-1", "worker-2", "worker-3")

	key := counterKey("chain")

	clockA, err := services["worker-1"].Update([]crdt.Update{
		{Key: key, Op: crdt.OpIncrement, Arg: int64(1)},
	}, nil)
	require.Nil(t, err)

	// Worker 2 depends on A's batch; the engine gates
	// the update until the effect arrived.
	clockB, err := services["worker-2"].Update([]crdt.Update{
		{Key: key, Op: crdt.OpIncrement, Arg: int64(10)},
	}, clockA)
	require.Nil(t, err)

	clockC, err := services["worker-3"].Update([]crdt.Update{
		{Key: key, Op: crdt.OpIncrement, Arg: int64(100)},
	}, clockB)
	require.Nil(t, err)

	assert.Equal(t, comm.OrdBefore, clockA.Compare(clockB))
	assert.Equal(t, comm.OrdBefore, clockB.Compare(clockC))

	for name, svc := range services {

		instance := svc
		require.Eventually(t, func() bool {
			return counterValue(t, instance, key) == 111
		}, 5*time.Second, 10*time.Millisecond, "chain sum missing on %s", name)
	}
}

// TestRecoveryReplaysOriginalEffects checks that WAL
// replay applies the effects that were produced and
// broadcast before a crash, not freshly minted ones. A
// peer that received the pre-crash add must see the
// post-crash remove cancel exactly that add's token,
// otherwise the two replicas diverge forever.
func TestRecoveryReplaysOriginalEffects(t *testing.T) {

	dir := t.TempDir()
	setKey := crdt.Key{Namespace: "test", Type: crdt.TypeAWSet, ID: "s"}

	svc, bcast := newTestService(t, "worker-1", dir, Options{})

	_, err := svc.Update([]crdt.Update{
		{Key: setKey, Op: crdt.OpAdd, Arg: "x"},
	}, nil)
	require.Nil(t, err)

	// The peer's view: the add envelope as broadcast
	// before the crash.
	addEnv := <-bcast

	// Crash before any further snapshot.
	impl := svc.(*service)
	close(impl.shutdown)
	<-impl.done
	require.Nil(t, impl.wal.Close())
	require.Nil(t, impl.snapshots.Close())

	// Restart and remove "x" on the recovered replica.
	recovered, recoveredBcast := newTestService(t, "worker-1", dir, Options{})
	defer recovered.Close()

	results, _, err := recovered.Read([]crdt.Key{setKey}, nil)
	require.Nil(t, err)
	require.Equal(t, []string{"x"}, results[0].Value.([]string))

	_, err = recovered.Update([]crdt.Update{
		{Key: setKey, Op: crdt.OpRemove, Arg: "x"},
	}, nil)
	require.Nil(t, err)

	rmvEnv := <-recoveredBcast

	// The peer applies both envelopes. The remove must
	// cancel the very token the pre-crash add minted.
	peer := crdt.NewAWSet()

	for _, env := range []comm.Envelope{addEnv, rmvEnv} {

		for _, ee := range env.Effects {
			eff, err := crdt.DecodeEffect(ee.Effect)
			require.Nil(t, err)
			require.Nil(t, peer.Apply(eff))
		}
	}

	assert.Equal(t, 0, len(peer.Value().([]string)))
}

// TestRecoveryFromSnapshotAndLog replays the crash
// recovery scenario: 105 increments, a crash without a
// final snapshot, and a restart that rebuilds the value
// from the snapshot at 100 plus 5 replayed records.
func TestRecoveryFromSnapshotAndLog(t *testing.T) {

	dir := t.TempDir()

	svc, _ := newTestService(t, "worker-1", dir, Options{})

	for i := 0; i < 105; i++ {

		_, err := svc.Update([]crdt.Update{
			{Key: counterKey("c"), Op: crdt.OpIncrement},
		}, nil)
		require.Nil(t, err)
	}

	// Simulate a crash: stop the actor and release the
	// artefacts without the final snapshot Close writes.
	impl := svc.(*service)
	close(impl.shutdown)
	<-impl.done
	require.Nil(t, impl.wal.Close())
	require.Nil(t, impl.snapshots.Close())

	// The snapshot on disk covers sequence 100 only.
	snapshots, err := storage.OpenSnapshotStore(filepath.Join(dir, "snapshot.db"))
	require.Nil(t, err)
	snap, found, err := snapshots.Load()
	require.Nil(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(100), snap.Sequence)
	require.Nil(t, snapshots.Close())

	// Restart from the same artefacts.
	recovered, _ := newTestService(t, "worker-1", dir, Options{})
	defer recovered.Close()

	assert.Equal(t, int64(105), counterValue(t, recovered, counterKey("c")))

	_, merged, err := recovered.Read(nil, nil)
	require.Nil(t, err)
	assert.Equal(t, uint64(105), merged.Get("worker-1"))

	// The recovered replica continues where it stopped.
	newClock, err := recovered.Update([]crdt.Update{
		{Key: counterKey("c"), Op: crdt.OpIncrement},
	}, nil)
	require.Nil(t, err)
	assert.Equal(t, uint64(106), newClock.Get("worker-1"))
	assert.Equal(t, int64(106), counterValue(t, recovered, counterKey("c")))
}
