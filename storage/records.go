package storage

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/lawRathod/minidote/comm"
	"github.com/lawRathod/minidote/crdt"
)

// Structs

// EffectRecord pairs the key of one update with the
// encoded effect the batch produced for it at the
// origin.
type EffectRecord struct {
	Key    crdt.Key `msgpack:"key"`
	Effect []byte   `msgpack:"effect"`
}

// Record is one entry of the operation log: the batch a
// client submitted, the effects its downstream parts
// produced, the sequence number the engine assigned to
// it and the replica's clock after applying it. Recovery
// re-applies the recorded effects, never the batch's
// operations: downstream parts of token-minting types
// draw fresh randomness, so re-running them would hand
// replayed adds different tokens than the ones already
// broadcast before a crash. Applying the effects to a
// state that reflects the preceding sequence reproduces
// the state at this one exactly.
type Record struct {
	Sequence   uint64         `msgpack:"sequence"`
	Batch      []crdt.Update  `msgpack:"batch"`
	Effects    []EffectRecord `msgpack:"effects"`
	ClockAfter comm.VClock    `msgpack:"clock_after"`
}

// ObjectRecord is one stored object in a snapshot: its
// key, the encoded CRDT state and the per-key version
// counter.
type ObjectRecord struct {
	Key     crdt.Key `msgpack:"key"`
	State   []byte   `msgpack:"state"`
	Version uint64   `msgpack:"version"`
}

// Snapshot is the single overwriting checkpoint record:
// the full object map, the replica clock and the log
// sequence the snapshot reflects. Log records with a
// sequence beyond it are replayed on recovery, everything
// at or below it is covered.
type Snapshot struct {
	Objects  []ObjectRecord `msgpack:"objects"`
	Clock    comm.VClock    `msgpack:"clock"`
	Sequence uint64         `msgpack:"sequence"`
}

// Functions

// EncodeRecord marshals a log record.
func EncodeRecord(rec *Record) ([]byte, error) {

	data, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling log record")
	}

	return data, nil
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) (*Record, error) {

	rec := &Record{}

	if err := msgpack.Unmarshal(data, rec); err != nil {
		return nil, errors.Wrap(err, "unmarshalling log record")
	}

	rec.ClockAfter = comm.Normalize(rec.ClockAfter)

	return rec, nil
}
