package storage

import (
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

// Variables

var snapshotBucket = []byte("snapshot")
var snapshotKey = []byte("state")

// Structs

// SnapshotStore keeps the single snapshot record of a
// replica in a bbolt file. Saving overwrites the record
// in place inside one transaction, so a crash during a
// save leaves the previous snapshot intact.
type SnapshotStore struct {
	db *bolt.DB
}

// Functions

// OpenSnapshotStore opens (or creates) the snapshot file
// at path.
func OpenSnapshotStore(path string) (*SnapshotStore, error) {

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "opening snapshot store")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "preparing snapshot bucket")
	}

	return &SnapshotStore{db: db}, nil
}

// Save overwrites the stored snapshot with snap.
func (store *SnapshotStore) Save(snap *Snapshot) error {

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshalling snapshot")
	}

	err = store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put(snapshotKey, data)
	})

	return errors.Wrap(err, "writing snapshot")
}

// Load returns the stored snapshot. The boolean is false
// when no snapshot has been written yet.
func (store *SnapshotStore) Load() (*Snapshot, bool, error) {

	var data []byte

	err := store.db.View(func(tx *bolt.Tx) error {

		stored := tx.Bucket(snapshotBucket).Get(snapshotKey)
		if stored != nil {
			data = make([]byte, len(stored))
			copy(data, stored)
		}

		return nil
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "reading snapshot")
	}

	if data == nil {
		return nil, false, nil
	}

	snap := &Snapshot{}
	if err := msgpack.Unmarshal(data, snap); err != nil {
		return nil, false, errors.Wrap(err, "unmarshalling snapshot")
	}

	return snap, true, nil
}

// Close closes the underlying bbolt file.
func (store *SnapshotStore) Close() error {
	return store.db.Close()
}
