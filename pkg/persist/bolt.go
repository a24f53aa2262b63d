package persist

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vango-dev/swr/pkg/swr"
)

// boltBucket is the single bucket all entries live in.
var boltBucket = []byte("swr")

// BoltPersister stores entries in a local bbolt file. It is the right
// backend for a single process that wants its cache back after a
// restart.
type BoltPersister struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database file at path.
func OpenBolt(path string) (*BoltPersister, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltPersister{db: db}, nil
}

// Close closes the underlying database.
func (b *BoltPersister) Close() error {
	return b.db.Close()
}

func (b *BoltPersister) Save(ctx context.Context, key swr.Key, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(objectKey(key)), data)
	})
}

func (b *BoltPersister) Load(ctx context.Context, key swr.Key) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get([]byte(objectKey(key)))
		if v != nil {
			// The value is only valid inside the transaction.
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (b *BoltPersister) Delete(ctx context.Context, key swr.Key) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(objectKey(key)))
	})
}
