package storage

import (
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// BoltStore backs Storage with an embedded bbolt database: one bucket per
// namespace (blocks, meta, paxos). meta/committed writes must fsync before
// the caller acknowledges a commit; bbolt's default
// NoSync=false commits a transaction with an fsync of the data file, which
// PutSync relies on directly (Put uses a transaction too, since bbolt has
// no cheaper durability tier worth exposing here).
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if absent) a bbolt database at path and ensures
// every namespace bucket exists.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening bolt store at %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, ns := range []string{NamespaceBlocks, NamespaceMeta, NamespacePaxos} {
			if _, err := tx.CreateBucketIfNotExists([]byte(ns)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating namespace buckets")
	}

	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Get(namespace, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return ErrNotFound
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		out = append(out, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltStore) put(namespace, key string, value []byte, sync bool) error {
	b.db.NoSync = !sync
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			var err error
			bucket, err = tx.CreateBucket([]byte(namespace))
			if err != nil {
				return err
			}
		}
		return bucket.Put([]byte(key), value)
	})
	b.db.NoSync = false
	if err != nil {
		return errors.Wrapf(err, "writing %s/%s", namespace, key)
	}
	return nil
}

func (b *BoltStore) Put(namespace, key string, value []byte) error {
	return b.put(namespace, key, value, false)
}

func (b *BoltStore) PutSync(namespace, key string, value []byte) error {
	return b.put(namespace, key, value, true)
}

func (b *BoltStore) Iterate(namespace string, fn func(key string, value []byte) bool) error {
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			if !fn(string(k), v) {
				return errStopIteration
			}
			return nil
		})
	})
	if err == errStopIteration {
		return nil
	}
	return err
}

var errStopIteration = errors.New("storage: stop iteration")

func (b *BoltStore) Close() error {
	return b.db.Close()
}
