package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "results"

// BoltBackend keeps cache entries in a bbolt bucket keyed by cache key
type BoltBackend struct {
	db *bbolt.DB
}

// NewBoltBackend opens or creates the database at path
func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

// NewBolt creates a persistent cache stored in a bbolt database
func NewBolt(path string, opts Options) (*Cache, error) {
	backend, err := NewBoltBackend(path)
	if err != nil {
		return nil, err
	}
	c, err := NewWithBackend(backend, opts)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return c, nil
}

// Load returns every decodable entry
func (b *BoltBackend) Load() ([]*Item, error) {
	var raws []json.RawMessage
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			raws = append(raws, append([]byte(nil), v...))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading cache entries: %w", err)
	}
	return decodeEntries(raws), nil
}

// Save replaces the bucket contents with entries in one transaction
func (b *BoltBackend) Save(entries []*Item) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil && err != bbolt.ErrBucketNotFound {
			return fmt.Errorf("resetting bucket: %w", err)
		}
		bucket, err := tx.CreateBucket([]byte(bucketName))
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshaling cache entry: %w", err)
			}
			if err := bucket.Put([]byte(e.Key), data); err != nil {
				return err
			}
		}
		slog.Debug("Cache index saved", "entries", len(entries))
		return nil
	})
}

// Close closes the database
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
