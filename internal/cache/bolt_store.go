package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"labsync/pkg/types"
)

var bucketCache = []byte("cache_entries")

// BoltStore keeps the persistent tier in a single bbolt bucket
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the bolt file at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCache)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(ctx context.Context) (map[string]types.CacheRecord, error) {
	entries := make(map[string]types.CacheRecord)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCache)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec types.CacheRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode entry %s: %w", k, err)
			}
			entries[string(k)] = rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Save drops and recreates the bucket inside one Update transaction
func (s *BoltStore) Save(ctx context.Context, entries map[string]types.CacheRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketCache); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to clear cache bucket: %w", err)
		}
		b, err := tx.CreateBucket(bucketCache)
		if err != nil {
			return fmt.Errorf("failed to create cache bucket: %w", err)
		}
		for key, rec := range entries {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to encode entry %s: %w", key, err)
			}
			if err := b.Put([]byte(key), data); err != nil {
				return fmt.Errorf("failed to store entry %s: %w", key, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
