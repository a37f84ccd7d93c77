// Package boltdb implements the record store on BoltDB. Records are
// stored as JSON in a flat bucket keyed by ID, with a nested per-session
// index bucket so session-scoped reads never touch other sessions' keys.
package boltdb

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/session"
)

var (
	bucketRecords  = []byte("records")
	bucketSessions = []byte("sessions")
)

// Store is a BoltDB backed ltm.RecordStore.
type Store struct {
	db *bolt.DB
}

// New wraps an open BoltDB handle and creates the buckets it needs.
func New(db *bolt.DB) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRecords); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "initializing buckets")
	}

	log.Debug("Initialized BoltDB record store",
		"db_path", db.Path(),
		"read_only", db.IsReadOnly(),
	)
	return &Store{db: db}, nil
}

// Open opens (or creates) the database file at path and wraps it.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "opening bolt database at %s", path)
	}
	store, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Put persists a record and registers it in its session's index bucket.
func (s *Store) Put(ctx context.Context, record ltm.MemoryRecord) error {
	if record.ID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "record ID is required")
	}
	record.SessionID = session.Normalize(record.SessionID)

	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshaling record %s", record.ID)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketRecords).Put([]byte(record.ID), data); err != nil {
			return err
		}
		index, err := tx.Bucket(bucketSessions).CreateBucketIfNotExists([]byte(record.SessionID))
		if err != nil {
			return err
		}
		return index.Put([]byte(record.ID), nil)
	})
	return errors.Wrap(err, "storing record %s", record.ID)
}

// Get fetches a record by ID.
func (s *Store) Get(ctx context.Context, id string) (ltm.MemoryRecord, error) {
	var record ltm.MemoryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(id))
		if data == nil {
			return errors.Wrap(errors.ErrNotFound, "record %s", id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return ltm.MemoryRecord{}, err
	}
	return record, nil
}

// List returns the session's records ordered by creation time.
func (s *Store) List(ctx context.Context, sessionID session.ID) ([]ltm.MemoryRecord, error) {
	sessionID = session.Normalize(sessionID)

	var records []ltm.MemoryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketSessions).Bucket([]byte(sessionID))
		if index == nil {
			return nil
		}
		all := tx.Bucket(bucketRecords)
		return index.ForEach(func(id, _ []byte) error {
			data := all.Get(id)
			if data == nil {
				// index entry without a record; skip rather than fail the list
				return nil
			}
			var record ltm.MemoryRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return errors.Wrap(err, "unmarshaling record %s", id)
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing session %s", sessionID)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// FindByHash returns the session's record with the given content hash.
func (s *Store) FindByHash(ctx context.Context, sessionID session.ID, hash string) (*ltm.MemoryRecord, error) {
	sessionID = session.Normalize(sessionID)

	var found *ltm.MemoryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketSessions).Bucket([]byte(sessionID))
		if index == nil {
			return nil
		}
		all := tx.Bucket(bucketRecords)
		return index.ForEach(func(id, _ []byte) error {
			if found != nil {
				return nil
			}
			data := all.Get(id)
			if data == nil {
				return nil
			}
			var record ltm.MemoryRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return errors.Wrap(err, "unmarshaling record %s", id)
			}
			if record.ContentHash == hash {
				found = &record
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "finding by hash in session %s", sessionID)
	}
	return found, nil
}

// ListExpired returns records across all sessions whose TTL passed.
func (s *Store) ListExpired(ctx context.Context, now time.Time) ([]ltm.MemoryRecord, error) {
	var expired []ltm.MemoryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(id, data []byte) error {
			var record ltm.MemoryRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return errors.Wrap(err, "unmarshaling record %s", id)
			}
			if record.Expired(now) {
				expired = append(expired, record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing expired records")
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

// Delete removes a record by ID. A missing record is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		all := tx.Bucket(bucketRecords)
		data := all.Get([]byte(id))
		if data == nil {
			return nil
		}
		var record ltm.MemoryRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return errors.Wrap(err, "unmarshaling record %s", id)
		}
		if index := tx.Bucket(bucketSessions).Bucket([]byte(record.SessionID)); index != nil {
			if err := index.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return all.Delete([]byte(id))
	})
	return errors.Wrap(err, "deleting record %s", id)
}

// DeleteSession removes all records belonging to a session.
func (s *Store) DeleteSession(ctx context.Context, sessionID session.ID) error {
	sessionID = session.Normalize(sessionID)

	err := s.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		index := sessions.Bucket([]byte(sessionID))
		if index == nil {
			return nil
		}
		all := tx.Bucket(bucketRecords)
		err := index.ForEach(func(id, _ []byte) error {
			return all.Delete(id)
		})
		if err != nil {
			return err
		}
		return sessions.DeleteBucket([]byte(sessionID))
	})
	return errors.Wrap(err, "deleting session %s", sessionID)
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ ltm.RecordStore = (*Store)(nil)
