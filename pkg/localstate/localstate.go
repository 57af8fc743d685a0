// Package localstate persists small pieces of supervisor state that should
// survive a process restart: the adaptive broker-start wait timeout and the
// last-known coordination-store connection string.
package localstate

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("supervisor")

const (
	keyWaitTimeout = "wait_timeout_seconds"
	keyConnString  = "last_conn_string"
)

// Store is a bbolt-backed key-value store for supervisor-local state.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the local state database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open local state db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create supervisor bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WaitTimeout returns the persisted adaptive wait_timeout, or fallback if
// none has been saved yet.
func (s *Store) WaitTimeout(fallback time.Duration) time.Duration {
	var seconds float64
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(keyWaitTimeout))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &seconds)
	})
	if err != nil || seconds == 0 {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}

// SaveWaitTimeout persists the adaptive wait_timeout so it survives a
// supervisor restart.
func (s *Store) SaveWaitTimeout(d time.Duration) error {
	data, err := json.Marshal(d.Seconds())
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(keyWaitTimeout), data)
	})
}

// LastConnString returns the last-known coordination store connection
// string, or "" if none has been saved.
func (s *Store) LastConnString() string {
	var connString string
	_ = s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(keyConnString))
		if raw == nil {
			return nil
		}
		connString = string(raw)
		return nil
	})
	return connString
}

// SaveConnString persists the last-known coordination store connection
// string.
func (s *Store) SaveConnString(connString string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(keyConnString), []byte(connString))
	})
}
