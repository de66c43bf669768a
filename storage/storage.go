// Package storage contains all the artifacts that are persisted by the
// pipeline, and an abstraction of the queues the background workers consume.
// It is a prefixed key-value store; the following prefixes are used:
//   - 'sb/' for submissions
//   - 'nf/' for nullifier records
//   - 'vq/' for the verification queue (queued)
//   - 'vr/' for verification reservations
//   - 'dq/' for the delivery queue (queued)
//   - 'dr/' for delivery reservations
//   - 'ic/' for approved identity claims
//
// Queue entries hold only submission IDs; the submission row under 'sb/' is
// the single source of truth for status. All multi-key updates happen under
// the global lock and inside one write transaction.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

var (
	// Prefixes for the keys in the database.
	submissionPrefix     = []byte("sb/")
	nullifierPrefix      = []byte("nf/")
	verifQueuePrefix     = []byte("vq/")
	verifReservPrefix    = []byte("vr/")
	deliveryQueuePrefix  = []byte("dq/")
	deliveryReservPrefix = []byte("dr/")
	claimPrefix          = []byte("ic/")
)

var (
	// ErrNotFound is returned when the artifact is not in the database.
	ErrNotFound = fmt.Errorf("artifact not found")
	// ErrNoMoreElements is returned by queue getters when every entry is
	// consumed or reserved.
	ErrNoMoreElements = fmt.Errorf("no more elements in queue")
	// ErrNullifierUsed is returned when the (nullifier, action domain) pair
	// has already been registered by a previous submission.
	ErrNullifierUsed = fmt.Errorf("nullifier already used for this action domain")
	// ErrBadStatusTransition is returned when a submission is moved to a
	// status its current status does not allow.
	ErrBadStatusTransition = fmt.Errorf("invalid submission status transition")
)

// Storage is the interface that wraps the basic methods to interact with the
// storage.
type Storage struct {
	db         db.Database
	globalLock sync.Mutex
}

// New creates a new Storage instance.
func New(db db.Database) *Storage {
	return &Storage{db: db}
}

// Close closes the storage.
func (s *Storage) Close() {
	s.db.Close()
}

// setArtifact encodes and stores an artifact under prefix/key.
func (s *Storage) setArtifact(prefix, key []byte, artifact any) error {
	val, err := encodeArtifact(artifact)
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Set(key, val); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

// getArtifact loads and decodes the artifact at prefix/key into out.
func (s *Storage) getArtifact(prefix, key []byte, out any) error {
	rd := prefixeddb.NewPrefixedReader(s.db, prefix)
	val, err := rd.Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return decodeArtifact(val, out)
}

// deleteArtifact removes the artifact at prefix/key.
func (s *Storage) deleteArtifact(prefix, key []byte) error {
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Delete(key); err != nil {
		wTx.Discard()
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return wTx.Commit()
}

// isReserved reports whether a queue entry has an active reservation.
func (s *Storage) isReserved(reservPrefix, key []byte) bool {
	rd := prefixeddb.NewPrefixedReader(s.db, reservPrefix)
	_, err := rd.Get(key)
	return err == nil
}

// setReservation marks a queue entry as being worked on.
func (s *Storage) setReservation(reservPrefix, key []byte) error {
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), reservPrefix)
	if err := wTx.Set(key, []byte{1}); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}
