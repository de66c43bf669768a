package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/vocdoni/district-pipeline/types"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// allowedTransitions is the submission status machine. Terminal statuses
// have no outgoing edges.
var allowedTransitions = map[types.SubmissionStatus][]types.SubmissionStatus{
	types.SubmissionPending: {
		types.SubmissionVerified,
		types.SubmissionVerificationFailed,
	},
	types.SubmissionVerified: {
		types.SubmissionDelivered,
		types.SubmissionDeliveryFailed,
	},
}

func transitionAllowed(from, to types.SubmissionStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CreateSubmission registers the nullifier and persists the submission in
// pending status, enqueued for verification. The nullifier check, the
// nullifier record, the submission row and the queue entry are committed in
// one transaction, so two submissions racing on the same (nullifier, action
// domain) pair cannot both succeed: the loser gets ErrNullifierUsed and
// nothing is stored for it.
func (s *Storage) CreateSubmission(sub *Submission) error {
	if sub.ID == "" {
		return fmt.Errorf("submission has no ID")
	}
	if sub.PublicInputs == nil {
		return fmt.Errorf("submission has no public inputs")
	}

	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	nk := nullifierKey(sub.PublicInputs.Nullifier, sub.PublicInputs.ActionDomain)
	if _, err := prefixeddb.NewPrefixedReader(s.db, nullifierPrefix).Get(nk); err == nil {
		return ErrNullifierUsed
	} else if !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}

	now := time.Now()
	sub.Status = types.SubmissionPending
	sub.CreatedAt = now
	sub.UpdatedAt = now

	subVal, err := encodeArtifact(sub)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	recVal, err := encodeArtifact(&NullifierRecord{
		Nullifier:    sub.PublicInputs.Nullifier,
		ActionDomain: sub.PublicInputs.ActionDomain,
		SubmissionID: sub.ID,
		RegisteredAt: now,
	})
	if err != nil {
		return fmt.Errorf("encode nullifier record: %w", err)
	}

	wTx := s.db.WriteTx()
	defer wTx.Discard()
	if err := prefixeddb.NewPrefixedWriteTx(wTx, nullifierPrefix).Set(nk, recVal); err != nil {
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, submissionPrefix).Set([]byte(sub.ID), subVal); err != nil {
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, verifQueuePrefix).Set([]byte(sub.ID), []byte(sub.ID)); err != nil {
		return err
	}
	return wTx.Commit()
}

// Submission loads a submission by ID. Returns ErrNotFound if it does not
// exist.
func (s *Storage) Submission(id string) (*Submission, error) {
	var sub Submission
	if err := s.getArtifact(submissionPrefix, []byte(id), &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// NullifierRecord loads the record of a (nullifier, action domain) pair.
func (s *Storage) NullifierRecord(nullifier, actionDomain types.HexBytes) (*NullifierRecord, error) {
	var rec NullifierRecord
	if err := s.getArtifact(nullifierPrefix, nullifierKey(nullifier, actionDomain), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// nextQueued returns the next non-reserved entry of a queue and reserves it.
func (s *Storage) nextQueued(queuePrefix, reservPrefix []byte) (*Submission, []byte, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	pr := prefixeddb.NewPrefixedReader(s.db, queuePrefix)
	var chosenKey []byte
	if err := pr.Iterate(nil, func(k, _ []byte) bool {
		if s.isReserved(reservPrefix, k) {
			return true
		}
		chosenKey = append([]byte(nil), k...)
		return false
	}); err != nil {
		return nil, nil, fmt.Errorf("iterate queue: %w", err)
	}
	if chosenKey == nil {
		return nil, nil, ErrNoMoreElements
	}

	var sub Submission
	if err := s.getArtifact(submissionPrefix, chosenKey, &sub); err != nil {
		return nil, nil, fmt.Errorf("load queued submission: %w", err)
	}
	if err := s.setReservation(reservPrefix, chosenKey); err != nil {
		return nil, nil, ErrNoMoreElements
	}
	return &sub, chosenKey, nil
}

// NextVerification returns the next submission awaiting proof verification,
// creating a reservation for it. Returns ErrNoMoreElements when the queue is
// drained.
func (s *Storage) NextVerification() (*Submission, []byte, error) {
	return s.nextQueued(verifQueuePrefix, verifReservPrefix)
}

// NextDelivery returns the next verified submission awaiting delivery,
// creating a reservation for it.
func (s *Storage) NextDelivery() (*Submission, []byte, error) {
	return s.nextQueued(deliveryQueuePrefix, deliveryReservPrefix)
}

// updateSubmission applies mutate to the stored row inside the caller's
// transaction, enforcing the status machine.
func (s *Storage) updateSubmission(wTx db.WriteTx, id string, newStatus types.SubmissionStatus,
	mutate func(*Submission),
) (*Submission, error) {
	var sub Submission
	if err := s.getArtifact(submissionPrefix, []byte(id), &sub); err != nil {
		return nil, err
	}
	if !transitionAllowed(sub.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadStatusTransition, sub.Status, newStatus)
	}
	sub.Status = newStatus
	sub.UpdatedAt = time.Now()
	if mutate != nil {
		mutate(&sub)
	}
	val, err := encodeArtifact(&sub)
	if err != nil {
		return nil, err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, submissionPrefix).Set([]byte(id), val); err != nil {
		return nil, err
	}
	return &sub, nil
}

// MarkVerified moves a reserved submission from the verification queue to
// the delivery queue, recording the reference returned by the verification
// authority (empty when verification ran locally).
func (s *Storage) MarkVerified(key []byte, externalTxRef string) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	wTx := s.db.WriteTx()
	defer wTx.Discard()
	if _, err := s.updateSubmission(wTx, string(key), types.SubmissionVerified, func(sub *Submission) {
		sub.ExternalTxRef = externalTxRef
	}); err != nil {
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, verifQueuePrefix).Delete(key); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, verifReservPrefix).Delete(key); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, deliveryQueuePrefix).Set(key, key); err != nil {
		return err
	}
	return wTx.Commit()
}

// MarkVerificationFailed records a terminal verification failure and removes
// the submission from the verification queue. The nullifier record is kept:
// a failed submission still consumes its pair.
func (s *Storage) MarkVerificationFailed(key []byte, reason string) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	wTx := s.db.WriteTx()
	defer wTx.Discard()
	if _, err := s.updateSubmission(wTx, string(key), types.SubmissionVerificationFailed, func(sub *Submission) {
		sub.FailureReason = reason
	}); err != nil {
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, verifQueuePrefix).Delete(key); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, verifReservPrefix).Delete(key); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}
	return wTx.Commit()
}

// MarkDelivered records a successful delivery and removes the submission
// from the delivery queue.
func (s *Storage) MarkDelivered(key []byte, deliveryRef string) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	wTx := s.db.WriteTx()
	defer wTx.Discard()
	if _, err := s.updateSubmission(wTx, string(key), types.SubmissionDelivered, func(sub *Submission) {
		sub.DeliveryAttempts++
		sub.DeliveryRef = deliveryRef
	}); err != nil {
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, deliveryQueuePrefix).Delete(key); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, deliveryReservPrefix).Delete(key); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}
	return wTx.Commit()
}

// MarkDeliveryFailed records a terminal delivery failure. The submission
// stays verified on the ledger side but leaves the delivery queue; it can be
// re-enqueued explicitly with RequeueDelivery.
func (s *Storage) MarkDeliveryFailed(key []byte, reason string) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	wTx := s.db.WriteTx()
	defer wTx.Discard()
	if _, err := s.updateSubmission(wTx, string(key), types.SubmissionDeliveryFailed, func(sub *Submission) {
		sub.DeliveryAttempts++
		sub.FailureReason = reason
	}); err != nil {
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, deliveryQueuePrefix).Delete(key); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, deliveryReservPrefix).Delete(key); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}
	return wTx.Commit()
}

// ReleaseDelivery drops the reservation of a delivery queue entry, keeping
// it queued and incrementing the attempt counter. Used for transient
// delivery failures that should be retried later.
func (s *Storage) ReleaseDelivery(key []byte) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	wTx := s.db.WriteTx()
	defer wTx.Discard()

	var sub Submission
	if err := s.getArtifact(submissionPrefix, key, &sub); err != nil {
		return err
	}
	sub.DeliveryAttempts++
	sub.UpdatedAt = time.Now()
	val, err := encodeArtifact(&sub)
	if err != nil {
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, submissionPrefix).Set(key, val); err != nil {
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, deliveryReservPrefix).Delete(key); err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return err
	}
	return wTx.Commit()
}

// RequeueDelivery puts a delivery_failed submission back into the delivery
// queue, in verified status again.
func (s *Storage) RequeueDelivery(id string) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	var sub Submission
	if err := s.getArtifact(submissionPrefix, []byte(id), &sub); err != nil {
		return err
	}
	if sub.Status != types.SubmissionDeliveryFailed {
		return fmt.Errorf("%w: %s -> %s", ErrBadStatusTransition, sub.Status, types.SubmissionVerified)
	}
	sub.Status = types.SubmissionVerified
	sub.FailureReason = ""
	sub.UpdatedAt = time.Now()
	val, err := encodeArtifact(&sub)
	if err != nil {
		return err
	}

	wTx := s.db.WriteTx()
	defer wTx.Discard()
	if err := prefixeddb.NewPrefixedWriteTx(wTx, submissionPrefix).Set([]byte(id), val); err != nil {
		return err
	}
	if err := prefixeddb.NewPrefixedWriteTx(wTx, deliveryQueuePrefix).Set([]byte(id), []byte(id)); err != nil {
		return err
	}
	return wTx.Commit()
}
