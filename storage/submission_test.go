package storage

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	"github.com/vocdoni/district-pipeline/types"
	"go.vocdoni.io/dvote/db/metadb"
)

func testSubmission(nullifier, domain byte) *Submission {
	return &Submission{
		ID:         uuid.New().String(),
		DistrictID: "district-7",
		Depth:      20,
		Proof:      json.RawMessage(`{"pi_a":[],"pi_b":[],"pi_c":[]}`),
		PublicInputs: &types.PublicInputs{
			MerkleRoot:     types.HexBytes{0x01},
			Nullifier:      types.HexBytes{nullifier},
			AuthorityLevel: 3,
			ActionDomain:   types.HexBytes{domain},
			DistrictField:  types.HexBytes{0x02},
		},
		SealedWitness: types.HexBytes{0xaa},
		SealedMessage: types.HexBytes{0xbb},
	}
}

func TestCreateAndLoadSubmission(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	sub := testSubmission(0x10, 0x20)
	c.Assert(s.CreateSubmission(sub), qt.IsNil)
	c.Assert(sub.Status, qt.Equals, types.SubmissionPending)

	loaded, err := s.Submission(sub.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.DistrictID, qt.Equals, "district-7")
	c.Assert(loaded.Status, qt.Equals, types.SubmissionPending)
	c.Assert(loaded.PublicInputs.AuthorityLevel, qt.Equals, 3)

	_, err = s.Submission("no-such-id")
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	// the nullifier record points back to the submission
	rec, err := s.NullifierRecord(sub.PublicInputs.Nullifier, sub.PublicInputs.ActionDomain)
	c.Assert(err, qt.IsNil)
	c.Assert(rec.SubmissionID, qt.Equals, sub.ID)
}

func TestNullifierDoubleAction(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	c.Assert(s.CreateSubmission(testSubmission(0x10, 0x20)), qt.IsNil)

	// same pair is rejected, nothing stored for the loser
	dup := testSubmission(0x10, 0x20)
	c.Assert(s.CreateSubmission(dup), qt.ErrorIs, ErrNullifierUsed)
	_, err := s.Submission(dup.ID)
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	// same nullifier under another action domain is fine
	c.Assert(s.CreateSubmission(testSubmission(0x10, 0x21)), qt.IsNil)
	// and another nullifier under the same domain too
	c.Assert(s.CreateSubmission(testSubmission(0x11, 0x20)), qt.IsNil)
}

func TestNullifierRaceSingleWinner(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.CreateSubmission(testSubmission(0x42, 0x43))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			c.Assert(err, qt.ErrorIs, ErrNullifierUsed)
		}
	}
	c.Assert(winners, qt.Equals, 1)
}

func TestVerificationQueueFlow(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	sub := testSubmission(0x10, 0x20)
	c.Assert(s.CreateSubmission(sub), qt.IsNil)

	next, key, err := s.NextVerification()
	c.Assert(err, qt.IsNil)
	c.Assert(next.ID, qt.Equals, sub.ID)

	// reserved: a second worker sees an empty queue
	_, _, err = s.NextVerification()
	c.Assert(err, qt.ErrorIs, ErrNoMoreElements)

	c.Assert(s.MarkVerified(key, "vtx-1"), qt.IsNil)
	loaded, err := s.Submission(sub.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.Status, qt.Equals, types.SubmissionVerified)
	c.Assert(loaded.ExternalTxRef, qt.Equals, "vtx-1")

	// verification success enqueues delivery
	dnext, dkey, err := s.NextDelivery()
	c.Assert(err, qt.IsNil)
	c.Assert(dnext.ID, qt.Equals, sub.ID)

	c.Assert(s.MarkDelivered(dkey, "receipt-1"), qt.IsNil)
	loaded, err = s.Submission(sub.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.Status, qt.Equals, types.SubmissionDelivered)
	c.Assert(loaded.DeliveryRef, qt.Equals, "receipt-1")
	c.Assert(loaded.DeliveryAttempts, qt.Equals, 1)
	// the verification reference survives delivery
	c.Assert(loaded.ExternalTxRef, qt.Equals, "vtx-1")

	_, _, err = s.NextDelivery()
	c.Assert(err, qt.ErrorIs, ErrNoMoreElements)
}

func TestVerificationFailureIsTerminal(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	sub := testSubmission(0x10, 0x20)
	c.Assert(s.CreateSubmission(sub), qt.IsNil)

	_, key, err := s.NextVerification()
	c.Assert(err, qt.IsNil)
	c.Assert(s.MarkVerificationFailed(key, "proof rejected"), qt.IsNil)

	loaded, err := s.Submission(sub.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.Status, qt.Equals, types.SubmissionVerificationFailed)
	c.Assert(loaded.FailureReason, qt.Equals, "proof rejected")

	// never reaches the delivery queue
	_, _, err = s.NextDelivery()
	c.Assert(err, qt.ErrorIs, ErrNoMoreElements)

	// terminal: no further transitions
	c.Assert(s.MarkVerified(key, ""), qt.ErrorIs, ErrBadStatusTransition)
	c.Assert(s.MarkDelivered(key, "x"), qt.ErrorIs, ErrBadStatusTransition)

	// the nullifier pair stays consumed
	c.Assert(s.CreateSubmission(testSubmission(0x10, 0x20)), qt.ErrorIs, ErrNullifierUsed)
}

func TestDeliveryRetryAndRequeue(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	sub := testSubmission(0x10, 0x20)
	c.Assert(s.CreateSubmission(sub), qt.IsNil)
	_, key, err := s.NextVerification()
	c.Assert(err, qt.IsNil)
	c.Assert(s.MarkVerified(key, ""), qt.IsNil)

	// transient failure: released entry is picked up again
	_, dkey, err := s.NextDelivery()
	c.Assert(err, qt.IsNil)
	c.Assert(s.ReleaseDelivery(dkey), qt.IsNil)
	_, dkey, err = s.NextDelivery()
	c.Assert(err, qt.IsNil)

	// terminal failure leaves the queue
	c.Assert(s.MarkDeliveryFailed(dkey, "receiver gone"), qt.IsNil)
	_, _, err = s.NextDelivery()
	c.Assert(err, qt.ErrorIs, ErrNoMoreElements)
	loaded, err := s.Submission(sub.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.Status, qt.Equals, types.SubmissionDeliveryFailed)
	c.Assert(loaded.DeliveryAttempts, qt.Equals, 2)

	// operator requeue puts it back in verified status
	c.Assert(s.RequeueDelivery(sub.ID), qt.IsNil)
	loaded, err = s.Submission(sub.ID)
	c.Assert(err, qt.IsNil)
	c.Assert(loaded.Status, qt.Equals, types.SubmissionVerified)
	c.Assert(loaded.FailureReason, qt.Equals, "")
	_, _, err = s.NextDelivery()
	c.Assert(err, qt.IsNil)

	// requeue only applies to delivery_failed
	c.Assert(s.RequeueDelivery(sub.ID), qt.ErrorIs, ErrBadStatusTransition)
}

func TestQueueOrderIsStable(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	var ids []string
	for i := 0; i < 5; i++ {
		sub := testSubmission(byte(i), 0x20)
		sub.ID = fmt.Sprintf("%02d-%s", i, sub.ID)
		c.Assert(s.CreateSubmission(sub), qt.IsNil)
		ids = append(ids, sub.ID)
	}
	// lexicographic key order
	for _, want := range ids {
		next, key, err := s.NextVerification()
		c.Assert(err, qt.IsNil)
		c.Assert(next.ID, qt.Equals, want)
		c.Assert(s.MarkVerified(key, ""), qt.IsNil)
	}
}

func TestApprovedClaims(t *testing.T) {
	c := qt.New(t)
	s := New(metadb.NewTest(t))

	_, err := s.ApprovedClaim("subject-1")
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	c.Assert(s.SetApprovedClaim(&ApprovedClaim{
		SubjectID:      "subject-1",
		DocumentType:   "passport",
		AuthorityLevel: 4,
	}), qt.IsNil)

	claim, err := s.ApprovedClaim("subject-1")
	c.Assert(err, qt.IsNil)
	c.Assert(claim.AuthorityLevel, qt.Equals, 4)
}
