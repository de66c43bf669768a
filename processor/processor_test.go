package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"
	"github.com/vocdoni/district-pipeline/storage"
	"github.com/vocdoni/district-pipeline/types"
	"go.vocdoni.io/dvote/db/metadb"
)

type stubVerifier struct {
	valid bool
	txRef string
	err   error
	calls atomic.Int32
}

func (v *stubVerifier) VerifySubmission(_ context.Context, _ *storage.Submission) (bool, string, error) {
	v.calls.Add(1)
	return v.valid, v.txRef, v.err
}

type stubDeliverer struct {
	failures int32 // fail this many times, then succeed
	calls    atomic.Int32
}

func (d *stubDeliverer) Deliver(_ context.Context, sub *storage.Submission) (string, error) {
	n := d.calls.Add(1)
	if n <= d.failures {
		return "", fmt.Errorf("receiver unavailable")
	}
	return "receipt-" + sub.ID, nil
}

func testSubmission(nullifier byte) *storage.Submission {
	return &storage.Submission{
		ID:         uuid.New().String(),
		DistrictID: "district-7",
		Depth:      20,
		Proof:      json.RawMessage(`{}`),
		PublicInputs: &types.PublicInputs{
			MerkleRoot:     types.HexBytes{0x01},
			Nullifier:      types.HexBytes{nullifier},
			AuthorityLevel: 2,
			ActionDomain:   types.HexBytes{0x03},
			DistrictField:  types.HexBytes{0x04},
		},
	}
}

func waitForStatus(c *qt.C, stg *storage.Storage, id string, want types.SubmissionStatus) *storage.Submission {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sub, err := stg.Submission(id)
		c.Assert(err, qt.IsNil)
		if sub.Status == want {
			return sub
		}
		time.Sleep(20 * time.Millisecond)
	}
	sub, _ := stg.Submission(id)
	c.Fatalf("submission %s stuck in %s, want %s", id, sub.Status, want)
	return nil
}

func TestVerifiedSubmissionIsDelivered(t *testing.T) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(t))

	verifier := &stubVerifier{valid: true, txRef: "vtx-42"}
	deliverer := &stubDeliverer{}
	p := New(
		NewVerifyProcessor(stg, verifier, time.Second),
		NewDeliverProcessor(stg, deliverer, time.Second, 3),
	)
	c.Assert(p.Start(context.Background()), qt.IsNil)
	defer func() { _ = p.Stop() }()

	sub := testSubmission(0x10)
	c.Assert(stg.CreateSubmission(sub), qt.IsNil)

	final := waitForStatus(c, stg, sub.ID, types.SubmissionDelivered)
	c.Assert(final.DeliveryRef, qt.Equals, "receipt-"+sub.ID)
	c.Assert(final.ExternalTxRef, qt.Equals, "vtx-42")
	c.Assert(verifier.calls.Load(), qt.Equals, int32(1))
}

func TestRejectedProofNeverReachesDelivery(t *testing.T) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(t))

	verifier := &stubVerifier{valid: false}
	deliverer := &stubDeliverer{}
	p := New(
		NewVerifyProcessor(stg, verifier, time.Second),
		NewDeliverProcessor(stg, deliverer, time.Second, 3),
	)
	c.Assert(p.Start(context.Background()), qt.IsNil)
	defer func() { _ = p.Stop() }()

	sub := testSubmission(0x11)
	c.Assert(stg.CreateSubmission(sub), qt.IsNil)

	final := waitForStatus(c, stg, sub.ID, types.SubmissionVerificationFailed)
	c.Assert(final.FailureReason, qt.Equals, "proof rejected")
	c.Assert(deliverer.calls.Load(), qt.Equals, int32(0))
}

func TestVerificationErrorIsTerminal(t *testing.T) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(t))

	verifier := &stubVerifier{err: fmt.Errorf("engine exploded")}
	p := New(
		NewVerifyProcessor(stg, verifier, time.Second),
		NewDeliverProcessor(stg, &stubDeliverer{}, time.Second, 3),
	)
	c.Assert(p.Start(context.Background()), qt.IsNil)
	defer func() { _ = p.Stop() }()

	sub := testSubmission(0x12)
	c.Assert(stg.CreateSubmission(sub), qt.IsNil)

	final := waitForStatus(c, stg, sub.ID, types.SubmissionVerificationFailed)
	c.Assert(final.FailureReason, qt.Equals, "engine exploded")
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(t))

	deliverer := &stubDeliverer{failures: 2}
	p := New(
		NewVerifyProcessor(stg, &stubVerifier{valid: true}, time.Second),
		NewDeliverProcessor(stg, deliverer, time.Second, 5),
	)
	c.Assert(p.Start(context.Background()), qt.IsNil)
	defer func() { _ = p.Stop() }()

	sub := testSubmission(0x13)
	c.Assert(stg.CreateSubmission(sub), qt.IsNil)

	final := waitForStatus(c, stg, sub.ID, types.SubmissionDelivered)
	c.Assert(final.DeliveryAttempts, qt.Equals, 3)
	c.Assert(deliverer.calls.Load(), qt.Equals, int32(3))
}

func TestDeliveryGivesUpAfterMaxAttempts(t *testing.T) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(t))

	deliverer := &stubDeliverer{failures: 100}
	p := New(
		NewVerifyProcessor(stg, &stubVerifier{valid: true}, time.Second),
		NewDeliverProcessor(stg, deliverer, time.Second, 2),
	)
	c.Assert(p.Start(context.Background()), qt.IsNil)
	defer func() { _ = p.Stop() }()

	sub := testSubmission(0x14)
	c.Assert(stg.CreateSubmission(sub), qt.IsNil)

	final := waitForStatus(c, stg, sub.ID, types.SubmissionDeliveryFailed)
	c.Assert(final.DeliveryAttempts, qt.Equals, 2)
	c.Assert(final.FailureReason, qt.Equals, "receiver unavailable")
}
