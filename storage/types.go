package storage

import (
	"encoding/json"
	"time"

	"github.com/vocdoni/district-pipeline/types"
)

// Submission is the persisted record of one anonymous action submission. It
// moves through the status machine defined in types.SubmissionStatus; the
// queues under 'vq/' and 'dq/' reference it by ID.
type Submission struct {
	ID         string                 `json:"id"`
	DistrictID string                 `json:"districtId"`
	Depth      int                    `json:"depth"`
	Status     types.SubmissionStatus `json:"status"`

	Proof        json.RawMessage     `json:"proof"`
	PublicInputs *types.PublicInputs `json:"publicInputs"`

	// SealedWitness and SealedMessage are ECIES ciphertexts; the service
	// cannot open them.
	SealedWitness types.HexBytes `json:"sealedWitness"`
	SealedMessage types.HexBytes `json:"sealedMessage"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// ExternalTxRef is the reference the verification authority returned
	// when it accepted the proof. Empty for local engine verification.
	ExternalTxRef string `json:"externalTxRef,omitempty"`
	// FailureReason is set on verification_failed and delivery_failed.
	FailureReason string `json:"failureReason,omitempty"`
	// DeliveryAttempts counts webhook delivery tries, successful or not.
	DeliveryAttempts int `json:"deliveryAttempts,omitempty"`
	// DeliveryRef is the receiver's reference returned on success.
	DeliveryRef string `json:"deliveryRef,omitempty"`
}

// NullifierRecord pins a (nullifier, action domain) pair to the submission
// that consumed it.
type NullifierRecord struct {
	Nullifier    types.HexBytes `json:"nullifier"`
	ActionDomain types.HexBytes `json:"actionDomain"`
	SubmissionID string         `json:"submissionId"`
	RegisteredAt time.Time      `json:"registeredAt"`
}

// ApprovedClaim is the audit record of an identity claim accepted by the
// webhook. Only approved claims are stored.
type ApprovedClaim struct {
	SubjectID      string    `json:"subjectId"`
	DocumentType   string    `json:"documentType"`
	AuthorityLevel int       `json:"authorityLevel"`
	ReceivedAt     time.Time `json:"receivedAt"`
}
