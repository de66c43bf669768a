package api

import (
	"encoding/json"
	"time"

	"github.com/vocdoni/district-pipeline/identity"
	"github.com/vocdoni/district-pipeline/types"
)

// RegistrationRequest adds a participant to a district registry. The claim
// may come inline (signed by the identity provider) or be omitted, in which
// case the subject must have an approved claim on record from the webhook.
type RegistrationRequest struct {
	IdentityCommitment types.HexBytes        `json:"identityCommitment"`
	SubjectID          string                `json:"subjectId,omitempty"`
	Claim              *identity.SignedClaim `json:"claim,omitempty"`
}

// RegistrationResponse returns the position of the new member and its
// inclusion proof against the post-registration root.
type RegistrationResponse struct {
	DistrictID     string                `json:"districtId"`
	AuthorityLevel int                   `json:"authorityLevel"`
	Proof          *types.InclusionProof `json:"proof"`
}

// DistrictInfo describes a district registry.
type DistrictInfo struct {
	DistrictID string         `json:"districtId"`
	Depth      int            `json:"depth"`
	Root       types.HexBytes `json:"root"`
	Size       uint64         `json:"size"`
	Capacity   uint64         `json:"capacity"`
}

// SubmissionRequest carries a membership proof with its public inputs and
// the payloads to archive. Witness and Message arrive in the clear and are
// sealed to the operator key before anything is persisted.
type SubmissionRequest struct {
	Proof        json.RawMessage     `json:"proof"`
	PublicInputs *types.PublicInputs `json:"publicInputs"`
	Witness      types.HexBytes      `json:"witness,omitempty"`
	Message      types.HexBytes      `json:"message,omitempty"`
}

// SubmissionResponse acknowledges an accepted submission.
type SubmissionResponse struct {
	SubmissionID string                 `json:"submissionId"`
	DistrictID   string                 `json:"districtId"`
	Status       types.SubmissionStatus `json:"status"`
}

// SubmissionStatusResponse is the public view of a stored submission. The
// sealed payloads and the proof are not echoed back.
type SubmissionStatusResponse struct {
	SubmissionID     string                 `json:"submissionId"`
	DistrictID       string                 `json:"districtId"`
	Status           types.SubmissionStatus `json:"status"`
	PublicInputs     *types.PublicInputs    `json:"publicInputs"`
	CreatedAt        time.Time              `json:"createdAt"`
	UpdatedAt        time.Time              `json:"updatedAt"`
	ExternalTxRef    string                 `json:"externalTxRef,omitempty"`
	FailureReason    string                 `json:"failureReason,omitempty"`
	DeliveryAttempts int                    `json:"deliveryAttempts,omitempty"`
	DeliveryRef      string                 `json:"deliveryRef,omitempty"`
}

// ClaimResponse acknowledges an accepted identity claim.
type ClaimResponse struct {
	SubjectID      string `json:"subjectId"`
	AuthorityLevel int    `json:"authorityLevel"`
}
