// Package identity verifies signed claims coming from the external identity
// provider webhook and derives authority levels from the verified document
// type. Claims are authenticated with an HMAC shared secret; the signed
// payload is "<timestamp>.<claim JSON>", so neither part can be swapped
// independently.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vocdoni/district-pipeline/types"
)

const (
	// StatusApproved is the only claim status that grants registration.
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusPending  = "pending"

	// minAdultAge is the registration age floor, in years.
	minAdultAge = 18
)

var (
	ErrBadSignature        = fmt.Errorf("claim signature mismatch")
	ErrStaleClaim          = fmt.Errorf("claim timestamp too old")
	ErrClaimNotApproved    = fmt.Errorf("claim status is not approved")
	ErrUnderage            = fmt.Errorf("subject does not meet the age floor")
	ErrUnknownDocumentType = fmt.Errorf("unknown document type")
)

// authorityByDocument maps the verified document type to the authority level
// embedded in registrations. Stronger documents grant higher levels.
var authorityByDocument = map[string]int{
	"passport":         4,
	"drivers_license":  3,
	"id_card":          3,
	"residence_permit": 2,
	"other":            1,
}

// VerificationClaim is the identity provider's statement about a subject.
type VerificationClaim struct {
	SubjectID    string `json:"subjectId"`
	Status       string `json:"status"`
	DocumentType string `json:"documentType"`
	BirthYear    int    `json:"birthYear"`
}

// SignedClaim wraps a claim with its issue timestamp (unix seconds) and the
// provider's HMAC-SHA256 signature.
type SignedClaim struct {
	Claim     VerificationClaim `json:"claim"`
	Timestamp int64             `json:"timestamp"`
	Signature types.HexBytes    `json:"signature"`
}

// AuthorityLevel returns the authority level granted by a document type.
func AuthorityLevel(documentType string) (int, error) {
	level, ok := authorityByDocument[documentType]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDocumentType, documentType)
	}
	return level, nil
}

// Validator checks signed claims against the webhook shared secret.
type Validator struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewValidator creates a Validator. Claims older than maxAge are rejected as
// stale; a non-positive maxAge disables the freshness check.
func NewValidator(secret []byte, maxAge time.Duration) *Validator {
	return &Validator{secret: secret, maxAge: maxAge, now: time.Now}
}

// signaturePayload is the exact byte string the provider signs.
func signaturePayload(claim *VerificationClaim, timestamp int64) ([]byte, error) {
	claimJSON, err := json.Marshal(claim)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "%d.%s", timestamp, claimJSON), nil
}

// Sign computes the HMAC signature of a claim. The service uses it in tests
// and integration tooling; in production the identity provider signs.
func Sign(claim *VerificationClaim, timestamp int64, secret []byte) (types.HexBytes, error) {
	payload, err := signaturePayload(claim, timestamp)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// Validate checks the claim signature, freshness, approval status, age floor
// and document type, and returns the granted authority level. The signature
// comparison is constant time.
func (v *Validator) Validate(sc *SignedClaim) (int, error) {
	expected, err := Sign(&sc.Claim, sc.Timestamp, v.secret)
	if err != nil {
		return 0, err
	}
	if !hmac.Equal(expected, sc.Signature) {
		return 0, ErrBadSignature
	}

	now := v.now()
	if v.maxAge > 0 {
		issued := time.Unix(sc.Timestamp, 0)
		if now.Sub(issued) > v.maxAge || issued.Sub(now) > v.maxAge {
			return 0, fmt.Errorf("%w: issued at %s", ErrStaleClaim, issued.UTC())
		}
	}

	if sc.Claim.Status != StatusApproved {
		return 0, fmt.Errorf("%w: %q", ErrClaimNotApproved, sc.Claim.Status)
	}
	// the age floor is judged at claim issue time, not at validation time
	issueYear := time.Unix(sc.Timestamp, 0).UTC().Year()
	if sc.Claim.BirthYear <= 0 || issueYear-sc.Claim.BirthYear < minAdultAge {
		return 0, ErrUnderage
	}
	return AuthorityLevel(sc.Claim.DocumentType)
}
