package types

// SubmissionStatus is the lifecycle state of a proof submission.
// Transitions: pending -> {verified, verification_failed} and
// verified -> {delivered, delivery_failed}. verification_failed is terminal;
// delivery_failed may be requeued by an operator.
type SubmissionStatus string

const (
	SubmissionPending            SubmissionStatus = "pending"
	SubmissionVerified           SubmissionStatus = "verified"
	SubmissionVerificationFailed SubmissionStatus = "verification_failed"
	SubmissionDelivered          SubmissionStatus = "delivered"
	SubmissionDeliveryFailed     SubmissionStatus = "delivery_failed"
)

// PublicInputs are the public signals of a membership proof. The nullifier
// and the leaf hash are computed inside the proving engine; the caller only
// echoes them back, it can never choose them.
type PublicInputs struct {
	MerkleRoot     HexBytes `json:"merkleRoot"`
	Nullifier      HexBytes `json:"nullifier"`
	AuthorityLevel int      `json:"authorityLevel"`
	ActionDomain   HexBytes `json:"actionDomain"`
	DistrictField  HexBytes `json:"districtField"`
}
