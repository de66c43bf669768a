package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"
	// DistrictURLParam is the URL parameter carrying the district ID
	DistrictURLParam = "districtId"
	// DistrictEndpoint is the endpoint to get the district registry info
	DistrictEndpoint = "/districts/{" + DistrictURLParam + "}"
	// ParticipantsEndpoint is the endpoint for registering a participant
	// into a district registry
	ParticipantsEndpoint = "/districts/{" + DistrictURLParam + "}/participants"
	// LeafIndexURLParam is the URL parameter carrying the leaf position
	LeafIndexURLParam = "leafIndex"
	// DistrictProofEndpoint is the endpoint to get a fresh inclusion proof
	DistrictProofEndpoint = "/districts/{" + DistrictURLParam + "}/proofs/{" + LeafIndexURLParam + "}"
	// SubmissionsEndpoint is the endpoint for submitting a proof
	SubmissionsEndpoint = "/submissions"
	// SubmissionURLParam is the URL parameter carrying the submission ID
	SubmissionURLParam = "submissionId"
	// SubmissionEndpoint is the endpoint to get the submission status
	SubmissionEndpoint = "/submissions/{" + SubmissionURLParam + "}"
	// SubmissionDeliveriesEndpoint is the endpoint to requeue the delivery
	// of a failed submission
	SubmissionDeliveriesEndpoint = "/submissions/{" + SubmissionURLParam + "}/deliveries"
	// IdentityWebhookEndpoint is the endpoint the identity provider posts
	// signed verification claims to
	IdentityWebhookEndpoint = "/webhooks/identity"
)
