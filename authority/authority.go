// Package authority provides the concrete verification and delivery
// backends the processor workers talk to: the local proving gateway, an
// optional remote verification service, and the receiver webhook for
// delivery of verified submissions.
package authority

import (
	"context"

	"github.com/vocdoni/district-pipeline/prover"
	"github.com/vocdoni/district-pipeline/storage"
)

// EngineVerifier verifies submissions with the local proving gateway.
type EngineVerifier struct {
	gateway *prover.Gateway
}

// NewEngineVerifier creates a verifier over the proving gateway.
func NewEngineVerifier(gateway *prover.Gateway) *EngineVerifier {
	return &EngineVerifier{gateway: gateway}
}

// VerifySubmission checks the submission's proof against its claimed public
// inputs. Local verification has no external reference to report.
func (v *EngineVerifier) VerifySubmission(ctx context.Context, sub *storage.Submission) (bool, string, error) {
	ok, err := v.gateway.Verify(ctx, sub.Depth, sub.Proof, sub.PublicInputs)
	return ok, "", err
}
