package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vocdoni/district-pipeline/identity"
	"github.com/vocdoni/district-pipeline/log"
	stg "github.com/vocdoni/district-pipeline/storage"
)

// identityWebhook handles POST /webhooks/identity. The identity provider
// pushes signed verification claims here; approved claims are kept on record
// so later registrations can reference the subject without an inline claim.
func (a *API) identityWebhook(w http.ResponseWriter, r *http.Request) {
	sc := &identity.SignedClaim{}
	if err := json.NewDecoder(r.Body).Decode(sc); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	level, err := a.validator.Validate(sc)
	if err != nil {
		ErrClaimRejected.WithErr(err).Write(w)
		return
	}
	if err := a.storage.SetApprovedClaim(&stg.ApprovedClaim{
		SubjectID:      sc.Claim.SubjectID,
		DocumentType:   sc.Claim.DocumentType,
		AuthorityLevel: level,
		ReceivedAt:     time.Now(),
	}); err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	log.Infow("identity claim accepted",
		"subject", sc.Claim.SubjectID, "document", sc.Claim.DocumentType, "authorityLevel", level)

	httpWriteJSON(w, &ClaimResponse{
		SubjectID:      sc.Claim.SubjectID,
		AuthorityLevel: level,
	})
}
