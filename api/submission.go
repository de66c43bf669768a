package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vocdoni/district-pipeline/crypto/fields"
	"github.com/vocdoni/district-pipeline/log"
	stg "github.com/vocdoni/district-pipeline/storage"
	"github.com/vocdoni/district-pipeline/storage/districts"
	"github.com/vocdoni/district-pipeline/types"
)

// newSubmission handles POST /submissions. The claimed merkle root must be
// the current root of some district registry; proofs against stale roots are
// rejected and must be regenerated. The witness and message payloads are
// sealed to the operator key before anything is persisted, and the nullifier
// is consumed atomically with the submission row.
func (a *API) newSubmission(w http.ResponseWriter, r *http.Request) {
	req := &SubmissionRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if len(req.Proof) == 0 || req.PublicInputs == nil {
		ErrMalformedBody.With("missing proof or public inputs").Write(w)
		return
	}
	pub := req.PublicInputs
	for name, v := range map[string]types.HexBytes{
		"merkleRoot":    pub.MerkleRoot,
		"nullifier":     pub.Nullifier,
		"actionDomain":  pub.ActionDomain,
		"districtField": pub.DistrictField,
	} {
		if err := fields.CheckElement(v); err != nil {
			ErrNotFieldElement.Withf("%s: %v", name, err).Write(w)
			return
		}
	}
	if err := fields.CheckAuthorityLevel(pub.AuthorityLevel); err != nil {
		ErrInvalidAuthorityLevel.Withf("%d", pub.AuthorityLevel).Write(w)
		return
	}

	ref, err := a.districts.ByRoot(pub.MerkleRoot.BigInt())
	if err != nil {
		if errors.Is(err, districts.ErrUnknownRoot) {
			ErrUnknownMerkleRoot.Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}

	sealedWitness, err := a.sealer.Seal(req.Witness)
	if err != nil {
		ErrVaultSealFailed.WithErr(err).Write(w)
		return
	}
	sealedMessage, err := a.sealer.Seal(req.Message)
	if err != nil {
		ErrVaultSealFailed.WithErr(err).Write(w)
		return
	}

	sub := &stg.Submission{
		ID:            uuid.New().String(),
		DistrictID:    ref.ID,
		Depth:         ref.Depth,
		Proof:         req.Proof,
		PublicInputs:  pub,
		SealedWitness: sealedWitness,
		SealedMessage: sealedMessage,
	}
	if err := a.storage.CreateSubmission(sub); err != nil {
		if errors.Is(err, stg.ErrNullifierUsed) {
			ErrNullifierAlreadyUsed.Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	log.Infow("submission accepted",
		"submission", sub.ID, "district", ref.ID, "actionDomain", pub.ActionDomain.String())

	httpWriteCreated(w, &SubmissionResponse{
		SubmissionID: sub.ID,
		DistrictID:   ref.ID,
		Status:       sub.Status,
	})
}

// submissionStatus handles GET /submissions/{submissionId}.
func (a *API) submissionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, SubmissionURLParam)
	sub, err := a.storage.Submission(id)
	if err != nil {
		if errors.Is(err, stg.ErrNotFound) {
			ErrSubmissionNotFound.Withf("%s", id).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &SubmissionStatusResponse{
		SubmissionID:     sub.ID,
		DistrictID:       sub.DistrictID,
		Status:           sub.Status,
		PublicInputs:     sub.PublicInputs,
		CreatedAt:        sub.CreatedAt,
		UpdatedAt:        sub.UpdatedAt,
		ExternalTxRef:    sub.ExternalTxRef,
		FailureReason:    sub.FailureReason,
		DeliveryAttempts: sub.DeliveryAttempts,
		DeliveryRef:      sub.DeliveryRef,
	})
}

// requeueDelivery handles POST /submissions/{submissionId}/deliveries. Only
// delivery_failed submissions can be requeued.
func (a *API) requeueDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, SubmissionURLParam)
	if err := a.storage.RequeueDelivery(id); err != nil {
		switch {
		case errors.Is(err, stg.ErrNotFound):
			ErrSubmissionNotFound.Withf("%s", id).Write(w)
		case errors.Is(err, stg.ErrBadStatusTransition):
			ErrBadDeliveryState.WithErr(err).Write(w)
		default:
			ErrGenericInternalServerError.WithErr(err).Write(w)
		}
		return
	}
	sub, err := a.storage.Submission(id)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &SubmissionResponse{
		SubmissionID: sub.ID,
		DistrictID:   sub.DistrictID,
		Status:       sub.Status,
	})
}
