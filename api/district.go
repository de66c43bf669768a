package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/vocdoni/district-pipeline/crypto/fields"
	"github.com/vocdoni/district-pipeline/crypto/merkle"
	"github.com/vocdoni/district-pipeline/log"
	stg "github.com/vocdoni/district-pipeline/storage"
	"github.com/vocdoni/district-pipeline/storage/districts"
	"github.com/vocdoni/district-pipeline/types"
)

// inclusionProof converts a tree path to its wire form.
func inclusionProof(p *merkle.Path) *types.InclusionProof {
	siblings := make([]types.HexBytes, len(p.Siblings))
	for i, s := range p.Siblings {
		siblings[i] = types.HexBytesFromBigInt(s)
	}
	return &types.InclusionProof{
		Root:        types.HexBytesFromBigInt(p.Root),
		Leaf:        types.HexBytesFromBigInt(p.Leaf),
		LeafIndex:   p.LeafIndex,
		Siblings:    siblings,
		PathIndices: append([]uint8(nil), p.Indices...),
	}
}

// registerParticipant handles POST /districts/{districtId}/participants. The
// registry is created lazily on the first registration. The identity claim
// comes inline or is looked up from the webhook's approved records.
func (a *API) registerParticipant(w http.ResponseWriter, r *http.Request) {
	districtID := chi.URLParam(r, DistrictURLParam)
	if districtID == "" {
		ErrMalformedDistrictID.Write(w)
		return
	}
	req := &RegistrationRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if err := fields.CheckElement(req.IdentityCommitment); err != nil {
		ErrNotFieldElement.Withf("identity commitment: %v", err).Write(w)
		return
	}

	level, err := a.authorityLevelFor(req)
	if err != nil {
		if apiErr, ok := err.(Error); ok {
			apiErr.Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}

	ref, err := a.loadOrCreateDistrict(districtID)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	path, err := ref.Append(req.IdentityCommitment.BigInt())
	if err != nil {
		if errors.Is(err, merkle.ErrTreeFull) {
			ErrDistrictFull.Withf("district %s", districtID).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	log.Infow("participant registered",
		"district", districtID, "index", path.LeafIndex, "authorityLevel", level)

	httpWriteCreated(w, &RegistrationResponse{
		DistrictID:     districtID,
		AuthorityLevel: level,
		Proof:          inclusionProof(path),
	})
}

// authorityLevelFor resolves the authority level of a registration request,
// either from the inline signed claim or from the approved claims on record.
func (a *API) authorityLevelFor(req *RegistrationRequest) (int, error) {
	if req.Claim != nil {
		level, err := a.validator.Validate(req.Claim)
		if err != nil {
			return 0, ErrClaimRejected.WithErr(err)
		}
		if err := a.storage.SetApprovedClaim(&stg.ApprovedClaim{
			SubjectID:      req.Claim.Claim.SubjectID,
			DocumentType:   req.Claim.Claim.DocumentType,
			AuthorityLevel: level,
			ReceivedAt:     time.Now(),
		}); err != nil {
			return 0, err
		}
		return level, nil
	}
	if req.SubjectID == "" {
		return 0, ErrMissingClaim
	}
	claim, err := a.storage.ApprovedClaim(req.SubjectID)
	if err != nil {
		if errors.Is(err, stg.ErrNotFound) {
			return 0, ErrMissingClaim.Withf("subject %s", req.SubjectID)
		}
		return 0, err
	}
	return claim.AuthorityLevel, nil
}

func (a *API) loadOrCreateDistrict(districtID string) (*districts.DistrictRef, error) {
	ref, err := a.districts.Load(districtID)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, districts.ErrDistrictNotFound) {
		return nil, err
	}
	ref, err = a.districts.New(districtID)
	if errors.Is(err, districts.ErrDistrictAlreadyExists) {
		// lost the creation race, load the winner's registry
		return a.districts.Load(districtID)
	}
	return ref, err
}

// districtInfo handles GET /districts/{districtId}.
func (a *API) districtInfo(w http.ResponseWriter, r *http.Request) {
	districtID := chi.URLParam(r, DistrictURLParam)
	ref, err := a.districts.Load(districtID)
	if err != nil {
		if errors.Is(err, districts.ErrDistrictNotFound) {
			ErrDistrictNotFound.Withf("%s", districtID).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &DistrictInfo{
		DistrictID: districtID,
		Depth:      ref.Depth,
		Root:       types.HexBytesFromBigInt(ref.Root()),
		Size:       ref.Size(),
		Capacity:   ref.Capacity(),
	})
}

// districtProof handles GET /districts/{districtId}/proofs/{leafIndex}. The
// path is recomputed against the current root, so proofs stay valid after
// later registrations invalidate the one returned at registration time.
func (a *API) districtProof(w http.ResponseWriter, r *http.Request) {
	districtID := chi.URLParam(r, DistrictURLParam)
	index, err := strconv.ParseUint(chi.URLParam(r, LeafIndexURLParam), 10, 64)
	if err != nil {
		ErrMalformedLeafIndex.WithErr(err).Write(w)
		return
	}
	ref, err := a.districts.Load(districtID)
	if err != nil {
		if errors.Is(err, districts.ErrDistrictNotFound) {
			ErrDistrictNotFound.Withf("%s", districtID).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	path, err := ref.PathAt(index)
	if err != nil {
		if errors.Is(err, merkle.ErrNotFound) {
			ErrLeafIndexNotFound.Withf("index %d", index).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, inclusionProof(path))
}
