package api

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
	"github.com/vocdoni/district-pipeline/identity"
	stg "github.com/vocdoni/district-pipeline/storage"
	"github.com/vocdoni/district-pipeline/storage/districts"
	"github.com/vocdoni/district-pipeline/types"
	"github.com/vocdoni/district-pipeline/vault"
	"go.vocdoni.io/dvote/db/metadb"
)

var testWebhookSecret = []byte("test-webhook-secret")

func newTestAPI(t *testing.T) (*API, *httptest.Server) {
	database := metadb.NewTest(t)
	ddb, err := districts.NewDistrictDB(database, 18)
	qt.Assert(t, err, qt.IsNil)
	priv, err := ecies.GenerateKey(rand.Reader, ethcrypto.S256(), ecies.ECIES_AES128_SHA256)
	qt.Assert(t, err, qt.IsNil)

	a := &API{
		storage:   stg.New(database),
		districts: ddb,
		validator: identity.NewValidator(testWebhookSecret, time.Hour),
		sealer:    vault.NewSealerFromKey(&priv.PublicKey),
	}
	a.initRouter()
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return a, srv
}

func doRequest(t *testing.T, method, url string, body any) (int, []byte) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		qt.Assert(t, err, qt.IsNil)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rd)
	qt.Assert(t, err, qt.IsNil)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	qt.Assert(t, err, qt.IsNil)
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	qt.Assert(t, err, qt.IsNil)
	return resp.StatusCode, raw
}

func signedTestClaim(t *testing.T, subjectID, docType string) *identity.SignedClaim {
	claim := identity.VerificationClaim{
		SubjectID:    subjectID,
		Status:       identity.StatusApproved,
		DocumentType: docType,
		BirthYear:    1990,
	}
	ts := time.Now().Unix()
	sig, err := identity.Sign(&claim, ts, testWebhookSecret)
	qt.Assert(t, err, qt.IsNil)
	return &identity.SignedClaim{Claim: claim, Timestamp: ts, Signature: sig}
}

func registerMember(t *testing.T, srv *httptest.Server, district string, commitment int64) *RegistrationResponse {
	status, body := doRequest(t, http.MethodPost, srv.URL+"/districts/"+district+"/participants", &RegistrationRequest{
		IdentityCommitment: types.HexBytesFromBigInt(big.NewInt(commitment)),
		Claim:              signedTestClaim(t, fmt.Sprintf("subject-%d", commitment), "passport"),
	})
	qt.Assert(t, status, qt.Equals, http.StatusCreated, qt.Commentf("body: %s", body))
	var resp RegistrationResponse
	qt.Assert(t, json.Unmarshal(body, &resp), qt.IsNil)
	return &resp
}

func TestPing(t *testing.T) {
	c := qt.New(t)
	_, srv := newTestAPI(t)
	status, _ := doRequest(t, http.MethodGet, srv.URL+PingEndpoint, nil)
	c.Assert(status, qt.Equals, http.StatusOK)
}

func TestRegistrationFlow(t *testing.T) {
	c := qt.New(t)
	_, srv := newTestAPI(t)

	resp := registerMember(t, srv, "district-7", 1001)
	c.Assert(resp.AuthorityLevel, qt.Equals, 4)
	c.Assert(resp.Proof.LeafIndex, qt.Equals, uint64(0))
	c.Assert(resp.Proof.Siblings, qt.HasLen, 18)

	// second member lands on index 1 and the root moves
	resp2 := registerMember(t, srv, "district-7", 1002)
	c.Assert(resp2.Proof.LeafIndex, qt.Equals, uint64(1))
	c.Assert(resp2.Proof.Root.String(), qt.Not(qt.Equals), resp.Proof.Root.String())

	// district info reflects both registrations
	status, body := doRequest(t, http.MethodGet, srv.URL+"/districts/district-7", nil)
	c.Assert(status, qt.Equals, http.StatusOK)
	var info DistrictInfo
	c.Assert(json.Unmarshal(body, &info), qt.IsNil)
	c.Assert(info.Size, qt.Equals, uint64(2))
	c.Assert(info.Depth, qt.Equals, 18)
	c.Assert(info.Root.String(), qt.Equals, resp2.Proof.Root.String())

	// a fresh proof for the first member verifies against the current root
	status, body = doRequest(t, http.MethodGet, srv.URL+"/districts/district-7/proofs/0", nil)
	c.Assert(status, qt.Equals, http.StatusOK)
	var proof types.InclusionProof
	c.Assert(json.Unmarshal(body, &proof), qt.IsNil)
	c.Assert(proof.Root.String(), qt.Equals, info.Root.String())

	// unknown positions and districts are 404
	status, _ = doRequest(t, http.MethodGet, srv.URL+"/districts/district-7/proofs/2", nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)
	status, _ = doRequest(t, http.MethodGet, srv.URL+"/districts/nowhere", nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)
	status, _ = doRequest(t, http.MethodGet, srv.URL+"/districts/district-7/proofs/banana", nil)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
}

func TestRegistrationRejections(t *testing.T) {
	c := qt.New(t)
	_, srv := newTestAPI(t)

	// out-of-field commitment
	status, _ := doRequest(t, http.MethodPost, srv.URL+"/districts/d/participants", &RegistrationRequest{
		IdentityCommitment: make(types.HexBytes, 33),
		Claim:              signedTestClaim(t, "subject-1", "passport"),
	})
	c.Assert(status, qt.Equals, http.StatusBadRequest)

	// tampered claim signature
	claim := signedTestClaim(t, "subject-1", "passport")
	claim.Claim.DocumentType = "other"
	status, _ = doRequest(t, http.MethodPost, srv.URL+"/districts/d/participants", &RegistrationRequest{
		IdentityCommitment: types.HexBytesFromBigInt(big.NewInt(7)),
		Claim:              claim,
	})
	c.Assert(status, qt.Equals, http.StatusBadRequest)

	// no claim at all
	status, _ = doRequest(t, http.MethodPost, srv.URL+"/districts/d/participants", &RegistrationRequest{
		IdentityCommitment: types.HexBytesFromBigInt(big.NewInt(7)),
	})
	c.Assert(status, qt.Equals, http.StatusBadRequest)
}

func TestWebhookThenRegistrationBySubject(t *testing.T) {
	c := qt.New(t)
	_, srv := newTestAPI(t)

	// the provider pushes an approved claim
	status, body := doRequest(t, http.MethodPost, srv.URL+IdentityWebhookEndpoint, signedTestClaim(t, "subject-9", "id_card"))
	c.Assert(status, qt.Equals, http.StatusOK)
	var cr ClaimResponse
	c.Assert(json.Unmarshal(body, &cr), qt.IsNil)
	c.Assert(cr.AuthorityLevel, qt.Equals, 3)

	// registration without inline claim uses the record
	status, body = doRequest(t, http.MethodPost, srv.URL+"/districts/d/participants", &RegistrationRequest{
		IdentityCommitment: types.HexBytesFromBigInt(big.NewInt(77)),
		SubjectID:          "subject-9",
	})
	c.Assert(status, qt.Equals, http.StatusCreated)
	var rr RegistrationResponse
	c.Assert(json.Unmarshal(body, &rr), qt.IsNil)
	c.Assert(rr.AuthorityLevel, qt.Equals, 3)

	// rejected claims are not stored
	bad := signedTestClaim(t, "subject-10", "passport")
	bad.Claim.Status = identity.StatusRejected
	sig, err := identity.Sign(&bad.Claim, bad.Timestamp, testWebhookSecret)
	c.Assert(err, qt.IsNil)
	bad.Signature = sig
	status, _ = doRequest(t, http.MethodPost, srv.URL+IdentityWebhookEndpoint, bad)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
	status, _ = doRequest(t, http.MethodPost, srv.URL+"/districts/d/participants", &RegistrationRequest{
		IdentityCommitment: types.HexBytesFromBigInt(big.NewInt(78)),
		SubjectID:          "subject-10",
	})
	c.Assert(status, qt.Equals, http.StatusBadRequest)
}

func testSubmissionRequest(root types.HexBytes, nullifier int64) *SubmissionRequest {
	return &SubmissionRequest{
		Proof: json.RawMessage(`{"pi_a":[],"pi_b":[],"pi_c":[]}`),
		PublicInputs: &types.PublicInputs{
			MerkleRoot:     root,
			Nullifier:      types.HexBytesFromBigInt(big.NewInt(nullifier)),
			AuthorityLevel: 4,
			ActionDomain:   types.HexBytesFromBigInt(big.NewInt(99)),
			DistrictField:  types.HexBytesFromBigInt(types.DistrictField("district-7")),
		},
		Witness: types.HexBytes("secret witness material"),
		Message: types.HexBytes("the action message"),
	}
}

func TestSubmissionFlow(t *testing.T) {
	c := qt.New(t)
	a, srv := newTestAPI(t)

	reg := registerMember(t, srv, "district-7", 2001)
	root := reg.Proof.Root

	status, body := doRequest(t, http.MethodPost, srv.URL+SubmissionsEndpoint, testSubmissionRequest(root, 501))
	c.Assert(status, qt.Equals, http.StatusCreated, qt.Commentf("body: %s", body))
	var sr SubmissionResponse
	c.Assert(json.Unmarshal(body, &sr), qt.IsNil)
	c.Assert(sr.DistrictID, qt.Equals, "district-7")
	c.Assert(sr.Status, qt.Equals, types.SubmissionPending)

	// the stored payloads are sealed, not the plaintexts
	stored, err := a.storage.Submission(sr.SubmissionID)
	c.Assert(err, qt.IsNil)
	c.Assert(bytes.Contains(stored.SealedWitness, []byte("secret witness material")), qt.IsFalse)
	c.Assert(bytes.Contains(stored.SealedMessage, []byte("the action message")), qt.IsFalse)

	// status endpoint does not leak sealed payloads or the proof
	status, body = doRequest(t, http.MethodGet, srv.URL+"/submissions/"+sr.SubmissionID, nil)
	c.Assert(status, qt.Equals, http.StatusOK)
	var ss SubmissionStatusResponse
	c.Assert(json.Unmarshal(body, &ss), qt.IsNil)
	c.Assert(ss.Status, qt.Equals, types.SubmissionPending)
	c.Assert(bytes.Contains(body, []byte("sealed")), qt.IsFalse)

	// double action on the same (nullifier, domain) pair
	status, _ = doRequest(t, http.MethodPost, srv.URL+SubmissionsEndpoint, testSubmissionRequest(root, 501))
	c.Assert(status, qt.Equals, http.StatusConflict)

	// another nullifier is fine
	status, _ = doRequest(t, http.MethodPost, srv.URL+SubmissionsEndpoint, testSubmissionRequest(root, 502))
	c.Assert(status, qt.Equals, http.StatusCreated)

	// pending submissions cannot be requeued for delivery
	status, _ = doRequest(t, http.MethodPost, srv.URL+"/submissions/"+sr.SubmissionID+"/deliveries", nil)
	c.Assert(status, qt.Equals, http.StatusConflict)

	// unknown submission
	status, _ = doRequest(t, http.MethodGet, srv.URL+"/submissions/nope", nil)
	c.Assert(status, qt.Equals, http.StatusNotFound)
}

func TestSubmissionRejections(t *testing.T) {
	c := qt.New(t)
	_, srv := newTestAPI(t)

	reg := registerMember(t, srv, "district-7", 3001)
	staleRoot := reg.Proof.Root
	reg2 := registerMember(t, srv, "district-7", 3002)
	currentRoot := reg2.Proof.Root

	// a proof against a stale root must be regenerated
	status, _ := doRequest(t, http.MethodPost, srv.URL+SubmissionsEndpoint, testSubmissionRequest(staleRoot, 601))
	c.Assert(status, qt.Equals, http.StatusBadRequest)

	// a root nobody has
	status, _ = doRequest(t, http.MethodPost, srv.URL+SubmissionsEndpoint,
		testSubmissionRequest(types.HexBytesFromBigInt(big.NewInt(424242)), 602))
	c.Assert(status, qt.Equals, http.StatusBadRequest)

	// out-of-range authority level
	req := testSubmissionRequest(currentRoot, 603)
	req.PublicInputs.AuthorityLevel = 6
	status, _ = doRequest(t, http.MethodPost, srv.URL+SubmissionsEndpoint, req)
	c.Assert(status, qt.Equals, http.StatusBadRequest)

	// missing proof
	req = testSubmissionRequest(currentRoot, 604)
	req.Proof = nil
	status, _ = doRequest(t, http.MethodPost, srv.URL+SubmissionsEndpoint, req)
	c.Assert(status, qt.Equals, http.StatusBadRequest)
}
