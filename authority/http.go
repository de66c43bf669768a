package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/vocdoni/district-pipeline/log"
	"github.com/vocdoni/district-pipeline/storage"
	"github.com/vocdoni/district-pipeline/types"
)

// HTTPVerifier delegates proof verification to a remote verification
// service. Used when the operator runs verification on dedicated hardware
// instead of the local gateway.
type HTTPVerifier struct {
	url    string
	client *http.Client
}

// NewHTTPVerifier creates a verifier against the given endpoint.
func NewHTTPVerifier(url string) *HTTPVerifier {
	return &HTTPVerifier{
		url: url,
		// the worker bounds each call with its own context timeout
		client: &http.Client{},
	}
}

type verifyRequest struct {
	Depth        int                 `json:"depth"`
	Proof        json.RawMessage     `json:"proof"`
	PublicInputs *types.PublicInputs `json:"publicInputs"`
}

type verifyResponse struct {
	Valid         bool   `json:"valid"`
	ExternalTxRef string `json:"externalTxRef,omitempty"`
}

// VerifySubmission posts the proof to the remote verifier and returns its
// verdict along with the verifier's transaction reference, if it issued one.
// Non-2xx replies are errors, not rejections: the worker must not confuse an
// unreachable verifier with an invalid proof.
func (v *HTTPVerifier) VerifySubmission(ctx context.Context, sub *storage.Submission) (bool, string, error) {
	body, err := json.Marshal(&verifyRequest{
		Depth:        sub.Depth,
		Proof:        sub.Proof,
		PublicInputs: sub.PublicInputs,
	})
	if err != nil {
		return false, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return false, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnw("error closing verifier response body", "err", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return false, "", fmt.Errorf("verifier returned status %d", resp.StatusCode)
	}
	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return false, "", fmt.Errorf("cannot decode verifier response: %w", err)
	}
	return vr.Valid, vr.ExternalTxRef, nil
}

// HTTPDeliverer posts verified submissions to the receiver webhook. The
// underlying client retries transient failures with exponential backoff
// before the attempt is reported back to the worker.
type HTTPDeliverer struct {
	url    string
	client *retryablehttp.Client
}

// NewHTTPDeliverer creates a deliverer against the given webhook URL.
func NewHTTPDeliverer(url string) *HTTPDeliverer {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil
	return &HTTPDeliverer{url: url, client: client}
}

type deliveryRequest struct {
	SubmissionID  string              `json:"submissionId"`
	DistrictID    string              `json:"districtId"`
	PublicInputs  *types.PublicInputs `json:"publicInputs"`
	SealedMessage types.HexBytes      `json:"sealedMessage"`
}

type deliveryResponse struct {
	DeliveryRef string `json:"deliveryRef"`
}

// Deliver posts the submission and returns the receiver's delivery
// reference. The proof and the sealed witness never leave the pipeline; the
// receiver gets the public inputs and the sealed action message only.
func (d *HTTPDeliverer) Deliver(ctx context.Context, sub *storage.Submission) (string, error) {
	body, err := json.Marshal(&deliveryRequest{
		SubmissionID:  sub.ID,
		DistrictID:    sub.DistrictID,
		PublicInputs:  sub.PublicInputs,
		SealedMessage: sub.SealedMessage,
	})
	if err != nil {
		return "", err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnw("error closing receiver response body", "err", err)
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("receiver returned status %d: %s", resp.StatusCode, raw)
	}
	var dr deliveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return "", fmt.Errorf("cannot decode receiver response: %w", err)
	}
	if dr.DeliveryRef == "" {
		return "", fmt.Errorf("receiver returned no delivery reference")
	}
	return dr.DeliveryRef, nil
}
