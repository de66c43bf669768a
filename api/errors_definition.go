//nolint:lll
package api

import (
	"fmt"
	"net/http"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the user's fault,
// and they return HTTP Status 400, 404 or 409, whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 500 or 503, or something else if appropriate.
//
// NEVER change any of the current error codes, only append new errors after the current last 4XXX or 5XXX.
// If you notice there's a gap, DON'T fill it in, that code was used in the past and shouldn't be reused.
// There's no correlation between Code and HTTP Status.
var (
	ErrResourceNotFound      = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody         = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrMalformedDistrictID   = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed district ID")}
	ErrDistrictNotFound      = Error{Code: 40007, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("district not found")}
	ErrNotFieldElement       = Error{Code: 40010, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("value is not a valid field element")}
	ErrWrongPathLength       = Error{Code: 40011, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("merkle path length does not match tree depth")}
	ErrInvalidAuthorityLevel = Error{Code: 40012, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("authority level out of range")}
	ErrUnknownMerkleRoot     = Error{Code: 40013, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("no district registry with the provided merkle root")}
	ErrLeafIndexNotFound     = Error{Code: 40014, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("leaf index not found in the registry")}
	ErrMalformedLeafIndex    = Error{Code: 40015, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed leaf index")}
	ErrNullifierAlreadyUsed  = Error{Code: 40020, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("nullifier already used for this action domain")}
	ErrClaimRejected         = Error{Code: 40021, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("identity claim rejected")}
	ErrSubmissionNotFound    = Error{Code: 40022, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("submission not found")}
	ErrBadDeliveryState      = Error{Code: 40023, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("submission is not in a requeueable state")}
	ErrMissingClaim          = Error{Code: 40024, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("no identity claim provided or on record")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
	ErrDistrictFull               = Error{Code: 50003, HTTPstatus: http.StatusServiceUnavailable, Err: fmt.Errorf("district registry is full")}
	ErrVaultSealFailed            = Error{Code: 50004, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("cannot seal payload")}
)
