package service

import (
	"errors"
	"net/http"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string      `json:"error"`
	Kind      string      `json:"kind"`
	Field     string      `json:"field,omitempty"`
	Retryable bool        `json:"retryable"`
	Partial   interface{} `json:"partial,omitempty"`
}

// StatusCode maps an error kind to its HTTP status. Proof errors that
// waiting cannot fix are reported as upstream failures.
func StatusCode(err error) int {
	switch protocol.ErrorKind(err) {
	case "ok":
		return http.StatusOK
	case "validation":
		return http.StatusBadRequest
	case "precondition":
		return http.StatusPreconditionFailed
	case "sequencing":
		return http.StatusConflict
	case "proof":
		if !protocol.IsRetryable(err) {
			return http.StatusBadGateway
		}
		return http.StatusServiceUnavailable
	case "submission", "hash_mismatch":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error, partial interface{}) {
	resp := ErrorResponse{
		Error:     err.Error(),
		Kind:      protocol.ErrorKind(err),
		Retryable: protocol.IsRetryable(err),
		Partial:   partial,
	}
	var verr *protocol.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	writeJSON(w, StatusCode(err), resp)
}
