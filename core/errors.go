package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError rejects bad input outright. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// NotFoundError marks a missing manifest or a missing record/index pair.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

// UpstreamError marks an unreachable or failed external collaborator
// (decomposition tool, remote context service, vector backend). Safe to
// retry with backoff at the caller's discretion.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("%s: upstream unavailable: %v", e.Op, e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// InferenceError marks a captioner/embedder/generator failure. The
// upstream message is kept for diagnostics; not assumed safe to retry.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string { return fmt.Sprintf("%s: inference failed: %v", e.Op, e.Err) }
func (e *InferenceError) Unwrap() error { return e.Err }

// HTTPStatus maps the error taxonomy to response status codes.
func HTTPStatus(err error) int {
	var ve *ValidationError
	var nf *NotFoundError
	var ue *UpstreamError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &ue):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
