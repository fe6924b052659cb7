// Package errors maps domain errors onto the stable API error surface.
//
// Every error leaving the HTTP API is serialized as HTTPErrorResponse with
// a stable machine-readable code. Handlers call RespondWithError and let
// Classify pick the code and status from the underlying error chain.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	jsonenc "encoding/json"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/runveil/codeq/internal/server/middleware"
	"github.com/runveil/codeq/pkg/server"
	"github.com/runveil/codeq/pkg/store"
)

// Stable API error codes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidState       = "INVALID_STATE"
	CodeConflict           = "CONFLICT"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeValidation         = "VALIDATION_ERROR"
	CodeBadRequest         = "BAD_REQUEST"
	CodeForbidden          = "FORBIDDEN"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

// HTTPErrorResponse is the wire shape of every error the API returns.
type HTTPErrorResponse struct {
	Error HTTPErrorBody `json:"error"`
}

// HTTPErrorBody carries the error fields inside the envelope.
type HTTPErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// AppError ties an error to an API code and HTTP status.
type AppError struct {
	Code    string
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements error.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails attaches structured context shown in the response envelope.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// NewNotFound reports an unknown resource.
func NewNotFound(msg string) *AppError {
	return &AppError{Code: CodeNotFound, Status: http.StatusNotFound, Message: msg}
}

// NewInvalidState reports a lifecycle transition not permitted from the
// resource's current status.
func NewInvalidState(msg string) *AppError {
	return &AppError{Code: CodeInvalidState, Status: http.StatusConflict, Message: msg}
}

// NewConflict reports a lost race on an atomic update.
func NewConflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Status: http.StatusConflict, Message: msg}
}

// NewValidation reports malformed input.
func NewValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Status: http.StatusBadRequest, Message: msg}
}

// NewBadRequest reports an unusable request.
func NewBadRequest(msg string) *AppError {
	return &AppError{Code: CodeBadRequest, Status: http.StatusBadRequest, Message: msg}
}

// NewForbidden reports an operation the caller's identity may not perform.
func NewForbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Status: http.StatusForbidden, Message: msg}
}

// NewServiceUnavailable reports a backing service that cannot be reached.
func NewServiceUnavailable(msg string) *AppError {
	return &AppError{Code: CodeServiceUnavailable, Status: http.StatusServiceUnavailable, Message: msg}
}

// NewExternalServiceError reports a failing external collaborator.
func NewExternalServiceError(msg string) *AppError {
	return &AppError{Code: CodeExternalService, Status: http.StatusBadGateway, Message: msg}
}

// WrapInternal wraps an unexpected fault. The context parameter keeps the
// call shape uniform with handlers; correlation travels in the request.
func WrapInternal(_ context.Context, err error, msg string) *AppError {
	return &AppError{Code: CodeInternal, Status: http.StatusInternalServerError, Message: msg, Err: err}
}

// Classify maps an error chain to an AppError. Known domain errors keep
// their own codes; everything else is an internal error.
func Classify(err error) *AppError {
	var app *AppError
	if stderrors.As(err, &app) {
		return app
	}

	switch {
	case store.IsNotFound(err):
		return &AppError{Code: CodeNotFound, Status: http.StatusNotFound, Message: "job not found", Err: err}
	case stderrors.Is(err, server.ErrWrongTarget):
		return &AppError{Code: CodeForbidden, Status: http.StatusForbidden, Message: "job is addressed to a different datasite", Err: err}
	case store.IsInvalidState(err):
		return &AppError{Code: CodeInvalidState, Status: http.StatusConflict, Message: err.Error(), Err: err}
	case store.IsConflict(err):
		return &AppError{Code: CodeConflict, Status: http.StatusConflict, Message: "job was updated concurrently, re-read and retry", Err: err}
	case store.IsAlreadyExists(err):
		return &AppError{Code: CodeAlreadyExists, Status: http.StatusConflict, Message: "job already exists", Err: err}
	case store.IsUnavailable(err):
		return &AppError{Code: CodeServiceUnavailable, Status: http.StatusServiceUnavailable, Message: "job store unavailable", Err: err}
	default:
		return &AppError{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "internal error", Err: err}
	}
}

// RespondWithError writes err as the canonical error envelope, stamping the
// request's correlation id.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	app := Classify(err)

	envelope := gferrors.NewErrorEnvelope(app.Code, app.Message)
	if id := middleware.RequestIDFromContext(r.Context()); id != "" {
		envelope = envelope.WithCorrelationID(id)
	}
	if len(app.Details) > 0 {
		if enriched, cerr := envelope.WithContext(app.Details); cerr == nil {
			envelope = enriched
		}
	}

	WriteEnvelope(w, envelope, app.Status)
}

// WriteEnvelope serializes a gofulmen envelope as HTTPErrorResponse.
func WriteEnvelope(w http.ResponseWriter, envelope *gferrors.ErrorEnvelope, status int) {
	resp := HTTPErrorResponse{}
	resp.Error.Code = envelope.Code
	resp.Error.Message = envelope.Message
	resp.Error.RequestID = envelope.CorrelationID
	resp.Error.Details = envelope.Context

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonenc.NewEncoder(w).Encode(resp)
}
