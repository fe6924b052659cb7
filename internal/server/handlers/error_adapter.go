// Package handlers implements the admin API endpoints: health probes,
// version, and the job queue surface.
package handlers

import (
	"net/http"

	apperrors "github.com/runveil/codeq/internal/errors"
)

// httpErrorResponder writes handler errors to the response. Tests swap it
// to observe errors without going through the full envelope path.
var httpErrorResponder = defaultHTTPErrorResponder

func defaultHTTPErrorResponder(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}

// SetHTTPErrorResponder overrides how handlers write errors. Passing nil
// restores the default responder.
func SetHTTPErrorResponder(f func(http.ResponseWriter, *http.Request, error)) {
	if f == nil {
		httpErrorResponder = defaultHTTPErrorResponder
		return
	}
	httpErrorResponder = f
}

// ResetHTTPErrorResponder restores the default responder.
func ResetHTTPErrorResponder() {
	httpErrorResponder = defaultHTTPErrorResponder
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
