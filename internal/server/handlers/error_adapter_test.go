package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/runveil/codeq/internal/errors"
	"github.com/runveil/codeq/pkg/store"
)

func TestSetHTTPErrorResponder(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	t.Run("sets custom responder", func(t *testing.T) {
		var captured error
		SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
			captured = err
			w.WriteHeader(http.StatusTeapot)
		})

		req := httptest.NewRequest("GET", "/api/v1/jobs/7c2e", nil)
		rec := httptest.NewRecorder()
		respondWithError(rec, req, assert.AnError)

		assert.Equal(t, assert.AnError, captured)
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("nil restores the default", func(t *testing.T) {
		SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
			w.WriteHeader(http.StatusTeapot)
		})
		SetHTTPErrorResponder(nil)

		// The default responder classifies domain errors, so an unknown job
		// id comes back as the canonical NOT_FOUND envelope.
		req := httptest.NewRequest("GET", "/api/v1/jobs/7c2e", nil)
		rec := httptest.NewRecorder()
		respondWithError(rec, req, &store.StoreError{Op: "Get", Backend: "fs", ID: "7c2e", Err: store.ErrNotFound})

		assert.Equal(t, http.StatusNotFound, rec.Code)

		var resp apperrors.HTTPErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, apperrors.CodeNotFound, resp.Error.Code)
	})
}

func TestResetHTTPErrorResponder(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	customCalled := false
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		customCalled = true
	})

	ResetHTTPErrorResponder()

	req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	rec := httptest.NewRecorder()
	respondWithError(rec, req, apperrors.NewBadRequest("limit must be a number"))

	assert.False(t, customCalled)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRespondWithErrorForwardsHandlerErrors(t *testing.T) {
	original := httpErrorResponder
	defer func() { httpErrorResponder = original }()

	var captured error
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		captured = err
		w.WriteHeader(http.StatusConflict)
	})

	req := httptest.NewRequest("POST", "/api/v1/jobs/7c2e/approve", nil)
	rec := httptest.NewRecorder()

	wrongState := apperrors.NewInvalidState("approve job in status rejected")
	respondWithError(rec, req, wrongState)

	assert.Equal(t, wrongState, captured)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
