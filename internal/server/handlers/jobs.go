package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"

	apperrors "github.com/runveil/codeq/internal/errors"
	"github.com/runveil/codeq/pkg/queue"
	"github.com/runveil/codeq/pkg/store"
)

// JobService is the queue surface the job endpoints expose. The owner-side
// facade implements it.
type JobService interface {
	Get(ctx context.Context, id string) (*queue.Job, error)
	List(ctx context.Context, filter store.Filter) ([]queue.Job, error)
	ListPending(ctx context.Context) ([]queue.Job, error)
	Approve(ctx context.Context, id string) (*queue.Job, error)
	Reject(ctx context.Context, id, reason string) (*queue.Job, error)
}

// JobsHandler serves the /api/v1/jobs endpoints.
type JobsHandler struct {
	svc JobService
	fs  afero.Fs
}

// NewJobsHandler creates the handler. The filesystem is used to read log
// payloads referenced by job records; nil means the host filesystem.
func NewJobsHandler(svc JobService, fsys afero.Fs) *JobsHandler {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &JobsHandler{svc: svc, fs: fsys}
}

// Routes mounts the job endpoints on a router.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/pending", h.ListPending)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
	r.Get("/{id}/logs", h.Logs)
}

type jobListResponse struct {
	Jobs  []queue.Job `json:"jobs"`
	Count int         `json:"count"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// List returns jobs matching the query filters, newest first.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.Filter{
		TargetIdentity:    strings.TrimSpace(q.Get("target")),
		RequesterIdentity: strings.TrimSpace(q.Get("requester")),
	}

	if s := strings.TrimSpace(q.Get("status")); s != "" {
		status := queue.Status(s)
		if !status.Valid() {
			respondWithError(w, r, apperrors.NewValidation(fmt.Sprintf("unknown status %q", s)))
			return
		}
		filter.Status = status
	}
	if l := strings.TrimSpace(q.Get("limit")); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			respondWithError(w, r, apperrors.NewValidation(fmt.Sprintf("invalid limit %q", l)))
			return
		}
		filter.Limit = n
	}

	jobs, err := h.svc.List(r.Context(), filter)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []queue.Job{}
	}
	writeJSON(w, http.StatusOK, jobListResponse{Jobs: jobs, Count: len(jobs)})
}

// ListPending returns the jobs awaiting review.
func (h *JobsHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.svc.ListPending(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []queue.Job{}
	}
	writeJSON(w, http.StatusOK, jobListResponse{Jobs: jobs, Count: len(jobs)})
}

// Get returns one job by id.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Approve moves a pending job to approved.
func (h *JobsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Reject moves a pending job to rejected, recording the reason from the
// request body. An empty body rejects without a reason.
func (h *JobsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, r, apperrors.NewBadRequest("malformed reject body"))
		return
	}

	job, err := h.svc.Reject(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Reason))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Logs streams the combined execution log as plain text. A job that has
// not started yet has an empty log.
func (h *JobsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if job.LogsLocation == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	f, err := h.fs.Open(job.LogsLocation)
	if err != nil {
		if os.IsNotExist(err) {
			w.WriteHeader(http.StatusOK)
			return
		}
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "read job logs"))
		return
	}
	defer f.Close()

	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}
