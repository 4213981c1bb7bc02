package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/pixelmint/pixelmint/internal/api/middleware"
	"github.com/pixelmint/pixelmint/internal/api/response"
	"github.com/pixelmint/pixelmint/internal/jobs"
	"github.com/pixelmint/pixelmint/internal/store"
	"github.com/pixelmint/pixelmint/internal/tenant"
	"github.com/pixelmint/pixelmint/pkg/models"
)

// JobService is the orchestrator surface the job handlers depend on.
type JobService interface {
	Create(ctx context.Context, scope tenant.Scope, jobType, inputRef string, params json.RawMessage) (*models.Job, error)
	Run(ctx context.Context, scope tenant.Scope, jobID uuid.UUID) (*models.Job, error)
	Cancel(ctx context.Context, scope tenant.Scope, jobID uuid.UUID) (*models.Job, error)
	Get(ctx context.Context, scope tenant.Scope, jobID uuid.UUID) (*models.Job, error)
	List(ctx context.Context, scope tenant.Scope, filter store.JobFilter) ([]*models.Job, int, error)
}

type jobResponse struct {
	ID           uuid.UUID       `json:"id"`
	Type         string          `json:"type"`
	Status       models.JobStatus `json:"status"`
	Progress     int             `json:"progress"`
	Cost         int64           `json:"cost"`
	InputRef     string          `json:"input_ref"`
	ResultRef    *string         `json:"result_ref"`
	ErrorMessage *string         `json:"error"`
	CreatedAt    string          `json:"created_at"`
	StartedAt    *string         `json:"started_at,omitempty"`
	CompletedAt  *string         `json:"completed_at,omitempty"`
}

func toJobResponse(j *models.Job) jobResponse {
	progress := 0
	switch j.Status {
	case models.JobStatusProcessing:
		progress = 50
	case models.JobStatusSucceeded, models.JobStatusFailed, models.JobStatusCancelled:
		progress = 100
	}
	return jobResponse{
		ID:           j.ID,
		Type:         j.Type,
		Status:       j.Status,
		Progress:     progress,
		Cost:         j.Cost,
		InputRef:     j.InputRef,
		ResultRef:    j.ResultRef,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt.UTC().Format(time.RFC3339),
		StartedAt:    fmtTimePtr(j.StartedAt),
		CompletedAt:  fmtTimePtr(j.CompletedAt),
	}
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewCreateJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := mw.GetScope(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		var req struct {
			JobType  string          `json:"job_type"`
			InputRef string          `json:"input_ref"`
			Params   json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.JobType == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job_type is required", nil)
			return
		}
		if req.InputRef == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "input_ref is required", nil)
			return
		}

		job, err := svc.Create(r.Context(), scope, req.JobType, req.InputRef, req.Params)
		if err != nil {
			if errors.Is(err, jobs.ErrUnknownJobType) {
				response.Error(w, http.StatusBadRequest, "UNKNOWN_JOB_TYPE",
					"job_type is not supported", map[string]any{"supported": jobs.JobTypes()})
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Created(w, toJobResponse(job))
	}
}

// NewRunJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/run.
// The operation is idempotent: re-running a succeeded or in-flight job
// returns the stored state without charging again.
func NewRunJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := mw.GetScope(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobID, ok := jobIDParam(r)
		if !ok {
			// Malformed ids are indistinguishable from missing ones.
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		job, err := svc.Run(r.Context(), scope, jobID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			case errors.Is(err, store.ErrInsufficientCredits):
				response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS",
					"Not enough credits to run this job", nil)
			case errors.Is(err, jobs.ErrTerminalJob):
				response.Error(w, http.StatusConflict, "JOB_NOT_RUNNABLE",
					"Job already finished; create a new job instead", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, toJobResponse(job))
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := mw.GetScope(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobID, ok := jobIDParam(r)
		if !ok {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		job, err := svc.Cancel(r.Context(), scope, jobID)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			case errors.Is(err, jobs.ErrNotCancellable):
				response.Error(w, http.StatusConflict, "JOB_NOT_CANCELLABLE",
					"Only pending jobs can be cancelled", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, toJobResponse(job))
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := mw.GetScope(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		jobID, ok := jobIDParam(r)
		if !ok {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		job, err := svc.Get(r.Context(), scope, jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, toJobResponse(job))
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
// Results are strictly scoped to the caller's tenant.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, ok := mw.GetScope(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}

		filter := store.JobFilter{
			Page:  queryInt(r, "page"),
			Limit: queryInt(r, "limit"),
		}
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, ok := models.ParseJobStatus(raw)
			if !ok {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"status must be one of pending, processing, succeeded, failed, cancelled", nil)
				return
			}
			filter.Status = status
		}

		list, total, err := svc.List(r.Context(), scope, filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		out := make([]jobResponse, 0, len(list))
		for _, j := range list {
			out = append(out, toJobResponse(j))
		}
		norm := filter.Normalize()
		response.Collection(w, out, response.NewMeta(norm.Page, norm.Limit, total))
	}
}

func jobIDParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
