package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/pixelmint/pixelmint/internal/api/middleware"
	"github.com/pixelmint/pixelmint/internal/jobs"
	"github.com/pixelmint/pixelmint/internal/store"
	"github.com/pixelmint/pixelmint/internal/tenant"
	"github.com/pixelmint/pixelmint/pkg/models"
)

// --- mock JobService ---

type mockJobService struct {
	createFn func(scope tenant.Scope, jobType, inputRef string) (*models.Job, error)
	runFn    func(scope tenant.Scope, jobID uuid.UUID) (*models.Job, error)
	cancelFn func(scope tenant.Scope, jobID uuid.UUID) (*models.Job, error)
	getFn    func(scope tenant.Scope, jobID uuid.UUID) (*models.Job, error)
	listFn   func(scope tenant.Scope, filter store.JobFilter) ([]*models.Job, int, error)
}

func (m *mockJobService) Create(_ context.Context, scope tenant.Scope, jobType, inputRef string, _ json.RawMessage) (*models.Job, error) {
	return m.createFn(scope, jobType, inputRef)
}
func (m *mockJobService) Run(_ context.Context, scope tenant.Scope, jobID uuid.UUID) (*models.Job, error) {
	return m.runFn(scope, jobID)
}
func (m *mockJobService) Cancel(_ context.Context, scope tenant.Scope, jobID uuid.UUID) (*models.Job, error) {
	return m.cancelFn(scope, jobID)
}
func (m *mockJobService) Get(_ context.Context, scope tenant.Scope, jobID uuid.UUID) (*models.Job, error) {
	return m.getFn(scope, jobID)
}
func (m *mockJobService) List(_ context.Context, scope tenant.Scope, filter store.JobFilter) ([]*models.Job, int, error) {
	return m.listFn(scope, filter)
}

// --- helpers ---

func sampleJob(status models.JobStatus) *models.Job {
	now := time.Now().UTC()
	j := &models.Job{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		Type:      "upscale",
		Status:    status,
		Cost:      1,
		InputRef:  "uploads/in.png",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status == models.JobStatusSucceeded {
		ref := "results/out.png"
		j.ResultRef = &ref
		j.CompletedAt = &now
	}
	return j
}

// jobsRouter mounts the handlers the way the real router does, so URL params
// resolve.
func jobsRouter(svc JobService) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/jobs", NewCreateJobHandler(svc))
	r.Get("/api/v1/jobs", NewListJobsHandler(svc))
	r.Get("/api/v1/jobs/{jobID}", NewGetJobHandler(svc))
	r.Post("/api/v1/jobs/{jobID}/run", NewRunJobHandler(svc))
	r.Post("/api/v1/jobs/{jobID}/cancel", NewCancelJobHandler(svc))
	return r
}

func authedReq(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	scope := tenant.NewScope(uuid.New())
	return r.WithContext(mw.SetScope(r.Context(), scope))
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func decodeErrCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Error.Code
}

// --- Create ---

func TestCreateJob_Success(t *testing.T) {
	svc := &mockJobService{
		createFn: func(_ tenant.Scope, jobType, inputRef string) (*models.Job, error) {
			j := sampleJob(models.JobStatusPending)
			j.Type = jobType
			j.InputRef = inputRef
			return j, nil
		},
	}
	rec := httptest.NewRecorder()
	req := authedReq(t, http.MethodPost, "/api/v1/jobs",
		map[string]any{"job_type": "upscale", "input_ref": "uploads/in.png"})
	jobsRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["status"] != "pending" {
		t.Errorf("status = %v, want pending", data["status"])
	}
	if data["progress"] != float64(0) {
		t.Errorf("progress = %v, want 0", data["progress"])
	}
}

func TestCreateJob_UnknownType(t *testing.T) {
	svc := &mockJobService{
		createFn: func(tenant.Scope, string, string) (*models.Job, error) {
			return nil, fmt.Errorf("%w: %q", jobs.ErrUnknownJobType, "deep_fry")
		},
	}
	rec := httptest.NewRecorder()
	req := authedReq(t, http.MethodPost, "/api/v1/jobs",
		map[string]any{"job_type": "deep_fry", "input_ref": "uploads/in.png"})
	jobsRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := decodeErrCode(t, rec); code != "UNKNOWN_JOB_TYPE" {
		t.Errorf("error code = %s, want UNKNOWN_JOB_TYPE", code)
	}
}

func TestCreateJob_MissingFields(t *testing.T) {
	svc := &mockJobService{}
	for _, body := range []map[string]any{
		{"input_ref": "uploads/in.png"},
		{"job_type": "upscale"},
	} {
		rec := httptest.NewRecorder()
		req := authedReq(t, http.MethodPost, "/api/v1/jobs", body)
		jobsRouter(svc).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %v: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestCreateJob_Unauthenticated(t *testing.T) {
	svc := &mockJobService{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(`{}`))
	jobsRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// --- Run ---

func TestRunJob_Success(t *testing.T) {
	job := sampleJob(models.JobStatusProcessing)
	svc := &mockJobService{
		runFn: func(_ tenant.Scope, jobID uuid.UUID) (*models.Job, error) {
			if jobID != job.ID {
				t.Errorf("handler passed wrong job id %s", jobID)
			}
			return job, nil
		},
	}
	rec := httptest.NewRecorder()
	req := authedReq(t, http.MethodPost, "/api/v1/jobs/"+job.ID.String()+"/run", nil)
	jobsRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["status"] != "processing" {
		t.Errorf("status = %v, want processing", data["status"])
	}
	if data["progress"] != float64(50) {
		t.Errorf("progress = %v, want 50", data["progress"])
	}
}

func TestRunJob_ErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"not found", store.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"insufficient credits", store.ErrInsufficientCredits, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS"},
		{"terminal job", jobs.ErrTerminalJob, http.StatusConflict, "JOB_NOT_RUNNABLE"},
		{"storage failure", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			svc := &mockJobService{
				runFn: func(tenant.Scope, uuid.UUID) (*models.Job, error) {
					return nil, fmt.Errorf("running job: %w", c.err)
				},
			}
			rec := httptest.NewRecorder()
			req := authedReq(t, http.MethodPost, "/api/v1/jobs/"+uuid.NewString()+"/run", nil)
			jobsRouter(svc).ServeHTTP(rec, req)

			if rec.Code != c.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, c.wantCode)
			}
			if code := decodeErrCode(t, rec); code != c.wantBody {
				t.Errorf("error code = %s, want %s", code, c.wantBody)
			}
		})
	}
}

func TestRunJob_MalformedIDLooksLikeMissing(t *testing.T) {
	svc := &mockJobService{
		runFn: func(tenant.Scope, uuid.UUID) (*models.Job, error) {
			t.Fatal("service must not be called for a malformed id")
			return nil, nil
		},
	}
	rec := httptest.NewRecorder()
	req := authedReq(t, http.MethodPost, "/api/v1/jobs/not-a-uuid/run", nil)
	jobsRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for malformed id, got %d", rec.Code)
	}
	if code := decodeErrCode(t, rec); code != "NOT_FOUND" {
		t.Errorf("error code = %s, want NOT_FOUND", code)
	}
}

// --- Cancel ---

func TestCancelJob_NotCancellable(t *testing.T) {
	svc := &mockJobService{
		cancelFn: func(tenant.Scope, uuid.UUID) (*models.Job, error) {
			return nil, jobs.ErrNotCancellable
		},
	}
	rec := httptest.NewRecorder()
	req := authedReq(t, http.MethodPost, "/api/v1/jobs/"+uuid.NewString()+"/cancel", nil)
	jobsRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if code := decodeErrCode(t, rec); code != "JOB_NOT_CANCELLABLE" {
		t.Errorf("error code = %s, want JOB_NOT_CANCELLABLE", code)
	}
}

// --- Get ---

func TestGetJob_SucceededCarriesResult(t *testing.T) {
	job := sampleJob(models.JobStatusSucceeded)
	svc := &mockJobService{
		getFn: func(tenant.Scope, uuid.UUID) (*models.Job, error) { return job, nil },
	}
	rec := httptest.NewRecorder()
	req := authedReq(t, http.MethodGet, "/api/v1/jobs/"+job.ID.String(), nil)
	jobsRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	data := decodeData(t, rec)
	if data["result_ref"] != "results/out.png" {
		t.Errorf("result_ref = %v", data["result_ref"])
	}
	if data["progress"] != float64(100) {
		t.Errorf("progress = %v, want 100", data["progress"])
	}
}

// --- List ---

func TestListJobs_PassesFilter(t *testing.T) {
	var gotFilter store.JobFilter
	svc := &mockJobService{
		listFn: func(_ tenant.Scope, filter store.JobFilter) ([]*models.Job, int, error) {
			gotFilter = filter
			return []*models.Job{sampleJob(models.JobStatusPending)}, 1, nil
		},
	}
	rec := httptest.NewRecorder()
	req := authedReq(t, http.MethodGet, "/api/v1/jobs?status=pending&page=2&limit=5", nil)
	jobsRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotFilter.Status != models.JobStatusPending || gotFilter.Page != 2 || gotFilter.Limit != 5 {
		t.Errorf("filter = %+v", gotFilter)
	}

	var env struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 1 || env.Meta.Total != 1 {
		t.Errorf("got %d items, total %d", len(env.Data), env.Meta.Total)
	}
}

func TestListJobs_InvalidStatus(t *testing.T) {
	svc := &mockJobService{}
	rec := httptest.NewRecorder()
	req := authedReq(t, http.MethodGet, "/api/v1/jobs?status=running", nil)
	jobsRouter(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
