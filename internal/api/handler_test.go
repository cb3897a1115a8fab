package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dwsync/internal/domain"
	"dwsync/internal/kv"
	"dwsync/internal/repository"
	"dwsync/internal/runlog"
)

// stubEngine records RunBatch calls and returns canned results.
type stubEngine struct {
	results []*domain.BatchResult
	err     error
	calls   int
}

func (s *stubEngine) RunBatch(_ context.Context, _ *domain.Job, _ string, _ int) (*domain.BatchResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return r, nil
}

type stubRunner struct {
	ranAll   int
	reloaded int
}

func (s *stubRunner) RunAll(context.Context) error { s.ranAll++; return nil }
func (s *stubRunner) Reload(context.Context) error { s.reloaded++; return nil }

type stubSheets struct{}

func (stubSheets) ReadRange(context.Context, string, string) ([][]any, error) {
	return [][]any{{"ok"}}, nil
}

type apiHarness struct {
	router *chi.Mux
	jobs   *repository.JobRepo
	logs   *runlog.Store
	engine *stubEngine
	runner *stubRunner
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	store := kv.NewMemoryStore()
	jobs := repository.NewJobRepo(store)
	logs := runlog.NewStore(store, repository.NewRunIndexRepo(store), nil)
	engine := &stubEngine{results: []*domain.BatchResult{{RunID: "run-1", HasMore: false, RowsProcessed: 2}}}
	runner := &stubRunner{}

	h := NewHandler(jobs, engine, logs, runner, stubSheets{}, "s3cret", nil)
	router := chi.NewRouter()
	h.Routes(router)
	return &apiHarness{router: router, jobs: jobs, logs: logs, engine: engine, runner: runner}
}

func (h *apiHarness) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("Authorization", "Bearer s3cret")
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func validJob() domain.Job {
	return domain.Job{
		Name:     "orders",
		Type:     domain.JobTypeBQToSupabase,
		Enabled:  true,
		BigQuery: domain.BigQuerySource{ProjectID: "p", Dataset: "d", Table: "t"},
		Supabase: domain.SupabaseSink{Table: "orders", UpsertColumns: []string{"id"}},
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/auth", map[string]string{"key": "s3cret"}, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/auth", map[string]string{"key": "wrong"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConfigs_RequireBearer(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/configs", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConfigs_CRUD(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	// Create assigns an id.
	rec := h.do(t, http.MethodPost, "/api/configs", validJob(), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created struct {
		Success bool       `json:"success"`
		Job     domain.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Success)
	require.NotEmpty(t, created.Job.ID)
	assert.Equal(t, 1, h.runner.reloaded, "config change reloads the scheduler")

	// List.
	rec = h.do(t, http.MethodGet, "/api/configs", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jobs))
	assert.Len(t, jobs, 1)

	// Update.
	updated := validJob()
	updated.Name = "orders-v2"
	rec = h.do(t, http.MethodPut, "/api/configs/"+created.Job.ID, updated, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := h.jobs.Get(context.Background(), created.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, "orders-v2", got.Name)

	// Delete.
	rec = h.do(t, http.MethodDelete, "/api/configs/"+created.Job.ID, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodDelete, "/api/configs/"+created.Job.ID, nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigs_InvalidJobRejected(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	bad := validJob()
	bad.Supabase.UpsertColumns = nil
	rec := h.do(t, http.MethodPost, "/api/configs", bad, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	cron := validJob()
	cron.CronSchedule = "not cron"
	rec = h.do(t, http.MethodPost, "/api/configs", cron, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunSync(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	job := validJob()
	require.NoError(t, h.jobs.Put(context.Background(), &job))

	rec := h.do(t, http.MethodPost, "/api/sync/"+job.ID, map[string]any{}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Success       bool   `json:"success"`
		RunID         string `json:"runId"`
		HasMore       bool   `json:"hasMore"`
		RowsProcessed int64  `json:"rowsProcessed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Success)
	assert.Equal(t, "run-1", out.RunID)
	assert.False(t, out.HasMore)
	assert.EqualValues(t, 2, out.RowsProcessed)
	assert.Equal(t, 1, h.engine.calls)
}

func TestRunSync_ErrorMapping(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)
	h.engine.err = domain.NewError(domain.KindDestructiveAnomaly, "would remove 600 of 1000 sink rows")

	job := validJob()
	require.NoError(t, h.jobs.Put(context.Background(), &job))

	rec := h.do(t, http.MethodPost, "/api/sync/"+job.ID, map[string]any{}, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "DestructiveAnomaly")
}

func TestRunSync_UnknownJob(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/sync/ghost", map[string]any{}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunAll(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/sync", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.runner.ranAll)
}

func TestLogsEndpoints(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)
	ctx := context.Background()

	rl, err := h.logs.StartRun(ctx, "job-1", "orders", "run-1")
	require.NoError(t, err)
	rl.Info(ctx, "fetch", "hello", nil)

	rec := h.do(t, http.MethodGet, "/api/logs/job-1", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Exists bool             `json:"exists"`
		Runs   []domain.RunInfo `json:"runs"`
		Logs   []domain.LogEntry
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Exists)
	assert.Len(t, out.Runs, 1)
	require.Len(t, out.Logs, 1)
	assert.Equal(t, "hello", out.Logs[0].Message)

	rec = h.do(t, http.MethodDelete, "/api/logs/job-1?runId=run-1", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":1`)
}

func TestScheduleEndpoints(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	job := validJob()
	job.CronSchedule = "0 6 * * *"
	require.NoError(t, h.jobs.Put(context.Background(), &job))

	rec := h.do(t, http.MethodGet, "/api/schedule/"+job.ID, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "0 6 * * *")

	rec = h.do(t, http.MethodPut, "/api/schedule/"+job.ID, map[string]string{"cronSchedule": "*/15 * * * *"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := h.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "*/15 * * * *", got.CronSchedule)

	rec = h.do(t, http.MethodPut, "/api/schedule/"+job.ID, map[string]string{"cronSchedule": "banana"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckSheet(t *testing.T) {
	t.Parallel()
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet,
		"/api/sheets/check?url=https://docs.google.com/spreadsheets/d/1AbCdEfGhIjKlMnOpQrStUvWxYz0123456789abcd/edit", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reachable":true`)

	rec = h.do(t, http.MethodGet, "/api/sheets/check?url=nope", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
