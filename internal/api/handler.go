// Package api implements the admin HTTP surface: job CRUD, run-and-resume,
// log access, schedule management, and the sheet-connectivity diagnostic.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"

	"dwsync/internal/domain"
	"dwsync/internal/middleware"
	"dwsync/internal/repository"
	"dwsync/internal/runlog"
	"dwsync/internal/sheets"
)

// BatchRunner runs one engine batch. Implemented by the engine.
type BatchRunner interface {
	RunBatch(ctx context.Context, job *domain.Job, runID string, batchNumber int) (*domain.BatchResult, error)
}

// RunAller drives every enabled job to completion in dependency order.
// Implemented by the scheduler.
type RunAller interface {
	RunAll(ctx context.Context) error
	Reload(ctx context.Context) error
}

// SheetProber checks connectivity to a spreadsheet.
type SheetProber interface {
	ReadRange(ctx context.Context, spreadsheetID, rangeA1 string) ([][]any, error)
}

// Handler serves the admin API.
type Handler struct {
	jobs     *repository.JobRepo
	engine   BatchRunner
	logs     *runlog.Store
	runner   RunAller
	sheets   SheetProber
	adminKey string
	logger   *slog.Logger
}

// NewHandler creates the admin API handler.
func NewHandler(jobs *repository.JobRepo, engine BatchRunner, logs *runlog.Store,
	runner RunAller, sheetProber SheetProber, adminKey string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		jobs:     jobs,
		engine:   engine,
		logs:     logs,
		runner:   runner,
		sheets:   sheetProber,
		adminKey: adminKey,
		logger:   logger.With("component", "api"),
	}
}

// Routes mounts the API under /api.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/auth", h.Auth)
	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(h.adminKey))
		r.Get("/api/configs", h.ListConfigs)
		r.Post("/api/configs", h.CreateConfig)
		r.Put("/api/configs/{id}", h.UpdateConfig)
		r.Delete("/api/configs/{id}", h.DeleteConfig)
		r.Post("/api/sync/{id}", h.RunSync)
		r.Post("/api/sync", h.RunAll)
		r.Get("/api/logs/{jobID}", h.ReadLogs)
		r.Delete("/api/logs/{jobID}", h.ClearLogs)
		r.Get("/api/schedule/{id}", h.GetSchedule)
		r.Put("/api/schedule/{id}", h.UpdateSchedule)
		r.Get("/api/sheets/check", h.CheckSheet)
	})
}

// Auth checks a submitted key against the configured secret.
func (h *Handler) Auth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewError(domain.KindConfigInvalid, "malformed body"))
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.Key), []byte(h.adminKey)) != 1 {
		writeError(w, domain.NewError(domain.KindUnauthorized, "invalid key"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ListConfigs returns every configured job.
func (h *Handler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// CreateConfig stores a new job, assigning an id when absent.
func (h *Handler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var job domain.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeError(w, domain.NewError(domain.KindConfigInvalid, "malformed job: %v", err))
		return
	}
	if err := job.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := h.validateSchedule(job.CronSchedule); err != nil {
		writeError(w, err)
		return
	}
	if err := h.jobs.Put(r.Context(), &job); err != nil {
		writeError(w, err)
		return
	}
	h.reloadScheduler(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": job})
}

// UpdateConfig replaces an existing job.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.jobs.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	var job domain.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeError(w, domain.NewError(domain.KindConfigInvalid, "malformed job: %v", err))
		return
	}
	job.ID = id
	if err := job.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := h.validateSchedule(job.CronSchedule); err != nil {
		writeError(w, err)
		return
	}
	if err := h.jobs.Put(r.Context(), &job); err != nil {
		writeError(w, err)
		return
	}
	h.reloadScheduler(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// DeleteConfig removes a job.
func (h *Handler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.jobs.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := h.jobs.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.reloadScheduler(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// RunSync executes one batch of a run, starting a fresh run when the body
// names none.
func (h *Handler) RunSync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		RunID       string `json:"runId"`
		BatchNumber int    `json:"batchNumber"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body) // empty body starts batch 1
	}

	result, err := h.engine.RunBatch(r.Context(), job, body.RunID, body.BatchNumber)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"runId":         result.RunID,
		"hasMore":       result.HasMore,
		"nextBatch":     result.NextBatch,
		"rowsProcessed": result.RowsProcessed,
		"rowsDeleted":   result.RowsDeleted,
		"stats":         result.Summary,
	})
}

// RunAll triggers every enabled job sequentially in dependency order.
func (h *Handler) RunAll(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.RunAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ReadLogs returns the run index and, for a selected or latest run, its
// entries.
func (h *Handler) ReadLogs(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	runID := r.URL.Query().Get("runId")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	runs, err := h.logs.ListRuns(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if runID == "" {
		runID, err = h.logs.LatestRunID(r.Context(), jobID)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	var entries []domain.LogEntry
	if runID != "" {
		entries, err = h.logs.Read(r.Context(), jobID, runID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	if runs == nil {
		runs = []domain.RunInfo{}
	}
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exists": len(entries) > 0,
		"runs":   runs,
		"logs":   entries,
	})
}

// ClearLogs deletes logs for one run or every run of the job.
func (h *Handler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	runID := r.URL.Query().Get("runId")
	deleted, err := h.logs.Clear(r.Context(), jobID, runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": deleted})
}

// GetSchedule reads a job's cron schedule.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cronSchedule": job.CronSchedule})
}

// UpdateSchedule updates a job's cron schedule and reloads the dispatcher.
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		CronSchedule string `json:"cronSchedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.NewError(domain.KindConfigInvalid, "malformed body"))
		return
	}
	if err := h.validateSchedule(body.CronSchedule); err != nil {
		writeError(w, err)
		return
	}
	job.CronSchedule = body.CronSchedule
	if err := h.jobs.Put(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}
	h.reloadScheduler(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// CheckSheet probes connectivity to a spreadsheet URL.
func (h *Handler) CheckSheet(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	id, err := sheets.ParseSpreadsheetURL(raw)
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := h.sheets.ReadRange(r.Context(), id, "A1:A1")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reachable": true, "hasData": len(rows) > 0})
}

func (h *Handler) validateSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return domain.NewError(domain.KindConfigInvalid, "invalid cron schedule %q: %v", expr, err)
	}
	return nil
}

func (h *Handler) reloadScheduler(ctx context.Context) {
	if h.runner == nil {
		return
	}
	if err := h.runner.Reload(ctx); err != nil {
		h.logger.Warn("scheduler reload failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatusFromError(err), map[string]any{
		"success": false,
		"error":   err.Error(),
		"kind":    string(domain.KindOf(err)),
	})
}
