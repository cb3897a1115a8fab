// Package app wires the sync service: stores, clients, engine, scheduler,
// and the admin API handler.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"dwsync/internal/api"
	"dwsync/internal/config"
	"dwsync/internal/engine"
	"dwsync/internal/kv"
	"dwsync/internal/repository"
	"dwsync/internal/runlog"
	"dwsync/internal/scheduler"
	"dwsync/internal/sheets"
	"dwsync/internal/sink"
	"dwsync/internal/source"
	"dwsync/internal/state"
)

// Deps holds the external dependencies main() must provide: database
// handles, config, and the logger.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger
}

// App holds the fully-wired application.
type App struct {
	KV         kv.Store
	Jobs       *repository.JobRepo
	Logs       *runlog.Store
	Engine     *engine.Engine
	Dispatcher *scheduler.Dispatcher
	API        *api.Handler
}

// New wires all stores, clients, the engine, and the scheduler.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	store := kv.NewSQLiteStore(deps.WriteDB, deps.ReadDB)
	jobRepo := repository.NewJobRepo(store)
	runIndex := repository.NewRunIndexRepo(store)
	logs := runlog.NewStore(store, runIndex, logger.With("component", "runlog"))
	states := state.NewStore(store)

	srcOpts, err := googleOptions(ctx, cfg, source.ScopeBigQuery, cfg.BigQueryEndpoint)
	if err != nil {
		return nil, fmt.Errorf("warehouse auth: %w", err)
	}
	src, err := source.New(ctx, logger, srcOpts...)
	if err != nil {
		return nil, err
	}

	sheetOpts, err := googleOptions(ctx, cfg, source.ScopeSheets, cfg.SheetsEndpoint)
	if err != nil {
		return nil, fmt.Errorf("sheets auth: %w", err)
	}
	sheetClient, err := sheets.New(ctx, logger, sheetOpts...)
	if err != nil {
		return nil, err
	}

	snk := sink.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, nil, logger)

	eng := engine.New(src, snk, sheetClient, states, logs, jobRepo, logger)
	dispatcher := scheduler.New(jobRepo, eng, cfg.BatchDeadline, logger)
	handler := api.NewHandler(jobRepo, eng, logs, dispatcher, sheetClient, cfg.AdminKey, logger)

	return &App{
		KV:         store,
		Jobs:       jobRepo,
		Logs:       logs,
		Engine:     eng,
		Dispatcher: dispatcher,
		API:        handler,
	}, nil
}

// googleOptions builds API client options for one scope. Each scope gets
// its own cached token source; endpoint overrides disable authentication
// for test and emulator use.
func googleOptions(ctx context.Context, cfg *config.Config, scope, endpoint string) ([]option.ClientOption, error) {
	if endpoint != "" {
		return []option.ClientOption{
			option.WithEndpoint(endpoint),
			option.WithoutAuthentication(),
		}, nil
	}
	var ts oauth2.TokenSource
	if cfg.GoogleCredentials != "" {
		var err error
		ts, err = source.TokenSourceFromFile(ctx, cfg.GoogleCredentials, scope)
		if err != nil {
			return nil, err
		}
	}
	if ts == nil {
		// No credentials configured: construct the client anyway so the
		// server can start; calls fail with PermissionDenied when used.
		return []option.ClientOption{option.WithoutAuthentication()}, nil
	}
	return []option.ClientOption{option.WithTokenSource(ts)}, nil
}

// StartSweeper launches the hourly KV expiry sweep, stopping with ctx.
func (a *App) StartSweeper(ctx context.Context, logger *slog.Logger) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			n, err := a.KV.Sweep(ctx)
			if err != nil {
				logger.Warn("kv sweep failed", "error", err)
			} else if n > 0 {
				logger.Info("kv sweep removed expired entries", "count", n)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
