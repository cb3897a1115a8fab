// Package db provides SQLite connectivity and migration support for the
// control plane (jobs, run state, logs, run indexes).
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// The control plane is a single KV table, which shapes the pool setup:
// WAL so dashboard log polling never blocks a mid-batch state write, a
// serialized writer so run-state rewrites cannot race each other, and a
// busy timeout to cover writer handoff. The schema has no foreign keys
// (one table, opaque values), so the foreign_keys pragma is not set.
const (
	busyTimeoutMS   = 5000
	defaultReadConn = 4
)

// OpenPair opens the control-plane file as a write pool and a read pool.
//
// The write pool holds exactly one connection with immediate transaction
// locking; every engine and scheduler write funnels through it. The read
// pool fans out for the admin surface and log polling. readMaxOpen <= 0
// uses the default.
func OpenPair(path string, readMaxOpen int) (writeDB, readDB *sql.DB, err error) {
	writeDB, err = open(path, true, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("open control plane (write): %w", err)
	}
	if readMaxOpen <= 0 {
		readMaxOpen = defaultReadConn
	}
	readDB, err = open(path, false, readMaxOpen)
	if err != nil {
		_ = writeDB.Close()
		return nil, nil, fmt.Errorf("open control plane (read): %w", err)
	}
	return writeDB, readDB, nil
}

func open(path string, writer bool, maxOpen int) (*sql.DB, error) {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", fmt.Sprint(busyTimeoutMS))
	params.Set("_synchronous", "NORMAL")
	if writer {
		params.Set("_txlock", "immediate")
	}

	pool, err := sql.Open("sqlite3", path+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(maxOpen)
	pool.SetMaxIdleConns(maxOpen)
	pool.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return pool, nil
}
