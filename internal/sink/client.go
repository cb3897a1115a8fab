// Package sink executes upserts, deletes, DDL, and introspection queries
// against the relational sink over its REST surface. DDL and dynamic
// SELECTs go through the privileged exec_sql procedure.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dwsync/internal/domain"
)

// Client speaks to the sink's REST surface.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a sink client. baseURL is the project root (the client
// appends /rest/v1).
func NewClient(baseURL, serviceKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: httpClient,
		logger:     logger.With("component", "sink"),
	}
}

// Upsert atomically writes rows against the unique constraint over
// conflictColumns. Empty rows is a no-op.
func (c *Client) Upsert(ctx context.Context, table string, rows []map[string]any, conflictColumns []string) error {
	if len(rows) == 0 {
		return nil
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s?on_conflict=%s",
		c.baseURL, url.PathEscape(table), url.QueryEscape(strings.Join(conflictColumns, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upsert request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	status, respBody, err := c.do(req)
	if err != nil {
		return domain.WrapError(domain.KindSinkUnavailable, err, "upsert into %s", table)
	}
	if status >= 300 {
		return domain.NewError(domain.KindSinkUpsertFailed, "upsert into %s: HTTP %d: %s", table, status, truncateBody(respBody))
	}
	return nil
}

// ExecDDL executes a DDL statement via the privileged procedure and then
// signals the REST layer to reload its schema cache.
func (c *Client) ExecDDL(ctx context.Context, statement string) error {
	if _, err := c.execSQL(ctx, statement); err != nil {
		if domain.KindOf(err) == domain.KindSinkUnavailable {
			return err
		}
		return domain.WrapError(domain.KindSinkDDLFailed, err, "exec ddl")
	}
	if _, err := c.execSQL(ctx, "NOTIFY pgrst, 'reload schema'"); err != nil {
		c.logger.Warn("schema cache reload signal failed", "error", err)
	}
	return nil
}

// ExecQuery executes a dynamic SELECT via the privileged procedure,
// returning JSON rows. A missing relation reads as an empty result so a
// first-ever run can proceed.
func (c *Client) ExecQuery(ctx context.Context, sql string) ([]map[string]any, error) {
	rows, err := c.execSQL(ctx, sql)
	if err != nil {
		if isMissingRelation(err) {
			return nil, nil
		}
		return nil, err
	}
	return rows, nil
}

// execSQL invokes the exec_sql stored procedure.
func (c *Client) execSQL(ctx context.Context, sql string) ([]map[string]any, error) {
	body, err := json.Marshal(map[string]string{"sql": sql})
	if err != nil {
		return nil, fmt.Errorf("encode sql: %w", err)
	}
	endpoint := c.baseURL + "/rest/v1/rpc/exec_sql"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	c.setHeaders(req)

	status, respBody, err := c.do(req)
	if err != nil {
		return nil, domain.WrapError(domain.KindSinkUnavailable, err, "rpc exec_sql")
	}
	if status >= 300 {
		return nil, fmt.Errorf("rpc exec_sql: HTTP %d: %s", status, truncateBody(respBody))
	}
	if len(bytes.TrimSpace(respBody)) == 0 || bytes.Equal(bytes.TrimSpace(respBody), []byte("null")) {
		return nil, nil
	}
	var rows []map[string]any
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("decode rpc result: %w", err)
	}
	return rows, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", "application/json")
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// isMissingRelation detects the "relation does not exist" failure shape
// (SQLSTATE 42P01) in an error message.
func isMissingRelation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "42P01") ||
		(strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist"))
}

func truncateBody(body []byte) string {
	const max = 500
	s := string(body)
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
