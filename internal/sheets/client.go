// Package sheets reads spreadsheet ranges for sheet→warehouse jobs, with
// retry on throttling and server errors.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"regexp"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"dwsync/internal/domain"
)

// Retry policy: 429 and 5xx are retried with exponential backoff and
// jitter (1s, 2s, 4s, each ±500ms), up to three retries after the initial
// attempt. Other statuses fail immediately.
const (
	maxRetries  = 3
	baseBackoff = time.Second
	jitterRange = time.Second // ±500ms
)

// spreadsheetURLRe extracts the spreadsheet id from a shared URL.
var spreadsheetURLRe = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9\-_]+)`)

// Client reads spreadsheet values.
type Client struct {
	svc    *sheets.Service
	logger *slog.Logger

	// sleep is swapped out by tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a spreadsheet client.
func New(ctx context.Context, logger *slog.Logger, clientOpts ...option.ClientOption) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{
		svc:    svc,
		logger: logger.With("component", "sheets"),
		sleep:  sleepCtx,
	}, nil
}

// ParseSpreadsheetURL extracts the spreadsheet id from a share URL. A bare
// id passes through unchanged.
func ParseSpreadsheetURL(raw string) (string, error) {
	if m := spreadsheetURLRe.FindStringSubmatch(raw); m != nil {
		return m[1], nil
	}
	if regexp.MustCompile(`^[a-zA-Z0-9\-_]{20,}$`).MatchString(raw) {
		return raw, nil
	}
	return "", domain.NewError(domain.KindConfigInvalid, "malformed spreadsheet URL %q", raw)
}

// ReadRange returns the values of an A1-notation range. Cells come back in
// their formatted string rendering, which the import coercion relies on.
func (c *Client) ReadRange(ctx context.Context, spreadsheetID, rangeA1 string) ([][]any, error) {
	var vr *sheets.ValueRange
	err := c.withRetry(ctx, rangeA1, func() error {
		var err error
		vr, err = c.svc.Spreadsheets.Values.Get(spreadsheetID, rangeA1).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	return vr.Values, nil
}

func (c *Client) withRetry(ctx context.Context, what string, call func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << uint(attempt-1)
			backoff += time.Duration(rand.Int64N(int64(jitterRange))) - jitterRange/2
			c.logger.Warn("retrying sheet read",
				"range", what, "attempt", attempt+1, "backoff", backoff, "error", lastErr)
			if err := c.sleep(ctx, backoff); err != nil {
				return domain.WrapError(domain.KindSourceUnavailable, err, "read %s canceled", what)
			}
		}
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return classifyErr(lastErr, what)
		}
	}
	return classifyErr(lastErr, what)
}

func retryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	// Transport errors retry too.
	return true
}

func classifyErr(err error, what string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return domain.WrapError(domain.KindNotFound, err, "range %s not found", what)
		case http.StatusForbidden:
			return domain.WrapError(domain.KindPermissionDenied, err, "access to %s denied", what)
		}
	}
	return domain.WrapError(domain.KindSourceUnavailable, err, "read %s", what)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
