package source

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// OAuth scopes. The warehouse and spreadsheet scopes get independent token
// sources: one cached token per scope.
const (
	ScopeBigQuery = "https://www.googleapis.com/auth/bigquery"
	ScopeSheets   = "https://www.googleapis.com/auth/spreadsheets.readonly"
)

// tokenEarlyExpiry refreshes tokens 60 seconds before they expire.
const tokenEarlyExpiry = time.Minute

// TokenSourceFromFile parses a service-account JSON key and returns a
// cached token source for the given scope. The underlying source signs a
// short-lived RS256 JWT and exchanges it at the OAuth endpoint; the reuse
// wrapper caches the access token until the early-expiry window.
//
// This is the only place the credential file is parsed; the raw JSON never
// travels further than here.
func TokenSourceFromFile(ctx context.Context, path string, scope string) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	return TokenSourceFromJSON(ctx, data, scope)
}

// TokenSourceFromJSON is TokenSourceFromFile over in-memory key material.
func TokenSourceFromJSON(ctx context.Context, data []byte, scope string) (oauth2.TokenSource, error) {
	cfg, err := google.JWTConfigFromJSON(data, scope)
	if err != nil {
		return nil, fmt.Errorf("parse service account: %w", err)
	}
	return oauth2.ReuseTokenSourceWithExpiry(nil, cfg.TokenSource(ctx), tokenEarlyExpiry), nil
}
