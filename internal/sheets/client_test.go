package sheets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"dwsync/internal/domain"
)

func TestParseSpreadsheetURL(t *testing.T) {
	t.Parallel()

	id, err := ParseSpreadsheetURL("https://docs.google.com/spreadsheets/d/1AbCdEfGhIjKlMnOpQrStUvWxYz0123456789abcd/edit#gid=0")
	require.NoError(t, err)
	assert.Equal(t, "1AbCdEfGhIjKlMnOpQrStUvWxYz0123456789abcd", id)

	// A bare id passes through.
	id, err = ParseSpreadsheetURL("1AbCdEfGhIjKlMnOpQrStUvWxYz0123456789abcd")
	require.NoError(t, err)
	assert.Equal(t, "1AbCdEfGhIjKlMnOpQrStUvWxYz0123456789abcd", id)

	_, err = ParseSpreadsheetURL("not a sheet")
	require.Error(t, err)
	assert.Equal(t, domain.KindConfigInvalid, domain.KindOf(err))
}

// newTestClient builds a client against a fake values endpoint with sleeps
// stubbed out.
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]time.Duration) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(context.Background(), nil,
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestReadRange(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"range":"Sheet1!A1:B2","values":[["Date","Amount"],["2024-01-01","3.14"]]}`))
	})

	values, err := c.ReadRange(context.Background(), "sheet-id", "Sheet1!A1:B2")
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "Date", values[0][0])
}

func TestReadRange_RetriesThrottling(t *testing.T) {
	t.Parallel()

	var calls int
	c, slept := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"rate limit"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"values":[["ok"]]}`))
	})

	values, err := c.ReadRange(context.Background(), "sheet-id", "Sheet1!A1:A1")
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, 3, calls)

	// Backoff doubles with ±500ms jitter: 1s then 2s.
	require.Len(t, *slept, 2)
	assert.InDelta(t, float64(time.Second), float64((*slept)[0]), float64(jitterRange/2))
	assert.InDelta(t, float64(2*time.Second), float64((*slept)[1]), float64(jitterRange/2))
}

func TestReadRange_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls int
	c, slept := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":500,"message":"backend"}}`))
	})

	_, err := c.ReadRange(context.Background(), "sheet-id", "Sheet1!A1:A1")
	require.Error(t, err)
	assert.Equal(t, maxRetries+1, calls, "initial attempt plus three retries")
	assert.Equal(t, domain.KindSourceUnavailable, domain.KindOf(err))

	// The full backoff ladder runs: 1s, 2s, 4s, each ±500ms.
	require.Len(t, *slept, 3)
	assert.InDelta(t, float64(4*time.Second), float64((*slept)[2]), float64(jitterRange/2))
}

func TestReadRange_NonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	var calls int
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"no access"}}`))
	})

	_, err := c.ReadRange(context.Background(), "sheet-id", "Sheet1!A1:A1")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, domain.KindPermissionDenied, domain.KindOf(err))
}
