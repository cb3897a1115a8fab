package runlog

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedact_SensitiveKeys(t *testing.T) {
	t.Parallel()

	out := Redact(map[string]any{
		"apiKey":        "s3cret",
		"access_token":  "tok",
		"password":      "pw",
		"client_secret": "cs",
		"credentials":   "cred",
		"authorization": "basic xyz",
		"table":         "orders",
	})

	sensitive := regexp.MustCompile(`(?i)key|token|password|secret|credential|auth`)
	for k, v := range out {
		if sensitive.MatchString(k) {
			assert.Equal(t, redactedPlaceholder, v, "key %s must be redacted", k)
		}
	}
	assert.Equal(t, "orders", out["table"])
}

func TestRedact_Nested(t *testing.T) {
	t.Parallel()

	out := Redact(map[string]any{
		"request": map[string]any{
			"bearerToken": "abc",
			"rows":        int64(5),
		},
	})
	inner, ok := out["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, redactedPlaceholder, inner["bearerToken"])
	assert.Equal(t, int64(5), inner["rows"])
}

func TestRedact_LongStringsTruncated(t *testing.T) {
	t.Parallel()

	out := Redact(map[string]any{"body": strings.Repeat("x", 2000)})
	s, ok := out["body"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(s, "…"))
	assert.LessOrEqual(t, len(s), maxStringLen+len("…"))
}

func TestRedact_Circular(t *testing.T) {
	t.Parallel()

	m := map[string]any{"name": "loop"}
	m["self"] = m

	out := Redact(m)
	assert.Equal(t, "loop", out["name"])
	assert.Equal(t, map[string]any{"error": "circular"}, out["self"])
}

func TestRedact_Nil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Redact(nil))
}
