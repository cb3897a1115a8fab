package source

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dwsync/internal/domain"
)

func TestConvertValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		raw   any
		class domain.FieldClass
		force bool
		want  any
	}{
		{"null propagates", nil, domain.ClassInt, false, nil},
		{"int in safe range", "42", domain.ClassInt, false, int64(42)},
		{"negative int", "-7", domain.ClassInt, false, int64(-7)},
		{"int beyond safe range stays string", "9007199254740993", domain.ClassInt, false, "9007199254740993"},
		{"force-string int stays string", "42", domain.ClassInt, true, "42"},
		{"float parses", "3.14", domain.ClassFloat, false, 3.14},
		{"force-string float stays string", "3.14", domain.ClassFloat, true, "3.14"},
		{"bool true", "true", domain.ClassBool, false, true},
		{"bool false", "false", domain.ClassBool, false, false},
		{"numeric stays string", "12345.678901234", domain.ClassNumeric, false, "12345.678901234"},
		{"date stays string", "2024-01-01", domain.ClassDate, false, "2024-01-01"},
		{"timestamp epoch renders textual", "1704067200.0", domain.ClassTimestamp, false, "2024-01-01 00:00:00+00"},
		{"string passes through", "hello", domain.ClassString, false, "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, convertValue(tt.raw, tt.class, tt.force))
		})
	}
}

func TestStringifyValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", StringifyValue(nil))
	assert.Equal(t, "42", StringifyValue(int64(42)))
	assert.Equal(t, "3.14", StringifyValue(3.14))
	assert.Equal(t, "true", StringifyValue(true))
	assert.Equal(t, "2024-01-01", StringifyValue("2024-01-01"))
	assert.Equal(t, "9007199254740993", StringifyValue("9007199254740993"))
}
