package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dwsync/internal/domain"
)

func TestCanonicalKey(t *testing.T) {
	t.Parallel()

	intClass := []domain.FieldClass{domain.ClassInt}
	strClass := []domain.FieldClass{domain.ClassString}

	// A force-string integer from the source and the sink's numeric reading
	// of the same cell encode identically.
	assert.Equal(t,
		canonicalKey([]any{"1"}, intClass),
		canonicalKey([]any{float64(1)}, intClass))
	assert.Equal(t,
		canonicalKey([]any{int64(1)}, intClass),
		canonicalKey([]any{float64(1)}, intClass))

	// Textual "1" stays distinct from integer 1.
	assert.NotEqual(t,
		canonicalKey([]any{"1"}, strClass),
		canonicalKey([]any{int64(1)}, intClass))

	// Declared order matters.
	classes := []domain.FieldClass{domain.ClassString, domain.ClassInt}
	assert.NotEqual(t,
		canonicalKey([]any{"a", int64(1)}, classes),
		canonicalKey([]any{"1", int64(0)}, classes))

	// Nulls are representable.
	assert.Equal(t, "[null]", canonicalKey([]any{nil}, intClass))

	// Large integers carried as strings survive without float rounding.
	assert.Equal(t, "[9007199254740993]",
		canonicalKey([]any{"9007199254740993"}, intClass))
}

func TestBuildSinkKeySQL(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		`SELECT "region", "id" FROM "orders" ORDER BY "region", "id" LIMIT 10000 OFFSET 20000`,
		buildSinkKeySQL("orders", []string{"region", "id"}, 10000, 20000))
}
