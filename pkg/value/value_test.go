package value

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	assert.True(t, Equal("Done", "done"))
	assert.True(t, Equal(2.0, "2"))
	assert.True(t, Equal(3, 3.0))
	assert.True(t, Equal(true, "TRUE"))
	assert.True(t, Equal("2024-01-01", "2024-01-01T00:00:00Z"))
	assert.True(t, Equal(nil, nil))

	assert.False(t, Equal("Done", "Open"))
	assert.False(t, Equal(nil, ""))
	assert.False(t, Equal(2.0, "two"))
}

func TestCompare(t *testing.T) {
	c, ok := Compare(2.0, "10")
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = Compare("2024-02-01", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, 1, c)

	c, ok = Compare("beta", "Alpha")
	require.True(t, ok)
	assert.Equal(t, 1, c)

	_, ok = Compare(nil, "x")
	assert.False(t, ok)
}

func TestAsTime(t *testing.T) {
	at, ok := AsTime("2024-01-05")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), at)

	at, ok = AsTime("2024-01-05T10:30:00+02:00")
	require.True(t, ok)
	assert.Equal(t, 8, at.UTC().Hour())

	_, ok = AsTime("soon")
	assert.False(t, ok)
	_, ok = AsTime(42.0)
	assert.False(t, ok)
}

func TestListsAndEmptiness(t *testing.T) {
	assert.Equal(t, []any{"a", "b"}, AsList([]string{"a", "b"}))
	assert.Equal(t, []any{"solo"}, AsList("solo"))
	assert.Nil(t, AsList(nil))

	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty("  "))
	assert.True(t, IsEmpty([]any{}))
	assert.False(t, IsEmpty(0.0))
	assert.False(t, IsEmpty([]any{"x"}))

	assert.Equal(t, "a, 2", AsString([]any{"a", 2.0}))
}
