package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullableTime(t *testing.T) {
	assert.Nil(t, nullableTime(time.Time{}))

	ts := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	got := nullableTime(ts)
	require.NotNil(t, got)
	assert.Equal(t, ts, *got)
}

func TestNullableVector(t *testing.T) {
	assert.Nil(t, nullableVector(nil))
	assert.Nil(t, nullableVector([]float32{}))

	got := nullableVector([]float32{0.1, 0.2})
	require.NotNil(t, got)
	assert.Equal(t, []float32{0.1, 0.2}, got.Slice())
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "abuja", cacheKey("  Abuja "))
	assert.Equal(t, "côte d'ivoire", cacheKey("Côte d'Ivoire"))
	assert.Equal(t, "", cacheKey("   "))
}
