package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/threatpipe")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.MaxConcurrency)
	assert.Equal(t, 2, cfg.PerHostConcurrency)
	assert.Equal(t, 10, cfg.BatchSizeThreshold)
	assert.Equal(t, 2, cfg.BatchRetryCap)
	assert.InDelta(t, 0.6, cfg.CBFailureThreshold, 1e-9)
	assert.Equal(t, 2, cfg.CBMaxConsecutiveFails)
	assert.Equal(t, 120*time.Second, cfg.CBRecoveryTimeout)
	assert.InDelta(t, 0.92, cfg.DedupSemanticThreshold, 1e-9)
	assert.Equal(t, 3000, cfg.OpenAITokensPerMinute)
	assert.Equal(t, 180, cfg.RetentionDays)
}

func TestLoadRequiresDSN(t *testing.T) {
	// Set-but-empty must be as fatal as unset.
	t.Setenv("POSTGRES_DSN", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestCatalogueParsesSourceTags(t *testing.T) {
	cfg := &Config{FeedURLs: []string{
		"https://a.example/rss|alpha",
		" https://b.example/atom ",
		"",
	}}

	feeds := cfg.Catalogue()
	require.Len(t, feeds, 2)

	assert.Equal(t, "https://a.example/rss", feeds[0].URL)
	assert.Equal(t, "alpha", feeds[0].SourceTag)
	assert.Equal(t, "https://b.example/atom", feeds[1].URL)
	assert.Empty(t, feeds[1].SourceTag)
}
