// Package config loads pipeline configuration from environment variables.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the flat set of pipeline knobs. Defaults match the documented
// operating point; unreadable configuration is fatal at startup.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required,notEmpty"`
	HealthPort  int    `env:"HEALTH_PORT" envDefault:"8080"`

	// Feed catalogue: comma-separated URLs, each optionally "url|source_tag".
	FeedURLs           []string      `env:"FEED_URLS" envSeparator:","`
	ScheduleInterval   time.Duration `env:"SCHEDULE_INTERVAL" envDefault:"15m"`
	MaxConcurrency     int           `env:"MAX_CONCURRENCY" envDefault:"16"`
	PerHostConcurrency int           `env:"PER_HOST_CONCURRENCY" envDefault:"2"`
	FetchTimeout       time.Duration `env:"FETCH_TIMEOUT" envDefault:"25s"`
	FetchCutoffDays    int           `env:"FETCH_CUTOFF_DAYS" envDefault:"30"`
	FetchUserAgent     string        `env:"FETCH_USER_AGENT" envDefault:"threatpipe/1.0 (+https://github.com/osintops/threatpipe)"`

	FilterStrict       bool   `env:"FILTER_STRICT" envDefault:"true"`
	CoocWindowTokens   int    `env:"COOC_WINDOW_TOKENS" envDefault:"15"`
	ThreatKeywordsFile string `env:"THREAT_KEYWORDS_FILE"`

	BatchSizeThreshold int           `env:"BATCH_SIZE_THRESHOLD" envDefault:"10"`
	BatchTimeThreshold time.Duration `env:"BATCH_TIME_THRESHOLD" envDefault:"30s"`
	BatchTimerEnabled  bool          `env:"BATCH_TIMER_ENABLED" envDefault:"true"`
	BatchRetryCap      int           `env:"BATCH_RETRY_CAP" envDefault:"2"`

	LocationTotalTimeout   time.Duration `env:"LOCATION_TOTAL_TIMEOUT" envDefault:"10s"`
	LocationCacheTimeout   time.Duration `env:"LOCATION_CACHE_TIMEOUT" envDefault:"1s"`
	LocationDetTimeout     time.Duration `env:"LOCATION_DET_TIMEOUT" envDefault:"5s"`
	LocationReverseTimeout time.Duration `env:"LOCATION_REVERSE_TIMEOUT" envDefault:"3s"`

	CBFailureThreshold      float64       `env:"CB_FAILURE_THRESHOLD" envDefault:"0.6"`
	CBMaxConsecutiveFails   int           `env:"CB_MAX_CONSECUTIVE_FAILURES" envDefault:"2"`
	CBRecoveryTimeout       time.Duration `env:"CB_RECOVERY_TIMEOUT" envDefault:"120s"`
	CBRequestVolume         int           `env:"CB_REQUEST_VOLUME_THRESHOLD" envDefault:"3"`
	CBCallTimeout           time.Duration `env:"CB_CALL_TIMEOUT" envDefault:"30s"`
	RateLimitWaitCap        time.Duration `env:"RATE_LIMIT_WAIT_CAP" envDefault:"15s"`
	OpenAITokensPerMinute   int           `env:"OPENAI_TOKENS_PER_MINUTE" envDefault:"3000"`
	XAITokensPerMinute      int           `env:"XAI_TOKENS_PER_MINUTE" envDefault:"1500"`
	DeepSeekTokensPerMinute int           `env:"DEEPSEEK_TOKENS_PER_MINUTE" envDefault:"5000"`
	AnthropicTokensPerMin   int           `env:"ANTHROPIC_TOKENS_PER_MINUTE" envDefault:"1000"`
	FallbackTokensPerMinute int           `env:"FALLBACK_TOKENS_PER_MINUTE" envDefault:"1000"`
	GeocodeTokensPerMinute  int           `env:"GEOCODE_TOKENS_PER_MINUTE" envDefault:"60"`

	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OpenAIModel     string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL" envDefault:"claude-haiku-4.5"`
	XAIAPIKey       string `env:"XAI_API_KEY"`
	XAIModel        string `env:"XAI_MODEL" envDefault:"grok-3-mini"`
	DeepSeekAPIKey  string `env:"DEEPSEEK_API_KEY"`
	DeepSeekModel   string `env:"DEEPSEEK_MODEL" envDefault:"deepseek-chat"`
	FallbackAPIKey  string `env:"FALLBACK_API_KEY"`
	FallbackBaseURL string `env:"FALLBACK_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	FallbackModel   string `env:"FALLBACK_MODEL" envDefault:"mistralai/mistral-7b-instruct:free"`
	LLMCallTimeout  time.Duration `env:"LLM_CALL_TIMEOUT" envDefault:"60s"`
	LLMBatchBudget  time.Duration `env:"LLM_BATCH_BUDGET" envDefault:"30s"`

	NominatimBaseURL string `env:"NOMINATIM_BASE_URL" envDefault:"https://nominatim.openstreetmap.org"`

	DedupSemanticThreshold float64 `env:"DEDUP_SEMANTIC_THRESHOLD" envDefault:"0.92"`
	EmbeddingModel         string  `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`

	ThreatTaxonomy []string `env:"THREAT_TAXONOMY" envSeparator:"," envDefault:"terrorism,armed_conflict,civil_unrest,crime,cyber,infrastructure,health,natural_disaster"`

	RetentionDays int `env:"RETENTION_DAYS" envDefault:"180"`

	DBMaxConnections int32         `env:"DB_MAX_CONNECTIONS" envDefault:"10"`
	DBMinConnections int32         `env:"DB_MIN_CONNECTIONS" envDefault:"1"`
	DBMaxConnIdle    time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	DBMaxConnLife    time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`
}

// Feed is one parsed catalogue entry.
type Feed struct {
	URL       string
	SourceTag string
}

// Load reads configuration from the environment, consulting .env first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Catalogue parses FEED_URLS into feeds. The optional source tag follows a
// pipe: "https://example.org/rss|example".
func (c *Config) Catalogue() []Feed {
	feeds := make([]Feed, 0, len(c.FeedURLs))

	for _, raw := range c.FeedURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		feed := Feed{URL: raw}
		if idx := strings.IndexByte(raw, '|'); idx >= 0 {
			feed.URL = strings.TrimSpace(raw[:idx])
			feed.SourceTag = strings.TrimSpace(raw[idx+1:])
		}

		feeds = append(feeds, feed)
	}

	return feeds
}
