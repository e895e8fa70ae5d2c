// Package llm routes chat-style completions and embeddings through a
// prioritized chain of providers, each guarded by a rate limiter and a
// circuit breaker.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/osintops/threatpipe/internal/platform/breaker"
	"github.com/osintops/threatpipe/internal/platform/config"
	"github.com/osintops/threatpipe/internal/platform/ratelimit"
)

// Package errors.
var (
	ErrNoProvidersAvailable  = errors.New("no LLM providers available")
	ErrAllProvidersFailed    = errors.New("all LLM providers failed")
	ErrEmptyResponse         = errors.New("empty response from provider")
	ErrEmbeddingsUnsupported = errors.New("provider does not support embeddings")
)

// Task labels a call for metrics.
type Task string

const (
	TaskLocateBatch Task = "locate_batch"
	TaskEnrich      Task = "enrich"
	TaskEmbed       Task = "embed"
)

// Provider priorities, highest first in the chain.
const (
	PriorityPrimary   = 100
	PrioritySecondary = 80
	PriorityTertiary  = 60
	PriorityFourth    = 40
	PriorityFree      = 20
)

// Request is one chat-style call: a system instruction plus a user message.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

// Reply is a completed request with provenance.
type Reply struct {
	Content  string
	Provider string
	Model    string
}

// Provider is one configured LLM backend.
type Provider interface {
	Name() string
	Model() string
	Priority() int
	Complete(ctx context.Context, req Request) (string, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Router is the surface the pipeline sees: a fallback chain for chat and a
// single embedding path.
type Router interface {
	Complete(ctx context.Context, task Task, req Request) (Reply, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	ProviderStatuses() []ProviderStatus
}

// ProviderStatus is exposed on the health endpoint.
type ProviderStatus struct {
	Name     string `json:"name"`
	Model    string `json:"model"`
	Priority int    `json:"priority"`
	Circuit  string `json:"circuit"`
}

// guardConfig carries the shared breaker/limiter tuning.
type guardConfig struct {
	breaker breaker.Config
	waitCap time.Duration
}

// NewRouter builds the provider chain from configuration: OpenAI primary,
// Anthropic secondary, XAI tertiary, DeepSeek fourth, OpenAI-compatible
// free endpoint last. With no keys configured a deterministic mock serves
// local development.
func NewRouter(cfg *config.Config, logger *zerolog.Logger) Router {
	guard := guardConfig{
		breaker: breaker.Config{
			FailureThreshold:       cfg.CBFailureThreshold,
			MaxConsecutiveFailures: cfg.CBMaxConsecutiveFails,
			RequestVolumeThreshold: cfg.CBRequestVolume,
			CallTimeout:            cfg.CBCallTimeout,
			BaseDelay:              time.Second,
			Multiplier:             2,
			// CB_RECOVERY_TIMEOUT caps how long a circuit stays open.
			MaxDelay: cfg.CBRecoveryTimeout,
		},
		waitCap: cfg.RateLimitWaitCap,
	}

	registry := newRegistry(logger)

	if cfg.OpenAIAPIKey != "" {
		registry.register(
			newOpenAICompat(providerOpenAI, cfg.OpenAIAPIKey, "", cfg.OpenAIModel, cfg.EmbeddingModel, PriorityPrimary, logger),
			guard, cfg.OpenAITokensPerMinute,
		)
	}

	if cfg.AnthropicAPIKey != "" {
		registry.register(
			newAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel, logger),
			guard, cfg.AnthropicTokensPerMin,
		)
	}

	if cfg.XAIAPIKey != "" {
		registry.register(
			newOpenAICompat(providerXAI, cfg.XAIAPIKey, xaiBaseURL, cfg.XAIModel, "", PriorityTertiary, logger),
			guard, cfg.XAITokensPerMinute,
		)
	}

	if cfg.DeepSeekAPIKey != "" {
		registry.register(
			newOpenAICompat(providerDeepSeek, cfg.DeepSeekAPIKey, deepSeekBaseURL, cfg.DeepSeekModel, "", PriorityFourth, logger),
			guard, cfg.DeepSeekTokensPerMinute,
		)
	}

	if cfg.FallbackAPIKey != "" {
		registry.register(
			newOpenAICompat(providerFree, cfg.FallbackAPIKey, cfg.FallbackBaseURL, cfg.FallbackModel, "", PriorityFree, logger),
			guard, cfg.FallbackTokensPerMinute,
		)
	}

	if registry.providerCount() == 0 {
		logger.Warn().Msg("llm: no provider keys configured, using deterministic mock")
		registry.register(newMockProvider(), guard, cfg.FallbackTokensPerMinute)
	}

	return registry
}

// ExtractJSON pulls the first JSON object or array out of a model reply
// that may be wrapped in prose or code fences. Whichever opening bracket
// appears first wins, so an array of objects keeps its brackets.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")

	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		if end := strings.LastIndex(text, "]"); end > arrStart {
			return text[arrStart : end+1]
		}
	}

	if objStart != -1 {
		if end := strings.LastIndex(text, "}"); end > objStart {
			return text[objStart : end+1]
		}
	}

	return text
}

func newLimiter(name string, tokensPerMinute int, waitCap time.Duration) *ratelimit.Limiter {
	return ratelimit.PerMinute(name, tokensPerMinute, waitCap)
}
