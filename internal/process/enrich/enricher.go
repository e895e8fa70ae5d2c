// Package enrich turns a located entry into a scored, classified alert
// through the LLM fallback chain.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/osintops/threatpipe/internal/core/domain"
	"github.com/osintops/threatpipe/internal/core/llm"
	"github.com/osintops/threatpipe/internal/platform/observability"
)

// Enrichment rejections, distinguishable by errors.Is.
var (
	ErrMissingLocation = errors.New("entry has no usable location")
	ErrNonNumericScore = errors.New("model returned a non-numeric score")
	ErrInvalidReply    = errors.New("model reply failed validation")
)

const systemPromptTemplate = `You are a threat intelligence analyst. Assess the incident below.
Respond with ONLY a JSON object:
{"category": one of [%s], "subcategory": "free text", "threat_label": "critical|high|medium|low",
"score": 0-100 number, "confidence": 0-1 number, "reasoning": "one or two sentences",
"components": {"sentiment": -1..1, "forecast": 0..1, "cyber_score": 0..100, "physical_score": 0..100}}
score and confidence MUST be JSON numbers, never strings. Omit any component you cannot assess.`

// Enricher scores and classifies entries. Safe for concurrent use.
type Enricher struct {
	router      llm.Router
	taxonomy    []string
	callTimeout time.Duration
	logger      *zerolog.Logger
	now         func() time.Time
}

// New creates an enricher using the given category taxonomy.
func New(router llm.Router, taxonomy []string, callTimeout time.Duration, logger *zerolog.Logger) *Enricher {
	return &Enricher{
		router:      router,
		taxonomy:    taxonomy,
		callTimeout: callTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// enrichmentReply mirrors the model's JSON. Score and confidence stay raw
// so a quoted number is detected as such instead of a generic parse error.
type enrichmentReply struct {
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory"`
	ThreatLabel string          `json:"threat_label"`
	Score       json.RawMessage `json:"score"`
	Confidence  json.RawMessage `json:"confidence"`
	Reasoning   string          `json:"reasoning"`
	Components  struct {
		Sentiment     json.RawMessage `json:"sentiment"`
		Forecast      json.RawMessage `json:"forecast"`
		CyberScore    json.RawMessage `json:"cyber_score"`
		PhysicalScore json.RawMessage `json:"physical_score"`
	} `json:"components"`
}

// Enrich produces an alert for a located entry. Entries without a usable
// location are rejected up front; no tokens are spent on them.
func (en *Enricher) Enrich(ctx context.Context, e *domain.Entry) (*domain.EnrichedAlert, error) {
	if !usableLocation(e.Location) {
		observability.AlertsRejected.WithLabelValues(observability.RejectMissingLocation).Inc()
		return nil, ErrMissingLocation
	}

	en.embed(ctx, e)

	callCtx, cancel := context.WithTimeout(ctx, en.callTimeout)
	defer cancel()

	reply, err := en.router.Complete(callCtx, llm.TaskEnrich, llm.Request{
		System:    fmt.Sprintf(systemPromptTemplate, strings.Join(en.taxonomy, ", ")),
		User:      userPrompt(e),
		MaxTokens: 512,
	})
	if err != nil {
		observability.EnrichmentsTotal.WithLabelValues("llm_error").Inc()
		return nil, fmt.Errorf("enrich: %w", err)
	}

	alert, err := en.buildAlert(e, reply)
	if err != nil {
		observability.EnrichmentsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	observability.EnrichmentsTotal.WithLabelValues("ok").Inc()

	return alert, nil
}

// embed computes the entry embedding. Failure is survivable: the alert
// just skips semantic dedup.
func (en *Enricher) embed(ctx context.Context, e *domain.Entry) {
	if len(e.Embedding) > 0 {
		return
	}

	vec, err := en.router.Embed(ctx, e.TextBlob)
	if err != nil {
		en.logger.Warn().Err(err).Str("uuid", e.UUID).Msg("enrich: embedding failed, semantic dedup disabled for entry")
		return
	}

	e.Embedding = vec
}

func (en *Enricher) buildAlert(e *domain.Entry, reply llm.Reply) (*domain.EnrichedAlert, error) {
	var parsed enrichmentReply
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply.Content)), &parsed); err != nil {
		observability.AlertsRejected.WithLabelValues(observability.RejectParseFailure).Inc()
		return nil, fmt.Errorf("enrich: parse reply: %w: %w", ErrInvalidReply, err)
	}

	score, err := numericField(parsed.Score)
	if err != nil {
		observability.AlertsRejected.WithLabelValues(observability.RejectNonNumericScore).Inc()
		return nil, fmt.Errorf("enrich: score: %w", ErrNonNumericScore)
	}

	confidence, err := numericField(parsed.Confidence)
	if err != nil {
		observability.AlertsRejected.WithLabelValues(observability.RejectNonNumericScore).Inc()
		return nil, fmt.Errorf("enrich: confidence: %w", ErrNonNumericScore)
	}

	score = clamp(score, 0, 100)
	confidence = clamp(confidence, 0, 1)

	label := strings.ToLower(strings.TrimSpace(parsed.ThreatLabel))
	if !domain.ValidThreatLabel(label) {
		en.logger.Warn().
			Str("uuid", e.UUID).
			Str("threat_label", parsed.ThreatLabel).
			Msg("enrich: unknown threat label, deriving from score")

		label = string(labelFromScore(score))
	}

	now := en.now().UTC()

	alert := &domain.EnrichedAlert{
		RawItem:     domain.RawItemFromEntry(e),
		Category:    strings.TrimSpace(parsed.Category),
		Subcategory: strings.TrimSpace(parsed.Subcategory),
		ThreatLabel: domain.ThreatLabel(label),
		Score:       score,
		Confidence:  confidence,
		Reasoning:   strings.TrimSpace(parsed.Reasoning),
		Embedding:   e.Embedding,
		Components:  en.components(e.UUID, parsed),
		ModelUsed:   reply.Provider + "/" + reply.Model,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	return alert, nil
}

// components parses the optional analytics. Each one fails independently
// to null; a broken analytic never costs the alert.
func (en *Enricher) components(uuid string, parsed enrichmentReply) domain.ScoreComponents {
	parse := func(name string, raw json.RawMessage, lo, hi float64) *float64 {
		if len(raw) == 0 {
			return nil
		}

		v, err := numericField(raw)
		if err != nil {
			en.logger.Debug().Str("uuid", uuid).Str("component", name).Msg("enrich: non-numeric component dropped")
			return nil
		}

		v = clamp(v, lo, hi)

		return &v
	}

	return domain.ScoreComponents{
		Sentiment:     parse("sentiment", parsed.Components.Sentiment, -1, 1),
		Forecast:      parse("forecast", parsed.Components.Forecast, 0, 1),
		CyberScore:    parse("cyber_score", parsed.Components.CyberScore, 0, 100),
		PhysicalScore: parse("physical_score", parsed.Components.PhysicalScore, 0, 100),
	}
}

func userPrompt(e *domain.Entry) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Title: %s\nSummary: %s\n", e.Title, e.Summary)

	if e.KWMatch != nil {
		fmt.Fprintf(&sb, "Matched keyword: %s (%s)\n", e.KWMatch.Keyword, e.KWMatch.MatchType)
	}

	loc := e.Location
	fmt.Fprintf(&sb, "Location: %s", loc.Country)

	if loc.City != "" {
		fmt.Fprintf(&sb, ", %s", loc.City)
	}

	fmt.Fprintf(&sb, " (method %s, confidence %s)\n", loc.Method, loc.Confidence)

	return sb.String()
}

// usableLocation mirrors the storage invariant: coordinates or a country.
func usableLocation(loc *domain.Location) bool {
	if loc == nil || !loc.Method.Tier1() {
		return false
	}

	return loc.HasCoordinates() || loc.Country != ""
}

// numericField accepts only a JSON number.
func numericField(raw json.RawMessage) (float64, error) {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}

	return v, nil
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

func labelFromScore(score float64) domain.ThreatLabel {
	switch {
	case score >= 80:
		return domain.LabelCritical
	case score >= 60:
		return domain.LabelHigh
	case score >= 40:
		return domain.LabelMedium
	default:
		return domain.LabelLow
	}
}
