package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osintops/threatpipe/internal/core/domain"
	"github.com/osintops/threatpipe/internal/core/llm"
)

// fakeRouter scripts the completion and the embedding independently.
type fakeRouter struct {
	reply    string
	err      error
	vec      []float32
	embedErr error

	completeCalls int
	embedCalls    int
}

func (f *fakeRouter) Complete(context.Context, llm.Task, llm.Request) (llm.Reply, error) {
	f.completeCalls++
	return llm.Reply{Content: f.reply, Provider: "fake", Model: "fake-1"}, f.err
}

func (f *fakeRouter) Embed(context.Context, string) ([]float32, error) {
	f.embedCalls++
	return f.vec, f.embedErr
}

func (f *fakeRouter) ProviderStatuses() []llm.ProviderStatus { return nil }

func taxonomy() []string {
	return []string{"terrorism", "armed_conflict", "crime", "cyber"}
}

func locatedEntry() *domain.Entry {
	lat, lon := 9.08, 8.67
	title := "Bomb attack on checkpoint"
	link := "https://example.org/attack"

	return &domain.Entry{
		Title:       title,
		Link:        link,
		Summary:     "An improvised device detonated at a military checkpoint.",
		TextBlob:    "bomb attack on checkpoint an improvised device detonated at a military checkpoint.",
		UUID:        domain.EntryUUID(title, link),
		ContentHash: domain.EntryContentHash(title, link),
		KWMatch:     &domain.KeywordMatch{Keyword: "bomb", MatchType: domain.MatchBase},
		Location: &domain.Location{
			Country:    "Nigeria",
			City:       "Abuja",
			Latitude:   &lat,
			Longitude:  &lon,
			Method:     domain.MethodLegacyPrecise,
			Confidence: domain.ConfidenceHigh,
		},
	}
}

func newEnricher(router llm.Router) *Enricher {
	logger := zerolog.Nop()
	en := New(router, taxonomy(), 5*time.Second, &logger)
	en.now = func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) }

	return en
}

func TestEnrichHappyPath(t *testing.T) {
	router := &fakeRouter{
		reply: `{"category":"terrorism","subcategory":"ied","threat_label":"critical",
			"score":92,"confidence":0.87,"reasoning":"Targeted attack on security forces.",
			"components":{"sentiment":-0.8,"physical_score":95}}`,
		vec: []float32{0.1, 0.2},
	}

	alert, err := newEnricher(router).Enrich(context.Background(), locatedEntry())
	require.NoError(t, err)

	assert.Equal(t, "terrorism", alert.Category)
	assert.Equal(t, domain.LabelCritical, alert.ThreatLabel)
	assert.InDelta(t, 92, alert.Score, 1e-9)
	assert.InDelta(t, 0.87, alert.Confidence, 1e-9)
	assert.Equal(t, "fake/fake-1", alert.ModelUsed)
	assert.Equal(t, []float32{0.1, 0.2}, alert.Embedding)
	assert.Equal(t, []string{"bomb"}, alert.Tags)
	assert.Equal(t, "Nigeria", alert.Country)
	assert.True(t, alert.HasLocation())

	require.NotNil(t, alert.Components.Sentiment)
	assert.InDelta(t, -0.8, *alert.Components.Sentiment, 1e-9)
	assert.Nil(t, alert.Components.Forecast, "omitted component stays null")
	require.NotNil(t, alert.Components.PhysicalScore)
	assert.InDelta(t, 95, *alert.Components.PhysicalScore, 1e-9)
}

func TestEnrichRejectsMissingLocation(t *testing.T) {
	router := &fakeRouter{}
	e := locatedEntry()
	e.Location = nil

	_, err := newEnricher(router).Enrich(context.Background(), e)
	assert.ErrorIs(t, err, ErrMissingLocation)
	assert.Zero(t, router.completeCalls, "no tokens spent on unlocatable entries")

	e = locatedEntry()
	e.Location = &domain.Location{Method: domain.MethodUnknown, Confidence: domain.ConfidenceNone}

	_, err = newEnricher(router).Enrich(context.Background(), e)
	assert.ErrorIs(t, err, ErrMissingLocation)
}

func TestEnrichRejectsQuotedScore(t *testing.T) {
	router := &fakeRouter{
		reply: `{"category":"crime","threat_label":"low","score":"45","confidence":0.5,"reasoning":"x"}`,
	}

	_, err := newEnricher(router).Enrich(context.Background(), locatedEntry())
	assert.ErrorIs(t, err, ErrNonNumericScore)
}

func TestEnrichRejectsQuotedConfidence(t *testing.T) {
	router := &fakeRouter{
		reply: `{"category":"crime","threat_label":"low","score":45,"confidence":"high","reasoning":"x"}`,
	}

	_, err := newEnricher(router).Enrich(context.Background(), locatedEntry())
	assert.ErrorIs(t, err, ErrNonNumericScore)
}

func TestEnrichRejectsGarbageReply(t *testing.T) {
	router := &fakeRouter{reply: "I'm sorry, I cannot assess this."}

	_, err := newEnricher(router).Enrich(context.Background(), locatedEntry())
	assert.ErrorIs(t, err, ErrInvalidReply)
}

func TestEnrichClampsOutOfRangeValues(t *testing.T) {
	router := &fakeRouter{
		reply: `{"category":"cyber","threat_label":"high","score":140,"confidence":1.7,"reasoning":"x",
			"components":{"sentiment":-3}}`,
	}

	alert, err := newEnricher(router).Enrich(context.Background(), locatedEntry())
	require.NoError(t, err)

	assert.InDelta(t, 100, alert.Score, 1e-9)
	assert.InDelta(t, 1, alert.Confidence, 1e-9)
	require.NotNil(t, alert.Components.Sentiment)
	assert.InDelta(t, -1, *alert.Components.Sentiment, 1e-9)
}

func TestEnrichDerivesLabelWhenInvalid(t *testing.T) {
	router := &fakeRouter{
		reply: `{"category":"crime","threat_label":"catastrophic","score":85,"confidence":0.6,"reasoning":"x"}`,
	}

	alert, err := newEnricher(router).Enrich(context.Background(), locatedEntry())
	require.NoError(t, err)

	assert.Equal(t, domain.LabelCritical, alert.ThreatLabel)
}

func TestEnrichNonNumericComponentIsNull(t *testing.T) {
	router := &fakeRouter{
		reply: `{"category":"crime","threat_label":"low","score":20,"confidence":0.4,"reasoning":"x",
			"components":{"forecast":"unlikely","cyber_score":10}}`,
	}

	alert, err := newEnricher(router).Enrich(context.Background(), locatedEntry())
	require.NoError(t, err)

	assert.Nil(t, alert.Components.Forecast)
	require.NotNil(t, alert.Components.CyberScore)
	assert.InDelta(t, 10, *alert.Components.CyberScore, 1e-9)
}

func TestEnrichSurvivesEmbeddingFailure(t *testing.T) {
	router := &fakeRouter{
		reply:    `{"category":"crime","threat_label":"low","score":20,"confidence":0.4,"reasoning":"x"}`,
		embedErr: errors.New("embeddings down"),
	}

	alert, err := newEnricher(router).Enrich(context.Background(), locatedEntry())
	require.NoError(t, err)
	assert.Empty(t, alert.Embedding)
}

func TestEnrichReusesExistingEmbedding(t *testing.T) {
	router := &fakeRouter{
		reply: `{"category":"crime","threat_label":"low","score":20,"confidence":0.4,"reasoning":"x"}`,
	}

	e := locatedEntry()
	e.Embedding = []float32{0.9}

	alert, err := newEnricher(router).Enrich(context.Background(), e)
	require.NoError(t, err)

	assert.Zero(t, router.embedCalls)
	assert.Equal(t, []float32{0.9}, alert.Embedding)
}

func TestEnrichPropagatesProviderFailure(t *testing.T) {
	router := &fakeRouter{err: llm.ErrAllProvidersFailed}

	_, err := newEnricher(router).Enrich(context.Background(), locatedEntry())
	assert.ErrorIs(t, err, llm.ErrAllProvidersFailed)
}
