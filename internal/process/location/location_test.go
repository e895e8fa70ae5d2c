package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osintops/threatpipe/internal/core/domain"
	"github.com/osintops/threatpipe/internal/core/geocode"
	"github.com/osintops/threatpipe/internal/core/llm"
	"github.com/osintops/threatpipe/internal/process/filter"
	"github.com/osintops/threatpipe/internal/process/location/batchqueue"
)

type fakeStore struct {
	loc *domain.Location
	err error
}

func (f *fakeStore) CachedLocation(context.Context, string) (*domain.Location, error) {
	return f.loc, f.err
}

type fakeGeoCache struct {
	hits map[string]*geocode.Result
	puts int
}

func (f *fakeGeoCache) Get(_ context.Context, city, country string) (*geocode.Result, error) {
	return f.hits[city+"|"+country], nil
}

func (f *fakeGeoCache) Put(context.Context, string, string, float64, float64) error {
	f.puts++
	return nil
}

type fakeGeocoder struct {
	result *geocode.Result
	err    error
	calls  int
}

func (f *fakeGeocoder) Geocode(context.Context, string, string) (*geocode.Result, error) {
	f.calls++
	return f.result, f.err
}

func testBudgets() Budgets {
	return Budgets{
		Total:         10 * time.Second,
		Cache:         time.Second,
		Deterministic: 5 * time.Second,
		Reverse:       3 * time.Second,
	}
}

func newTestResolver(store Store, cache GeoCache, geo Geocoder) *Resolver {
	logger := zerolog.Nop()
	return NewResolver(store, cache, geo, NewGazetteer(), testBudgets(), &logger)
}

func entryWith(title, summary string, feedTags ...string) *domain.Entry {
	return &domain.Entry{
		Title:    title,
		Summary:  summary,
		FeedTags: feedTags,
		TextBlob: filter.TextBlob(title, summary),
		UUID:     domain.EntryUUID(title, "https://example.org/x"),
	}
}

func TestResolveFeedTagCountry(t *testing.T) {
	r := newTestResolver(nil, nil, nil)
	e := entryWith("Convoy attacked on highway", "Gunmen opened fire on a convoy.", "country:Nigeria")

	deferred := r.Resolve(context.Background(), e)
	require.False(t, deferred)
	require.NotNil(t, e.Location)

	assert.Equal(t, "Nigeria", e.Location.Country)
	assert.Equal(t, domain.MethodFeedTag, e.Location.Method)
	assert.Equal(t, domain.ConfidenceHigh, e.Location.Confidence)
	assert.True(t, e.Location.HasCoordinates(), "country resolves to centroid coordinates")
	assert.Equal(t, "West Africa", e.Location.Region)
}

func TestResolveFeedTagAlias(t *testing.T) {
	r := newTestResolver(nil, nil, nil)
	e := entryWith("Stabbing near station", "Police responded to a stabbing.", "country:UK")

	deferred := r.Resolve(context.Background(), e)
	require.False(t, deferred)

	assert.Equal(t, "United Kingdom", e.Location.Country)
	assert.Equal(t, domain.MethodFeedTagMapped, e.Location.Method)
}

func TestResolveGazetteerCityBeatsFeedTagCountry(t *testing.T) {
	geo := &fakeGeocoder{result: &geocode.Result{Latitude: 9.05, Longitude: 7.49}}
	cache := &fakeGeoCache{hits: map[string]*geocode.Result{}}
	r := newTestResolver(nil, cache, geo)

	e := entryWith("Explosion in Abuja market", "A bomb detonated in a crowded market in abuja.", "country:Nigeria")

	deferred := r.Resolve(context.Background(), e)
	require.False(t, deferred)

	assert.Equal(t, "Abuja", e.Location.City, "city hit is more specific than the tag")
	assert.Equal(t, domain.MethodLegacyPrecise, e.Location.Method)
	assert.True(t, e.Location.HasCoordinates())
	assert.Equal(t, 1, geo.calls)
	assert.Equal(t, 1, cache.puts, "fresh geocode result is cached")
}

func TestResolveGeoCacheHitSkipsGeocoder(t *testing.T) {
	geo := &fakeGeocoder{err: errors.New("should not be called")}
	cache := &fakeGeoCache{hits: map[string]*geocode.Result{
		"Belgrade|Serbia": {Latitude: 44.81, Longitude: 20.45},
	}}
	r := newTestResolver(nil, cache, geo)

	e := entryWith("Protest turns violent in belgrade", "Clashes with police reported.")

	deferred := r.Resolve(context.Background(), e)
	require.False(t, deferred)

	require.True(t, e.Location.HasCoordinates())
	assert.InDelta(t, 44.81, *e.Location.Latitude, 1e-6)
	assert.Zero(t, geo.calls)
}

func TestResolveGeocoderFailureFallsBackToCentroid(t *testing.T) {
	geo := &fakeGeocoder{err: errors.New("nominatim down")}
	r := newTestResolver(nil, nil, geo)

	e := entryWith("Kidnapping in maiduguri", "Armed men abducted three aid workers.")

	deferred := r.Resolve(context.Background(), e)
	require.False(t, deferred)

	assert.Equal(t, "Maiduguri", e.Location.City)
	assert.True(t, e.Location.HasCoordinates(), "centroid backfills when geocoding fails")
}

func TestResolveDBCacheShortCircuits(t *testing.T) {
	lat, lon := 48.37, 31.16
	store := &fakeStore{loc: &domain.Location{
		Country:    "Ukraine",
		City:       "Kyiv",
		Latitude:   &lat,
		Longitude:  &lon,
		Method:     domain.MethodLLMBatch,
		Confidence: domain.ConfidenceMedium,
	}}
	r := newTestResolver(store, nil, nil)

	e := entryWith("Follow-up on strike", "Officials updated casualty figures.")

	deferred := r.Resolve(context.Background(), e)
	require.False(t, deferred)

	assert.Equal(t, domain.MethodDBCache, e.Location.Method)
	assert.Equal(t, "Kyiv", e.Location.City)
	assert.Equal(t, domain.ConfidenceMedium, e.Location.Confidence)
}

func TestResolveUnknownLocationDefers(t *testing.T) {
	r := newTestResolver(nil, nil, nil)
	e := entryWith("Militants claim responsibility for blast", "The group released a statement online.")

	deferred := r.Resolve(context.Background(), e)
	assert.True(t, deferred)
	assert.Nil(t, e.Location)
}

func TestResolveAmbiguousCountryOnlyDefers(t *testing.T) {
	r := newTestResolver(nil, nil, nil)
	e := entryWith("Attacks reported across Nigeria", "Incidents in multiple states overnight.")

	deferred := r.Resolve(context.Background(), e)
	assert.True(t, deferred, "multi-location text goes to the batch extractor")

	require.NotNil(t, e.LocationHint, "country candidate survives as a fallback hint")
	assert.Equal(t, "Nigeria", e.LocationHint.Country)
}

func TestResolveAmbiguitySignalsMatchWholeWordsOnly(t *testing.T) {
	r := newTestResolver(nil, nil, nil)
	e := entryWith("Multiplex cinema attacked in chad", "Police secured the area.")

	deferred := r.Resolve(context.Background(), e)
	require.False(t, deferred, "embedded signal words do not trigger the defer")
	assert.Equal(t, "Chad", e.Location.Country)
}

func TestHasAmbiguitySignal(t *testing.T) {
	assert.True(t, hasAmbiguitySignal("incidents across three states"))
	assert.True(t, hasAmbiguitySignal("unrest in several regions overnight"))
	assert.False(t, hasAmbiguitySignal("the multiplex reopened"))
	assert.False(t, hasAmbiguitySignal("acrossing is not a word"))
}

func TestFinalizeCountryFallback(t *testing.T) {
	r := newTestResolver(nil, nil, nil)
	e := entryWith("Attacks reported across Nigeria", "Incidents in multiple states overnight.")
	require.True(t, r.Resolve(context.Background(), e))

	require.True(t, FinalizeCountryFallback(e))
	require.NotNil(t, e.Location)
	assert.Equal(t, "Nigeria", e.Location.Country)
	assert.Equal(t, domain.MethodCentroid, e.Location.Method)
	assert.Equal(t, domain.ConfidenceLow, e.Location.Confidence)
	assert.True(t, e.Location.HasCoordinates(), "fallback carries the country centroid")

	bare := entryWith("Militants claim responsibility", "No place named.")
	assert.False(t, FinalizeCountryFallback(bare), "no hint means unknown")
}

func TestResolveAmbiguousCityDowngradesConfidence(t *testing.T) {
	r := newTestResolver(nil, nil, nil)
	e := entryWith("Unrest across Lagos", "Protests throughout the city continued.")

	deferred := r.Resolve(context.Background(), e)
	require.False(t, deferred)

	assert.Equal(t, "Lagos", e.Location.City)
	assert.Equal(t, domain.ConfidenceMedium, e.Location.Confidence)
}

func TestFinalizeUnknown(t *testing.T) {
	e := entryWith("No place at all", "Nothing to extract.")
	FinalizeUnknown(e)

	require.NotNil(t, e.Location)
	assert.Equal(t, domain.MethodUnknown, e.Location.Method)
	assert.Equal(t, domain.ConfidenceNone, e.Location.Confidence)
	assert.False(t, e.Location.Method.Tier1())
}

func TestBetterPrefersSpecificityThenConfidence(t *testing.T) {
	countryHigh := &domain.Location{Country: "Mali", Confidence: domain.ConfidenceHigh}
	cityMedium := &domain.Location{City: "Bamako", Country: "Mali", Confidence: domain.ConfidenceMedium}

	assert.Equal(t, cityMedium, better(countryHigh, cityMedium))

	countryMedium := &domain.Location{Country: "Chad", Confidence: domain.ConfidenceMedium}
	assert.Equal(t, countryHigh, better(countryMedium, countryHigh))

	// Full tie keeps the first (preferred, deterministic) argument.
	other := &domain.Location{Country: "Niger", Confidence: domain.ConfidenceHigh}
	assert.Equal(t, countryHigh, better(countryHigh, other))
}

func TestGazetteerExtract(t *testing.T) {
	gaz := NewGazetteer()

	tests := []struct {
		name        string
		text        string
		wantCity    string
		wantCountry string
		wantConf    domain.LocationConfidence
	}{
		{"city implies country", "explosion rocks mogadishu overnight", "Mogadishu", "Somalia", domain.ConfidenceHigh},
		{"country only", "border clashes reported in chad", "", "Chad", domain.ConfidenceMedium},
		{"alias", "shooting in the us capital", "", "United States", domain.ConfidenceMedium},
		{"explicit country wins over implied", "troops from tripoli deployed in niger", "Tripoli", "Niger", domain.ConfidenceHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := gaz.Extract(tt.text)
			require.NotNil(t, loc)

			assert.Equal(t, tt.wantCity, loc.City)
			assert.Equal(t, tt.wantCountry, loc.Country)
			assert.Equal(t, tt.wantConf, loc.Confidence)
		})
	}

	assert.Nil(t, gaz.Extract("quarterly earnings beat expectations"))
}

func TestCentroidLookup(t *testing.T) {
	lat, lon, ok := Centroid("uk")
	require.True(t, ok)
	assert.InDelta(t, 55.37, lat, 0.1)
	assert.InDelta(t, -3.43, lon, 0.1)

	_, _, ok = Centroid("Atlantis")
	assert.False(t, ok)
}

// fakeRouter scripts one LLM reply for batch tests.
type fakeRouter struct {
	reply string
	err   error
}

func (f *fakeRouter) Complete(context.Context, llm.Task, llm.Request) (llm.Reply, error) {
	return llm.Reply{Content: f.reply, Provider: "fake", Model: "fake-1"}, f.err
}

func (f *fakeRouter) Embed(context.Context, string) ([]float32, error) {
	return nil, llm.ErrEmbeddingsUnsupported
}

func (f *fakeRouter) ProviderStatuses() []llm.ProviderStatus { return nil }

func batchItems(titles ...string) []*batchqueue.Item {
	items := make([]*batchqueue.Item, len(titles))
	for i, title := range titles {
		items[i] = &batchqueue.Item{Entry: entryWith(title, "details pending")}
	}

	return items
}

func TestResolveBatchAppliesLocations(t *testing.T) {
	router := &fakeRouter{reply: `Here are the results:
[{"index":0,"city":"Kandahar","country":"Afghanistan","confidence":"high"},
 {"index":1,"city":"","country":"burma","confidence":"medium"}]`}

	logger := zerolog.Nop()
	b := NewBatchResolver(router, newTestResolver(nil, nil, nil), 30*time.Second, &logger)

	items := batchItems("Checkpoint attack", "Junta offensive continues", "Unplaceable rumor")

	err := b.ResolveBatch(context.Background(), items)
	require.NoError(t, err)

	first := items[0].Entry.Location
	require.NotNil(t, first)
	assert.Equal(t, "Kandahar", first.City)
	assert.Equal(t, "Afghanistan", first.Country)
	assert.Equal(t, domain.MethodLLMBatch, first.Method)
	assert.Equal(t, domain.ConfidenceHigh, first.Confidence)
	assert.True(t, first.HasCoordinates())

	second := items[1].Entry.Location
	require.NotNil(t, second)
	assert.Equal(t, "Myanmar", second.Country, "alias normalized to canonical name")
	assert.Equal(t, domain.MethodLLMBatch, second.Method)

	third := items[2].Entry.Location
	require.NotNil(t, third, "unmatched items are finalized, not dropped")
	assert.Equal(t, domain.MethodUnknown, third.Method)
}

func TestResolveBatchCountryOnlyLowConfidenceUsesCentroidMethod(t *testing.T) {
	router := &fakeRouter{reply: `[{"index":0,"city":"","country":"Somalia","confidence":"low"}]`}

	logger := zerolog.Nop()
	b := NewBatchResolver(router, newTestResolver(nil, nil, nil), 30*time.Second, &logger)

	items := batchItems("Vague regional report")

	require.NoError(t, b.ResolveBatch(context.Background(), items))

	loc := items[0].Entry.Location
	require.NotNil(t, loc)
	assert.Equal(t, domain.MethodCentroid, loc.Method)
	assert.Equal(t, domain.ConfidenceLow, loc.Confidence)
	assert.True(t, loc.HasCoordinates())
}

func TestResolveBatchUnmatchedItemFallsBackToStashedCountry(t *testing.T) {
	router := &fakeRouter{reply: `[]`}

	logger := zerolog.Nop()
	b := NewBatchResolver(router, newTestResolver(nil, nil, nil), 30*time.Second, &logger)

	items := batchItems("Violence flares across the country")
	items[0].Entry.LocationHint = &domain.Location{
		Country:    "Nigeria",
		Region:     "West Africa",
		Method:     domain.MethodFeedTag,
		Confidence: domain.ConfidenceHigh,
	}

	require.NoError(t, b.ResolveBatch(context.Background(), items))

	loc := items[0].Entry.Location
	require.NotNil(t, loc)
	assert.Equal(t, "Nigeria", loc.Country)
	assert.Equal(t, domain.MethodCentroid, loc.Method)
	assert.Equal(t, domain.ConfidenceLow, loc.Confidence)
	assert.True(t, loc.HasCoordinates())
}

func TestResolveBatchErrorLeavesItemsUntouched(t *testing.T) {
	router := &fakeRouter{err: errors.New("all providers down")}

	logger := zerolog.Nop()
	b := NewBatchResolver(router, newTestResolver(nil, nil, nil), time.Second, &logger)

	items := batchItems("Some incident")

	err := b.ResolveBatch(context.Background(), items)
	require.Error(t, err)
	assert.Nil(t, items[0].Entry.Location, "failed batch re-queues without partial state")
}

func TestResolveBatchGarbageReplyIsAnError(t *testing.T) {
	router := &fakeRouter{reply: "I cannot help with that."}

	logger := zerolog.Nop()
	b := NewBatchResolver(router, newTestResolver(nil, nil, nil), time.Second, &logger)

	err := b.ResolveBatch(context.Background(), batchItems("Anything"))
	assert.Error(t, err)
}
