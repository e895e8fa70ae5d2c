// Package location resolves an event location for each filtered entry.
//
// The cascade runs cheap sources first: a database cache keyed on entry
// UUID, then the feed's country tag, then the curated gazetteer. Entries
// that nothing deterministic can place are deferred to a batched LLM
// extraction. Every step spends at most min(step budget, remaining total
// budget), so one slow dependency cannot starve the rest of the cascade.
package location

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/osintops/threatpipe/internal/core/domain"
	"github.com/osintops/threatpipe/internal/core/geocode"
	"github.com/osintops/threatpipe/internal/platform/observability"
)

const countryTagPrefix = "country:"

// ambiguityPattern marks text that likely spans several locations; such
// entries go to the LLM batch instead of trusting a single extraction.
// Whole words only, so "multiplex" does not count.
var ambiguityPattern = regexp.MustCompile(`\b(multiple|across|throughout|nationwide|several regions)\b`)

// Store reads previously resolved locations back from the database.
type Store interface {
	// CachedLocation returns the tier-1 location persisted for uuid in an
	// earlier cycle, or nil when there is none.
	CachedLocation(ctx context.Context, uuid string) (*domain.Location, error)
}

// GeoCache caches (city, country) coordinates across cycles.
type GeoCache interface {
	// Get returns cached coordinates, or nil on a miss.
	Get(ctx context.Context, city, country string) (*geocode.Result, error)
	Put(ctx context.Context, city, country string, lat, lon float64) error
}

// Geocoder turns a (city, country) pair into coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, city, country string) (*geocode.Result, error)
}

// Budgets caps each cascade step. Every step additionally respects the
// remaining share of Total.
type Budgets struct {
	Total         time.Duration
	Cache         time.Duration
	Deterministic time.Duration
	Reverse       time.Duration
}

// Resolver runs the deterministic part of the cascade.
type Resolver struct {
	store    Store
	geoCache GeoCache
	geocoder Geocoder
	gaz      *Gazetteer
	budgets  Budgets
	logger   *zerolog.Logger
}

// NewResolver builds a resolver. store, geoCache and geocoder may be nil;
// the corresponding steps are then skipped.
func NewResolver(store Store, geoCache GeoCache, geocoder Geocoder, gaz *Gazetteer, budgets Budgets, logger *zerolog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		geoCache: geoCache,
		geocoder: geocoder,
		gaz:      gaz,
		budgets:  budgets,
		logger:   logger,
	}
}

// Resolve fills e.Location, or reports deferred=true when the entry needs
// the LLM batch stage. A deferred entry has a nil Location until the batch
// resolver (or the give-up path) finalizes it.
func (r *Resolver) Resolve(ctx context.Context, e *domain.Entry) (deferred bool) {
	deadline := time.Now().Add(r.budgets.Total)

	if loc := r.fromCache(ctx, deadline, e.UUID); loc != nil {
		e.Location = loc
		observability.LocationResolved.WithLabelValues(string(loc.Method)).Inc()

		return false
	}

	tag := r.fromFeedTags(e)
	det := r.fromGazetteer(ctx, deadline, e.TextBlob)

	candidate := better(tag, det)
	ambiguous := hasAmbiguitySignal(e.TextBlob)

	switch {
	case candidate == nil:
		return true
	case ambiguous && candidate.City == "":
		// A country-only guess against multi-location text is not worth
		// keeping; let the batch extractor read the whole item. The guess
		// survives as a hint for the give-up fallback.
		e.LocationHint = candidate

		return true
	case ambiguous:
		if candidate.Confidence.AtLeast(domain.ConfidenceHigh) {
			candidate.Confidence = domain.ConfidenceMedium
		}
	}

	r.FillCoordinates(ctx, deadline, candidate)
	e.Location = candidate
	observability.LocationResolved.WithLabelValues(string(candidate.Method)).Inc()

	return false
}

// FinalizeCountryFallback settles a deferred entry on its stashed
// deterministic candidate when the batch stage could not place it: country
// centroid method, low confidence. Reports false when no usable hint was
// stashed; the caller then finalizes the entry as unknown.
func FinalizeCountryFallback(e *domain.Entry) bool {
	hint := e.LocationHint
	if hint == nil || hint.Country == "" {
		return false
	}

	loc := &domain.Location{
		Country:    hint.Country,
		Region:     hint.Region,
		Method:     domain.MethodCentroid,
		Confidence: domain.ConfidenceLow,
	}

	if lat, lon, ok := Centroid(loc.Country); ok {
		loc.Latitude, loc.Longitude = &lat, &lon
	}

	e.Location = loc
	observability.LocationResolved.WithLabelValues(string(domain.MethodCentroid)).Inc()

	return true
}

// FinalizeUnknown marks an entry that exhausted the cascade. The entry
// still persists as a raw item; it just never becomes an alert.
func FinalizeUnknown(e *domain.Entry) {
	e.Location = &domain.Location{
		Method:     domain.MethodUnknown,
		Confidence: domain.ConfidenceNone,
	}
	observability.LocationResolved.WithLabelValues(string(domain.MethodUnknown)).Inc()
}

// FillCoordinates populates Latitude/Longitude for a located candidate:
// geocode cache first, then the reverse geocoder, then the static country
// centroid. The method and confidence of the candidate are untouched;
// where the coordinates came from does not change how the place was found.
func (r *Resolver) FillCoordinates(ctx context.Context, deadline time.Time, loc *domain.Location) {
	if loc == nil || loc.HasCoordinates() || loc.Country == "" {
		return
	}

	if loc.City != "" {
		if hit := r.cachedCoordinates(ctx, deadline, loc.City, loc.Country); hit != nil {
			loc.Latitude, loc.Longitude = &hit.Latitude, &hit.Longitude
			return
		}

		if hit := r.reverseGeocode(ctx, deadline, loc.City, loc.Country); hit != nil {
			loc.Latitude, loc.Longitude = &hit.Latitude, &hit.Longitude
			return
		}
	}

	if lat, lon, ok := Centroid(loc.Country); ok {
		loc.Latitude, loc.Longitude = &lat, &lon
	}
}

func (r *Resolver) fromCache(ctx context.Context, deadline time.Time, uuid string) *domain.Location {
	if r.store == nil {
		return nil
	}

	stepCtx, cancel := stepContext(ctx, deadline, r.budgets.Cache)
	defer cancel()

	loc, err := r.store.CachedLocation(stepCtx, uuid)
	if err != nil {
		r.logger.Debug().Err(err).Str("uuid", uuid).Msg("location: cache lookup failed")
		return nil
	}

	if loc == nil || !loc.Method.Tier1() {
		return nil
	}

	loc.Method = domain.MethodDBCache

	return loc
}

// fromFeedTags reads the catalogue's country hint. A tag that names the
// country canonically maps to feed_tag; one that needs the alias table
// maps to feed_tag_mapped.
func (r *Resolver) fromFeedTags(e *domain.Entry) *domain.Location {
	for _, tag := range e.FeedTags {
		raw, ok := strings.CutPrefix(strings.ToLower(strings.TrimSpace(tag)), countryTagPrefix)
		if !ok {
			continue
		}

		info, found := lookupCountry(raw)
		if !found {
			continue
		}

		method := domain.MethodFeedTag
		if !strings.EqualFold(raw, info.Name) {
			method = domain.MethodFeedTagMapped
		}

		return &domain.Location{
			Country:    info.Name,
			Region:     info.Region,
			Method:     method,
			Confidence: domain.ConfidenceHigh,
		}
	}

	return nil
}

func (r *Resolver) fromGazetteer(ctx context.Context, deadline time.Time, textBlob string) *domain.Location {
	stepCtx, cancel := stepContext(ctx, deadline, r.budgets.Deterministic)
	defer cancel()

	if stepCtx.Err() != nil {
		return nil
	}

	return r.gaz.Extract(textBlob)
}

func (r *Resolver) cachedCoordinates(ctx context.Context, deadline time.Time, city, country string) *geocode.Result {
	if r.geoCache == nil {
		return nil
	}

	stepCtx, cancel := stepContext(ctx, deadline, r.budgets.Cache)
	defer cancel()

	hit, err := r.geoCache.Get(stepCtx, city, country)
	if err != nil {
		r.logger.Debug().Err(err).Msg("location: geocode cache lookup failed")
		return nil
	}

	return hit
}

func (r *Resolver) reverseGeocode(ctx context.Context, deadline time.Time, city, country string) *geocode.Result {
	if r.geocoder == nil {
		return nil
	}

	stepCtx, cancel := stepContext(ctx, deadline, r.budgets.Reverse)
	defer cancel()

	hit, err := r.geocoder.Geocode(stepCtx, city, country)
	if err != nil {
		return nil
	}

	if r.geoCache != nil {
		if err := r.geoCache.Put(ctx, city, country, hit.Latitude, hit.Longitude); err != nil {
			r.logger.Debug().Err(err).Msg("location: geocode cache write failed")
		}
	}

	return hit
}

// better picks the stronger of two candidates: specificity first, then
// confidence. On a full tie the first argument wins, so callers pass the
// preferred source first.
func better(a, b *domain.Location) *domain.Location {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Specificity() > a.Specificity():
		return b
	case b.Specificity() == a.Specificity() && !a.Confidence.AtLeast(b.Confidence):
		return b
	default:
		return a
	}
}

func hasAmbiguitySignal(textBlob string) bool {
	return ambiguityPattern.MatchString(textBlob)
}

// stepContext bounds one cascade step by min(step, time until deadline).
func stepContext(ctx context.Context, deadline time.Time, step time.Duration) (context.Context, context.CancelFunc) {
	remaining := time.Until(deadline)
	if step <= 0 || step > remaining {
		step = remaining
	}

	if step <= 0 {
		step = time.Millisecond
	}

	return context.WithTimeout(ctx, step)
}
