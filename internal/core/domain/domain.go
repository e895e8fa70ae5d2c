// Package domain holds the value types that flow through the ingestion
// pipeline: the in-flight Entry, the persisted RawItem and the persisted
// EnrichedAlert.
//
// Entries are plain value objects with no back-pointers. Identity is
// content-derived so that the same story fetched from any number of feeds,
// in any cycle, maps to the same row.
package domain

import (
	"crypto/md5" //nolint:gosec // dedup index, not a security boundary
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// LocationMethod labels how a location was obtained.
type LocationMethod string

const (
	MethodFeedTag       LocationMethod = "feed_tag"
	MethodFeedTagMapped LocationMethod = "feed_tag_mapped"
	MethodLegacyPrecise LocationMethod = "legacy_precise"
	MethodNominatim     LocationMethod = "nlp_nominatim"
	MethodDBCache       LocationMethod = "db_cache"
	MethodLLMBatch      LocationMethod = "llm_batch"
	MethodCentroid      LocationMethod = "country_centroid"
	MethodUnknown       LocationMethod = "unknown"
)

// Tier1 reports whether the method is consumable by downstream readers.
// Everything except unknown is tier-1.
func (m LocationMethod) Tier1() bool {
	return m != MethodUnknown && m != ""
}

// LocationConfidence grades a resolved location.
type LocationConfidence string

const (
	ConfidenceHigh   LocationConfidence = "high"
	ConfidenceMedium LocationConfidence = "medium"
	ConfidenceLow    LocationConfidence = "low"
	ConfidenceNone   LocationConfidence = "none"
)

// rank orders confidences for tie-breaking. Higher is better.
func (c LocationConfidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether c is at least as confident as other.
func (c LocationConfidence) AtLeast(other LocationConfidence) bool {
	return c.rank() >= other.rank()
}

// MatchType distinguishes the two keyword matchers.
type MatchType string

const (
	MatchBase         MatchType = "base"
	MatchCooccurrence MatchType = "cooccurrence"
)

// KeywordMatch describes why the content filter accepted an entry.
type KeywordMatch struct {
	Keyword   string
	MatchType MatchType
	Rule      string
}

// Location is a resolved event location. Latitude/Longitude are pointers
// because "no coordinates but a known country" is a valid outcome.
type Location struct {
	City       string
	Country    string
	Region     string
	Latitude   *float64
	Longitude  *float64
	Method     LocationMethod
	Confidence LocationConfidence
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Latitude != nil && l.Longitude != nil
}

// Specificity ranks a location for cascade tie-breaking: city+country beats
// country-only beats nothing.
func (l *Location) Specificity() int {
	if l == nil {
		return 0
	}

	switch {
	case l.City != "" && l.Country != "":
		return 2
	case l.Country != "":
		return 1
	default:
		return 0
	}
}

// Entry is one item parsed from a feed, alive only inside the pipeline.
// Each stage writes an exclusive field set: the fetcher fills the source
// fields and identity, the filter fills KWMatch, the resolver fills
// Location, the enricher fills Embedding.
type Entry struct {
	Title     string
	Link      string
	Summary   string
	Published time.Time
	SourceURL string
	SourceTag string
	FeedTags  []string

	// TextBlob is the normalized concatenation of title and summary:
	// lowercased, diacritics folded. Set by the fetcher.
	TextBlob string

	KWMatch   *KeywordMatch
	Location  *Location
	Embedding []float32

	// LocationHint holds the deterministic candidate a deferred entry
	// carried into the batch stage, so a failed batch can still fall back
	// to a country centroid instead of unknown.
	LocationHint *Location

	UUID        string
	ContentHash string
}

// identityKey is the shared dedup key. Two entries from the same publisher
// with the same link but a truncated title produce two keys; coalescing on
// link alone would also merge distinct articles behind one canonical URL,
// so identity stays keyed on title and link together.
func identityKey(title, link string) string {
	return title + "|" + link
}

// EntryUUID derives the deterministic cross-source identifier:
// SHA-1 hex of "title|link".
func EntryUUID(title, link string) string {
	sum := sha1.Sum([]byte(identityKey(title, link))) //nolint:gosec // identity, not crypto
	return hex.EncodeToString(sum[:])
}

// EntryContentHash derives the database-level dedup hash:
// MD5 hex of "title|link".
func EntryContentHash(title, link string) string {
	sum := md5.Sum([]byte(identityKey(title, link))) //nolint:gosec // identity, not crypto
	return hex.EncodeToString(sum[:])
}

// Tags returns the persisted tag list: exactly the matched keyword when the
// filter matched, empty otherwise.
func (e *Entry) Tags() []string {
	if e.KWMatch == nil {
		return []string{}
	}

	return []string{e.KWMatch.Keyword}
}

// RawItem is the persisted, unenriched record. One row per UUID.
type RawItem struct {
	UUID               string
	Title              string
	Link               string
	Summary            string
	Published          time.Time
	SourceURL          string
	SourceTag          string
	Language           string
	Country            string
	City               string
	Region             string
	Latitude           *float64
	Longitude          *float64
	LocationMethod     LocationMethod
	LocationConfidence LocationConfidence
	Tags               []string
	KWMatch            *KeywordMatch
	ContentHash        string
	IngestedAt         time.Time
}

// RawItemFromEntry freezes an in-flight entry into its persisted form.
func RawItemFromEntry(e *Entry) RawItem {
	item := RawItem{
		UUID:               e.UUID,
		Title:              e.Title,
		Link:               e.Link,
		Summary:            e.Summary,
		Published:          e.Published,
		SourceURL:          e.SourceURL,
		SourceTag:          e.SourceTag,
		LocationMethod:     MethodUnknown,
		LocationConfidence: ConfidenceNone,
		Tags:               e.Tags(),
		KWMatch:            e.KWMatch,
		ContentHash:        e.ContentHash,
	}

	if loc := e.Location; loc != nil {
		item.Country = loc.Country
		item.City = loc.City
		item.Region = loc.Region
		item.Latitude = loc.Latitude
		item.Longitude = loc.Longitude
		item.LocationMethod = loc.Method
		item.LocationConfidence = loc.Confidence
	}

	return item
}

// ThreatLabel is the closed severity scale for enriched alerts.
type ThreatLabel string

const (
	LabelCritical ThreatLabel = "critical"
	LabelHigh     ThreatLabel = "high"
	LabelMedium   ThreatLabel = "medium"
	LabelLow      ThreatLabel = "low"
)

// ValidThreatLabel reports whether s is one of the four severity labels.
func ValidThreatLabel(s string) bool {
	switch ThreatLabel(s) {
	case LabelCritical, LabelHigh, LabelMedium, LabelLow:
		return true
	default:
		return false
	}
}

// ScoreComponents is the structured threat score breakdown. Analytics
// fields are pointers: a failed analytic stores null, never fails the alert.
type ScoreComponents struct {
	Sentiment     *float64 `json:"sentiment,omitempty"`
	Forecast      *float64 `json:"forecast,omitempty"`
	CyberScore    *float64 `json:"cyber_score,omitempty"`
	PhysicalScore *float64 `json:"physical_score,omitempty"`
}

// EnrichedAlert is the persisted, scored, classified threat. One per UUID.
type EnrichedAlert struct {
	RawItem

	Category    string
	Subcategory string
	ThreatLabel ThreatLabel
	Score       float64
	Confidence  float64
	Reasoning   string
	Embedding   []float32
	Components  ScoreComponents
	ModelUsed   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasLocation reports whether the alert satisfies the storage invariant:
// both coordinates present, or a non-empty country.
func (a *EnrichedAlert) HasLocation() bool {
	if a.Latitude != nil && a.Longitude != nil {
		return true
	}

	return a.Country != ""
}
