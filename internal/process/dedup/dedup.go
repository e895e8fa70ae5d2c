// Package dedup suppresses duplicate entries in two layers: an exact
// layer keyed on the content hash within one cycle, and a semantic layer
// that compares embeddings against already stored alerts.
//
// The exact layer is per-cycle on purpose. The same story arriving again
// in a later cycle flows through the pipeline and refreshes its stored
// row; the database's unique indexes keep storage idempotent.
package dedup

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/osintops/threatpipe/internal/core/domain"
	"github.com/osintops/threatpipe/internal/platform/observability"
)

// Repository finds stored alerts by embedding proximity.
type Repository interface {
	// FindSimilarAlert returns the UUID of a stored alert whose embedding
	// has cosine similarity >= threshold with the given one, excluding
	// the alert identified by uuid itself. Empty string means no match.
	FindSimilarAlert(ctx context.Context, uuid string, embedding []float32, threshold float64) (string, error)
}

// Deduper holds the per-cycle seen set and the semantic threshold.
type Deduper struct {
	repo      Repository
	threshold float64
	logger    *zerolog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates a deduper. repo may be nil to disable the semantic layer.
func New(repo Repository, threshold float64, logger *zerolog.Logger) *Deduper {
	return &Deduper{
		repo:      repo,
		threshold: threshold,
		logger:    logger,
		seen:      make(map[string]struct{}),
	}
}

// ResetCycle clears the exact-match seen set. Called at the start of each
// ingestion cycle.
func (d *Deduper) ResetCycle() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen = make(map[string]struct{})
}

// SeenInCycle records the entry's content hash and reports whether it was
// already present. The first caller for a given hash wins.
func (d *Deduper) SeenInCycle(e *domain.Entry) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[e.ContentHash]; ok {
		observability.DropsTotal.WithLabelValues(observability.DropReasonDuplicate).Inc()
		return true
	}

	d.seen[e.ContentHash] = struct{}{}

	return false
}

// SemanticDuplicate reports whether a stored alert is close enough to the
// entry's embedding to call it the same event. Entries without an
// embedding are never semantic duplicates, and a repository error fails
// open: better a near-duplicate alert than a silently dropped one.
func (d *Deduper) SemanticDuplicate(ctx context.Context, e *domain.Entry) (bool, error) {
	if d.repo == nil || len(e.Embedding) == 0 {
		return false, nil
	}

	match, err := d.repo.FindSimilarAlert(ctx, e.UUID, e.Embedding, d.threshold)
	if err != nil {
		d.logger.Warn().Err(err).Str("uuid", e.UUID).Msg("dedup: similarity lookup failed")
		return false, fmt.Errorf("dedup: %w", err)
	}

	if match == "" {
		return false, nil
	}

	observability.DropsTotal.WithLabelValues(observability.DropReasonSemanticDuplicate).Inc()
	d.logger.Debug().
		Str("uuid", e.UUID).
		Str("duplicate_of", match).
		Msg("dedup: semantic duplicate suppressed")

	return true, nil
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
