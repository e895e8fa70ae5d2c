package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/osintops/threatpipe/internal/core/domain"
	"github.com/osintops/threatpipe/internal/platform/observability"
)

// ErrAlertRejected means the alert failed the storage invariant and was
// never sent to the database.
var ErrAlertRejected = errors.New("alert rejected")

const upsertAlertSQL = `
INSERT INTO alerts (
    uuid, title, link, summary, published, source_url, source_tag,
    country, city, region, latitude, longitude,
    location_method, location_confidence, tags,
    category, subcategory, threat_label, score, confidence, reasoning,
    embedding, components, model_used, content_hash, created_at, updated_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7,
    $8, $9, $10, $11, $12,
    $13, $14, $15,
    $16, $17, $18, $19, $20, $21,
    $22, $23, $24, $25, $26, $26
)
ON CONFLICT (uuid) DO UPDATE SET
    title = EXCLUDED.title,
    summary = EXCLUDED.summary,
    published = EXCLUDED.published,
    country = EXCLUDED.country,
    city = EXCLUDED.city,
    region = EXCLUDED.region,
    latitude = EXCLUDED.latitude,
    longitude = EXCLUDED.longitude,
    location_method = EXCLUDED.location_method,
    location_confidence = EXCLUDED.location_confidence,
    tags = EXCLUDED.tags,
    category = EXCLUDED.category,
    subcategory = EXCLUDED.subcategory,
    threat_label = EXCLUDED.threat_label,
    score = EXCLUDED.score,
    confidence = EXCLUDED.confidence,
    reasoning = EXCLUDED.reasoning,
    embedding = EXCLUDED.embedding,
    components = EXCLUDED.components,
    model_used = EXCLUDED.model_used,
    updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted`

// SaveAlert upserts one enriched alert keyed on UUID. A re-enriched story
// refreshes the existing row and bumps updated_at; created_at survives.
// Alerts without coordinates or a country never reach the database.
func (s *Store) SaveAlert(ctx context.Context, alert *domain.EnrichedAlert) error {
	if !alert.HasLocation() {
		observability.AlertsRejected.WithLabelValues(observability.RejectMissingLocation).Inc()
		s.logger.Warn().Str("uuid", alert.UUID).Msg("storage: alert without location rejected")

		return fmt.Errorf("storage: %w: no coordinates or country", ErrAlertRejected)
	}

	components, err := json.Marshal(alert.Components)
	if err != nil {
		return fmt.Errorf("storage: marshal components: %w", err)
	}

	var inserted bool

	err = s.pool.QueryRow(ctx, upsertAlertSQL,
		alert.UUID, alert.Title, alert.Link, alert.Summary, nullableTime(alert.Published),
		alert.SourceURL, alert.SourceTag,
		alert.Country, alert.City, alert.Region, alert.Latitude, alert.Longitude,
		string(alert.LocationMethod), string(alert.LocationConfidence), alert.Tags,
		alert.Category, alert.Subcategory, string(alert.ThreatLabel),
		alert.Score, alert.Confidence, alert.Reasoning,
		nullableVector(alert.Embedding), components, alert.ModelUsed,
		alert.ContentHash, alert.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		return fmt.Errorf("storage: save alert: %w", err)
	}

	if inserted {
		observability.AlertsSaved.WithLabelValues("inserted").Inc()
	} else {
		observability.AlertsSaved.WithLabelValues("updated").Inc()
	}

	return nil
}

const similarAlertSQL = `
SELECT uuid
FROM alerts
WHERE uuid <> $1 AND embedding IS NOT NULL
  AND 1 - (embedding <=> $2) >= $3
ORDER BY embedding <=> $2
LIMIT 1`

// FindSimilarAlert returns the UUID of the nearest stored alert whose
// cosine similarity meets the threshold, excluding the candidate itself.
func (s *Store) FindSimilarAlert(ctx context.Context, uuid string, embedding []float32, threshold float64) (string, error) {
	var match string

	err := s.pool.QueryRow(ctx, similarAlertSQL, uuid, pgvector.NewVector(embedding), threshold).Scan(&match)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("storage: similar alert: %w", err)
	}

	return match, nil
}

const deleteOldAlertsSQL = `DELETE FROM alerts WHERE created_at < now() - ($1 * interval '1 day')`

// DeleteAlertsOlderThan removes alerts beyond the retention window.
func (s *Store) DeleteAlertsOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := s.pool.Exec(ctx, deleteOldAlertsSQL, days)
	if err != nil {
		return 0, fmt.Errorf("storage: alert retention: %w", err)
	}

	observability.RetentionDeleted.WithLabelValues("alerts").Add(float64(tag.RowsAffected()))

	return tag.RowsAffected(), nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}

func nullableVector(embedding []float32) *pgvector.Vector {
	if len(embedding) == 0 {
		return nil
	}

	v := pgvector.NewVector(embedding)

	return &v
}
