package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/osintops/threatpipe/internal/core/domain"
	"github.com/osintops/threatpipe/internal/platform/observability"
)

const insertRawItemSQL = `
INSERT INTO raw_items (
    uuid, title, link, summary, published, source_url, source_tag,
    country, city, region, latitude, longitude,
    location_method, location_confidence,
    tags, kw_keyword, kw_match_type, kw_rule,
    content_hash, ingested_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7,
    $8, $9, $10, $11, $12,
    $13, $14,
    $15, $16, $17, $18,
    $19, now()
)
ON CONFLICT (content_hash) DO NOTHING`

// SaveRawItems writes a cycle's raw items in one batch. Rows already
// present (by content hash) are left untouched; the return value is the
// number of genuinely new rows.
func (s *Store) SaveRawItems(ctx context.Context, items []domain.RawItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}

	for _, item := range items {
		var keyword, matchType, rule string
		if item.KWMatch != nil {
			keyword = item.KWMatch.Keyword
			matchType = string(item.KWMatch.MatchType)
			rule = item.KWMatch.Rule
		}

		batch.Queue(insertRawItemSQL,
			item.UUID, item.Title, item.Link, item.Summary, nullableTime(item.Published),
			item.SourceURL, item.SourceTag,
			item.Country, item.City, item.Region, item.Latitude, item.Longitude,
			string(item.LocationMethod), string(item.LocationConfidence),
			item.Tags, keyword, matchType, rule,
			item.ContentHash,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0

	for range items {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("storage: save raw items: %w", err)
		}

		if tag.RowsAffected() > 0 {
			inserted++
			observability.RawItemsSaved.WithLabelValues("inserted").Inc()
		} else {
			observability.RawItemsSaved.WithLabelValues("conflict").Inc()
		}
	}

	return inserted, nil
}

const cachedLocationSQL = `
SELECT country, city, region, latitude, longitude, location_method, location_confidence
FROM raw_items
WHERE uuid = $1 AND location_method NOT IN ('unknown', '')`

// CachedLocation returns the location persisted for uuid in an earlier
// cycle, or nil when the row is absent or was never located.
func (s *Store) CachedLocation(ctx context.Context, uuid string) (*domain.Location, error) {
	var (
		loc            domain.Location
		method, confid string
	)

	err := s.pool.QueryRow(ctx, cachedLocationSQL, uuid).Scan(
		&loc.Country, &loc.City, &loc.Region,
		&loc.Latitude, &loc.Longitude,
		&method, &confid,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("storage: cached location: %w", err)
	}

	loc.Method = domain.LocationMethod(method)
	loc.Confidence = domain.LocationConfidence(confid)

	return &loc, nil
}

const deleteOldRawItemsSQL = `DELETE FROM raw_items WHERE ingested_at < now() - ($1 * interval '1 day')`

// DeleteRawItemsOlderThan removes raw items beyond the retention window
// and returns the number of rows removed.
func (s *Store) DeleteRawItemsOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := s.pool.Exec(ctx, deleteOldRawItemsSQL, days)
	if err != nil {
		return 0, fmt.Errorf("storage: raw item retention: %w", err)
	}

	observability.RetentionDeleted.WithLabelValues("raw_items").Add(float64(tag.RowsAffected()))

	return tag.RowsAffected(), nil
}
