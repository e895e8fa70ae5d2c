package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/osintops/threatpipe/internal/core/geocode"
)

// Cache keys are folded to lowercase so "Abuja" and "abuja" share a row.

const getGeocodeSQL = `SELECT latitude, longitude FROM geocode_cache WHERE city = $1 AND country = $2`

// Get returns cached coordinates for a (city, country) pair, or nil on a
// miss.
func (s *Store) Get(ctx context.Context, city, country string) (*geocode.Result, error) {
	var result geocode.Result

	err := s.pool.QueryRow(ctx, getGeocodeSQL, cacheKey(city), cacheKey(country)).
		Scan(&result.Latitude, &result.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("storage: geocode cache get: %w", err)
	}

	return &result, nil
}

const putGeocodeSQL = `
INSERT INTO geocode_cache (city, country, latitude, longitude)
VALUES ($1, $2, $3, $4)
ON CONFLICT (city, country) DO NOTHING`

// Put stores freshly geocoded coordinates.
func (s *Store) Put(ctx context.Context, city, country string, lat, lon float64) error {
	if _, err := s.pool.Exec(ctx, putGeocodeSQL, cacheKey(city), cacheKey(country), lat, lon); err != nil {
		return fmt.Errorf("storage: geocode cache put: %w", err)
	}

	return nil
}

func cacheKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
