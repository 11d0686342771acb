package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CacheStore implements cache.Store backed by the translation_cache table.
type CacheStore struct {
	pool *pgxpool.Pool
}

// NewCacheStore creates a CacheStore backed by the given pool.
func NewCacheStore(pool *pgxpool.Pool) *CacheStore {
	return &CacheStore{pool: pool}
}

// Get fetches a translation and bumps its hit count in the same statement.
func (s *CacheStore) Get(ctx context.Context, source string) (string, bool, error) {
	var translated string
	err := s.pool.QueryRow(ctx, `
		UPDATE translation_cache
		SET hit_count = hit_count + 1, last_used_at = now()
		WHERE source_text = $1
		RETURNING translated_text
	`, source).Scan(&translated)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}
	return translated, true, nil
}

// Put upserts a translation. A re-translation of a known source replaces
// the stored text but keeps the hit count.
func (s *CacheStore) Put(ctx context.Context, source, translated string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO translation_cache (source_text, translated_text)
		VALUES ($1, $2)
		ON CONFLICT (source_text) DO UPDATE
		SET translated_text = EXCLUDED.translated_text, last_used_at = now()
	`, source, translated)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// TopEntries returns up to limit entries ordered by hit count descending.
func (s *CacheStore) TopEntries(ctx context.Context, limit int) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_text, translated_text
		FROM translation_cache
		ORDER BY hit_count DESC, last_used_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("cache top entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var source, translated string
		if err := rows.Scan(&source, &translated); err != nil {
			return nil, err
		}
		out[source] = translated
	}
	return out, rows.Err()
}
