// Package postgres provides the pgx-backed screenshot record store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagelens/pagelens/internal/records"
	"github.com/pagelens/pagelens/internal/screenshot"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements records.Store on Postgres.
//
// Schema (managed externally, migrations are out of scope):
//
//	CREATE TABLE screenshots (
//	    id                   UUID PRIMARY KEY,
//	    tenant_id            TEXT NOT NULL,
//	    url                  TEXT NOT NULL,
//	    selector             TEXT NOT NULL DEFAULT '',
//	    viewport_width       INT NOT NULL,
//	    viewport_height      INT NOT NULL,
//	    device_scale_factor  DOUBLE PRECISION NOT NULL,
//	    mobile               BOOLEAN NOT NULL,
//	    landscape            BOOLEAN NOT NULL,
//	    touch                BOOLEAN NOT NULL,
//	    full_page            BOOLEAN NOT NULL,
//	    full_page_scroll     BOOLEAN NOT NULL,
//	    scroll_duration_ms   INT NOT NULL,
//	    format               TEXT NOT NULL,
//	    quality              INT NOT NULL,
//	    block_ads            BOOLEAN NOT NULL,
//	    block_trackers       BOOLEAN NOT NULL,
//	    block_cookie_banners BOOLEAN NOT NULL,
//	    block_patterns       TEXT[] NOT NULL DEFAULT '{}',
//	    block_resource_types TEXT[] NOT NULL DEFAULT '{}',
//	    color_scheme         TEXT NOT NULL DEFAULT '',
//	    reduced_motion       BOOLEAN NOT NULL,
//	    user_agent           TEXT NOT NULL DEFAULT '',
//	    headers              JSONB NOT NULL DEFAULT '{}',
//	    cookies              JSONB NOT NULL DEFAULT '[]',
//	    bypass_csp           BOOLEAN NOT NULL,
//	    cache_key            TEXT NOT NULL DEFAULT '',
//	    storage_key          TEXT NOT NULL,
//	    duration_ms          BIGINT NOT NULL,
//	    created_at           TIMESTAMPTZ NOT NULL,
//	    updated_at           TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX screenshots_tenant_url_idx ON screenshots (tenant_id, url);
type Store struct {
	pool querier
}

// New opens a pool and pings it so startup fails fast.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing with pgxmock).
func NewWithPool(pool querier) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const captureMatchClause = `
	tenant_id = $1
	AND url = $2
	AND selector = $3
	AND viewport_width = $4
	AND viewport_height = $5
	AND device_scale_factor = $6
	AND mobile = $7
	AND landscape = $8
	AND touch = $9
	AND full_page = $10
	AND full_page_scroll = $11
	AND scroll_duration_ms = $12
	AND format = $13
	AND quality = $14
	AND block_ads = $15
	AND block_trackers = $16
	AND block_cookie_banners = $17
	AND block_patterns @> $18 AND block_patterns <@ $18
	AND block_resource_types @> $19 AND block_resource_types <@ $19
	AND color_scheme = $20
	AND reduced_motion = $21
	AND user_agent = $22
	AND headers = $23::jsonb
	AND cookies = $24::jsonb
	AND bypass_csp = $25
	AND cache_key = $26`

// FindExisting looks up an exact match on every capture-affecting field.
// Array-valued block lists use containment in both directions so ordering
// in the stored row never matters.
func (s *Store) FindExisting(
	ctx context.Context,
	tenantID string,
	req screenshot.CaptureRequest,
) (screenshot.Record, error) {
	args, err := matchArgs(tenantID, req)
	if err != nil {
		return screenshot.Record{}, err
	}
	query := `
		SELECT id, tenant_id, storage_key, duration_ms, created_at, updated_at,
		       cache_key, format
		FROM screenshots
		WHERE ` + captureMatchClause + `
		ORDER BY created_at DESC
		LIMIT 1;
	`
	var rec screenshot.Record
	var format string
	err = s.pool.QueryRow(ctx, query, args...).Scan(
		&rec.ID,
		&rec.TenantID,
		&rec.StorageKey,
		&rec.DurationMs,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.Request.CacheKey,
		&format,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return screenshot.Record{}, records.ErrNotFound
		}
		return screenshot.Record{}, fmt.Errorf("find existing screenshot: %w", err)
	}
	rec.Request = req
	rec.Request.Format = screenshot.Format(format)
	return rec, nil
}

// Insert persists a record.
func (s *Store) Insert(ctx context.Context, rec screenshot.Record) (screenshot.Record, error) {
	req := rec.Request
	headers, cookies, err := encodeJSONFields(req)
	if err != nil {
		return screenshot.Record{}, err
	}
	query := `
		INSERT INTO screenshots (
			id, tenant_id, url, selector, viewport_width, viewport_height,
			device_scale_factor, mobile, landscape, touch, full_page,
			full_page_scroll, scroll_duration_ms, format, quality, block_ads,
			block_trackers, block_cookie_banners, block_patterns,
			block_resource_types, color_scheme, reduced_motion, user_agent,
			headers, cookies, bypass_csp, cache_key, storage_key, duration_ms,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28,
			$29, $30, $31
		);
	`
	_, err = s.pool.Exec(ctx, query,
		rec.ID,
		rec.TenantID,
		req.URL,
		req.Selector,
		req.ViewportWidth,
		req.ViewportHeight,
		req.DeviceScaleFactor,
		req.Mobile,
		req.Landscape,
		req.Touch,
		req.FullPage,
		req.FullPageScroll,
		req.ScrollDurationMs,
		string(req.Format),
		req.Quality,
		req.BlockAds,
		req.BlockTrackers,
		req.BlockCookieBanners,
		textArray(req.BlockPatterns),
		textArray(req.BlockResourceTypes),
		req.ColorScheme,
		req.ReducedMotion,
		req.UserAgent,
		headers,
		cookies,
		req.BypassCSP,
		req.CacheKey,
		rec.StorageKey,
		rec.DurationMs,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return screenshot.Record{}, fmt.Errorf("insert screenshot record: %w", err)
	}
	return rec, nil
}

// Delete removes a record by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM screenshots WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete screenshot record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return records.ErrNotFound
	}
	return nil
}

func matchArgs(tenantID string, req screenshot.CaptureRequest) ([]any, error) {
	headers, cookies, err := encodeJSONFields(req)
	if err != nil {
		return nil, err
	}
	return []any{
		tenantID,
		req.URL,
		req.Selector,
		req.ViewportWidth,
		req.ViewportHeight,
		req.DeviceScaleFactor,
		req.Mobile,
		req.Landscape,
		req.Touch,
		req.FullPage,
		req.FullPageScroll,
		req.ScrollDurationMs,
		string(req.Format),
		req.Quality,
		req.BlockAds,
		req.BlockTrackers,
		req.BlockCookieBanners,
		textArray(req.BlockPatterns),
		textArray(req.BlockResourceTypes),
		req.ColorScheme,
		req.ReducedMotion,
		req.UserAgent,
		headers,
		cookies,
		req.BypassCSP,
		req.CacheKey,
	}, nil
}

func encodeJSONFields(req screenshot.CaptureRequest) (headers, cookies []byte, err error) {
	h := req.Headers
	if h == nil {
		h = map[string]string{}
	}
	headers, err = json.Marshal(h)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal headers: %w", err)
	}
	c := req.Cookies
	if c == nil {
		c = []screenshot.Cookie{}
	}
	cookies, err = json.Marshal(c)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal cookies: %w", err)
	}
	return headers, cookies, nil
}

func textArray(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
