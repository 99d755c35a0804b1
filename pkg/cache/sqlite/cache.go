package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/promptgate/pkg/models"
)

// Cache is a durable completion store backed by SQLite. Expiry is checked on
// read; Purge reclaims rows whose TTL has elapsed.
type Cache struct {
	db     *sql.DB
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
`

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now for expiry bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New opens the database at dbPath and creates the schema.
func New(dbPath string, opts ...Option) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	c := &Cache{db: db, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get retrieves a cached completion. Expired rows are reported as absent.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE cache_key = ? AND expires_at > ?`,
		key, c.now().UnixMilli(),
	).Scan(&value)

	if err == sql.ErrNoRows {
		c.misses.Add(1)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get: %w", err)
	}

	c.hits.Add(1)
	return value, true, nil
}

// Put stores a completion. An existing row for key is replaced.
func (c *Cache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	now := c.now()
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (cache_key, value, created_at, expires_at)
		 VALUES (?, ?, ?, ?)`,
		key, value, now.UnixMilli(), now.Add(ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Entry returns the raw row for key, expired or not.
func (c *Cache) Entry(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	var value string
	var createdAt, expiresAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT value, created_at, expires_at FROM cache_entries WHERE cache_key = ?`, key,
	).Scan(&value, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("cache entry: %w", err)
	}
	return models.CacheEntry{
		Key:       key,
		Value:     value,
		CreatedAt: time.UnixMilli(createdAt),
		TTL:       time.Duration(expiresAt-createdAt) * time.Millisecond,
	}, true, nil
}

// Stats returns cache performance metrics.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries WHERE expires_at > ?`, c.now().UnixMilli()).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes all cache entries.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Purge removes expired entries and reports how many were deleted.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, c.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
