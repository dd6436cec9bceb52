package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/adverant/pdfextract/internal/errors"
	"github.com/adverant/pdfextract/internal/logging"
	"github.com/adverant/pdfextract/internal/model"
)

// l2 is the persistent, on-disk tier: a single-writer, multi-reader
// modernc.org/sqlite database. Entries survive process restarts; size is
// bounded by a disk quota enforced with LRU-by-access-time eviction.
type l2 struct {
	db        *sql.DB
	maxBytes  int64
	log       *logging.Logger
	hits      int64
	misses    int64
}

const l2Schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	label TEXT NOT NULL,
	pdf_hash TEXT NOT NULL,
	data BLOB NOT NULL,
	size_bytes INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	accessed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_label ON cache_entries(label);
CREATE INDEX IF NOT EXISTS idx_cache_entries_pdf_hash ON cache_entries(pdf_hash);
CREATE INDEX IF NOT EXISTS idx_cache_entries_accessed_at ON cache_entries(accessed_at);
`

func openL2(path string, maxBytes int64, log *logging.Logger) (*l2, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache l2 db: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer, per §5

	if _, err := db.Exec(l2Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache l2 schema: %w", err)
	}
	return &l2{db: db, maxBytes: maxBytes, log: log}, nil
}

func (c *l2) close() error {
	return c.db.Close()
}

// entryRow encodes an ExtractionResult for storage. Encoding/decoding uses
// encoding/json rather than a third-party codec: the payload is a small,
// process-internal record with no cross-language or schema-evolution
// requirement, so the standard library's marshaller is sufficient (see
// DESIGN.md).
type entryRow struct {
	Result model.ExtractionResult `json:"result"`
}

// getWithHash returns the cached result plus the pdf_hash it was stored
// under, so the caller can promote it into L1's hash index for later
// InvalidatePDF sweeps.
func (c *l2) getWithHash(ctx context.Context, key model.CacheKey) (*model.ExtractionResult, string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := c.db.QueryRowContext(ctx, `SELECT data, pdf_hash FROM cache_entries WHERE key = ?`, string(key))
	var blob []byte
	var pdfHash string
	if err := row.Scan(&blob, &pdfHash); err != nil {
		atomic.AddInt64(&c.misses, 1)
		return nil, "", false
	}

	var er entryRow
	if err := json.Unmarshal(blob, &er); err != nil {
		c.log.Warn("l2 entry corrupt, evicting", "key", string(key), "error", err)
		_, _ = c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, string(key))
		atomic.AddInt64(&c.misses, 1)
		return nil, "", false
	}

	_, _ = c.db.ExecContext(ctx, `UPDATE cache_entries SET accessed_at = ? WHERE key = ?`, time.Now().Unix(), string(key))
	atomic.AddInt64(&c.hits, 1)
	return &er.Result, pdfHash, true
}

func (c *l2) put(ctx context.Context, key model.CacheKey, pdfHash, label string, result *model.ExtractionResult) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	blob, err := json.Marshal(entryRow{Result: *result})
	if err != nil {
		return errors.NewInternalError("", "marshal cache entry", err)
	}

	now := time.Now().Unix()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, label, pdf_hash, data, size_bytes, created_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, size_bytes = excluded.size_bytes, accessed_at = excluded.accessed_at
	`, string(key), label, pdfHash, blob, len(blob), now, now)
	if err != nil {
		return errors.NewPersistenceError("", "cache l2 put", err)
	}

	c.evictOverQuota(ctx)
	return nil
}

func (c *l2) evictOverQuota(ctx context.Context) {
	var total int64
	if err := c.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM cache_entries`).Scan(&total); err != nil {
		c.log.Warn("l2 quota check failed", "error", err)
		return
	}
	if total <= c.maxBytes {
		return
	}

	rows, err := c.db.QueryContext(ctx, `SELECT key, size_bytes FROM cache_entries ORDER BY accessed_at ASC`)
	if err != nil {
		c.log.Warn("l2 quota eviction query failed", "error", err)
		return
	}
	defer rows.Close()

	for total > c.maxBytes && rows.Next() {
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			break
		}
		if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			c.log.Warn("l2 eviction delete failed", "key", key, "error", err)
			continue
		}
		total -= size
		c.log.Debug("l2 evicted entry over quota", "key", key)
	}
}

func (c *l2) removeByPDFHash(ctx context.Context, pdfHash string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE pdf_hash LIKE ? || '%'`, pdfHash)
	if err != nil {
		return 0, errors.NewPersistenceError("", "cache l2 invalidate", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *l2) labels(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT label FROM cache_entries ORDER BY label`)
	if err != nil {
		return nil, errors.NewPersistenceError("", "cache l2 labels", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, errors.NewPersistenceError("", "cache l2 labels scan", err)
		}
		labels = append(labels, l)
	}
	return labels, nil
}

func (c *l2) stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// normalizeDir strips a trailing slash so path.Join-style callers don't
// double up separators; kept tiny and local since it's used in exactly one
// place (cache directory to db file path).
func normalizeDir(dir string) string {
	return strings.TrimRight(dir, "/")
}
