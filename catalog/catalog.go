// Package catalog maintains a queryable SQLite index over a cget cache
// mirror's sidecar metadata, so "cget ls" and "cget stat" can answer
// questions like "what's in this mirror" and "how big is it" without
// walking the filesystem tree on every call.
package catalog

import (
	"database/sql"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// DefaultFileName is the catalog database's conventional name inside a
// cache mirror root, alongside the bodies and sidecars it indexes.
const DefaultFileName = ".cget-catalog.db"

// Record is one entry in the catalog: a single cached body plus the
// sidecar metadata cget wrote alongside it.
type Record struct {
	CacheKey    string
	URL         string
	Status      int
	BytesStored int64
	StoredAt    time.Time
}

// Index wraps a SQLite database file tracking one cache mirror's contents.
type Index struct {
	db *sql.DB
}

// Open opens (creating if necessary) the catalog database at path,
// ensuring its schema exists.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "catalog: opening database")
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			cache_key    TEXT PRIMARY KEY,
			url          TEXT NOT NULL,
			status       INTEGER NOT NULL,
			bytes_stored INTEGER NOT NULL,
			stored_at    TIMESTAMP NOT NULL
		)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "catalog: creating schema")
	}
	return &Index{db: db}, nil
}

func (idx *Index) Close() error {
	return idx.db.Close()
}

// Upsert records or updates rec.
func (idx *Index) Upsert(rec Record) error {
	_, err := idx.db.Exec(`
		INSERT INTO entries (cache_key, url, status, bytes_stored, stored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			url = excluded.url,
			status = excluded.status,
			bytes_stored = excluded.bytes_stored,
			stored_at = excluded.stored_at`,
		rec.CacheKey, rec.URL, rec.Status, rec.BytesStored, rec.StoredAt)
	return err
}

// Get returns the record for cacheKey, or nil if it isn't present.
func (idx *Index) Get(cacheKey string) (*Record, error) {
	row := idx.db.QueryRow(`SELECT cache_key, url, status, bytes_stored, stored_at FROM entries WHERE cache_key = ?`, cacheKey)
	var rec Record
	if err := row.Scan(&rec.CacheKey, &rec.URL, &rec.Status, &rec.BytesStored, &rec.StoredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// List returns every record, ordered by cache key.
func (idx *Index) List() ([]Record, error) {
	rows, err := idx.db.Query(`SELECT cache_key, url, status, bytes_stored, stored_at FROM entries ORDER BY cache_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.CacheKey, &rec.URL, &rec.Status, &rec.BytesStored, &rec.StoredAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// entrySidecar mirrors the JSON shape cget's root package writes to
// "<path>.header.json"; duplicated here (rather than imported) so catalog
// stays decoupled from the fetch pipeline and only depends on the on-disk
// sidecar format as a stable interface.
type entrySidecar struct {
	Status  int    `json:"cget-status"`
	Message string `json:"cget-message,omitempty"`
	Target  string `json:"cget-target,omitempty"`
}

// Rebuild walks root, a cget cache mirror directory, and repopulates the
// catalog from every "*.header.json" sidecar it finds. It is what
// "cget reindex" runs.
func Rebuild(root string, idx *Index) (int, error) {
	if _, err := idx.db.Exec(`DELETE FROM entries`); err != nil {
		return 0, errors.Wrap(err, "catalog: clearing entries")
	}

	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".header.json") {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "catalog: reading %s", path)
		}
		var sc entrySidecar
		if err := json.Unmarshal(raw, &sc); err != nil {
			return errors.Wrapf(err, "catalog: parsing %s", path)
		}

		bodyPath := strings.TrimSuffix(path, ".header.json")
		cacheKey := strings.TrimPrefix(filepath.ToSlash(strings.TrimPrefix(bodyPath, root)), "/")

		var size int64
		if info, err := os.Stat(bodyPath); err == nil {
			size = info.Size()
		}

		// The sidecar format (spec-defined) has no reserved key for the
		// original URL, only the cache key's derived path and, for a
		// redirect entry, its final target. Fall back to the cache key
		// itself as the best available display value.
		url := sc.Target
		if url == "" {
			url = cacheKey
		}

		if err := idx.Upsert(Record{
			CacheKey:    cacheKey,
			URL:         url,
			Status:      sc.Status,
			BytesStored: size,
			StoredAt:    time.Now().UTC(),
		}); err != nil {
			return errors.Wrapf(err, "catalog: upserting %s", cacheKey)
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	return count, nil
}
