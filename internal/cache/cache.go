// Package cache persists one normalized JSON document per target, with
// TTL-based freshness and self-healing reads. A single process owns a
// cache directory at a time; there is no cross-process coordination.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/osint-cli/internal/model"
)

// DefaultTTL is the cache validity window for online runs.
const DefaultTTL = 24 * time.Hour

// Cache stores per-target documents as JSON files under a base directory.
type Cache struct {
	dir string
	ttl time.Duration
}

// New creates a Cache rooted at dir, creating the directory if needed.
// A non-positive ttl falls back to DefaultTTL.
func New(dir string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "cache: create dir %s", dir)
	}
	return &Cache{dir: dir, ttl: ttl}, nil
}

// TTL returns the configured validity window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Path returns the on-disk location for a target's document.
func (c *Cache) Path(target model.Target) (string, error) {
	key, err := Key(target.Source, target.Handle)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.dir, key+".json"), nil
}

// Load reads a target's document from disk. It returns (nil, nil) when
// no document exists. A file that cannot be parsed or that fails the
// schema check is treated as absent and deleted in the same call, so a
// corrupt entry can never be served twice. Age is not checked here;
// freshness is the caller's concern via IsFresh.
func (c *Cache) Load(target model.Target) (*model.Document, error) {
	path, err := c.Path(target)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache: read %s", path)
	}

	var doc model.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		c.evict(target, path, "unparseable json")
		return nil, nil
	}
	if !doc.Valid() {
		c.evict(target, path, "missing required fields")
		return nil, nil
	}

	return &doc, nil
}

// IsFresh reports whether a document is still valid at the given time.
// Offline mode bypasses the check entirely: any cached document, however
// old, is valid because no network access will happen regardless.
func (c *Cache) IsFresh(doc *model.Document, now time.Time, offline bool) bool {
	if doc == nil {
		return false
	}
	if offline {
		return true
	}
	return now.Sub(doc.FetchedAt) < c.ttl
}

// Save persists a document for a target. Records are sorted newest
// first and the aggregate stats are recomputed from scratch; the
// document's FetchedAt is written as-is, so enrichment write-backs do
// not reset the staleness clock. The write is temp-file-then-rename so
// a crash cannot leave a half-written document behind.
func (c *Cache) Save(target model.Target, doc *model.Document) error {
	if doc == nil || !doc.Valid() {
		return eris.Errorf("cache: refusing to save invalid document for %s", target)
	}

	path, err := c.Path(target)
	if err != nil {
		return err
	}

	sort.SliceStable(doc.Records, func(i, j int) bool {
		return doc.Records[i].CreatedAt.After(doc.Records[j].CreatedAt)
	})
	doc.Stats = model.DocumentStats{TotalRecords: len(doc.Records)}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "cache: marshal document for %s", target)
	}

	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return eris.Wrap(err, "cache: create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrapf(err, "cache: write %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "cache: close %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "cache: rename to %s", path)
	}

	zap.L().Debug("cache: saved document",
		zap.String("target", target.String()),
		zap.Int("records", len(doc.Records)),
	)
	return nil
}

// Purge removes a target's cached document if present.
func (c *Cache) Purge(target model.Target) error {
	path, err := c.Path(target)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "cache: remove %s", path)
	}
	return nil
}

// PurgeAll removes every cached document under the cache directory.
// Returns the number of entries removed.
func (c *Cache) PurgeAll() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, eris.Wrapf(err, "cache: read dir %s", c.dir)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return removed, eris.Wrapf(err, "cache: remove %s", e.Name())
		}
		removed++
	}
	return removed, nil
}

func (c *Cache) evict(target model.Target, path, reason string) {
	zap.L().Warn("cache: evicting corrupt document",
		zap.String("target", target.String()),
		zap.String("reason", reason),
	)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("cache: eviction failed", zap.String("path", path), zap.Error(err))
	}
}
