package probecache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/Witriol/mediaq/internal/formats"
)

const listingsBucket = "listings"

type entry struct {
	StoredAt time.Time        `json:"storedAt"`
	Listing  *formats.Listing `json:"listing"`
}

// Cache keeps probe listings in a bbolt file. Entries older than TTL are
// treated as missing and removed by Evict.
type Cache struct {
	db     *bbolt.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func Open(path string, ttl time.Duration, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open probe cache %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(listingsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create listings bucket: %w", err)
	}
	return &Cache{db: db, ttl: ttl, now: time.Now, logger: logger}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached listing for key when it is still fresh.
func (c *Cache) Get(key string) (*formats.Listing, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	var e entry
	found := false
	err := c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(listingsBucket)).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		c.logger.Warn("probe cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		return nil, false
	}
	if !found || e.Listing == nil || c.now().Sub(e.StoredAt) > c.ttl {
		return nil, false
	}
	return e.Listing, true
}

func (c *Cache) Put(key string, l *formats.Listing) error {
	if c.ttl <= 0 || l == nil {
		return nil
	}
	raw, err := json.Marshal(entry{StoredAt: c.now().UTC(), Listing: l})
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(listingsBucket)).Put([]byte(key), raw)
	})
}

// Evict deletes entries stored more than olderThan ago, or older than the
// TTL when that is shorter.
func (c *Cache) Evict(olderThan time.Duration) int {
	if c.ttl > 0 && c.ttl < olderThan {
		olderThan = c.ttl
	}
	cutoff := c.now().Add(-olderThan)
	removed := 0
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(listingsBucket))
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil || e.StoredAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		c.logger.Warn("probe cache eviction failed", slog.String("error", err.Error()))
		return 0
	}
	return removed
}
