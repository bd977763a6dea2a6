package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/georgenavi/esimdb-scraper/internal/logger"
)

const outcomeBucket = "outcomes"

// entry wraps a record with its expiry.
type entry struct {
	ExpiresAt int64         `json:"expires_at"`
	Record    OutcomeRecord `json:"record"`
}

// boltStore implements a Store backed by BoltDB. Keys are "<run id>/<slug>".
type boltStore struct {
	db              *bolt.DB
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
	outcomeTTL      time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	cleanup         func(now time.Time) error
	log             logger.Logger
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string, opts Options) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(outcomeBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	store := &boltStore{
		db:              db,
		outcomeTTL:      opts.OutcomeTTL,
		cleanupInterval: opts.CleanupInterval,
		now:             time.Now,
		log:             logger.Ensure(opts.Logger),
	}
	store.cleanup = store.maybeCleanupExpired
	store.lastCleanup.Store(store.now().Unix())
	return store, nil
}

// Close closes the BoltDB store.
func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// RecordOutcome stores rec under its run id, replacing an earlier record for the same country.
func (b *boltStore) RecordOutcome(rec OutcomeRecord) error {
	if b == nil || b.db == nil {
		return nil
	}
	if rec.RunID == "" || rec.Slug == "" {
		return errors.New("outcome record requires run id and slug")
	}

	now := b.now()
	if err := b.cleanup(now); err != nil {
		b.log.WarnObj("run ledger sweep failed", "storage_cleanup_error", map[string]any{
			"error": err.Error(),
		})
	}

	value, err := json.Marshal(entry{ExpiresAt: now.Add(b.outcomeTTL).Unix(), Record: rec})
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(outcomeBucket))
		if bucket == nil {
			return fmt.Errorf("outcome bucket missing")
		}
		return bucket.Put(outcomeKey(rec.RunID, rec.Slug), value)
	})
}

// RunOutcomes returns the unexpired records of runID ordered by slug.
func (b *boltStore) RunOutcomes(runID string) ([]OutcomeRecord, error) {
	if b == nil || b.db == nil {
		return nil, nil
	}

	now := b.now()
	prefix := []byte(strings.TrimSpace(runID) + "/")
	var out []OutcomeRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(outcomeBucket))
		if bucket == nil {
			return fmt.Errorf("outcome bucket missing")
		}
		cursor := bucket.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			e, ok := decodeEntry(v)
			if !ok || !time.Unix(e.ExpiresAt, 0).After(now) {
				continue
			}
			out = append(out, e.Record)
		}
		return nil
	})
	return out, err
}

// maybeCleanupExpired removes expired outcomes on a fixed cadence to avoid unbounded growth.
func (b *boltStore) maybeCleanupExpired(now time.Time) error {
	if b == nil || b.db == nil {
		return nil
	}

	last := time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	b.cleanupMu.Lock()
	defer b.cleanupMu.Unlock()

	last = time.Unix(b.lastCleanup.Load(), 0)
	if now.Sub(last) < b.cleanupInterval {
		return nil
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(outcomeBucket))
		if bucket == nil {
			return fmt.Errorf("outcome bucket missing")
		}

		var expired [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			if e, ok := decodeEntry(v); !ok || !time.Unix(e.ExpiresAt, 0).After(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		b.lastCleanup.Store(now.Unix())
	}
	return err
}

func outcomeKey(runID, slug string) []byte {
	return []byte(runID + "/" + slug)
}

// decodeEntry decodes a stored value; malformed values count as expired.
func decodeEntry(value []byte) (entry, bool) {
	var e entry
	if err := json.Unmarshal(value, &e); err != nil || e.ExpiresAt <= 0 {
		return entry{}, false
	}
	return e, true
}
