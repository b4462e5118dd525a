package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"scenecore/internal/logging"
	"scenecore/internal/scene"
	"scenecore/internal/store"
)

// ErrNoSnapshot is returned by Restore when an identity has no snapshot.
var ErrNoSnapshot = errors.New("no snapshot for identity")

// SnapshotStore is durable storage behind the cache. Get returns
// ErrNoSnapshot on a miss.
type SnapshotStore interface {
	Put(ctx context.Context, identity string, snap Snapshot) error
	Get(ctx context.Context, identity string) (Snapshot, error)
	Delete(ctx context.Context, identity string) error
}

// snapshotFormat versions the JSON encoding of Snapshot in the durable
// store. Rows in a newer format are refused rather than half-decoded.
const snapshotFormat = 1

// sqliteStore encodes snapshots as JSON rows in a store.Store.
type sqliteStore struct {
	db *store.Store
}

// NewSQLiteStore adapts a snapshot database to SnapshotStore.
func NewSQLiteStore(db *store.Store) SnapshotStore {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) Put(ctx context.Context, identity string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.db.Put(ctx, identity, data, snapshotFormat, snap.SavedAt)
}

func (s *sqliteStore) Get(ctx context.Context, identity string) (Snapshot, error) {
	rec, err := s.db.Get(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, err
	}
	if rec.Format > snapshotFormat {
		return Snapshot{}, fmt.Errorf("snapshot for %s is format %d, newer than supported %d", identity, rec.Format, snapshotFormat)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot for %s: %w", identity, err)
	}
	return snap, nil
}

func (s *sqliteStore) Delete(ctx context.Context, identity string) error {
	return s.db.Delete(ctx, identity)
}

// Options configure a Cache.
type Options struct {
	// Store, when set, receives every save and serves memory misses.
	Store SnapshotStore
	// FallbackGradient replaces a background that was still loading or
	// empty when the snapshot was taken.
	FallbackGradient string
	// FlushConcurrency bounds parallel writes in Flush. Zero means 4.
	FlushConcurrency int
	// Now stamps SavedAt; defaults to time.Now.
	Now func() time.Time
}

// Cache maps identities to their latest snapshot. It is safe for
// concurrent use.
type Cache struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
	opts  Options
}

// NewCache creates an empty cache.
func NewCache(opts Options) *Cache {
	if opts.FlushConcurrency <= 0 {
		opts.FlushConcurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{snaps: make(map[string]Snapshot), opts: opts}
}

// Save stores snap for identity, overwriting any previous snapshot, and
// writes it through to the durable store. The in-memory copy is kept even
// if the durable write fails.
func (c *Cache) Save(ctx context.Context, identity string, snap Snapshot) error {
	log := logging.Get(logging.CategorySession)
	snap = snap.Clone()
	snap.SavedAt = c.opts.Now()

	c.mu.Lock()
	c.snaps[identity] = snap
	c.mu.Unlock()
	log.Debug("saved snapshot for %s (%d messages, setting %q)", identity, len(snap.Messages), snap.Scene.Setting)

	if c.opts.Store == nil {
		return nil
	}
	if err := c.opts.Store.Put(ctx, identity, snap); err != nil {
		log.Warn("snapshot write-through for %s failed: %v", identity, err)
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

// Restore returns a copy of identity's snapshot, ready to become live
// state. The cached snapshot itself is not modified. A background that was
// never finished is replaced by the fallback gradient.
func (c *Cache) Restore(ctx context.Context, identity string) (Snapshot, error) {
	snap, err := c.lookup(ctx, identity)
	if err != nil {
		return Snapshot{}, err
	}
	out := snap.Clone()
	if out.Scene.Background.Incomplete() {
		logging.Get(logging.CategorySession).Debug("restoring %s with fallback background", identity)
		out.Scene.Background = scene.GradientBackground(c.opts.FallbackGradient)
	}
	out.Scene.Background.Loading = false
	out.Scene.GenerationToken = 0
	return out, nil
}

// Has reports whether Restore would find a snapshot for identity.
func (c *Cache) Has(ctx context.Context, identity string) bool {
	_, err := c.lookup(ctx, identity)
	return err == nil
}

func (c *Cache) lookup(ctx context.Context, identity string) (Snapshot, error) {
	c.mu.RLock()
	snap, ok := c.snaps[identity]
	c.mu.RUnlock()
	if ok {
		return snap, nil
	}
	if c.opts.Store == nil {
		return Snapshot{}, ErrNoSnapshot
	}

	snap, err := c.opts.Store.Get(ctx, identity)
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			logging.Get(logging.CategorySession).Warn("snapshot read for %s failed: %v", identity, err)
		}
		return Snapshot{}, err
	}
	c.mu.Lock()
	if _, raced := c.snaps[identity]; !raced {
		c.snaps[identity] = snap
	}
	c.mu.Unlock()
	return snap, nil
}

// Clear drops identity's snapshot from memory and the durable store, so the
// next switch to it cold-starts.
func (c *Cache) Clear(ctx context.Context, identity string) error {
	c.mu.Lock()
	delete(c.snaps, identity)
	c.mu.Unlock()
	logging.Get(logging.CategorySession).Debug("cleared snapshot for %s", identity)

	if c.opts.Store == nil {
		return nil
	}
	if err := c.opts.Store.Delete(ctx, identity); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Identities lists the identities cached in memory, sorted.
func (c *Cache) Identities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.snaps))
	for id := range c.snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Flush writes every cached snapshot to the durable store. It is a no-op
// without one.
func (c *Cache) Flush(ctx context.Context) error {
	if c.opts.Store == nil {
		return nil
	}
	timer := logging.StartTimer(logging.CategorySession, "Flush")
	defer timer.Stop()

	c.mu.RLock()
	pending := make(map[string]Snapshot, len(c.snaps))
	for id, snap := range c.snaps {
		pending[id] = snap.Clone()
	}
	c.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.FlushConcurrency)
	for id, snap := range pending {
		g.Go(func() error {
			if err := c.opts.Store.Put(gctx, id, snap); err != nil {
				return fmt.Errorf("flush %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logging.Get(logging.CategorySession).Info("flushed %d snapshots", len(pending))
	return nil
}
