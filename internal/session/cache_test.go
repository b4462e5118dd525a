package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scenecore/internal/conversation"
	"scenecore/internal/directive"
	"scenecore/internal/scene"
	"scenecore/internal/store"
)

const fallback = "linear-gradient(fallback)"

var savedAt = time.Date(2026, 4, 2, 9, 15, 0, 0, time.UTC)

func fixedNow() time.Time { return savedAt }

func sampleSnapshot() Snapshot {
	conv := conversation.New("ada")
	conv.SetClock(func() time.Time { return savedAt.Add(-time.Minute) })
	conv.Append(conversation.RoleAssistant, "Welcome, Ada!")
	conv.Append(conversation.RoleUser, "show me serums")
	conv.Suggestions = []string{"Add to bag"}
	conv.EnsureSession()
	conv.NextSequence()
	conv.Initialized = true

	st := scene.Initial("studio", "linear-gradient(default)", 7)
	st.Layout = scene.LayoutProductHero
	st.ChatPosition = scene.ChatDocked
	st.Setting = "spa"
	st.Background = scene.Background{Kind: scene.BackgroundGenerative, Value: "https://img.example/spa.png", Generated: true}
	st.Products = []directive.Product{{ID: "SKU-1001", Name: "Hydra Dew Serum", Price: 48}}

	return Capture(conv, st, json.RawMessage(`{"turn":2}`))
}

// memStore is an in-memory SnapshotStore that counts calls.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]Snapshot
	puts    atomic.Int32
	putErr  error
	active  atomic.Int32
	maxSeen atomic.Int32
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]Snapshot)} }

func (m *memStore) Put(_ context.Context, id string, snap Snapshot) error {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxSeen.Load()
		if n <= cur || m.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	m.puts.Add(1)
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id] = snap.Clone()
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.rows[id]
	if !ok {
		return Snapshot{}, ErrNoSnapshot
	}
	return snap.Clone(), nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func TestCache_SaveRestore(t *testing.T) {
	ctx := context.Background()
	c := NewCache(Options{FallbackGradient: fallback, Now: fixedNow})

	assert.False(t, c.Has(ctx, "ada"))
	_, err := c.Restore(ctx, "ada")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	snap := sampleSnapshot()
	require.NoError(t, c.Save(ctx, "ada", snap))
	assert.True(t, c.Has(ctx, "ada"))

	got, err := c.Restore(ctx, "ada")
	require.NoError(t, err)
	want := snap.Clone()
	want.SavedAt = savedAt
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("restored snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestCache_SaveOverwrites(t *testing.T) {
	ctx := context.Background()
	c := NewCache(Options{FallbackGradient: fallback})

	first := sampleSnapshot()
	require.NoError(t, c.Save(ctx, "ada", first))

	second := sampleSnapshot()
	second.Messages = second.Messages[:1]
	require.NoError(t, c.Save(ctx, "ada", second))

	got, err := c.Restore(ctx, "ada")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
	assert.Equal(t, []string{"ada"}, c.Identities())
}

func TestCache_RestoreDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	c := NewCache(Options{FallbackGradient: fallback})
	require.NoError(t, c.Save(ctx, "ada", sampleSnapshot()))

	got, err := c.Restore(ctx, "ada")
	require.NoError(t, err)
	got.Messages[0].Text = "changed"
	got.Scene.Products[0].Name = "changed"
	got.Suggestions = append(got.Suggestions, "more")

	again, err := c.Restore(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "Welcome, Ada!", again.Messages[0].Text)
	assert.Equal(t, "Hydra Dew Serum", again.Scene.Products[0].Name)
	assert.Equal(t, []string{"Add to bag"}, again.Suggestions)
}

func TestCache_SaveCopiesInput(t *testing.T) {
	ctx := context.Background()
	c := NewCache(Options{FallbackGradient: fallback})
	snap := sampleSnapshot()
	require.NoError(t, c.Save(ctx, "ada", snap))

	snap.Messages[1].Text = "mutated after save"
	got, err := c.Restore(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "show me serums", got.Messages[1].Text)
}

func TestCache_RestoreSubstitutesIncompleteBackground(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		bg   scene.Background
		want scene.Background
	}{
		{
			name: "loading",
			bg:   scene.Background{Kind: scene.BackgroundGradient, Value: "linear-gradient(default)", Loading: true},
			want: scene.GradientBackground(fallback),
		},
		{
			name: "empty",
			bg:   scene.Background{Kind: scene.BackgroundGenerative},
			want: scene.GradientBackground(fallback),
		},
		{
			name: "finished",
			bg:   scene.Background{Kind: scene.BackgroundImage, Value: "https://img.example/a.png"},
			want: scene.Background{Kind: scene.BackgroundImage, Value: "https://img.example/a.png"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCache(Options{FallbackGradient: fallback})
			snap := sampleSnapshot()
			snap.Scene.Background = tt.bg
			snap.Scene.GenerationToken = 42
			require.NoError(t, c.Save(ctx, "ada", snap))

			got, err := c.Restore(ctx, "ada")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Scene.Background)
			assert.Zero(t, got.Scene.GenerationToken)
		})
	}
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	backing := newMemStore()
	c := NewCache(Options{Store: backing, FallbackGradient: fallback})
	require.NoError(t, c.Save(ctx, "ada", sampleSnapshot()))

	require.NoError(t, c.Clear(ctx, "ada"))
	assert.False(t, c.Has(ctx, "ada"))
	_, err := backing.Get(ctx, "ada")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestCache_WriteThroughAndMissFallback(t *testing.T) {
	ctx := context.Background()
	backing := newMemStore()
	c := NewCache(Options{Store: backing, FallbackGradient: fallback, Now: fixedNow})
	require.NoError(t, c.Save(ctx, "ada", sampleSnapshot()))
	assert.EqualValues(t, 1, backing.puts.Load())

	// A fresh cache over the same store still finds the snapshot.
	fresh := NewCache(Options{Store: backing, FallbackGradient: fallback})
	assert.True(t, fresh.Has(ctx, "ada"))
	got, err := fresh.Restore(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, savedAt, got.SavedAt)
	assert.Equal(t, []string{"ada"}, fresh.Identities())
}

func TestCache_WriteThroughFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	backing := newMemStore()
	backing.putErr = errors.New("disk full")
	c := NewCache(Options{Store: backing, FallbackGradient: fallback})

	err := c.Save(ctx, "ada", sampleSnapshot())
	require.Error(t, err)
	assert.ErrorIs(t, err, backing.putErr)
	assert.True(t, c.Has(ctx, "ada"))
}

func TestCache_FlushBoundedConcurrency(t *testing.T) {
	ctx := context.Background()
	c := NewCache(Options{FallbackGradient: fallback})
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, c.Save(ctx, id, sampleSnapshot()))
	}

	// No store: nothing to do.
	require.NoError(t, c.Flush(ctx))

	backing := newMemStore()
	c.opts.Store = backing
	c.opts.FlushConcurrency = 2
	require.NoError(t, c.Flush(ctx))
	assert.EqualValues(t, 6, backing.puts.Load())
	assert.LessOrEqual(t, backing.maxSeen.Load(), int32(2))
	assert.Len(t, backing.rows, 6)
}

func TestCache_FlushReportsError(t *testing.T) {
	ctx := context.Background()
	backing := newMemStore()
	c := NewCache(Options{FallbackGradient: fallback})
	require.NoError(t, c.Save(ctx, "ada", sampleSnapshot()))

	backing.putErr = errors.New("locked")
	c.opts.Store = backing
	err := c.Flush(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush ada")
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	backing := NewSQLiteStore(db)
	_, err = backing.Get(ctx, "ada")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	c := NewCache(Options{Store: backing, FallbackGradient: fallback, Now: fixedNow})
	snap := sampleSnapshot()
	require.NoError(t, c.Save(ctx, "ada", snap))

	got, err := backing.Get(ctx, "ada")
	require.NoError(t, err)
	want := snap.Clone()
	want.SavedAt = savedAt
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stored snapshot mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, c.Clear(ctx, "ada"))
	_, err = db.Get(ctx, "ada")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLiteStore_RefusesNewerFormat(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put(ctx, "ada", []byte(`{"messages":[]}`), snapshotFormat+1, savedAt))

	_, err = NewSQLiteStore(db).Get(ctx, "ada")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSnapshot)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestSnapshot_CaptureAndApply(t *testing.T) {
	snap := sampleSnapshot()
	assert.Len(t, snap.Messages, 2)
	assert.Equal(t, 1, snap.UpstreamSequence)
	assert.NotEmpty(t, snap.UpstreamSessionID)
	assert.True(t, snap.Initialized)
	assert.JSONEq(t, `{"turn":2}`, string(snap.AltAgentState))

	conv := conversation.New("bea")
	conv.Append(conversation.RoleUser, "old")
	snap.ApplyTo(conv)

	assert.Equal(t, "bea", conv.Identity)
	assert.Equal(t, snap.Messages, conv.Messages)
	assert.Equal(t, snap.UpstreamSessionID, conv.UpstreamSessionID)
	assert.Equal(t, 1, conv.Sequence)
	assert.True(t, conv.Initialized)

	conv.Messages[0].Text = "changed"
	assert.Equal(t, "Welcome, Ada!", snap.Messages[0].Text)
}
