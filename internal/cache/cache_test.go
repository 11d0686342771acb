package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory L2 for tests.
type memStore struct {
	data map[string]string
	puts int
	fail bool
}

func newMemStore() *memStore { return &memStore{data: map[string]string{}} }

func (m *memStore) Get(_ context.Context, source string) (string, bool, error) {
	if m.fail {
		return "", false, fmt.Errorf("store down")
	}
	v, ok := m.data[source]
	return v, ok, nil
}

func (m *memStore) Put(_ context.Context, source, translated string) error {
	if m.fail {
		return fmt.Errorf("store down")
	}
	m.data[source] = translated
	m.puts++
	return nil
}

func (m *memStore) TopEntries(_ context.Context, limit int) (map[string]string, error) {
	if m.fail {
		return nil, fmt.Errorf("store down")
	}
	out := map[string]string{}
	for k, v := range m.data {
		if len(out) >= limit {
			break
		}
		out[k] = v
	}
	return out, nil
}

func TestCache_Lookup_L1Hit(t *testing.T) {
	c := New(10, nil, nil)
	c.Store(context.Background(), "Save changes", "Salvar alterações", false)

	got, level := c.Lookup(context.Background(), "Save changes")
	assert.Equal(t, "Salvar alterações", got)
	assert.Equal(t, LevelL1, level)
}

func TestCache_Lookup_L2HitPromotes(t *testing.T) {
	store := newMemStore()
	store.data["Cancel"] = "Cancelar"
	c := New(10, store, nil)

	got, level := c.Lookup(context.Background(), "Cancel")
	require.Equal(t, LevelL2, level)
	assert.Equal(t, "Cancelar", got)

	// Second lookup must come from L1.
	_, level = c.Lookup(context.Background(), "Cancel")
	assert.Equal(t, LevelL1, level)
}

func TestCache_Lookup_Miss(t *testing.T) {
	c := New(10, newMemStore(), nil)
	got, level := c.Lookup(context.Background(), "unknown")
	assert.Equal(t, "", got)
	assert.Equal(t, LevelMiss, level)
}

func TestCache_Store_IdentityRejected(t *testing.T) {
	store := newMemStore()
	c := New(10, store, nil)

	c.Store(context.Background(), "Hello", "hello", true)
	c.Store(context.Background(), " Hello ", "HELLO", true)
	c.Store(context.Background(), "Hello", "", true)

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, store.puts)
}

func TestCache_Store_PersistFlag(t *testing.T) {
	store := newMemStore()
	c := New(10, store, nil)

	c.Store(context.Background(), "Cancel", "Cancelar", false)
	assert.Equal(t, 0, store.puts, "persist=false stays in memory")

	c.Store(context.Background(), "Delete", "Excluir", true)
	assert.Equal(t, 1, store.puts)
	assert.Equal(t, "Excluir", store.data["Delete"])
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2, nil, nil)
	ctx := context.Background()

	c.Store(ctx, "a", "tr-a", false)
	c.Store(ctx, "b", "tr-b", false)
	c.Store(ctx, "c", "tr-c", false)

	_, level := c.Lookup(ctx, "a")
	assert.Equal(t, LevelMiss, level, "least recently used entry evicted")
	_, level = c.Lookup(ctx, "b")
	assert.Equal(t, LevelL1, level)
	_, level = c.Lookup(ctx, "c")
	assert.Equal(t, LevelL1, level)
}

func TestCache_LookupRefreshesPosition(t *testing.T) {
	c := New(2, nil, nil)
	ctx := context.Background()

	c.Store(ctx, "a", "tr-a", false)
	c.Store(ctx, "b", "tr-b", false)

	// Touching a makes b the least recently used entry.
	_, level := c.Lookup(ctx, "a")
	require.Equal(t, LevelL1, level)

	c.Store(ctx, "c", "tr-c", false) // evicts b, not a

	_, level = c.Lookup(ctx, "a")
	assert.Equal(t, LevelL1, level)
	_, level = c.Lookup(ctx, "b")
	assert.Equal(t, LevelMiss, level)
}

func TestCache_KeysTrimmed(t *testing.T) {
	store := newMemStore()
	c := New(10, store, nil)
	ctx := context.Background()

	c.Store(ctx, "  Save changes ", "Salvar alterações", true)

	got, level := c.Lookup(ctx, "Save changes")
	assert.Equal(t, LevelL1, level)
	assert.Equal(t, "Salvar alterações", got)
	assert.Equal(t, 1, c.Len(), "whitespace variants share one entry")
	assert.Equal(t, "Salvar alterações", store.data["Save changes"])
}

func TestCache_ReinsertRefreshesPosition(t *testing.T) {
	c := New(2, nil, nil)
	ctx := context.Background()

	c.Store(ctx, "a", "tr-a", false)
	c.Store(ctx, "b", "tr-b", false)
	c.Store(ctx, "a", "tr-a2", false) // refresh, a is now newest
	c.Store(ctx, "c", "tr-c", false)  // evicts b

	got, level := c.Lookup(ctx, "a")
	assert.Equal(t, LevelL1, level)
	assert.Equal(t, "tr-a2", got)
	_, level = c.Lookup(ctx, "b")
	assert.Equal(t, LevelMiss, level)
}

func TestCache_WarmUp(t *testing.T) {
	store := newMemStore()
	store.data["a"] = "tr-a"
	store.data["b"] = "tr-b"
	c := New(10, store, nil)

	n := c.WarmUp(context.Background())
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, c.Len())

	_, level := c.Lookup(context.Background(), "a")
	assert.Equal(t, LevelL1, level)
}

func TestCache_FailingStoreDegradesGracefully(t *testing.T) {
	store := newMemStore()
	store.fail = true
	c := New(10, store, nil)

	assert.Equal(t, 0, c.WarmUp(context.Background()))

	_, level := c.Lookup(context.Background(), "x")
	assert.Equal(t, LevelMiss, level)

	c.Store(context.Background(), "Cancel", "Cancelar", true)
	got, level := c.Lookup(context.Background(), "Cancel")
	assert.Equal(t, LevelL1, level)
	assert.Equal(t, "Cancelar", got)
}

func TestCache_Stats(t *testing.T) {
	store := newMemStore()
	store.data["b"] = "tr-b"
	c := New(10, store, nil)
	ctx := context.Background()

	c.Store(ctx, "a", "tr-a", false)
	c.Lookup(ctx, "a") // l1
	c.Lookup(ctx, "b") // l2
	c.Lookup(ctx, "c") // miss
	c.Lookup(ctx, "c") // still a miss (identity guard not involved)

	stats := c.Stats()
	assert.Equal(t, int64(4), stats.TotalLookups)
	assert.Equal(t, int64(1), stats.HitsL1)
	assert.Equal(t, int64(1), stats.HitsL2)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, "25.0%", stats.HitRateL1)
	assert.Equal(t, "50.0%", stats.HitRateTotal)
	assert.Equal(t, 10, stats.L1Max)
}
