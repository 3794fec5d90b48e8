package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rulesmith/internal/model"
	"github.com/sells-group/rulesmith/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestRegistry_GetMissing(t *testing.T) {
	r := newTestRegistry(t)

	rule, ok, err := r.Get(context.Background(), "unknown.com")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rule)
}

func TestRegistry_UpsertAndGet(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	rule := &model.ExtractionRule{
		SourceID:   "example.com",
		Locators:   map[model.Field]string{model.FieldTitle: `<h1>(.*?)</h1>`},
		SourceType: model.SourceTypeDiscovered,
	}
	require.NoError(t, r.Upsert(ctx, rule))

	got, ok, err := r.Get(ctx, "example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rule.Locators, got.Locators)
}

func TestRegistry_UpsertValidation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	err := r.Upsert(ctx, &model.ExtractionRule{SourceID: ""})
	assert.Error(t, err)

	err = r.Upsert(ctx, &model.ExtractionRule{SourceID: "example.com"})
	assert.Error(t, err)
}

func TestRegistry_PerSourceLockSerializes(t *testing.T) {
	r := newTestRegistry(t)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	unlock := r.Lock("example.com")

	wg.Add(1)
	go func() {
		defer wg.Done()
		u := r.Lock("example.com")
		defer u()
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	}()

	// The goroutine must not acquire the lock while we hold it.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	unlock()
	wg.Wait()

	assert.Equal(t, []int{1, 2}, order)
}

func TestRegistry_DistinctSourcesDoNotBlock(t *testing.T) {
	r := newTestRegistry(t)

	unlock := r.Lock("a.com")
	defer unlock()

	done := make(chan struct{})
	go func() {
		u := r.Lock("b.com")
		u()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for distinct source id blocked")
	}
}

func TestRegistry_TopExemplarsOrder(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	for _, src := range []string{"a.com", "b.com"} {
		require.NoError(t, r.Upsert(ctx, &model.ExtractionRule{
			SourceID:   src,
			Locators:   map[model.Field]string{model.FieldTitle: "x"},
			SourceType: model.SourceTypeDiscovered,
		}))
	}
	require.NoError(t, r.IncrementSuccess(ctx, "b.com"))

	top, err := r.TopExemplars(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "b.com", top[0].SourceID)
}

func TestRegistry_SeedFromFile(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	fixture := `rules:
  - source_id: seeded.com
    source_type: manual
    locators:
      title: "<h1>(.*?)</h1>"
      body: "<article>([\\s\\S]*?)</article>"
  - source_id: other.com
    locators:
      title: "<title>(.*?)</title>"
`
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))

	n, err := r.SeedFromFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, ok, err := r.Get(ctx, "other.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.SourceTypeManual, got.SourceType)
}
