package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/lumina/internal/errs"
)

func TestMemoryStoreUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3)

	id, err := s.Upsert(ctx, "a", "first", []float32{1, 0, 0}, map[string]interface{}{"source_ref": "x.md"})
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	// Full replace: the old metadata key does not survive.
	_, err = s.Upsert(ctx, "a", "second", []float32{0, 1, 0}, map[string]interface{}{"lang": "en"})
	require.NoError(t, err)

	doc, ok := s.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "second", doc.Text)
	assert.Equal(t, []float32{0, 1, 0}, doc.Embedding)
	assert.Equal(t, map[string]interface{}{"lang": "en"}, doc.Metadata)
	assert.Equal(t, 1, s.Count(ctx, nil))

	_, err = s.Upsert(ctx, "b", "bad", []float32{1, 0}, nil)
	assert.ErrorIs(t, err, errs.ErrDimensionMismatch)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, ok = s.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestMemoryStoreSearch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	docs := []struct {
		id   string
		vec  []float32
		meta map[string]interface{}
	}{
		{"near", []float32{1, 0.1}, map[string]interface{}{"lang": "en", "chunk_index": 0}},
		{"mid", []float32{1, 1}, map[string]interface{}{"lang": "de", "chunk_index": 1}},
		{"far", []float32{0, 1}, map[string]interface{}{"lang": "en", "tags": []string{"a", "b"}}},
	}
	for _, d := range docs {
		_, err := s.Upsert(ctx, d.id, d.id+" text", d.vec, d.meta)
		require.NoError(t, err)
	}

	t.Run("orders by descending score", func(t *testing.T) {
		results, err := s.Search(ctx, []float32{1, 0}, 3, nil)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "near", results[0].ID)
		assert.Equal(t, "mid", results[1].ID)
		assert.Equal(t, "far", results[2].ID)
		assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
		assert.InDelta(t, 0.0, results[2].Score, 1e-9)
	})

	t.Run("caps at top k", func(t *testing.T) {
		results, err := s.Search(ctx, []float32{1, 0}, 1, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "near", results[0].ID)
	})

	t.Run("filters by containment", func(t *testing.T) {
		results, err := s.Search(ctx, []float32{1, 0}, 5, map[string]interface{}{"lang": "en"})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "near", results[0].ID)
		assert.Equal(t, "far", results[1].ID)

		results, err = s.Search(ctx, []float32{1, 0}, 5, map[string]interface{}{"chunk_index": 1})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "mid", results[0].ID)

		results, err = s.Search(ctx, []float32{1, 0}, 5, map[string]interface{}{"tags": []string{"b"}})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "far", results[0].ID)
	})

	t.Run("no match is empty, not an error", func(t *testing.T) {
		results, err := s.Search(ctx, []float32{1, 0}, 5, map[string]interface{}{"lang": "fr"})
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		_, err := s.Search(ctx, []float32{1, 0}, 0, nil)
		assert.ErrorIs(t, err, errs.ErrValidation)
		_, err = s.Search(ctx, []float32{1, 0, 0}, 3, nil)
		assert.ErrorIs(t, err, errs.ErrDimensionMismatch)
	})

	assert.Equal(t, 2, s.Count(ctx, map[string]interface{}{"lang": "en"}))
	assert.Equal(t, 3, s.Count(ctx, map[string]interface{}{}))
}

func TestMemoryStoreConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Upsert(ctx, fmt.Sprintf("doc-%d", i), "text", []float32{float32(i), 1}, nil)
			assert.NoError(t, err)
			_, _ = s.Search(ctx, []float32{1, 1}, 3, nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, s.Count(ctx, nil))
}

func TestContains(t *testing.T) {
	have := map[string]interface{}{
		"a": "x",
		"n": float64(2),
		"nested": map[string]interface{}{
			"k": "v",
			"z": true,
		},
		"list": []interface{}{"p", "q"},
	}

	assert.True(t, contains(have, map[string]interface{}{}))
	assert.True(t, contains(have, map[string]interface{}{"a": "x", "n": float64(2)}))
	assert.True(t, contains(have, map[string]interface{}{"nested": map[string]interface{}{"k": "v"}}))
	assert.True(t, contains(have, map[string]interface{}{"list": []interface{}{"q"}}))
	assert.False(t, contains(have, map[string]interface{}{"a": "y"}))
	assert.False(t, contains(have, map[string]interface{}{"missing": "x"}))
	assert.False(t, contains(have, map[string]interface{}{"nested": "v"}))
	assert.False(t, contains(have, map[string]interface{}{"list": []interface{}{"r"}}))
}
