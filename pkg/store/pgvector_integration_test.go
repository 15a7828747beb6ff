//go:build integration

package store

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xhad/lumina/internal/errs"
)

var connString string

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("lumina"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("error starting postgres container: %v", err)
	}

	connString, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("error getting connection string: %v", err)
	}

	code := m.Run()

	if err := pgContainer.Terminate(ctx); err != nil {
		log.Fatalf("error tearing down postgres container: %v", err)
	}
	os.Exit(code)
}

func newIntegrationStore(t *testing.T, table string, autoMigrate bool) *VectorStore {
	t.Helper()
	vs, err := NewWithConfig(context.Background(), VectorStoreConfig{
		ConnString:    connString,
		TableName:     table,
		VectorDim:     3,
		CandidatePool: 10,
		AutoMigrate:   autoMigrate,
	})
	require.NoError(t, err)
	t.Cleanup(vs.Close)
	return vs
}

func TestVectorStore(t *testing.T) {
	ctx := context.Background()
	vs := newIntegrationStore(t, "test_documents", true)

	require.NoError(t, vs.Ping(ctx))

	_, err := vs.Upsert(ctx, "a", "alpha", []float32{1, 0, 0}, map[string]interface{}{"source_ref": "a.md", "chunk_index": 0})
	require.NoError(t, err)
	_, err = vs.Upsert(ctx, "b", "beta", []float32{0.9, 0.1, 0}, map[string]interface{}{"source_ref": "b.md", "chunk_index": 0})
	require.NoError(t, err)
	_, err = vs.Upsert(ctx, "c", "gamma", []float32{0, 0, 1}, map[string]interface{}{"source_ref": "a.md", "chunk_index": 1})
	require.NoError(t, err)

	t.Run("search orders by similarity", func(t *testing.T) {
		results, err := vs.Search(ctx, []float32{1, 0, 0}, 2, nil)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "a", results[0].ID)
		assert.Equal(t, "b", results[1].ID)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		assert.Equal(t, "a.md", results[0].Metadata["source_ref"])
	})

	t.Run("filter is applied before ranking", func(t *testing.T) {
		results, err := vs.Search(ctx, []float32{1, 0, 0}, 5, map[string]interface{}{"source_ref": "a.md"})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "a", results[0].ID)
		assert.Equal(t, "c", results[1].ID)
	})

	t.Run("upsert replaces in place", func(t *testing.T) {
		_, err := vs.Upsert(ctx, "a", "alpha v2", []float32{0, 1, 0}, map[string]interface{}{"lang": "en"})
		require.NoError(t, err)

		doc, ok := vs.Get(ctx, "a")
		require.True(t, ok)
		assert.Equal(t, "alpha v2", doc.Text)
		assert.Equal(t, []float32{0, 1, 0}, doc.Embedding)
		assert.Equal(t, map[string]interface{}{"lang": "en"}, doc.Metadata)
		assert.Equal(t, 3, vs.Count(ctx, nil))
		assert.Equal(t, 1, vs.Count(ctx, map[string]interface{}{"source_ref": "a.md"}))
	})

	t.Run("dimension mismatch writes nothing", func(t *testing.T) {
		_, err := vs.Upsert(ctx, "d", "delta", []float32{1, 0}, nil)
		assert.ErrorIs(t, err, errs.ErrDimensionMismatch)
		_, ok := vs.Get(ctx, "d")
		assert.False(t, ok)
	})
}

func TestVectorStore_IndexMissing(t *testing.T) {
	ctx := context.Background()
	vs := newIntegrationStore(t, "never_created", false)

	_, err := vs.Search(ctx, []float32{1, 0, 0}, 3, nil)
	assert.ErrorIs(t, err, errs.ErrIndexMissing)
	assert.ErrorIs(t, err, errs.ErrPermanent)

	assert.ErrorIs(t, vs.Ping(ctx), errs.ErrIndexMissing)
	assert.Equal(t, 0, vs.Count(ctx, nil))
	_, ok := vs.Get(ctx, "a")
	assert.False(t, ok)
}
