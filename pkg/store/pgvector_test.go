package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffigueroa/edurag/internal/models"
	"github.com/ffigueroa/edurag/pkg/store"
)

// Integration test; needs a PostgreSQL instance with the pgvector extension.
func getTestStore(t *testing.T) *store.VectorStore {
	t.Helper()

	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping pgvector integration test")
	}

	s, err := store.NewWithConfig(context.Background(), store.VectorStoreConfig{
		ConnString: connString,
		TableName:  "test_chunks",
		VectorDim:  3,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestVectorStoreReplaceAndQuery(t *testing.T) {
	s := getTestStore(t)
	ctx := context.Background()

	chunks := []models.Chunk{
		{Doc: "curriculum", Page: 1, Text: "contenido sobre planificación", VectorIndex: 0},
		{Doc: "curriculum", Page: 2, Text: "contenido sobre evaluación", VectorIndex: 1},
		{Doc: "normativa", Page: 1, Text: "contenido sobre normativa", VectorIndex: 2},
	}
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}

	require.NoError(t, s.ReplaceAll(ctx, chunks, vectors))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := s.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "curriculum", results[0].Doc)
	assert.Equal(t, 1, results[0].Page)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)

	// A re-ingest fully replaces the previous generation.
	require.NoError(t, s.ReplaceAll(ctx, chunks[:1], vectors[:1]))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVectorStoreRejectsRowMismatch(t *testing.T) {
	s := getTestStore(t)

	err := s.ReplaceAll(context.Background(), []models.Chunk{{Doc: "d", Page: 1, Text: "t"}}, nil)
	assert.Error(t, err)
}
