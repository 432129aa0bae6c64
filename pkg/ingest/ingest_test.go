package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffigueroa/edurag/internal/models"
	"github.com/ffigueroa/edurag/pkg/embedder"
	"github.com/ffigueroa/edurag/pkg/index"
	"github.com/ffigueroa/edurag/pkg/ingest"
)

type fakeExtractor struct {
	pages map[string][]ingest.PageText // keyed by base filename
	errs  map[string]error
}

func (f *fakeExtractor) Extract(path string) ([]ingest.PageText, error) {
	name := filepath.Base(path)
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return f.pages[name], nil
}

type fakeEmbedder struct {
	calls [][]string
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type captureSink struct {
	chunks []models.Chunk
	matrix [][]float32
	err    error
}

func (s *captureSink) Save(_ context.Context, chunks []models.Chunk, matrix [][]float32) error {
	if s.err != nil {
		return s.err
	}
	s.chunks = chunks
	s.matrix = matrix
	return nil
}

// touch creates placeholder files; extraction is faked, only names matter.
func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("%PDF-1.4"), 0o644))
	}
}

func pageText(n int) string {
	return fmt.Sprintf("Página %d. %s", n, strings.Repeat("contenido del documento educativo ", 5))
}

func TestIngestBuildsIndexFromValidPDFs(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "curriculum.pdf", "evaluacion.pdf", "notas.txt")

	extractor := &fakeExtractor{pages: map[string][]ingest.PageText{
		"curriculum.pdf": {{Page: 1, Text: pageText(1)}, {Page: 2, Text: pageText(2)}},
		"evaluacion.pdf": {{Page: 1, Text: pageText(1)}},
	}}
	emb := &fakeEmbedder{}
	sink := &captureSink{}

	var seen []string
	ing := ingest.NewWithConfig(ingest.Config{
		OnProgress: func(doc string) { seen = append(seen, doc) },
	}, extractor, emb, sink)

	count, err := ing.Ingest(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, []string{"curriculum", "evaluacion"}, seen)

	require.Len(t, sink.chunks, 3)
	require.Len(t, sink.matrix, 3)
	assert.Equal(t, "curriculum", sink.chunks[0].Doc)
	assert.Equal(t, 1, sink.chunks[0].Page)
	assert.Equal(t, "curriculum", sink.chunks[1].Doc)
	assert.Equal(t, 2, sink.chunks[1].Page)
	assert.Equal(t, "evaluacion", sink.chunks[2].Doc)
	for i, c := range sink.chunks {
		assert.Equal(t, i, c.VectorIndex)
	}
}

func TestIngestEmbedsWholeCorpusInOneCall(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.pdf", "b.pdf")

	extractor := &fakeExtractor{pages: map[string][]ingest.PageText{
		"a.pdf": {{Page: 1, Text: pageText(1)}},
		"b.pdf": {{Page: 1, Text: pageText(1)}, {Page: 2, Text: pageText(2)}},
	}}
	emb := &fakeEmbedder{}

	_, err := ingest.NewWithConfig(ingest.Config{}, extractor, emb, &captureSink{}).
		Ingest(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, emb.calls, 1, "exactly one batched embedding call for the whole corpus")
	assert.Len(t, emb.calls[0], 3)
}

func TestIngestSkipsEmptyAndBrokenDocuments(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "empty.pdf", "broken.pdf", "valid.pdf")

	extractor := &fakeExtractor{
		pages: map[string][]ingest.PageText{
			"empty.pdf": {{Page: 1, Text: "   \n "}},
			"valid.pdf": {{Page: 1, Text: pageText(1)}},
		},
		errs: map[string]error{"broken.pdf": errors.New("parsing broken.pdf: bad xref")},
	}

	var warnings []string
	sink := &captureSink{}
	ing := ingest.NewWithConfig(ingest.Config{
		Warnf: func(format string, args ...any) {
			warnings = append(warnings, fmt.Sprintf(format, args...))
		},
	}, extractor, &fakeEmbedder{}, sink)

	count, err := ing.Ingest(context.Background(), dir)
	require.NoError(t, err, "per-document failures must not abort the run")
	assert.Equal(t, 1, count)
	require.Len(t, sink.chunks, 1)
	assert.Equal(t, "valid", sink.chunks[0].Doc)

	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "broken.pdf")
}

func TestIngestDiscardsShortChunks(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "doc.pdf")

	extractor := &fakeExtractor{pages: map[string][]ingest.PageText{
		"doc.pdf": {
			{Page: 1, Text: "demasiado corto"},
			{Page: 2, Text: pageText(2)},
		},
	}}
	sink := &captureSink{}

	count, err := ingest.NewWithConfig(ingest.Config{}, extractor, &fakeEmbedder{}, sink).
		Ingest(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, sink.chunks[0].Page)
}

func TestIngestFailsWhenNothingToIndex(t *testing.T) {
	dir := t.TempDir()

	// No PDFs at all.
	_, err := ingest.NewWithConfig(ingest.Config{}, &fakeExtractor{}, &fakeEmbedder{}, &captureSink{}).
		Ingest(context.Background(), dir)
	assert.ErrorIs(t, err, ingest.ErrNoChunks)

	// PDFs present but nothing extractable.
	touch(t, dir, "empty.pdf")
	extractor := &fakeExtractor{pages: map[string][]ingest.PageText{
		"empty.pdf": {{Page: 1, Text: ""}},
	}}
	_, err = ingest.NewWithConfig(ingest.Config{}, extractor, &fakeEmbedder{}, &captureSink{}).
		Ingest(context.Background(), dir)
	assert.ErrorIs(t, err, ingest.ErrNoChunks)
}

func TestIngestFailsWhenProviderUnavailable(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "doc.pdf")

	extractor := &fakeExtractor{pages: map[string][]ingest.PageText{
		"doc.pdf": {{Page: 1, Text: pageText(1)}},
	}}
	emb := &fakeEmbedder{err: fmt.Errorf("%w: connection refused", embedder.ErrUnavailable)}
	sink := &captureSink{}

	_, err := ingest.NewWithConfig(ingest.Config{}, extractor, emb, sink).
		Ingest(context.Background(), dir)
	assert.ErrorIs(t, err, embedder.ErrUnavailable)
	assert.Empty(t, sink.chunks, "nothing persisted on an aborted run")
}

func TestIngestRejectsInvalidOverlap(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "doc.pdf")

	_, err := ingest.NewWithConfig(ingest.Config{ChunkSize: 100, ChunkOverlap: 100},
		&fakeExtractor{}, &fakeEmbedder{}, &captureSink{}).
		Ingest(context.Background(), dir)
	assert.Error(t, err)
}

func TestIngestRecursiveDiscovery(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "unidad1")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	touch(t, dir, "raiz.pdf")
	touch(t, nested, "anidado.pdf")

	extractor := &fakeExtractor{pages: map[string][]ingest.PageText{
		"raiz.pdf":    {{Page: 1, Text: pageText(1)}},
		"anidado.pdf": {{Page: 1, Text: pageText(1)}},
	}}

	// Flat discovery sees only the top level.
	sink := &captureSink{}
	count, err := ingest.NewWithConfig(ingest.Config{}, extractor, &fakeEmbedder{}, sink).
		Ingest(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Recursive discovery picks up the nested document too.
	sink = &captureSink{}
	count, err = ingest.NewWithConfig(ingest.Config{Recursive: true}, extractor, &fakeEmbedder{}, sink).
		Ingest(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCacheSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "embeddings.bin")
	sink := ingest.CacheSink{Path: path, Model: "nomic-embed-text:latest"}

	chunks := []models.Chunk{{Doc: "doc", Page: 1, Text: "texto del fragmento", VectorIndex: 0}}
	matrix := [][]float32{{0.6, 0.8}}
	require.NoError(t, sink.Save(context.Background(), chunks, matrix))

	gotMatrix, gotChunks, err := index.Load(path, "nomic-embed-text:latest")
	require.NoError(t, err)
	assert.Equal(t, matrix, gotMatrix)
	assert.Equal(t, chunks, gotChunks)
}
