// Package ingest drives the offline pipeline: PDF text extraction, chunking,
// one batched embedding pass, and persistence of the resulting index. A run
// either produces a complete new index generation or leaves the previous one
// untouched.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ffigueroa/edurag/internal/models"
	"github.com/ffigueroa/edurag/pkg/chunker"
	"github.com/ffigueroa/edurag/pkg/index"
	"github.com/ffigueroa/edurag/pkg/store"
)

// ErrNoChunks is returned when a run produces nothing to index: no PDFs, or
// none with extractable text. Fatal for the run, surfaced to the operator.
var ErrNoChunks = errors.New("ingest: no chunks produced")

// PageText is one page's extracted text.
type PageText struct {
	Page int
	Text string
}

// Extractor pulls per-page text out of one document file.
type Extractor interface {
	Extract(path string) ([]PageText, error)
}

// Embedder is what ingestion needs from the embedding provider.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Sink receives the finished index generation. Implementations must replace
// the previous generation atomically.
type Sink interface {
	Save(ctx context.Context, chunks []models.Chunk, matrix [][]float32) error
}

// CacheSink persists to the local embedding cache file.
type CacheSink struct {
	Path  string
	Model string
}

func (s CacheSink) Save(_ context.Context, chunks []models.Chunk, matrix [][]float32) error {
	return index.Persist(s.Path, s.Model, matrix, chunks)
}

// StoreSink persists to the pgvector store.
type StoreSink struct {
	Store *store.VectorStore
}

func (s StoreSink) Save(ctx context.Context, chunks []models.Chunk, matrix [][]float32) error {
	return s.Store.ReplaceAll(ctx, chunks, matrix)
}

type Config struct {
	ChunkSize      int
	ChunkOverlap   int
	MinChunkLength int
	Recursive      bool

	// OnProgress is called after each document is processed.
	OnProgress func(doc string)
	// Warnf receives non-fatal per-document problems. Nil discards them.
	Warnf func(format string, args ...any)
}

type Ingestor struct {
	config    Config
	extractor Extractor
	embedder  Embedder
	sink      Sink
}

func NewWithConfig(config Config, extractor Extractor, embedder Embedder, sink Sink) *Ingestor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 500
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 100
	}
	if config.MinChunkLength == 0 {
		config.MinChunkLength = chunker.MinChunkLength
	}
	if config.Warnf == nil {
		config.Warnf = func(string, ...any) {}
	}

	return &Ingestor{
		config:    config,
		extractor: extractor,
		embedder:  embedder,
		sink:      sink,
	}
}

// Ingest processes every PDF under dir and returns the number of chunks
// indexed. Individual documents that fail to parse are skipped with a
// warning; the run aborts only when nothing at all could be indexed or the
// embedding provider is unavailable. The previous index generation survives
// any aborted run.
func (ing *Ingestor) Ingest(ctx context.Context, dir string) (int, error) {
	if ing.config.ChunkOverlap >= ing.config.ChunkSize {
		return 0, fmt.Errorf("ingest: chunk overlap %d must be smaller than chunk size %d",
			ing.config.ChunkOverlap, ing.config.ChunkSize)
	}

	files, err := ing.listPDFs(dir)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("%w: no PDF files in %s", ErrNoChunks, dir)
	}

	var chunks []models.Chunk
	for _, path := range files {
		doc := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		pages, err := ing.extractor.Extract(path)
		if err != nil {
			ing.config.Warnf("skipping %s: %v", filepath.Base(path), err)
			continue
		}

		for _, page := range pages {
			if strings.TrimSpace(page.Text) == "" {
				continue
			}

			parts, err := chunker.Chunk(page.Text, ing.config.ChunkSize, ing.config.ChunkOverlap)
			if err != nil {
				return 0, err
			}
			for _, part := range parts {
				part = strings.TrimSpace(part)
				if len([]rune(part)) < ing.config.MinChunkLength {
					continue
				}
				chunks = append(chunks, models.Chunk{
					Doc:  doc,
					Page: page.Page,
					Text: part,
				})
			}
		}

		if ing.config.OnProgress != nil {
			ing.config.OnProgress(doc)
		}
	}

	if len(chunks) == 0 {
		return 0, ErrNoChunks
	}

	// One batched call for the whole corpus; model invocation has fixed
	// overhead, so per-document calls would dominate the run time.
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	matrix, err := ing.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("ingest: embedding corpus: %w", err)
	}
	if len(matrix) != len(chunks) {
		return 0, fmt.Errorf("ingest: got %d vectors for %d chunks", len(matrix), len(chunks))
	}

	for i := range chunks {
		chunks[i].VectorIndex = i
	}

	if err := ing.sink.Save(ctx, chunks, matrix); err != nil {
		return 0, fmt.Errorf("ingest: persisting index: %w", err)
	}

	return len(chunks), nil
}

func (ing *Ingestor) listPDFs(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ingest: %s is not a directory", dir)
	}

	var files []string
	if ing.config.Recursive {
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isPDF(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("ingest: walking %s: %w", dir, err)
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("ingest: reading %s: %w", dir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && isPDF(entry.Name()) {
				files = append(files, filepath.Join(dir, entry.Name()))
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}
