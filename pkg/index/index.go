// Package index holds the in-memory vector index: an embedding matrix and a
// parallel list of chunk metadata, persisted together in a single cache file.
// Row i of the matrix always describes chunks[i]; the pair is immutable once
// loaded and fully replaced by the next ingestion run.
package index

import (
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ffigueroa/edurag/internal/models"
)

var (
	// ErrCacheAbsent signals that no usable cache exists yet. Expected on
	// first run; search degrades to empty results until ingestion produces one.
	ErrCacheAbsent = errors.New("embedding cache not available")

	// ErrCorrupt signals a cache whose matrix and metadata disagree. Never
	// silently truncated; the operator must re-ingest.
	ErrCorrupt = errors.New("embedding cache corrupt")
)

// cacheFile is the on-disk shape: both arrays plus the model that produced
// them, gob-encoded inside a gzip stream.
type cacheFile struct {
	Model      string
	Dimension  int
	Embeddings [][]float32
	Meta       []models.Chunk
}

// Load reads a cache file. A missing or undecodable file is reported as
// ErrCacheAbsent, a decoded file that violates the parallel-array invariant
// as ErrCorrupt. model, when non-empty, must match the model recorded at
// persist time; a cache built by another model is unusable.
func Load(path, model string) ([][]float32, []models.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrCacheAbsent, path)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrCacheAbsent, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCacheAbsent, err)
	}
	defer gz.Close()

	var cache cacheFile
	if err := gob.NewDecoder(gz).Decode(&cache); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCacheAbsent, err)
	}

	if len(cache.Embeddings) != len(cache.Meta) {
		return nil, nil, fmt.Errorf("%w: %d embeddings vs %d chunks",
			ErrCorrupt, len(cache.Embeddings), len(cache.Meta))
	}
	for i, c := range cache.Meta {
		if c.VectorIndex != i {
			return nil, nil, fmt.Errorf("%w: chunk %d has vector_index %d", ErrCorrupt, i, c.VectorIndex)
		}
	}
	if model != "" && cache.Model != "" && cache.Model != model {
		return nil, nil, fmt.Errorf("%w: cache built with model %q, configured model is %q",
			ErrCorrupt, cache.Model, model)
	}

	return cache.Embeddings, cache.Meta, nil
}

// Persist writes matrix and chunks to path as one atomic unit: the data goes
// to a temp file in the same directory and is renamed into place, so a crashed
// run never clobbers a valid cache and a reader never sees half a write.
func Persist(path, model string, matrix [][]float32, chunks []models.Chunk) error {
	if len(matrix) != len(chunks) {
		return fmt.Errorf("index: %d embeddings for %d chunks", len(matrix), len(chunks))
	}

	dim := 0
	if len(matrix) > 0 {
		dim = len(matrix[0])
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("index: creating cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("index: creating temp cache: %w", err)
	}
	defer os.Remove(tmp.Name())

	gz := gzip.NewWriter(tmp)
	cache := cacheFile{Model: model, Dimension: dim, Embeddings: matrix, Meta: chunks}
	if err := gob.NewEncoder(gz).Encode(&cache); err != nil {
		tmp.Close()
		return fmt.Errorf("index: encoding cache: %w", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("index: flushing cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("index: closing temp cache: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("index: replacing cache: %w", err)
	}
	return nil
}

// Index wraps a cache file with lazy, thread-safe loading. After the first
// successful load the data is read-only and accessors take no locks beyond an
// atomic flag check, so EnsureReady is safe to call on every request path.
type Index struct {
	path  string
	model string

	loaded atomic.Bool
	mu     sync.Mutex
	matrix [][]float32
	chunks []models.Chunk
}

func New(path, model string) *Index {
	return &Index{path: path, model: model}
}

// EnsureReady loads the cache if it has not been loaded yet. Idempotent; a
// failed load is retried on the next call, so a service started before its
// first ingestion picks the cache up as soon as it appears.
func (ix *Index) EnsureReady() error {
	if ix.loaded.Load() {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.loaded.Load() {
		return nil
	}

	matrix, chunks, err := Load(ix.path, ix.model)
	if err != nil {
		return err
	}
	ix.matrix = matrix
	ix.chunks = chunks
	ix.loaded.Store(true)
	return nil
}

// Ready reports whether the index has been loaded.
func (ix *Index) Ready() bool { return ix.loaded.Load() }

// Matrix returns the embedding matrix. Callers must not mutate it.
func (ix *Index) Matrix() [][]float32 {
	if !ix.loaded.Load() {
		return nil
	}
	return ix.matrix
}

// Chunks returns the metadata parallel to Matrix. Callers must not mutate it.
func (ix *Index) Chunks() []models.Chunk {
	if !ix.loaded.Load() {
		return nil
	}
	return ix.chunks
}

// Len returns the number of indexed chunks, zero before a successful load.
func (ix *Index) Len() int { return len(ix.Chunks()) }
