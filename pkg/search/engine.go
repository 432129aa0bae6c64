// Package search ranks indexed chunks against a query. The local engine
// expands the query, scores every chunk by cosine similarity, applies a score
// floor, drops near-duplicate chunks, nudges longer chunks up, and spreads the
// final list across source documents so one document cannot monopolize the
// answer context.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ffigueroa/edurag/internal/models"
	"github.com/ffigueroa/edurag/pkg/embedder"
	"github.com/ffigueroa/edurag/pkg/index"
)

// ErrIndexNotReady reports that no usable vector index is loaded. Like
// embedder.ErrUnavailable it means "retrieve without grounding", not a crash:
// callers log it and proceed with empty context.
var ErrIndexNotReady = errors.New("vector index not ready")

const (
	maxQueryLen = 2000
	maxTopK     = 20

	// dedupSigLen is how many leading characters identify a chunk for
	// deduplication; overlapping windows share their prefix.
	dedupSigLen = 100

	// lengthBoostDiv and lengthBoostCap give chunks a mild preference by
	// length: score * min(len/400, 1.1), applied after thresholding.
	lengthBoostDiv = 400
	lengthBoostCap = 1.1

	// maxDistinctDocs is how many distinct source documents are admitted
	// first during diversification. Tunable, not a hard invariant.
	maxDistinctDocs = 3
)

// Embedder is what the engine needs from the embedding provider.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Engine runs similarity search over the local in-memory index. Read-only and
// safe for concurrent use once its index and provider are initialized.
type Engine struct {
	index       *index.Index
	embedder    Embedder
	minScore    float64
	defaultTopK int
}

func NewEngine(ix *index.Index, emb Embedder, minScore float64, defaultTopK int) *Engine {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &Engine{index: ix, embedder: emb, minScore: minScore, defaultTopK: defaultTopK}
}

// Warm pre-loads the index and the embedding model so the first query does not
// pay the initialization cost. Failures are the usual degraded-mode signals.
func (e *Engine) Warm(ctx context.Context) error {
	if err := e.index.EnsureReady(); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexNotReady, err)
	}
	if _, err := e.embedder.Embed(ctx, []string{"warmup"}); err != nil {
		return err
	}
	return nil
}

// Search returns at most topK results ranked by boosted cosine similarity.
// topK <= 0 selects the configured default. A missing index or unavailable
// provider comes back as ErrIndexNotReady / embedder.ErrUnavailable with no
// results; the caller logs it and answers without document grounding.
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search: empty query")
	}
	if len([]rune(query)) > maxQueryLen {
		return nil, fmt.Errorf("search: query longer than %d characters", maxQueryLen)
	}
	if topK <= 0 {
		topK = e.defaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	if err := e.index.EnsureReady(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexNotReady, err)
	}
	chunks := e.index.Chunks()
	matrix := e.index.Matrix()
	if len(chunks) == 0 {
		return nil, nil
	}

	qvec, err := e.queryVector(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(qvec) != len(matrix[0]) {
		return nil, fmt.Errorf("search: query dimension %d does not match index dimension %d",
			len(qvec), len(matrix[0]))
	}

	// Score, threshold, dedup and boost in one pass over the matrix. The
	// threshold tests the raw similarity; the boost only reorders survivors.
	seen := make(map[string]struct{})
	results := make([]models.SearchResult, 0, topK*2)
	for i, chunk := range chunks {
		raw := dot(matrix[i], qvec)
		if raw < e.minScore {
			continue
		}

		sig := signature(chunk.Text)
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}

		boost := math.Min(float64(len([]rune(chunk.Text)))/lengthBoostDiv, lengthBoostCap)
		results = append(results, models.SearchResult{
			Doc:   chunk.Doc,
			Page:  chunk.Page,
			Text:  chunk.Text,
			Score: raw * boost,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	// Widen the candidate pool before diversifying, then admit the first hit
	// from each distinct document up to maxDistinctDocs before letting
	// already-represented documents back in.
	pool := int(float64(topK) * 1.5)
	if pool > len(results) {
		pool = len(results)
	}
	results = results[:pool]

	docsSeen := make(map[string]struct{})
	diverse := make([]models.SearchResult, 0, len(results))
	var rest []models.SearchResult
	for _, r := range results {
		_, represented := docsSeen[r.Doc]
		if !represented || len(docsSeen) >= maxDistinctDocs {
			diverse = append(diverse, r)
			docsSeen[r.Doc] = struct{}{}
		} else {
			rest = append(rest, r)
		}
	}
	final := append(diverse, rest...)

	if len(final) > topK {
		final = final[:topK]
	}
	return final, nil
}

// queryVector embeds the query and its variants and folds them into a single
// unit vector. A variant with question marks stripped is added only for
// queries of more than three words; averaging the normalized vectors makes
// retrieval more robust to superficial phrasing.
func (e *Engine) queryVector(ctx context.Context, query string) ([]float32, error) {
	variants := []string{query}
	if len(strings.Fields(query)) > 3 {
		clean := strings.TrimSpace(strings.NewReplacer("?", "", "¿", "").Replace(query))
		if clean != "" && clean != query {
			variants = append(variants, clean)
		}
	}

	vecs, err := e.embedder.Embed(ctx, variants)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: no query vectors produced", embedder.ErrUnavailable)
	}
	if len(vecs) == 1 {
		return vecs[0], nil
	}

	mean := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		if len(v) != len(mean) {
			return nil, fmt.Errorf("search: inconsistent query vector dimensions %d and %d", len(v), len(mean))
		}
		for i, x := range v {
			mean[i] += x
		}
	}
	n := float32(len(vecs))
	for i := range mean {
		mean[i] /= n
	}
	embedder.Normalize(mean)
	return mean, nil
}

// dot is cosine similarity for unit-normalized vectors.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func signature(text string) string {
	runes := []rune(text)
	if len(runes) > dedupSigLen {
		runes = runes[:dedupSigLen]
	}
	return string(runes)
}

// Response wraps results in the envelope host collaborators consume.
func Response(query string, results []models.SearchResult) models.SearchResponse {
	if results == nil {
		results = []models.SearchResult{}
	}
	return models.SearchResponse{Results: results, Total: len(results), Query: query}
}

// FormatContext renders results as the grounding block an LLM prompt builder
// embeds: one "[Source: doc | Page n]" header plus a flattened text preview per
// result, separated by blank lines.
func FormatContext(results []models.SearchResult) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		preview := strings.ReplaceAll(strings.TrimSpace(r.Text), "\n", " ")
		if runes := []rune(preview); len(runes) > 400 {
			preview = string(runes[:400]) + "…"
		}
		lines = append(lines, fmt.Sprintf("[Source: %s | Page %d]\n%s\n", r.Doc, r.Page, preview))
	}
	return strings.Join(lines, "\n")
}
