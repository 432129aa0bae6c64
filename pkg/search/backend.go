package search

import (
	"context"
	"fmt"

	"github.com/ffigueroa/edurag/internal/models"
	"github.com/ffigueroa/edurag/pkg/config"
	"github.com/ffigueroa/edurag/pkg/embedder"
	"github.com/ffigueroa/edurag/pkg/index"
	"github.com/ffigueroa/edurag/pkg/store"
)

const (
	BackendLocal    = "local"
	BackendPgvector = "pgvector"
	BackendAzure    = "azure"
)

// Backend is the retrieval surface exposed to host collaborators. All
// implementations degrade to empty results rather than failing the caller's
// request when retrieval is unavailable.
type Backend interface {
	Search(ctx context.Context, query string, topK int) ([]models.SearchResult, error)
	Warm(ctx context.Context) error
}

// New selects and builds the configured backend once at startup.
func New(ctx context.Context, cfg *config.Config, emb *embedder.Embedder) (Backend, error) {
	switch cfg.Search.Backend {
	case BackendLocal:
		ix := index.New(cfg.Index.CachePath, cfg.Embedding.Model)
		return NewEngine(ix, emb, cfg.Search.MinScore, cfg.Search.TopK), nil

	case BackendPgvector:
		vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			VectorDim:  cfg.Database.VectorDim,
			BatchSize:  cfg.Database.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("search: initializing pgvector backend: %w", err)
		}
		return &StoreBackend{
			Store:       vs,
			Embedder:    emb,
			MinScore:    cfg.Search.MinScore,
			DefaultTopK: cfg.Search.TopK,
		}, nil

	case BackendAzure:
		return &AzureBackend{
			Endpoint: cfg.Search.AzureEndpoint,
			Key:      cfg.Search.AzureKey,
			Index:    cfg.Search.AzureIndex,
		}, nil

	default:
		return nil, fmt.Errorf("search: unknown backend %q", cfg.Search.Backend)
	}
}

// StoreBackend searches the pgvector store. Thresholding happens here since
// the database returns nearest neighbors regardless of score.
type StoreBackend struct {
	Store       *store.VectorStore
	Embedder    Embedder
	MinScore    float64
	DefaultTopK int
}

func (b *StoreBackend) Search(ctx context.Context, query string, topK int) ([]models.SearchResult, error) {
	if topK <= 0 {
		topK = b.DefaultTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	vecs, err := b.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: no query vector produced", embedder.ErrUnavailable)
	}

	candidates, err := b.Store.Query(ctx, vecs[0], topK)
	if err != nil {
		return nil, err
	}

	results := candidates[:0]
	for _, r := range candidates {
		if r.Score >= b.MinScore {
			results = append(results, r)
		}
	}
	return results, nil
}

func (b *StoreBackend) Warm(ctx context.Context) error {
	return b.Store.Ping(ctx)
}

// AzureBackend is a stub for Azure AI Search, kept so the backend can be
// switched by configuration once the resources are provisioned.
//
// Planned integration:
//  1. Embed the query (or rely on the index's integrated vectorizer).
//  2. POST {endpoint}/indexes/{index}/docs/search?api-version=2024-07-01
//     with body {"vectorQueries": [...], "top": K}.
//  3. Map doc_title -> Doc, page -> Page, content -> Text, @search.score -> Score.
type AzureBackend struct {
	Endpoint string
	Key      string
	Index    string
}

func (b *AzureBackend) Search(_ context.Context, _ string, _ int) ([]models.SearchResult, error) {
	if b.Endpoint == "" || b.Key == "" {
		return nil, nil
	}
	// Returns empty until the real integration lands.
	return nil, nil
}

func (b *AzureBackend) Warm(context.Context) error { return nil }
