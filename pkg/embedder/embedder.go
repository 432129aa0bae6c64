package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"
)

// ErrUnavailable reports that the embedding model could not be loaded or
// invoked. Search callers treat it as "retrieve without grounding"; ingestion
// treats it as fatal.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Client is the transport the provider needs from the model runtime. The
// Ollama client satisfies it; tests inject fakes.
type Client interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type Config struct {
	BaseURL   string
	Model     string
	UseGPU    bool
	BatchSize int
	// RateLimit caps embedding batches per second against the model server.
	// Zero means unlimited.
	RateLimit float64
}

// Embedder converts text into unit-normalized vectors. The underlying model
// client is loaded lazily on first use, guarded by a lock so concurrent
// first-callers block instead of double-loading. Safe for concurrent use.
type Embedder struct {
	config  Config
	limiter *rate.Limiter

	mu        sync.Mutex
	client    Client
	newClient func() (Client, error)
}

func NewWithConfig(config Config) *Embedder {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	e := &Embedder{config: config}
	if config.RateLimit > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	e.newClient = func() (Client, error) {
		opts := []ollama.Option{
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
		}
		if !config.UseGPU {
			opts = append(opts, ollama.WithRunnerNumGPU(0))
		}
		return ollama.New(opts...)
	}
	return e
}

// NewWithClient builds an Embedder over an already-constructed client.
// Used by tests and by callers that manage the model runtime themselves.
func NewWithClient(config Config, client Client) *Embedder {
	e := NewWithConfig(config)
	e.client = client
	return e
}

// ensureClient loads the model client at most once per process. A failed load
// is not memoized: the model server may simply not be up yet.
func (e *Embedder) ensureClient() (Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	client, err := e.newClient()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	e.client = client
	return client, nil
}

// Available reports whether the provider can be initialized right now.
func (e *Embedder) Available() bool {
	_, err := e.ensureClient()
	return err == nil
}

// Embed converts texts into unit-normalized vectors, one row per input text,
// calling the model in fixed-size batches. Any load or invoke failure comes
// back wrapped in ErrUnavailable so callers can degrade instead of crash.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	client, err := e.ensureClient()
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		batch, err := client.CreateEmbedding(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: embedding batch %d-%d: %v", ErrUnavailable, start, end, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: model returned %d vectors for %d texts", ErrUnavailable, len(batch), end-start)
		}
		for _, v := range batch {
			Normalize(v)
			vectors = append(vectors, v)
		}
	}

	return vectors, nil
}

// Normalize scales v to unit L2 norm in place. Zero vectors are left alone.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
