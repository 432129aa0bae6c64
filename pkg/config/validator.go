package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validBackends = map[string]bool{
	"local":    true,
	"pgvector": true,
	"azure":    true,
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.Embedding.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "embedding.base_url",
			Message: "embedding server URL is required",
		})
	} else if _, err := url.Parse(c.Embedding.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "embedding.base_url",
			Message: "invalid embedding server URL",
		})
	}

	if c.Embedding.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "embedding.model",
			Message: "embedding model identifier is required",
		})
	}

	if c.Embedding.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Embedding.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "embedding.rate_limit",
			Message: "rate_limit must not be negative",
		})
	}

	if !validBackends[c.Search.Backend] {
		errors = append(errors, ValidationError{
			Field:   "search.backend",
			Message: fmt.Sprintf("unknown backend %q, expected local, pgvector or azure", c.Search.Backend),
		})
	}

	if c.Search.TopK < 1 || c.Search.TopK > 20 {
		errors = append(errors, ValidationError{
			Field:   "search.top_k",
			Message: "top_k must be between 1 and 20",
		})
	}

	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		errors = append(errors, ValidationError{
			Field:   "search.min_score",
			Message: "min_score must be between 0 and 1",
		})
	}

	if c.Search.Backend == "pgvector" {
		if c.Database.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "database URL is required for the pgvector backend",
			})
		} else if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Database.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Ingest.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "ingest.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "ingest.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.Ingest.MinChunkLength < 0 {
		errors = append(errors, ValidationError{
			Field:   "ingest.min_chunk_length",
			Message: "min_chunk_length must not be negative",
		})
	}

	return errors
}
