package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// EmbeddingConfig configures the sentence-embedding provider.
type EmbeddingConfig struct {
	BaseURL   string  `yaml:"base_url"`
	Model     string  `yaml:"model"`
	UseGPU    bool    `yaml:"use_gpu"`
	BatchSize int     `yaml:"batch_size"`
	RateLimit float64 `yaml:"rate_limit"`
}

// IndexConfig configures the local embedding cache.
type IndexConfig struct {
	CachePath string `yaml:"cache_path"`
}

// SearchConfig configures retrieval behavior and backend selection.
type SearchConfig struct {
	Backend       string  `yaml:"backend"` // local | pgvector | azure
	TopK          int     `yaml:"top_k"`
	MinScore      float64 `yaml:"min_score"`
	AzureEndpoint string  `yaml:"azure_endpoint"`
	AzureKey      string  `yaml:"azure_key"`
	AzureIndex    string  `yaml:"azure_index"`
}

// DatabaseConfig configures the pgvector backend.
type DatabaseConfig struct {
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
	VectorDim int    `yaml:"vector_dim"`
	BatchSize int    `yaml:"batch_size"`
}

// IngestConfig configures the PDF ingestion pipeline.
type IngestConfig struct {
	DocsDir        string `yaml:"docs_dir"`
	ChunkSize      int    `yaml:"chunk_size"`
	ChunkOverlap   int    `yaml:"chunk_overlap"`
	MinChunkLength int    `yaml:"min_chunk_length"`
	Recursive      bool   `yaml:"recursive"`
}

type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Database  DatabaseConfig  `yaml:"database"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// LoadConfig reads configuration from path, falling back to default locations
// when path is empty, then layers environment variables and defaults on top.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/edurag/config.yaml"),
			"/etc/edurag/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	config := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	mergeWithEnv(config)
	applyDefaults(config)

	return config, nil
}

func applyDefaults(config *Config) {
	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 32
	}

	if config.Index.CachePath == "" {
		config.Index.CachePath = "rag_cache/embeddings.bin"
	}

	if config.Search.Backend == "" {
		config.Search.Backend = "local"
	}
	if config.Search.TopK == 0 {
		config.Search.TopK = 5
	}
	if config.Search.MinScore == 0 {
		config.Search.MinScore = 0.45
	}
	if config.Search.AzureIndex == "" {
		config.Search.AzureIndex = "educacion-docs"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "chunks"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Ingest.DocsDir == "" {
		config.Ingest.DocsDir = "docs"
	}
	if config.Ingest.ChunkSize == 0 {
		config.Ingest.ChunkSize = 500
	}
	if config.Ingest.ChunkOverlap == 0 {
		config.Ingest.ChunkOverlap = 100
	}
	if config.Ingest.MinChunkLength == 0 {
		config.Ingest.MinChunkLength = 50
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
	}
	if model := os.Getenv("RAG_MODEL"); model != "" {
		config.Embedding.Model = model
	}
	if gpu := os.Getenv("RAG_USE_GPU"); gpu != "" {
		config.Embedding.UseGPU = gpu == "1"
	}
	if cache := os.Getenv("RAG_EMBED_CACHE"); cache != "" {
		config.Index.CachePath = cache
	}
	if topK := os.Getenv("RAG_TOP_K"); topK != "" {
		if v, err := strconv.Atoi(topK); err == nil {
			config.Search.TopK = v
		}
	}
	if minScore := os.Getenv("RAG_MIN_SCORE"); minScore != "" {
		if v, err := strconv.ParseFloat(minScore, 64); err == nil {
			config.Search.MinScore = v
		}
	}
	if backend := os.Getenv("RAG_BACKEND"); backend != "" {
		config.Search.Backend = backend
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if endpoint := os.Getenv("AZURE_SEARCH_ENDPOINT"); endpoint != "" {
		config.Search.AzureEndpoint = endpoint
	}
	if key := os.Getenv("AZURE_SEARCH_KEY"); key != "" {
		config.Search.AzureKey = key
	}
	if idx := os.Getenv("AZURE_SEARCH_INDEX"); idx != "" {
		config.Search.AzureIndex = idx
	}
}
