package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/ffigueroa/edurag/pkg/config"
	"github.com/ffigueroa/edurag/pkg/embedder"
	"github.com/ffigueroa/edurag/pkg/ingest"
	"github.com/ffigueroa/edurag/pkg/search"
	"github.com/ffigueroa/edurag/pkg/store"
)

type flags struct {
	configPath string
	ingestDir  string
	query      string
	topK       int
}

func main() {
	_ = godotenv.Load()

	f := parseFlags()
	if err := run(f); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to config file")
	flag.StringVar(&f.ingestDir, "ingest", "", "Ingest all PDFs under this directory and rebuild the index")
	flag.StringVar(&f.query, "query", "", "Run a single query and exit")
	flag.IntVar(&f.topK, "top-k", 0, "Maximum number of results (default from config)")
	flag.Parse()
	return f
}

func getProgressBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(f flags) error {
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %v", e)
		}
		return fmt.Errorf("invalid configuration (%d errors)", len(errs))
	}

	ctx := context.Background()
	emb := embedder.NewWithConfig(embedder.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		UseGPU:    cfg.Embedding.UseGPU,
		BatchSize: cfg.Embedding.BatchSize,
		RateLimit: cfg.Embedding.RateLimit,
	})

	if f.ingestDir != "" {
		if err := runIngest(ctx, cfg, emb, f.ingestDir); err != nil {
			return err
		}
		if f.query == "" {
			return nil
		}
	}

	backend, err := search.New(ctx, cfg, emb)
	if err != nil {
		return err
	}

	if err := backend.Warm(ctx); err != nil {
		color.Yellow("Retrieval not ready yet: %v", err)
	}

	if f.query != "" {
		return runQuery(ctx, backend, f.query, f.topK)
	}

	// Interactive loop; retrieval failures are reported and never end the session.
	color.Cyan("\nSearch the document corpus (type 'exit' to quit)")
	scanner := bufio.NewScanner(os.Stdin)
	prompt := color.New(color.FgGreen).PrintfFunc()

	for {
		prompt("\nQuery: ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.ToLower(query) == "exit" {
			break
		}

		if err := runQuery(ctx, backend, query, f.topK); err != nil {
			color.Red("Error: %v", err)
		}
	}

	return nil
}

func runIngest(ctx context.Context, cfg *config.Config, emb *embedder.Embedder, dir string) error {
	color.Blue("\nIngesting PDFs from %s", dir)

	var sink ingest.Sink
	if cfg.Search.Backend == search.BackendPgvector {
		vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			VectorDim:  cfg.Database.VectorDim,
			BatchSize:  cfg.Database.BatchSize,
		})
		if err != nil {
			return err
		}
		defer vs.Close()
		sink = ingest.StoreSink{Store: vs}
	} else {
		sink = ingest.CacheSink{Path: cfg.Index.CachePath, Model: cfg.Embedding.Model}
	}

	bar := getProgressBar(" Processing documents...")
	ing := ingest.NewWithConfig(ingest.Config{
		ChunkSize:      cfg.Ingest.ChunkSize,
		ChunkOverlap:   cfg.Ingest.ChunkOverlap,
		MinChunkLength: cfg.Ingest.MinChunkLength,
		Recursive:      cfg.Ingest.Recursive,
		OnProgress:     func(string) { bar.Add(1) },
		Warnf: func(format string, args ...any) {
			color.Yellow("\n"+format, args...)
		},
	}, ingest.PDFExtractor{}, emb, sink)

	count, err := ing.Ingest(ctx, dir)
	bar.Finish()
	if err != nil {
		return err
	}

	color.Green("\n✓ Indexed %d chunks\n", count)
	return nil
}

func runQuery(ctx context.Context, backend search.Backend, query string, topK int) error {
	spinner := getSpinner(" Searching documents...")
	results, err := backend.Search(ctx, query, topK)
	spinner.Finish()
	fmt.Print("\r")

	// Degraded retrieval is not an error for the caller: report it and carry
	// on without document grounding, the same way the chat flow would.
	if errors.Is(err, search.ErrIndexNotReady) || errors.Is(err, embedder.ErrUnavailable) {
		color.Yellow("Retrieval unavailable (%v); no document context this turn.", err)
		return nil
	}
	if err != nil {
		return err
	}

	if len(results) == 0 {
		color.Yellow("No relevant fragments found.")
		return nil
	}

	for i, r := range results {
		color.Cyan("\n%d. %s (page %d, score %.3f)", i+1, r.Doc, r.Page, r.Score)
	}

	fmt.Println()
	color.Blue("--- context ---")
	fmt.Println(search.FormatContext(results))
	return nil
}
