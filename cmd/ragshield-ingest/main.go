package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"ragshield/internal/config"
	"ragshield/internal/embed"
	"ragshield/internal/events"
	"ragshield/internal/ingest"
	"ragshield/internal/vectorstore"
)

func main() {
	configPath := flag.String("config", "configs/ragshield.yaml", "path to config file")
	corpusDir := flag.String("corpus", "", "corpus directory (overrides config)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	slog.SetDefault(slog.New(handler))

	dir := cfg.Data.CorpusDir
	if *corpusDir != "" {
		dir = *corpusDir
	}

	slog.Info("starting corpus ingestion",
		"corpus_dir", dir,
		"database", cfg.DatabasePath(),
		"embed_model", cfg.Ollama.EmbedModel,
	)

	// The SQLite store expects its parent directory to exist
	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		slog.Error("failed to create data directory", "error", err, "path", cfg.Data.Dir)
		os.Exit(1)
	}

	embedder := embed.NewClient(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel, cfg.Ollama.EmbedTimeout)

	store, err := vectorstore.NewSQLiteStore(cfg.DatabasePath(), embedder)
	if err != nil {
		slog.Error("failed to open vector store", "error", err)
		os.Exit(1)
	}

	// No broadcaster: the server tails the event log file, so the
	// ingestion event is visible once the server starts.
	eventLogger := events.NewLogger(cfg.EventLogPath(), nil)

	ingester := ingest.NewIngester(store, embedder, eventLogger)
	result, err := ingester.Run(context.Background(), dir)
	if err != nil {
		slog.Error("corpus ingestion failed", "error", err)
		eventLogger.Close()
		store.Close()
		os.Exit(1)
	}

	slog.Info("corpus ingestion complete",
		"total", result.Total,
		"clean", result.ByCategory["clean"],
		"poisoned", result.ByCategory["poisoned"],
		"golden", result.ByCategory["golden"],
	)

	if err := eventLogger.Close(); err != nil {
		slog.Error("event log close error", "error", err)
	}
	if err := store.Close(); err != nil {
		slog.Error("vector store close error", "error", err)
	}
}
