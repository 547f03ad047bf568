package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ragshield/internal/api"
	"ragshield/internal/config"
	"ragshield/internal/embed"
	"ragshield/internal/events"
	"ragshield/internal/integrity"
	"ragshield/internal/lineage"
	"ragshield/internal/llm"
	"ragshield/internal/pipeline"
	"ragshield/internal/quarantine"
	"ragshield/internal/telemetry"
	"ragshield/internal/vectorstore"
)

func main() {
	configPath := flag.String("config", "configs/ragshield.yaml", "path to config file")
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

	slog.Info("starting RAGShield",
		"version", api.Version,
		"listen", cfg.Listen,
		"data_dir", cfg.Data.Dir,
		"broadcast", cfg.Events.Broadcast,
	)

	// The SQLite store expects its parent directory to exist
	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		slog.Error("failed to create data directory", "error", err, "path", cfg.Data.Dir)
		os.Exit(1)
	}

	embedder := embed.NewClient(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel, cfg.Ollama.EmbedTimeout)
	generator := llm.NewClient(cfg.Ollama.BaseURL, cfg.Ollama.Model, cfg.Ollama.Timeout)

	store, err := vectorstore.NewSQLiteStore(cfg.DatabasePath(), embedder)
	if err != nil {
		slog.Error("failed to open vector store", "error", err)
		os.Exit(1)
	}
	slog.Info("vector store ready", "path", cfg.DatabasePath())

	// Initialize event broadcaster based on configuration
	var broadcaster events.Broadcaster
	switch cfg.Events.Broadcast {
	case "redis":
		rb, err := events.NewRedisBroadcaster(events.RedisConfig{
			Addr:      cfg.Events.Redis.Addr,
			Password:  cfg.Events.Redis.Password,
			DB:        cfg.Events.Redis.DB,
			KeyPrefix: cfg.Events.Redis.KeyPrefix,
		})
		if err != nil {
			slog.Warn("Redis broadcaster unavailable, falling back to in-memory", "error", err)
			broadcaster = events.NewMemoryBroadcaster()
		} else {
			broadcaster = rb
			slog.Info("using Redis event broadcast", "addr", cfg.Events.Redis.Addr)
		}
	default:
		broadcaster = events.NewMemoryBroadcaster()
		slog.Info("using in-memory event broadcast")
	}

	eventLogger := events.NewLogger(cfg.EventLogPath(), broadcaster)
	lineageLog := lineage.NewLog(cfg.LineageLogPath())

	vault, err := quarantine.NewVault(cfg.VaultDir(), store)
	if err != nil {
		slog.Error("failed to open quarantine vault", "error", err)
		os.Exit(1)
	}

	analyzer := lineage.NewAnalyzer(lineageLog, vault, lineage.Thresholds{
		CriticalQueries: cfg.BlastRadius.CriticalQueries,
		CriticalUsers:   cfg.BlastRadius.CriticalUsers,
		HighQueries:     cfg.BlastRadius.HighQueries,
		HighUsers:       cfg.BlastRadius.HighUsers,
		MediumQueries:   cfg.BlastRadius.MediumQueries,
		MediumUsers:     cfg.BlastRadius.MediumUsers,
	}, cfg.Lookback())

	// Convert config tables to scorer inputs
	trustEntries := make([]integrity.TrustEntry, len(cfg.Integrity.TrustSources))
	for i, s := range cfg.Integrity.TrustSources {
		trustEntries[i] = integrity.TrustEntry{Source: s.Source, Score: s.Score}
	}
	flagCategories := make([]integrity.FlagCategory, len(cfg.Integrity.RedFlags))
	for i, c := range cfg.Integrity.RedFlags {
		flagCategories[i] = integrity.FlagCategory{Name: c.Name, Keywords: c.Keywords}
	}

	trustScorer := integrity.NewTrustScorer(trustEntries)
	engine := integrity.NewEngine(
		trustScorer,
		integrity.NewRedFlagDetector(flagCategories),
		integrity.NewAnomalyScorer(trustScorer),
		integrity.NewDriftScorer(),
		integrity.Weights{
			Trust:         cfg.Integrity.Weights.Trust,
			RedFlag:       cfg.Integrity.Weights.RedFlag,
			Anomaly:       cfg.Integrity.Weights.Anomaly,
			SemanticDrift: cfg.Integrity.Weights.SemanticDrift,
		},
		cfg.Integrity.Threshold,
		cfg.Integrity.WarningThreshold,
	)
	slog.Info("integrity engine configured",
		"trust_sources", len(trustEntries),
		"red_flag_categories", len(flagCategories),
		"threshold", cfg.Integrity.Threshold,
	)

	// Initialize telemetry (graceful degradation if initialization fails)
	var tp *telemetry.Provider
	if cfg.Telemetry.Enabled {
		var err error
		tp, err = telemetry.NewProvider(telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			Exporter:    cfg.Telemetry.Exporter,
			Endpoint:    cfg.Telemetry.Endpoint,
			ServiceName: cfg.Telemetry.ServiceName,
			Insecure:    cfg.Telemetry.Insecure,
		})
		if err != nil {
			slog.Warn("telemetry initialization failed, continuing without tracing", "error", err)
			tp = nil // Continue without telemetry
		} else {
			slog.Info("telemetry enabled",
				"exporter", cfg.Telemetry.Exporter,
				"endpoint", cfg.Telemetry.Endpoint,
			)
		}
	}

	pipe := pipeline.NewPipeline(store, engine, vault, lineageLog, eventLogger, generator, tp)
	apiHandler := api.New(pipe, store, vault, analyzer, eventLogger, broadcaster, generator, tp)

	// Load the drift reference set and probe the generator backend
	// before accepting queries. An unreachable backend degrades
	// generation but does not block startup.
	ollamaOK, err := pipe.Initialize(context.Background())
	if err != nil {
		slog.Error("pipeline initialization failed", "error", err)
		os.Exit(1)
	}
	if ollamaOK {
		slog.Info("Ollama backend connected", "base_url", cfg.Ollama.BaseURL, "model", cfg.Ollama.Model)
	} else {
		slog.Warn("Ollama backend unreachable, generation will return error answers", "base_url", cfg.Ollama.BaseURL)
	}

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      apiHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // Disable for the websocket event stream
		IdleTimeout:  120 * time.Second,
	}

	// Configure TLS if enabled
	if cfg.TLS.Enabled {
		tlsConfig, err := setupTLS(cfg.TLS)
		if err != nil {
			slog.Error("failed to setup TLS", "error", err)
			os.Exit(1)
		}
		server.TLSConfig = tlsConfig
		slog.Info("TLS enabled for API server")
	}

	errChan := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled {
			slog.Info("API server starting (HTTPS)", "addr", cfg.Listen)
			if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("api server error: %w", err)
			}
		} else {
			slog.Info("API server starting (HTTP)", "addr", cfg.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("api server error: %w", err)
			}
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("server error", "error", err)
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Closing the loggers flushes queued JSONL writes
	if err := eventLogger.Close(); err != nil {
		slog.Error("event log close error", "error", err)
	}
	if err := lineageLog.Close(); err != nil {
		slog.Error("lineage log close error", "error", err)
	}
	if err := broadcaster.Close(); err != nil {
		slog.Error("broadcaster close error", "error", err)
	}
	if err := store.Close(); err != nil {
		slog.Error("vector store close error", "error", err)
	}

	// Shutdown telemetry
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "error", err)
		}
	}

	slog.Info("RAGShield stopped")
}

// setupTLS configures TLS for the API server
func setupTLS(cfg config.TLSConfig) (*tls.Config, error) {
	var cert tls.Certificate
	var err error

	if cfg.AutoCert {
		// Generate self-signed certificate for development
		cert, err = generateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("generating self-signed cert: %w", err)
		}
		slog.Warn("using auto-generated self-signed certificate (development only)")
	} else if cfg.CertFile != "" && cfg.KeyFile != "" {
		// Load certificate from files
		cert, err = tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading TLS certificate: %w", err)
		}
		slog.Info("loaded TLS certificate", "cert", cfg.CertFile, "key", cfg.KeyFile)
	} else {
		return nil, fmt.Errorf("TLS enabled but no certificate configured (set cert_file/key_file or auto_cert)")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// generateSelfSignedCert creates a self-signed certificate for development
func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"RAGShield Development"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost", "ragshield", "*.ragshield.local"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})

	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes})

	return tls.X509KeyPair(certPEM, keyPEM)
}
