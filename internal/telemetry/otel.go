package telemetry

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config holds telemetry configuration
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlp", "stdout", or "none"
	Endpoint    string `yaml:"endpoint"` // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"` // Use insecure connection for OTLP
}

// Provider manages OpenTelemetry tracing
type Provider struct {
	config   Config
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewProvider creates a new telemetry provider
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{
			config: cfg,
			tracer: otel.Tracer("ragshield"),
		}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "ragshield"
	}

	slog.Info("creating exporter", "type", cfg.Exporter)

	// Create exporter based on config
	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		slog.Debug("creating OTLP exporter")
		exporter, err = createOTLPExporter(cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("OTLP exporter initialized", "endpoint", cfg.Endpoint)
	case "stdout":
		slog.Debug("creating stdout exporter")
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			slog.Error("stdout exporter creation failed", "error", err)
			return nil, err
		}
		slog.Info("stdout trace exporter initialized")
	default:
		// No exporter - tracing disabled
		return &Provider{
			config: cfg,
			tracer: otel.Tracer("ragshield"),
		}, nil
	}

	// Create simple trace provider without resource (avoids schema version conflicts)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter), // Use sync exporter for simplicity
	)

	// Set as global provider
	otel.SetTracerProvider(tp)

	return &Provider{
		config:   cfg,
		tracer:   tp.Tracer("ragshield"),
		provider: tp,
	}, nil
}

// createOTLPExporter creates an OTLP gRPC exporter
func createOTLPExporter(cfg Config) (sdktrace.SpanExporter, error) {
	ctx := context.Background()

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}

	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	return otlptracegrpc.New(ctx, opts...)
}

// Tracer returns the tracer for creating spans
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown gracefully shuts down the trace provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

// Enabled returns whether telemetry is enabled
func (p *Provider) Enabled() bool {
	return p.config.Enabled && p.provider != nil
}

// Query span attributes
const (
	AttrQueryID          = "ragshield.query.id"
	AttrQueryType        = "ragshield.query.type"
	AttrUserID           = "ragshield.user.id"
	AttrAction           = "ragshield.action"
	AttrRetrievedCount   = "ragshield.retrieved.count"
	AttrQuarantinedCount = "ragshield.quarantined.count"
	AttrDurationMs       = "ragshield.duration.ms"

	// Document integrity attributes
	AttrDocID         = "ragshield.doc.id"
	AttrDocSource     = "ragshield.doc.source"
	AttrCombinedScore = "ragshield.score.combined"
	AttrLowSignals    = "ragshield.signals.low"
	AttrRedFlagCount  = "ragshield.red_flags.count"
	AttrSeverity      = "ragshield.severity"
	AttrQuarantineID  = "ragshield.quarantine.id"

	// Blast radius attributes
	AttrBlastDocID           = "ragshield.blast.doc_id"
	AttrBlastSeverity        = "ragshield.blast.severity"
	AttrBlastQueries         = "ragshield.blast.affected_queries"
	AttrBlastUsers           = "ragshield.blast.affected_users"
	AttrBlastLookbackHours   = "ragshield.blast.lookback_hours"
	AttrBlastRecommendations = "ragshield.blast.recommendation_count"
)

// DocAssessment summarizes one document's integrity evaluation for telemetry export
type DocAssessment struct {
	DocID         string
	Source        string
	CombinedScore float64
	LowSignals    []string
	RedFlagCount  int
	Severity      string
	Quarantined   bool
	QuarantineID  string
}

// QueryRecord contains all data for telemetry export of one pipeline query
type QueryRecord struct {
	QueryID          string
	QueryType        string
	UserID           string
	Action           string
	DurationMs       int64
	RetrievedCount   int
	QuarantinedCount int
	Assessments      []DocAssessment
}

// StartQuerySpan starts a span for a pipeline query
func (p *Provider) StartQuerySpan(ctx context.Context, queryID, userID, queryType string) (context.Context, trace.Span) {
	ctx, span := p.tracer.Start(ctx, "pipeline.query",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrQueryID, queryID),
			attribute.String(AttrUserID, userID),
			attribute.String(AttrQueryType, queryType),
		),
	)
	return ctx, span
}

// EndQuerySpan ends a query span with the pipeline outcome
func (p *Provider) EndQuerySpan(span trace.Span, action string, retrieved, quarantined int, err error) {
	span.SetAttributes(
		attribute.String(AttrAction, action),
		attribute.Int(AttrRetrievedCount, retrieved),
		attribute.Int(AttrQuarantinedCount, quarantined),
	)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// RecordQuarantine records a quarantine event on the active span
func (p *Provider) RecordQuarantine(ctx context.Context, docID, quarantineID string, combinedScore float64, severity string) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("document.quarantined",
		trace.WithAttributes(
			attribute.String(AttrDocID, docID),
			attribute.String(AttrQuarantineID, quarantineID),
			attribute.Float64(AttrCombinedScore, combinedScore),
			attribute.String(AttrSeverity, severity),
		),
	)
}

// RecordBlastRadius records a blast radius assessment as its own span (audit record)
func (p *Provider) RecordBlastRadius(ctx context.Context, docID, severity string, affectedQueries, affectedUsers int, lookbackHours float64, recommendations int) {
	_, span := p.tracer.Start(ctx, "blastradius.report",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrBlastDocID, docID),
			attribute.String(AttrBlastSeverity, severity),
			attribute.Int(AttrBlastQueries, affectedQueries),
			attribute.Int(AttrBlastUsers, affectedUsers),
			attribute.Float64(AttrBlastLookbackHours, lookbackHours),
			attribute.Int(AttrBlastRecommendations, recommendations),
		),
	)
	span.End()

	slog.Debug("blast radius exported to telemetry",
		"doc_id", docID,
		"severity", severity,
		"affected_queries", affectedQueries,
		"affected_users", affectedUsers,
	)
}

// ExportQueryRecord exports a complete query record with per-document assessments
func (p *Provider) ExportQueryRecord(ctx context.Context, record QueryRecord) {
	if !p.Enabled() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrQueryID, record.QueryID),
		attribute.String(AttrQueryType, record.QueryType),
		attribute.String(AttrUserID, record.UserID),
		attribute.String(AttrAction, record.Action),
		attribute.Int64(AttrDurationMs, record.DurationMs),
		attribute.Int(AttrRetrievedCount, record.RetrievedCount),
		attribute.Int(AttrQuarantinedCount, record.QuarantinedCount),
	}

	// Create query record span with all attributes
	_, span := p.tracer.Start(ctx, "query.record",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	// Add individual assessment events for detailed tracking
	for _, a := range record.Assessments {
		span.AddEvent("document.assessed",
			trace.WithAttributes(
				attribute.String(AttrDocID, a.DocID),
				attribute.String(AttrDocSource, a.Source),
				attribute.Float64(AttrCombinedScore, a.CombinedScore),
				attribute.StringSlice(AttrLowSignals, a.LowSignals),
				attribute.Int(AttrRedFlagCount, a.RedFlagCount),
				attribute.String(AttrSeverity, a.Severity),
				attribute.Bool("quarantined", a.Quarantined),
				attribute.String(AttrQuarantineID, a.QuarantineID),
			),
		)
	}

	span.End()

	slog.Debug("query record exported to telemetry",
		"query_id", record.QueryID,
		"action", record.Action,
		"retrieved", record.RetrievedCount,
		"quarantined", record.QuarantinedCount,
	)
}

// DefaultConfig returns a default telemetry configuration
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "none",
		ServiceName: "ragshield",
	}
}

// ConfigFromEnv creates config from environment variables
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		cfg.Enabled = true
		cfg.Exporter = "otlp"
		cfg.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		cfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	}

	if os.Getenv("RAGSHIELD_TELEMETRY_ENABLED") == "true" {
		cfg.Enabled = true
	}
	if os.Getenv("RAGSHIELD_TELEMETRY_EXPORTER") != "" {
		cfg.Exporter = os.Getenv("RAGSHIELD_TELEMETRY_EXPORTER")
	}
	if os.Getenv("RAGSHIELD_TELEMETRY_ENDPOINT") != "" {
		cfg.Endpoint = os.Getenv("RAGSHIELD_TELEMETRY_ENDPOINT")
	}

	return cfg
}

// NoopProvider returns a provider that does nothing (for testing)
func NoopProvider() *Provider {
	return &Provider{
		config: Config{Enabled: false},
		tracer: otel.Tracer("ragshield-noop"),
	}
}

// SpanFromContext extracts a span from context
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// ContextWithTimeout creates a context with timeout for shutdown
func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
