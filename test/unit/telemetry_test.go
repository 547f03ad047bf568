package unit

import (
	"context"
	"strings"
	"testing"
	"time"

	"ragshield/internal/telemetry"
)

// ============================================================
// Provider Tests
// ============================================================

func TestNewProvider_Disabled(t *testing.T) {
	cfg := telemetry.Config{
		Enabled: false,
	}

	provider, err := telemetry.NewProvider(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if provider == nil {
		t.Fatal("provider should not be nil even when disabled")
	}

	if provider.Enabled() {
		t.Error("disabled provider should return Enabled() = false")
	}

	// Tracer should still be available (noop)
	if provider.Tracer() == nil {
		t.Error("tracer should not be nil even when disabled")
	}
}

func TestNewProvider_StdoutExporter(t *testing.T) {
	cfg := telemetry.Config{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "ragshield-test",
	}

	provider, err := telemetry.NewProvider(cfg)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	if !provider.Enabled() {
		t.Error("provider should be enabled with stdout exporter")
	}

	if provider.Tracer() == nil {
		t.Error("tracer should not be nil")
	}
}

func TestNewProvider_NoneExporter(t *testing.T) {
	cfg := telemetry.Config{
		Enabled:  true,
		Exporter: "none",
	}

	provider, err := telemetry.NewProvider(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// "none" exporter should result in disabled provider
	if provider.Enabled() {
		t.Error("provider with 'none' exporter should not be enabled")
	}
}

func TestNewProvider_DefaultServiceName(t *testing.T) {
	cfg := telemetry.Config{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "", // Empty = should default to "ragshield"
	}

	provider, err := telemetry.NewProvider(cfg)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	// Provider should work with default service name
	if !provider.Enabled() {
		t.Error("provider should be enabled")
	}
}

// ============================================================
// NoopProvider Tests
// ============================================================

func TestNoopProvider(t *testing.T) {
	provider := telemetry.NoopProvider()

	if provider.Enabled() {
		t.Error("noop provider should not be enabled")
	}

	if provider.Tracer() == nil {
		t.Error("noop provider should still have a tracer")
	}

	// Should not panic on shutdown
	err := provider.Shutdown(context.Background())
	if err != nil {
		t.Errorf("noop provider shutdown should not error: %v", err)
	}
}

// ============================================================
// ExportQueryRecord Tests
// ============================================================

func TestExportQueryRecord_Disabled(t *testing.T) {
	provider := telemetry.NoopProvider()

	record := telemetry.QueryRecord{
		QueryID:          "test-query",
		QueryType:        "cve_lookup",
		UserID:           "demo-user",
		Action:           "partial",
		DurationMs:       1200,
		RetrievedCount:   5,
		QuarantinedCount: 1,
		Assessments: []telemetry.DocAssessment{
			{
				DocID:         "doc-poisoned-1",
				Source:        "free-advice.biz",
				CombinedScore: 0.31,
				LowSignals:    []string{"trust (0.10)", "red_flag (0.47)"},
				RedFlagCount:  6,
				Severity:      "CRITICAL",
				Quarantined:   true,
				QuarantineID:  "Q-20260314093000-doc-poisoned-1",
			},
		},
	}

	// Should not panic when disabled
	provider.ExportQueryRecord(context.Background(), record)
}

func TestExportQueryRecord_WithStdout(t *testing.T) {
	cfg := telemetry.Config{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "ragshield-test",
	}

	provider, err := telemetry.NewProvider(cfg)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	record := telemetry.QueryRecord{
		QueryID:          "query-123",
		QueryType:        "general",
		UserID:           "analyst_kim",
		Action:           "quarantine",
		DurationMs:       5000,
		RetrievedCount:   3,
		QuarantinedCount: 3,
		Assessments: []telemetry.DocAssessment{
			{
				DocID:         "doc-1",
				Source:        "sketchy-blog.net",
				CombinedScore: 0.28,
				LowSignals:    []string{"trust (0.10)", "red_flag (0.44)", "anomaly (0.28)"},
				RedFlagCount:  7,
				Severity:      "CRITICAL",
				Quarantined:   true,
				QuarantineID:  "Q-20260314093000-doc-1",
			},
			{
				DocID:         "doc-2",
				Source:        "pastebin-mirror.cc",
				CombinedScore: 0.35,
				LowSignals:    []string{"trust (0.10)", "anomaly (0.28)"},
				RedFlagCount:  2,
				Severity:      "MALICIOUS",
				Quarantined:   true,
				QuarantineID:  "Q-20260314093001-doc-2",
			},
		},
	}

	// Should not panic - actually exports the span
	provider.ExportQueryRecord(context.Background(), record)
}

func TestExportQueryRecord_NoAssessments(t *testing.T) {
	cfg := telemetry.Config{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "ragshield-test",
	}

	provider, err := telemetry.NewProvider(cfg)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	record := telemetry.QueryRecord{
		QueryID:          "clean-query",
		QueryType:        "cve_lookup",
		UserID:           "demo-user",
		Action:           "allow",
		DurationMs:       800,
		RetrievedCount:   5,
		QuarantinedCount: 0,
		Assessments:      nil, // Empty retrieval path
	}

	// Should not panic with empty assessments
	provider.ExportQueryRecord(context.Background(), record)
}

// ============================================================
// QueryRecord Tests
// ============================================================

func TestQueryRecord_Struct(t *testing.T) {
	record := telemetry.QueryRecord{
		QueryID:          "q-123",
		QueryType:        "mitigation",
		UserID:           "analyst_lee",
		Action:           "partial",
		DurationMs:       1500,
		RetrievedCount:   4,
		QuarantinedCount: 1,
		Assessments: []telemetry.DocAssessment{
			{
				DocID:         "doc-a",
				Source:        "nvd.nist.gov",
				CombinedScore: 0.91,
				Severity:      "CLEAN",
			},
		},
	}

	if record.QueryID != "q-123" {
		t.Error("QueryID mismatch")
	}
	if record.QueryType != "mitigation" {
		t.Error("QueryType mismatch")
	}
	if record.UserID != "analyst_lee" {
		t.Error("UserID mismatch")
	}
	if record.Action != "partial" {
		t.Error("Action mismatch")
	}
	if record.DurationMs != 1500 {
		t.Error("DurationMs mismatch")
	}
	if record.RetrievedCount != 4 {
		t.Error("RetrievedCount mismatch")
	}
	if record.QuarantinedCount != 1 {
		t.Error("QuarantinedCount mismatch")
	}
	if len(record.Assessments) != 1 {
		t.Error("Assessments count mismatch")
	}
	if record.Assessments[0].Severity != "CLEAN" {
		t.Error("Assessment severity mismatch")
	}
}

func TestDocAssessment_Struct(t *testing.T) {
	a := telemetry.DocAssessment{
		DocID:         "poisoned-advisory-3",
		Source:        "free-advice.biz",
		CombinedScore: 0.2975,
		LowSignals:    []string{"trust (0.10)", "red_flag (0.47)", "anomaly (0.28)"},
		RedFlagCount:  6,
		Severity:      "CRITICAL",
		Quarantined:   true,
		QuarantineID:  "Q-20260314093000-poisoned-advisory-3",
	}

	if a.DocID != "poisoned-advisory-3" {
		t.Error("DocID mismatch")
	}
	if a.Source != "free-advice.biz" {
		t.Error("Source mismatch")
	}
	if a.CombinedScore != 0.2975 {
		t.Error("CombinedScore mismatch")
	}
	if len(a.LowSignals) != 3 {
		t.Error("LowSignals count mismatch")
	}
	if a.RedFlagCount != 6 {
		t.Error("RedFlagCount mismatch")
	}
	if !a.Quarantined {
		t.Error("Quarantined mismatch")
	}
	if a.QuarantineID != "Q-20260314093000-poisoned-advisory-3" {
		t.Error("QuarantineID mismatch")
	}
}

// ============================================================
// StartQuerySpan / EndQuerySpan Tests
// ============================================================

func TestStartQuerySpan(t *testing.T) {
	cfg := telemetry.Config{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "ragshield-test",
	}

	provider, err := telemetry.NewProvider(cfg)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	ctx := context.Background()
	ctx, span := provider.StartQuerySpan(ctx, "query-abc", "demo-user", "cve_lookup")

	if span == nil {
		t.Fatal("span should not be nil")
	}

	// Span should be recording
	if !span.IsRecording() {
		t.Error("span should be recording")
	}

	// End the span
	provider.EndQuerySpan(span, "allow", 5, 0, nil)

	// Context should have span
	if telemetry.SpanFromContext(ctx) == nil {
		t.Error("context should contain span")
	}
}

func TestEndQuerySpan_WithError(t *testing.T) {
	cfg := telemetry.Config{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "ragshield-test",
	}

	provider, err := telemetry.NewProvider(cfg)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := provider.StartQuerySpan(ctx, "query-timeout", "demo-user", "general")

	testErr := context.DeadlineExceeded
	provider.EndQuerySpan(span, "partial", 3, 1, testErr)

	// Should not panic with error
}

// ============================================================
// RecordQuarantine Tests
// ============================================================

func TestRecordQuarantine(t *testing.T) {
	cfg := telemetry.Config{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "ragshield-test",
	}

	provider, err := telemetry.NewProvider(cfg)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	ctx := context.Background()
	ctx, span := provider.StartQuerySpan(ctx, "query-q", "demo-user", "general")

	// Should not panic
	provider.RecordQuarantine(ctx, "poisoned-doc", "Q-20260314093000-poisoned-doc", 0.31, "CRITICAL")

	span.End()
}

// ============================================================
// RecordBlastRadius Tests
// ============================================================

func TestRecordBlastRadius(t *testing.T) {
	cfg := telemetry.Config{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "ragshield-test",
	}

	provider, err := telemetry.NewProvider(cfg)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	ctx := context.Background()

	// Should not panic
	provider.RecordBlastRadius(ctx, "poisoned-doc", "HIGH", 7, 4, 24, 5)
}

// ============================================================
// Config Tests
// ============================================================

func TestTelemetryDefaultConfig(t *testing.T) {
	cfg := telemetry.DefaultConfig()

	if cfg.Enabled {
		t.Error("default config should have Enabled = false")
	}
	if cfg.Exporter != "none" {
		t.Errorf("default exporter should be 'none', got %s", cfg.Exporter)
	}
	if cfg.ServiceName != "ragshield" {
		t.Errorf("default service name should be 'ragshield', got %s", cfg.ServiceName)
	}
}

func TestConfigFromEnv_NoEnvSet(t *testing.T) {
	// Neutralize any inherited settings; empty values read as unset
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("RAGSHIELD_TELEMETRY_ENABLED", "")
	t.Setenv("RAGSHIELD_TELEMETRY_EXPORTER", "")

	cfg := telemetry.ConfigFromEnv()

	if cfg.Enabled {
		t.Error("telemetry should be disabled without env configuration")
	}
	if cfg.ServiceName != "ragshield" {
		t.Errorf("expected default service name 'ragshield', got %s", cfg.ServiceName)
	}
}

func TestConfigFromEnv_OTLPEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg := telemetry.ConfigFromEnv()

	if !cfg.Enabled {
		t.Error("OTLP endpoint should enable telemetry")
	}
	if cfg.Exporter != "otlp" {
		t.Errorf("expected otlp exporter, got %s", cfg.Exporter)
	}
	if cfg.Endpoint != "collector:4317" {
		t.Errorf("endpoint mismatch: %s", cfg.Endpoint)
	}
	if !cfg.Insecure {
		t.Error("insecure flag should be set")
	}
}

// ============================================================
// Shutdown Tests
// ============================================================

func TestProvider_Shutdown(t *testing.T) {
	cfg := telemetry.Config{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "ragshield-test",
	}

	provider, err := telemetry.NewProvider(cfg)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	// Export something first
	provider.ExportQueryRecord(context.Background(), telemetry.QueryRecord{
		QueryID: "shutdown-test",
		Action:  "allow",
	})

	// Shutdown should work without error
	err = provider.Shutdown(context.Background())
	if err != nil {
		t.Errorf("shutdown error: %v", err)
	}
}

func TestProvider_ShutdownWhenDisabled(t *testing.T) {
	cfg := telemetry.Config{
		Enabled: false,
	}

	provider, err := telemetry.NewProvider(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Shutdown on disabled provider should not error
	err = provider.Shutdown(context.Background())
	if err != nil {
		t.Errorf("shutdown on disabled provider should not error: %v", err)
	}
}

// ============================================================
// SpanFromContext Tests
// ============================================================

func TestSpanFromContext_Empty(t *testing.T) {
	ctx := context.Background()
	span := telemetry.SpanFromContext(ctx)

	// Should return a noop span, not nil
	if span == nil {
		t.Error("SpanFromContext should return a span even for empty context")
	}
}

func TestSpanFromContext_WithSpan(t *testing.T) {
	cfg := telemetry.Config{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "ragshield-test",
	}

	provider, err := telemetry.NewProvider(cfg)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	ctx := context.Background()
	ctx, expectedSpan := provider.StartQuerySpan(ctx, "ctx-test", "demo-user", "general")

	retrievedSpan := telemetry.SpanFromContext(ctx)
	if retrievedSpan != expectedSpan {
		t.Error("SpanFromContext should return the span from context")
	}

	expectedSpan.End()
}

// ============================================================
// ContextWithTimeout Tests
// ============================================================

func TestContextWithTimeout(t *testing.T) {
	ctx, cancel := telemetry.ContextWithTimeout(100 * time.Millisecond)
	defer cancel()

	if ctx == nil {
		t.Error("context should not be nil")
	}

	// Verify context has deadline
	_, ok := ctx.Deadline()
	if !ok {
		t.Error("context should have a deadline")
	}
}

// ============================================================
// Attribute Constants Tests
// ============================================================

func TestAttributeConstants(t *testing.T) {
	// Verify attribute constants are defined
	attrs := map[string]string{
		"AttrQueryID":          telemetry.AttrQueryID,
		"AttrQueryType":        telemetry.AttrQueryType,
		"AttrUserID":           telemetry.AttrUserID,
		"AttrAction":           telemetry.AttrAction,
		"AttrRetrievedCount":   telemetry.AttrRetrievedCount,
		"AttrQuarantinedCount": telemetry.AttrQuarantinedCount,
		"AttrDurationMs":       telemetry.AttrDurationMs,
		"AttrDocID":            telemetry.AttrDocID,
		"AttrCombinedScore":    telemetry.AttrCombinedScore,
		"AttrSeverity":         telemetry.AttrSeverity,
		"AttrQuarantineID":     telemetry.AttrQuarantineID,
		"AttrBlastDocID":       telemetry.AttrBlastDocID,
		"AttrBlastSeverity":    telemetry.AttrBlastSeverity,
	}

	for name, value := range attrs {
		if value == "" {
			t.Errorf("attribute constant %s should not be empty", name)
		}
		if !strings.HasPrefix(value, "ragshield.") {
			t.Errorf("attribute constant %s should carry the ragshield. prefix, got %s", name, value)
		}
	}
}
