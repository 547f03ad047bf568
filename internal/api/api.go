// Package api exposes the RAGShield HTTP surface: protected and demo
// queries, the event feed, quarantine review actions, blast-radius
// reports, and demo state management.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ragshield/internal/events"
	"ragshield/internal/lineage"
	"ragshield/internal/llm"
	"ragshield/internal/pipeline"
	"ragshield/internal/quarantine"
	"ragshield/internal/telemetry"
	"ragshield/internal/vectorstore"
)

// Version is reported by / and /api/status.
const Version = "1.0.0"

// Request body limits mirror the QueryRequest bounds.
const (
	maxQueryLength = 5000
	defaultK       = 5
	maxK           = 20
	defaultUserID  = "demo-user"
)

// Generator is the status-facing slice of the LLM client.
type Generator interface {
	Available(ctx context.Context) bool
	Usage() llm.Usage
}

// Handler routes the REST API. All responses are JSON; errors use the
// {"detail": ...} shape.
type Handler struct {
	pipeline    *pipeline.Pipeline
	store       vectorstore.Store
	vault       *quarantine.Vault
	analyzer    *lineage.Analyzer
	events      *events.Logger
	broadcaster events.Broadcaster
	generator   Generator
	telemetry   *telemetry.Provider
	started     time.Time
	mux         *http.ServeMux
}

// New creates the API handler. A nil telemetry provider falls back to
// a no-op tracer.
func New(p *pipeline.Pipeline, store vectorstore.Store, vault *quarantine.Vault, analyzer *lineage.Analyzer, ev *events.Logger, broadcaster events.Broadcaster, gen Generator, tel *telemetry.Provider) *Handler {
	if tel == nil {
		tel = telemetry.NoopProvider()
	}

	h := &Handler{
		pipeline:    p,
		store:       store,
		vault:       vault,
		analyzer:    analyzer,
		events:      ev,
		broadcaster: broadcaster,
		generator:   gen,
		telemetry:   tel,
		started:     time.Now(),
		mux:         http.NewServeMux(),
	}

	h.mux.HandleFunc("/", h.handleRoot)
	h.mux.HandleFunc("/health", h.handleHealth)
	h.mux.HandleFunc("/api/query", h.handleQuery)
	h.mux.HandleFunc("/api/query/unsafe", h.handleUnsafeQuery)
	h.mux.HandleFunc("/api/events", h.handleEvents)
	h.mux.HandleFunc("/api/events/stream", h.handleEventStream)
	h.mux.HandleFunc("/api/quarantine", h.handleQuarantineList)
	h.mux.HandleFunc("/api/quarantine/", h.handleQuarantineItem)
	h.mux.HandleFunc("/api/blast-radius/", h.handleBlastRadius)
	h.mux.HandleFunc("/api/demo/reset", h.handleReset)
	h.mux.HandleFunc("/api/status", h.handleStatus)

	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Add CORS headers for dashboard access
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	h.mux.ServeHTTP(w, r)
}

// handleRoot handles GET /
func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "RAGShield API running",
		"version": Version,
		"endpoints": map[string]string{
			"query":        "/api/query",
			"events":       "/api/events",
			"event_stream": "/api/events/stream",
			"quarantine":   "/api/quarantine",
			"blast_radius": "/api/blast-radius/{doc_id}",
			"status":       "/api/status",
		},
	})
}

// handleHealth handles GET /health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   Version,
	})
}

// handleQuery handles POST /api/query
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, ok := decodeQueryRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.pipeline.Query(r.Context(), req.Query, req.UserID, req.K)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleUnsafeQuery handles POST /api/query/unsafe (demo bypass)
func (h *Handler) handleUnsafeQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, ok := decodeQueryRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.pipeline.UnsafeQuery(r.Context(), req.Query, req.UserID, req.K)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoDocuments) {
			writeError(w, http.StatusNotFound, "No documents found in vector store. Please run: ragshield-ingest")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleEvents handles GET /api/events
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query := r.URL.Query()
	limit := 100
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	level := events.Level(query.Get("level"))
	switch level {
	case "", events.LevelInformation, events.LevelWarning, events.LevelError, events.LevelCritical:
	default:
		writeError(w, http.StatusBadRequest, "level must be one of Information, Warning, Error, Critical")
		return
	}

	// Drain queued writes so the feed reflects actions that just
	// returned to the caller.
	if err := h.events.Flush(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	evs, err := h.events.ReadEvents(limit, level)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, EventsResponse{Events: evs})
}

// handleQuarantineList handles GET /api/quarantine
func (h *Handler) handleQuarantineList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	records, err := h.vault.List("")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Restored documents are back in circulation and drop off the
	// review queue; confirmed ones stay visible.
	active := make([]*quarantine.Record, 0, len(records))
	for _, rec := range records {
		if rec.State != quarantine.StateRestored {
			active = append(active, rec)
		}
	}

	writeJSON(w, http.StatusOK, QuarantineListResponse{
		Quarantined: active,
		TotalCount:  len(active),
	})
}

// handleQuarantineItem handles requests to /api/quarantine/{id} and
// /api/quarantine/{id}/{action}
func (h *Handler) handleQuarantineItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/quarantine/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "Quarantine ID required")
		return
	}

	quarantineID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch r.Method {
	case http.MethodGet:
		if action != "" {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		h.getQuarantine(w, quarantineID)
	case http.MethodPost:
		switch action {
		case "confirm":
			h.confirmQuarantine(w, r, quarantineID)
		case "restore":
			h.restoreQuarantine(w, r, quarantineID)
		default:
			writeError(w, http.StatusBadRequest, "Unknown action")
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// getQuarantine handles GET /api/quarantine/{id}
func (h *Handler) getQuarantine(w http.ResponseWriter, quarantineID string) {
	record, err := h.vault.Get(quarantineID)
	if err != nil {
		if errors.Is(err, quarantine.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Quarantine record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// confirmQuarantine handles POST /api/quarantine/{id}/confirm
func (h *Handler) confirmQuarantine(w http.ResponseWriter, r *http.Request, quarantineID string) {
	var action AnalystAction
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if action.Analyst == "" {
		writeError(w, http.StatusBadRequest, "analyst is required")
		return
	}

	record, err := h.vault.Confirm(quarantineID, action.Analyst, action.Notes)
	if err != nil {
		writeQuarantineError(w, err)
		return
	}

	if err := h.events.LogQuarantineAction("confirmed", quarantineID, record.DocID, action.Notes, action.Analyst, nil); err != nil {
		slog.Error("failed to log quarantine action", "quarantine_id", quarantineID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "confirmed",
		"quarantine_id": quarantineID,
	})
}

// restoreQuarantine handles POST /api/quarantine/{id}/restore
func (h *Handler) restoreQuarantine(w http.ResponseWriter, r *http.Request, quarantineID string) {
	var action AnalystAction
	if err := json.NewDecoder(r.Body).Decode(&action); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if action.Analyst == "" {
		writeError(w, http.StatusBadRequest, "analyst is required")
		return
	}

	record, err := h.vault.Restore(r.Context(), quarantineID, action.Analyst, action.Notes)
	if err != nil {
		writeQuarantineError(w, err)
		return
	}

	if err := h.events.LogQuarantineAction("restored", quarantineID, record.DocID, action.Notes, action.Analyst, nil); err != nil {
		slog.Error("failed to log quarantine action", "quarantine_id", quarantineID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "restored",
		"quarantine_id": quarantineID,
	})
}

// handleBlastRadius handles GET /api/blast-radius/{doc_id}
func (h *Handler) handleBlastRadius(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	docID := strings.TrimPrefix(r.URL.Path, "/api/blast-radius/")
	if docID == "" || strings.Contains(docID, "/") {
		writeError(w, http.StatusBadRequest, "Document ID required")
		return
	}

	lookback := lineage.DefaultLookback
	if raw := r.URL.Query().Get("lookback_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours < 1 {
			writeError(w, http.StatusBadRequest, "lookback_hours must be a positive integer")
			return
		}
		lookback = time.Duration(hours) * time.Hour
	}

	report, err := h.analyzer.AnalyzeImpact(docID, lookback)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.events.LogBlastRadius(docID, string(report.Severity), report.AffectedQueries, len(report.AffectedUsers), ""); err != nil {
		slog.Error("failed to log blast radius", "doc_id", docID, "error", err)
	}
	h.telemetry.RecordBlastRadius(r.Context(), docID, string(report.Severity), report.AffectedQueries, len(report.AffectedUsers), lookback.Hours(), len(report.RecommendedActions))

	writeJSON(w, http.StatusOK, report)
}

// handleReset handles POST /api/demo/reset
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	slog.Info("demo reset requested", "remote", r.RemoteAddr)

	if err := h.pipeline.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Reset failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "reset",
		"message": "All state cleared successfully. Ready for demo.",
	})
}

// handleStatus handles GET /api/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ollamaOK := h.generator.Available(r.Context())

	docCount, err := h.store.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	eventCount, err := h.events.EventCount()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := "healthy"
	if !ollamaOK {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, SystemStatus{
		Status:           status,
		Version:          Version,
		UptimeSeconds:    int64(time.Since(h.started).Seconds()),
		OllamaConnected:  ollamaOK,
		DocumentCount:    docCount,
		QuarantinedCount: h.vault.Count(),
		EventCount:       eventCount,
		LLMUsage:         h.generator.Usage(),
	})
}

// decodeQueryRequest parses and validates a query body, writing the
// error response itself on failure.
func decodeQueryRequest(w http.ResponseWriter, r *http.Request) (QueryRequest, bool) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}

	if req.Query == "" || len(req.Query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query must be between 1 and 5000 characters")
		return req, false
	}
	if req.UserID == "" {
		req.UserID = defaultUserID
	}
	if req.K == 0 {
		req.K = defaultK
	}
	if req.K < 1 || req.K > maxK {
		writeError(w, http.StatusBadRequest, "k must be between 1 and 20")
		return req, false
	}

	return req, true
}

// writeQuarantineError maps vault errors: unknown ids are 404, invalid
// state transitions are 409.
func writeQuarantineError(w http.ResponseWriter, err error) {
	if errors.Is(err, quarantine.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Quarantine record not found")
		return
	}
	writeError(w, http.StatusConflict, err.Error())
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError writes a JSON error with the {"detail": ...} shape.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// QueryRequest is the body for /api/query and /api/query/unsafe
type QueryRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	K      int    `json:"k"`
}

// AnalystAction is the body for quarantine confirm/restore
type AnalystAction struct {
	Analyst string `json:"analyst"`
	Notes   string `json:"notes"`
}

// EventsResponse wraps the event feed
type EventsResponse struct {
	Events []events.Event `json:"events"`
}

// QuarantineListResponse lists active quarantine records
type QuarantineListResponse struct {
	Quarantined []*quarantine.Record `json:"quarantined"`
	TotalCount  int                  `json:"total_count"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// SystemStatus represents the system health check response
type SystemStatus struct {
	Status           string    `json:"status"`
	Version          string    `json:"version"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
	OllamaConnected  bool      `json:"ollama_connected"`
	DocumentCount    int       `json:"document_count"`
	QuarantinedCount int       `json:"quarantined_count"`
	EventCount       int       `json:"event_count"`
	LLMUsage         llm.Usage `json:"llm_usage"`
}
