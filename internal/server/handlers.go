package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/beacon/internal/export"
	"github.com/haasonsaas/beacon/internal/llm"
	"github.com/haasonsaas/beacon/internal/otlp"
	"github.com/haasonsaas/beacon/internal/replay"
	"github.com/haasonsaas/beacon/internal/runner"
	"github.com/haasonsaas/beacon/internal/store"
	"github.com/haasonsaas/beacon/pkg/models"
)

// maxUpstreamBody bounds provider error text echoed in 502 responses.
const maxUpstreamBody = 500

type ingestRequest struct {
	Spans []json.RawMessage `json:"spans"`
}

type ingestResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

func (s *Server) handleIngestSpans(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	accepted, rejected := s.pipeline.Ingest(r.Context(), req.Spans)
	s.jsonResponse(w, ingestResponse{Accepted: accepted, Rejected: rejected})
}

func (s *Server) handleIngestOTLP(w http.ResponseWriter, r *http.Request) {
	var req otlp.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid OTLP payload", http.StatusBadRequest)
		return
	}
	accepted, rejected := s.pipeline.IngestDecoded(r.Context(), otlp.Decode(&req))
	s.jsonResponse(w, ingestResponse{Accepted: accepted, Rejected: rejected})
}

func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{
		Limit:  parseIntParam(r, "limit", 50),
		Offset: parseIntParam(r, "offset", 0),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		st := models.Status(status)
		if !st.Valid() {
			s.jsonError(w, fmt.Sprintf("Unknown status %q", status), http.StatusBadRequest)
			return
		}
		opts.Status = st
	}

	traces, err := s.store.ListTraces(r.Context(), opts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, map[string]any{"traces": traces})
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("id")
	trace, err := s.store.GetTrace(r.Context(), traceID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	spans, err := s.store.ListSpans(r.Context(), traceID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, map[string]any{"trace": trace, "spans": spans})
}

type graphNode struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	SpanType   string   `json:"span_type"`
	Status     string   `json:"status"`
	DurationMS float64  `json:"duration_ms"`
	StartTime  float64  `json:"start_time"`
	EndTime    *float64 `json:"end_time"`
}

type graphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func (s *Server) handleTraceGraph(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("id")
	if _, err := s.store.GetTrace(r.Context(), traceID); err != nil {
		s.respondError(w, err)
		return
	}
	spans, err := s.store.ListSpans(r.Context(), traceID)
	if err != nil {
		s.respondError(w, err)
		return
	}

	nodes := make([]graphNode, 0, len(spans))
	edges := make([]graphEdge, 0, len(spans))
	known := make(map[string]bool, len(spans))
	for _, span := range spans {
		known[span.SpanID] = true
		nodes = append(nodes, graphNode{
			ID:         span.SpanID,
			Label:      span.Name,
			SpanType:   string(span.SpanType),
			Status:     string(span.Status),
			DurationMS: span.DurationMS(),
			StartTime:  span.StartTime,
			EndTime:    span.EndTime,
		})
	}
	for _, span := range spans {
		if span.ParentSpanID != "" && known[span.ParentSpanID] {
			edges = append(edges, graphEdge{Source: span.ParentSpanID, Target: span.SpanID})
		}
	}
	s.jsonResponse(w, map[string]any{"nodes": nodes, "edges": edges})
}

func (s *Server) handleDeleteTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("id")
	var deleted bool
	err := s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		var err error
		deleted, err = tx.DeleteTrace(r.Context(), traceID)
		return err
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	if !deleted {
		s.jsonError(w, "Trace not found", http.StatusNotFound)
		return
	}
	s.jsonResponse(w, map[string]any{"deleted": true})
}

type batchDeleteRequest struct {
	TraceIDs  []string `json:"trace_ids"`
	OlderThan *float64 `json:"older_than"`
}

func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var req batchDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.TraceIDs) == 0 && req.OlderThan == nil {
		s.jsonError(w, "Provide trace_ids or older_than", http.StatusBadRequest)
		return
	}

	var deleted int64
	err := s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		for _, traceID := range req.TraceIDs {
			ok, err := tx.DeleteTrace(r.Context(), traceID)
			if err != nil {
				return err
			}
			if ok {
				deleted++
			}
		}
		if req.OlderThan != nil {
			n, err := tx.DeleteTracesOlderThan(r.Context(), *req.OlderThan)
			if err != nil {
				return err
			}
			deleted += n
		}
		return nil
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, map[string]any{"deleted": deleted})
}

func (s *Server) handleExportTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.PathValue("id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	switch format {
	case "json":
		env, err := s.export.Trace(r.Context(), traceID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.jsonResponse(w, env)
	case "otel":
		req, err := s.export.OTLP(r.Context(), traceID)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.jsonResponse(w, req)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", traceID+".csv"))
		if err := s.export.CSV(r.Context(), traceID, w); err != nil {
			s.logger.Error("csv export failed", "trace_id", traceID, "error", err)
		}
	default:
		s.jsonError(w, fmt.Sprintf("Unknown export format %q", format), http.StatusBadRequest)
	}
}

func (s *Server) handleBulkExport(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("trace_ids")
	if raw == "" {
		s.jsonError(w, "trace_ids is required", http.StatusBadRequest)
		return
	}
	env, err := s.export.Bulk(r.Context(), strings.Split(raw, ","))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, env)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var env export.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	trace, err := s.export.Import(r.Context(), &env)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, map[string]any{"trace": trace})
}

func (s *Server) handleGetSpan(w http.ResponseWriter, r *http.Request) {
	span, err := s.store.GetSpan(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, span)
}

type tagsRequest struct {
	Tags map[string]string `json:"tags"`
}

func (s *Server) handleUpdateTags(w http.ResponseWriter, r *http.Request) {
	var req tagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	trace, err := s.pipeline.UpdateTags(r.Context(), r.PathValue("id"), req.Tags)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, trace)
}

type annotationsRequest struct {
	Annotations []models.Annotation `json:"annotations"`
}

func (s *Server) handleUpdateAnnotations(w http.ResponseWriter, r *http.Request) {
	var req annotationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	span, err := s.pipeline.UpdateAnnotations(r.Context(), r.PathValue("id"), req.Annotations)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, span)
}

func (s *Server) handleListPromptVersions(w http.ResponseWriter, r *http.Request) {
	spanID := r.PathValue("id")
	if _, err := s.store.GetSpan(r.Context(), spanID); err != nil {
		s.respondError(w, err)
		return
	}
	versions, err := s.store.ListPromptVersions(r.Context(), spanID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, map[string]any{"prompt_versions": versions})
}

type promptVersionRequest struct {
	PromptText string `json:"prompt_text"`
	Label      string `json:"label"`
}

func (s *Server) handleCreatePromptVersion(w http.ResponseWriter, r *http.Request) {
	spanID := r.PathValue("id")
	var req promptVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PromptText == "" {
		s.jsonError(w, "prompt_text is required", http.StatusBadRequest)
		return
	}
	span, err := s.store.GetSpan(r.Context(), spanID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if span.SpanType != models.SpanTypeLLMCall {
		s.jsonError(w, "Prompt versions require an llm_call span", http.StatusBadRequest)
		return
	}

	version := &models.PromptVersion{
		VersionID:  uuid.NewString(),
		SpanID:     spanID,
		PromptText: req.PromptText,
		Label:      req.Label,
		CreatedAt:  float64(time.Now().UnixNano()) / 1e9,
	}
	err = s.store.WithTx(r.Context(), func(tx *store.Tx) error {
		return tx.InsertPromptVersion(r.Context(), version)
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponseStatus(w, http.StatusCreated, version)
}

type replayRequest struct {
	SpanID             string         `json:"span_id"`
	ModifiedAttributes map[string]any `json:"modified_attributes"`
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.SpanID == "" {
		s.jsonError(w, "span_id is required", http.StatusBadRequest)
		return
	}
	run, err := s.replay.Replay(r.Context(), req.SpanID, req.ModifiedAttributes)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, run)
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]any{"scenarios": runner.Scenarios()})
}

func (s *Server) handleRunScenario(w http.ResponseWriter, r *http.Request) {
	traceID, err := s.runner.Launch(r.PathValue("key"))
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonResponseStatus(w, http.StatusAccepted, map[string]any{"trace_id": traceID})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.jsonResponse(w, stats)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"})
}

// respondError maps the error taxonomy onto status codes: 404 for missing
// records, 409 for duplicate imports, 400 for semantic violations, 502 for
// provider failures, 500 otherwise.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var upstream *llm.UpstreamError
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.jsonError(w, "Not found", http.StatusNotFound)
	case errors.Is(err, store.ErrDuplicateTrace):
		s.jsonError(w, "Trace already exists", http.StatusConflict)
	case errors.Is(err, export.ErrUnsupportedFormat):
		s.jsonError(w, "Unsupported version or format", http.StatusBadRequest)
	case errors.Is(err, replay.ErrNotReplayable):
		s.jsonError(w, "Span is not an llm_call", http.StatusBadRequest)
	case errors.As(err, &upstream):
		s.jsonError(w, truncate(upstream.Error(), maxUpstreamBody), http.StatusBadGateway)
	default:
		s.logger.Error("request failed", "error", err)
		s.jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// jsonResponse writes a JSON body.
func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("json encode error", "error", err)
	}
}

// jsonResponseStatus writes a JSON body with a non-200 status.
func (s *Server) jsonResponseStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("json encode error", "error", err)
	}
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
