// Package export implements the trace export formats (native JSON, OTLP
// JSON, CSV) and the native importer.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/haasonsaas/beacon/internal/otlp"
	"github.com/haasonsaas/beacon/internal/store"
	"github.com/haasonsaas/beacon/pkg/models"
)

// Envelope identity for the native format.
const (
	Version = "1"
	Format  = "beacon"
)

// ErrUnsupportedFormat marks an import whose envelope version or format does
// not match ours.
var ErrUnsupportedFormat = errors.New("export: unsupported version or format")

// Envelope is the native single-trace export document.
type Envelope struct {
	Version    string         `json:"version"`
	Format     string         `json:"format"`
	ExportedAt float64        `json:"exported_at"`
	Trace      *models.Trace  `json:"trace"`
	Spans      []*models.Span `json:"spans"`
}

// BulkEnvelope is the native multi-trace export document.
type BulkEnvelope struct {
	Version    string         `json:"version"`
	Format     string         `json:"format"`
	ExportedAt float64        `json:"exported_at"`
	Traces     []TracePayload `json:"traces"`
}

// TracePayload is one trace plus its spans inside a bulk envelope.
type TracePayload struct {
	Trace *models.Trace  `json:"trace"`
	Spans []*models.Span `json:"spans"`
}

// Service reads and writes traces through the store.
type Service struct {
	store *store.Store
}

// New creates an export service.
func New(st *store.Store) *Service {
	return &Service{store: st}
}

// Trace exports one trace as a native envelope.
func (s *Service) Trace(ctx context.Context, traceID string) (*Envelope, error) {
	trace, spans, err := s.load(ctx, traceID)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Version:    Version,
		Format:     Format,
		ExportedAt: now(),
		Trace:      trace,
		Spans:      spans,
	}, nil
}

// Bulk exports several traces in one envelope.
func (s *Service) Bulk(ctx context.Context, traceIDs []string) (*BulkEnvelope, error) {
	env := &BulkEnvelope{
		Version:    Version,
		Format:     Format,
		ExportedAt: now(),
		Traces:     make([]TracePayload, 0, len(traceIDs)),
	}
	for _, traceID := range traceIDs {
		trace, spans, err := s.load(ctx, traceID)
		if err != nil {
			return nil, err
		}
		env.Traces = append(env.Traces, TracePayload{Trace: trace, Spans: spans})
	}
	return env, nil
}

// OTLP exports one trace in the OTLP JSON structure.
func (s *Service) OTLP(ctx context.Context, traceID string) (*otlp.ExportRequest, error) {
	trace, spans, err := s.load(ctx, traceID)
	if err != nil {
		return nil, err
	}
	flat := make([]models.Span, 0, len(spans))
	for _, span := range spans {
		flat = append(flat, *span)
	}
	return otlp.Encode(trace, flat), nil
}

var csvHeader = []string{
	"trace_id", "span_id", "parent_span_id", "name", "span_type",
	"start_time", "end_time", "duration_ms", "status", "cost", "tokens",
}

// CSV writes one row per span to w.
func (s *Service) CSV(ctx context.Context, traceID string, w io.Writer) error {
	_, spans, err := s.load(ctx, traceID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, span := range spans {
		endTime := ""
		if span.EndTime != nil {
			endTime = formatFloat(*span.EndTime)
		}
		row := []string{
			span.TraceID,
			span.SpanID,
			span.ParentSpanID,
			span.Name,
			string(span.SpanType),
			formatFloat(span.StartTime),
			endTime,
			formatFloat(span.DurationMS()),
			string(span.Status),
			formatFloat(span.AttrFloat(models.AttrLLMCostUSD)),
			strconv.FormatInt(span.AttrInt(models.AttrLLMTokensTotal), 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Import inserts a trace from a native envelope. Aggregates are recomputed
// from the spans, never copied from the envelope's trace record; tags and
// sdk_language carry over since no span derives them.
func (s *Service) Import(ctx context.Context, env *Envelope) (*models.Trace, error) {
	if env.Version != Version || env.Format != Format {
		return nil, ErrUnsupportedFormat
	}
	if env.Trace == nil || env.Trace.TraceID == "" {
		return nil, fmt.Errorf("export: envelope has no trace")
	}

	var imported *models.Trace
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		_, err := tx.GetTrace(ctx, env.Trace.TraceID)
		if err == nil {
			return store.ErrDuplicateTrace
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if len(env.Spans) == 0 {
			empty := &models.Trace{
				TraceID:     env.Trace.TraceID,
				Name:        env.Trace.Name,
				StartTime:   env.Trace.StartTime,
				Status:      models.StatusUnset,
				Tags:        map[string]string{},
				SDKLanguage: env.Trace.SDKLanguage,
				CreatedAt:   now(),
			}
			if err := tx.InsertTrace(ctx, empty); err != nil {
				return err
			}
		}
		for _, span := range env.Spans {
			if span.TraceID != env.Trace.TraceID {
				return fmt.Errorf("export: span %s belongs to trace %s", span.SpanID, span.TraceID)
			}
			if _, err := tx.ApplySpan(ctx, span); err != nil {
				return err
			}
		}

		if len(env.Trace.Tags) > 0 {
			if err := tx.UpdateTraceTags(ctx, env.Trace.TraceID, env.Trace.Tags); err != nil {
				return err
			}
		}
		imported, err = tx.GetTrace(ctx, env.Trace.TraceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return imported, nil
}

func (s *Service) load(ctx context.Context, traceID string) (*models.Trace, []*models.Span, error) {
	trace, err := s.store.GetTrace(ctx, traceID)
	if err != nil {
		return nil, nil, err
	}
	spans, err := s.store.ListSpans(ctx, traceID)
	if err != nil {
		return nil, nil, err
	}
	return trace, spans, nil
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
