package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/haasonsaas/beacon/internal/store"
	"github.com/haasonsaas/beacon/pkg/models"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "beacon.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st), st
}

func seedSpan(t *testing.T, st *store.Store, span *models.Span) {
	t.Helper()
	err := st.WithTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.ApplySpan(context.Background(), span)
		return err
	})
	if err != nil {
		t.Fatalf("seed span: %v", err)
	}
}

func floatp(f float64) *float64 { return &f }

func seedTrace(t *testing.T, st *store.Store, traceID string) {
	t.Helper()
	seedSpan(t, st, &models.Span{
		SpanID:    traceID + "-root",
		TraceID:   traceID,
		Name:      "agent run",
		SpanType:  models.SpanTypeAgentStep,
		Status:    models.StatusOK,
		StartTime: 100,
		EndTime:   floatp(105),
		Attributes: map[string]any{
			models.AttrAgentFramework: "beacon",
		},
	})
	seedSpan(t, st, &models.Span{
		SpanID:       traceID + "-llm",
		TraceID:      traceID,
		ParentSpanID: traceID + "-root",
		Name:         "chat",
		SpanType:     models.SpanTypeLLMCall,
		Status:       models.StatusOK,
		StartTime:    101,
		EndTime:      floatp(103),
		Attributes: map[string]any{
			models.AttrLLMModel:       "gpt-4o",
			models.AttrLLMCostUSD:     0.02,
			models.AttrLLMTokensTotal: int64(120),
		},
	})
}

func TestTraceEnvelope(t *testing.T) {
	svc, st := newTestService(t)
	seedTrace(t, st, "t1")

	env, err := svc.Trace(context.Background(), "t1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if env.Version != "1" || env.Format != "beacon" {
		t.Errorf("envelope identity = %s/%s", env.Version, env.Format)
	}
	if env.ExportedAt == 0 {
		t.Error("exported_at unset")
	}
	if env.Trace.TraceID != "t1" || len(env.Spans) != 2 {
		t.Errorf("trace=%s spans=%d", env.Trace.TraceID, len(env.Spans))
	}
}

func TestExportUnknownTrace(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Trace(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBulk(t *testing.T) {
	svc, st := newTestService(t)
	seedTrace(t, st, "t1")
	seedTrace(t, st, "t2")

	env, err := svc.Bulk(context.Background(), []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if len(env.Traces) != 2 {
		t.Fatalf("got %d traces", len(env.Traces))
	}
	if env.Traces[0].Trace.TraceID != "t1" || env.Traces[1].Trace.TraceID != "t2" {
		t.Errorf("order not preserved: %s, %s",
			env.Traces[0].Trace.TraceID, env.Traces[1].Trace.TraceID)
	}
}

func TestCSVColumns(t *testing.T) {
	svc, st := newTestService(t)
	seedTrace(t, st, "t1")

	var buf bytes.Buffer
	if err := svc.CSV(context.Background(), "t1", &buf); err != nil {
		t.Fatalf("csv: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows", len(rows))
	}
	wantHeader := "trace_id,span_id,parent_span_id,name,span_type,start_time,end_time,duration_ms,status,cost,tokens"
	if got := strings.Join(rows[0], ","); got != wantHeader {
		t.Errorf("header = %s", got)
	}

	// Spans order by start_time, so the llm span is the second data row.
	llmRow := rows[2]
	if llmRow[1] != "t1-llm" || llmRow[2] != "t1-root" {
		t.Errorf("ids = %v", llmRow[:3])
	}
	if llmRow[7] != "2000" {
		t.Errorf("duration_ms = %s", llmRow[7])
	}
	if llmRow[9] != "0.02" || llmRow[10] != "120" {
		t.Errorf("cost/tokens = %s/%s", llmRow[9], llmRow[10])
	}
}

func TestImportGuards(t *testing.T) {
	svc, st := newTestService(t)
	seedTrace(t, st, "t1")
	ctx := context.Background()

	env, err := svc.Trace(ctx, "t1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	bad := *env
	bad.Version = "2"
	if _, err := svc.Import(ctx, &bad); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("version mismatch err = %v", err)
	}

	bad = *env
	bad.Format = "jaeger"
	if _, err := svc.Import(ctx, &bad); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("format mismatch err = %v", err)
	}

	if _, err := svc.Import(ctx, env); !errors.Is(err, store.ErrDuplicateTrace) {
		t.Errorf("duplicate err = %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	svc, st := newTestService(t)
	seedTrace(t, st, "t1")
	ctx := context.Background()

	env, err := svc.Trace(ctx, "t1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	original := env.Trace

	// Rewrite ids to clear the duplicate guard, the way a cross-instance
	// copy would.
	rewritten := &Envelope{
		Version:    env.Version,
		Format:     env.Format,
		ExportedAt: env.ExportedAt,
		Trace:      &models.Trace{TraceID: "t1-copy", Tags: original.Tags},
	}
	for _, span := range env.Spans {
		copied := *span
		copied.TraceID = "t1-copy"
		copied.SpanID = strings.Replace(span.SpanID, "t1", "t1-copy", 1)
		if copied.ParentSpanID != "" {
			copied.ParentSpanID = strings.Replace(span.ParentSpanID, "t1", "t1-copy", 1)
		}
		rewritten.Spans = append(rewritten.Spans, &copied)
	}

	imported, err := svc.Import(ctx, rewritten)
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	// Aggregates recomputed from spans match the original trace.
	if imported.SpanCount != original.SpanCount {
		t.Errorf("span_count = %d, want %d", imported.SpanCount, original.SpanCount)
	}
	if imported.TotalCostUSD != original.TotalCostUSD {
		t.Errorf("total_cost_usd = %v, want %v", imported.TotalCostUSD, original.TotalCostUSD)
	}
	if imported.TotalTokens != original.TotalTokens {
		t.Errorf("total_tokens = %d, want %d", imported.TotalTokens, original.TotalTokens)
	}
	if imported.Status != original.Status {
		t.Errorf("status = %s, want %s", imported.Status, original.Status)
	}
	if imported.StartTime != original.StartTime {
		t.Errorf("start_time = %v", imported.StartTime)
	}
	if imported.EndTime == nil || *imported.EndTime != *original.EndTime {
		t.Errorf("end_time = %v", imported.EndTime)
	}

	// Span contents survive.
	spans, err := st.ListSpans(ctx, "t1-copy")
	if err != nil {
		t.Fatalf("list spans: %v", err)
	}
	if len(spans) != len(env.Spans) {
		t.Fatalf("got %d spans", len(spans))
	}
	for i, span := range spans {
		want := env.Spans[i]
		if span.Name != want.Name || span.SpanType != want.SpanType || span.Status != want.Status {
			t.Errorf("span %d identity changed: %+v", i, span)
		}
		if !reflect.DeepEqual(span.Attributes, want.Attributes) {
			t.Errorf("span %d attributes = %#v, want %#v", i, span.Attributes, want.Attributes)
		}
	}
}

func TestOTLPExportShape(t *testing.T) {
	svc, st := newTestService(t)
	seedTrace(t, st, "t1")

	req, err := svc.OTLP(context.Background(), "t1")
	if err != nil {
		t.Fatalf("otlp export: %v", err)
	}
	if len(req.ResourceSpans) != 1 || len(req.ResourceSpans[0].ScopeSpans) != 1 {
		t.Fatalf("unexpected structure: %+v", req)
	}
	spans := req.ResourceSpans[0].ScopeSpans[0].Spans
	if len(spans) != 2 {
		t.Fatalf("got %d spans", len(spans))
	}
	if spans[0].TraceID != "t1" {
		t.Errorf("traceId = %s", spans[0].TraceID)
	}
}
