package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/beacon/internal/metrics"
	"github.com/haasonsaas/beacon/internal/store"
	"github.com/haasonsaas/beacon/pkg/models"
)

type recordedEvent struct {
	kind    string
	traceID string
	spanID  string
	updates map[string]any
}

type recordingBus struct {
	events []recordedEvent
}

func (b *recordingBus) SpanCreated(span *models.Span) {
	b.events = append(b.events, recordedEvent{kind: "span_created", traceID: span.TraceID, spanID: span.SpanID})
}

func (b *recordingBus) SpanUpdated(traceID, spanID string, updates map[string]any) {
	b.events = append(b.events, recordedEvent{kind: "span_updated", traceID: traceID, spanID: spanID, updates: updates})
}

func (b *recordingBus) TraceCreated(trace *models.Trace) {
	b.events = append(b.events, recordedEvent{kind: "trace_created", traceID: trace.TraceID})
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.Store, *recordingBus) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "beacon.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	bus := &recordingBus{}
	return New(st, bus, nil), st, bus
}

func rawSpan(t *testing.T, fields map[string]any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal span: %v", err)
	}
	return data
}

func validSpan(spanID, traceID string) map[string]any {
	return map[string]any{
		"span_id":    spanID,
		"trace_id":   traceID,
		"name":       "step",
		"span_type":  "custom",
		"status":     "ok",
		"start_time": 100.0,
		"end_time":   101.0,
	}
}

func TestIngestBatchCounters(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	batch := []json.RawMessage{
		rawSpan(t, validSpan("s1", "t1")),
		rawSpan(t, validSpan("s2", "t1")),
		json.RawMessage(`{"not json`),
		rawSpan(t, map[string]any{"span_id": "s3"}),
	}
	accepted, rejected := p.Ingest(context.Background(), batch)
	if accepted != 2 || rejected != 2 {
		t.Fatalf("accepted=%d rejected=%d, want 2/2", accepted, rejected)
	}
}

func TestIngestDecodedCounts(t *testing.T) {
	p, st, _ := newTestPipeline(t)

	acceptedBefore := testutil.ToFloat64(metrics.SpansAccepted)
	rejectedBefore := testutil.ToFloat64(metrics.SpansRejected)

	spans := []models.Span{
		{SpanID: "s1", TraceID: "t1", Name: "step", SpanType: models.SpanTypeCustom, Status: models.StatusOK, StartTime: 100},
		{SpanID: "s2", TraceID: "t1", Name: "bad", SpanType: "teleport", StartTime: 100},
	}
	accepted, rejected := p.IngestDecoded(context.Background(), spans)
	if accepted != 1 || rejected != 1 {
		t.Fatalf("accepted=%d rejected=%d, want 1/1", accepted, rejected)
	}

	// Decoded spans count into the same collectors as the raw batch path.
	if got := testutil.ToFloat64(metrics.SpansAccepted) - acceptedBefore; got != 1 {
		t.Errorf("accepted counter delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.SpansRejected) - rejectedBefore; got != 1 {
		t.Errorf("rejected counter delta = %v, want 1", got)
	}

	if _, err := st.GetSpan(context.Background(), "s1"); err != nil {
		t.Errorf("accepted span not persisted: %v", err)
	}
}

func TestIngestRejectsBadEnum(t *testing.T) {
	p, st, _ := newTestPipeline(t)

	fields := validSpan("s1", "t1")
	fields["span_type"] = "teleport"
	accepted, rejected := p.Ingest(context.Background(), []json.RawMessage{rawSpan(t, fields)})
	if accepted != 0 || rejected != 1 {
		t.Fatalf("accepted=%d rejected=%d", accepted, rejected)
	}
	if _, err := st.GetTrace(context.Background(), "t1"); err == nil {
		t.Error("rejected span must not create a trace")
	}
}

func TestIngestPersistsAndAggregates(t *testing.T) {
	p, st, _ := newTestPipeline(t)

	accepted, _ := p.Ingest(context.Background(), []json.RawMessage{
		rawSpan(t, validSpan("s1", "t1")),
		rawSpan(t, validSpan("s2", "t1")),
	})
	if accepted != 2 {
		t.Fatalf("accepted = %d", accepted)
	}

	trace, err := st.GetTrace(context.Background(), "t1")
	if err != nil {
		t.Fatalf("get trace: %v", err)
	}
	if trace.SpanCount != 2 {
		t.Errorf("span_count = %d, want 2", trace.SpanCount)
	}
	if trace.Status != models.StatusOK {
		t.Errorf("status = %s", trace.Status)
	}
}

func TestMalformedSpanDoesNotRollBackBatch(t *testing.T) {
	p, st, _ := newTestPipeline(t)

	accepted, rejected := p.Ingest(context.Background(), []json.RawMessage{
		rawSpan(t, validSpan("s1", "t1")),
		rawSpan(t, map[string]any{"span_id": "orphan"}),
		rawSpan(t, validSpan("s2", "t1")),
	})
	if accepted != 2 || rejected != 1 {
		t.Fatalf("accepted=%d rejected=%d", accepted, rejected)
	}
	spans, err := st.ListSpans(context.Background(), "t1")
	if err != nil {
		t.Fatalf("list spans: %v", err)
	}
	if len(spans) != 2 {
		t.Errorf("got %d spans, want 2", len(spans))
	}
}

func TestEventsFollowCommit(t *testing.T) {
	p, _, bus := newTestPipeline(t)

	p.Ingest(context.Background(), []json.RawMessage{rawSpan(t, validSpan("s1", "t1"))})

	if len(bus.events) != 2 {
		t.Fatalf("got %d events: %+v", len(bus.events), bus.events)
	}
	if bus.events[0].kind != "trace_created" || bus.events[0].traceID != "t1" {
		t.Errorf("first event = %+v, want trace_created", bus.events[0])
	}
	if bus.events[1].kind != "span_created" || bus.events[1].spanID != "s1" {
		t.Errorf("second event = %+v, want span_created", bus.events[1])
	}
}

func TestUpsertEmitsSpanUpdated(t *testing.T) {
	p, _, bus := newTestPipeline(t)
	ctx := context.Background()

	inflight := validSpan("s1", "t1")
	inflight["status"] = "unset"
	delete(inflight, "end_time")
	p.Ingest(ctx, []json.RawMessage{rawSpan(t, inflight)})

	complete := validSpan("s1", "t1")
	p.Ingest(ctx, []json.RawMessage{rawSpan(t, complete)})

	last := bus.events[len(bus.events)-1]
	if last.kind != "span_updated" || last.spanID != "s1" || last.traceID != "t1" {
		t.Fatalf("last event = %+v, want span_updated", last)
	}
	if last.updates["status"] != models.StatusOK {
		t.Errorf("updates.status = %v", last.updates["status"])
	}
}

func TestUpdateTagsReplaces(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()
	p.Ingest(ctx, []json.RawMessage{rawSpan(t, validSpan("s1", "t1"))})

	if _, err := p.UpdateTags(ctx, "t1", map[string]string{"env": "dev", "team": "core"}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	trace, err := p.UpdateTags(ctx, "t1", map[string]string{"env": "prod"})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if len(trace.Tags) != 1 || trace.Tags["env"] != "prod" {
		t.Errorf("tags = %v, want replacement not merge", trace.Tags)
	}
}

func TestUpdateAnnotationsAssignsIDs(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()
	p.Ingest(ctx, []json.RawMessage{rawSpan(t, validSpan("s1", "t1"))})

	span, err := p.UpdateAnnotations(ctx, "s1", []models.Annotation{{Text: "looks wrong"}})
	if err != nil {
		t.Fatalf("update annotations: %v", err)
	}
	if len(span.Annotations) != 1 {
		t.Fatalf("got %d annotations", len(span.Annotations))
	}
	if span.Annotations[0].ID == "" || span.Annotations[0].CreatedAt == 0 {
		t.Errorf("annotation not normalized: %+v", span.Annotations[0])
	}
}

func TestApplyManySpansOneTrace(t *testing.T) {
	p, st, _ := newTestPipeline(t)
	ctx := context.Background()

	var batch []json.RawMessage
	for i := 0; i < 25; i++ {
		batch = append(batch, rawSpan(t, validSpan(fmt.Sprintf("s%d", i), "t1")))
	}
	accepted, rejected := p.Ingest(ctx, batch)
	if accepted != 25 || rejected != 0 {
		t.Fatalf("accepted=%d rejected=%d", accepted, rejected)
	}
	trace, err := st.GetTrace(ctx, "t1")
	if err != nil {
		t.Fatalf("get trace: %v", err)
	}
	if trace.SpanCount != 25 {
		t.Errorf("span_count = %d", trace.SpanCount)
	}
}
