// Package intake is the span write path: validate, persist with trace
// aggregation in one transaction per span, then fan out to live subscribers.
package intake

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/beacon/internal/metrics"
	"github.com/haasonsaas/beacon/internal/store"
	"github.com/haasonsaas/beacon/pkg/models"
)

// Publisher receives post-commit events. *bus.Hub implements it; tests
// substitute a recorder.
type Publisher interface {
	SpanCreated(span *models.Span)
	SpanUpdated(traceID, spanID string, updates map[string]any)
	TraceCreated(trace *models.Trace)
}

// Pipeline coordinates the store and the event bus for span writes.
type Pipeline struct {
	store  *store.Store
	bus    Publisher
	logger *slog.Logger
}

// New creates a pipeline. bus may be nil when no live fanout is wanted.
func New(st *store.Store, bus Publisher, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: st, bus: bus, logger: logger}
}

// Ingest processes a batch of raw span payloads. Each span runs in its own
// transaction so one malformed span does not roll back the batch; the return
// is the accepted/rejected pair and nothing more.
func (p *Pipeline) Ingest(ctx context.Context, batch []json.RawMessage) (accepted, rejected int) {
	for _, raw := range batch {
		if err := p.ingestOne(ctx, raw); err != nil {
			p.logger.Debug("span rejected", "error", err)
			metrics.SpansRejected.Inc()
			rejected++
			continue
		}
		metrics.SpansAccepted.Inc()
		accepted++
	}
	return accepted, rejected
}

// IngestDecoded persists spans already decoded from another wire format,
// with the same per-span accounting as Ingest.
func (p *Pipeline) IngestDecoded(ctx context.Context, spans []models.Span) (accepted, rejected int) {
	for i := range spans {
		if _, err := p.Apply(ctx, &spans[i]); err != nil {
			p.logger.Debug("span rejected", "span_id", spans[i].SpanID, "error", err)
			metrics.SpansRejected.Inc()
			rejected++
			continue
		}
		metrics.SpansAccepted.Inc()
		accepted++
	}
	return accepted, rejected
}

func (p *Pipeline) ingestOne(ctx context.Context, raw json.RawMessage) error {
	if err := validateSpanPayload(raw); err != nil {
		return err
	}
	var span models.Span
	if err := json.Unmarshal(raw, &span); err != nil {
		return err
	}
	_, err := p.Apply(ctx, &span)
	return err
}

// Apply persists one span, commits, and broadcasts the result. The Runner
// writes through here so its spans are indistinguishable from SDK traffic.
func (p *Pipeline) Apply(ctx context.Context, span *models.Span) (*store.ApplyResult, error) {
	normalize(span)
	if err := span.Validate(); err != nil {
		return nil, err
	}

	var result *store.ApplyResult
	err := p.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		result, err = tx.ApplySpan(ctx, span)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.publish(span, result)
	return result, nil
}

// publish runs after commit: the events describe durable state only.
func (p *Pipeline) publish(span *models.Span, result *store.ApplyResult) {
	if p.bus == nil {
		return
	}
	if result.TraceCreated {
		p.bus.TraceCreated(result.Trace)
	}
	if result.Inserted {
		p.bus.SpanCreated(span)
		return
	}
	updates := map[string]any{
		"status":     span.Status,
		"end_time":   span.EndTime,
		"attributes": span.Attributes,
	}
	if span.ErrorMessage != "" {
		updates["error_message"] = span.ErrorMessage
	}
	p.bus.SpanUpdated(span.TraceID, span.SpanID, updates)
}

// UpdateTags replaces a trace's tag map and returns the new trace state.
func (p *Pipeline) UpdateTags(ctx context.Context, traceID string, tags map[string]string) (*models.Trace, error) {
	if tags == nil {
		tags = map[string]string{}
	}
	var updated *models.Trace
	err := p.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.UpdateTraceTags(ctx, traceID, tags); err != nil {
			return err
		}
		var err error
		updated, err = tx.GetTrace(ctx, traceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateAnnotations replaces a span's annotation list and returns the new
// span state. Annotations without an id are assigned one.
func (p *Pipeline) UpdateAnnotations(ctx context.Context, spanID string, annotations []models.Annotation) (*models.Span, error) {
	now := float64(time.Now().UnixNano()) / 1e9
	for i := range annotations {
		if annotations[i].ID == "" {
			annotations[i].ID = uuid.NewString()
		}
		if annotations[i].CreatedAt == 0 {
			annotations[i].CreatedAt = now
		}
	}

	var updated *models.Span
	err := p.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.UpdateSpanAnnotations(ctx, spanID, annotations); err != nil {
			return err
		}
		var err error
		updated, err = tx.GetSpan(ctx, spanID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// normalize fills the optional fields the wire format allows clients to omit.
func normalize(span *models.Span) {
	if span.Status == "" {
		span.Status = models.StatusUnset
	}
	if span.Attributes == nil {
		span.Attributes = map[string]any{}
	}
}
