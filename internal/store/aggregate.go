package store

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/beacon/pkg/models"
)

// ApplyResult reports what a span write did to the database.
type ApplyResult struct {
	// Inserted is true when the span_id was new, false on an in-place upsert.
	Inserted bool
	// TraceCreated is true when this write created the parent trace row.
	TraceCreated bool
	// Trace is the parent trace row after aggregation.
	Trace *models.Trace
}

// ApplySpan upserts the span and recomputes the parent trace's derived
// columns inside the current transaction.
//
// Aggregation rules:
//   - first span of a trace creates the trace row seeded from the span
//   - a new span_id increments span_count and adds llm_call cost/tokens
//   - an upsert of an existing span_id replaces that span's cost/token
//     contribution (delta update) and never touches span_count, so the
//     two-phase emission pattern cannot double-count
//   - the time window widens to cover the span; a nil end_time leaves the
//     trace end_time unchanged
//   - a root span rewrites the trace name
//   - status is re-derived from all sibling statuses: error beats unset
//     beats ok
func (t *Tx) ApplySpan(ctx context.Context, sp *models.Span) (*ApplyResult, error) {
	old, err := t.GetSpan(ctx, sp.SpanID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// spans.trace_id carries an enforced foreign key, so the trace row must
	// exist before the span write.
	tr, err := t.GetTrace(ctx, sp.TraceID)
	traceCreated := false
	switch {
	case errors.Is(err, ErrNotFound):
		tr = traceFromSpan(sp)
		if err := t.InsertTrace(ctx, tr); err != nil {
			return nil, err
		}
		traceCreated = true
	case err != nil:
		return nil, err
	}

	inserted, err := t.UpsertSpan(ctx, sp)
	if err != nil {
		return nil, err
	}
	if traceCreated {
		return &ApplyResult{Inserted: inserted, TraceCreated: true, Trace: tr}, nil
	}

	if inserted {
		tr.SpanCount++
		if sp.SpanType == models.SpanTypeLLMCall {
			tr.TotalCostUSD += sp.AttrFloat(models.AttrLLMCostUSD)
			tr.TotalTokens += sp.AttrInt(models.AttrLLMTokensTotal)
		}
	} else if sp.SpanType == models.SpanTypeLLMCall {
		// Replace the old contribution so repeated writes of one span_id
		// count once.
		if old != nil && old.SpanType == models.SpanTypeLLMCall {
			tr.TotalCostUSD -= old.AttrFloat(models.AttrLLMCostUSD)
			tr.TotalTokens -= old.AttrInt(models.AttrLLMTokensTotal)
		}
		tr.TotalCostUSD += sp.AttrFloat(models.AttrLLMCostUSD)
		tr.TotalTokens += sp.AttrInt(models.AttrLLMTokensTotal)
	}

	if sp.StartTime < tr.StartTime {
		tr.StartTime = sp.StartTime
	}
	if sp.EndTime != nil && (tr.EndTime == nil || *sp.EndTime > *tr.EndTime) {
		v := *sp.EndTime
		tr.EndTime = &v
	}
	if sp.IsRoot() {
		tr.Name = sp.Name
	}

	statuses, err := spanStatuses(ctx, t.tx, sp.TraceID)
	if err != nil {
		return nil, err
	}
	tr.Status = deriveStatus(statuses)

	if err := updateTrace(ctx, t.tx, tr); err != nil {
		return nil, err
	}
	return &ApplyResult{Inserted: inserted, Trace: tr}, nil
}

// traceFromSpan seeds a new trace row from its first span.
func traceFromSpan(sp *models.Span) *models.Trace {
	tr := &models.Trace{
		TraceID:     sp.TraceID,
		Name:        sp.Name,
		StartTime:   sp.StartTime,
		SpanCount:   1,
		Status:      deriveStatus([]models.Status{sp.Status}),
		Tags:        map[string]string{},
		SDKLanguage: sp.SDKLanguage,
		CreatedAt:   float64(time.Now().UnixNano()) / 1e9,
	}
	if sp.EndTime != nil {
		v := *sp.EndTime
		tr.EndTime = &v
	}
	if sp.SpanType == models.SpanTypeLLMCall {
		tr.TotalCostUSD = sp.AttrFloat(models.AttrLLMCostUSD)
		tr.TotalTokens = sp.AttrInt(models.AttrLLMTokensTotal)
	}
	return tr
}

// deriveStatus folds span statuses into the trace rollup: error is sticky,
// unset beats ok.
func deriveStatus(statuses []models.Status) models.Status {
	result := models.StatusOK
	for _, s := range statuses {
		switch s {
		case models.StatusError:
			return models.StatusError
		case models.StatusUnset:
			result = models.StatusUnset
		}
	}
	if len(statuses) == 0 {
		return models.StatusUnset
	}
	return result
}
