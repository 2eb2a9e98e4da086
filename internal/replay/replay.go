// Package replay re-executes a stored llm_call span against the live
// provider with modified attributes and records the outcome. The original
// span is never touched.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/haasonsaas/beacon/internal/llm"
	"github.com/haasonsaas/beacon/internal/store"
	"github.com/haasonsaas/beacon/pkg/models"
)

// ErrNotReplayable marks a replay request against a span that is not an
// llm_call.
var ErrNotReplayable = errors.New("replay: span is not an llm_call")

// Service loads spans, calls the provider, and persists replay runs.
type Service struct {
	store    *store.Store
	registry *llm.Registry
	logger   *slog.Logger
}

// New creates a replay service.
func New(st *store.Store, registry *llm.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, registry: registry, logger: logger}
}

// Replay re-runs the span's LLM call with modified attributes shallow-merged
// over the stored ones, diffs the completions, and persists a ReplayRun.
func (s *Service) Replay(ctx context.Context, spanID string, modified map[string]any) (*models.ReplayRun, error) {
	span, err := s.store.GetSpan(ctx, spanID)
	if err != nil {
		return nil, err
	}
	if span.SpanType != models.SpanTypeLLMCall {
		return nil, ErrNotReplayable
	}

	merged := mergedView(span.Attributes, modified)
	req, provider, err := buildRequest(merged)
	if err != nil {
		return nil, err
	}

	client, err := s.resolveClient(provider, req.Model)
	if err != nil {
		return nil, err
	}

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	oldCompletion, _ := merged[models.AttrLLMCompletion].(string)
	run := &models.ReplayRun{
		ReplayID:      uuid.NewString(),
		SpanID:        span.SpanID,
		TraceID:       span.TraceID,
		ModifiedInput: modified,
		NewOutput:     resp.Text,
		Diff:          diffCompletions(oldCompletion, resp.Text),
		CreatedAt:     float64(time.Now().UnixNano()) / 1e9,
	}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertReplayRun(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("replayed span",
		"span_id", span.SpanID,
		"replay_id", run.ReplayID,
		"changed", run.Diff.Changed)
	return run, nil
}

func (s *Service) resolveClient(provider, model string) (llm.Client, error) {
	if provider != "" {
		return s.registry.ForProvider(provider)
	}
	return s.registry.ForModel(model)
}

// mergedView overlays modified attributes on the stored ones without
// mutating either map.
func mergedView(stored, modified map[string]any) map[string]any {
	merged := make(map[string]any, len(stored)+len(modified))
	for k, v := range stored {
		merged[k] = v
	}
	for k, v := range modified {
		merged[k] = v
	}
	return merged
}

// buildRequest extracts the completion parameters from the merged attribute
// view. Model and prompt are required.
func buildRequest(merged map[string]any) (*llm.Request, string, error) {
	model, _ := merged[models.AttrLLMModel].(string)
	if model == "" {
		return nil, "", fmt.Errorf("replay: span has no %s attribute", models.AttrLLMModel)
	}
	prompt, _ := merged[models.AttrLLMPrompt].(string)
	if prompt == "" {
		return nil, "", fmt.Errorf("replay: span has no %s attribute", models.AttrLLMPrompt)
	}
	provider, _ := merged[models.AttrLLMProvider].(string)

	req := &llm.Request{
		Model:    model,
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	}
	if temp, ok := numeric(merged[models.AttrLLMTemperature]); ok {
		req.Temperature = &temp
	}
	if max, ok := numeric(merged[models.AttrLLMMaxTokens]); ok {
		req.MaxTokens = int(max)
	}
	return req, provider, nil
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// diffCompletions reports whether the replayed completion differs from the
// stored one.
func diffCompletions(oldText, newText string) models.ReplayDiff {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldText, newText, false)
	return models.ReplayDiff{
		Old:     oldText,
		New:     newText,
		Changed: dmp.DiffLevenshtein(diffs) > 0,
	}
}
