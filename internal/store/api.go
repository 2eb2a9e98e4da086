package store

import (
	"context"

	"github.com/haasonsaas/beacon/pkg/models"
)

// Read paths on Store query the shared connection directly; write paths live
// on Tx so callers control the unit of work.

func (s *Store) GetTrace(ctx context.Context, traceID string) (*models.Trace, error) {
	return getTrace(ctx, s.db, traceID)
}

func (s *Store) ListTraces(ctx context.Context, opts ListOptions) ([]*models.Trace, error) {
	return listTraces(ctx, s.db, opts)
}

func (s *Store) GetSpan(ctx context.Context, spanID string) (*models.Span, error) {
	return getSpan(ctx, s.db, spanID)
}

func (s *Store) ListSpans(ctx context.Context, traceID string) ([]*models.Span, error) {
	return listSpans(ctx, s.db, traceID)
}

func (s *Store) GetReplayRun(ctx context.Context, replayID string) (*models.ReplayRun, error) {
	return getReplayRun(ctx, s.db, replayID)
}

func (s *Store) ListReplayRuns(ctx context.Context, spanID string) ([]*models.ReplayRun, error) {
	return listReplayRuns(ctx, s.db, spanID)
}

func (s *Store) ListPromptVersions(ctx context.Context, spanID string) ([]*models.PromptVersion, error) {
	return listPromptVersions(ctx, s.db, spanID)
}

func (t *Tx) InsertTrace(ctx context.Context, tr *models.Trace) error {
	return insertTrace(ctx, t.tx, tr)
}

func (t *Tx) GetTrace(ctx context.Context, traceID string) (*models.Trace, error) {
	return getTrace(ctx, t.tx, traceID)
}

func (t *Tx) DeleteTrace(ctx context.Context, traceID string) (bool, error) {
	return deleteTrace(ctx, t.tx, traceID)
}

func (t *Tx) DeleteTracesOlderThan(ctx context.Context, cutoff float64) (int64, error) {
	return deleteTracesOlderThan(ctx, t.tx, cutoff)
}

func (t *Tx) UpdateTraceTags(ctx context.Context, traceID string, tags map[string]string) error {
	return updateTraceTags(ctx, t.tx, traceID, tags)
}

func (t *Tx) GetSpan(ctx context.Context, spanID string) (*models.Span, error) {
	return getSpan(ctx, t.tx, spanID)
}

func (t *Tx) ListSpans(ctx context.Context, traceID string) ([]*models.Span, error) {
	return listSpans(ctx, t.tx, traceID)
}

func (t *Tx) UpsertSpan(ctx context.Context, sp *models.Span) (bool, error) {
	return upsertSpan(ctx, t.tx, sp)
}

func (t *Tx) UpdateSpanAnnotations(ctx context.Context, spanID string, annotations []models.Annotation) error {
	return updateSpanAnnotations(ctx, t.tx, spanID, annotations)
}

func (t *Tx) InsertReplayRun(ctx context.Context, run *models.ReplayRun) error {
	return insertReplayRun(ctx, t.tx, run)
}

func (t *Tx) InsertPromptVersion(ctx context.Context, pv *models.PromptVersion) error {
	return insertPromptVersion(ctx, t.tx, pv)
}
