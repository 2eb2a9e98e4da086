package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/beacon/pkg/models"
)

// querier abstracts *sql.DB and *sql.Tx so the same query helpers serve both
// the direct read paths on Store and the unit-of-work paths on Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is a unit of work. Operations within one Tx see each other's writes and
// become durable on Commit; Rollback after Commit is a no-op.
type Tx struct {
	tx   *sql.Tx
	done bool
}

// Commit makes the unit of work durable.
func (t *Tx) Commit() error {
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Rollback discards the unit of work. Safe to call after Commit.
func (t *Tx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	_ = t.tx.Rollback()
}

const traceColumns = `trace_id, name, start_time, end_time, span_count, status,
	total_cost_usd, total_tokens, tags, sdk_language, created_at`

const spanColumns = `span_id, trace_id, parent_span_id, name, span_type, status,
	error_message, start_time, end_time, attributes, annotations, sdk_language`

func scanTrace(row interface{ Scan(...any) error }) (*models.Trace, error) {
	var (
		tr      models.Trace
		endTime sql.NullFloat64
		tags    string
		sdkLang sql.NullString
	)
	err := row.Scan(&tr.TraceID, &tr.Name, &tr.StartTime, &endTime, &tr.SpanCount,
		&tr.Status, &tr.TotalCostUSD, &tr.TotalTokens, &tags, &sdkLang, &tr.CreatedAt)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		v := endTime.Float64
		tr.EndTime = &v
	}
	tr.SDKLanguage = sdkLang.String
	if err := json.Unmarshal([]byte(tags), &tr.Tags); err != nil {
		tr.Tags = map[string]string{}
	}
	return &tr, nil
}

func scanSpan(row interface{ Scan(...any) error }) (*models.Span, error) {
	var (
		sp          models.Span
		parent      sql.NullString
		errMsg      sql.NullString
		endTime     sql.NullFloat64
		attributes  string
		annotations string
		sdkLang     sql.NullString
	)
	err := row.Scan(&sp.SpanID, &sp.TraceID, &parent, &sp.Name, &sp.SpanType,
		&sp.Status, &errMsg, &sp.StartTime, &endTime, &attributes, &annotations, &sdkLang)
	if err != nil {
		return nil, err
	}
	sp.ParentSpanID = parent.String
	sp.ErrorMessage = errMsg.String
	if endTime.Valid {
		v := endTime.Float64
		sp.EndTime = &v
	}
	sp.SDKLanguage = sdkLang.String
	if err := json.Unmarshal([]byte(attributes), &sp.Attributes); err != nil {
		sp.Attributes = map[string]any{}
	}
	if err := json.Unmarshal([]byte(annotations), &sp.Annotations); err != nil {
		sp.Annotations = nil
	}
	return &sp, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func marshalOr(v any, fallback string) string {
	if v == nil {
		return fallback
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(data)
}

func insertTrace(ctx context.Context, q querier, tr *models.Trace) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO traces (`+traceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.TraceID, tr.Name, tr.StartTime, nullFloat(tr.EndTime), tr.SpanCount,
		tr.Status, tr.TotalCostUSD, tr.TotalTokens, marshalOr(tr.Tags, "{}"),
		nullStr(tr.SDKLanguage), tr.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateTrace
		}
		return fmt.Errorf("store: insert trace: %w", err)
	}
	return nil
}

func updateTrace(ctx context.Context, q querier, tr *models.Trace) error {
	res, err := q.ExecContext(ctx, `
		UPDATE traces SET name = ?, start_time = ?, end_time = ?, span_count = ?,
			status = ?, total_cost_usd = ?, total_tokens = ?, tags = ?
		WHERE trace_id = ?`,
		tr.Name, tr.StartTime, nullFloat(tr.EndTime), tr.SpanCount, tr.Status,
		tr.TotalCostUSD, tr.TotalTokens, marshalOr(tr.Tags, "{}"), tr.TraceID)
	if err != nil {
		return fmt.Errorf("store: update trace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func getTrace(ctx context.Context, q querier, traceID string) (*models.Trace, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+traceColumns+` FROM traces WHERE trace_id = ?`, traceID)
	tr, err := scanTrace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get trace: %w", err)
	}
	return tr, nil
}

// ListOptions filters and pages the trace listing.
type ListOptions struct {
	Limit  int
	Offset int
	Status models.Status
}

func listTraces(ctx context.Context, q querier, opts ListOptions) ([]*models.Trace, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	query := `SELECT ` + traceColumns + ` FROM traces`
	args := []any{}
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, opts.Status)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list traces: %w", err)
	}
	defer rows.Close()

	var traces []*models.Trace
	for rows.Next() {
		tr, err := scanTrace(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan trace: %w", err)
		}
		traces = append(traces, tr)
	}
	return traces, rows.Err()
}

func deleteTrace(ctx context.Context, q querier, traceID string) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM traces WHERE trace_id = ?`, traceID)
	if err != nil {
		return false, fmt.Errorf("store: delete trace: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func deleteTracesOlderThan(ctx context.Context, q querier, cutoff float64) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM traces WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete traces older than: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func updateTraceTags(ctx context.Context, q querier, traceID string, tags map[string]string) error {
	res, err := q.ExecContext(ctx, `UPDATE traces SET tags = ? WHERE trace_id = ?`,
		marshalOr(tags, "{}"), traceID)
	if err != nil {
		return fmt.Errorf("store: update trace tags: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// upsertSpan writes the span row, returning true when a new row was created
// and false when an existing span_id was updated in place.
func upsertSpan(ctx context.Context, q querier, sp *models.Span) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM spans WHERE span_id = ?`, sp.SpanID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: check span: %w", err)
	}

	if exists == 0 {
		_, err = q.ExecContext(ctx, `
			INSERT INTO spans (`+spanColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sp.SpanID, sp.TraceID, nullStr(sp.ParentSpanID), sp.Name, sp.SpanType,
			sp.Status, nullStr(sp.ErrorMessage), sp.StartTime, nullFloat(sp.EndTime),
			marshalOr(sp.Attributes, "{}"), marshalOr(sp.Annotations, "[]"),
			nullStr(sp.SDKLanguage))
		if err != nil {
			return false, fmt.Errorf("store: insert span: %w", err)
		}
		return true, nil
	}

	_, err = q.ExecContext(ctx, `
		UPDATE spans SET parent_span_id = ?, name = ?, span_type = ?, status = ?,
			error_message = ?, start_time = ?, end_time = ?, attributes = ?
		WHERE span_id = ?`,
		nullStr(sp.ParentSpanID), sp.Name, sp.SpanType, sp.Status,
		nullStr(sp.ErrorMessage), sp.StartTime, nullFloat(sp.EndTime),
		marshalOr(sp.Attributes, "{}"), sp.SpanID)
	if err != nil {
		return false, fmt.Errorf("store: update span: %w", err)
	}
	return false, nil
}

func getSpan(ctx context.Context, q querier, spanID string) (*models.Span, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+spanColumns+` FROM spans WHERE span_id = ?`, spanID)
	sp, err := scanSpan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get span: %w", err)
	}
	return sp, nil
}

func listSpans(ctx context.Context, q querier, traceID string) ([]*models.Span, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+spanColumns+` FROM spans WHERE trace_id = ? ORDER BY start_time`, traceID)
	if err != nil {
		return nil, fmt.Errorf("store: list spans: %w", err)
	}
	defer rows.Close()

	var spans []*models.Span
	for rows.Next() {
		sp, err := scanSpan(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan span: %w", err)
		}
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

func spanStatuses(ctx context.Context, q querier, traceID string) ([]models.Status, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT status FROM spans WHERE trace_id = ?`, traceID)
	if err != nil {
		return nil, fmt.Errorf("store: span statuses: %w", err)
	}
	defer rows.Close()

	var statuses []models.Status
	for rows.Next() {
		var s models.Status
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}

func updateSpanAnnotations(ctx context.Context, q querier, spanID string, annotations []models.Annotation) error {
	res, err := q.ExecContext(ctx, `UPDATE spans SET annotations = ? WHERE span_id = ?`,
		marshalOr(annotations, "[]"), spanID)
	if err != nil {
		return fmt.Errorf("store: update annotations: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func insertReplayRun(ctx context.Context, q querier, run *models.ReplayRun) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO replay_runs (replay_id, span_id, trace_id, modified_input,
			new_output, diff_old, diff_new, diff_changed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ReplayID, run.SpanID, run.TraceID, marshalOr(run.ModifiedInput, "{}"),
		run.NewOutput, run.Diff.Old, run.Diff.New, run.Diff.Changed, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert replay run: %w", err)
	}
	return nil
}

func scanReplayRun(row interface{ Scan(...any) error }) (*models.ReplayRun, error) {
	var (
		run      models.ReplayRun
		modified string
	)
	err := row.Scan(&run.ReplayID, &run.SpanID, &run.TraceID, &modified,
		&run.NewOutput, &run.Diff.Old, &run.Diff.New, &run.Diff.Changed, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(modified), &run.ModifiedInput); err != nil {
		run.ModifiedInput = map[string]any{}
	}
	return &run, nil
}

const replayColumns = `replay_id, span_id, trace_id, modified_input, new_output,
	diff_old, diff_new, diff_changed, created_at`

func getReplayRun(ctx context.Context, q querier, replayID string) (*models.ReplayRun, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+replayColumns+` FROM replay_runs WHERE replay_id = ?`, replayID)
	run, err := scanReplayRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get replay run: %w", err)
	}
	return run, nil
}

func listReplayRuns(ctx context.Context, q querier, spanID string) ([]*models.ReplayRun, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+replayColumns+` FROM replay_runs WHERE span_id = ? ORDER BY created_at`, spanID)
	if err != nil {
		return nil, fmt.Errorf("store: list replay runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ReplayRun
	for rows.Next() {
		run, err := scanReplayRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func insertPromptVersion(ctx context.Context, q querier, pv *models.PromptVersion) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO prompt_versions (version_id, span_id, prompt_text, label, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		pv.VersionID, pv.SpanID, pv.PromptText, nullStr(pv.Label), pv.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert prompt version: %w", err)
	}
	return nil
}

func listPromptVersions(ctx context.Context, q querier, spanID string) ([]*models.PromptVersion, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT version_id, span_id, prompt_text, label, created_at
		FROM prompt_versions WHERE span_id = ? ORDER BY created_at`, spanID)
	if err != nil {
		return nil, fmt.Errorf("store: list prompt versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.PromptVersion
	for rows.Next() {
		var (
			pv    models.PromptVersion
			label sql.NullString
		)
		if err := rows.Scan(&pv.VersionID, &pv.SpanID, &pv.PromptText, &label, &pv.CreatedAt); err != nil {
			return nil, err
		}
		pv.Label = label.String
		versions = append(versions, &pv)
	}
	return versions, rows.Err()
}
