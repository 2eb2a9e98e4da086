package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/beacon/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "beacon.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(f float64) *float64 { return &f }

func span(traceID, spanID string) *models.Span {
	return &models.Span{
		SpanID:    spanID,
		TraceID:   traceID,
		Name:      "test-span",
		SpanType:  models.SpanTypeCustom,
		Status:    models.StatusOK,
		StartTime: 100,
		EndTime:   ptr(101),
	}
}

func applySpan(t *testing.T, s *Store, sp *models.Span) *ApplyResult {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()
	res, err := tx.ApplySpan(ctx, sp)
	if err != nil {
		t.Fatalf("ApplySpan: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return res
}

func TestOpenCreatesDirectoryAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "beacon.db")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	// Reopening an existing database must succeed (migrations are
	// idempotent).
	s, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s.Close()
}

func TestSpanRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sp := span("t1", "s1")
	sp.ParentSpanID = "p1"
	sp.ErrorMessage = "boom"
	sp.Status = models.StatusError
	sp.Attributes = map[string]any{"tool.name": "search", "file.size_bytes": float64(42)}
	sp.Annotations = []models.Annotation{{ID: "a1", Text: "flaky", CreatedAt: 5}}
	sp.SDKLanguage = "python"
	applySpan(t, s, sp)

	got, err := s.GetSpan(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSpan: %v", err)
	}
	if got.ParentSpanID != "p1" || got.ErrorMessage != "boom" {
		t.Errorf("got %+v", got)
	}
	if got.Attributes["tool.name"] != "search" {
		t.Errorf("attributes = %v", got.Attributes)
	}
	if len(got.Annotations) != 1 || got.Annotations[0].Text != "flaky" {
		t.Errorf("annotations = %v", got.Annotations)
	}
	if got.SDKLanguage != "python" {
		t.Errorf("sdk_language = %q", got.SDKLanguage)
	}
	if got.EndTime == nil || *got.EndTime != 101 {
		t.Errorf("end_time = %v", got.EndTime)
	}
}

func TestGetSpanNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSpan(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListTracesNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	applySpan(t, s, span("t1", "s1"))
	applySpan(t, s, span("t2", "s2"))
	errSpan := span("t3", "s3")
	errSpan.Status = models.StatusError
	applySpan(t, s, errSpan)

	traces, err := s.ListTraces(ctx, ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("ListTraces: %v", err)
	}
	if len(traces) != 3 {
		t.Fatalf("len = %d, want 3", len(traces))
	}
	if traces[0].TraceID != "t3" {
		t.Errorf("first trace = %s, want newest (t3)", traces[0].TraceID)
	}

	errOnly, err := s.ListTraces(ctx, ListOptions{Limit: 10, Status: models.StatusError})
	if err != nil {
		t.Fatalf("ListTraces(status=error): %v", err)
	}
	if len(errOnly) != 1 || errOnly[0].TraceID != "t3" {
		t.Errorf("status filter returned %v", errOnly)
	}
}

func TestCascadeDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sp := span("t1", "s1")
	sp.SpanType = models.SpanTypeLLMCall
	applySpan(t, s, sp)

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertPromptVersion(ctx, &models.PromptVersion{
			VersionID: "v1", SpanID: "s1", PromptText: "hi", CreatedAt: 1,
		}); err != nil {
			return err
		}
		return tx.InsertReplayRun(ctx, &models.ReplayRun{
			ReplayID: "r1", SpanID: "s1", TraceID: "t1", CreatedAt: 1,
		})
	})
	if err != nil {
		t.Fatalf("insert children: %v", err)
	}

	err = s.WithTx(ctx, func(tx *Tx) error {
		deleted, err := tx.DeleteTrace(ctx, "t1")
		if err != nil {
			return err
		}
		if !deleted {
			t.Error("expected delete to report a removed row")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.GetSpan(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("span survived cascade: %v", err)
	}
	if _, err := s.GetReplayRun(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("replay run survived cascade: %v", err)
	}
	versions, err := s.ListPromptVersions(ctx, "s1")
	if err != nil {
		t.Fatalf("ListPromptVersions: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("prompt versions survived cascade: %v", versions)
	}
}

func TestDeleteTracesOlderThan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	applySpan(t, s, span("t1", "s1"))
	applySpan(t, s, span("t2", "s2"))

	tr, err := s.GetTrace(ctx, "t2")
	if err != nil {
		t.Fatal(err)
	}

	err = s.WithTx(ctx, func(tx *Tx) error {
		n, err := tx.DeleteTracesOlderThan(ctx, tr.CreatedAt)
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("deleted %d traces, want 1", n)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetTrace(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("t1 should be deleted: %v", err)
	}
}

func TestUpdateTagsAndAnnotationsReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	applySpan(t, s, span("t1", "s1"))

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.UpdateTraceTags(ctx, "t1", map[string]string{"env": "ci"}); err != nil {
			return err
		}
		return tx.UpdateSpanAnnotations(ctx, "s1", []models.Annotation{{ID: "a", Text: "n1"}})
	})
	if err != nil {
		t.Fatal(err)
	}

	// Second write replaces, never merges.
	err = s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.UpdateTraceTags(ctx, "t1", map[string]string{"team": "agents"}); err != nil {
			return err
		}
		return tx.UpdateSpanAnnotations(ctx, "s1", nil)
	})
	if err != nil {
		t.Fatal(err)
	}

	tr, err := s.GetTrace(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.Tags["env"]; ok {
		t.Errorf("tags merged instead of replaced: %v", tr.Tags)
	}
	if tr.Tags["team"] != "agents" {
		t.Errorf("tags = %v", tr.Tags)
	}

	sp, err := s.GetSpan(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sp.Annotations) != 0 {
		t.Errorf("annotations = %v, want empty", sp.Annotations)
	}
}

func TestDuplicateTraceInsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	applySpan(t, s, span("t1", "s1"))
	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertTrace(ctx, &models.Trace{TraceID: "t1", Name: "dup", StartTime: 1, CreatedAt: 1})
	})
	if !errors.Is(err, ErrDuplicateTrace) {
		t.Errorf("err = %v, want ErrDuplicateTrace", err)
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	applySpan(t, s, span("t1", "s1"))
	applySpan(t, s, span("t1", "s2"))

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TraceCount != 1 || stats.SpanCount != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.DatabaseSizeBytes == 0 {
		t.Error("expected non-zero database size")
	}
}
