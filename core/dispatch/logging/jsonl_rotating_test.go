package logging

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilianp07/shiprelay/core/model"
)

func TestJSONLStore_AppendQuery(t *testing.T) {
	store, err := NewJSONLStore(filepath.Join(t.TempDir(), "log.jsonl"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	_ = store.Append(ctx, LogRecord{Timestamp: time.Now(), RequestID: "r1", Status: model.OutcomeExhausted})
	_ = store.Append(ctx, LogRecord{Timestamp: time.Now(), RequestID: "r2", Status: model.OutcomeAccepted, Winner: "a"})
	out, err := store.Query(ctx, LogQuery{RequestID: "r2"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 || out[0].RequestID != "r2" {
		t.Fatalf("unexpected records: %+v", out)
	}
	if out[0].Status != model.OutcomeAccepted {
		t.Fatalf("status = %v", out[0].Status)
	}
}

func TestJSONLStore_ZeroStatusSurvives(t *testing.T) {
	store, err := NewJSONLStore(filepath.Join(t.TempDir(), "log.jsonl"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	_ = store.Append(ctx, LogRecord{Timestamp: time.Now(), RequestID: "r1"})
	_ = store.Append(ctx, LogRecord{Timestamp: time.Now(), RequestID: "r2", Status: model.OutcomeAccepted})
	out, err := store.Query(ctx, LogQuery{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %+v", out)
	}
}

func TestRotatingJSONLStore_Rotation(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/log.jsonl"
	store, err := NewRotatingJSONLStore(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	rec := LogRecord{Timestamp: time.Now()}
	for i := 0; i < 100; i++ {
		if err := store.Append(context.Background(), rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	files, _ := filepath.Glob(path + "*")
	if len(files) == 0 {
		t.Fatalf("expected log files")
	}
}

func TestRotatingJSONLStore_Query(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "log.jsonl")
	store, err := NewRotatingJSONLStore(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	now := time.Now()
	_ = store.Append(context.Background(), LogRecord{Timestamp: now, RequestID: "r1", Status: model.OutcomeAccepted, Winner: "a"})
	out, err := store.Query(context.Background(), LogQuery{ActorID: "a"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
}
