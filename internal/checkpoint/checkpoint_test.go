package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chernistry/tavily/internal/model"
)

func TestLoadMissingReturnsNotOK(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, ok := s.Load("run-1", 0); ok {
		t.Fatal("expected ok=false for a missing checkpoint")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	cp := model.ShardCheckpoint{
		RunID: "run-1", ShardID: 3, URLsTotal: 500, URLsDone: 250,
		LastUpdatedAt: time.Now().UTC(), Status: model.CheckpointInProgress,
	}
	if err := s.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok := s.Load("run-1", 3)
	if !ok {
		t.Fatal("expected ok=true after Save")
	}
	if got.URLsDone != 250 || got.Status != model.CheckpointInProgress {
		t.Fatalf("got %+v", got)
	}
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	cp := model.ShardCheckpoint{RunID: "run-1", ShardID: 0, Status: model.CheckpointPending}
	if err := s.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run-1_shard_0000.json.tmp")); err == nil {
		t.Fatal("expected temp file to be renamed away")
	}
}

func TestCorruptCheckpointFallsBack(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "run-1_shard_0005.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if _, ok := s.Load("run-1", 5); ok {
		t.Fatal("expected ok=false for a corrupt checkpoint")
	}
}

func TestIsDoneReflectsStatus(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.IsDone("run-1", 1) {
		t.Fatal("expected IsDone=false before any checkpoint exists")
	}
	if err := s.Save(model.ShardCheckpoint{RunID: "run-1", ShardID: 1, Status: model.CheckpointInProgress}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if s.IsDone("run-1", 1) {
		t.Fatal("expected IsDone=false while in_progress")
	}
	if err := s.Save(model.ShardCheckpoint{RunID: "run-1", ShardID: 1, Status: model.CheckpointCompleted}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.IsDone("run-1", 1) {
		t.Fatal("expected IsDone=true once completed")
	}
}
