// Package checkpoint persists each shard's progress journal so a batch
// interrupted mid-run can resume without redoing completed shards.
//
// Grounded on original_source/tavily_scraper/pipelines/shard_runner.py's
// load_checkpoint/save_checkpoint, with the write made atomic per
// SPEC_FULL.md §4.8 — the original writes the checkpoint file directly
// with path.write_text, which can leave a truncated file behind if the
// process dies mid-write; this store always writes to a temp file and
// renames it into place, following the same pattern
// internal/stealth/session already uses for session state.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chernistry/tavily/internal/model"
)

// Store reads and writes ShardCheckpoint records under a base directory,
// one file per shard.
type Store struct {
	dir string
}

// NewStore constructs a Store rooted at dir, creating it if missing.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(runID string, shardID int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_shard_%04d.json", runID, shardID))
}

// Load reads a shard's checkpoint. A missing or corrupt file is not an
// error: it reports ok=false so the caller treats the shard as never
// started, mirroring load_checkpoint's None-on-miss behavior.
func (s *Store) Load(runID string, shardID int) (model.ShardCheckpoint, bool) {
	raw, err := os.ReadFile(s.path(runID, shardID))
	if err != nil {
		return model.ShardCheckpoint{}, false
	}
	var cp model.ShardCheckpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return model.ShardCheckpoint{}, false
	}
	return cp, true
}

// Save persists a shard's checkpoint atomically via temp-file-then-rename.
func (s *Store) Save(cp model.ShardCheckpoint) error {
	encoded, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	path := s.path(cp.RunID, cp.ShardID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}

// IsDone reports whether a shard's checkpoint is already marked
// completed, letting a resumed batch skip it entirely.
func (s *Store) IsDone(runID string, shardID int) bool {
	cp, ok := s.Load(runID, shardID)
	return ok && cp.Status == model.CheckpointCompleted
}
