// Package session persists SessionState (storage state + device profile) to
// disk, one directory per session id, with atomic write-then-rename so a
// crash mid-write never leaves a corrupt file for the next run to trip over.
//
// Grounded on original_source/tavily_scraper/stealth/session.py's SessionManager
// (save_session/load_session/save_profile/load_profile), unified here into
// a single SessionState record per SPEC_FULL.md §3, and on the interface
// shape of the teacher's (deleted) internal/sessionstate.Store — same
// Save/Load/Exists verbs, rewritten for a filesystem-only backend since this
// spec's session store is explicitly file-based, unlike that store's Redis
// option.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/chernistry/tavily/internal/model"
)

var unsafeSessionChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Store reads and writes SessionState records under a base directory.
type Store struct {
	baseDir string
}

// NewStore constructs a Store rooted at baseDir, creating it if missing.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func sanitize(sessionID string) string {
	return unsafeSessionChars.ReplaceAllString(sessionID, "")
}

func (s *Store) dir(sessionID string) string {
	return filepath.Join(s.baseDir, sanitize(sessionID))
}

// Load reads a session's storage state and profile. A missing or corrupt
// directory is not an error: it reports ok=false so the caller falls back
// to a freshly generated session, matching load_session's None-on-miss
// behavior.
func (s *Store) Load(sessionID string) (state model.SessionState, ok bool) {
	if sessionID == "" {
		return model.SessionState{}, false
	}
	dir := s.dir(sessionID)

	storagePath := filepath.Join(dir, "storage_state.json")
	profilePath := filepath.Join(dir, "profile.json")

	storageRaw, err := os.ReadFile(storagePath)
	if err != nil {
		return model.SessionState{}, false
	}
	profileRaw, err := os.ReadFile(profilePath)
	if err != nil {
		return model.SessionState{}, false
	}

	var storageState map[string]any
	if err := json.Unmarshal(storageRaw, &storageState); err != nil {
		return model.SessionState{}, false
	}
	var profile model.DeviceProfile
	if err := json.Unmarshal(profileRaw, &profile); err != nil {
		return model.SessionState{}, false
	}

	return model.SessionState{
		SessionID:    sessionID,
		StorageState: storageState,
		Profile:      profile,
	}, true
}

// Save persists a SessionState's storage state and profile atomically.
// Empty session IDs are a no-op, mirroring save_session's early return.
func (s *Store) Save(state model.SessionState) error {
	if state.SessionID == "" {
		return nil
	}
	dir := s.dir(state.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session subdir: %w", err)
	}

	if err := atomicWriteJSON(filepath.Join(dir, "storage_state.json"), state.StorageState); err != nil {
		return fmt.Errorf("save storage state: %w", err)
	}
	if err := atomicWriteJSON(filepath.Join(dir, "profile.json"), state.Profile); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// Exists reports whether a session directory has a usable (non-corrupt)
// saved state.
func (s *Store) Exists(sessionID string) bool {
	_, ok := s.Load(sessionID)
	return ok
}

// atomicWriteJSON writes data to path via a temp-file-then-rename, grounded
// on session.py's temp_path.replace(path) pattern — the corpus's only
// atomic-write precedent, reused here and by the checkpoint/result stores.
func atomicWriteJSON(path string, data any) error {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
