// Package checkpoint implements the Checkpoint Manager (C8): crash-safe,
// per-room persistence of WorkingContext via atomic write-temp-then-rename,
// debounced per session and forced at step transitions.
//
// The per-session single-writer discipline is adapted from
// internal/sessions.Locker/LocalLocker's per-session mutex idiom; this
// package narrows that to exactly the atomic-replace + debounce contract
// the spec calls for, rather than the teacher's distributed DB lease.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SchemaVersion is bumped whenever Record's on-disk shape changes
// incompatibly. A mismatched version on read is treated as "no
// checkpoint" per spec §4.8.
const SchemaVersion = 1

// Record is the on-disk checkpoint payload for one session.
type Record struct {
	SchemaVersion  int             `json:"schema_version"`
	SessionKey     string          `json:"session_key"`
	WorkingContext json.RawMessage `json:"working_context"`
	PendingTool    json.RawMessage `json:"pending_tool,omitempty"`
	HistoryTail    json.RawMessage `json:"history_tail,omitempty"`
	Iteration      int             `json:"iteration"`
	SavedAt        time.Time       `json:"saved_at"`
}

// sessionState tracks per-session debounce bookkeeping.
type sessionState struct {
	mu       sync.Mutex
	lastSave time.Time
}

// Manager persists and restores WorkingContext snapshots under a root
// directory, one subdirectory per session (data/sessions/<session_key>/checkpoint
// per the persisted state layout in spec §6).
type Manager struct {
	root            string
	debounce        time.Duration
	mu              sync.Mutex
	perSession      map[string]*sessionState
}

// NewManager constructs a Manager rooted at dir, debouncing writes to no
// more than one per debounce interval per session unless forced.
func NewManager(dir string, debounce time.Duration) *Manager {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Manager{root: dir, debounce: debounce, perSession: map[string]*sessionState{}}
}

func (m *Manager) stateFor(sessionKey string) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.perSession[sessionKey]
	if !ok {
		st = &sessionState{}
		m.perSession[sessionKey] = st
	}
	return st
}

func (m *Manager) pathFor(sessionKey string) string {
	return filepath.Join(m.root, "sessions", sanitizeKey(sessionKey), "checkpoint")
}

func sanitizeKey(key string) string {
	return filepath.FromSlash(key)
}

// Save persists wc for sessionKey, subject to the per-session debounce
// unless force is true (step transitions and pre-external-call writes
// always force). The write is atomic: write to "<path>.tmp", fsync,
// rename over "<path>" — a checkpoint file is therefore either absent
// or fully valid, never partially written.
func (m *Manager) Save(sessionKey string, rec Record, force bool) error {
	st := m.stateFor(sessionKey)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !force && time.Since(st.lastSave) < m.debounce {
		return nil
	}

	rec.SchemaVersion = SchemaVersion
	rec.SessionKey = sessionKey
	rec.SavedAt = time.Now()

	path := m.pathFor(sessionKey)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("checkpoint: mkdir: %w", err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("checkpoint: open temp: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: close temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: rename: %w", err)
	}

	st.lastSave = time.Now()
	return nil
}

// ErrAbsent is returned by Resume when no valid checkpoint exists for a
// session — whether because none was ever written or because the
// on-disk schema version doesn't match SchemaVersion.
var ErrAbsent = errors.New("checkpoint: absent")

// Resume loads the checkpoint for sessionKey, if any. A schema-version
// mismatch is treated as absent (ErrAbsent), not an error, per spec
// §4.8 ("Schema-version mismatch → treat as absent, log a downgrade
// event" — the caller is expected to log that event; Resume only
// signals the condition).
func (m *Manager) Resume(sessionKey string) (Record, error) {
	path := m.pathFor(sessionKey)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrAbsent
		}
		return Record{}, fmt.Errorf("checkpoint: read: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, ErrAbsent
	}
	if rec.SchemaVersion != SchemaVersion {
		return Record{}, ErrAbsent
	}
	return rec, nil
}

// MarkCancelled persists a checkpoint record reflecting a user-initiated
// cancellation, used by the scheduler's cancellation path (spec §5).
func (m *Manager) MarkCancelled(sessionKey string, rec Record) error {
	return m.Save(sessionKey, rec, true)
}
