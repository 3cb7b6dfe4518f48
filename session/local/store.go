// Package local implements session.Store on the local filesystem, rooted by
// default at ${HOME}/.strands/sessions. It is grounded on the teacher's
// defensive-copy discipline in runtime/agent/run/inmem (never hand back
// internal state by reference) applied to an at-rest durability guarantee
// instead of an in-memory one: every write goes to a temp file in the same
// directory followed by an atomic rename, so a crash mid-write can never
// leave a torn checkpoint behind — a reader observes either the previous
// complete state or the new one, never a partial file.
//
// Atomic rename is an OS-level primitive with no corresponding third-party
// library in the example corpus (no example repo wires an atomic-file-write
// package); this component is therefore deliberately stdlib-only.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/thomasrohde/strandsflow/session"
)

// DefaultRoot is the default root directory for session checkpoints,
// resolved relative to the user's home directory at Store construction
// time.
const DefaultRoot = ".strands/sessions"

// Store is a session.Store backed by the local filesystem.
type Store struct {
	root string
}

// New returns a Store rooted at root. An empty root resolves to
// ${HOME}/.strands/sessions.
func New(root string) (*Store, error) {
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("session/local: resolve home directory: %w", err)
		}
		root = filepath.Join(home, DefaultRoot)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("session/local: create root %q: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

func (s *Store) checkpointPath(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "session.json")
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, state *session.State) error {
	if state.Metadata.SessionID == "" {
		return fmt.Errorf("session/local: session id is required")
	}
	dir := s.sessionDir(state.Metadata.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session/local: create session directory: %w", err)
	}
	payload, err := json.MarshalIndent(toDoc(state), "", "  ")
	if err != nil {
		return fmt.Errorf("session/local: marshal state: %w", err)
	}
	return atomicWrite(dir, s.checkpointPath(state.Metadata.SessionID), payload)
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, sessionID string) (*session.State, error) {
	raw, err := os.ReadFile(s.checkpointPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, session.ErrSessionNotFound
		}
		return nil, fmt.Errorf("session/local: read checkpoint: %w", err)
	}
	var doc stateDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("session/local: decode checkpoint: %w", err)
	}
	return doc.toState(), nil
}

// Exists implements session.Store.
func (s *Store) Exists(ctx context.Context, sessionID string) (bool, error) {
	_, err := os.Stat(s.checkpointPath(sessionID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// List implements session.Store.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type item struct {
		id      string
		modTime time.Time
	}
	var items []item
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := os.Stat(s.checkpointPath(e.Name()))
		if err != nil {
			continue
		}
		items = append(items, item{id: e.Name(), modTime: info.ModTime()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].modTime.After(items[j].modTime) })
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids, nil
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	err := os.RemoveAll(s.sessionDir(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AgentsDir implements session.Store.
func (s *Store) AgentsDir(sessionID string) string {
	return filepath.Join(s.sessionDir(sessionID), "agents")
}

// Cleanup implements session.Store.
func (s *Store) Cleanup(ctx context.Context, olderThanSeconds int64) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := os.Stat(s.checkpointPath(e.Name()))
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := s.Delete(ctx, e.Name()); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// atomicWrite writes payload to path by first writing to a temp file in
// dir, then renaming it into place. Rename within the same filesystem is
// atomic, so a concurrent reader never observes a partially written file.
func atomicWrite(dir, path string, payload []byte) error {
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("session/local: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session/local: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session/local: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session/local: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session/local: rename temp file: %w", err)
	}
	return nil
}
