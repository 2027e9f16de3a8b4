package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rahul/esteira/internal/pipeline"
)

// StateFile is the name of the state document inside a session directory.
const StateFile = "pipeline_state.json"

// SessionStore keeps each session in its own directory under Root:
//
//	<root>/<session>/pipeline_state.json
//	<root>/<session>/<artifact files>
//
// When Index is set, every written artifact is also recorded there.
type SessionStore struct {
	Root  string
	Index *Index
}

func NewSessionStore(root string) (*SessionStore, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &SessionStore{Root: absRoot}, nil
}

// SessionDir returns the directory of a session, refusing ids that would
// escape Root.
func (s *SessionStore) SessionDir(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, `/\`) || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("invalid session id: %q", sessionID)
	}
	return filepath.Join(s.Root, sessionID), nil
}

// SaveState writes the state document atomically: a crash leaves either the
// previous document or the new one.
func (s *SessionStore) SaveState(st *pipeline.State) error {
	dir, err := s.SessionDir(st.SessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	return writeAtomic(filepath.Join(dir, StateFile), data)
}

func (s *SessionStore) LoadState(sessionID string) (*pipeline.State, error) {
	dir, err := s.SessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, StateFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	var st pipeline.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode state of %s: %w", sessionID, err)
	}
	return &st, nil
}

// Sessions lists the ids of all sessions with a state document, sorted.
func (s *SessionStore) Sessions() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.Root, e.Name(), StateFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
