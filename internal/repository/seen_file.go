package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// SeenFile is a durable seen-set kept in a local JSON file. It is loaded
// once and rewritten atomically on every addition. A single process owns
// the file; the mutex serialises goroutines within it.
type SeenFile struct {
	path string

	mu  sync.Mutex
	ids map[string]struct{}
}

// OpenSeenFile loads the set stored at path. A missing file is an empty set.
func OpenSeenFile(path string) (*SeenFile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("repository: seen file path must not be empty")
	}
	s := &SeenFile{path: path, ids: map[string]struct{}{}}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: read seen file: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return s, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("repository: decode seen file: %w", err)
	}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s, nil
}

// Seen reports whether id was already marked.
func (s *SeenFile) Seen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok, nil
}

// MarkSeen records id and flushes the file. added is false if id was present.
func (s *SeenFile) MarkSeen(_ context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, errors.New("repository: MarkSeen: id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false, nil
	}
	s.ids[id] = struct{}{}
	if err := s.flushLocked(); err != nil {
		delete(s.ids, id)
		return false, err
	}
	return true, nil
}

// Len returns the number of recorded identities.
func (s *SeenFile) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Close flushes the set a final time.
func (s *SeenFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *SeenFile) flushLocked() error {
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	raw, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("repository: encode seen file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("repository: create seen dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".seen-*.json")
	if err != nil {
		return fmt.Errorf("repository: create seen temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("repository: write seen temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("repository: close seen temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("repository: replace seen file: %w", err)
	}
	return nil
}
