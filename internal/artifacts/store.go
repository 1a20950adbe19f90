// Package artifacts publishes the final products of a successful run to
// object storage, keyed by run ID.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("artifact not found")

// Store persists run artifacts.
type Store interface {
	// PutFile uploads a local file under runID and returns its object key.
	PutFile(ctx context.Context, runID, localPath string) (string, error)
	List(ctx context.Context, runID string) ([]string, error)
}

// Publish uploads every path to store. It stops at the first failure.
func Publish(ctx context.Context, store Store, runID string, paths []string) ([]string, error) {
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		key, err := store.PutFile(ctx, runID, p)
		if err != nil {
			return keys, fmt.Errorf("publish %s: %w", filepath.Base(p), err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func objectKey(runID, localPath string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return "", fmt.Errorf("run_id is required")
	}
	name := filepath.Base(strings.TrimSpace(localPath))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("path is required")
	}
	return runID + "/" + name, nil
}

// MemoryStore keeps uploaded files in memory. Used in tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	readFn  func(string) ([]byte, error)
}

// NewMemoryStore creates an empty MemoryStore reading files with readFn.
func NewMemoryStore(readFn func(string) ([]byte, error)) *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte), readFn: readFn}
}

func (s *MemoryStore) PutFile(_ context.Context, runID, localPath string) (string, error) {
	key, err := objectKey(runID, localPath)
	if err != nil {
		return "", err
	}
	data, err := s.readFn(localPath)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.objects[key] = append([]byte(nil), data...)
	s.mu.Unlock()
	return key, nil
}

func (s *MemoryStore) List(_ context.Context, runID string) ([]string, error) {
	prefix := strings.TrimSpace(runID) + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	var paths []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			paths = append(paths, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Get returns an uploaded object.
func (s *MemoryStore) Get(runID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[strings.TrimSpace(runID)+"/"+name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}
