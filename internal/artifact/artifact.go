// Package artifact publishes release documents to object storage.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("artifact not found")

// Store persists release artifacts grouped by run.
type Store interface {
	Put(ctx context.Context, runID, path string, content []byte) error
	Get(ctx context.Context, runID, path string) ([]byte, error)
	List(ctx context.Context, runID string) ([]string, error)
	URI(runID, path string) string
}

// Object is one file to publish.
type Object struct {
	Path    string
	Content []byte
}

// Publish puts every object under runID and returns their URIs in order.
func Publish(ctx context.Context, s Store, runID string, objs []Object) ([]string, error) {
	uris := make([]string, 0, len(objs))
	for _, o := range objs {
		if err := s.Put(ctx, runID, o.Path, o.Content); err != nil {
			return uris, fmt.Errorf("publish %s: %w", o.Path, err)
		}
		uris = append(uris, s.URI(runID, o.Path))
	}
	return uris, nil
}

func validate(runID, path string) (string, string, error) {
	runID = strings.TrimSpace(runID)
	path = strings.TrimSpace(path)
	if runID == "" {
		return "", "", fmt.Errorf("run_id is required")
	}
	if path == "" {
		return "", "", fmt.Errorf("path is required")
	}
	return runID, path, nil
}

func objectKey(prefix, runID, path string) string {
	key := strings.TrimSpace(runID) + "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key
}

// MemoryStore keeps artifacts in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, runID, path string, content []byte) error {
	runID, path, err := validate(runID, path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[objectKey("", runID, path)] = append([]byte(nil), content...)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, runID, path string) ([]byte, error) {
	runID, path, err := validate(runID, path)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[objectKey("", runID, path)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) List(_ context.Context, runID string) ([]string, error) {
	prefix := strings.TrimSpace(runID) + "/"
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) URI(runID, path string) string {
	return "mem://" + objectKey("", runID, path)
}
