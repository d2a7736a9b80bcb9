package storage

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/darkroom/types"
)

// MemoryStore is an in-process ObjectStore for tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	now     func() time.Time
	baseURL string
	// failDelete makes Delete fail for the listed keys.
	failDelete map[string]bool
}

type memoryObject struct {
	data      []byte
	size      int64
	createdAt time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:    make(map[string]memoryObject),
		now:        time.Now,
		baseURL:    "memory://",
		failDelete: make(map[string]bool),
	}
}

// Seed records an object of size bytes created at createdAt without
// allocating its content.
func (m *MemoryStore) Seed(key string, size int64, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{size: size, createdAt: createdAt}
}

// FailDelete makes subsequent deletes of key fail.
func (m *MemoryStore) FailDelete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDelete[key] = true
}

// List implements ObjectStore. Objects are returned oldest first.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]types.StorageObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.StorageObject, 0, len(m.objects))
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) || isPlaceholder(key) {
			continue
		}
		out = append(out, types.StorageObject{
			Key:       key,
			SizeBytes: obj.size,
			CreatedAt: obj.createdAt,
		})
	}
	sortOldestFirst(out)
	return out, nil
}

// Put implements ObjectStore.
func (m *MemoryStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	createdAt := m.now()
	if existing, ok := m.objects[key]; ok {
		createdAt = existing.createdAt
	}
	m.objects[key] = memoryObject{data: slices.Clone(data), size: int64(len(data)), createdAt: createdAt}
	return nil
}

// Delete implements ObjectStore.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete[key] {
		return Wrap("delete", key, &StatusError{Code: http.StatusInternalServerError, Body: "injected failure"})
	}
	if _, ok := m.objects[key]; !ok {
		return Wrap("delete", key, &StatusError{Code: http.StatusNotFound, Body: "object not found"})
	}
	delete(m.objects, key)
	return nil
}

// PublicURL implements ObjectStore.
func (m *MemoryStore) PublicURL(key string) string {
	return m.baseURL + key
}

// Backend implements ObjectStore.
func (m *MemoryStore) Backend() string { return "memory" }

// Get returns a copy of the object's bytes.
func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(obj.data), true
}

// Verify MemoryStore implements ObjectStore.
var _ ObjectStore = (*MemoryStore)(nil)
