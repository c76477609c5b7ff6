package blob

import (
	"context"
	"sync"
)

// Object is a stored blob as seen by MemoryStore.
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStore keeps blobs in a map. It backs the `--memory` dry-run mode and tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]Object
	puts    int
	exists  int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

func (m *MemoryStore) Put(_ context.Context, bucket, path string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.objects[bucket+"/"+path] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, bucket, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists++
	_, ok := m.objects[bucket+"/"+path]
	return ok, nil
}

// Get returns the object stored under bucket/path.
func (m *MemoryStore) Get(bucket, path string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[bucket+"/"+path]
	return o, ok
}

// Puts reports how many Put calls were made.
func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}
