package blobstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local runs.
// ETags are per-key version counters.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]memObject
	version int64
	hidden  map[string]bool
	hideNew bool
}

type memObject struct {
	data []byte
	etag string
}

var (
	_ Store     = (*MemoryStore)(nil)
	_ Presigner = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memObject),
		hidden:  make(map[string]bool),
	}
}

// HideNewKeys makes keys created from now on invisible to List until
// Settle is called, emulating listing lag.
func (m *MemoryStore) HideNewKeys(hide bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hideNew = hide
}

// Settle makes every stored key visible to List.
func (m *MemoryStore) Settle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden = make(map[string]bool)
}

func (m *MemoryStore) List(_ context.Context, prefix string, _ int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) && !m.hidden[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return &Object{Data: data, ETag: obj.etag}, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, opts ...PutOption) error {
	o := applyPutOptions(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.objects[key]
	if o.IfMatch != "" && (!exists || existing.etag != o.IfMatch) {
		return fmt.Errorf("%s: %w", key, ErrPreconditionFailed)
	}

	m.version++
	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[key] = memObject{data: stored, etag: `"` + strconv.FormatInt(m.version, 10) + `"`}
	if !exists && m.hideNew {
		m.hidden[key] = true
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	delete(m.objects, key)
	delete(m.hidden, key)
	return nil
}

// PresignGet returns a fake URL embedding the key and expiry.
func (m *MemoryStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	_, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return fmt.Sprintf("memory://%s?expires=%d", key, int(ttl.Seconds())), nil
}
