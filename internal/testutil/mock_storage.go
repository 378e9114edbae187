// mock_storage.go - In-memory blob store for testing
package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Kiwi1009/interview-to-quote/internal/storage"
)

var _ storage.Store = (*MockStorage)(nil)

// MockStorage implements storage.Store in memory. Keys listed in FailPut
// make Put fail, to exercise error paths.
type MockStorage struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	FailPut map[string]bool
}

// NewMockStorage creates an empty mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		blobs:   make(map[string][]byte),
		FailPut: make(map[string]bool),
	}
}

func (m *MockStorage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (int64, error) {
	m.mu.RLock()
	fail := m.FailPut[key]
	m.mu.RUnlock()
	if fail {
		return 0, errors.New("mock put failure")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.blobs[key] = data
	m.mu.Unlock()
	return int64(len(data)), nil
}

func (m *MockStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Len returns the number of stored blobs.
func (m *MockStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Bytes returns a copy of a stored blob.
func (m *MockStorage) Bytes(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}
