// mock_storage.go - Mock storage implementation for testing
package testutil

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/synoptic-visualizer/backend/internal/models"
)

// MockStorage implements storage.Store in memory for handler tests.
type MockStorage struct {
	mu       sync.RWMutex
	files    map[string]*models.FileInfo
	fileData map[string][]byte // id -> content
	names    map[string]string // name -> id
	nextID   int
}

// NewMockStorage creates an empty in-memory store.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		files:    make(map[string]*models.FileInfo),
		fileData: make(map[string][]byte),
		names:    make(map[string]string),
	}
}

func (m *MockStorage) Save(name string, r io.Reader) (*models.FileInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return m.SaveBytes(name, data)
}

func (m *MockStorage) SaveBytes(name string, data []byte) (*models.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.names[name]
	if !ok {
		m.nextID++
		id = fmt.Sprintf("mock-%d", m.nextID)
		m.names[name] = id
	}
	info := &models.FileInfo{
		ID:      id,
		Name:    name,
		Size:    int64(len(data)),
		AddedAt: time.Now(),
	}
	m.files[id] = info
	m.fileData[id] = data
	return info, nil
}

func (m *MockStorage) Get(id string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", id)
	}
	return info, nil
}

func (m *MockStorage) GetByName(name string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.names[name]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", name)
	}
	return m.files[id], nil
}

func (m *MockStorage) ReadByName(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.names[name]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", name)
	}
	return m.fileData[id], nil
}

func (m *MockStorage) List(limit int) ([]*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.FileInfo, 0, len(m.files))
	for _, info := range m.files {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AddedAt.After(out[j].AddedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStorage) GetFilePath(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.files[id]
	if !ok {
		return "", fmt.Errorf("file not found: %s", id)
	}
	return "/mock/" + info.Name, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.files[id]
	if !ok {
		return fmt.Errorf("file not found: %s", id)
	}
	delete(m.files, id)
	delete(m.fileData, id)
	delete(m.names, info.Name)
	return nil
}
