// Package storage provides the local file store behind the diagram and rules
// providers. Files already present in the directory at startup are indexed,
// so pre-provisioned diagrams appear without an upload surface.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/synoptic-visualizer/backend/internal/models"
)

// Store defines the interface for file storage.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	SaveBytes(name string, data []byte) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	GetByName(name string) (*models.FileInfo, error)
	ReadByName(name string) ([]byte, error)
	List(limit int) ([]*models.FileInfo, error)
	GetFilePath(id string) (string, error)
	Delete(id string) error
}

// LocalStore implements Store on the local filesystem. Files keep their plain
// names on disk so the directory stays browsable by operators.
type LocalStore struct {
	mu    sync.RWMutex
	dir   string
	files map[string]*models.FileInfo // id -> info
	names map[string]string           // name -> id
}

// NewLocalStore creates the store and indexes any existing files in dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	s := &LocalStore{
		dir:   dir,
		files: make(map[string]*models.FileInfo),
		names: make(map[string]string),
	}
	if err := s.indexExisting(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) indexExisting() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading storage directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		id := uuid.New().String()
		s.files[id] = &models.FileInfo{
			ID:      id,
			Name:    entry.Name(),
			Size:    info.Size(),
			AddedAt: info.ModTime(),
		}
		s.names[entry.Name()] = id
	}
	if len(s.files) > 0 {
		fmt.Printf("[Storage] indexed %d existing files in %s\n", len(s.files), s.dir)
	}
	return nil
}

// Save stores a file under its plain name, replacing any previous file with
// the same name.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return s.SaveBytes(name, data)
}

// SaveBytes stores raw bytes under the given name.
func (s *LocalStore) SaveBytes(name string, data []byte) (*models.FileInfo, error) {
	name = filepath.Base(name)
	if name == "" || name == "." {
		return nil, fmt.Errorf("invalid file name")
	}

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("writing file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, existed := s.names[name]
	if !existed {
		id = uuid.New().String()
		s.names[name] = id
	}
	info := &models.FileInfo{
		ID:      id,
		Name:    name,
		Size:    int64(len(data)),
		AddedAt: time.Now(),
	}
	s.files[id] = info
	return info, nil
}

// Get returns metadata for a stored file by id.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", id)
	}
	return info, nil
}

// GetByName returns metadata for a stored file by its plain name.
func (s *LocalStore) GetByName(name string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.names[filepath.Base(name)]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", name)
	}
	return s.files[id], nil
}

// ReadByName reads a stored file's contents by its plain name. This is the
// fetch-by-name provider the engine loads diagrams through.
func (s *LocalStore) ReadByName(name string) ([]byte, error) {
	name = filepath.Base(name)
	if strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("invalid file name: %s", name)
	}

	s.mu.RLock()
	_, ok := s.names[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("file not found: %s", name)
	}
	return os.ReadFile(filepath.Join(s.dir, name))
}

// List returns stored files, newest first.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
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

// GetFilePath returns the on-disk path for a stored file.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.files[id]
	if !ok {
		return "", fmt.Errorf("file not found: %s", id)
	}
	return filepath.Join(s.dir, info.Name), nil
}

// Delete removes a stored file.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("file not found: %s", id)
	}
	if err := os.Remove(filepath.Join(s.dir, info.Name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file: %w", err)
	}
	delete(s.files, id)
	delete(s.names, info.Name)
	return nil
}
