package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

const defaultTable = "_default"

type record struct {
	ID string `json:"id"`
}

// FileStore keeps delivered IDs in a JSON document using the TinyDB layout:
//
//	{"_default": {"1": {"id": "..."}, "2": {"id": "..."}}}
//
// Tables other than _default are carried through untouched.
type FileStore struct {
	mutex   sync.Mutex
	path    string
	tables  map[string]map[string]json.RawMessage
	ids     map[string]struct{}
	nextDoc int
	logger  zerolog.Logger
}

// NewFileStore loads path, creating its directory if needed. A missing file
// starts an empty set; a file that cannot be decoded is an error.
func NewFileStore(path string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory %s: %w", filepath.Dir(path), err)
	}

	s := &FileStore{
		path:    path,
		tables:  map[string]map[string]json.RawMessage{},
		ids:     map[string]struct{}{},
		nextDoc: 1,
		logger:  logger.With().Str("component", "file_store").Logger(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Str("path", s.path).Msg("history file not found, starting empty")
			return nil
		}
		return fmt.Errorf("failed to read history file %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &s.tables); err != nil {
		return fmt.Errorf("failed to decode history file %s: %w", s.path, err)
	}

	for key, raw := range s.tables[defaultTable] {
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("failed to decode history document %s: %w", key, err)
		}
		s.ids[r.ID] = struct{}{}
		if n, err := strconv.Atoi(key); err == nil && n >= s.nextDoc {
			s.nextDoc = n + 1
		}
	}

	s.logger.Info().Str("path", s.path).Int("records", len(s.ids)).Msg("loaded delivery history")
	return nil
}

func (s *FileStore) Contains(_ context.Context, id string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, ok := s.ids[id]
	return ok, nil
}

func (s *FileStore) Insert(_ context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.ids[id]; ok {
		return nil
	}

	raw, err := json.Marshal(record{ID: id})
	if err != nil {
		return fmt.Errorf("failed to encode history record: %w", err)
	}
	if s.tables[defaultTable] == nil {
		s.tables[defaultTable] = map[string]json.RawMessage{}
	}
	key := strconv.Itoa(s.nextDoc)
	s.tables[defaultTable][key] = raw

	if err := s.save(); err != nil {
		delete(s.tables[defaultTable], key)
		return err
	}

	s.ids[id] = struct{}{}
	s.nextDoc++
	return nil
}

// save writes the whole document to a temp file and renames it into place.
func (s *FileStore) save() error {
	data, err := json.Marshal(s.tables)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp history file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp history file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace history file %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
