package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/timvw/pane-relay/internal/model"
	"github.com/timvw/pane-relay/internal/validate"
)

// SettingsStore persists model.Settings as an indented JSON file.
type SettingsStore struct {
	path   string
	logger *slog.Logger

	// Defaults is returned when nothing has been stored yet.
	Defaults model.Settings

	mu  sync.Mutex
	mem *model.Settings // used when path is empty
}

// NewSettingsStore returns a store backed by path. An empty path keeps
// settings in memory only.
func NewSettingsStore(path string, logger *slog.Logger) *SettingsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsStore{path: path, logger: logger, Defaults: model.DefaultSettings()}
}

// Load returns the stored settings. A missing or unreadable file yields the
// defaults.
func (s *SettingsStore) Load() model.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *SettingsStore) loadLocked() model.Settings {
	def := s.Defaults
	if s.path == "" {
		if s.mem != nil {
			return *s.mem
		}
		return def
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("reading settings, using defaults", "path", s.path, "error", err)
		}
		return def
	}
	v := def
	if err := json.Unmarshal(data, &v); err != nil {
		s.logger.Warn("parsing settings, using defaults", "path", s.path, "error", err)
		return def
	}
	if v.SessionName == "" {
		v.SessionName = def.SessionName
	}
	return v
}

// Save validates and writes v.
func (s *SettingsStore) Save(v model.Settings) error {
	if err := validate.CheckName(v.SessionName); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		s.mem = &v
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
