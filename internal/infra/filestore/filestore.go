// Package filestore persists state as JSON files for single-node deployments.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"waste_reminder_bot/internal/domain/address"
	"waste_reminder_bot/internal/domain/pickup"

	"github.com/sirupsen/logrus"
)

const (
	TmpSuffix       = ".tmp"
	BackupSuffix    = ".bak"
	FilePermissions = 0o644
	formatVersion   = 1
)

type stateFile struct {
	Version   int                     `json:"version"`
	SavedAt   time.Time               `json:"saved_at"`
	Locations []*pickup.LocationState `json:"locations"`
}

type indexFile struct {
	Version int              `json:"version"`
	BuiltAt time.Time        `json:"built_at"`
	Records []address.Record `json:"records"`
}

// Store keeps all locations in one JSON file and the address index in another.
// Every save rewrites the file through a temp file and a rename, keeping the
// previous version as a backup.
type Store struct {
	statePath string
	indexPath string
	logger    *logrus.Entry

	mu        sync.Mutex
	locations map[string]*pickup.LocationState
	loaded    bool
}

func New(statePath, indexPath string, logger *logrus.Entry) (*Store, error) {
	for _, p := range []string{statePath, indexPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
	}
	return &Store{
		statePath: statePath,
		indexPath: indexPath,
		logger:    logger.WithField("component", "filestore"),
		locations: make(map[string]*pickup.LocationState),
	}, nil
}

// LoadLocations reads the state file. A missing file is an empty store.
func (s *Store) LoadLocations(_ context.Context) ([]*pickup.LocationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sf stateFile
	found, err := s.readJSON(s.statePath, &sf)
	if err != nil {
		return nil, err
	}
	s.locations = make(map[string]*pickup.LocationState, len(sf.Locations))
	for _, st := range sf.Locations {
		s.locations[st.LocationID] = st
	}
	s.loaded = true
	if !found {
		s.logger.WithField("path", s.statePath).Info("No state file yet, starting empty")
	}
	out := make([]*pickup.LocationState, 0, len(s.locations))
	for _, st := range s.locations {
		out = append(out, st.Clone())
	}
	return out, nil
}

func (s *Store) SaveLocation(_ context.Context, state *pickup.LocationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	prev, existed := s.locations[state.LocationID]
	s.locations[state.LocationID] = state.Clone()
	if err := s.flush(); err != nil {
		if existed {
			s.locations[state.LocationID] = prev
		} else {
			delete(s.locations, state.LocationID)
		}
		return err
	}
	return nil
}

func (s *Store) DeleteLocation(_ context.Context, locationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	prev, existed := s.locations[locationID]
	if !existed {
		return nil
	}
	delete(s.locations, locationID)
	if err := s.flush(); err != nil {
		s.locations[locationID] = prev
		return err
	}
	return nil
}

// LoadIndex returns the stored address index, or nil if there is none.
func (s *Store) LoadIndex(_ context.Context) (*address.Index, error) {
	var f indexFile
	found, err := s.readJSON(s.indexPath, &f)
	if err != nil || !found {
		return nil, err
	}
	return address.NewIndex(f.Records, f.BuiltAt), nil
}

func (s *Store) SaveIndex(_ context.Context, idx *address.Index) error {
	return writeJSON(s.indexPath, indexFile{Version: formatVersion, BuiltAt: idx.BuiltAt, Records: idx.Records}, s.logger)
}

// ensureLoaded makes sure a save never overwrites a file that was not read.
func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	var sf stateFile
	if _, err := s.readJSON(s.statePath, &sf); err != nil {
		return err
	}
	for _, st := range sf.Locations {
		s.locations[st.LocationID] = st
	}
	s.loaded = true
	return nil
}

func (s *Store) flush() error {
	sf := stateFile{Version: formatVersion, SavedAt: time.Now().UTC()}
	for _, st := range s.locations {
		sf.Locations = append(sf.Locations, st)
	}
	sort.Slice(sf.Locations, func(i, j int) bool { return sf.Locations[i].LocationID < sf.Locations[j].LocationID })
	return writeJSON(s.statePath, sf, s.logger)
}

// readJSON decodes path into v. If the main file is missing but a backup
// exists (a crash between the two renames of writeJSON), the backup is used.
func (s *Store) readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data, err = os.ReadFile(path + BackupSuffix)
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		if err == nil {
			s.logger.WithField("path", path).Warn("Main file missing, loading backup")
		}
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return true, nil
}

func writeJSON(path string, v any, logger *logrus.Entry) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	tmpFile := path + TmpSuffix
	f, err := os.OpenFile(tmpFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmpFile, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", tmpFile, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpFile, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpFile, err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+BackupSuffix); err != nil {
			logger.WithError(err).Warn("Failed to create backup")
		}
	}
	if err := os.Rename(tmpFile, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
