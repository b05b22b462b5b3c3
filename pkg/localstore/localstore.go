// Package localstore is the durable per-device progress cache. It plays
// the role the browser's localStorage plays for the progress script: a
// small string key-value store holding the serialized progress map, the
// last-known anonymous user id and the dashboard snapshot. It is the
// source of truth whenever no identity provider is reachable.
package localstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cdcmanual/progresskit/pkg/models"
)

// Storage keys. These match the keys the web client persists under so a
// cache written by either side stays readable.
const (
	ProgressKey  = "cdc-progress-store"
	AnonUserKey  = "cdc-progress-anon"
	DashboardKey = "lastProgressDocs"
)

// KV is a minimal string key-value store. Implementations must tolerate
// concurrent use.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// Memory is an in-process KV, used in tests and as the fallback when no
// durable location is configured.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemory creates an empty in-process KV.
func NewMemory() *Memory {
	return &Memory{m: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[key]
	return v, ok
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, key)
	return nil
}

// Dir is a KV backed by one file per key inside a directory.
type Dir struct {
	mu   sync.Mutex
	path string
}

// NewDir creates the directory if needed and returns a KV over it.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return &Dir{path: path}, nil
}

func (d *Dir) file(key string) string {
	return filepath.Join(d.path, key+".json")
}

func (d *Dir) Get(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := os.ReadFile(d.file(key))
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (d *Dir) Set(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return os.WriteFile(d.file(key), []byte(value), 0o644)
}

func (d *Dir) Delete(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := os.Remove(d.file(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Store reads and writes the tracker's persisted local state. Storage
// failures are logged and swallowed: a denied or corrupt cache must never
// break progress tracking.
type Store struct {
	kv  KV
	log zerolog.Logger
}

// New wraps a KV into a progress cache.
func New(kv KV, log zerolog.Logger) *Store {
	return &Store{kv: kv, log: log}
}

// ReadProgress loads all cached entries. Malformed JSON is treated as an
// empty cache.
func (s *Store) ReadProgress() map[string]models.ProgressEntry {
	raw, ok := s.kv.Get(ProgressKey)
	if !ok || raw == "" {
		return map[string]models.ProgressEntry{}
	}
	entries := map[string]models.ProgressEntry{}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.log.Warn().Err(err).Msg("unable to parse stored progress, starting empty")
		return map[string]models.ProgressEntry{}
	}
	for slug, entry := range entries {
		entry.JourneySlug = slug
		entry.Percent = models.ClampPercent(entry.Percent)
		entries[slug] = entry
	}
	return entries
}

// WriteProgress mirrors the in-memory progress map into the cache.
func (s *Store) WriteProgress(entries map[string]models.ProgressEntry) {
	out := make(map[string]models.ProgressEntry, len(entries))
	for slug, entry := range entries {
		entry.JourneySlug = "" // keyed by slug, no need to repeat it
		out[slug] = entry
	}
	data, err := json.Marshal(out)
	if err != nil {
		s.log.Warn().Err(err).Msg("unable to serialize progress cache")
		return
	}
	if err := s.kv.Set(ProgressKey, string(data)); err != nil {
		s.log.Warn().Err(err).Msg("unable to write progress cache")
	}
}

// AnonUserID returns the recorded anonymous user id, or "".
func (s *Store) AnonUserID() string {
	v, _ := s.kv.Get(AnonUserKey)
	return v
}

// SetAnonUserID records the anonymous user id used as the recovery anchor
// for identity migration. An empty id clears the record.
func (s *Store) SetAnonUserID(userID string) {
	var err error
	if userID == "" {
		err = s.kv.Delete(AnonUserKey)
	} else {
		err = s.kv.Set(AnonUserKey, userID)
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("unable to update anonymous user id")
	}
}

// WriteDashboard persists the dashboard snapshot derived from the last
// remote hydrate. An empty slice clears it.
func (s *Store) WriteDashboard(rows []models.DashboardRow) {
	if rows == nil {
		rows = []models.DashboardRow{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		s.log.Warn().Err(err).Msg("unable to serialize dashboard snapshot")
		return
	}
	if err := s.kv.Set(DashboardKey, string(data)); err != nil {
		s.log.Warn().Err(err).Msg("unable to write dashboard snapshot")
	}
}

// ReadDashboard loads the last dashboard snapshot; malformed or missing
// data yields an empty slice.
func (s *Store) ReadDashboard() []models.DashboardRow {
	raw, ok := s.kv.Get(DashboardKey)
	if !ok || raw == "" {
		return []models.DashboardRow{}
	}
	var rows []models.DashboardRow
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		s.log.Warn().Err(err).Msg("unable to parse dashboard snapshot, starting empty")
		return []models.DashboardRow{}
	}
	return rows
}
