// Package store persists profiles: an index document with profile metadata
// and the active selection, plus one outbound document per profile. Parsed
// documents are kept in a small LRU cache.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/muhammadmuzzammil1998/jsonc"
	"github.com/samber/lo"

	"subforge/internal/fsutil"
	"subforge/internal/logger"
	"subforge/internal/model"
)

var ErrNotFound = errors.New("profile not found")

// CacheSize is how many parsed profile documents stay in memory.
const CacheSize = 2

type index struct {
	Profiles        []model.Profile `json:"profiles"`
	ActiveProfileID string          `json:"active_profile_id,omitempty"`
	ActiveNodeID    string          `json:"active_node_id,omitempty"`
}

type Store struct {
	dir string

	mu      sync.Mutex
	idx     index
	cache   map[string]*model.Config
	recency []string // least recent first
}

// Open loads the index under dir. A missing index is an empty store.
func Open(dir string) (*Store, error) {
	s := &Store{dir: dir, cache: map[string]*model.Config{}}
	if err := os.MkdirAll(s.profileDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	data, err := os.ReadFile(s.indexPath())
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	if err := decode(data, &s.idx); err != nil {
		return nil, fmt.Errorf("failed to parse index %s: %w", s.indexPath(), err)
	}
	for i := range s.idx.Profiles {
		p := &s.idx.Profiles[i]
		// A crash mid-update leaves "updating" behind.
		if p.UpdateStatus == "" || p.UpdateStatus == model.StatusUpdating {
			p.UpdateStatus = model.StatusIdle
		}
		if p.Type == "" {
			p.Type = model.ProfileImported
		}
	}
	return s, nil
}

func (s *Store) indexPath() string        { return filepath.Join(s.dir, "profiles.json") }
func (s *Store) profileDir() string       { return filepath.Join(s.dir, "profiles") }
func (s *Store) docPath(id string) string { return filepath.Join(s.profileDir(), id+".json") }

// Profiles returns a copy of all profile metadata in insertion order.
func (s *Store) Profiles() []model.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Profile(nil), s.idx.Profiles...)
}

func (s *Store) Profile(id string) (model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i < 0 {
		return model.Profile{}, ErrNotFound
	}
	return s.idx.Profiles[i], nil
}

func (s *Store) find(id string) int {
	_, i, ok := lo.FindIndexOf(s.idx.Profiles, func(p model.Profile) bool { return p.ID == id })
	if !ok {
		return -1
	}
	return i
}

// Add stores a new profile and its document. An empty ID gets a fresh uuid.
func (s *Store) Add(p model.Profile, cfg *model.Config) (model.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.UpdateStatus == "" {
		p.UpdateStatus = model.StatusIdle
	}
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(p.ID) >= 0 {
		return model.Profile{}, fmt.Errorf("profile %s already exists", p.ID)
	}
	if err := s.writeDoc(p.ID, cfg); err != nil {
		return model.Profile{}, err
	}
	next := s.idx.clone()
	next.Profiles = append(next.Profiles, p)
	if next.ActiveProfileID == "" {
		next.ActiveProfileID = p.ID
	}
	if err := s.commit(next); err != nil {
		s.evict(p.ID)
		os.Remove(s.docPath(p.ID))
		return model.Profile{}, err
	}
	return p, nil
}

// Update applies fn to the stored metadata of id and persists the index.
func (s *Store) Update(id string, fn func(*model.Profile)) (model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i < 0 {
		return model.Profile{}, ErrNotFound
	}
	next := s.idx.clone()
	fn(&next.Profiles[i])
	next.Profiles[i].ID = id
	if err := s.commit(next); err != nil {
		return s.idx.Profiles[i], err
	}
	return next.Profiles[i], nil
}

// SaveConfig replaces the document of an existing profile.
func (s *Store) SaveConfig(id string, cfg *model.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(id) < 0 {
		return ErrNotFound
	}
	return s.writeDoc(id, cfg)
}

// Delete removes the profile, its document and its cache entry. Deleting
// the active profile activates the first remaining one.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i < 0 {
		return ErrNotFound
	}
	next := s.idx.clone()
	next.Profiles = append(next.Profiles[:i], next.Profiles[i+1:]...)
	if next.ActiveProfileID == id {
		next.ActiveProfileID = ""
		next.ActiveNodeID = ""
		if len(next.Profiles) > 0 {
			next.ActiveProfileID = next.Profiles[0].ID
		}
	}
	if err := s.commit(next); err != nil {
		return err
	}
	s.evict(id)
	if err := os.Remove(s.docPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Log.Warnf("Failed to remove profile document %s: %v", id, err)
	}
	return nil
}

// Config returns a private copy of the profile's document.
func (s *Store) Config(id string) (*model.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(id) < 0 {
		return nil, ErrNotFound
	}
	if cfg, ok := s.cache[id]; ok {
		s.touch(id)
		return cfg.Clone(), nil
	}

	data, err := os.ReadFile(s.docPath(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", id, err)
	}
	cfg := &model.Config{}
	if err := decode(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", id, err)
	}
	s.put(id, cfg)
	return cfg.Clone(), nil
}

// Active returns the active profile and node ids (either may be empty).
func (s *Store) Active() (profileID, nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.ActiveProfileID, s.idx.ActiveNodeID
}

// SetActive switches the active profile and clears the node selection when
// the profile changes.
func (s *Store) SetActive(profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(profileID) < 0 {
		return ErrNotFound
	}
	next := s.idx.clone()
	if next.ActiveProfileID != profileID {
		next.ActiveNodeID = ""
	}
	next.ActiveProfileID = profileID
	return s.commit(next)
}

func (s *Store) SetActiveNode(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.idx.clone()
	next.ActiveNodeID = nodeID
	return s.commit(next)
}

// Cached lists the ids currently held in memory, least recent first.
func (s *Store) Cached() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recency...)
}

func (s *Store) writeDoc(id string, cfg *model.Config) error {
	if cfg == nil {
		cfg = &model.Config{}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profile %s: %w", id, err)
	}
	if err := fsutil.WriteFileAtomic(s.docPath(id), data, 0o644); err != nil {
		logger.Log.Errorf("❌ Failed to write profile %s: %v", id, err)
		return err
	}
	s.put(id, cfg.Clone())
	return nil
}

func (idx index) clone() index {
	idx.Profiles = append([]model.Profile(nil), idx.Profiles...)
	return idx
}

// commit persists next and only then makes it the in-memory index, so a
// failed write leaves the previous state in place.
func (s *Store) commit(next index) error {
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.indexPath(), data, 0o644); err != nil {
		logger.Log.Errorf("❌ Failed to write profile index: %v", err)
		return err
	}
	s.idx = next
	return nil
}

// put inserts or refreshes id and evicts the least recent other entries.
func (s *Store) put(id string, cfg *model.Config) {
	s.cache[id] = cfg
	s.touch(id)
	for len(s.recency) > CacheSize {
		victim, ok := lo.Find(s.recency, func(k string) bool { return k != id })
		if !ok {
			break
		}
		s.evict(victim)
	}
}

func (s *Store) touch(id string) {
	s.recency = append(lo.Without(s.recency, id), id)
}

func (s *Store) evict(id string) {
	delete(s.cache, id)
	s.recency = lo.Without(s.recency, id)
}

// decode tolerates comments left by hand edits.
func decode(data []byte, v any) error {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if err := json.Unmarshal(data, v); err == nil {
		return nil
	}
	return json.Unmarshal(jsonc.ToJSON(data), v)
}
