package roku

import (
	"log"
	"sync"

	"orei-control/internal/storage"
)

// Mappings assigns a Roku player to a multiviewer HDMI input, keyed by input number.
type Mappings map[string]Device

// MappingStore keeps Mappings in a JSON file.
type MappingStore struct {
	mu     sync.Mutex
	path   string
	logger *log.Logger
}

func NewMappingStore(path string, logger *log.Logger) *MappingStore {
	if logger == nil {
		logger = log.Default()
	}
	return &MappingStore{path: path, logger: logger}
}

// Load returns the saved mappings. A missing or unreadable file yields an empty set.
func (s *MappingStore) Load() Mappings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *MappingStore) loadLocked() Mappings {
	m := Mappings{}
	if err := storage.ReadJSON(s.path, &m); err != nil {
		return Mappings{}
	}
	return m
}

// Save replaces the saved mappings.
func (s *MappingStore) Save(m Mappings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == nil {
		m = Mappings{}
	}
	if err := storage.WriteJSON(s.path, m); err != nil {
		s.logger.Printf("Failed to save Roku mappings to %s: %v", s.path, err)
		return err
	}
	s.logger.Printf("Saved %d Roku mapping(s) to %s", len(m), s.path)
	return nil
}

// Lookup returns the player mapped to an HDMI input.
func (s *MappingStore) Lookup(hdmi string) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.loadLocked()[hdmi]
	return dev, ok
}
