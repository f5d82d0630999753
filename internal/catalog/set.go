package catalog

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Set indexes every catalog belonging to one media set, so a restore or
// a "does this set already hold this chunk" check doesn't need to know
// which physical tape a digest landed on ahead of time.
type Set struct {
	mu    sync.RWMutex
	media map[uuid.UUID]*Catalog
}

// NewSet creates an empty media-set catalog index.
func NewSet() *Set {
	return &Set{media: make(map[uuid.UUID]*Catalog)}
}

// Append adds catalog to the set. Returns an error if a catalog for the
// same media UUID is already present.
func (s *Set) Append(c *Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.media[c.MediaID]; exists {
		return fmt.Errorf("catalog: media set catalog already contains media %s", c.MediaID)
	}
	s.media[c.MediaID] = c
	return nil
}

// Remove drops mediaID's catalog from the set.
func (s *Set) Remove(mediaID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.media, mediaID)
}

// ContainsChunk reports whether digest is registered on any media in the
// set.
func (s *Set) ContainsChunk(digest [32]byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.media {
		if c.ContainsChunk(digest) {
			return true
		}
	}
	return false
}

// ContainsSnapshot reports whether snapshot is registered on any media
// in the set.
func (s *Set) ContainsSnapshot(snapshot string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.media {
		if c.ContainsSnapshot(snapshot) {
			return true
		}
	}
	return false
}

// Catalog returns the catalog for mediaID, if present in the set.
func (s *Set) Catalog(mediaID uuid.UUID) (*Catalog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.media[mediaID]
	return c, ok
}
