// Package info implements dfu.InfoStore over an in-memory map, the way
// the original firmware keeps its persistent "bootloader info" page in
// flash. The pointer-aliasing contract (EntryGet returns a view into the
// stored bytes, not a copy) is grounded in core/contact/store.go's
// GetByPubKey/SearchByHash pattern.
package info

import (
	"sync"

	"github.com/kabili207/meshdfu-go/core/dfu"
)

var _ dfu.InfoStore = (*Store)(nil)

// Store holds one persistent entry per dfu.InfoType.
type Store struct {
	mu      sync.RWMutex
	entries map[dfu.InfoType][]byte
}

// New creates an empty Store. Seed(kind, data) before Bootloader.Init if
// the entries aren't populated by some other provisioning step first.
func New() *Store {
	return &Store{entries: map[dfu.InfoType][]byte{}}
}

// Seed installs an entry directly, for provisioning a node before its
// first boot (flags, version, segment descriptors, public key).
func (s *Store) Seed(kind dfu.InfoType, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[kind] = append([]byte(nil), data...)
}

// EntryGet returns a view into the stored bytes for kind. The returned
// InfoEntry.Bytes aliases the Store's own backing array; callers must not
// mutate it in place.
func (s *Store) EntryGet(kind dfu.InfoType) (dfu.InfoEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.entries[kind]
	if !ok {
		return dfu.InfoEntry{}, false
	}
	return dfu.InfoEntry{Bytes: b}, true
}

// EntryPut stores data under kind, replacing any prior value, and
// returns a view into the newly-stored bytes.
func (s *Store) EntryPut(kind dfu.InfoType, data []byte) (dfu.InfoEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := append([]byte(nil), data...)
	s.entries[kind] = stored
	return dfu.InfoEntry{Bytes: stored}, true
}
