// Package store persists the set of known peripheral identifiers.
//
// The format is private to each implementation; callers only rely on the
// identifier set surviving a Save/Load round trip. A store that has never been
// written loads as an empty set.
package store

import (
	"sort"
	"sync"

	"github.com/srg/blecentral/internal/device"
)

// Store is the persistence boundary used by the coordinator
type Store interface {
	Save(identifiers []string) error
	Load() ([]string, error)
}

// NormalizeIdentifiers canonicalizes, deduplicates and sorts identifiers so a
// slice can be treated as a set. The result is never nil.
func NormalizeIdentifiers(identifiers []string) []string {
	seen := make(map[string]struct{}, len(identifiers))
	out := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		id = device.NormalizeIdentifier(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MemoryStore keeps identifiers in process memory
type MemoryStore struct {
	mu  sync.Mutex
	ids []string
}

// NewMemoryStore returns a store pre-populated with identifiers
func NewMemoryStore(identifiers ...string) *MemoryStore {
	return &MemoryStore{ids: NormalizeIdentifiers(identifiers)}
}

func (m *MemoryStore) Save(identifiers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = NormalizeIdentifiers(identifiers)
	return nil
}

func (m *MemoryStore) Load() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.ids))
	copy(out, m.ids)
	return out, nil
}
