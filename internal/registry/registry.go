// Package registry holds the peripherals known to a coordinator.
//
// Records are stored in an arena keyed by identifier that preserves insertion
// order. Index-based accessors are computed from that order on demand, so an
// index is a view and is only meaningful until the next mutation.
//
// A Registry is not safe for concurrent use; its owner serializes access.
package registry

import (
	"fmt"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blecentral/internal/device"
)

// Record is one physical peripheral known to the application
type Record struct {
	Identifier string                 `json:"identifier" yaml:"identifier"`
	Name       string                 `json:"name,omitempty" yaml:"name,omitempty"`
	State      device.ConnectionState `json:"state" yaml:"state"`
	Handle     device.Handle          `json:"-" yaml:"-"`
	RSSI       int                    `json:"rssi,omitempty" yaml:"rssi,omitempty"`
	LastSeen   time.Time              `json:"last_seen,omitempty" yaml:"last_seen,omitempty"`
}

// Bound reports whether the record holds a native handle
func (r Record) Bound() bool {
	return r.Handle != nil
}

// DisplayName returns the name, falling back to the identifier
func (r Record) DisplayName() string {
	if r.Name == "" {
		return r.Identifier
	}
	return r.Name
}

// Registry is an insertion-ordered collection of records with unique identifiers
type Registry struct {
	records *orderedmap.OrderedMap[string, *Record]
}

// New returns an empty registry
func New() *Registry {
	return &Registry{
		records: orderedmap.New[string, *Record](),
	}
}

// Count returns the number of records
func (r *Registry) Count() int {
	return r.records.Len()
}

// Add appends rec. It fails with a DuplicateError if the identifier exists.
func (r *Registry) Add(rec Record) error {
	if _, exists := r.records.Get(rec.Identifier); exists {
		return &device.DuplicateError{Identifier: rec.Identifier}
	}
	stored := rec
	r.records.Set(rec.Identifier, &stored)
	return nil
}

// At returns a copy of the record at index
func (r *Registry) At(index int) (Record, error) {
	pair := r.pairAt(index)
	if pair == nil {
		return Record{}, &device.IndexError{Index: index, Count: r.Count()}
	}
	return *pair.Value, nil
}

// IndexOf returns the current index of identifier
func (r *Registry) IndexOf(identifier string) (int, bool) {
	i := 0
	for pair := r.records.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == identifier {
			return i, true
		}
		i++
	}
	return -1, false
}

// FindByIdentifier returns a copy of the record and its index
func (r *Registry) FindByIdentifier(identifier string) (Record, int, bool) {
	rec, ok := r.records.Get(identifier)
	if !ok {
		return Record{}, -1, false
	}
	index, _ := r.IndexOf(identifier)
	return *rec, index, true
}

// FindByHandle returns the record bound to h and its index.
// It agrees with FindByIdentifier for the same peripheral.
func (r *Registry) FindByHandle(h device.Handle) (Record, int, bool) {
	if h == nil {
		return Record{}, -1, false
	}
	i := 0
	for pair := r.records.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Handle == h {
			return *pair.Value, i, true
		}
		i++
	}
	return Record{}, -1, false
}

// Update applies fn to the stored record. The identifier cannot be changed.
func (r *Registry) Update(identifier string, fn func(*Record)) (Record, error) {
	rec, ok := r.records.Get(identifier)
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", device.ErrUnknownPeripheral, identifier)
	}
	fn(rec)
	rec.Identifier = identifier
	return *rec, nil
}

// RemoveAt removes the record at index; later records shift down by one.
// An out of range index leaves the registry unchanged.
func (r *Registry) RemoveAt(index int) (Record, error) {
	pair := r.pairAt(index)
	if pair == nil {
		return Record{}, &device.IndexError{Index: index, Count: r.Count()}
	}
	rec := *pair.Value
	r.records.Delete(pair.Key)
	return rec, nil
}

// Remove removes every record matching rec's identifier and returns how many were removed
func (r *Registry) Remove(rec Record) int {
	if _, ok := r.records.Delete(rec.Identifier); ok {
		return 1
	}
	return 0
}

// Clear drops all records
func (r *Registry) Clear() {
	r.records = orderedmap.New[string, *Record]()
}

// Identifiers returns identifiers in index order
func (r *Registry) Identifiers() []string {
	ids := make([]string, 0, r.Count())
	for pair := r.records.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}

// Records returns copies of all records in index order
func (r *Registry) Records() []Record {
	out := make([]Record, 0, r.Count())
	for pair := r.records.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, *pair.Value)
	}
	return out
}

func (r *Registry) pairAt(index int) *orderedmap.Pair[string, *Record] {
	if index < 0 || index >= r.records.Len() {
		return nil
	}
	pair := r.records.Oldest()
	for i := 0; i < index; i++ {
		pair = pair.Next()
	}
	return pair
}
