package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lagan-protocol/lagan-go/pkg/nt"
)

// ErrUnassigned indicates a write to a topic id the store has no
// assignment for.
var ErrUnassigned = errors.New("topic id not assigned in store")

// WriteHook observes accepted writes. It runs synchronously under the
// topic's lock, once per accepted write, in per-topic application
// order.
type WriteHook func(id int32, value nt.Value, origin string)

// Entry is a snapshot of one stored value.
type Entry struct {
	ID     int32
	Value  nt.Value
	Origin string
}

// slot holds one topic's value. Its mutex serializes writes to that
// topic without blocking other topics. The epoch pins the slot to one
// registry announcement so a late Drop for a previous topic on the
// same id cannot destroy it.
type slot struct {
	mu       sync.Mutex
	typ      nt.ValueType
	epoch    uint64
	value    nt.Value
	origin   string
	hasValue bool
}

// Store maps topic ids to their current values. All methods are safe
// for concurrent use.
type Store struct {
	mu    sync.RWMutex
	slots map[int32]*slot
	hook  WriteHook
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{slots: make(map[int32]*slot)}
}

// SetWriteHook installs the accepted-write hook. Must be called before
// the store is shared.
func (s *Store) SetWriteHook(hook WriteHook) {
	s.hook = hook
}

// Assign creates the slot for a newly announced topic and fixes its
// type. A slot left behind by an older announcement of the same id is
// replaced, discarding its value; assigning the same or a newer epoch
// again is a no-op.
func (s *Store) Assign(id int32, typ nt.ValueType, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[id]; ok && sl.epoch >= epoch {
		return
	}
	s.slots[id] = &slot{typ: typ, epoch: epoch}
}

// Drop removes a topic's slot when the topic is unannounced. The
// epoch must match the announcement being retracted: a drop arriving
// after the id was recycled by a newer announcement leaves the new
// slot intact.
func (s *Store) Drop(id int32, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.slots[id]; ok && sl.epoch <= epoch {
		delete(s.slots, id)
	}
}

// Clear drops every slot (v3 clear-all-entries).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = make(map[int32]*slot)
}

// Write applies a value from origin to the topic id under the conflict
// resolution rule. The hook fires exactly once per accepted write,
// before Write returns.
func (s *Store) Write(id int32, value nt.Value, origin string) error {
	s.mu.RLock()
	sl, ok := s.slots[id]
	hook := s.hook
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnassigned, id)
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if value.Type != sl.typ {
		return fmt.Errorf("%w: topic is %s, write is %s", nt.ErrTypeConflict, sl.typ, value.Type)
	}

	if sl.hasValue && origin != sl.origin && value.Time <= sl.value.Time {
		return fmt.Errorf("%w: timestamp %d not newer than %d", nt.ErrRejected, value.Time, sl.value.Time)
	}

	sl.value = value
	sl.origin = origin
	sl.hasValue = true

	if hook != nil {
		hook(id, value, origin)
	}
	return nil
}

// Read returns the current value for a topic id.
func (s *Store) Read(id int32) (nt.Value, bool) {
	s.mu.RLock()
	sl, ok := s.slots[id]
	s.mu.RUnlock()
	if !ok {
		return nt.Value{}, false
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.hasValue {
		return nt.Value{}, false
	}
	return sl.value, true
}

// Snapshot returns every stored value ordered by id, for the handshake
// snapshot sent to a new session.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	slots := make(map[int32]*slot, len(s.slots))
	for id, sl := range s.slots {
		slots[id] = sl
	}
	s.mu.RUnlock()

	entries := make([]Entry, 0, len(slots))
	for id, sl := range slots {
		sl.mu.Lock()
		if sl.hasValue {
			entries = append(entries, Entry{ID: id, Value: sl.value, Origin: sl.origin})
		}
		sl.mu.Unlock()
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}
