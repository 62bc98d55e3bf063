package topic

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lagan-protocol/lagan-go/pkg/nt"
)

// Registry errors.
var (
	ErrNotFound    = errors.New("topic not found")
	ErrNotOwner    = errors.New("connection is not a publisher of this topic")
	ErrInvalidName = errors.New("invalid topic name")
)

// Info is an immutable snapshot of a topic. Sessions hold Infos, never
// the registry's internal records.
type Info struct {
	ID         int32
	Name       string
	Type       nt.ValueType
	Properties nt.Properties

	// Epoch distinguishes successive topics that reuse the same id.
	// It increases with every topic creation, registry-wide.
	Epoch uint64

	// Publishers is the set of connection ids currently announcing
	// the topic. Empty for a retained topic outliving its publishers.
	Publishers []string
}

// record is the registry's mutable topic state.
type record struct {
	id         int32
	name       string
	typ        nt.ValueType
	properties nt.Properties
	epoch      uint64
	publishers map[string]struct{}
}

func (r *record) snapshot() Info {
	pubs := make([]string, 0, len(r.publishers))
	for p := range r.publishers {
		pubs = append(pubs, p)
	}
	sort.Strings(pubs)
	return Info{
		ID:         r.id,
		Name:       r.name,
		Type:       r.typ,
		Properties: r.properties.Clone(),
		Epoch:      r.epoch,
		Publishers: pubs,
	}
}

// Registry is the canonical topic table for one engine instance. All
// methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byName    map[string]*record
	byID      map[int32]*record
	nextEpoch uint64
	watcher   Watcher
}

// Watcher receives registry change notifications. Callbacks run with
// the registry lock released, on the mutating goroutine, after the
// change is visible; use them to fan announcements out to sessions.
// Concurrent mutations can deliver callbacks out of commit order, so
// anything keyed by topic id must check Info.Epoch before acting.
type Watcher interface {
	TopicAnnounced(info Info)
	TopicUnannounced(info Info)
	TopicProperties(info Info, update nt.Properties)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*record),
		byID:   make(map[int32]*record),
	}
}

// SetWatcher installs the change watcher. Must be called before the
// registry is shared.
func (r *Registry) SetWatcher(w Watcher) {
	r.watcher = w
}

// Announce registers publisher's intent to write name with the given
// type. Returns the topic snapshot and whether the topic was created by
// this call. Announcing an existing name with a different type fails
// with nt.ErrTypeConflict and changes nothing.
func (r *Registry) Announce(name string, typ nt.ValueType, props nt.Properties, publisher string) (Info, bool, error) {
	if name == "" {
		return Info{}, false, ErrInvalidName
	}

	r.mu.Lock()
	rec, exists := r.byName[name]
	if exists {
		if rec.typ != typ {
			existing := rec.typ
			r.mu.Unlock()
			return Info{}, false, fmt.Errorf("%w: topic %q is %s, announced as %s",
				nt.ErrTypeConflict, name, existing, typ)
		}
		rec.publishers[publisher] = struct{}{}
		info := rec.snapshot()
		r.mu.Unlock()
		return info, false, nil
	}

	r.nextEpoch++
	rec = &record{
		id:         r.smallestUnusedIDLocked(),
		name:       name,
		typ:        typ,
		properties: props.Clone(),
		epoch:      r.nextEpoch,
		publishers: map[string]struct{}{publisher: {}},
	}
	if rec.properties == nil {
		rec.properties = nt.Properties{}
	}
	r.byName[name] = rec
	r.byID[rec.id] = rec
	info := rec.snapshot()
	watcher := r.watcher
	r.mu.Unlock()

	if watcher != nil {
		watcher.TopicAnnounced(info)
	}
	return info, true, nil
}

// Unannounce retracts publisher from the topic. When the last publisher
// leaves a non-retained topic, the topic is removed and its id freed;
// the returned bool reports that removal.
func (r *Registry) Unannounce(id int32, publisher string) (bool, error) {
	r.mu.Lock()
	rec, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if _, ok := rec.publishers[publisher]; !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s on topic %q", ErrNotOwner, publisher, rec.name)
	}
	delete(rec.publishers, publisher)

	if len(rec.publishers) > 0 || rec.properties.Retained() || rec.properties.Persistent() {
		r.mu.Unlock()
		return false, nil
	}

	delete(r.byName, rec.name)
	delete(r.byID, rec.id)
	info := rec.snapshot()
	watcher := r.watcher
	r.mu.Unlock()

	if watcher != nil {
		watcher.TopicUnannounced(info)
	}
	return true, nil
}

// Remove force-deletes a topic regardless of publishers or retention.
// This is the v3 EntryDelete/ClearAllEntries semantic; v4 sessions
// retract publishers through Unannounce instead.
func (r *Registry) Remove(id int32) (Info, error) {
	r.mu.Lock()
	rec, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return Info{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	delete(r.byName, rec.name)
	delete(r.byID, rec.id)
	info := rec.snapshot()
	watcher := r.watcher
	r.mu.Unlock()

	if watcher != nil {
		watcher.TopicUnannounced(info)
	}
	return info, nil
}

// RemovePublisher drops every announcement held by a closing
// connection, returning the topics that ceased to exist.
func (r *Registry) RemovePublisher(publisher string) []Info {
	r.mu.Lock()
	var removed []Info
	for _, rec := range r.byName {
		if _, ok := rec.publishers[publisher]; !ok {
			continue
		}
		delete(rec.publishers, publisher)
		if len(rec.publishers) == 0 && !rec.properties.Retained() && !rec.properties.Persistent() {
			delete(r.byName, rec.name)
			delete(r.byID, rec.id)
			removed = append(removed, rec.snapshot())
		}
	}
	watcher := r.watcher
	r.mu.Unlock()

	if watcher != nil {
		for _, info := range removed {
			watcher.TopicUnannounced(info)
		}
	}
	return removed
}

// Lookup resolves a topic name.
func (r *Registry) Lookup(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byName[name]
	if !ok {
		return Info{}, false
	}
	return rec.snapshot(), true
}

// Get resolves a topic id.
func (r *Registry) Get(id int32) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return Info{}, false
	}
	return rec.snapshot(), true
}

// SetProperties applies a property patch (nil values delete keys) and
// returns the updated snapshot.
func (r *Registry) SetProperties(id int32, patch nt.Properties) (Info, error) {
	r.mu.Lock()
	rec, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return Info{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	rec.properties = rec.properties.Merge(patch)
	info := rec.snapshot()
	watcher := r.watcher
	r.mu.Unlock()

	if watcher != nil {
		watcher.TopicProperties(info, patch)
	}
	return info, nil
}

// List returns snapshots of every topic, ordered by id. Used for the
// handshake snapshot sent to a new session.
func (r *Registry) List() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.byID))
	for _, rec := range r.byID {
		infos = append(infos, rec.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Len returns the number of topics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// smallestUnusedIDLocked scans upward from zero. Registries are small
// (hundreds of topics) so the scan is not worth a free list.
func (r *Registry) smallestUnusedIDLocked() int32 {
	for id := int32(0); ; id++ {
		if _, used := r.byID[id]; !used {
			return id
		}
	}
}
