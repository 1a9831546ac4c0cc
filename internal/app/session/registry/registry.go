// Package registry holds the guild to playback ownership map.
package registry

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned when a guild has no entry.
var ErrNotFound = errors.New("guild not registered")

// Registry maps guild IDs to their single playback entry. Creation and removal
// are the only mutations.
type Registry[V comparable] struct {
	mu       sync.RWMutex
	entries  map[string]V
	creating map[string]*pending[V]
}

type pending[V comparable] struct {
	done  chan struct{}
	value V
	err   error
}

// New creates an empty registry.
func New[V comparable]() *Registry[V] {
	return &Registry[V]{
		entries:  make(map[string]V),
		creating: make(map[string]*pending[V]),
	}
}

// Get returns the entry of a guild.
func (r *Registry[V]) Get(guildID string) (V, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.entries[guildID]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return v, nil
}

// GetOrCreate returns the entry of a guild, calling create if there is none.
// Concurrent callers for the same guild share one create call; other guilds
// are not blocked while it runs. created is true only for the caller that ran
// create successfully.
func (r *Registry[V]) GetOrCreate(guildID string, create func() (V, error)) (v V, created bool, err error) {
	r.mu.Lock()
	if v, ok := r.entries[guildID]; ok {
		r.mu.Unlock()
		return v, false, nil
	}
	if p, ok := r.creating[guildID]; ok {
		r.mu.Unlock()
		<-p.done
		return p.value, false, p.err
	}
	p := &pending[V]{done: make(chan struct{})}
	r.creating[guildID] = p
	r.mu.Unlock()

	defer close(p.done)
	p.value, p.err = create()

	r.mu.Lock()
	delete(r.creating, guildID)
	if p.err == nil {
		r.entries[guildID] = p.value
	}
	r.mu.Unlock()

	return p.value, p.err == nil, p.err
}

// Remove deletes the entry of a guild only if it is still v.
func (r *Registry[V]) Remove(guildID string, v V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.entries[guildID]; !ok || cur != v {
		return false
	}
	delete(r.entries, guildID)
	return true
}

// GuildIDs returns the registered guild IDs in sorted order.
func (r *Registry[V]) GuildIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns every entry.
func (r *Registry[V]) All() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]V, 0, len(r.entries))
	for _, v := range r.entries {
		all = append(all, v)
	}
	return all
}

// Count returns the number of registered guilds.
func (r *Registry[V]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
