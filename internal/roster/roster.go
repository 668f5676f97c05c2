// Package roster tracks which peers are currently registered on the
// signaling hub. The hub broadcasts the full list on every join and leave,
// so each update replaces the previous state wholesale.
package roster

import (
	"log/slog"
	"slices"
	"sync"
)

type Roster struct {
	self string
	log  *slog.Logger

	mu    sync.Mutex
	peers []string

	subMu sync.RWMutex
	subs  []func(peers []string)
}

func New(self string, log *slog.Logger) *Roster {
	if log == nil {
		log = slog.Default()
	}
	return &Roster{self: self, log: log}
}

// OnChange registers an observer called with the new peer list whenever it
// actually changes.
func (r *Roster) OnChange(fn func(peers []string)) {
	r.subMu.Lock()
	r.subs = append(r.subs, fn)
	r.subMu.Unlock()
}

// Update replaces the roster with a hub broadcast. The local username is
// filtered out and the list is sorted so updates compare stably.
func (r *Roster) Update(peers []string) {
	next := make([]string, 0, len(peers))
	for _, p := range peers {
		if p == "" || p == r.self {
			continue
		}
		next = append(next, p)
	}
	slices.Sort(next)
	next = slices.Compact(next)

	r.mu.Lock()
	if slices.Equal(r.peers, next) {
		r.mu.Unlock()
		return
	}
	r.peers = next
	r.mu.Unlock()

	r.log.Debug("roster updated", "peers", next)
	r.subMu.RLock()
	subs := r.subs
	r.subMu.RUnlock()
	for _, fn := range subs {
		fn(slices.Clone(next))
	}
}

// Peers returns a copy of the current peer list, sorted.
func (r *Roster) Peers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.peers)
}

// Contains reports whether peer is currently online.
func (r *Roster) Contains(peer string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := slices.BinarySearch(r.peers, peer)
	return ok
}
