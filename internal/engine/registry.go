package engine

import (
	"sort"
	"sync"

	"github.com/rendis/dsmacro/pkg/schema"
)

// Registry indexes live routines by id, name and category. All three
// indices change together under one lock, so no reader sees a routine in
// one index and not another.
type Registry struct {
	mu         sync.RWMutex
	byID       map[int64]*Routine
	byName     map[string]map[int64]*Routine
	byCategory map[string]map[int64]*Routine
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[int64]*Routine),
		byName:     make(map[string]map[int64]*Routine),
		byCategory: make(map[string]map[int64]*Routine),
	}
}

// Register adds r to every index. Registering an id twice is a REGISTRY_ERROR.
func (g *Registry) Register(r *Routine) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.byID[r.id]; exists {
		return schema.NewErrorf(schema.ErrCodeRegistry, "routine %d already registered", r.id).WithRoutine(r.id)
	}
	g.byID[r.id] = r
	if r.name != "" {
		addIndex(g.byName, r.name, r)
	}
	for _, c := range r.categories {
		addIndex(g.byCategory, c, r)
	}
	return nil
}

// Unregister removes r from every index. It reports whether r was present.
func (g *Registry) Unregister(r *Routine) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.byID[r.id] != r {
		return false
	}
	delete(g.byID, r.id)
	if r.name != "" {
		removeIndex(g.byName, r.name, r.id)
	}
	for _, c := range r.categories {
		removeIndex(g.byCategory, c, r.id)
	}
	return true
}

func addIndex(idx map[string]map[int64]*Routine, key string, r *Routine) {
	set, ok := idx[key]
	if !ok {
		set = make(map[int64]*Routine)
		idx[key] = set
	}
	set[r.id] = r
}

func removeIndex(idx map[string]map[int64]*Routine, key string, id int64) {
	set := idx[key]
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

// Get retrieves a live routine by id.
func (g *Registry) Get(id int64) (*Routine, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.byID[id]
	return r, ok
}

// Len returns the number of live routines.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byID)
}

// Routines returns every live routine, sorted by id.
func (g *Registry) Routines() []*Routine {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedRoutines(g.byID)
}

// ByName returns the live routines registered under name, sorted by id.
func (g *Registry) ByName(name string) []*Routine {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedRoutines(g.byName[name])
}

// ByCategory returns the live routines in category, sorted by id.
func (g *Registry) ByCategory(category string) []*Routine {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedRoutines(g.byCategory[category])
}

func sortedRoutines(set map[int64]*Routine) []*Routine {
	out := make([]*Routine, 0, len(set))
	for _, r := range set {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Cancellation collects targets under the read lock and cancels after
// releasing it; Routine.Cancel takes the routine's own lock.

// CancelByID cancels exactly one routine. It reports whether it was live.
func (g *Registry) CancelByID(id int64) bool {
	r, ok := g.Get(id)
	if !ok {
		return false
	}
	r.Cancel()
	return true
}

// CancelByName cancels every routine registered under name. It reports
// whether any existed.
func (g *Registry) CancelByName(name string) bool {
	return cancelAll(g.ByName(name)) > 0
}

// CancelCategory cancels every routine in category. It reports whether
// any existed.
func (g *Registry) CancelCategory(category string) bool {
	return cancelAll(g.ByCategory(category)) > 0
}

// CancelAllExcept cancels every live routine not in any exempt category
// and returns how many were cancelled.
func (g *Registry) CancelAllExcept(exempt ...string) int {
	g.mu.RLock()
	spared := make(map[int64]bool)
	for _, c := range exempt {
		for id := range g.byCategory[c] {
			spared[id] = true
		}
	}
	targets := make([]*Routine, 0, len(g.byID))
	for id, r := range g.byID {
		if !spared[id] {
			targets = append(targets, r)
		}
	}
	g.mu.RUnlock()
	return cancelAll(targets)
}

// CancelAll cancels every live routine and returns how many there were.
func (g *Registry) CancelAll() int {
	return cancelAll(g.Routines())
}

// CancelWhere cancels every live routine for which match returns true.
func (g *Registry) CancelWhere(match func(*Routine) bool) int {
	var targets []*Routine
	for _, r := range g.Routines() {
		if match(r) {
			targets = append(targets, r)
		}
	}
	return cancelAll(targets)
}

func cancelAll(rs []*Routine) int {
	for _, r := range rs {
		r.Cancel()
	}
	return len(rs)
}

// Check verifies that the three indices agree. A failure is a
// REGISTRY_ERROR and indicates a bug.
func (g *Registry) Check() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, r := range g.byID {
		if r.name != "" && g.byName[r.name][id] != r {
			return schema.NewErrorf(schema.ErrCodeRegistry, "routine %d missing from name index %q", id, r.name)
		}
		for _, c := range r.categories {
			if g.byCategory[c][id] != r {
				return schema.NewErrorf(schema.ErrCodeRegistry, "routine %d missing from category index %q", id, c)
			}
		}
	}
	for _, idx := range []map[string]map[int64]*Routine{g.byName, g.byCategory} {
		for key, set := range idx {
			for id := range set {
				if _, ok := g.byID[id]; !ok {
					return schema.NewErrorf(schema.ErrCodeRegistry, "index %q holds unregistered routine %d", key, id)
				}
			}
		}
	}
	return nil
}
