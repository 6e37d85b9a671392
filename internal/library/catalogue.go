// Package library holds the named catalogue of built-in routines.
package library

import (
	"sort"
	"sync"

	"github.com/rendis/dsmacro/internal/engine"
	"github.com/rendis/dsmacro/pkg/schema"
)

// BuildFunc populates an unregistered routine with its sequences.
type BuildFunc func(r *engine.Routine) error

// Entry is one catalogue routine.
type Entry struct {
	// Key is the catalogue lookup name, e.g. "patrol".
	Key string
	// Name is the name the created routine runs under.
	Name        string
	Description string
	Categories  []string
	Build       BuildFunc
}

// EntryInfo is the listing view of an Entry.
type EntryInfo struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Categories  []string `json:"categories"`
	Legacy      bool     `json:"legacy,omitempty"`
}

// Catalogue is a thread-safe registry of named routine builders and
// flat legacy records.
type Catalogue struct {
	mu      sync.RWMutex
	entries map[string]Entry
	records map[string]*schema.RoutineRecord
}

// NewCatalogue creates an empty Catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{
		entries: make(map[string]Entry),
		records: make(map[string]*schema.RoutineRecord),
	}
}

// Register adds an entry. Returns error on duplicate key.
func (c *Catalogue) Register(e Entry) error {
	if e.Key == "" {
		return schema.NewError(schema.ErrCodeValidation, "catalogue key is empty")
	}
	if e.Build == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "catalogue entry %q has no builder", e.Key)
	}
	if e.Name == "" {
		e.Name = e.Key
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[e.Key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "routine %q already registered", e.Key)
	}
	c.entries[e.Key] = e
	return nil
}

// RegisterRecord adds a flat legacy record under key.
func (c *Catalogue) RegisterRecord(key string, rec *schema.RoutineRecord) error {
	if key == "" || rec == nil {
		return schema.NewError(schema.ErrCodeValidation, "legacy record needs a key and a record")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.records[key]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "legacy record %q already registered", key)
	}
	c.records[key] = rec
	return nil
}

// Get retrieves an entry by key.
func (c *Catalogue) Get(key string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, schema.NewErrorf(schema.ErrCodeNotFound, "routine %q not in catalogue", key)
	}
	return e, nil
}

// Record retrieves a legacy record by key.
func (c *Catalogue) Record(key string) (*schema.RoutineRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "legacy record %q not in catalogue", key)
	}
	return rec, nil
}

// Has reports whether key names an entry or a legacy record.
func (c *Catalogue) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, e := c.entries[key]
	_, r := c.records[key]
	return e || r
}

// List returns every entry and legacy record, sorted by key. Entries
// sort before legacy records sharing a key.
func (c *Catalogue) List() []EntryInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	infos := make([]EntryInfo, 0, len(c.entries)+len(c.records))
	for _, e := range c.entries {
		infos = append(infos, EntryInfo{
			Key:         e.Key,
			Name:        e.Name,
			Description: e.Description,
			Categories:  e.Categories,
		})
	}
	for key, rec := range c.records {
		infos = append(infos, EntryInfo{Key: key, Name: rec.Name, Description: rec.Description, Legacy: true})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Key != infos[j].Key {
			return infos[i].Key < infos[j].Key
		}
		return !infos[i].Legacy && infos[j].Legacy
	})
	return infos
}

// Create builds the routine registered under key on ctl. Extra categories
// are added to the entry's own. Catalogue entries win over legacy records
// of the same key.
func (c *Catalogue) Create(ctl *engine.Controller, key string, extra ...string) (*engine.Routine, error) {
	if e, err := c.Get(key); err == nil {
		cats := append(append([]string(nil), e.Categories...), extra...)
		r := ctl.CreateRoutine(e.Name, cats...)
		if err := e.Build(r); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeRoutine, "build %q: %s", key, err.Error()).WithCause(err)
		}
		return r, nil
	}
	rec, err := c.Record(key)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "unknown routine %q", key)
	}
	return ctl.RoutineFromRecord(rec, extra...)
}
