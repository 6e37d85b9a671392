package engine

import (
	"slices"
	"sort"
	"sync"

	"github.com/rendis/dsmacro/pkg/schema"
)

// HeldState is the engine's belief about which keys and mouse buttons are
// down. It models intended state: entries are added on press and removed
// on release, and both operations are idempotent. Clear starts a new
// generation; a press that began in an older generation is refused.
type HeldState struct {
	mu      sync.Mutex
	gen     uint64
	keys    map[string]struct{}
	buttons map[schema.MouseButton]struct{}
}

// NewHeldState returns an empty HeldState.
func NewHeldState() *HeldState {
	return &HeldState{
		keys:    make(map[string]struct{}),
		buttons: make(map[schema.MouseButton]struct{}),
	}
}

func (h *HeldState) PressKey(key string) {
	h.mu.Lock()
	h.keys[key] = struct{}{}
	h.mu.Unlock()
}

// Generation returns the current hold generation.
func (h *HeldState) Generation() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gen
}

// PressKeyIn marks key held if the generation is still gen.
func (h *HeldState) PressKeyIn(gen uint64, key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen {
		return false
	}
	h.keys[key] = struct{}{}
	return true
}

// PressButtonIn marks b held if the generation is still gen.
func (h *HeldState) PressButtonIn(gen uint64, b schema.MouseButton) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen != gen {
		return false
	}
	h.buttons[b] = struct{}{}
	return true
}

// Clear empties the state, starts a new generation and returns what was
// held, sorted.
func (h *HeldState) Clear() ([]string, []schema.MouseButton) {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.keys))
	for k := range h.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buttons := make([]schema.MouseButton, 0, len(h.buttons))
	for b := range h.buttons {
		buttons = append(buttons, b)
	}
	slices.Sort(buttons)
	h.keys = make(map[string]struct{})
	h.buttons = make(map[schema.MouseButton]struct{})
	h.gen++
	return keys, buttons
}

func (h *HeldState) ReleaseKey(key string) {
	h.mu.Lock()
	delete(h.keys, key)
	h.mu.Unlock()
}

func (h *HeldState) PressButton(b schema.MouseButton) {
	h.mu.Lock()
	h.buttons[b] = struct{}{}
	h.mu.Unlock()
}

func (h *HeldState) ReleaseButton(b schema.MouseButton) {
	h.mu.Lock()
	delete(h.buttons, b)
	h.mu.Unlock()
}

// KeyHeld reports whether key is held.
func (h *HeldState) KeyHeld(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.keys[key]
	return ok
}

// ButtonHeld reports whether b is held.
func (h *HeldState) ButtonHeld(b schema.MouseButton) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.buttons[b]
	return ok
}

// Keys returns the held keys, sorted.
func (h *HeldState) Keys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.keys))
	for k := range h.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Buttons returns the held buttons, sorted.
func (h *HeldState) Buttons() []schema.MouseButton {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]schema.MouseButton, 0, len(h.buttons))
	for b := range h.buttons {
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}

// Empty reports whether nothing is held.
func (h *HeldState) Empty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.keys) == 0 && len(h.buttons) == 0
}
