package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

// subscriberBuffer is how many events a subscriber may fall behind before
// new ones are dropped for it.
const subscriberBuffer = 64

type subscription struct {
	filter EventFilter
	events chan StreamEvent
}

// MemoryHub is an in-process EventHub. Publishing never blocks on a slow
// subscriber; events that do not fit its buffer are dropped and counted.
type MemoryHub struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	dropped atomic.Int64
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[*subscription]struct{})}
}

// Publish delivers event to every subscriber whose filter matches.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.filter.Matches(event) {
			continue
		}
		select {
		case s.events <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. The channel closes when the
// returned cancel is called or ctx ends, whichever comes first; cancel may
// be called any number of times.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s := &subscription{filter: filter, events: make(chan StreamEvent, subscriberBuffer)}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.events)
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return s.events, func() {
		stop()
		unsubscribe()
	}, nil
}

// Subscribers is the number of open subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped is how many deliveries were skipped because a subscriber's
// buffer was full.
func (h *MemoryHub) Dropped() int64 { return h.dropped.Load() }

var _ EventHub = (*MemoryHub)(nil)
