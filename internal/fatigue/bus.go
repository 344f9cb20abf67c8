// internal/fatigue/bus.go
package fatigue

import (
	"log/slog"
	"sync"

	"github.com/ColonelBlimp/fatiguedetector/internal/recovery"
)

type stateSub struct {
	id uint64
	fn StateListener
}

type debugSub struct {
	id uint64
	fn DebugListener
}

// Bus fans events out to registered listeners.
// Listeners run synchronously over a snapshot of the registration list, so
// subscribing or unsubscribing from inside a listener is safe; the change
// takes effect from the next event.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	state  []stateSub
	debug  []debugSub
	logger *slog.Logger
}

// NewBus creates an empty bus. A nil logger discards listener failures.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bus{logger: logger}
}

// SubscribeState registers a state listener. A nil listener is ignored.
func (b *Bus) SubscribeState(fn StateListener) Unsubscribe {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	// copy-on-write so in-flight snapshots are never mutated
	next := make([]stateSub, len(b.state), len(b.state)+1)
	copy(next, b.state)
	b.state = append(next, stateSub{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.state = removeByID(b.state, id, func(s stateSub) uint64 { return s.id })
		})
	}
}

// SubscribeDebug registers a debug listener. A nil listener is ignored.
func (b *Bus) SubscribeDebug(fn DebugListener) Unsubscribe {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	next := make([]debugSub, len(b.debug), len(b.debug)+1)
	copy(next, b.debug)
	b.debug = append(next, debugSub{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.debug = removeByID(b.debug, id, func(s debugSub) uint64 { return s.id })
		})
	}
}

// PublishState delivers a state event to every listener registered at call time.
func (b *Bus) PublishState(event StateEvent) {
	b.mu.Lock()
	subs := b.state
	b.mu.Unlock()

	for _, s := range subs {
		if err := recovery.Call(func() { s.fn(event) }); err != nil {
			b.logger.Error("state listener failed", "error", err, "state", event.State)
		}
	}
}

// PublishDebug delivers a debug frame to every listener registered at call time.
func (b *Bus) PublishDebug(event DebugEvent) {
	b.mu.Lock()
	subs := b.debug
	b.mu.Unlock()

	for _, s := range subs {
		if err := recovery.Call(func() { s.fn(event) }); err != nil {
			b.logger.Error("debug listener failed", "error", err, "t", event.Timestamp)
		}
	}
}

// Counts returns the number of state and debug listeners.
func (b *Bus) Counts() (state, debug int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.state), len(b.debug)
}

// removeByID returns a new slice without the entry whose id matches.
func removeByID[T any](subs []T, id uint64, idOf func(T) uint64) []T {
	out := make([]T, 0, len(subs))
	for _, s := range subs {
		if idOf(s) != id {
			out = append(out, s)
		}
	}
	return out
}
