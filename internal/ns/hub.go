package ns

import (
	"github.com/obiverse/nine-s/internal/nspath"
	"github.com/obiverse/nine-s/internal/scroll"
)

// DefaultMaxWatchers bounds the number of live subscriptions per
// namespace. Exceeding it is a recoverable unavailable condition, not an
// internal failure.
const DefaultMaxWatchers = 1024

// Hub is the watcher registry embedded in every local backend. The
// owning namespace serializes Publish with its writes, so each watcher
// observes a single linear sequence of events; cancelled subscriptions
// are swept on the next fan-out.
//
// Hub is not safe for concurrent use on its own: the embedding namespace
// guards it with the same lock that serializes writes.
type Hub struct {
	subs map[*Subscription]struct{}
	max  int
}

// NewHub creates a hub capped at max watchers (DefaultMaxWatchers when
// max is zero or negative).
func NewHub(max int) *Hub {
	if max <= 0 {
		max = DefaultMaxWatchers
	}
	return &Hub{subs: make(map[*Subscription]struct{}), max: max}
}

// Subscribe validates pattern and registers a new subscription.
func (h *Hub) Subscribe(pattern string) (*Subscription, error) {
	if err := nspath.ValidatePattern(pattern); err != nil {
		return nil, Errorf(CodeInvalidPath, "watch pattern %q: %w", pattern, err)
	}
	h.sweep()
	if len(h.subs) >= h.max {
		return nil, Errorf(CodeUnavailable, "watcher limit %d reached", h.max)
	}
	sub := NewSubscription(pattern, nil)
	h.subs[sub] = struct{}{}
	return sub, nil
}

// Publish fans sc out to every live subscription whose pattern matches
// its key, sweeping dead subscriptions first.
func (h *Hub) Publish(sc *scroll.Scroll) {
	h.sweep()
	for sub := range h.subs {
		if nspath.Match(sub.Pattern(), sc.Key) {
			sub.Publish(sc)
		}
	}
}

// Close terminates every subscription.
func (h *Hub) Close() {
	for sub := range h.subs {
		sub.Terminate()
		delete(h.subs, sub)
	}
}

// Len returns the number of registered subscriptions, live or not.
func (h *Hub) Len() int { return len(h.subs) }

func (h *Hub) sweep() {
	for sub := range h.subs {
		if sub.Cancelled() {
			sub.Terminate()
			delete(h.subs, sub)
		}
	}
}
