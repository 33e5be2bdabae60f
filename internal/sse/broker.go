// Package sse streams namespace watch events to HTTP clients as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/obiverse/nine-s/internal/scroll"
)

// Scroll event kinds, derived from the persisted scroll's metadata.
const (
	KindCreated = "scroll.created"
	KindUpdated = "scroll.updated"
	KindDeleted = "scroll.deleted"
)

// clientBuffer is the per-subscriber event window. A reader that stalls
// past it loses the oldest events first, never the freshest.
const clientBuffer = 32

// Event is one broadcast entry. ID is a broker-assigned sequence number
// surfaced as the SSE id field, so reconnecting clients can tell how
// much they missed.
type Event struct {
	ID   uint64
	Type string
	Data map[string]any
}

// ScrollEvent derives the broadcast entry for a persisted scroll:
// version 1 is a creation, a tombstone is a deletion, anything else an
// update. Only key and version travel; scroll data stays behind the
// authenticated read API.
func ScrollEvent(sc *scroll.Scroll) Event {
	kind := KindUpdated
	switch {
	case sc.Metadata.Deleted:
		kind = KindDeleted
	case sc.Metadata.Version == 1:
		kind = KindCreated
	}
	return Event{Type: kind, Data: map[string]any{
		"key":     sc.Key,
		"version": sc.Metadata.Version,
	}}
}

// subscriber couples an event channel with its kind filter. An empty
// filter means every kind.
type subscriber struct {
	events chan Event
	kinds  map[string]struct{}
}

func (s *subscriber) wants(kind string) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

// Broker fans namespace watch events out to SSE subscribers. A single
// owner goroutine holds the subscriber set and assigns event ids;
// public methods talk to it over channels, so no mutexes are needed.
// Delivery sheds the oldest buffered event for a slow subscriber rather
// than blocking the fan-out.
type Broker struct {
	attachCh chan *subscriber
	detachCh chan *subscriber
	eventCh  chan Event
	censusCh chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker and starts its owner loop.
func NewBroker() *Broker {
	b := &Broker{
		attachCh: make(chan *subscriber),
		detachCh: make(chan *subscriber),
		eventCh:  make(chan Event, 128),
		censusCh: make(chan chan int),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	subs := make(map[*subscriber]struct{})
	var nextID uint64

	deliver := func(s *subscriber, ev Event) {
		for {
			select {
			case s.events <- ev:
				return
			default:
			}
			// Buffer full: drop the oldest entry so the reader resumes
			// with the most recent changes.
			select {
			case <-s.events:
			default:
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for s := range subs {
				close(s.events)
			}
			return

		case s := <-b.attachCh:
			subs[s] = struct{}{}

		case s := <-b.detachCh:
			if _, ok := subs[s]; ok {
				delete(subs, s)
				close(s.events)
			}

		case ev := <-b.eventCh:
			nextID++
			ev.ID = nextID
			for s := range subs {
				if s.wants(ev.Type) {
					deliver(s, ev)
				}
			}

		case resp := <-b.censusCh:
			resp <- len(subs)
		}
	}
}

// Close stops the owner loop and closes every subscriber channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a subscriber for the given kinds (all kinds when
// none are named) and returns its event stream plus a cancel function.
// The stream is closed on cancel or broker shutdown.
func (b *Broker) Subscribe(kinds ...string) (<-chan Event, func()) {
	s := &subscriber{events: make(chan Event, clientBuffer)}
	if len(kinds) > 0 {
		s.kinds = make(map[string]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	if b.closed.Load() {
		close(s.events)
		return s.events, func() {}
	}

	select {
	case b.attachCh <- s:
	case <-b.stopped:
		close(s.events)
		return s.events, func() {}
	}

	cancel := func() {
		select {
		case b.detachCh <- s:
		case <-b.stopped:
		}
	}
	return s.events, cancel
}

// ClientCount returns the number of attached subscribers.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.censusCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish broadcasts an event to matching subscribers. The id is
// assigned by the owner loop.
func (b *Broker) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.eventCh <- ev:
	case <-b.stopped:
	}
}

// PublishScroll broadcasts a persisted scroll as its derived event.
func (b *Broker) PublishScroll(sc *scroll.Scroll) {
	b.Publish(ScrollEvent(sc))
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). A kinds
// query parameter narrows the stream, e.g. ?kinds=scroll.created,scroll.deleted.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var kinds []string
	if raw := r.URL.Query().Get("kinds"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, k)
			}
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := b.Subscribe(kinds...)
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, payload)
			flusher.Flush()
		}
	}
}
