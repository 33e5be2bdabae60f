package ns

import (
	"sync"

	"github.com/obiverse/nine-s/internal/scroll"
)

// subscriptionBuffer is the per-subscription event buffer. A consumer
// that falls further behind than this loses events rather than blocking
// the writer.
const subscriptionBuffer = 64

// Subscription is a live watch: a lazy sequence of scrolls whose keys
// match the pattern, delivered in persistence order. The sequence is not
// restartable and carries no history. Cancel (or closing the owning
// namespace) terminates it; the scroll channel is closed when no further
// events will arrive.
type Subscription struct {
	pattern string

	ch   chan *scroll.Scroll
	done chan struct{}

	cancelOnce sync.Once
	termOnce   sync.Once
	onCancel   func()
}

// NewSubscription creates a standalone subscription. onCancel, if
// non-nil, runs once when the consumer cancels (used by remote proxies to
// send unwatch). Backends normally obtain subscriptions through a Hub.
func NewSubscription(pattern string, onCancel func()) *Subscription {
	return &Subscription{
		pattern:  pattern,
		ch:       make(chan *scroll.Scroll, subscriptionBuffer),
		done:     make(chan struct{}),
		onCancel: onCancel,
	}
}

// Pattern returns the watch pattern this subscription filters on.
func (s *Subscription) Pattern() string { return s.pattern }

// Scrolls is the event stream. It is closed when the subscription
// terminates.
func (s *Subscription) Scrolls() <-chan *scroll.Scroll { return s.ch }

// Done is closed when the consumer has cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel marks the subscription dead. The publisher reclaims it on its
// next fan-out; Cancel itself never blocks.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.done)
		if s.onCancel != nil {
			s.onCancel()
		}
	})
}

// Cancelled reports whether Cancel has been called.
func (s *Subscription) Cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Publish offers sc to the consumer without blocking. It returns false
// when the subscription is cancelled; a full buffer drops the event.
func (s *Subscription) Publish(sc *scroll.Scroll) bool {
	if s.Cancelled() {
		return false
	}
	select {
	case s.ch <- sc:
	default:
		// Consumer is not keeping up; dropping beats blocking the write
		// path for every other watcher.
	}
	return true
}

// Terminate closes the event stream. Safe to call more than once; the
// publisher calls it when reclaiming the subscription.
func (s *Subscription) Terminate() {
	s.Cancel()
	s.termOnce.Do(func() { close(s.ch) })
}

// Forward pipes events from inner into a new subscription, applying
// rewrite to each scroll. Cancelling the returned subscription cancels
// inner; when inner terminates the returned subscription terminates too.
// The kernel uses this to restore full paths on scrolls emitted by a
// mounted namespace.
func Forward(inner *Subscription, pattern string, rewrite func(*scroll.Scroll) *scroll.Scroll) *Subscription {
	out := NewSubscription(pattern, inner.Cancel)
	go func() {
		defer out.Terminate()
		for {
			select {
			case sc, ok := <-inner.Scrolls():
				if !ok {
					return
				}
				if rewrite != nil {
					sc = rewrite(sc)
				}
				out.Publish(sc)
			case <-out.Done():
				return
			}
		}
	}()
	return out
}
