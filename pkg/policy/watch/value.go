// Package watch implements the coalescing latest-value channel used to
// publish index projections (InboundServer, OutboundPolicy, leader-claim
// bool) to subscribers without ever blocking the publishing goroutine on a
// slow reader. A subscriber that falls behind simply misses intermediate
// values and receives the most recent one on its next receive.
package watch

import "sync"

// Receiver is the read side of a Value subscription. The zero value is not
// usable; obtain one via Value.Subscribe.
type Receiver[T any] struct {
	ch <-chan T
}

// C returns the channel of published values. It is closed when the Value is
// closed (e.g. the workload or route the value describes was deleted).
func (r *Receiver[T]) C() <-chan T {
	return r.ch
}

// Value is a single-writer, multi-reader latest-value cell. Publish replaces
// the current value and wakes every subscriber; a subscriber that has not
// yet consumed the previous value simply never observes it, mirroring the
// teacher's buffered, drop-oldest channel usage in its frame-forwarding
// goroutines (pkg/gateway/proxy.go) generalized from a one-shot error signal
// to a continuously-updated observable.
type Value[T any] struct {
	mu     sync.Mutex
	current T
	subs   []chan T
	closed bool
}

// NewValue returns a Value initialized to initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{current: initial}
}

// Subscribe returns a Receiver that immediately observes the current value
// and every subsequent Publish/PublishIfModified call, until the Value is
// closed.
func (v *Value[T]) Subscribe() *Receiver[T] {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan T, 1)
	if v.closed {
		close(ch)
		return &Receiver[T]{ch: ch}
	}
	ch <- v.current
	v.subs = append(v.subs, ch)
	return &Receiver[T]{ch: ch}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Publish replaces the current value and notifies every subscriber.
func (v *Value[T]) Publish(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.publishLocked(val)
}

// PublishIfModified publishes val only if equal reports that it differs
// from the current value, returning whether a publish occurred. Index code
// uses this to avoid waking subscribers on a reindex that recomputed a
// projection byte-for-byte identical to what is already published.
func (v *Value[T]) PublishIfModified(val T, equal func(a, b T) bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if equal(v.current, val) {
		return false
	}
	v.publishLocked(val)
	return true
}

func (v *Value[T]) publishLocked(val T) {
	v.current = val
	for _, ch := range v.subs {
		select {
		case <-ch:
		default:
		}
		ch <- val
	}
}

// Close closes every subscriber's channel and marks the Value so that any
// future Subscribe call returns an already-closed Receiver. Used when the
// entity a Value describes (a pod's port, a route) is removed from its
// index.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for _, ch := range v.subs {
		close(ch)
	}
	v.subs = nil
}
