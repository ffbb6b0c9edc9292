// Package notify fans state snapshots out to subscribers. Slow subscribers never
// block publishers: when a subscriber's buffer is full the oldest pending value is
// dropped in favour of the newest.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// SubscriptionID identifies a subscription.
type SubscriptionID string

const defaultBuffer = 8

// Hub is an in-memory publish/subscribe point for values of type T.
type Hub[T any] struct {
	buffer int

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	subs      map[SubscriptionID]*subscriber[T]
	closeOnce sync.Once
}

type subscriber[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan T

	mu     sync.Mutex
	closed bool
}

// NewHub constructs a hub whose subscriptions buffer up to buffer values.
func NewHub[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub[T]{
		buffer: buffer,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[SubscriptionID]*subscriber[T]),
	}
}

// Subscribe registers a subscription that ends when ctx is done, on Unsubscribe or
// on Close. The channel is closed when the subscription ends.
func (h *Hub[T]) Subscribe(ctx context.Context) (SubscriptionID, <-chan T) {
	if ctx == nil {
		ctx = context.Background()
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscriber[T]{ctx: subCtx, cancel: cancel, ch: make(chan T, h.buffer)}
	id := SubscriptionID(uuid.NewString())

	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		sub.close()
		return id, sub.ch
	}
	h.subs[id] = sub
	h.mu.Unlock()

	go h.observe(id, sub)
	return id, sub.ch
}

// Unsubscribe ends the subscription.
func (h *Hub[T]) Unsubscribe(id SubscriptionID) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish offers v to every subscriber and returns how many accepted it.
func (h *Hub[T]) Publish(v T) int {
	h.mu.RLock()
	subs := make([]*subscriber[T], 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.offer(v) {
			delivered++
		}
	}
	return delivered
}

// Len returns the number of live subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later subscriptions are closed immediately.
func (h *Hub[T]) Close() {
	h.closeOnce.Do(func() {
		h.cancel()
		h.mu.Lock()
		subs := h.subs
		h.subs = make(map[SubscriptionID]*subscriber[T])
		h.mu.Unlock()
		for _, sub := range subs {
			sub.close()
		}
	})
}

func (h *Hub[T]) observe(id SubscriptionID, sub *subscriber[T]) {
	select {
	case <-sub.ctx.Done():
	case <-h.ctx.Done():
	}
	h.mu.Lock()
	if stored, ok := h.subs[id]; ok && stored == sub {
		delete(h.subs, id)
	}
	h.mu.Unlock()
	sub.close()
}

// offer delivers v, evicting the oldest pending value when the buffer is full.
func (s *subscriber[T]) offer(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- v:
		return true
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}

func (s *subscriber[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	close(s.ch)
}
