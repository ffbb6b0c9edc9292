package observability

import (
	"sync"
	"time"
)

// maxDeadLetterPayload bounds the bytes kept from each rejected payload.
const maxDeadLetterPayload = 512

// DeadLetter records one inbound payload that could not be applied.
type DeadLetter struct {
	Source    string    `json:"source"`
	Reason    string    `json:"reason"`
	Payload   string    `json:"payload,omitempty"`
	Truncated bool      `json:"truncated,omitempty"`
	At        time.Time `json:"at"`
}

// DeadLetterQueue keeps the most recent rejected payloads for inspection.
type DeadLetterQueue struct {
	mu       sync.Mutex
	capacity int
	letters  []DeadLetter
	dropped  uint64
}

// NewDeadLetterQueue creates a queue holding at most capacity letters. Capacity <=0 implies unbounded.
func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	return &DeadLetterQueue{capacity: capacity}
}

// Offer records a rejected payload, evicting the oldest letter when full.
func (q *DeadLetterQueue) Offer(source, reason string, payload []byte, at time.Time) {
	letter := DeadLetter{Source: source, Reason: reason, At: at}
	if len(payload) > maxDeadLetterPayload {
		payload = payload[:maxDeadLetterPayload]
		letter.Truncated = true
	}
	letter.Payload = string(payload)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.letters) >= q.capacity {
		copy(q.letters, q.letters[1:])
		q.letters[len(q.letters)-1] = letter
		q.dropped++
		return
	}
	q.letters = append(q.letters, letter)
}

// Letters returns the queued letters, oldest first, without removing them.
func (q *DeadLetterQueue) Letters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.letters))
	copy(out, q.letters)
	return out
}

// Drain retrieves and clears all queued letters.
func (q *DeadLetterQueue) Drain() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.letters
	q.letters = nil
	return drained
}

// Len returns the number of queued letters.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.letters)
}

// Evicted returns how many letters were pushed out by newer ones.
func (q *DeadLetterQueue) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
