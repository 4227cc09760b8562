// Package outbox holds messages submitted while the session is not Ready.
package outbox

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrMissingID = errors.New("outbox: missing id")
	ErrDuplicate = errors.New("outbox: id already queued")
)

// Item is one queued message awaiting transmission.
type Item struct {
	ID       string
	Body     []byte // msgpack encoded payload, sealed at flush time
	QueuedAt time.Time
	Attempts int // Failed write attempts so far.
}

// Queue is a FIFO of Items keyed by id. It is safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []Item
}

func New() *Queue { return &Queue{} }

// Enqueue appends item. QueuedAt defaults to now.
func (q *Queue) Enqueue(item Item) error {
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		return ErrMissingID
	}
	if item.QueuedAt.IsZero() {
		item.QueuedAt = time.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexLocked(item.ID) >= 0 {
		return ErrDuplicate
	}
	q.items = append(q.items, item)
	return nil
}

// Drain removes and returns every item in submission order.
func (q *Queue) Drain() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Requeue puts items back at the front, ahead of anything queued since they were drained.
// Their relative order is kept and each item's Attempts is incremented.
func (q *Queue) Requeue(items []Item) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	front := make([]Item, 0, len(items)+len(q.items))
	for _, it := range items {
		if q.indexLocked(it.ID) >= 0 {
			continue
		}
		it.Attempts++
		front = append(front, it)
	}
	q.items = append(front, q.items...)
}

// Remove drops the item with id. It reports whether the item was still queued.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(strings.TrimSpace(id))
	if i < 0 {
		return false
	}
	q.items = append(q.items[:i], q.items[i+1:]...)
	return true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.items {
		if q.items[i].ID == id {
			return i
		}
	}
	return -1
}
