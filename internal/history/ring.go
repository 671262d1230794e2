// Package history keeps the most recent command/response exchanges in memory.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Capacity is the number of exchanges kept before the oldest is evicted.
const Capacity = 50

// Entry is one command sent to the device and the response collected for it.
type Entry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Command   string `json:"command"`
	Response  string `json:"response"`
}

// Ring is a fixed-size FIFO of entries, safe for concurrent use.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	start   int
	count   int

	listeners []func(Entry)
	now       func() time.Time

	// Listener notifications are queued and delivered in order by one goroutine, so a
	// slow listener never holds up Append.
	qmu     sync.Mutex
	queue   []Entry
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

// NewRing creates an empty ring holding at most capacity entries. Listeners are called
// in append order from a background goroutine; Close stops it.
func NewRing(capacity int, listeners ...func(Entry)) *Ring {
	if capacity <= 0 {
		capacity = Capacity
	}
	r := &Ring{
		entries:   make([]Entry, capacity),
		listeners: listeners,
		now:       time.Now,
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
	if len(listeners) == 0 {
		close(r.stopped)
	} else {
		go r.dispatch()
	}
	return r
}

// Record timestamps a new exchange and appends it.
func (r *Ring) Record(command, response string) {
	r.Append(Entry{
		ID:        uuid.NewString(),
		Timestamp: r.now().Format("15:04:05"),
		Command:   command,
		Response:  response,
	})
}

// Append adds an entry, evicting the oldest when full.
func (r *Ring) Append(e Entry) {
	r.mu.Lock()
	size := len(r.entries)
	if r.count < size {
		r.entries[(r.start+r.count)%size] = e
		r.count++
	} else {
		r.entries[r.start] = e
		r.start = (r.start + 1) % size
	}
	r.mu.Unlock()

	r.notify(e)
}

func (r *Ring) notify(e Entry) {
	if len(r.listeners) == 0 {
		return
	}
	r.qmu.Lock()
	if r.closed {
		r.qmu.Unlock()
		return
	}
	r.queue = append(r.queue, e)
	r.qmu.Unlock()
	r.signal()
}

func (r *Ring) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Ring) dispatch() {
	defer close(r.stopped)
	for range r.wake {
		r.qmu.Lock()
		batch, closed := r.queue, r.closed
		r.queue = nil
		r.qmu.Unlock()

		for _, e := range batch {
			for _, l := range r.listeners {
				l(e)
			}
		}
		if closed {
			return
		}
	}
}

// Close delivers the notifications already queued, then stops the listener goroutine.
// Entries appended afterwards are stored but not announced.
func (r *Ring) Close() {
	r.qmu.Lock()
	r.closed = true
	r.qmu.Unlock()
	r.signal()
	<-r.stopped
}

// Read returns the most recent limit entries, oldest first. limit <= 0 returns all.
func (r *Ring) Read(limit int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}

	size := len(r.entries)
	out := make([]Entry, n)
	first := r.start + r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.entries[(first+i)%size]
	}
	return out
}

// Len returns the number of stored entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Clear removes every entry.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		r.entries[i] = Entry{}
	}
	r.start = 0
	r.count = 0
}
