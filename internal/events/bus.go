package events

import (
	"sync"
	"sync/atomic"
)

const (
	TypeJobStart    = "job_start"
	TypeJobProgress = "job_progress"
	TypeJobComplete = "job_complete"
	TypeJobError    = "job_error"

	defaultBuffer = 256
)

type Event struct {
	Type    string  `json:"type"`
	JobID   string  `json:"jobId"`
	URL     string  `json:"url"`
	Percent float64 `json:"percent,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Terminal reports whether no further events follow for the job.
func (e Event) Terminal() bool {
	return e.Type == TypeJobComplete || e.Type == TypeJobError
}

// Publisher is the write side used by workers.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to every subscriber. Delivery to one subscriber is FIFO;
// a subscriber whose buffer is full misses events instead of stalling publishers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	buffer  int
	dropped atomic.Uint64
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{subs: map[uint64]chan Event{}, buffer: buffer}
}

// Subscribe returns the event channel and a func that detaches and closes it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts events lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
