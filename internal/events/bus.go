// Package events fans job notifications out to any number of subscribers
// without ever blocking the publisher.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Kind names an event type. The values double as SSE event names.
type Kind string

const (
	KindLog      Kind = "log"
	KindProgress Kind = "progress"
	KindComplete Kind = "complete"
	KindError    Kind = "error"
)

// Progress is published once per in-scope row, before it is processed.
type Progress struct {
	Row     int    `json:"row"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// Complete is published when a job's loop ends and the output is written.
type Complete struct {
	Processed  int    `json:"processed"`
	OutputPath string `json:"file"`
	Stopped    bool   `json:"stopped,omitempty"`
}

// Event is one notification. Data is a string for log and error events.
type Event struct {
	Kind  Kind      `json:"type"`
	JobID string    `json:"jobId,omitempty"`
	Time  time.Time `json:"timestamp"`
	Data  any       `json:"data"`
}

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

// Bus is a non-blocking publish/subscribe hub.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool

	dropped atomic.Uint64
	onDrop  func()
}

// NewBus creates a bus. onDrop, if set, is called for every event a slow
// subscriber misses.
func NewBus(onDrop func()) *Bus {
	return &Bus{subs: make(map[uint64]chan Event), onDrop: onDrop}
}

// Subscribe registers a subscriber with the given buffer (DefaultBuffer if
// not positive). The returned cancel func unsubscribes and closes the
// channel; it may be called more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}

// Log publishes a log event and writes it to the process log.
func (b *Bus) Log(jobID, msg string) {
	zap.L().Info(msg, zap.String("job_id", jobID))
	b.Publish(Event{Kind: KindLog, JobID: jobID, Data: msg})
}

// Progress publishes a progress event.
func (b *Bus) Progress(jobID string, p Progress) {
	b.Publish(Event{Kind: KindProgress, JobID: jobID, Data: p})
}

// Complete publishes a completion event.
func (b *Bus) Complete(jobID string, c Complete) {
	b.Publish(Event{Kind: KindComplete, JobID: jobID, Data: c})
}

// Error publishes an error event.
func (b *Bus) Error(jobID, msg string) {
	zap.L().Error(msg, zap.String("job_id", jobID))
	b.Publish(Event{Kind: KindError, JobID: jobID, Data: msg})
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the number of events lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are no-ops and
// later subscriptions receive a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Percent returns round(current/total*100), or 0 when total is 0.
func Percent(current, total int) int {
	if total <= 0 {
		return 0
	}
	return (current*200 + total) / (2 * total)
}
