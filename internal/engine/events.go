package engine

import (
	"sync"
	"time"
)

// EventType identifies what a Session event describes.
type EventType string

const (
	EventSyncStart        EventType = "sync-start"
	EventSyncComplete     EventType = "sync-complete"
	EventSyncError        EventType = "sync-error"
	EventCountChange      EventType = "sync-count-change"
	EventRemoteUpdate     EventType = "sync-remote-update"
	EventConflictAdded    EventType = "conflict-added"
	EventConflictResolved EventType = "conflict-resolved"
	EventLog              EventType = "log"
)

// Event is one observation surfaced to the presentation layer.
type Event struct {
	Type       EventType
	Path       string
	NoteID     string
	Message    string
	Pending    int
	Err        error
	Conflict   *Conflict
	Resolution Resolution
	Time       time.Time
}

// subscriberBuffer is the per-subscriber channel capacity. A slow
// subscriber loses events rather than stalling the engine.
const subscriberBuffer = 64

// Session is the per-workspace event bus owned by the engine. Each
// subscriber gets its own channel and a cancel function that must be
// called to release it; there is no ambient global state.
type Session struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{subs: make(map[int]chan Event)}
}

// Subscribe registers an observer. The returned cancel function
// unregisters it and closes the channel; calling it more than once is
// safe.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++

	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			delete(s.subs, id)
			close(ch)
		})
	}

	return ch, cancel
}

// publish delivers an event to every subscriber without blocking.
func (s *Session) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
