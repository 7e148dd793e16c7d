package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_SubscribeReceivesEvents(t *testing.T) {
	s := NewSession()
	events, cancel := s.Subscribe()
	defer cancel()

	s.publish(Event{Type: EventSyncStart})

	ev := <-events
	assert.Equal(t, EventSyncStart, ev.Type)
	assert.False(t, ev.Time.IsZero())
}

func TestSession_MultipleSubscribers(t *testing.T) {
	s := NewSession()

	ch1, cancel1 := s.Subscribe()
	defer cancel1()
	ch2, cancel2 := s.Subscribe()
	defer cancel2()

	s.publish(Event{Type: EventSyncComplete})

	assert.Equal(t, EventSyncComplete, (<-ch1).Type)
	assert.Equal(t, EventSyncComplete, (<-ch2).Type)
}

func TestSession_CancelStopsDelivery(t *testing.T) {
	s := NewSession()
	events, cancel := s.Subscribe()

	cancel()
	s.publish(Event{Type: EventSyncStart})

	_, open := <-events
	assert.False(t, open, "cancelled subscriber channel must be closed")
}

func TestSession_CancelTwiceIsSafe(t *testing.T) {
	s := NewSession()
	_, cancel := s.Subscribe()

	cancel()
	cancel()
}

func TestSession_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	s := NewSession()
	events, cancel := s.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer*2; i++ {
		s.publish(Event{Type: EventLog})
	}

	require.Len(t, events, subscriberBuffer)
}
