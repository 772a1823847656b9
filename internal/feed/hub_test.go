package feed

import (
	"testing"
	"time"
)

func event(n uint64) Event {
	return Event{
		SessionID:   "sess",
		Timestamp:   time.Unix(int64(n), 0),
		FrameNumber: n,
		Labels:      []string{"person"},
	}
}

func TestHubDeliversToSubscribers(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe()
	defer h.Unsubscribe(id)

	h.Publish(event(1))

	select {
	case got := <-ch:
		if got.FrameNumber != 1 {
			t.Fatalf("got frame %d, want 1", got.FrameNumber)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestHubSlowSubscriberLosesEvents(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe()
	defer h.Unsubscribe(id)

	// drive past the buffer without reading
	for n := uint64(1); n <= 5; n++ {
		h.Publish(event(n))
	}

	if got := h.Dropped(); got != 3 {
		t.Fatalf("dropped = %d, want 3 (buffer holds 2 of 5)", got)
	}

	// buffered events are still the oldest two
	first := <-ch
	if first.FrameNumber != 1 {
		t.Fatalf("first buffered frame = %d, want 1", first.FrameNumber)
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe()
	h.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}

	// publishing after unsubscribe must not panic
	h.Publish(event(1))
}

func TestHubRecentNewestFirst(t *testing.T) {
	h := NewHub()

	for n := uint64(1); n <= 10; n++ {
		h.Publish(event(n))
	}

	recent := h.Recent()
	if len(recent) != historySize {
		t.Fatalf("history length = %d, want %d", len(recent), historySize)
	}
	if recent[0].FrameNumber != 10 {
		t.Fatalf("newest entry = frame %d, want 10", recent[0].FrameNumber)
	}
	if recent[len(recent)-1].FrameNumber != 3 {
		t.Fatalf("oldest retained entry = frame %d, want 3", recent[len(recent)-1].FrameNumber)
	}

	// returned slice is a copy
	recent[0].FrameNumber = 999
	if h.Recent()[0].FrameNumber != 10 {
		t.Fatal("Recent must return a copy of the history")
	}
}
