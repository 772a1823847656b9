package frameslot

import (
	"sync"
	"sync/atomic"

	"github.com/openvigil/vigil/detection-server/internal/metrics"
	"github.com/openvigil/vigil/detection-server/pkg/types"
)

// Slot is a single-entry latest-frame mailbox: one producer overwrites,
// any number of consumers poll. Neither side ever blocks on the other
// beyond the pointer swap.
type Slot struct {
	mu    sync.Mutex
	frame *types.Frame
	seen  bool
	m     *metrics.Metrics

	published atomic.Uint64
	dropped   atomic.Uint64
	consumed  atomic.Uint64
}

func New(m *metrics.Metrics) *Slot {
	return &Slot{m: m}
}

// Publish replaces the slot contents with a newer frame.
func (s *Slot) Publish(f *types.Frame) {
	s.mu.Lock()
	if s.frame != nil && !s.seen {
		s.dropped.Add(1)
		if s.m != nil {
			s.m.FramesDropped.Add(1)
		}
	}
	s.frame = f
	s.seen = false
	s.mu.Unlock()
	s.published.Add(1)
	if s.m != nil {
		s.m.FramesPublished.Add(1)
	}
}

// Consume returns the newest frame, or nil when the slot is empty. The
// frame stays in the slot so several consumers can observe it.
func (s *Slot) Consume() *types.Frame {
	s.mu.Lock()
	f := s.frame
	if f != nil {
		s.seen = true
	}
	s.mu.Unlock()
	if f != nil {
		s.consumed.Add(1)
	}
	return f
}

// Clear empties the slot.
func (s *Slot) Clear() {
	s.mu.Lock()
	s.frame = nil
	s.seen = false
	s.mu.Unlock()
}

// Stats reports lifetime publish, overwrite-before-read, and consume
// counts.
func (s *Slot) Stats() (published, dropped, consumed uint64) {
	return s.published.Load(), s.dropped.Load(), s.consumed.Load()
}
