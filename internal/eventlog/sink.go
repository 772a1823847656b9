package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Event is one detection worth persisting.
type Event struct {
	CreatedAt  time.Time `json:"created_at"`
	SessionID  string    `json:"session_id,omitempty"`
	UserID     string    `json:"user_id"`
	ObjectType string    `json:"object_type"`
	Confidence float64   `json:"confidence"`
}

// Sink records detection events somewhere durable. Writes are best-effort
// from the pipeline's point of view: callers log failures and move on.
type Sink interface {
	Name() string
	LogEvent(ctx context.Context, ev Event) error
	Close() error
}

// Fanout delivers each event to every sink. One failing sink never stops
// delivery to the others; the combined error reports every failure.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Fanout{sinks: kept}
}

func (f *Fanout) Name() string { return "fanout" }

// Len returns the number of wired sinks.
func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) LogEvent(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.LogEvent(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
