package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSupabaseLogEvent(t *testing.T) {
	var (
		gotPath   string
		gotAPIKey string
		gotPrefer string
		gotBody   map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("apikey")
		gotPrefer = r.Header.Get("Prefer")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewSupabase(srv.URL+"/", "service-key")
	ev := Event{
		CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		SessionID:  "sess-1",
		UserID:     "user-from-token",
		ObjectType: "person",
		Confidence: 0.92,
	}
	if err := s.LogEvent(context.Background(), ev); err != nil {
		t.Fatalf("log event: %v", err)
	}

	if gotPath != "/rest/v1/detection_events" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAPIKey != "service-key" {
		t.Errorf("apikey = %q", gotAPIKey)
	}
	if gotPrefer != "return=minimal" {
		t.Errorf("prefer = %q", gotPrefer)
	}
	if gotBody["user_id"] != "user-from-token" {
		t.Errorf("user_id = %v", gotBody["user_id"])
	}
	if gotBody["object_type"] != "person" {
		t.Errorf("object_type = %v", gotBody["object_type"])
	}
	if gotBody["confidence"] != 0.92 {
		t.Errorf("confidence = %v", gotBody["confidence"])
	}
	if _, ok := gotBody["created_at"].(string); !ok {
		t.Errorf("created_at missing or not a string: %v", gotBody["created_at"])
	}
	if _, ok := gotBody["session_id"]; ok {
		t.Error("session_id should not be sent to the per-user table")
	}
}

func TestSupabaseLogEventRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"permission denied"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewSupabase(srv.URL, "bad-key")
	if err := s.LogEvent(context.Background(), Event{ObjectType: "dog"}); err == nil {
		t.Fatal("expected error for rejected event")
	}
}

type stubSink struct {
	name   string
	err    error
	events []Event
	closed bool
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) LogEvent(_ context.Context, ev Event) error {
	s.events = append(s.events, ev)
	return s.err
}

func (s *stubSink) Close() error {
	s.closed = true
	return nil
}

func TestFanoutDeliversToAllSinks(t *testing.T) {
	a := &stubSink{name: "a"}
	b := &stubSink{name: "b", err: errors.New("broker down")}
	c := &stubSink{name: "c"}

	f := NewFanout(a, nil, b, c)
	if f.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (nil sinks dropped)", f.Len())
	}

	err := f.LogEvent(context.Background(), Event{ObjectType: "cat"})
	if err == nil {
		t.Fatal("expected combined error from the failing sink")
	}
	for _, s := range []*stubSink{a, b, c} {
		if len(s.events) != 1 {
			t.Errorf("sink %s saw %d events, want 1", s.name, len(s.events))
		}
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !a.closed || !b.closed || !c.closed {
		t.Error("close must reach every sink")
	}
}
