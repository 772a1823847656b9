package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const supabaseTimeout = 10 * time.Second

// Supabase writes detection events through the Supabase REST surface into
// the detection_events table. Credentials arrive per session from the
// client, so instances are created at session start and discarded at stop.
type Supabase struct {
	url    string
	apiKey string
	client *http.Client
}

func NewSupabase(url, apiKey string) *Supabase {
	return &Supabase{
		url:    strings.TrimRight(url, "/"),
		apiKey: apiKey,
		client: &http.Client{Timeout: supabaseTimeout},
	}
}

func (s *Supabase) Name() string { return "supabase" }

func (s *Supabase) LogEvent(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(map[string]any{
		"created_at":  ev.CreatedAt.Format(time.RFC3339),
		"user_id":     ev.UserID,
		"object_type": ev.ObjectType,
		"confidence":  ev.Confidence,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/rest/v1/detection_events", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build event request: %w", err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("event rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (s *Supabase) Close() error { return nil }
