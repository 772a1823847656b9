package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openvigil/vigil/detection-server/pkg/types"
)

func testFrame(t *testing.T) *types.Frame {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	return &types.Frame{Image: img, Timestamp: time.Now(), Number: 1, Width: 32, Height: 24}
}

func TestRemoteLoadIsIdempotent(t *testing.T) {
	var loads atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/load" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode load body: %v", err)
		}
		if body["model"] != "yolo11m.pt" {
			t.Errorf("model = %q, want yolo11m.pt", body["model"])
		}
		loads.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "yolo11m.pt")
	if r.Loaded() {
		t.Fatal("model must not report loaded before Load")
	}
	for i := 0; i < 3; i++ {
		if err := r.Load(context.Background()); err != nil {
			t.Fatalf("load %d: %v", i+1, err)
		}
	}
	if got := loads.Load(); got != 1 {
		t.Fatalf("service saw %d load calls, want 1", got)
	}
	if !r.Loaded() {
		t.Fatal("model should report loaded after Load")
	}
}

func TestRemoteLoadFailureLeavesNotLoaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such model", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "missing.pt")
	if err := r.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if r.Loaded() {
		t.Fatal("failed load must not mark the model loaded")
	}
}

func TestRemoteInfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("confidence"); got != "0.50" {
			t.Errorf("confidence = %q, want 0.50", got)
		}
		if got := r.Header.Get("Content-Type"); got != "image/jpeg" {
			t.Errorf("content type = %q, want image/jpeg", got)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if _, err := jpeg.DecodeConfig(bytes.NewReader(body)); err != nil {
			t.Errorf("body is not a valid jpeg: %v", err)
		}

		resp := map[string]any{
			"detections": []map[string]any{
				{
					"class":      "person",
					"confidence": 0.92,
					"box":        map[string]int{"x1": 10, "y1": 20, "x2": 110, "y2": 220},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "yolo11m.pt")
	dets, err := r.Infer(context.Background(), testFrame(t), 0.5)
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("got %d detections, want 1", len(dets))
	}
	d := dets[0]
	if d.Label != "person" || d.Confidence != 0.92 {
		t.Fatalf("unexpected detection %+v", d)
	}
	if d.Box != (types.Box{X1: 10, Y1: 20, X2: 110, Y2: 220}) {
		t.Fatalf("unexpected box %+v", d.Box)
	}
}

func TestRemoteInferServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewRemote(srv.URL, "yolo11m.pt")
	if _, err := r.Infer(context.Background(), testFrame(t), 0.5); err == nil {
		t.Fatal("expected inference error")
	}
}
