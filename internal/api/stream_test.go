package api

import (
	"bytes"
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openvigil/vigil/detection-server/internal/annotate"
	"github.com/openvigil/vigil/detection-server/internal/feed"
	"github.com/openvigil/vigil/detection-server/pkg/types"
)

// videoFeedOnce drives /video_feed with an already-cancelled request
// context, so the handler writes exactly one multipart chunk and returns.
func videoFeedOnce(t *testing.T, rig *apiRig) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/video_feed", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, req)
	return rec
}

func TestVideoFeedPlaceholderWhenStopped(t *testing.T) {
	rig := newAPIRig(t)

	rec := videoFeedOnce(t, rig)
	if ct := rec.Header().Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("Content-Type = %q", ct)
	}

	want := append([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n"), placeholderJPEG("Camera feed not available")...)
	want = append(want, '\r', '\n')
	if !bytes.Equal(rec.Body.Bytes(), want) {
		t.Fatalf("body = %d bytes, want the inactive placeholder chunk (%d bytes)", rec.Body.Len(), len(want))
	}
}

func TestVideoFeedFollowsSessionState(t *testing.T) {
	rig := newAPIRig(t)

	if rec := rig.do(t, http.MethodPost, "/start", startBody, nil); rec.Code != http.StatusOK {
		t.Fatalf("start status = %d (body %s)", rec.Code, rec.Body.String())
	}

	// The rig's engine never finishes inference, so the slot stays empty
	// until the test publishes a frame itself.
	rec := videoFeedOnce(t, rig)
	if !bytes.Contains(rec.Body.Bytes(), placeholderJPEG("Waiting for camera feed...")) {
		t.Fatal("running session with an empty slot should stream the waiting placeholder")
	}

	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for i := range img.Pix {
		img.Pix[i] = 0xEE
	}
	rig.slot.Publish(&types.Frame{Image: img, Timestamp: time.Now(), Number: 7, Width: 32, Height: 24})

	wantJPEG, err := annotate.EncodeJPEG(img)
	if err != nil {
		t.Fatalf("encoding expected frame: %v", err)
	}
	rec = videoFeedOnce(t, rig)
	if !bytes.Contains(rec.Body.Bytes(), wantJPEG) {
		t.Fatal("stream should carry the published frame")
	}
}

func TestWebSocketDetectionFeed(t *testing.T) {
	rig := newAPIRig(t)
	srv := httptest.NewServer(rig.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/detections"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", wsURL, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Publish until the read lands; the subscription may trail the dial
	// by a scheduling beat.
	ev := feed.Event{SessionID: "sess-9", FrameNumber: 42, Labels: []string{"person"}}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				rig.hub.Publish(ev)
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got feed.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if got.SessionID != "sess-9" || got.FrameNumber != 42 {
		t.Fatalf("event = %+v", got)
	}
	if len(got.Labels) != 1 || got.Labels[0] != "person" {
		t.Fatalf("labels = %v", got.Labels)
	}
}
