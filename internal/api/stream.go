package api

import (
	"io"
	"net/http"
	"time"

	"github.com/openvigil/vigil/detection-server/internal/annotate"
	"github.com/openvigil/vigil/detection-server/internal/logger"
	"github.com/openvigil/vigil/detection-server/pkg/types"
)

const (
	placeholderWidth  = 640
	placeholderHeight = 480

	// streamInterval paces the multipart stream at roughly 30 fps.
	streamInterval = 33 * time.Millisecond
)

func placeholderJPEG(text string) []byte {
	data, err := annotate.EncodeJPEG(annotate.TextFrame(placeholderWidth, placeholderHeight, text))
	if err != nil {
		logger.Error(logModule, "Failed to encode placeholder frame: %v", err)
		return nil
	}
	return data
}

type jpegProvider func() []byte

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	var (
		lastNumber uint64
		lastJPEG   []byte
	)

	// The detection loop publishes around one annotated frame per second
	// while the stream ticks every 33ms, so the encoded bytes are reused
	// until a new frame number shows up in the slot.
	provider := func() []byte {
		if s.sup.State() != types.StateRunning {
			return s.inactiveJPEG
		}
		frame := s.slot.Consume()
		if frame == nil {
			return s.waitingJPEG
		}
		if lastJPEG != nil && frame.Number == lastNumber {
			return lastJPEG
		}
		data, err := annotate.EncodeJPEG(frame.Image)
		if err != nil {
			logger.Error(logModule, "Failed to encode stream frame: %v", err)
			return s.waitingJPEG
		}
		lastNumber = frame.Number
		lastJPEG = data
		return data
	}

	streamMJPEG(w, r, streamInterval, provider)
}

func streamMJPEG(w http.ResponseWriter, r *http.Request, interval time.Duration, provider jpegProvider) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := writeMJPEGPart(w, provider()); err != nil {
			logger.Debug(logModule, "MJPEG client disconnected: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeMJPEGPart(w io.Writer, data []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
