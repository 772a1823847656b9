package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/openvigil/vigil/detection-server/internal/alert"
	"github.com/openvigil/vigil/detection-server/internal/annotate"
	"github.com/openvigil/vigil/detection-server/internal/capture"
	"github.com/openvigil/vigil/detection-server/internal/feed"
	"github.com/openvigil/vigil/detection-server/internal/logger"
	"github.com/openvigil/vigil/detection-server/pkg/types"
)

// runLoop is the detection worker: paced inference over watchdog frames,
// annotation, slot publishes, alert dispatch. It exits on cancellation or
// terminal capture failure, never on a per-iteration error.
func (s *Supervisor) runLoop(ctx context.Context, wd *capture.Watchdog, th *alert.Throttler, sessionID string) {
	defer s.loopWG.Done()
	defer s.loopRunning.Store(false)
	defer wd.Close()

	logger.Info(logModule, "Detection loop started")

	m := s.deps.Metrics
	var (
		lastDetection time.Time
		lastPublish   time.Time
	)

	for ctx.Err() == nil {
		if s.now().Sub(lastDetection) < s.cfg.DetectionInterval {
			s.sleep(ctx, idleDoze)
			continue
		}

		frame, err := wd.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, capture.ErrTerminalFailure) {
				logger.Error(logModule, "Capture failed terminally: %v", err)
				break
			}
			if ctx.Err() != nil {
				break
			}
			logger.Warn(logModule, "Failed to read frame from stream: %v", err)
			s.sleep(ctx, readFailureDelay)
			continue
		}
		lastDetection = s.now()

		inferStart := s.now()
		dets, err := s.deps.Engine.Infer(ctx, frame, s.cfg.ConfidenceThreshold)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if m != nil {
				m.InferenceErrors.Add(1)
			}
			logger.Error(logModule, "Error during detection: %v", err)
			s.sleep(ctx, inferenceFailureDelay)
			continue
		}
		if m != nil {
			m.InferenceRuns.Add(1)
			m.UpdateInferenceLatency(s.now().Sub(inferStart))
		}

		annotated := annotate.DrawDetections(frame.Image, dets)
		scaled := annotate.Downscale(annotated, s.cfg.MaxFrameEdge)
		out := &types.Frame{
			Image:     scaled,
			Timestamp: frame.Timestamp,
			Number:    frame.Number,
			Width:     scaled.Bounds().Dx(),
			Height:    scaled.Bounds().Dy(),
		}

		if s.deps.Slot != nil && s.now().Sub(lastPublish) >= s.cfg.PublishInterval {
			s.deps.Slot.Publish(out)
			lastPublish = s.now()
		}

		if len(dets) == 0 {
			continue
		}
		if m != nil {
			m.ObjectsDetected.Add(uint64(len(dets)))
		}
		labels := lo.Uniq(lo.Map(dets, func(d types.Detection, _ int) string { return d.Label }))
		logger.Debug(logModule, "Detected %s in frame %d", strings.Join(labels, ", "), frame.Number)

		th.Process(ctx, dets, out)

		if s.deps.Feed != nil {
			s.deps.Feed.Publish(feed.Event{
				SessionID:   sessionID,
				Timestamp:   frame.Timestamp,
				FrameNumber: frame.Number,
				Detections:  dets,
				Labels:      labels,
			})
		}
	}

	logger.Info(logModule, "Detection loop ended")
}
