package alert

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/openvigil/vigil/detection-server/internal/annotate"
	"github.com/openvigil/vigil/detection-server/internal/eventlog"
	"github.com/openvigil/vigil/detection-server/internal/logger"
	"github.com/openvigil/vigil/detection-server/internal/metrics"
	"github.com/openvigil/vigil/detection-server/pkg/types"
)

const logModule = "Alerts"

// DefaultCooldown is the minimum spacing between alerts for one class.
const DefaultCooldown = 60 * time.Second

// Notifier delivers one formatted alert. Implemented by the ntfy client.
type Notifier interface {
	SendDetection(ctx context.Context, topic, class string, confidence float64, priority string) error
}

// SnapshotSaver uploads an annotated frame for a qualifying alert.
type SnapshotSaver interface {
	Save(ctx context.Context, sessionID, class string, jpegData []byte, at time.Time) (string, error)
}

// Config fixes one session's alerting policy, derived from its settings.
type Config struct {
	Topic        string
	Priority     string
	PersonAlerts bool
	UserID       string
	SessionID    string
	Cooldown     time.Duration
	// Now overrides the cooldown clock; nil means wall time.
	Now func() time.Time
}

// Throttler applies the per-class cooldown before any alert side effect
// runs: notification, event persistence, snapshot upload. One instance
// lives per session and dies with it, so a restarted session alerts
// immediately.
type Throttler struct {
	cfg      Config
	notifier Notifier
	sink     eventlog.Sink
	snaps    SnapshotSaver
	m        *metrics.Metrics

	mu   sync.Mutex
	last map[string]time.Time

	now func() time.Time
}

func NewThrottler(cfg Config, notifier Notifier, sink eventlog.Sink, snaps SnapshotSaver, m *metrics.Metrics) *Throttler {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Priority == "" {
		cfg.Priority = "default"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Throttler{
		cfg:      cfg,
		notifier: notifier,
		sink:     sink,
		snaps:    snaps,
		m:        m,
		last:     make(map[string]time.Time),
		now:      now,
	}
}

// Process runs the alert policy over one frame's detections. The frame is
// the annotated render, used for snapshot evidence. Side effects are
// best-effort: failures are logged and never propagate to the caller.
func (t *Throttler) Process(ctx context.Context, dets []types.Detection, frame *types.Frame) {
	var jpegData []byte
	encodeOnce := func() []byte {
		if jpegData == nil && frame != nil {
			data, err := annotate.EncodeJPEG(frame.Image)
			if err != nil {
				logger.Error(logModule, "Failed to encode snapshot frame: %v", err)
				return nil
			}
			jpegData = data
		}
		return jpegData
	}

	for _, d := range dets {
		person := strings.EqualFold(d.Label, "person")
		if person && !t.cfg.PersonAlerts {
			continue
		}

		if !t.takeSlot(d.Label) {
			if t.m != nil {
				t.m.NotificationsSuppressed.Add(1)
			}
			continue
		}

		priority := t.cfg.Priority
		if person {
			priority = "urgent"
		}

		t.send(ctx, d, priority)
		t.logEvent(ctx, d)
		if t.snaps != nil {
			t.snapshot(ctx, d, encodeOnce())
		}
	}
}

// takeSlot checks the class cooldown and, when the alert qualifies,
// stamps the table in the same critical section.
func (t *Throttler) takeSlot(class string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.last[class]; ok && now.Sub(last) <= t.cfg.Cooldown {
		return false
	}
	t.last[class] = now
	return true
}

func (t *Throttler) send(ctx context.Context, d types.Detection, priority string) {
	if t.notifier == nil || t.cfg.Topic == "" {
		return
	}
	if err := t.notifier.SendDetection(ctx, t.cfg.Topic, d.Label, d.Confidence, priority); err != nil {
		if t.m != nil {
			t.m.NotificationErrors.Add(1)
		}
		logger.Error(logModule, "Failed to send notification for %s: %v", d.Label, err)
		return
	}
	if t.m != nil {
		t.m.NotificationsSent.Add(1)
	}
	logger.Info(logModule, "Notification sent for %s (%.2f)", d.Label, d.Confidence)
}

func (t *Throttler) logEvent(ctx context.Context, d types.Detection) {
	if t.sink == nil {
		return
	}
	ev := eventlog.Event{
		CreatedAt:  t.now(),
		SessionID:  t.cfg.SessionID,
		UserID:     t.cfg.UserID,
		ObjectType: d.Label,
		Confidence: d.Confidence,
	}
	if err := t.sink.LogEvent(ctx, ev); err != nil {
		if t.m != nil {
			t.m.EventLogErrors.Add(1)
		}
		logger.Error(logModule, "Failed to log detection event: %v", err)
		return
	}
	if t.m != nil {
		t.m.EventsLogged.Add(1)
	}
}

func (t *Throttler) snapshot(ctx context.Context, d types.Detection, jpegData []byte) {
	if t.snaps == nil || len(jpegData) == 0 {
		return
	}
	path, err := t.snaps.Save(ctx, t.cfg.SessionID, d.Label, jpegData, t.now())
	if err != nil {
		if t.m != nil {
			t.m.SnapshotErrors.Add(1)
		}
		logger.Error(logModule, "Failed to save snapshot for %s: %v", d.Label, err)
		return
	}
	if t.m != nil {
		t.m.SnapshotsSaved.Add(1)
	}
	logger.Debug(logModule, "Snapshot saved: %s", path)
}

// Reset clears the cooldown table.
func (t *Throttler) Reset() {
	t.mu.Lock()
	t.last = make(map[string]time.Time)
	t.mu.Unlock()
}
