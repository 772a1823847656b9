package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/openvigil/vigil/detection-server/internal/alert"
	"github.com/openvigil/vigil/detection-server/internal/capture"
	"github.com/openvigil/vigil/detection-server/internal/eventlog"
	"github.com/openvigil/vigil/detection-server/internal/feed"
	"github.com/openvigil/vigil/detection-server/internal/frameslot"
	"github.com/openvigil/vigil/detection-server/internal/logger"
	"github.com/openvigil/vigil/detection-server/internal/metrics"
	"github.com/openvigil/vigil/detection-server/pkg/types"
)

const logModule = "Session"

// Pipeline pacing and recovery policy defaults.
const (
	DefaultDetectionInterval = time.Second
	DefaultConfidence        = 0.5
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultMonitorInterval   = 3 * time.Second
	DefaultRestartGrace      = 2 * time.Second
	DefaultPublishInterval   = 33 * time.Millisecond
	DefaultMaxFrameEdge      = 480

	idleDoze              = 100 * time.Millisecond
	readFailureDelay      = time.Second
	inferenceFailureDelay = 500 * time.Millisecond
)

var (
	// ErrAlreadyRunning rejects a start while a session is active
	ErrAlreadyRunning = errors.New("detection is already running")

	// ErrNotRunning rejects a stop with no session to stop
	ErrNotRunning = errors.New("detection is not running")

	// ErrMissingLocator rejects a start request without a camera URL
	ErrMissingLocator = capture.ErrMissingLocator

	// ErrModelLoad means the inference model could not be loaded at start
	ErrModelLoad = errors.New("failed to load detection model")
)

// Engine is the inference collaborator the supervisor drives.
type Engine interface {
	Load(ctx context.Context) error
	Loaded() bool
	Infer(ctx context.Context, frame *types.Frame, confidence float64) ([]types.Detection, error)
}

// Config tunes one supervisor. Zero values fall back to the defaults.
type Config struct {
	DetectionInterval   time.Duration
	ConfidenceThreshold float64
	HeartbeatInterval   time.Duration
	MonitorInterval     time.Duration
	RestartGrace        time.Duration
	PublishInterval     time.Duration
	MaxFrameEdge        int
	Watchdog            capture.Config
}

func (c Config) withDefaults() Config {
	if c.DetectionInterval <= 0 {
		c.DetectionInterval = DefaultDetectionInterval
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = DefaultConfidence
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = DefaultMonitorInterval
	}
	if c.RestartGrace <= 0 {
		c.RestartGrace = DefaultRestartGrace
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = DefaultPublishInterval
	}
	if c.MaxFrameEdge <= 0 {
		c.MaxFrameEdge = DefaultMaxFrameEdge
	}
	return c
}

// Deps are the collaborators one supervisor wires together.
type Deps struct {
	Engine   Engine
	Open     capture.Opener
	Notifier alert.Notifier
	// StaticSinks are the operator-configured event sinks that live for
	// the whole process. Per-session persistence credentials add a
	// session-scoped sink on top.
	StaticSinks []eventlog.Sink
	Snapshots   alert.SnapshotSaver
	Slot        *frameslot.Slot
	Feed        *feed.Hub
	Metrics     *metrics.Metrics
}

// Supervisor owns the session state machine: at most one detection session
// at a time, started and stopped on demand, restarted by the heartbeat
// monitor when the worker dies underneath it.
type Supervisor struct {
	cfg  Config
	deps Deps

	// opMu serializes lifecycle transitions (start, stop, restart);
	// mu guards the snapshot fields read by status consumers.
	opMu sync.Mutex
	mu   sync.RWMutex

	state      types.SessionState
	settings   *types.Settings
	sessionID  string
	throttler  *alert.Throttler
	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup

	loopRunning atomic.Bool
	lastBeat    atomic.Int64 // unix nanos

	monitorOn     atomic.Bool
	monitorCancel context.CancelFunc
	monitorWG     sync.WaitGroup

	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

func New(cfg Config, deps Deps) *Supervisor {
	s := &Supervisor{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		state: types.StateStopped,
		now:   time.Now,
		sleep: sleepCtx,
	}
	if deps.Metrics != nil {
		deps.Metrics.SetHeartbeatAgeFunc(func() float64 {
			return s.HeartbeatAge().Seconds()
		})
	}
	return s
}

// Start brings up a detection session from the Stopped or Failed state.
func (s *Supervisor) Start(settings types.Settings) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.start(settings)
}

func (s *Supervisor) start(settings types.Settings) error {
	if s.State() == types.StateRunning {
		return ErrAlreadyRunning
	}

	s.stampHeartbeat()

	loc, err := capture.ParseLocator(settings.CameraURL, settings.CameraPort)
	if err != nil {
		return err
	}

	if !s.deps.Engine.Loaded() {
		if err := s.deps.Engine.Load(context.Background()); err != nil {
			return fmt.Errorf("%w: %v", ErrModelLoad, err)
		}
	}

	wd := capture.NewWatchdog(loc, s.deps.Open, s.cfg.Watchdog, s.deps.Metrics)
	wd.SetClocks(s.now, s.sleep)
	logger.Info(logModule, "Opening video stream: %s", loc)
	if err := wd.Open(context.Background()); err != nil {
		return err
	}

	id := uuid.NewString()
	th := alert.NewThrottler(alert.Config{
		Topic:        settings.NtfyTopic,
		Priority:     settings.NtfyPriority,
		PersonAlerts: settings.EnablePersonDetection,
		UserID:       userID(settings),
		SessionID:    id,
		Now:          s.now,
	}, s.deps.Notifier, s.sessionSink(settings), s.deps.Snapshots, s.deps.Metrics)

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	saved := settings
	s.settings = &saved
	s.sessionID = id
	s.throttler = th
	s.loopCancel = cancel
	s.setStateLocked(types.StateRunning)
	s.mu.Unlock()

	s.loopRunning.Store(true)
	s.loopWG.Add(1)
	go s.runLoop(ctx, wd, th, id)

	s.startMonitor()

	logger.Info(logModule, "Detection started (session %s)", id)
	return nil
}

// Stop tears the active session down: the loop is joined, the frame slot
// and cooldown table are cleared, and the state returns to Stopped.
func (s *Supervisor) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stop()
}

func (s *Supervisor) stop() error {
	s.mu.Lock()
	if s.state == types.StateStopped {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cancel := s.loopCancel
	s.loopCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.loopWG.Wait()

	s.mu.Lock()
	if s.deps.Slot != nil {
		s.deps.Slot.Clear()
	}
	if s.throttler != nil {
		s.throttler.Reset()
	}
	s.throttler = nil
	s.settings = nil
	s.sessionID = ""
	s.setStateLocked(types.StateStopped)
	s.mu.Unlock()

	logger.Info(logModule, "Detection stopped")
	return nil
}

// sessionSink composes the event sinks for one session: the per-session
// persistence service when the client enabled logging and supplied
// credentials, plus the operator's static sinks. Returns nil when nothing
// is wired so callers can skip event dispatch entirely.
func (s *Supervisor) sessionSink(settings types.Settings) eventlog.Sink {
	sinks := make([]eventlog.Sink, 0, len(s.deps.StaticSinks)+1)
	if settings.EnableLogging && settings.SupabaseURL != "" && settings.SupabaseKey != "" {
		sinks = append(sinks, eventlog.NewSupabase(settings.SupabaseURL, settings.SupabaseKey))
	}
	sinks = append(sinks, s.deps.StaticSinks...)
	if len(sinks) == 0 {
		return nil
	}
	return eventlog.NewFanout(sinks...)
}

func userID(settings types.Settings) string {
	if settings.UserID == "" {
		return "unknown-user"
	}
	return settings.UserID
}

// Status is the externally visible session snapshot.
type Status struct {
	State         types.SessionState
	SessionID     string
	Active        bool
	ModelLoaded   bool
	MonitorActive bool
	HeartbeatAge  time.Duration
}

func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		State:         s.state,
		SessionID:     s.sessionID,
		Active:        s.state == types.StateRunning,
		ModelLoaded:   s.deps.Engine.Loaded(),
		MonitorActive: s.monitorOn.Load(),
		HeartbeatAge:  s.HeartbeatAge(),
	}
}

// State returns the current session state.
func (s *Supervisor) State() types.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SettingsSnapshot returns a copy of the active session's settings.
func (s *Supervisor) SettingsSnapshot() (types.Settings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return types.Settings{}, false
	}
	return *s.settings, true
}

// Heartbeat stamps the external liveness signal. Exposed to HTTP clients
// that want to prove the server is being watched.
func (s *Supervisor) Heartbeat() {
	s.stampHeartbeat()
}

// HeartbeatAge reports how long ago the liveness signal was stamped.
func (s *Supervisor) HeartbeatAge() time.Duration {
	last := s.lastBeat.Load()
	if last == 0 {
		return 0
	}
	return s.now().Sub(time.Unix(0, last))
}

// LoopRunning reports whether the detection worker goroutine is alive.
func (s *Supervisor) LoopRunning() bool {
	return s.loopRunning.Load()
}

func (s *Supervisor) stampHeartbeat() {
	s.lastBeat.Store(s.now().UnixNano())
}

func (s *Supervisor) setStateLocked(state types.SessionState) {
	s.state = state
	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionState.Store(int64(state))
	}
}

func (s *Supervisor) markFailed() {
	s.mu.Lock()
	s.setStateLocked(types.StateFailed)
	if s.deps.Slot != nil {
		s.deps.Slot.Clear()
	}
	s.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
