package capture

import (
	"context"
	"time"

	"github.com/openvigil/vigil/detection-server/internal/logger"
	"github.com/openvigil/vigil/detection-server/internal/metrics"
	"github.com/openvigil/vigil/detection-server/pkg/types"
)

const logModule = "Capture"

// Config tunes the watchdog's reconnect policy. Zero values fall back to
// the defaults.
type Config struct {
	// MaxConsecutiveErrors is how many reads may fail in a row before the
	// handle is released and reopened.
	MaxConsecutiveErrors int
	// MaxReconnectAttempts bounds failed reopen attempts before the stream
	// is declared dead.
	MaxReconnectAttempts int
	// FailureBackoff is the wait after an error-threshold release, before
	// the reopen.
	FailureBackoff time.Duration
	// ReconnectDelay is the wait between failed reconnect attempts.
	ReconnectDelay time.Duration
	// SettleDelay is the wait after a successful reopen before the handle
	// is used.
	SettleDelay time.Duration
	// StuckReadTimeout discards the handle when a single blocking read
	// takes longer than this.
	StuckReadTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConsecutiveErrors: 10,
		MaxReconnectAttempts: 5,
		FailureBackoff:       2 * time.Second,
		ReconnectDelay:       3 * time.Second,
		SettleDelay:          time.Second,
		StuckReadTimeout:     10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = d.FailureBackoff
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.StuckReadTimeout <= 0 {
		c.StuckReadTimeout = d.StuckReadTimeout
	}
	return c
}

// Watchdog owns the capture handle for one session: it reads frames, counts
// consecutive failures, and replaces the handle when the stream goes bad.
// Once the maximum reconnect attempts are exhausted every further call
// returns ErrTerminalFailure. Not safe for concurrent use; the detection
// loop is the sole caller.
type Watchdog struct {
	locator Locator
	open    Opener
	cfg     Config
	m       *metrics.Metrics

	src               Source
	consecutiveErrors int
	reconnectAttempts int
	terminal          bool

	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

func NewWatchdog(loc Locator, open Opener, cfg Config, m *metrics.Metrics) *Watchdog {
	return &Watchdog{
		locator: loc,
		open:    open,
		cfg:     cfg.withDefaults(),
		m:       m,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// SetClocks overrides the time source and sleeper so a caller can drive
// the watchdog from its own clock.
func (w *Watchdog) SetClocks(now func() time.Time, sleep func(context.Context, time.Duration)) {
	if now != nil {
		w.now = now
	}
	if sleep != nil {
		w.sleep = sleep
	}
}

// Open establishes the initial capture handle. A failure here is reported
// to the caller without counting as a reconnect attempt.
func (w *Watchdog) Open(ctx context.Context) error {
	src, err := w.open(w.locator)
	if err != nil {
		return err
	}
	w.src = src
	w.consecutiveErrors = 0
	w.reconnectAttempts = 0
	w.terminal = false
	logger.Info(logModule, "Opened video stream: %s", w.locator)
	return nil
}

// ReadFrame returns the next frame from the stream.
//
// Transient failures come back as errors wrapping ErrReadFailed or
// ErrStuckRead and the caller is expected to retry. Internally the watchdog
// escalates: hitting the consecutive-error threshold releases the handle,
// backs off, and reopens; a read exceeding the stuck threshold releases the
// handle so the next call reopens; reconnects that keep failing eventually
// exceed the attempt limit, after which ReadFrame returns
// ErrTerminalFailure forever.
func (w *Watchdog) ReadFrame(ctx context.Context) (*types.Frame, error) {
	if w.terminal {
		return nil, ErrTerminalFailure
	}

	if w.src == nil {
		if err := w.reconnect(ctx); err != nil {
			return nil, err
		}
	}

	start := w.now()
	frame, err := w.src.Read()
	if elapsed := w.now().Sub(start); elapsed > w.cfg.StuckReadTimeout {
		logger.Warn(logModule, "Frame read took %.1fs, stream may be stuck", elapsed.Seconds())
		if w.m != nil {
			w.m.StuckReads.Add(1)
		}
		w.release()
		return nil, ErrStuckRead
	}
	if err != nil {
		w.consecutiveErrors++
		if w.m != nil {
			w.m.FrameReadErrors.Add(1)
		}
		if w.consecutiveErrors >= w.cfg.MaxConsecutiveErrors {
			logger.Warn(logModule, "%d consecutive read failures, reconnecting to stream", w.consecutiveErrors)
			w.consecutiveErrors = 0
			w.release()
			w.sleep(ctx, w.cfg.FailureBackoff)
			if rerr := w.reconnect(ctx); rerr != nil {
				return nil, rerr
			}
		}
		return nil, err
	}

	w.consecutiveErrors = 0
	if w.m != nil {
		w.m.FramesRead.Add(1)
	}
	return frame, nil
}

// Terminal reports whether reconnect attempts have been exhausted.
func (w *Watchdog) Terminal() bool {
	return w.terminal
}

// Close releases the capture handle.
func (w *Watchdog) Close() {
	w.release()
}

// reconnect replaces the capture handle. Each failure counts one attempt
// toward the limit; success resets both the attempt and error counters.
func (w *Watchdog) reconnect(ctx context.Context) error {
	w.release()

	src, err := w.open(w.locator)
	if err == nil {
		w.sleep(ctx, w.cfg.SettleDelay)
		w.src = src
		w.consecutiveErrors = 0
		w.reconnectAttempts = 0
		if w.m != nil {
			w.m.Reconnects.Add(1)
		}
		logger.Info(logModule, "Reconnected to stream: %s", w.locator)
		return nil
	}

	w.reconnectAttempts++
	logger.Error(logModule, "Reconnect attempt %d/%d failed: %v", w.reconnectAttempts, w.cfg.MaxReconnectAttempts, err)
	if w.reconnectAttempts >= w.cfg.MaxReconnectAttempts {
		w.terminal = true
		if w.m != nil {
			w.m.TerminalFailures.Add(1)
		}
		return ErrTerminalFailure
	}
	w.sleep(ctx, w.cfg.ReconnectDelay)
	return err
}

func (w *Watchdog) release() {
	if w.src == nil {
		return
	}
	if err := w.src.Close(); err != nil {
		logger.Warn(logModule, "Error releasing capture handle: %v", err)
	}
	w.src = nil
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
