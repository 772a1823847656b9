package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openvigil/vigil/detection-server/pkg/types"
)

type fakeSource struct {
	read   func() (*types.Frame, error)
	closes int
}

func (f *fakeSource) Read() (*types.Frame, error) { return f.read() }

func (f *fakeSource) Close() error {
	f.closes++
	return nil
}

// failNTimes returns a read func that fails n times before succeeding
// forever.
func failNTimes(n int) func() (*types.Frame, error) {
	count := 0
	return func() (*types.Frame, error) {
		count++
		if count <= n {
			return nil, ErrReadFailed
		}
		return &types.Frame{Number: uint64(count)}, nil
	}
}

func newTestWatchdog(t *testing.T, open Opener) (*Watchdog, *[]time.Duration) {
	t.Helper()
	wd := NewWatchdog(Locator{URL: "http://cam.test"}, open, DefaultConfig(), nil)
	var sleeps []time.Duration
	wd.sleep = func(_ context.Context, d time.Duration) {
		sleeps = append(sleeps, d)
	}
	return wd, &sleeps
}

func TestWatchdogRecoversWithinErrorThreshold(t *testing.T) {
	opens := 0
	src := &fakeSource{read: failNTimes(9)}
	wd, _ := newTestWatchdog(t, func(Locator) (Source, error) {
		opens++
		return src, nil
	})

	if err := wd.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := 0; i < 9; i++ {
		if _, err := wd.ReadFrame(context.Background()); !errors.Is(err, ErrReadFailed) {
			t.Fatalf("read %d: expected ErrReadFailed, got %v", i+1, err)
		}
	}
	frame, err := wd.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("read after recovery: %v", err)
	}
	if frame == nil {
		t.Fatal("expected a frame after recovery")
	}
	if opens != 1 {
		t.Fatalf("expected no reconnect below the error threshold, source opened %d times", opens)
	}
	if src.closes != 0 {
		t.Fatalf("expected handle to stay open, closed %d times", src.closes)
	}
}

func TestWatchdogReconnectsAtErrorThreshold(t *testing.T) {
	opens := 0
	first := &fakeSource{read: failNTimes(1000)}
	second := &fakeSource{read: failNTimes(0)}
	wd, sleeps := newTestWatchdog(t, func(Locator) (Source, error) {
		opens++
		if opens == 1 {
			return first, nil
		}
		return second, nil
	})

	if err := wd.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := 0; i < 10; i++ {
		if _, err := wd.ReadFrame(context.Background()); !errors.Is(err, ErrReadFailed) {
			t.Fatalf("read %d: expected ErrReadFailed, got %v", i+1, err)
		}
	}

	if opens != 2 {
		t.Fatalf("expected exactly one reconnect at the threshold, source opened %d times", opens)
	}
	if first.closes != 1 {
		t.Fatalf("expected original handle released once, closed %d times", first.closes)
	}

	frame, err := wd.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("read after reconnect: %v", err)
	}
	if frame == nil {
		t.Fatal("expected a frame from the replacement handle")
	}

	cfg := DefaultConfig()
	var sawBackoff, sawSettle bool
	for _, d := range *sleeps {
		if d == cfg.FailureBackoff {
			sawBackoff = true
		}
		if d == cfg.SettleDelay {
			sawSettle = true
		}
	}
	if !sawBackoff {
		t.Errorf("expected a %v backoff before the reconnect, slept %v", cfg.FailureBackoff, *sleeps)
	}
	if !sawSettle {
		t.Errorf("expected a %v settle after the reconnect, slept %v", cfg.SettleDelay, *sleeps)
	}
}

func TestWatchdogStuckReadForcesReconnect(t *testing.T) {
	now := time.Unix(1000, 0)
	opens := 0
	stuck := &fakeSource{}
	stuck.read = func() (*types.Frame, error) {
		now = now.Add(11 * time.Second)
		return &types.Frame{Number: 1}, nil
	}
	healthy := &fakeSource{read: failNTimes(0)}

	wd, _ := newTestWatchdog(t, func(Locator) (Source, error) {
		opens++
		if opens == 1 {
			return stuck, nil
		}
		return healthy, nil
	})
	wd.now = func() time.Time { return now }

	if err := wd.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := wd.ReadFrame(context.Background()); !errors.Is(err, ErrStuckRead) {
		t.Fatalf("expected ErrStuckRead, got %v", err)
	}
	if stuck.closes != 1 {
		t.Fatalf("expected stuck handle released, closed %d times", stuck.closes)
	}

	frame, err := wd.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("read after stuck reconnect: %v", err)
	}
	if frame == nil {
		t.Fatal("expected a frame from the replacement handle")
	}
	if opens != 2 {
		t.Fatalf("expected a reconnect after the stuck read, source opened %d times", opens)
	}
}

func TestWatchdogTerminalAfterMaxReconnects(t *testing.T) {
	opens := 0
	src := &fakeSource{read: failNTimes(1000)}
	wd, _ := newTestWatchdog(t, func(Locator) (Source, error) {
		opens++
		if opens == 1 {
			return src, nil
		}
		return nil, ErrOpenFailed
	})

	if err := wd.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}

	var sawTerminal bool
	for i := 0; i < 30; i++ {
		_, err := wd.ReadFrame(context.Background())
		if errors.Is(err, ErrTerminalFailure) {
			sawTerminal = true
			break
		}
		if err == nil {
			t.Fatalf("read %d: expected an error from a dead stream", i+1)
		}
	}
	if !sawTerminal {
		t.Fatal("watchdog never became terminal with a dead stream")
	}
	if !wd.Terminal() {
		t.Fatal("Terminal() should report true after reconnects run out")
	}

	cfg := DefaultConfig()
	wantOpens := 1 + cfg.MaxReconnectAttempts
	if opens != wantOpens {
		t.Fatalf("expected %d open attempts (initial + reconnects), got %d", wantOpens, opens)
	}

	if _, err := wd.ReadFrame(context.Background()); !errors.Is(err, ErrTerminalFailure) {
		t.Fatalf("expected ErrTerminalFailure after terminal, got %v", err)
	}
	if opens != wantOpens {
		t.Fatalf("terminal watchdog attempted another open, total %d", opens)
	}
}

func TestWatchdogOpenFailureDoesNotCountAsReconnect(t *testing.T) {
	opens := 0
	wd, _ := newTestWatchdog(t, func(Locator) (Source, error) {
		opens++
		return nil, ErrOpenFailed
	})

	if err := wd.Open(context.Background()); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed, got %v", err)
	}
	if wd.Terminal() {
		t.Fatal("initial open failure must not make the watchdog terminal")
	}
	if opens != 1 {
		t.Fatalf("expected a single open attempt, got %d", opens)
	}
}

func TestSyntheticSource(t *testing.T) {
	src := NewSynthetic(64, 48)
	src.interval = 0

	first, err := src.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	second, err := src.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if second.Number != first.Number+1 {
		t.Fatalf("frame numbers must increase: %d then %d", first.Number, second.Number)
	}
	if first.Width != 64 || first.Height != 48 {
		t.Fatalf("unexpected frame size %dx%d", first.Width, first.Height)
	}
	b := first.Image.Bounds()
	if b.Dx() != 64 || b.Dy() != 48 {
		t.Fatalf("unexpected image bounds %v", b)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := src.Read(); err == nil {
		t.Fatal("expected read after close to fail")
	}
}
