package session

import (
	"context"
	"errors"
	"time"

	"github.com/openvigil/vigil/detection-server/internal/logger"
	"github.com/openvigil/vigil/detection-server/pkg/types"
)

const monitorModule = "Monitor"

// startMonitor launches the heartbeat monitor. The first session start
// brings it up and it outlives every session until StopMonitor.
func (s *Supervisor) startMonitor() {
	if !s.monitorOn.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.monitorCancel = cancel
	s.mu.Unlock()
	s.monitorWG.Add(1)
	go s.runMonitor(ctx)
}

// StopMonitor shuts the heartbeat monitor down. Called at process exit.
func (s *Supervisor) StopMonitor() {
	s.mu.Lock()
	cancel := s.monitorCancel
	s.monitorCancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.monitorWG.Wait()
	s.monitorOn.Store(false)
}

// runMonitor is the independent liveness worker. While a session is
// active it re-stamps the heartbeat each poll, and drives the automatic
// stop-and-restart cycle when the detection loop has died or the liveness
// signal has gone stale.
func (s *Supervisor) runMonitor(ctx context.Context) {
	defer s.monitorWG.Done()
	logger.Info(monitorModule, "Heartbeat monitor started")

	warnAge := 2 * s.cfg.HeartbeatInterval
	failAge := 3 * s.cfg.HeartbeatInterval

	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(monitorModule, "Heartbeat monitor stopped")
			return
		case <-ticker.C:
		}

		if s.State() != types.StateRunning {
			continue
		}

		age := s.HeartbeatAge()
		s.stampHeartbeat()

		loopDown := !s.loopRunning.Load()
		if loopDown || age > failAge {
			if loopDown {
				logger.Error(monitorModule, "Detection loop stopped unexpectedly while session is active")
			} else {
				logger.Error(monitorModule, "Heartbeat age %.1fs exceeds failure threshold %.1fs", age.Seconds(), failAge.Seconds())
			}
			s.restart(ctx)
			continue
		}

		if age > warnAge {
			logger.Warn(monitorModule, "Heartbeat age: %.1fs (threshold: %.1fs)", age.Seconds(), failAge.Seconds())
		}
	}
}

// restart drives the automatic recovery cycle: stop the dead session,
// wait out the grace period, start again with the saved settings. A
// failed start leaves the session in the Failed state for operators and
// HTTP clients to see.
func (s *Supervisor) restart(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	// a user stop may have won the race; nothing to recover then
	if s.State() != types.StateRunning {
		return
	}

	saved, ok := s.SettingsSnapshot()
	if !ok {
		return
	}

	logger.Info(monitorModule, "Attempting to restart detection automatically")
	if err := s.stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		logger.Error(monitorModule, "Failed to stop dead session: %v", err)
	}
	s.sleep(ctx, s.cfg.RestartGrace)

	if err := s.start(saved); err != nil {
		logger.Error(monitorModule, "Failed to restart detection: %v", err)
		if s.deps.Metrics != nil {
			s.deps.Metrics.RestartFailures.Add(1)
		}
		s.markFailed()
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionRestarts.Add(1)
	}
	logger.Info(monitorModule, "Detection restarted successfully")
}
