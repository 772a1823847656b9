package capture

import "errors"

var (
	// ErrMissingLocator rejects a start request that carries no camera URL
	ErrMissingLocator = errors.New("camera URL is required")

	// ErrOpenFailed means the stream could not be opened
	ErrOpenFailed = errors.New("failed to open video stream")

	// ErrReadFailed means a single frame read failed; retried by the watchdog
	ErrReadFailed = errors.New("failed to read frame from stream")

	// ErrStuckRead means a blocking read exceeded the stuck threshold and the
	// handle was discarded
	ErrStuckRead = errors.New("frame read took too long")

	// ErrTerminalFailure means reconnect attempts ran out; the watchdog has
	// given up and session-level recovery must take over
	ErrTerminalFailure = errors.New("failed to reconnect after maximum attempts")
)
