package capture

import "github.com/openvigil/vigil/detection-server/pkg/types"

// Source is an open capture stream. Implementations are not safe for
// concurrent use; the watchdog is the sole owner of a handle.
type Source interface {
	// Read blocks until the next frame is available.
	Read() (*types.Frame, error)
	Close() error
}

// Opener opens a capture source for a locator. The watchdog calls it once
// for the initial open and again on every reconnect.
type Opener func(loc Locator) (Source, error)

// OpenSource is the production Opener: the synthetic pattern for
// synthetic:// locators, a cv capture handle for everything else.
func OpenSource(loc Locator) (Source, error) {
	if loc.IsSynthetic {
		return NewSynthetic(syntheticWidth, syntheticHeight), nil
	}
	return OpenCamera(loc)
}
