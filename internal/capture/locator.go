package capture

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openvigil/vigil/detection-server/internal/logger"
)

const (
	webcamScheme    = "webcam://"
	syntheticScheme = "synthetic://"
)

// Locator identifies a capture target: a local device index, a network
// stream URL, or the built-in synthetic test pattern.
type Locator struct {
	DeviceIndex int
	URL         string
	IsDevice    bool
	IsSynthetic bool
}

func (l Locator) String() string {
	if l.IsSynthetic {
		return "synthetic test pattern"
	}
	if l.IsDevice {
		return fmt.Sprintf("local device %d", l.DeviceIndex)
	}
	return l.URL
}

// ParseLocator resolves a caller-supplied camera URL plus optional port into
// a capture target. webcam://N selects local device N, with malformed
// indexes falling back to device 0. rtmp:// and srt:// URLs pass through,
// gaining the port only when the URL carries no colon yet. Anything without
// a scheme is treated as an http host and the port is appended when set.
// http and https URLs pass through, again gaining the port only when no
// colon is present.
func ParseLocator(rawURL, port string) (Locator, error) {
	if rawURL == "" {
		return Locator{}, ErrMissingLocator
	}

	switch {
	case strings.HasPrefix(rawURL, syntheticScheme):
		return Locator{IsSynthetic: true}, nil

	case strings.HasPrefix(rawURL, webcamScheme):
		raw := strings.TrimPrefix(rawURL, webcamScheme)
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 0 {
			logger.Warn("Capture", "Invalid webcam index %q, using device 0", raw)
			idx = 0
		}
		return Locator{DeviceIndex: idx, IsDevice: true}, nil

	case strings.HasPrefix(rawURL, "rtmp://"), strings.HasPrefix(rawURL, "srt://"):
		url := rawURL
		if port != "" && !strings.Contains(rawURL, ":") {
			url = rawURL + ":" + port
		}
		return Locator{URL: url}, nil

	case !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://"):
		url := "http://" + rawURL
		if port != "" {
			url = url + ":" + port
		}
		return Locator{URL: url}, nil

	default:
		url := rawURL
		if port != "" && !strings.Contains(rawURL, ":") {
			url = rawURL + ":" + port
		}
		return Locator{URL: url}, nil
	}
}
