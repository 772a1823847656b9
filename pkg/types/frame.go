package types

import (
	"image"
	"time"
)

// Frame represents a single decoded video frame with capture metadata
type Frame struct {
	Image     image.Image // Decoded pixel data
	Timestamp time.Time   // Frame capture timestamp
	Number    uint64      // Sequential frame number
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
}
