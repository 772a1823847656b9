package capture

import (
	"image"
	"image/color"
	"image/draw"
	"sync/atomic"
	"time"

	"github.com/openvigil/vigil/detection-server/pkg/types"
)

const (
	syntheticWidth  = 640
	syntheticHeight = 480
)

// Synthetic produces a moving test pattern without any camera hardware.
// It backs the synthetic:// locator and stands in for real capture in tests
// and demos.
type Synthetic struct {
	width    int
	height   int
	interval time.Duration
	num      uint64
	closed   atomic.Bool
}

func NewSynthetic(width, height int) *Synthetic {
	return &Synthetic{width: width, height: height, interval: 33 * time.Millisecond}
}

func (s *Synthetic) Read() (*types.Frame, error) {
	if s.closed.Load() {
		return nil, ErrReadFailed
	}
	if s.interval > 0 {
		time.Sleep(s.interval)
	}
	s.num++

	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{16, 16, 24, 255}), image.Point{}, draw.Src)

	// block sweeps left to right, one pixel per frame
	size := s.height / 10
	x := int(s.num) % (s.width - size)
	block := image.Rect(x, s.height/2-size/2, x+size, s.height/2+size/2)
	draw.Draw(img, block, image.NewUniform(color.RGBA{0, 180, 90, 255}), image.Point{}, draw.Src)

	return &types.Frame{
		Image:     img,
		Timestamp: time.Now(),
		Number:    s.num,
		Width:     s.width,
		Height:    s.height,
	}, nil
}

func (s *Synthetic) Close() error {
	s.closed.Store(true)
	return nil
}
