package capture

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/openvigil/vigil/detection-server/pkg/types"
)

// Camera reads frames through a cv VideoCapture handle, which covers local
// device indexes and network URLs (RTSP, RTMP, HTTP, SRT) with one API.
type Camera struct {
	cap *gocv.VideoCapture
	mat gocv.Mat
	num uint64
}

// OpenCamera opens the locator's device or URL and verifies the handle is
// actually usable before handing it out.
func OpenCamera(loc Locator) (*Camera, error) {
	var (
		cap *gocv.VideoCapture
		err error
	)
	if loc.IsDevice {
		cap, err = gocv.OpenVideoCapture(loc.DeviceIndex)
	} else {
		cap, err = gocv.OpenVideoCapture(loc.URL)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpenFailed, loc, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("%w: %s", ErrOpenFailed, loc)
	}
	return &Camera{cap: cap, mat: gocv.NewMat()}, nil
}

func (c *Camera) Read() (*types.Frame, error) {
	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, ErrReadFailed
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	c.num++
	b := img.Bounds()
	return &types.Frame{
		Image:     img,
		Timestamp: time.Now(),
		Number:    c.num,
		Width:     b.Dx(),
		Height:    b.Dy(),
	}, nil
}

func (c *Camera) Close() error {
	c.mat.Close()
	return c.cap.Close()
}
