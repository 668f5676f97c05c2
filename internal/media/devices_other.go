//go:build !linux

package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// DeviceCapturer is a stub on platforms without a capture pipeline. Calls
// can still be received (and remote media consumed); acquisition fails with
// ErrNoDevice.
type DeviceCapturer struct{}

func NewDeviceCapturer() (*DeviceCapturer, error) {
	return &DeviceCapturer{}, nil
}

func (c *DeviceCapturer) RegisterCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (c *DeviceCapturer) Acquire(ctx context.Context, kind Kind) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNoDevice
}
