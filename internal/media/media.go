// Package media abstracts local audio/video capture and owns construction of
// the pion WebRTC API used for all peer sessions.
package media

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// Kind selects which local devices a call captures.
type Kind string

const (
	KindAudio      Kind = "audio"
	KindAudioVideo Kind = "audio+video"
)

// ErrNoDevice is returned by Acquire when no usable capture device exists on
// this platform or host.
var ErrNoDevice = errors.New("no capture device available")

// Capture is an acquired set of local device tracks, bound to at most one
// call at a time. Close stops the underlying devices.
type Capture interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

// Capturer acquires local capture devices. Acquisition may prompt hardware
// and therefore must only happen once a call is actually started or accepted.
type Capturer interface {
	Acquire(ctx context.Context, kind Kind) (Capture, error)
}

// CodecRegistrar populates a MediaEngine with the codecs the capturer's
// tracks produce. The engine used for PeerConnections must agree with the
// capture pipeline, so both come from the same place.
type CodecRegistrar interface {
	RegisterCodecs(*webrtc.MediaEngine) error
}

// DefaultCodecs registers pion's built-in codec set. Used when no device
// capture pipeline is present (tests, headless hosts).
type DefaultCodecs struct{}

func (DefaultCodecs) RegisterCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

// NewAPI builds the webrtc API all peer sessions are created from: one
// MediaEngine fed by reg, default interceptors, and pion's internal logging
// routed at the given level.
func NewAPI(reg CodecRegistrar, level slog.Level) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := reg.RegisterCodecs(me); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(level),
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

// NewLoggerFactory maps the process log level onto pion's logging factory.
// pion internals are chatty at debug, so anything above debug is clamped to
// warnings.
func NewLoggerFactory(level slog.Level) logging.LoggerFactory {
	lf := logging.NewDefaultLoggerFactory()
	if level <= slog.LevelDebug {
		lf.DefaultLogLevel = logging.LogLevelInfo
	} else {
		lf.DefaultLogLevel = logging.LogLevelWarn
	}
	return lf
}
