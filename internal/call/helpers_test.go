package call

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/lanmesh/lancall/internal/media"
	"github.com/lanmesh/lancall/internal/signaling"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestAPI(t *testing.T) *webrtc.API {
	t.Helper()
	api, err := media.NewAPI(media.DefaultCodecs{}, slog.LevelWarn)
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	return api
}

func newTestSession(t *testing.T, peerID string) *PeerSession {
	t.Helper()
	sess, err := newPeerSession(newTestAPI(t), nil, peerID, testLogger(t))
	if err != nil {
		t.Fatalf("new peer session: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

// makeOffer produces a real offer SDP from a scratch session.
func makeOffer(t *testing.T) webrtc.SessionDescription {
	t.Helper()
	offer, err := newTestSession(t, "scratch").Offer()
	if err != nil {
		t.Fatalf("make offer: %v", err)
	}
	return offer
}

func hostCandidate(port int) webrtc.ICECandidateInit {
	mid := "0"
	idx := uint16(0)
	return webrtc.ICECandidateInit{
		Candidate:     "candidate:863018703 1 udp 2130706431 127.0.0.1 " + strconv.Itoa(port) + " typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// memoryHub is an in-process signaling hub: each named channel's Send
// delivers addressed envelopes to the target channel's subscribers with the
// sender stamped, mirroring what the WebSocket hub does.
type memoryHub struct {
	mu      sync.Mutex
	clients map[string]*memoryChannel
}

func newMemoryHub() *memoryHub {
	return &memoryHub{clients: make(map[string]*memoryChannel)}
}

func (h *memoryHub) channel(name string) *memoryChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[name]; ok {
		return c
	}
	c := &memoryChannel{hub: h, name: name}
	h.clients[name] = c
	return c
}

type memoryChannel struct {
	hub  *memoryHub
	name string

	mu       sync.Mutex
	subs     []chan signaling.Envelope
	sent     []signaling.Envelope
	failSend error
}

var _ signaling.Channel = (*memoryChannel)(nil)

func (c *memoryChannel) Send(env signaling.Envelope) error {
	c.mu.Lock()
	failSend := c.failSend
	if failSend == nil {
		c.sent = append(c.sent, env)
	}
	c.mu.Unlock()
	if failSend != nil {
		return failSend
	}
	if env.Target == "" {
		return nil
	}

	c.hub.mu.Lock()
	dst := c.hub.clients[env.Target]
	c.hub.mu.Unlock()
	if dst == nil {
		return nil
	}

	env.Sender = c.name
	env.Target = ""
	dst.deliver(env)
	return nil
}

func (c *memoryChannel) Subscribe() (<-chan signaling.Envelope, func()) {
	ch := make(chan signaling.Envelope, 256)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch, func() {}
}

func (c *memoryChannel) deliver(env signaling.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		select {
		case sub <- env:
		default:
		}
	}
}

func (c *memoryChannel) setFailSend(err error) {
	c.mu.Lock()
	c.failSend = err
	c.mu.Unlock()
}

func (c *memoryChannel) sentByType(mt signaling.MessageType) []signaling.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []signaling.Envelope
	for _, env := range c.sent {
		if env.Type == mt {
			out = append(out, env)
		}
	}
	return out
}

// fakeCapturer hands out captures holding one real local audio track and
// counts acquisitions and releases.
type fakeCapturer struct {
	mu       sync.Mutex
	acquires int
	closes   int
	err      error
}

func (f *fakeCapturer) Acquire(ctx context.Context, _ media.Kind) (media.Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "lancall",
	)
	if err != nil {
		return nil, err
	}
	f.acquires++
	return &fakeCapture{capturer: f, tracks: []webrtc.TrackLocal{track}}, nil
}

func (f *fakeCapturer) counts() (acquires, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires, f.closes
}

// gateCapturer parks Acquire until released so a test can deliver signaling
// while the transition is still in flight.
type gateCapturer struct {
	inner   fakeCapturer
	entered chan struct{}
	release chan struct{}
}

func newGateCapturer() *gateCapturer {
	return &gateCapturer{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateCapturer) Acquire(ctx context.Context, kind media.Kind) (media.Capture, error) {
	close(g.entered)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.Acquire(ctx, kind)
}

type fakeCapture struct {
	capturer *fakeCapturer
	tracks   []webrtc.TrackLocal
	once     sync.Once
}

func (c *fakeCapture) Tracks() []webrtc.TrackLocal { return c.tracks }

func (c *fakeCapture) Close() error {
	c.once.Do(func() {
		c.capturer.mu.Lock()
		c.capturer.closes++
		c.capturer.mu.Unlock()
	})
	return nil
}
