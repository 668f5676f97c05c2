// Package call implements per-peer WebRTC sessions, the registry that owns
// them, and the controller that drives call setup and teardown over a
// signaling channel.
package call

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/lanmesh/lancall/internal/media"
)

// messageChannelLabel is the pre-negotiated data channel carrying in-call
// text messages. Both ends create it with the same ID at session
// construction, so no datachannel negotiation round-trip is needed.
const messageChannelLabel = "chat"

// PeerSession owns one PeerConnection to one remote peer, together with the
// message data channel and any bound local capture.
//
// ICE candidates received before the remote description arrives cannot be
// applied yet; the session buffers them in arrival order and flushes the
// buffer, still in order, immediately after the remote description is set.
// Candidates arriving after that point are applied directly.
type PeerSession struct {
	peerID string
	log    *slog.Logger

	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	mu         sync.Mutex
	pending    []webrtc.ICECandidateInit
	haveRemote bool
	capture    media.Capture
	closed     bool

	closeOnce sync.Once
	closeErr  error
}

func newPeerSession(api *webrtc.API, iceServers []webrtc.ICEServer, peerID string, log *slog.Logger) (*PeerSession, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	negotiated := true
	id := uint16(0)
	dc, err := pc.CreateDataChannel(messageChannelLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create message channel: %w", err)
	}

	return &PeerSession{
		peerID: peerID,
		log:    log.With("peer", peerID),
		pc:     pc,
		dc:     dc,
	}, nil
}

// PeerID returns the remote peer this session is bound to.
func (s *PeerSession) PeerID() string { return s.peerID }

// PeerConnection exposes the underlying connection for handler registration.
func (s *PeerSession) PeerConnection() *webrtc.PeerConnection { return s.pc }

// MessageChannel returns the pre-negotiated text message channel.
func (s *PeerSession) MessageChannel() *webrtc.DataChannel { return s.dc }

// BindCapture attaches local capture tracks to the connection. The session
// takes ownership of the capture and closes it on Close.
func (s *PeerSession) BindCapture(c media.Capture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	s.capture = c
	for _, track := range c.Tracks() {
		if _, err := s.pc.AddTrack(track); err != nil {
			return &NegotiationError{Op: "add track", Err: err}
		}
	}
	return nil
}

// Offer creates and installs the local offer, returning it for signaling.
// Candidates trickle separately via OnICECandidate.
func (s *PeerSession) Offer() (webrtc.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{Op: "create offer", Err: err}
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{Op: "set local description", Err: err}
	}
	return *s.pc.LocalDescription(), nil
}

// Answer creates and installs the local answer to a previously applied
// remote offer.
func (s *PeerSession) Answer() (webrtc.SessionDescription, error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{Op: "create answer", Err: err}
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{Op: "set local description", Err: err}
	}
	return *s.pc.LocalDescription(), nil
}

// SetRemoteDescription applies the remote description and then flushes every
// buffered candidate in its original arrival order. Each buffered candidate
// is applied exactly once.
func (s *PeerSession) SetRemoteDescription(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}

	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return &NegotiationError{Op: "set remote description", Err: err}
	}

	s.haveRemote = true
	pending := s.pending
	s.pending = nil
	for _, cand := range pending {
		if err := s.pc.AddICECandidate(cand); err != nil {
			return &NegotiationError{Op: "apply buffered candidate", Err: err}
		}
	}
	return nil
}

// AddICECandidate applies the candidate if the remote description is already
// set, and buffers it otherwise. Candidates for a closed session are dropped.
func (s *PeerSession) AddICECandidate(cand webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if !s.haveRemote {
		s.pending = append(s.pending, cand)
		return nil
	}
	if err := s.pc.AddICECandidate(cand); err != nil {
		return &NegotiationError{Op: "add candidate", Err: err}
	}
	return nil
}

// BufferedCandidates reports how many candidates are waiting for the remote
// description.
func (s *PeerSession) BufferedCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close releases the bound capture, the message channel and the peer
// connection. Safe to call multiple times and from connection callbacks.
func (s *PeerSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		capture := s.capture
		s.capture = nil
		s.pending = nil
		s.mu.Unlock()

		var errs []error
		if capture != nil {
			if err := capture.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close capture: %w", err))
			}
		}
		if err := s.dc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close message channel: %w", err))
		}
		if err := s.pc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close peer connection: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
