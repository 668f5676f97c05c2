package call

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/lanmesh/lancall/internal/signaling"
)

// Registry owns at most one PeerSession per remote peer and wires each new
// session's connection callbacks: local candidates are forwarded over the
// signaling channel, terminal connection states surface as failures, and
// remote tracks and data channel messages flow to the registered hooks.
type Registry struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	ch         signaling.Channel
	log        *slog.Logger

	onFailure func(peerID string)
	onTrack   func(peerID string, track *webrtc.TrackRemote)
	onMessage func(peerID string, data []byte)

	mu       sync.Mutex
	sessions map[string]*PeerSession
}

func NewRegistry(api *webrtc.API, iceServers []webrtc.ICEServer, ch signaling.Channel, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		api:        api,
		iceServers: iceServers,
		ch:         ch,
		log:        log,
		sessions:   make(map[string]*PeerSession),
	}
}

// OnSessionFailure registers the hook called when a session's transport
// reaches a terminal state. Must be set before the first session is created.
func (r *Registry) OnSessionFailure(fn func(peerID string)) { r.onFailure = fn }

// OnRemoteTrack registers the hook for inbound media tracks.
func (r *Registry) OnRemoteTrack(fn func(peerID string, track *webrtc.TrackRemote)) {
	r.onTrack = fn
}

// OnChannelMessage registers the hook for inbound message channel payloads.
func (r *Registry) OnChannelMessage(fn func(peerID string, data []byte)) { r.onMessage = fn }

// GetOrCreate returns the existing session for peerID or creates one.
// Repeated calls for the same peer return the same session until Remove.
func (r *Registry) GetOrCreate(peerID string) (*PeerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[peerID]; ok {
		return sess, nil
	}

	sess, err := newPeerSession(r.api, r.iceServers, peerID, r.log)
	if err != nil {
		return nil, err
	}

	pc := sess.PeerConnection()
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand := signaling.CandidateFromPion(c.ToJSON())
		err := r.ch.Send(signaling.Envelope{
			Type:      signaling.MessageTypeCandidate,
			Target:    peerID,
			Candidate: &cand,
		})
		if err != nil {
			r.log.Warn("failed to forward local candidate", "peer", peerID, "err", err)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.log.Debug("peer connection state changed", "peer", peerID, "state", state)
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if fn := r.onFailure; fn != nil {
				fn(peerID)
			}
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		r.log.Info("remote track started", "peer", peerID, "kind", track.Kind(), "codec", track.Codec().MimeType)
		if fn := r.onTrack; fn != nil {
			fn(peerID, track)
		}
	})
	sess.MessageChannel().OnMessage(func(msg webrtc.DataChannelMessage) {
		if fn := r.onMessage; fn != nil {
			fn(peerID, msg.Data)
		}
	})

	r.sessions[peerID] = sess
	return sess, nil
}

// Get returns the session for peerID if one exists.
func (r *Registry) Get(peerID string) (*PeerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[peerID]
	return sess, ok
}

// Remove drops and closes the session for peerID, releasing any capture
// bound to it. Removing an unknown peer is a no-op.
func (r *Registry) Remove(peerID string) {
	r.mu.Lock()
	sess := r.sessions[peerID]
	delete(r.sessions, peerID)
	r.mu.Unlock()

	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil {
		r.log.Warn("closing peer session", "peer", peerID, "err", err)
	}
}

// CloseAll tears down every session. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*PeerSession)
	r.mu.Unlock()

	for peerID, sess := range sessions {
		if err := sess.Close(); err != nil {
			r.log.Warn("closing peer session", "peer", peerID, "err", err)
		}
	}
}
