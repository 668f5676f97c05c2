package call

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/lanmesh/lancall/internal/media"
	"github.com/lanmesh/lancall/internal/signaling"
)

// State is the controller's call phase. At most one call exists at a time.
type State int

const (
	StateIdle State = iota
	StateOutgoing
	StateIncomingPending
	StateInCall
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoing:
		return "outgoing"
	case StateIncomingPending:
		return "incoming-pending"
	case StateInCall:
		return "in-call"
	default:
		return "unknown"
	}
}

// IncomingCall describes an offer waiting for a local accept or reject
// decision. No media has been acquired yet.
type IncomingCall struct {
	Peer string
	Kind media.Kind
}

// RemoteTrack is an inbound media track from the active call's peer.
type RemoteTrack struct {
	Peer  string
	Track *webrtc.TrackRemote
}

// Controller drives call setup and teardown. It holds a single call slot:
// while a call is outgoing, pending, or active, new outbound attempts fail
// with ErrBusy and new inbound offers are auto-declined.
//
// Media acquisition and negotiation run outside the state lock so inbound
// signaling keeps flowing; every slow transition records the epoch at entry
// and re-checks it before committing, so results landing after a teardown
// are discarded instead of resurrecting a dead call.
type Controller struct {
	log      *slog.Logger
	ch       signaling.Channel
	reg      *Registry
	capturer media.Capturer

	mu           sync.Mutex
	state        State
	peer         string
	kind         media.Kind
	pendingOffer *webrtc.SessionDescription
	pendingCands []webrtc.ICECandidateInit
	epoch        uint64

	obsMu        sync.RWMutex
	incomingSubs []func(IncomingCall)
	trackSubs    []func(RemoteTrack)
	endedSubs    []func(peerID string)
}

func NewController(reg *Registry, ch signaling.Channel, capturer media.Capturer, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		log:      log,
		ch:       ch,
		reg:      reg,
		capturer: capturer,
	}
	reg.OnSessionFailure(c.handleSessionFailure)
	reg.OnRemoteTrack(func(peerID string, track *webrtc.TrackRemote) {
		c.notifyTrack(RemoteTrack{Peer: peerID, Track: track})
	})
	return c
}

// OnIncomingCall registers an observer for offers awaiting a local decision.
func (c *Controller) OnIncomingCall(fn func(IncomingCall)) {
	c.obsMu.Lock()
	c.incomingSubs = append(c.incomingSubs, fn)
	c.obsMu.Unlock()
}

// OnRemoteTrack registers an observer for inbound media tracks.
func (c *Controller) OnRemoteTrack(fn func(RemoteTrack)) {
	c.obsMu.Lock()
	c.trackSubs = append(c.trackSubs, fn)
	c.obsMu.Unlock()
}

// OnCallEnded registers an observer for calls torn down for any reason
// other than a local EndCall: remote rejection, transport failure, remote
// hangup.
func (c *Controller) OnCallEnded(fn func(peerID string)) {
	c.obsMu.Lock()
	c.endedSubs = append(c.endedSubs, fn)
	c.obsMu.Unlock()
}

// Snapshot returns the current state and, when not idle, the peer involved.
func (c *Controller) Snapshot() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.peer
}

// StartCall acquires local media, creates a session for peerID, and sends an
// offer. Fails with ErrBusy unless the controller is idle. On device or
// negotiation failure the controller rolls back to idle; on a send failure
// the call stays outgoing and the caller decides whether to hang up.
func (c *Controller) StartCall(ctx context.Context, peerID string, kind media.Kind) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateOutgoing
	c.peer = peerID
	c.kind = kind
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	capture, err := c.capturer.Acquire(ctx, kind)
	if err != nil {
		c.rollback(epoch)
		return &DeviceError{Err: err}
	}
	if !c.epochCurrent(epoch) {
		_ = capture.Close()
		return ErrCallSuperseded
	}

	sess, err := c.reg.GetOrCreate(peerID)
	if err != nil {
		_ = capture.Close()
		c.rollback(epoch)
		return &NegotiationError{Op: "create session", Err: err}
	}
	if err := sess.BindCapture(capture); err != nil {
		c.reg.Remove(peerID)
		c.rollback(epoch)
		return err
	}
	offer, err := sess.Offer()
	if err != nil {
		c.reg.Remove(peerID)
		c.rollback(epoch)
		return err
	}
	if !c.epochCurrent(epoch) {
		c.reg.Remove(peerID)
		return ErrCallSuperseded
	}

	sdp := signaling.SDPFromPion(offer)
	err = c.ch.Send(signaling.Envelope{
		Type:      signaling.MessageTypeOffer,
		Target:    peerID,
		MediaKind: signaling.MediaKind(kind),
		Offer:     &sdp,
	})
	if err != nil {
		return &TransportError{Err: err}
	}
	c.log.Info("call offer sent", "peer", peerID, "kind", kind)
	return nil
}

// AcceptCall acquires local media for the pending incoming call, applies the
// stored offer together with any candidates buffered since, and sends the
// answer. Fails with ErrNoPendingCall when nothing is pending.
func (c *Controller) AcceptCall(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIncomingPending {
		c.mu.Unlock()
		return ErrNoPendingCall
	}
	peer := c.peer
	kind := c.kind
	offer := *c.pendingOffer
	cands := c.pendingCands
	epoch := c.epoch
	c.mu.Unlock()

	capture, err := c.capturer.Acquire(ctx, kind)
	if err != nil {
		c.rollback(epoch)
		return &DeviceError{Err: err}
	}
	if !c.epochCurrent(epoch) {
		_ = capture.Close()
		return ErrCallSuperseded
	}

	sess, err := c.reg.GetOrCreate(peer)
	if err != nil {
		_ = capture.Close()
		c.rollback(epoch)
		return &NegotiationError{Op: "create session", Err: err}
	}
	if err := sess.BindCapture(capture); err != nil {
		c.reg.Remove(peer)
		c.rollback(epoch)
		return err
	}

	// Candidates that arrived before the accept go through the session's
	// buffer so the flush preserves their original arrival order.
	for _, cand := range cands {
		if err := sess.AddICECandidate(cand); err != nil {
			c.reg.Remove(peer)
			c.rollback(epoch)
			return err
		}
	}
	if err := sess.SetRemoteDescription(offer); err != nil {
		c.reg.Remove(peer)
		c.rollback(epoch)
		return err
	}
	answer, err := sess.Answer()
	if err != nil {
		c.reg.Remove(peer)
		c.rollback(epoch)
		return err
	}

	c.mu.Lock()
	if c.epoch != epoch || c.state != StateIncomingPending {
		c.mu.Unlock()
		c.reg.Remove(peer)
		return ErrCallSuperseded
	}
	// HandleCandidate kept appending while acquisition and negotiation ran
	// outside the lock. The remote description is set, so the late arrivals
	// apply directly; doing it under the lock keeps them ordered ahead of
	// anything routed straight to the session once the state flips.
	for _, cand := range c.pendingCands[len(cands):] {
		if err := sess.AddICECandidate(cand); err != nil {
			c.resetLocked()
			c.mu.Unlock()
			c.reg.Remove(peer)
			return err
		}
	}
	c.state = StateInCall
	c.pendingOffer = nil
	c.pendingCands = nil
	c.mu.Unlock()

	sdp := signaling.SDPFromPion(answer)
	err = c.ch.Send(signaling.Envelope{
		Type:   signaling.MessageTypeAnswer,
		Target: peer,
		Answer: &sdp,
	})
	if err != nil {
		return &TransportError{Err: err}
	}
	c.log.Info("call accepted", "peer", peer, "kind", kind)
	return nil
}

// RejectCall declines the pending incoming call. No session or media was
// ever created for it.
func (c *Controller) RejectCall() error {
	c.mu.Lock()
	if c.state != StateIncomingPending {
		c.mu.Unlock()
		return ErrNoPendingCall
	}
	peer := c.peer
	c.resetLocked()
	c.mu.Unlock()

	c.log.Info("call rejected", "peer", peer)
	if err := c.sendReject(peer); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// EndCall hangs up the outgoing or active call with peerID, closing its
// session and releasing its media.
func (c *Controller) EndCall(peerID string) error {
	c.mu.Lock()
	active := c.peer == peerID && (c.state == StateOutgoing || c.state == StateInCall)
	if active {
		c.resetLocked()
	}
	c.mu.Unlock()

	if !active {
		return ErrNotInCall
	}
	c.reg.Remove(peerID)
	c.log.Info("call ended", "peer", peerID)
	if err := c.sendReject(peerID); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// Close tears down any current call and every remaining session.
func (c *Controller) Close() {
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
	c.reg.CloseAll()
}

// HandleOffer processes an inbound offer. When idle it stores the offer and
// notifies observers; media acquisition is deferred until AcceptCall. In any
// other state the offer is auto-declined without disturbing the current call.
func (c *Controller) HandleOffer(sender string, kind media.Kind, offer webrtc.SessionDescription) {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		c.log.Info("auto-declining offer while busy", "peer", sender, "state", state)
		if err := c.sendReject(sender); err != nil {
			c.log.Warn("failed to send busy decline", "peer", sender, "err", err)
		}
		return
	}
	c.state = StateIncomingPending
	c.peer = sender
	c.kind = kind
	offerCopy := offer
	c.pendingOffer = &offerCopy
	c.pendingCands = nil
	c.epoch++
	c.mu.Unlock()

	c.log.Info("incoming call", "peer", sender, "kind", kind)
	c.notifyIncoming(IncomingCall{Peer: sender, Kind: kind})
}

// HandleAnswer applies the remote answer to the outgoing call. Answers from
// anyone other than the called peer, or outside the outgoing state, are
// ignored.
func (c *Controller) HandleAnswer(sender string, answer webrtc.SessionDescription) {
	c.mu.Lock()
	if c.state != StateOutgoing || c.peer != sender {
		c.mu.Unlock()
		c.log.Debug("ignoring unexpected answer", "peer", sender)
		return
	}
	epoch := c.epoch
	c.mu.Unlock()

	sess, ok := c.reg.Get(sender)
	if !ok {
		c.log.Warn("answer for peer with no session", "peer", sender)
		return
	}
	if err := sess.SetRemoteDescription(answer); err != nil {
		c.log.Error("applying remote answer failed", "peer", sender, "err", err)
		c.teardown(sender, epoch)
		return
	}

	c.mu.Lock()
	if c.epoch == epoch && c.state == StateOutgoing {
		c.state = StateInCall
	}
	c.mu.Unlock()
	c.log.Info("call established", "peer", sender)
}

// HandleCandidate routes a remote candidate to its session. Candidates for
// the still-pending incoming call are held until AcceptCall creates the
// session; candidates for unknown peers are dropped.
func (c *Controller) HandleCandidate(sender string, cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	if c.state == StateIncomingPending && c.peer == sender {
		c.pendingCands = append(c.pendingCands, cand)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	sess, ok := c.reg.Get(sender)
	if !ok {
		c.log.Debug("dropping candidate for unknown peer", "peer", sender)
		return
	}
	if err := sess.AddICECandidate(cand); err != nil {
		c.log.Warn("applying remote candidate failed", "peer", sender, "err", err)
	}
}

// HandleRejected processes a remote rejection or hangup for the current
// call's peer. Rejections from anyone else are ignored.
func (c *Controller) HandleRejected(sender string) {
	c.mu.Lock()
	match := c.peer == sender && c.state != StateIdle
	if match {
		c.resetLocked()
	}
	c.mu.Unlock()

	if !match {
		c.log.Debug("ignoring rejection from uninvolved peer", "peer", sender)
		return
	}
	c.reg.Remove(sender)
	c.log.Info("call ended by peer", "peer", sender)
	c.notifyEnded(sender)
}

// handleSessionFailure runs when a session's transport reaches a terminal
// state. The dead session is always removed; call state resets only if the
// failed peer is the current call's peer.
func (c *Controller) handleSessionFailure(peerID string) {
	c.mu.Lock()
	match := c.peer == peerID && c.state != StateIdle
	if match {
		c.resetLocked()
	}
	c.mu.Unlock()

	c.reg.Remove(peerID)
	if match {
		c.log.Warn("call transport failed", "peer", peerID)
		c.notifyEnded(peerID)
	}
}

func (c *Controller) sendReject(peerID string) error {
	return c.ch.Send(signaling.Envelope{
		Type:   signaling.MessageTypeCallRejected,
		Target: peerID,
	})
}

// resetLocked returns the controller to idle and bumps the epoch so any
// in-flight transition discards its result.
func (c *Controller) resetLocked() {
	c.state = StateIdle
	c.peer = ""
	c.kind = ""
	c.pendingOffer = nil
	c.pendingCands = nil
	c.epoch++
}

// rollback resets to idle only if no other transition superseded epoch.
func (c *Controller) rollback(epoch uint64) {
	c.mu.Lock()
	if c.epoch == epoch {
		c.resetLocked()
	}
	c.mu.Unlock()
}

func (c *Controller) teardown(peerID string, epoch uint64) {
	c.rollback(epoch)
	c.reg.Remove(peerID)
	c.notifyEnded(peerID)
}

func (c *Controller) epochCurrent(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

func (c *Controller) notifyIncoming(call IncomingCall) {
	c.obsMu.RLock()
	subs := c.incomingSubs
	c.obsMu.RUnlock()
	for _, fn := range subs {
		fn(call)
	}
}

func (c *Controller) notifyTrack(track RemoteTrack) {
	c.obsMu.RLock()
	subs := c.trackSubs
	c.obsMu.RUnlock()
	for _, fn := range subs {
		fn(track)
	}
}

func (c *Controller) notifyEnded(peerID string) {
	c.obsMu.RLock()
	subs := c.endedSubs
	c.obsMu.RUnlock()
	for _, fn := range subs {
		fn(peerID)
	}
}
