package call

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestPeerSessionBuffersCandidatesUntilRemoteDescription(t *testing.T) {
	offer := makeOffer(t)
	sess := newTestSession(t, "caller")

	for i, port := range []int{50001, 50002, 50003} {
		if err := sess.AddICECandidate(hostCandidate(port)); err != nil {
			t.Fatalf("buffer candidate %d: %v", i, err)
		}
	}
	if got := sess.BufferedCandidates(); got != 3 {
		t.Fatalf("buffered = %d, want 3", got)
	}

	if err := sess.SetRemoteDescription(offer); err != nil {
		t.Fatalf("set remote description: %v", err)
	}
	if got := sess.BufferedCandidates(); got != 0 {
		t.Fatalf("buffered after flush = %d, want 0", got)
	}

	// Once the remote description is set, candidates apply directly.
	if err := sess.AddICECandidate(hostCandidate(50004)); err != nil {
		t.Fatalf("add candidate after remote description: %v", err)
	}
	if got := sess.BufferedCandidates(); got != 0 {
		t.Fatalf("buffered after direct add = %d, want 0", got)
	}
}

func TestPeerSessionAnswersRemoteOffer(t *testing.T) {
	caller := newTestSession(t, "callee")
	offer, err := caller.Offer()
	if err != nil {
		t.Fatalf("offer: %v", err)
	}

	callee := newTestSession(t, "caller")
	if err := callee.SetRemoteDescription(offer); err != nil {
		t.Fatalf("set remote offer: %v", err)
	}
	answer, err := callee.Answer()
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer type = %v, want answer", answer.Type)
	}

	if err := caller.SetRemoteDescription(answer); err != nil {
		t.Fatalf("set remote answer: %v", err)
	}
}

func TestPeerSessionDropsCandidatesAfterClose(t *testing.T) {
	sess := newTestSession(t, "peer")
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := sess.AddICECandidate(hostCandidate(50001)); err != nil {
		t.Fatalf("candidate after close should be dropped, got %v", err)
	}
	if got := sess.BufferedCandidates(); got != 0 {
		t.Fatalf("buffered after close = %d, want 0", got)
	}
}

func TestPeerSessionCloseIsIdempotent(t *testing.T) {
	sess := newTestSession(t, "peer")
	if err := sess.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestPeerSessionBindCaptureAfterCloseFails(t *testing.T) {
	sess := newTestSession(t, "peer")
	_ = sess.Close()

	capturer := &fakeCapturer{}
	capture, err := capturer.Acquire(t.Context(), "audio")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer capture.Close()

	if err := sess.BindCapture(capture); err == nil {
		t.Fatalf("bind on closed session should fail")
	}
}
