package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

type MessageType string

const (
	MessageTypeOffer        MessageType = "offer"
	MessageTypeAnswer       MessageType = "answer"
	MessageTypeCandidate    MessageType = "ice-candidate"
	MessageTypeCallRejected MessageType = "call-rejected"

	// Hub control messages.
	MessageTypeRegister MessageType = "register"
	MessageTypePeerList MessageType = "peer-list"
	MessageTypeError    MessageType = "error"
)

// MediaKind is carried on offers so the callee can prompt before any local
// capture happens.
type MediaKind string

const (
	MediaKindAudio      MediaKind = "audio"
	MediaKindAudioVideo MediaKind = "audio+video"
)

func ParseMediaKind(raw string) (MediaKind, error) {
	switch MediaKind(raw) {
	case MediaKindAudio:
		return MediaKindAudio, nil
	case MediaKindAudioVideo:
		return MediaKindAudioVideo, nil
	default:
		return "", fmt.Errorf("unsupported media kind %q", raw)
	}
}

type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Envelope is one signaling message. Sender is stamped by the hub on
// forwarded messages; Target addresses the remote peer on send.
type Envelope struct {
	Type   MessageType `json:"type"`
	Sender string      `json:"sender,omitempty"`
	Target string      `json:"target,omitempty"`

	MediaKind MediaKind  `json:"mediaKind,omitempty"`
	Offer     *SDP       `json:"offer,omitempty"`
	Answer    *SDP       `json:"answer,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`

	Username string   `json:"username,omitempty"`
	Peers    []string `json:"peers,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseEnvelope decodes one envelope with strict field checking. Unknown
// fields, trailing data, and shape violations are all rejected so the hub and
// the dispatcher can drop malformed traffic at the boundary.
func ParseEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("unexpected trailing data")
	}
	return env, nil
}

func (e Envelope) Validate() error {
	switch e.Type {
	case MessageTypeOffer:
		if e.Offer == nil {
			return fmt.Errorf("offer envelope missing offer")
		}
		if e.Offer.Type != "offer" {
			return fmt.Errorf("offer envelope has sdp type %q", e.Offer.Type)
		}
		if _, err := ParseMediaKind(string(e.MediaKind)); err != nil {
			return fmt.Errorf("offer envelope: %w", err)
		}
		if e.Answer != nil || e.Candidate != nil {
			return fmt.Errorf("offer envelope has unexpected fields")
		}
	case MessageTypeAnswer:
		if e.Answer == nil {
			return fmt.Errorf("answer envelope missing answer")
		}
		if e.Answer.Type != "answer" {
			return fmt.Errorf("answer envelope has sdp type %q", e.Answer.Type)
		}
		if e.Offer != nil || e.Candidate != nil || e.MediaKind != "" {
			return fmt.Errorf("answer envelope has unexpected fields")
		}
	case MessageTypeCandidate:
		if e.Candidate == nil {
			return fmt.Errorf("ice-candidate envelope missing candidate")
		}
		if e.Offer != nil || e.Answer != nil || e.MediaKind != "" {
			return fmt.Errorf("ice-candidate envelope has unexpected fields")
		}
	case MessageTypeCallRejected:
		if e.Offer != nil || e.Answer != nil || e.Candidate != nil || e.MediaKind != "" {
			return fmt.Errorf("call-rejected envelope has unexpected fields")
		}
	case MessageTypeRegister:
		if e.Username == "" {
			return fmt.Errorf("register envelope missing username")
		}
		if e.Target != "" || e.Offer != nil || e.Answer != nil || e.Candidate != nil {
			return fmt.Errorf("register envelope has unexpected fields")
		}
	case MessageTypePeerList:
		if e.Target != "" || e.Offer != nil || e.Answer != nil || e.Candidate != nil {
			return fmt.Errorf("peer-list envelope has unexpected fields")
		}
	case MessageTypeError:
		if e.Code == "" || e.Message == "" {
			return fmt.Errorf("error envelope missing code/message")
		}
	default:
		return fmt.Errorf("unsupported envelope type %q", e.Type)
	}
	return nil
}

// Addressed reports whether this envelope type is forwarded peer-to-peer by
// the hub (as opposed to hub control traffic).
func (e Envelope) Addressed() bool {
	switch e.Type {
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeCandidate, MessageTypeCallRejected:
		return true
	default:
		return false
	}
}
