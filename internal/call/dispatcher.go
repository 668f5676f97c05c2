package call

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/lanmesh/lancall/internal/media"
	"github.com/lanmesh/lancall/internal/signaling"
)

// Handler receives demultiplexed call signaling. Controller implements it.
type Handler interface {
	HandleOffer(sender string, kind media.Kind, offer webrtc.SessionDescription)
	HandleAnswer(sender string, answer webrtc.SessionDescription)
	HandleCandidate(sender string, cand webrtc.ICECandidateInit)
	HandleRejected(sender string)
}

// Dispatcher subscribes to the signaling channel once and routes each inbound
// envelope to the handler by type. Envelopes that fail conversion, carry no
// sender, or have an unknown type are logged and dropped without stopping the
// loop.
type Dispatcher struct {
	handler Handler
	log     *slog.Logger

	onPeerList func(peers []string)

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDispatcher(handler Handler, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		handler: handler,
		log:     log,
		done:    make(chan struct{}),
	}
}

// OnPeerList registers the callback for hub roster broadcasts. Must be set
// before Start.
func (d *Dispatcher) OnPeerList(fn func(peers []string)) { d.onPeerList = fn }

// Start subscribes to ch and dispatches until the channel closes or Stop is
// called.
func (d *Dispatcher) Start(ch signaling.Channel) {
	in, cancel := ch.Subscribe()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		for {
			select {
			case env, ok := <-in:
				if !ok {
					return
				}
				d.dispatch(env)
			case <-d.done:
				return
			}
		}
	}()
}

// Stop ends dispatching and waits for the loop to exit.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(env signaling.Envelope) {
	if env.Addressed() && env.Sender == "" {
		d.log.Warn("dropping envelope without sender", "type", env.Type)
		return
	}

	switch env.Type {
	case signaling.MessageTypeOffer:
		if env.Offer == nil {
			d.drop(env, errors.New("missing sdp payload"))
			return
		}
		offer, err := env.Offer.ToPion()
		if err != nil {
			d.drop(env, err)
			return
		}
		kind, err := signaling.ParseMediaKind(string(env.MediaKind))
		if err != nil {
			d.drop(env, err)
			return
		}
		d.handler.HandleOffer(env.Sender, media.Kind(kind), offer)

	case signaling.MessageTypeAnswer:
		if env.Answer == nil {
			d.drop(env, errors.New("missing sdp payload"))
			return
		}
		answer, err := env.Answer.ToPion()
		if err != nil {
			d.drop(env, err)
			return
		}
		d.handler.HandleAnswer(env.Sender, answer)

	case signaling.MessageTypeCandidate:
		if env.Candidate == nil {
			d.drop(env, errors.New("missing candidate payload"))
			return
		}
		d.handler.HandleCandidate(env.Sender, env.Candidate.ToPion())

	case signaling.MessageTypeCallRejected:
		d.handler.HandleRejected(env.Sender)

	case signaling.MessageTypePeerList:
		if d.onPeerList != nil {
			d.onPeerList(env.Peers)
		}

	case signaling.MessageTypeError:
		d.log.Warn("signaling hub error", "code", env.Code, "message", env.Message)

	default:
		d.log.Debug("ignoring envelope", "type", env.Type)
	}
}

func (d *Dispatcher) drop(env signaling.Envelope, err error) {
	perr := &ProtocolError{Type: string(env.Type), Err: err}
	d.log.Warn("dropping envelope", "sender", env.Sender, "err", perr)
}
