package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lanmesh/lancall/internal/call"
)

// ErrNoSession is returned by Send when there is no active call with the
// peer; the message channel only exists for the call's duration.
var ErrNoSession = errors.New("no active call with peer")

const wireTypeText = "text"

// wireMessage is the JSON payload carried on the message data channel.
type wireMessage struct {
	Type   string    `json:"type"`
	ID     string    `json:"id"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sentAt"`
}

// Messenger sends chat messages over the active call's data channel and
// persists both directions to the store. Wire the registry's channel
// messages to HandleData.
type Messenger struct {
	reg   *call.Registry
	store *Store
	log   *slog.Logger

	subMu sync.RWMutex
	subs  []func(Message)
}

func NewMessenger(reg *call.Registry, store *Store, log *slog.Logger) *Messenger {
	if log == nil {
		log = slog.Default()
	}
	return &Messenger{reg: reg, store: store, log: log}
}

// OnMessage registers an observer for received messages.
func (m *Messenger) OnMessage(fn func(Message)) {
	m.subMu.Lock()
	m.subs = append(m.subs, fn)
	m.subMu.Unlock()
}

// Send delivers body to peerID over the in-call message channel and records
// it in history.
func (m *Messenger) Send(peerID, body string) (Message, error) {
	sess, ok := m.reg.Get(peerID)
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrNoSession, peerID)
	}

	msg := Message{
		ID:        uuid.NewString(),
		Peer:      peerID,
		Direction: DirectionOut,
		Body:      body,
		SentAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(wireMessage{
		Type:   wireTypeText,
		ID:     msg.ID,
		Body:   msg.Body,
		SentAt: msg.SentAt,
	})
	if err != nil {
		return Message{}, fmt.Errorf("marshal message: %w", err)
	}
	if err := sess.MessageChannel().SendText(string(data)); err != nil {
		return Message{}, fmt.Errorf("send message: %w", err)
	}

	if m.store != nil {
		if err := m.store.Save(msg); err != nil {
			m.log.Warn("failed to persist sent message", "peer", peerID, "err", err)
		}
	}
	return msg, nil
}

// HandleData processes one inbound data channel payload from peerID.
// Payloads that are not well-formed text messages are logged and dropped.
func (m *Messenger) HandleData(peerID string, data []byte) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		m.log.Warn("dropping malformed channel message", "peer", peerID, "err", err)
		return
	}
	if wire.Type != wireTypeText || wire.ID == "" || wire.Body == "" {
		m.log.Warn("dropping unexpected channel message", "peer", peerID, "type", wire.Type)
		return
	}

	msg := Message{
		ID:        wire.ID,
		Peer:      peerID,
		Direction: DirectionIn,
		Body:      wire.Body,
		SentAt:    wire.SentAt,
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	if m.store != nil {
		if err := m.store.Save(msg); err != nil {
			m.log.Warn("failed to persist received message", "peer", peerID, "err", err)
		}
	}

	m.subMu.RLock()
	subs := m.subs
	m.subMu.RUnlock()
	for _, fn := range subs {
		fn(msg)
	}
}

// History returns up to limit most recent messages with peer, oldest first.
func (m *Messenger) History(peer string, limit int) ([]Message, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.History(peer, limit)
}
