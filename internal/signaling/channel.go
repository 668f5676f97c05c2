package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 1 * time.Second

// subscriberBuffer bounds how far a slow subscriber may fall behind before
// envelopes are dropped for it.
const subscriberBuffer = 32

// Channel is the out-of-band signaling transport the call core consumes.
// Implementations must be safe for concurrent use.
type Channel interface {
	// Send delivers one envelope to the hub for forwarding to env.Target.
	Send(env Envelope) error

	// Subscribe returns a channel of inbound envelopes and a cancel func.
	// The channel is closed when the subscription is cancelled or the
	// transport shuts down.
	Subscribe() (<-chan Envelope, func())
}

// WSChannel is a Channel over a WebSocket connection to the signaling hub.
type WSChannel struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]chan Envelope
	nextSub int
	closed  bool

	closeOnce sync.Once
}

// Dial connects to the hub at wsURL, registers under username, and starts
// reading inbound envelopes. Malformed inbound envelopes are logged and
// dropped; they never terminate the read loop.
func Dial(ctx context.Context, wsURL, username string, log *slog.Logger) (*WSChannel, error) {
	if log == nil {
		log = slog.Default()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial signaling hub %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial signaling hub %s: %w", wsURL, err)
	}

	c := &WSChannel{
		conn: conn,
		log:  log,
		subs: make(map[int]chan Envelope),
	}

	if err := c.Send(Envelope{Type: MessageTypeRegister, Username: username}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("register %q: %w", username, err)
	}

	go c.readLoop()
	return c, nil
}

func (c *WSChannel) Send(env Envelope) error {
	data, err := marshalEnvelope(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("signaling send: %w", err)
	}
	return nil
}

func (c *WSChannel) Subscribe() (<-chan Envelope, func()) {
	ch := make(chan Envelope, subscriberBuffer)

	c.subMu.Lock()
	if c.closed {
		c.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
		c.subMu.Unlock()
	}
	return ch, cancel
}

// Close terminates the connection. All subscriptions are closed once the
// read loop observes the closed connection.
func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *WSChannel) readLoop() {
	defer c.closeSubs()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("signaling read loop ended", "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.log.Warn("dropping non-text signaling message")
			continue
		}

		env, err := ParseEnvelope(data)
		if err != nil {
			c.log.Warn("dropping malformed signaling envelope", "err", err)
			continue
		}
		c.fanOut(env)
	}
}

func (c *WSChannel) fanOut(env Envelope) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.subs {
		select {
		case sub <- env:
		default:
			c.log.Warn("dropping envelope for slow subscriber", "type", env.Type, "sender", env.Sender)
		}
	}
}

func (c *WSChannel) closeSubs() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.closed = true
	for id, sub := range c.subs {
		delete(c.subs, id)
		close(sub)
	}
}

func marshalEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}
