package signaling

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanmesh/lancall/internal/metrics"
	"github.com/lanmesh/lancall/internal/ratelimit"
)

// ServerConfig wires the runtime dependencies of the hub.
type ServerConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// RegisterTimeout bounds how long a fresh connection may wait before
	// sending its register envelope.
	RegisterTimeout time.Duration

	// Inbound hardening.
	MaxMessageBytes   int64
	MessagesPerSecond int
}

// Server is the signaling hub: peers register under a username, and the hub
// forwards addressed envelopes (offer/answer/ice-candidate/call-rejected) to
// their target, stamping the sender. It broadcasts a peer-list envelope on
// every join and leave.
type Server struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	registerTimeout   time.Duration
	maxMessageBytes   int64
	messagesPerSecond int

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*hubClient
}

type hubClient struct {
	username string
	conn     *websocket.Conn
	writeMu  sync.Mutex
}

func NewServer(cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	registerTimeout := cfg.RegisterTimeout
	if registerTimeout <= 0 {
		registerTimeout = 5 * time.Second
	}
	maxMessageBytes := cfg.MaxMessageBytes
	if maxMessageBytes <= 0 {
		maxMessageBytes = 64 * 1024
	}
	messagesPerSecond := cfg.MessagesPerSecond
	if messagesPerSecond <= 0 {
		messagesPerSecond = 50
	}

	return &Server{
		log:     log,
		metrics: cfg.Metrics,

		registerTimeout:   registerTimeout,
		maxMessageBytes:   maxMessageBytes,
		messagesPerSecond: messagesPerSecond,

		upgrader: websocket.Upgrader{
			// The hub is deployed on trusted networks; browser clients are not a
			// supported surface, so cross-origin upgrades are accepted.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*hubClient),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	go s.serveConn(conn)
}

// Close disconnects all registered peers.
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*hubClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*hubClient)
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}

// Peers returns the currently registered usernames, sorted.
func (s *Server) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerListLocked()
}

func (s *Server) serveConn(conn *websocket.Conn) {
	conn.SetReadLimit(s.maxMessageBytes)

	client, err := s.awaitRegister(conn)
	if err != nil {
		s.log.Debug("rejecting signaling connection", "err", err)
		_ = conn.Close()
		return
	}

	s.log.Info("peer registered", "username", client.username)
	s.broadcastPeerList()

	defer func() {
		s.unregister(client)
		s.log.Info("peer disconnected", "username", client.username)
		s.broadcastPeerList()
	}()

	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{},
		int64(s.messagesPerSecond), int64(s.messagesPerSecond))

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		// Consume the message before enforcing the limit so the TCP receive
		// buffer is drained; closing with unread data can turn into an abortive
		// close that hides the close reason from the client.
		if !limiter.Allow(1) {
			s.inc(metrics.SignalRateLimited)
			s.closeWith(client, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			s.closeWith(client, websocket.CloseUnsupportedData, "expected text message")
			return
		}

		env, err := ParseEnvelope(data)
		if err != nil {
			s.inc(metrics.SignalMalformed)
			s.log.Warn("dropping malformed envelope", "username", client.username, "err", err)
			continue
		}

		s.route(client, env)
	}
}

// awaitRegister reads the mandatory first envelope and registers the client.
func (s *Server) awaitRegister(conn *websocket.Conn) (*hubClient, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.registerTimeout))
	defer conn.SetReadDeadline(time.Time{})

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read register: %w", err)
	}
	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("register must be a text message")
	}

	env, err := ParseEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("parse register: %w", err)
	}
	if env.Type != MessageTypeRegister {
		return nil, fmt.Errorf("first envelope must be register, got %q", env.Type)
	}

	client := &hubClient{username: env.Username, conn: conn}

	s.mu.Lock()
	if _, taken := s.clients[env.Username]; taken {
		s.mu.Unlock()
		_ = client.send(Envelope{
			Type:    MessageTypeError,
			Code:    "username_taken",
			Message: fmt.Sprintf("username %q is already registered", env.Username),
		})
		return nil, fmt.Errorf("username %q already registered", env.Username)
	}
	s.clients[env.Username] = client
	s.mu.Unlock()

	return client, nil
}

func (s *Server) unregister(client *hubClient) {
	s.mu.Lock()
	if s.clients[client.username] == client {
		delete(s.clients, client.username)
	}
	s.mu.Unlock()
	_ = client.conn.Close()
}

// route forwards one addressed envelope to its target, stamping the sender.
// Hub control types from a registered client are protocol violations and are
// dropped.
func (s *Server) route(from *hubClient, env Envelope) {
	if !env.Addressed() {
		s.inc(metrics.SignalMalformed)
		s.log.Warn("dropping non-addressed envelope", "username", from.username, "type", env.Type)
		return
	}
	if env.Target == "" {
		s.inc(metrics.SignalMalformed)
		s.log.Warn("dropping envelope without target", "username", from.username, "type", env.Type)
		return
	}

	env.Sender = from.username

	s.mu.Lock()
	target, ok := s.clients[env.Target]
	s.mu.Unlock()
	if !ok {
		s.inc(metrics.SignalUnknownTarget)
		s.log.Debug("dropping envelope for unknown target", "target", env.Target, "type", env.Type)
		return
	}

	if err := target.send(env); err != nil {
		s.log.Warn("forward failed", "target", env.Target, "err", err)
	} else {
		s.inc(metrics.SignalForwarded)
	}
}

func (s *Server) broadcastPeerList() {
	s.mu.Lock()
	peers := s.peerListLocked()
	clients := make([]*hubClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	env := Envelope{Type: MessageTypePeerList, Peers: peers}
	for _, c := range clients {
		if err := c.send(env); err != nil {
			s.log.Debug("peer-list broadcast failed", "username", c.username, "err", err)
		}
	}
}

func (s *Server) peerListLocked() []string {
	peers := make([]string, 0, len(s.clients))
	for name := range s.clients {
		peers = append(peers, name)
	}
	sort.Strings(peers)
	return peers
}

func (s *Server) closeWith(client *hubClient, code int, reason string) {
	client.writeMu.Lock()
	_ = client.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	client.writeMu.Unlock()
}

func (s *Server) inc(name string) {
	if s.metrics != nil {
		s.metrics.Inc(name)
	}
}

func (c *hubClient) send(env Envelope) error {
	data, err := marshalEnvelope(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
