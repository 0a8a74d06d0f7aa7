package socket

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"driverlink/config"
	"driverlink/logger"
	"driverlink/models"
)

// State describes the socket connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	default:
		return "disconnected"
	}
}

// Callbacks are invoked from the channel's reader goroutine. OnMessage fires
// for every successfully parsed frame, OnConnectionChange whenever the
// connected flag flips, OnError for parse and transport failures.
type Callbacks struct {
	OnMessage          func(models.Message)
	OnConnectionChange func(connected bool)
	OnError            func(err error)
}

// authFrame is the first message written after every connect. The tenant id
// is mandatory configuration; the client id identifies this process across
// reconnects.
type authFrame struct {
	Type     string `json:"type"`
	Token    string `json:"token,omitempty"`
	TenantID string `json:"tenant_id"`
	DriverID string `json:"driver_id"`
	ClientID string `json:"client_id"`
}

// Channel maintains a persistent websocket to the dispatch backend with
// jittered reconnects capped at a configurable attempt count.
type Channel struct {
	cfg      config.RealtimeConfig
	cb       Callbacks
	log      *logger.Log
	clientID string
	jitter   func() float64

	mu       sync.RWMutex
	conn     *websocket.Conn
	state    State
	running  bool
	stopped  bool
	attempts int
	token    string
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a socket channel. The channel does not connect until Start is
// called.
func New(cfg config.RealtimeConfig, cb Callbacks) *Channel {
	return &Channel{
		cfg:      cfg,
		cb:       cb,
		log:      logger.GetLogger(),
		clientID: uuid.NewString(),
		token:    cfg.AuthToken,
		jitter:   func() float64 { return 0.75 + rand.Float64()*0.5 },
	}
}

// Start opens the connection and keeps it open until Stop. Calling Start on a
// running channel is an error; calling it after Stop resets the reconnect
// attempt counter, which is how the coordinator revives a channel that gave
// up.
func (c *Channel) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("socket channel already running")
	}
	c.running = true
	c.stopped = false
	c.attempts = 0
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	wsURL, err := c.dialURL()
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("socket channel: %w", err)
	}

	c.log.WithComponent("socket_channel").WithFields(logger.Fields{
		"url":                wsURL,
		"reconnect_interval": c.cfg.Socket.ReconnectInterval,
		"max_attempts":       c.cfg.Socket.MaxReconnectAttempts,
	}).Info("starting socket channel")

	c.wg.Add(1)
	go c.run(wsURL, done)
	return nil
}

// Stop closes the socket with a normal-closure frame and suppresses any
// further reconnects. Idempotent.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.stopped = true
	close(c.done)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
	c.wg.Wait()
	c.setState(StateDisconnected)
	c.log.WithComponent("socket_channel").Info("socket channel stopped")
}

// SendMessage is a best-effort send; the payload is silently dropped when the
// socket is not connected.
func (c *Channel) SendMessage(payload interface{}) {
	c.mu.RLock()
	conn := c.conn
	connected := (c.state == StateAuthenticating || c.state == StateOpen) && !c.stopped
	c.mu.RUnlock()

	if conn == nil || !connected {
		c.log.WithComponent("socket_channel").Debug("send skipped, socket not connected")
		return
	}
	if err := conn.WriteJSON(payload); err != nil {
		c.log.WithComponent("socket_channel").WithError(err).Debug("best-effort send failed")
	}
}

// IsConnected reports whether the socket is open and the channel has not been
// told to stop.
func (c *Channel) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.stopped && (c.state == StateAuthenticating || c.state == StateOpen)
}

// UpdateAuthToken applies a new bearer token. A connected socket re-sends the
// authenticate frame without dropping the connection.
func (c *Channel) UpdateAuthToken(token string) {
	c.mu.Lock()
	c.token = token
	conn := c.conn
	open := (c.state == StateAuthenticating || c.state == StateOpen) && !c.stopped
	c.mu.Unlock()

	if conn != nil && open {
		c.log.WithComponent("socket_channel").Info("auth token updated, re-authenticating")
		c.writeAuth(conn)
	}
}

// ReconnectDelay is the reconnect interval scaled by a jitter factor in
// [0.75, 1.25] so a fleet of devices does not reconnect in lockstep.
func (c *Channel) ReconnectDelay() time.Duration {
	return time.Duration(float64(c.cfg.Socket.ReconnectInterval) * c.jitter())
}

func (c *Channel) dialURL() (string, error) {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch base.Scheme {
	case "https", "wss":
		base.Scheme = "wss"
	case "http", "ws":
		base.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme '%s'", base.Scheme)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/" + strings.TrimPrefix(c.cfg.Socket.Endpoint, "/")
	return base.String(), nil
}

// run is the connect/read/reconnect loop. It exits on Stop, on a normal
// closure from the server, or once the attempt cap is exceeded.
func (c *Channel) run(wsURL string, done chan struct{}) {
	defer c.wg.Done()
	log := c.log.WithComponent("socket_channel").WithFields(logger.Fields{"worker": "socket_stream"})

	for {
		select {
		case <-done:
			return
		default:
		}

		c.setState(StateConnecting)
		dialer := websocket.Dialer{HandshakeTimeout: c.cfg.Socket.HandshakeTimeout}
		header := make(map[string][]string)
		if c.cfg.TenantHost != "" {
			header["Host"] = []string{c.cfg.TenantHost}
		}
		conn, _, err := dialer.Dial(wsURL, header)
		if err != nil {
			c.setState(StateDisconnected)
			c.reportError(fmt.Errorf("connect: %w", err))
			if !c.waitReconnect(done, log) {
				return
			}
			continue
		}

		// Stop may have fired while the handshake was in flight; it saw a nil
		// conn and closed nothing, so this goroutine owns the cleanup.
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			conn.Close()
			c.setState(StateDisconnected)
			return
		}
		c.conn = conn
		c.attempts = 0
		c.mu.Unlock()

		c.setState(StateAuthenticating)
		c.writeAuth(conn)

		pingStop := make(chan struct{})
		c.wg.Add(1)
		go c.pingLoop(conn, pingStop)

		normal := c.readLoop(conn, log)

		close(pingStop)
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.setState(StateDisconnected)

		if normal {
			log.Info("socket closed normally")
			return
		}
		select {
		case <-done:
			return
		default:
		}
		if !c.waitReconnect(done, log) {
			return
		}
	}
}

// readLoop consumes frames until the connection drops. It returns true when
// the closure was normal (close code 1000) and no reconnect should be
// scheduled.
func (c *Channel) readLoop(conn *websocket.Conn, log *logger.Entry) bool {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true
			}
			c.mu.RLock()
			stopped := c.stopped
			c.mu.RUnlock()
			if stopped {
				return true
			}
			log.WithError(err).Warn("socket read error")
			c.reportError(fmt.Errorf("read: %w", err))
			return false
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.WithError(err).Warn("dropping malformed frame")
			c.reportError(fmt.Errorf("parse frame: %w", err))
			continue
		}
		logger.IncrementSocketRead(len(data))

		switch msg.Type {
		case models.MessageAuthSuccess:
			c.setState(StateOpen)
			log.Info("socket authenticated")
		case models.MessageAuthError:
			// The server decides whether to close; keep delivering frames.
			c.reportError(fmt.Errorf("authentication rejected: %s", msg.Message))
		}

		if c.cb.OnMessage != nil {
			c.cb.OnMessage(msg)
		}
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	defer c.wg.Done()
	interval := c.cfg.Socket.PingInterval
	if interval <= 0 {
		interval = config.DefaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// waitReconnect sleeps for a jittered reconnect delay. It returns false when
// the channel should give up: either Stop was called or the attempt cap was
// exceeded, the latter being terminal until the next Start.
func (c *Channel) waitReconnect(done chan struct{}, log *logger.Entry) bool {
	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	maxAttempts := c.cfg.Socket.MaxReconnectAttempts
	c.mu.Unlock()

	if attempts > maxAttempts {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		log.WithFields(logger.Fields{"attempts": attempts - 1}).Error("reconnect attempts exhausted, giving up")
		c.reportError(fmt.Errorf("gave up after %d reconnect attempts", attempts-1))
		return false
	}

	delay := c.ReconnectDelay()
	logger.IncrementReconnectCount()
	log.WithFields(logger.Fields{
		"attempt": attempts,
		"max":     maxAttempts,
		"delay":   delay.String(),
	}).Warn("scheduling reconnect")

	select {
	case <-time.After(delay):
		return true
	case <-done:
		return false
	}
}

func (c *Channel) writeAuth(conn *websocket.Conn) {
	c.mu.RLock()
	frame := authFrame{
		Type:     "authenticate",
		Token:    c.token,
		TenantID: c.cfg.TenantID,
		DriverID: c.cfg.DriverID,
		ClientID: c.clientID,
	}
	c.mu.RUnlock()

	if err := conn.WriteJSON(frame); err != nil {
		c.log.WithComponent("socket_channel").WithError(err).Warn("failed to send authenticate frame")
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	stopped := c.stopped
	c.mu.Unlock()

	if prev == s {
		return
	}
	c.log.WithComponent("socket_channel").WithFields(logger.Fields{
		"from": prev.String(),
		"to":   s.String(),
	}).Debug("state transition")

	wasConnected := prev == StateAuthenticating || prev == StateOpen
	isConnected := (s == StateAuthenticating || s == StateOpen) && !stopped
	if wasConnected != isConnected && c.cb.OnConnectionChange != nil {
		c.cb.OnConnectionChange(isConnected)
	}
}

func (c *Channel) reportError(err error) {
	c.log.WithComponent("socket_channel").WithError(err).Warn("socket channel error")
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}
