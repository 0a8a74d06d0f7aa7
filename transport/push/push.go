package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"driverlink/config"
	"driverlink/logger"
	"driverlink/models"
)

// Callbacks are invoked from the provider's listener goroutine.
type Callbacks struct {
	OnNotification func(models.Message)
	OnError        func(err error)
}

// pushPayload is the raw notification shape. Providers may re-encode the
// order as a JSON string, and shared topics carry a tenant id for filtering.
type pushPayload struct {
	Type     string          `json:"type"`
	Order    json.RawMessage `json:"order"`
	TenantID string          `json:"tenant_id"`
}

// Channel subscribes to tenant- and role-scoped push topics through an
// injected Provider. Payloads received while backgrounded are dropped and
// counted: push content is not trusted to be complete, and the socket restart
// plus forced poll on foreground recover the state.
type Channel struct {
	cfg      config.RealtimeConfig
	provider Provider
	cb       Callbacks
	log      *logger.Log

	mu         sync.RWMutex
	running    bool
	token      string
	foreground bool
	deferred   int64
	cancel     context.CancelFunc
}

// New creates a push channel. A nil provider selects the no-op fallback.
func New(cfg config.RealtimeConfig, provider Provider, cb Callbacks) *Channel {
	if provider == nil {
		provider = NewNoopProvider()
	}
	return &Channel{
		cfg:        cfg,
		provider:   provider,
		cb:         cb,
		log:        logger.GetLogger(),
		foreground: true,
	}
}

// Start requests permission, obtains a registration token and subscribes to
// the tenant and role topics. Provider failures are reported but never abort
// the channel.
func (c *Channel) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("push channel already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	log := c.log.WithComponent("push_channel")

	if err := c.provider.RequestPermission(ctx); err != nil {
		c.reportError(fmt.Errorf("request permission: %w", err))
	}

	token, err := c.provider.Token(ctx)
	if err != nil {
		c.reportError(fmt.Errorf("obtain token: %w", err))
	} else if token != "" {
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
		log.WithFields(logger.Fields{"token_len": len(token)}).Info("push registration token obtained")
	}

	for _, topic := range c.topics() {
		if err := c.provider.Subscribe(ctx, topic); err != nil {
			c.reportError(fmt.Errorf("subscribe %s: %w", topic, err))
			continue
		}
		log.WithFields(logger.Fields{"topic": topic}).Info("subscribed to push topic")
	}

	if err := c.provider.Listen(ctx, c.HandlePayload); err != nil {
		c.reportError(fmt.Errorf("listen: %w", err))
	}

	log.Info("push channel started")
	return nil
}

// Stop releases the provider listeners. Idempotent.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	if err := c.provider.Close(); err != nil {
		c.log.WithComponent("push_channel").WithError(err).Warn("provider close failed")
	}
	c.log.WithComponent("push_channel").Info("push channel stopped")
}

// GetToken returns the last known registration token.
func (c *Channel) GetToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// IsConnected reports whether the channel is running with a registration
// token. The no-op provider never yields a token, so push correctly reports
// disconnected when no SDK is available.
func (c *Channel) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running && c.token != ""
}

// SubscribeToTopic is a pass-through to the provider.
func (c *Channel) SubscribeToTopic(ctx context.Context, topic string) error {
	return c.provider.Subscribe(ctx, topic)
}

// UnsubscribeFromTopic is a pass-through to the provider.
func (c *Channel) UnsubscribeFromTopic(ctx context.Context, topic string) error {
	return c.provider.Unsubscribe(ctx, topic)
}

// SetForeground tells the channel whether the app is currently visible.
// Backgrounded payloads are not delivered.
func (c *Channel) SetForeground(foreground bool) {
	c.mu.Lock()
	c.foreground = foreground
	c.mu.Unlock()
}

// HandlePayload normalizes one raw notification and hands it to the
// coordinator. Exported because the provider's platform glue delivers
// payloads from outside the package.
func (c *Channel) HandlePayload(data []byte) {
	log := c.log.WithComponent("push_channel")

	var payload pushPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.WithError(err).Warn("dropping malformed push payload")
		c.reportError(fmt.Errorf("parse push payload: %w", err))
		return
	}

	// Shared topics deliver every tenant's notifications; drop foreign ones.
	if payload.TenantID != "" && payload.TenantID != c.cfg.TenantID {
		log.WithFields(logger.Fields{"payload_tenant": payload.TenantID}).Debug("dropping cross-tenant notification")
		return
	}

	order, err := models.DecodePushOrder(payload.Order)
	if err != nil {
		log.WithError(err).Warn("dropping push payload with undecodable order")
		c.reportError(fmt.Errorf("decode push order: %w", err))
		return
	}

	logger.IncrementPushRead(len(data))

	c.mu.Lock()
	foreground := c.foreground
	if !foreground {
		c.deferred++
	}
	c.mu.Unlock()

	if !foreground {
		// Push payloads are not trusted while backgrounded; the socket and
		// poll channels deliver the full state on foreground.
		log.Debug("backgrounded, deferring push payload to other channels")
		return
	}

	msgType := payload.Type
	if msgType == "" {
		msgType = models.MessageNewOrder
	}
	msg := models.Message{
		Type:     msgType,
		Order:    order,
		TenantID: payload.TenantID,
	}
	if c.cb.OnNotification != nil {
		c.cb.OnNotification(msg)
	}
}

// DeferredCount returns how many backgrounded payloads were dropped since
// start, for the runtime report.
func (c *Channel) DeferredCount() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deferred
}

func (c *Channel) topics() []string {
	prefix := c.cfg.Push.TopicPrefix
	role := c.cfg.Push.RoleTopic
	if role == "" {
		role = "drivers"
	}
	return []string{
		fmt.Sprintf("%stenant_%s_%s", prefix, c.cfg.TenantID, role),
		prefix + role,
	}
}

func (c *Channel) reportError(err error) {
	c.log.WithComponent("push_channel").WithError(err).Warn("push channel error")
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}
