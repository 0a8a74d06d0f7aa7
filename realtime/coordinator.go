package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"driverlink/config"
	"driverlink/lifecycle"
	"driverlink/logger"
	"driverlink/models"
	"driverlink/transport/poll"
	"driverlink/transport/push"
	"driverlink/transport/socket"
)

// Transport names as reported in connection status and error callbacks.
const (
	TransportSocket = "websocket"
	TransportPoll   = "polling"
	TransportPush   = "push"
)

// Callbacks is the consumer-facing event surface. All callbacks are invoked
// from transport goroutines; consumers that need ordering should funnel into
// their own channel.
type Callbacks struct {
	OnNewOrder         func(models.Order)
	OnOrderUpdate      func(models.Order)
	OnNewBatchLeg      func(models.BatchLeg)
	OnBatchLegUpdate   func(models.BatchLeg)
	OnConnectionChange func(transport string, connected bool)
	OnError            func(transport string, err error)
	OnMetrics          func(Snapshot)
}

// ConnectionStatus reports per-transport health. Overall is true when any
// enabled transport is connected.
type ConnectionStatus struct {
	Socket  bool `json:"socket"`
	Poll    bool `json:"poll"`
	Push    bool `json:"push"`
	Overall bool `json:"overall"`
}

// ConfigOverrides carries the fields UpdateConfig may change at runtime. Nil
// fields keep their current value.
type ConfigOverrides struct {
	PollInterval   *time.Duration
	AuthToken      *string
	SocketEnabled  *bool
	PollEnabled    *bool
	PushEnabled    *bool
}

// Coordinator owns the three delivery channels, deduplicates events across
// them and fans the result out to the consumer callbacks.
type Coordinator struct {
	cb       Callbacks
	log      *logger.Log
	seen     *SeenRegistry
	metrics  *Metrics
	observer *lifecycle.Observer
	provider push.Provider
	events   chan models.Event

	mu      sync.RWMutex
	cfg     config.RealtimeConfig
	running bool
	socket  *socket.Channel
	poll    *poll.Channel
	push    *push.Channel
	done    chan struct{}
	wg      sync.WaitGroup
}

// New builds a coordinator from config. The push provider may be nil, in
// which case the push channel degrades to the no-op provider.
func New(cfg config.RealtimeConfig, provider push.Provider, cb Callbacks) *Coordinator {
	c := &Coordinator{
		cb:       cb,
		log:      logger.GetLogger(),
		cfg:      cfg,
		seen:     NewSeenRegistry(cfg.Dedup.Window),
		metrics:  NewMetrics(),
		provider: provider,
		events:   make(chan models.Event, 256),
	}
	c.observer = lifecycle.NewObserver(lifecycle.Handlers{
		OnForeground: c.handleForeground,
		OnBackground: c.handleBackground,
	})
	return c
}

// Observer exposes the lifecycle observer so the host can feed it
// foreground/background transitions.
func (c *Coordinator) Observer() *lifecycle.Observer {
	return c.observer
}

// Events is a best-effort feed of delivered events for observers like the
// status server. Slow consumers lose events; the callbacks are the reliable
// path.
func (c *Coordinator) Events() <-chan models.Event {
	return c.events
}

func (c *Coordinator) publishEvent(ev models.Event) {
	ev.Timestamp = time.Now()
	select {
	case c.events <- ev:
		logger.RecordChannelMessage("events", 0)
	default:
		c.log.WithComponent("realtime_coordinator").Debug("event feed full, dropping event")
	}
}

// Start brings up every enabled channel. A failure to start one channel is
// reported and the others still come up; calling Start while running is a
// logged no-op.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.log.WithComponent("realtime_coordinator").Warn("start called while already running")
		return nil
	}
	c.running = true
	c.done = make(chan struct{})
	done := c.done
	cfg := c.cfg
	c.mu.Unlock()

	c.log.WithComponent("realtime_coordinator").WithFields(logger.Fields{
		"tenant":  cfg.TenantID,
		"driver":  cfg.DriverID,
		"socket":  cfg.Transports.Socket,
		"poll":    cfg.Transports.Poll,
		"push":    cfg.Transports.Push,
		"primary": cfg.Transports.Primary,
	}).Info("starting realtime coordinator")

	if cfg.Transports.Socket {
		ch := socket.New(cfg, socket.Callbacks{
			OnMessage:          c.handleSocketMessage,
			OnConnectionChange: func(connected bool) { c.reportConnection(TransportSocket, connected) },
			OnError:            func(err error) { c.reportError(TransportSocket, err) },
		})
		c.mu.Lock()
		c.socket = ch
		c.mu.Unlock()
		if err := ch.Start(); err != nil {
			c.reportError(TransportSocket, err)
		}
	}

	if cfg.Transports.Poll {
		ch := poll.New(cfg, poll.Callbacks{
			OnData:             c.handlePollData,
			OnConnectionChange: func(connected bool) { c.reportConnection(TransportPoll, connected) },
			OnError:            func(err error) { c.reportError(TransportPoll, err) },
		})
		c.mu.Lock()
		c.poll = ch
		c.mu.Unlock()
		if err := ch.Start(cfg.Poll.Interval); err != nil {
			c.reportError(TransportPoll, err)
		}
	}

	if cfg.Transports.Push {
		ch := push.New(cfg, c.provider, push.Callbacks{
			OnNotification: c.handlePushMessage,
			OnError:        func(err error) { c.reportError(TransportPush, err) },
		})
		c.mu.Lock()
		c.push = ch
		c.mu.Unlock()
		if err := ch.Start(); err != nil {
			c.reportError(TransportPush, err)
		}
	}

	c.wg.Add(1)
	go c.sweepLoop(done)
	return nil
}

// Stop tears the channels down and waits for the sweep loop. Idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.done)
	sock, pol, psh := c.socket, c.poll, c.push
	c.socket, c.poll, c.push = nil, nil, nil
	c.mu.Unlock()

	if sock != nil {
		sock.Stop()
	}
	if pol != nil {
		pol.Stop()
	}
	if psh != nil {
		psh.Stop()
	}
	c.wg.Wait()
	c.log.WithComponent("realtime_coordinator").Info("realtime coordinator stopped")
}

// MarkOrderAsHandled evicts an order from the seen registry so the backend
// re-sending it (after a decline, say) is delivered again.
func (c *Coordinator) MarkOrderAsHandled(orderID string) {
	c.seen.Forget("order:" + orderID)
	c.log.WithComponent("realtime_coordinator").WithFields(logger.Fields{
		"order_id": orderID,
	}).Debug("order marked handled, dedup entry evicted")
}

// ConnectionStatus reports per-transport health plus the overall OR.
func (c *Coordinator) ConnectionStatus() ConnectionStatus {
	c.mu.RLock()
	sock, pol, psh := c.socket, c.poll, c.push
	c.mu.RUnlock()

	var status ConnectionStatus
	if sock != nil {
		status.Socket = sock.IsConnected()
	}
	if pol != nil {
		status.Poll = pol.IsConnected()
	}
	if psh != nil {
		status.Push = psh.IsConnected()
	}
	status.Overall = status.Socket || status.Poll || status.Push
	return status
}

// Metrics returns a snapshot of the coordinator counters.
func (c *Coordinator) Metrics() Snapshot {
	return c.metrics.Snapshot()
}

// UpdateConfig stops the channels, merges the overrides and restarts. A
// stopped coordinator just merges; the next Start picks the new values up.
func (c *Coordinator) UpdateConfig(overrides ConfigOverrides) error {
	c.mu.RLock()
	wasRunning := c.running
	c.mu.RUnlock()

	if wasRunning {
		c.Stop()
	}

	// Merge into a copy first so a rejected update leaves the active
	// configuration untouched.
	c.mu.RLock()
	merged := c.cfg
	c.mu.RUnlock()

	if overrides.PollInterval != nil {
		merged.Poll.Interval = *overrides.PollInterval
		if merged.Poll.Interval < config.MinPollInterval {
			merged.Poll.Interval = config.MinPollInterval
		}
	}
	if overrides.AuthToken != nil {
		merged.AuthToken = *overrides.AuthToken
	}
	if overrides.SocketEnabled != nil {
		merged.Transports.Socket = *overrides.SocketEnabled
	}
	if overrides.PollEnabled != nil {
		merged.Transports.Poll = *overrides.PollEnabled
	}
	if overrides.PushEnabled != nil {
		merged.Transports.Push = *overrides.PushEnabled
	}

	if err := merged.Validate(); err != nil {
		// Resume with the previous configuration rather than staying down.
		if wasRunning {
			c.Start()
		}
		return fmt.Errorf("update config: %w", err)
	}

	c.mu.Lock()
	c.cfg = merged
	c.mu.Unlock()

	c.log.WithComponent("realtime_coordinator").Info("configuration updated")
	if wasRunning {
		return c.Start()
	}
	return nil
}

// UpdateAuthToken propagates a refreshed bearer token to the live channels
// without a restart.
func (c *Coordinator) UpdateAuthToken(token string) {
	c.mu.Lock()
	c.cfg.AuthToken = token
	sock, pol := c.socket, c.poll
	c.mu.Unlock()

	if sock != nil {
		sock.UpdateAuthToken(token)
	}
	if pol != nil {
		pol.UpdateAuthToken(token)
	}
}

// handleSocketMessage routes a decoded socket frame.
func (c *Coordinator) handleSocketMessage(msg models.Message) {
	c.metrics.addTransportMessage(TransportSocket)
	c.routeMessage(TransportSocket, msg)
}

// handlePollData treats every polled order as a potential new order; the seen
// registry filters the ones another transport already delivered.
func (c *Coordinator) handlePollData(orders []models.Order) {
	c.metrics.addTransportMessage(TransportPoll)
	for _, order := range orders {
		c.dispatchOrder(TransportPoll, order, false)
	}
}

// handlePushMessage routes a normalized push notification.
func (c *Coordinator) handlePushMessage(msg models.Message) {
	c.metrics.addTransportMessage(TransportPush)
	c.routeMessage(TransportPush, msg)
}

func (c *Coordinator) routeMessage(transport string, msg models.Message) {
	switch msg.Type {
	case models.MessageNewOrder:
		if msg.Order != nil {
			c.dispatchOrder(transport, *msg.Order, false)
		}
	case models.MessageOrderUpdate:
		if msg.Order != nil {
			c.dispatchOrder(transport, *msg.Order, true)
		}
	case models.MessageNewBatchOrder:
		c.expandBatch(transport, msg)
	case models.MessageNewBatchLeg:
		if msg.Leg != nil {
			c.dispatchLeg(transport, *msg.Leg, false)
		}
	case models.MessageBatchLegUpdate:
		if msg.Leg != nil {
			c.dispatchLeg(transport, *msg.Leg, true)
		}
	case models.MessageAuthSuccess, models.MessageAuthError:
		// Connection-level frames, already handled by the socket channel.
	case models.MessageError:
		c.reportError(transport, fmt.Errorf("server error: %s", msg.Message))
	default:
		c.log.WithComponent("realtime_coordinator").WithFields(logger.Fields{
			"type":      msg.Type,
			"transport": transport,
		}).Debug("ignoring unrecognized message type")
	}
}

// dispatchOrder delivers one order through the dedup gate. New orders are
// keyed by order id so the same order arriving over several transports is
// delivered once; updates additionally key on status so a genuine status
// transition inside the window still goes through.
func (c *Coordinator) dispatchOrder(transport string, order models.Order, update bool) {
	c.mu.RLock()
	tenantID := c.cfg.TenantID
	c.mu.RUnlock()

	// Foreign-tenant data never leaves the coordinator, whichever transport
	// leaked it.
	if order.TenantID != "" && order.TenantID != tenantID {
		c.log.WithComponent("realtime_coordinator").WithFields(logger.Fields{
			"order_tenant": order.TenantID,
			"transport":    transport,
		}).Debug("dropping cross-tenant order")
		return
	}

	c.metrics.addOrderReceived()
	logger.IncrementOrderReceived()

	key := order.DedupKey()
	if update {
		key = "update:" + order.ID + ":" + order.Status
	}
	if c.seen.CheckAndMark(key) {
		c.metrics.addDuplicateFiltered()
		logger.IncrementDuplicateFiltered()
		c.log.WithComponent("realtime_coordinator").WithFields(logger.Fields{
			"order_id":  order.ID,
			"transport": transport,
		}).Debug("duplicate filtered")
		return
	}
	c.metrics.addUniqueOrder()

	c.log.WithComponent("realtime_coordinator").WithFields(logger.Fields{
		"order_id":  order.ID,
		"status":    order.Status,
		"transport": transport,
		"update":    update,
	}).Info("delivering order event")

	if update {
		c.publishEvent(models.Event{Kind: models.EventOrderUpdate, Order: &order, Transport: transport})
		if c.cb.OnOrderUpdate != nil {
			c.cb.OnOrderUpdate(order)
		}
		return
	}
	c.publishEvent(models.Event{Kind: models.EventNewOrder, Order: &order, Transport: transport})
	if c.cb.OnNewOrder != nil {
		c.cb.OnNewOrder(order)
	}
}

// dispatchLeg delivers one batch leg through the dedup gate.
func (c *Coordinator) dispatchLeg(transport string, leg models.BatchLeg, update bool) {
	c.metrics.addLegReceived()

	key := leg.DedupKey()
	if update {
		key = key + ":" + leg.Status
	}
	if c.seen.CheckAndMark(key) {
		c.metrics.addDuplicateFiltered()
		logger.IncrementDuplicateFiltered()
		return
	}

	c.log.WithComponent("realtime_coordinator").WithFields(logger.Fields{
		"leg_id":    leg.ID,
		"batch_id":  leg.BatchID,
		"transport": transport,
		"update":    update,
	}).Info("delivering batch leg event")

	if update {
		c.publishEvent(models.Event{Kind: models.EventBatchLegUpdate, Leg: &leg, Transport: transport})
		if c.cb.OnBatchLegUpdate != nil {
			c.cb.OnBatchLegUpdate(leg)
		}
		return
	}
	c.publishEvent(models.Event{Kind: models.EventNewBatchLeg, Leg: &leg, Transport: transport})
	if c.cb.OnNewBatchLeg != nil {
		c.cb.OnNewBatchLeg(leg)
	}
}

// expandBatch turns a new_batch_order frame into individual new-order events.
// A frame without an expanded order list still yields one representative
// order carrying the batch metadata, so the consumer always sees something.
func (c *Coordinator) expandBatch(transport string, msg models.Message) {
	c.metrics.addBatchExpanded()

	if len(msg.Orders) > 0 {
		c.log.WithComponent("realtime_coordinator").WithFields(logger.Fields{
			"orders":    len(msg.Orders),
			"transport": transport,
		}).Info("expanding batch order")
		for _, order := range msg.Orders {
			c.dispatchOrder(transport, order, false)
		}
		return
	}

	representative := models.Order{Status: models.OrderStatusPending}
	if msg.Order != nil {
		representative = *msg.Order
	}
	if msg.Batch != nil {
		representative.BatchID = msg.Batch.ID
	}
	if representative.ID == "" {
		if representative.BatchID != "" {
			representative.ID = "batch-" + representative.BatchID
		} else {
			representative.ID = "batch-" + uuid.NewString()
		}
	}
	c.dispatchOrder(transport, representative, false)
}

// handleForeground restarts a socket that gave up while backgrounded and
// forces an immediate poll so the pending list refreshes without waiting for
// the next tick.
func (c *Coordinator) handleForeground(backgroundedFor time.Duration) {
	c.mu.RLock()
	running := c.running
	sock, pol, psh := c.socket, c.poll, c.push
	c.mu.RUnlock()
	if !running {
		return
	}

	log := c.log.WithComponent("realtime_coordinator").WithFields(logger.Fields{
		"backgrounded_for": backgroundedFor.String(),
	})

	if psh != nil {
		psh.SetForeground(true)
	}
	if sock != nil && !sock.IsConnected() {
		log.Info("foreground: restarting socket channel")
		if err := sock.Start(); err != nil {
			// Already running means the reconnect loop is still live.
			c.log.WithComponent("realtime_coordinator").WithError(err).Debug("socket restart skipped")
		}
	}
	if pol != nil {
		log.Info("foreground: forcing poll")
		pol.ForcePoll()
	}
}

// handleBackground only flags the push channel; sockets and timers are left
// alone since the OS decides what survives backgrounding.
func (c *Coordinator) handleBackground() {
	c.mu.RLock()
	psh := c.push
	c.mu.RUnlock()
	if psh != nil {
		psh.SetForeground(false)
	}
}

// sweepLoop evicts expired dedup entries and emits a metrics snapshot every
// sweep interval.
func (c *Coordinator) sweepLoop(done chan struct{}) {
	defer c.wg.Done()
	interval := c.cfg.Dedup.SweepInterval
	if interval <= 0 {
		interval = config.DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			removed := c.seen.Sweep()
			if removed > 0 {
				c.log.WithComponent("realtime_coordinator").WithFields(logger.Fields{
					"evicted": removed,
					"live":    c.seen.Len(),
				}).Debug("dedup sweep")
			}
			if c.cb.OnMetrics != nil {
				c.cb.OnMetrics(c.metrics.Snapshot())
			}
		}
	}
}

func (c *Coordinator) reportConnection(transport string, connected bool) {
	c.log.WithComponent("realtime_coordinator").WithFields(logger.Fields{
		"transport": transport,
		"connected": connected,
	}).Info("transport connection change")
	if c.cb.OnConnectionChange != nil {
		c.cb.OnConnectionChange(transport, connected)
	}
}

func (c *Coordinator) reportError(transport string, err error) {
	c.metrics.addError()
	c.publishEvent(models.Event{Kind: models.EventError, Err: err.Error(), Transport: transport})
	if c.cb.OnError != nil {
		c.cb.OnError(transport, err)
	}
}
