package poll

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"driverlink/config"
	"driverlink/logger"
	"driverlink/models"
)

// Callbacks are invoked from the channel's polling goroutines. OnData receives
// the normalized, non-empty order list of a poll; OnConnectionChange fires
// when the channel's health flips; OnError reports request failures.
type Callbacks struct {
	OnData             func([]models.Order)
	OnConnectionChange func(connected bool)
	OnError            func(err error)
}

// Channel polls the pending-orders endpoint on a fixed timer. Two guards
// bound the request volume: a response cache answering ticks inside the cache
// window, and an in-flight flag so a tick never overlaps an outstanding
// request.
type Channel struct {
	cfg     config.RealtimeConfig
	cb      Callbacks
	log     *logger.Log
	client  *resty.Client
	limiter *rate.Limiter
	cache   *responseCache

	inFlight atomic.Bool

	mu              sync.RWMutex
	running         bool
	interval        time.Duration
	connected       bool
	consecutiveErrs int
	token           string
	done            chan struct{}
	update          chan time.Duration
	wg              sync.WaitGroup
}

// New creates a poll channel. The channel issues no requests until Start.
func New(cfg config.RealtimeConfig, cb Callbacks) *Channel {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Poll.Timeout)

	rps := cfg.Poll.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Poll.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &Channel{
		cfg:     cfg,
		cb:      cb,
		log:     logger.GetLogger(),
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		cache:   newResponseCache(cfg.Poll.CacheWindow),
		token:   cfg.AuthToken,
	}
}

// Start begins polling at the given interval (clamped to the permitted
// minimum) and performs one poll immediately.
func (c *Channel) Start(interval time.Duration) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("poll channel already running")
	}
	if interval < config.MinPollInterval {
		interval = config.MinPollInterval
	}
	c.running = true
	c.interval = interval
	c.done = make(chan struct{})
	c.update = make(chan time.Duration, 1)
	done := c.done
	c.mu.Unlock()

	c.log.WithComponent("poll_channel").WithFields(logger.Fields{
		"endpoint": c.cfg.Poll.Endpoint,
		"interval": interval.String(),
	}).Info("starting poll channel")

	c.wg.Add(1)
	go c.loop(done, interval)
	return nil
}

// Stop cancels the timer. A connected channel emits one final
// OnConnectionChange(false). Idempotent.
func (c *Channel) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.done)
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	c.wg.Wait()
	if wasConnected && c.cb.OnConnectionChange != nil {
		c.cb.OnConnectionChange(false)
	}
	c.log.WithComponent("poll_channel").Info("poll channel stopped")
}

// ForcePoll triggers an out-of-band tick, used when the app returns from
// background. The in-flight guard still applies.
func (c *Channel) ForcePoll() {
	c.mu.RLock()
	if !c.running {
		c.mu.RUnlock()
		return
	}
	c.wg.Add(1)
	c.mu.RUnlock()
	go func() {
		defer c.wg.Done()
		c.poll()
	}()
}

// UpdateInterval changes the poll interval, clamped to the minimum. The timer
// is restarted only when the effective value actually changed.
func (c *Channel) UpdateInterval(interval time.Duration) {
	if interval < config.MinPollInterval {
		interval = config.MinPollInterval
	}
	c.mu.Lock()
	if interval == c.interval {
		c.mu.Unlock()
		return
	}
	c.interval = interval
	running := c.running
	update := c.update
	c.mu.Unlock()

	c.log.WithComponent("poll_channel").WithFields(logger.Fields{"interval": interval.String()}).Info("poll interval updated")
	if running {
		select {
		case update <- interval:
		default:
		}
	}
}

// UpdateAuthToken applies a new bearer token to subsequent requests.
func (c *Channel) UpdateAuthToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// IsConnected reports the channel's health: true once a poll succeeded and
// fewer than the failure threshold of consecutive errors have followed.
func (c *Channel) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Channel) loop(done chan struct{}, interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.poll()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// Run off the loop goroutine so a slow request cannot delay the
			// next tick into a queue; the in-flight guard drops overlaps.
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.poll()
			}()
		case d := <-c.update:
			ticker.Reset(d)
		}
	}
}

// poll performs a single tick: in-flight guard, rate limiter, cache, then the
// network request.
func (c *Channel) poll() {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.log.WithComponent("poll_channel").Debug("poll already in flight, skipping tick")
		return
	}
	defer c.inFlight.Store(false)

	log := c.log.WithComponent("poll_channel").WithFields(logger.Fields{"operation": "poll"})

	if !c.limiter.Allow() {
		log.Debug("poll suppressed by rate limiter")
		return
	}

	key := signature("GET", c.cfg.BaseURL+"/"+c.cfg.Poll.Endpoint, "")
	if orders, ok := c.cache.Get(key); ok {
		log.WithFields(logger.Fields{"orders": len(orders)}).Debug("serving poll from cache")
		if len(orders) > 0 && c.cb.OnData != nil {
			c.cb.OnData(orders)
		}
		return
	}

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	req := c.client.R()
	if c.cfg.TenantHost != "" {
		req.SetHeader("Host", c.cfg.TenantHost)
	}
	if token != "" {
		req.SetHeader("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := req.Get(c.cfg.Poll.Endpoint)
	if err != nil {
		c.recordFailure(fmt.Errorf("poll request: %w", err))
		return
	}
	if resp.IsError() {
		c.recordFailure(fmt.Errorf("poll request returned status %d", resp.StatusCode()))
		return
	}

	body := resp.Body()
	orders, err := models.DecodeOrderList(body)
	if err != nil {
		c.recordFailure(fmt.Errorf("decode poll response: %w", err))
		return
	}

	logger.IncrementPollRead(len(body))
	logger.LogPerformanceEntry(log, "poll_channel", "http_poll", time.Since(start), logger.Fields{
		"orders": len(orders),
	})

	c.mu.Lock()
	c.consecutiveErrs = 0
	becameConnected := !c.connected
	c.connected = true
	c.mu.Unlock()

	if becameConnected && c.cb.OnConnectionChange != nil {
		c.cb.OnConnectionChange(true)
	}

	c.cache.Put(key, orders)
	if len(orders) > 0 && c.cb.OnData != nil {
		c.cb.OnData(orders)
	}
}

// recordFailure counts a failed tick. The connection flag only drops after
// the configured threshold of consecutive failures so one transient error is
// not reported as a disconnect.
func (c *Channel) recordFailure(err error) {
	c.mu.Lock()
	c.consecutiveErrs++
	errs := c.consecutiveErrs
	becameDisconnected := c.connected && errs >= c.cfg.Poll.FailureThreshold
	if becameDisconnected {
		c.connected = false
	}
	c.mu.Unlock()

	c.log.WithComponent("poll_channel").WithError(err).WithFields(logger.Fields{
		"consecutive_errors": errs,
		"threshold":          c.cfg.Poll.FailureThreshold,
	}).Warn("poll failed")

	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
	if becameDisconnected && c.cb.OnConnectionChange != nil {
		c.cb.OnConnectionChange(false)
	}
}
