package poll

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"driverlink/config"
	"driverlink/models"
)

func testConfig(baseURL string) config.RealtimeConfig {
	cfg := config.RealtimeConfig{
		BaseURL:  baseURL,
		TenantID: "tenant-1",
		DriverID: "driver-1",
	}
	cfg.Transports.Poll = true
	cfg.Poll = config.PollConfig{
		Endpoint:         "api/orders/pending",
		Interval:         config.MinPollInterval,
		Timeout:          2 * time.Second,
		CacheWindow:      10 * time.Second,
		FailureThreshold: 5,
		RateLimit:        config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
	}
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPollDeliversEnvelopeContents(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"id":"o-1","status":"pending"},{"id":"o-2","status":"pending"}]}`))
	}))
	defer srv.Close()

	received := make(chan []models.Order, 4)
	c := New(testConfig(srv.URL), Callbacks{
		OnData: func(orders []models.Order) { received <- orders },
	})
	require.NoError(t, c.Start(config.MinPollInterval))
	defer c.Stop()

	select {
	case orders := <-received:
		require.Len(t, orders, 2)
		require.Equal(t, "o-1", orders[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("poll data not delivered")
	}
}

func TestPollAuthAndTenantHeaders(t *testing.T) {
	headers := make(chan http.Header, 1)
	hosts := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		hosts <- r.Host
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.TenantHost = "sirajjunior.example.com"
	cfg.AuthToken = "secret-token"
	c := New(cfg, Callbacks{})
	require.NoError(t, c.Start(config.MinPollInterval))
	defer c.Stop()

	select {
	case h := <-headers:
		require.Equal(t, "Bearer secret-token", h.Get("Authorization"))
	case <-time.After(2 * time.Second):
		t.Fatal("request not observed")
	}
	require.Equal(t, "sirajjunior.example.com", <-hosts)
}

func TestCacheBoundsNetworkCalls(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`[{"id":"o-1","status":"pending"}]`))
	}))
	defer srv.Close()

	delivered := make(chan []models.Order, 16)
	c := New(testConfig(srv.URL), Callbacks{
		OnData: func(orders []models.Order) { delivered <- orders },
	})
	require.NoError(t, c.Start(config.MinPollInterval))
	defer c.Stop()

	// First tick hits the network.
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("initial poll not delivered")
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// Subsequent ticks inside the cache window are served from the cache but
	// still deliver data.
	for i := 0; i < 3; i++ {
		c.ForcePoll()
		select {
		case <-delivered:
		case <-time.After(2 * time.Second):
			t.Fatal("cached poll not delivered")
		}
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "ticks inside the cache window must not hit the network")

	// Expire the cache; the next tick issues a real request.
	c.cache.mu.Lock()
	c.cache.now = func() time.Time { return time.Now().Add(11 * time.Second) }
	c.cache.mu.Unlock()
	c.ForcePoll()
	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&calls) == 2 })
}

func TestInFlightGuard(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-release
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), Callbacks{})
	require.NoError(t, c.Start(config.MinPollInterval))
	defer c.Stop()

	<-entered
	// Ticks fired while the first request is outstanding must be no-ops.
	for i := 0; i < 5; i++ {
		c.ForcePoll()
	}
	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "concurrent ticks must not issue requests")
	close(release)
}

func TestConnectionFlipsOnlyAfterThreshold(t *testing.T) {
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Poll.FailureThreshold = 3
	cfg.Poll.CacheWindow = time.Millisecond // every tick reaches the server

	changes := make(chan bool, 16)
	c := New(cfg, Callbacks{
		OnConnectionChange: func(connected bool) { changes <- connected },
	})
	require.NoError(t, c.Start(config.MinPollInterval))
	defer c.Stop()

	select {
	case connected := <-changes:
		require.True(t, connected)
	case <-time.After(2 * time.Second):
		t.Fatal("channel never reported connected")
	}

	// A single failure must not flip the connection state.
	failing.Store(true)
	c.ForcePoll()
	waitFor(t, 2*time.Second, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.consecutiveErrs == 1
	})
	require.True(t, c.IsConnected(), "connection must survive failures below the threshold")
	select {
	case connected := <-changes:
		t.Fatalf("unexpected connection change %v after one failure", connected)
	default:
	}

	// Keep failing until the threshold is crossed.
	deadline := time.After(3 * time.Second)
	for {
		c.ForcePoll()
		select {
		case connected := <-changes:
			require.False(t, connected)
			c.mu.RLock()
			errs := c.consecutiveErrs
			c.mu.RUnlock()
			require.GreaterOrEqual(t, errs, cfg.Poll.FailureThreshold)
			return
		case <-deadline:
			t.Fatal("disconnect not reported after threshold")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestUpdateIntervalClampsToMinimum(t *testing.T) {
	c := New(testConfig("http://127.0.0.1:0"), Callbacks{})
	c.UpdateInterval(time.Second)
	c.mu.RLock()
	defer c.mu.RUnlock()
	require.Equal(t, config.MinPollInterval, c.interval)
}
