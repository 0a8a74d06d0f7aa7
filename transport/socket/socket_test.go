package socket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
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
	cfg.Transports.Socket = true
	cfg.Socket = config.SocketConfig{
		Endpoint:             "ws/orders",
		ReconnectInterval:    50 * time.Millisecond,
		MaxReconnectAttempts: 3,
		PingInterval:         time.Minute,
		HandshakeTimeout:     2 * time.Second,
	}
	return cfg
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func TestReconnectDelayWithinJitterBounds(t *testing.T) {
	cfg := testConfig("https://example.com")
	cfg.Socket.ReconnectInterval = time.Second
	c := New(cfg, Callbacks{})

	minDelay := 750 * time.Millisecond
	maxDelay := 1250 * time.Millisecond
	for i := 0; i < 200; i++ {
		d := c.ReconnectDelay()
		if d < minDelay || d > maxDelay {
			t.Fatalf("delay %v outside [%v, %v]", d, minDelay, maxDelay)
		}
	}
}

func TestDialURL(t *testing.T) {
	cfg := testConfig("https://dispatch.example.com")
	c := New(cfg, Callbacks{})
	u, err := c.dialURL()
	require.NoError(t, err)
	require.Equal(t, "wss://dispatch.example.com/ws/orders", u)

	cfg.BaseURL = "http://localhost:8000/"
	c = New(cfg, Callbacks{})
	u, err = c.dialURL()
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8000/ws/orders", u)
}

// echoAuthServer upgrades, forwards every received frame into frames, and
// lets the test script responses through send.
func echoAuthServer(t *testing.T, frames chan<- map[string]interface{}, send <-chan interface{}, closeNormally <-chan struct{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for {
				select {
				case payload, ok := <-send:
					if !ok {
						return
					}
					conn.WriteJSON(payload)
				case <-closeNormally:
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
					return
				}
			}
		}()
		for {
			var frame map[string]interface{}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			frames <- frame
		}
	}))
}

func TestAuthenticateOnConnectAndTokenUpdate(t *testing.T) {
	frames := make(chan map[string]interface{}, 8)
	send := make(chan interface{})
	closeCh := make(chan struct{})
	srv := echoAuthServer(t, frames, send, closeCh)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.AuthToken = "token-a"

	received := make(chan models.Message, 8)
	c := New(cfg, Callbacks{
		OnMessage: func(m models.Message) { received <- m },
	})
	require.NoError(t, c.Start())
	defer c.Stop()

	select {
	case frame := <-frames:
		require.Equal(t, "authenticate", frame["type"])
		require.Equal(t, "token-a", frame["token"])
		require.Equal(t, "tenant-1", frame["tenant_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("authenticate frame not received")
	}

	// A token update must re-authenticate on the live connection, without a
	// disconnect/reconnect cycle.
	c.UpdateAuthToken("token-b")
	select {
	case frame := <-frames:
		require.Equal(t, "authenticate", frame["type"])
		require.Equal(t, "token-b", frame["token"])
	case <-time.After(2 * time.Second):
		t.Fatal("re-authenticate frame not received")
	}
	require.True(t, c.IsConnected())

	send <- map[string]interface{}{"type": "new_order", "order": map[string]interface{}{"id": "o-1"}}
	select {
	case msg := <-received:
		require.Equal(t, models.MessageNewOrder, msg.Type)
		require.NotNil(t, msg.Order)
		require.Equal(t, "o-1", msg.Order.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("order message not delivered")
	}
}

func TestNormalClosureDoesNotReconnect(t *testing.T) {
	var dials int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&dials, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		// Drain until the client acknowledges the closure.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), Callbacks{})
	require.NoError(t, c.Start())

	time.Sleep(500 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&dials), "normal closure must not trigger a reconnect")
	c.Stop()
}

func TestAbnormalCloseSchedulesReconnect(t *testing.T) {
	var dials int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&dials, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			// Drop the TCP connection without a close frame (code 1006 on
			// the client side).
			conn.UnderlyingConn().Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), Callbacks{})
	require.NoError(t, c.Start())
	defer c.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&dials) < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&dials), int32(2), "abnormal closure must schedule a reconnect")
}

func TestStopDuringDialDoesNotHang(t *testing.T) {
	serverClosed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hold the handshake so Stop lands while the dial is in flight.
		time.Sleep(300 * time.Millisecond)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			close(serverClosed)
		}
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), Callbacks{})
	require.NoError(t, c.Start())
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a dial was in flight")
	}
	require.False(t, c.IsConnected())

	// The connection the handshake produced after Stop must be closed, not
	// leaked into a readLoop nobody owns.
	select {
	case <-serverClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection established during Stop was never closed")
	}
}

func TestReconnectAttemptsExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	cfg := testConfig(srv.URL)
	cfg.Socket.ReconnectInterval = 10 * time.Millisecond
	cfg.Socket.MaxReconnectAttempts = 2

	errs := make(chan error, 16)
	c := New(cfg, Callbacks{OnError: func(err error) { errs <- err }})
	require.NoError(t, c.Start())

	var terminal bool
	deadline := time.After(3 * time.Second)
	for !terminal {
		select {
		case err := <-errs:
			if strings.Contains(err.Error(), "gave up after 2 reconnect attempts") {
				terminal = true
			}
		case <-deadline:
			t.Fatal("terminal error not reported")
		}
	}
	require.False(t, c.IsConnected())

	// A fresh Start resets the attempt counter.
	srv.Close()
	require.NoError(t, c.Start())
	c.Stop()
}
