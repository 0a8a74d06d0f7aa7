package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"driverlink/config"
	"driverlink/logger"
	"driverlink/models"
	"driverlink/realtime"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.RealtimeConfig{
		BaseURL:  "https://dispatch.example.com",
		TenantID: "tenant-1",
		DriverID: "driver-1",
	}
	cfg.ApplyDefaults()
	coordinator := realtime.New(cfg, nil, realtime.Callbacks{})

	s := NewServer(config.StatusConfig{Enabled: true}, coordinator, logger.GetLogger())
	require.NotNil(t, s)
	return s
}

func TestDisabledServerIsNil(t *testing.T) {
	s := NewServer(config.StatusConfig{}, nil, logger.GetLogger())
	require.Nil(t, s)
	require.NoError(t, s.Run(context.Background()))
	require.Empty(t, s.Address())
}

func TestStatusAndMetricsRoutes(t *testing.T) {
	s := testServer(t)
	router, err := s.buildRouter()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status realtime.ConnectionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.False(t, status.Overall, "stopped coordinator must report disconnected")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap realtime.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Zero(t, snap.OrdersReceived)
}

func TestEventsRoute(t *testing.T) {
	s := testServer(t)
	router, err := s.buildRouter()
	require.NoError(t, err)

	s.events.add(models.Event{
		Kind:      models.EventNewOrder,
		Order:     &models.Order{ID: "o-1", Status: models.OrderStatusPending},
		Transport: "websocket",
		Timestamp: time.Now(),
	})
	s.events.add(models.Event{
		Kind:      models.EventError,
		Err:       "poll request returned status 502",
		Transport: "polling",
		Timestamp: time.Now(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []map[string]interface{} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)
	require.Equal(t, "o-1", body.Events[0]["order_id"])
	require.Equal(t, "poll request returned status 502", body.Events[1]["error"])
}

func TestEventStoreBounded(t *testing.T) {
	store := newEventStore(3)
	for i := 0; i < 5; i++ {
		store.add(models.Event{Kind: models.EventNewOrder})
	}
	require.Len(t, store.snapshot(), 3)
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":               "127.0.0.1:7600",
		":8080":          "127.0.0.1:8080",
		"0.0.0.0:7600":   "0.0.0.0:7600",
		"localhost":      "localhost:7600",
		"10.0.0.5":       "10.0.0.5:7600",
		"localhost:7700": "localhost:7700",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizeAddress(in), "input %q", in)
	}
}
