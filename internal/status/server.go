package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"driverlink/config"
	"driverlink/logger"
	"driverlink/models"
	"driverlink/realtime"
)

// Server hosts a small local HTTP endpoint reporting the coordinator's
// connection status, counters and recent events. It is meant for debugging
// and supervision on the device, not for exposure to a network.
type Server struct {
	cfg         config.StatusConfig
	log         *logger.Log
	coordinator *realtime.Coordinator
	events      *eventStore
	httpServer  *http.Server
}

// NewServer constructs a status server when the feature is enabled. When
// disabled the returned server is nil and every method is a no-op.
func NewServer(cfg config.StatusConfig, coordinator *realtime.Coordinator, log *logger.Log) *Server {
	if !cfg.Enabled {
		return nil
	}

	cfg.Address = normalizeAddress(cfg.Address)

	return &Server{
		cfg:         cfg,
		log:         log,
		coordinator: coordinator,
		events:      newEventStore(cfg.EventHistory),
	}
}

// Run starts the status HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	router, err := s.buildRouter()
	if err != nil {
		return err
	}

	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	go s.consumeEvents(feedCtx)

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("status_server").WithFields(logger.Fields{
		"address": s.cfg.Address,
	}).Info("status server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

// Address reports the network address the status server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) consumeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.coordinator.Events():
			s.events.add(ev)
		}
	}
}

func (s *Server) buildRouter() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	router.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.coordinator.ConnectionStatus())
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.coordinator.Metrics())
	})

	router.GET("/api/events", func(c *gin.Context) {
		events := s.events.snapshot()
		payload := make([]gin.H, 0, len(events))
		for _, ev := range events {
			item := gin.H{
				"timestamp": ev.Timestamp.Format(time.RFC3339Nano),
				"kind":      string(ev.Kind),
				"transport": ev.Transport,
			}
			if ev.Order != nil {
				item["order_id"] = ev.Order.ID
				item["status"] = ev.Order.Status
			}
			if ev.Leg != nil {
				item["leg_id"] = ev.Leg.ID
				item["batch_id"] = ev.Leg.BatchID
			}
			if ev.Kind == models.EventError {
				item["error"] = ev.Err
			}
			payload = append(payload, item)
		}
		c.JSON(http.StatusOK, gin.H{"events": payload})
	})

	return router, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	// Bind loopback only unless configured otherwise.
	if addr == "" {
		return "127.0.0.1:7600"
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "127.0.0.1" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "127.0.0.1"
		}
		if port == "" {
			port = "7600"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "7600")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "7600")
	}

	return addr
}
