package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"driverlink/config"
	"driverlink/internal/status"
	"driverlink/logger"
	"driverlink/models"
	"driverlink/realtime"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Driverlink.Name,
		"version": cfg.Driverlink.Version,
	}).Info("starting driverlink")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(
			cfg.Metrics.CloudWatch.Region,
			cfg.Metrics.CloudWatch.Namespace,
			cfg.Metrics.CloudWatch.DashboardName,
			cfg.Metrics.CloudWatch.AccessKeyID,
			cfg.Metrics.CloudWatch.SecretAccessKey,
		)
	}

	if strings.ToLower(cfg.Logging.Level) == "report" {
		interval := cfg.Metrics.ReportInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		logger.StartReport(ctx, log, interval)
	}

	coordinator := realtime.New(cfg.Realtime, nil, realtime.Callbacks{
		OnNewOrder: func(order models.Order) {
			log.WithComponent("main").WithFields(logger.Fields{
				"order_id": order.ID,
				"status":   order.Status,
				"batch_id": order.BatchID,
			}).Info("new order")
		},
		OnOrderUpdate: func(order models.Order) {
			log.WithComponent("main").WithFields(logger.Fields{
				"order_id": order.ID,
				"status":   order.Status,
			}).Info("order update")
		},
		OnNewBatchLeg: func(leg models.BatchLeg) {
			log.WithComponent("main").WithFields(logger.Fields{
				"leg_id":   leg.ID,
				"batch_id": leg.BatchID,
			}).Info("new batch leg")
		},
		OnBatchLegUpdate: func(leg models.BatchLeg) {
			log.WithComponent("main").WithFields(logger.Fields{
				"leg_id":   leg.ID,
				"batch_id": leg.BatchID,
				"status":   leg.Status,
			}).Info("batch leg update")
		},
		OnConnectionChange: func(transport string, connected bool) {
			log.WithComponent("main").WithFields(logger.Fields{
				"transport": transport,
				"connected": connected,
			}).Info("connection change")
		},
		OnError: func(transport string, err error) {
			log.WithComponent("main").WithError(err).WithFields(logger.Fields{
				"transport": transport,
			}).Warn("transport error")
		},
		OnMetrics: func(snap realtime.Snapshot) {
			log.WithComponent("main").WithFields(logger.Fields{
				"orders_received":     snap.OrdersReceived,
				"unique_orders":       snap.UniqueOrders,
				"duplicates_filtered": snap.DuplicatesFiltered,
			}).Debug("coordinator metrics")
		},
	})

	if err := coordinator.Start(); err != nil {
		log.WithError(err).Error("failed to start realtime coordinator")
		os.Exit(1)
	}

	statusServer := status.NewServer(cfg.Status, coordinator, log)
	if statusServer != nil {
		go func() {
			if err := statusServer.Run(ctx); err != nil {
				log.WithError(err).Warn("status server exited with error")
			}
		}()
	}

	log.Info("all components started successfully")

	// SIGUSR1/SIGUSR2 stand in for the platform's background/foreground
	// notifications when running as a plain process.
	lifecycleChan := make(chan os.Signal, 1)
	signal.Notify(lifecycleChan, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range lifecycleChan {
			switch sig {
			case syscall.SIGUSR1:
				coordinator.Observer().NotifyBackground()
			case syscall.SIGUSR2:
				coordinator.Observer().NotifyForeground()
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()
	signal.Stop(lifecycleChan)
	close(lifecycleChan)

	done := make(chan struct{})
	go func() {
		coordinator.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("driverlink stopped")
}
