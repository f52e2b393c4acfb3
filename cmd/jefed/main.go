// Package main implements jefed, the JEFE COIN coordination service.
// It serves the HTTP API, maintains the shared job pool, and settles
// rewards into the ledger.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jefeCoincmd/jefe-coin/internal/api"
	"github.com/jefeCoincmd/jefe-coin/internal/archive"
	"github.com/jefeCoincmd/jefe-coin/internal/auth"
	"github.com/jefeCoincmd/jefe-coin/internal/config"
	"github.com/jefeCoincmd/jefe-coin/internal/events"
	"github.com/jefeCoincmd/jefe-coin/internal/jobpool"
	"github.com/jefeCoincmd/jefe-coin/internal/ledger"
	"github.com/jefeCoincmd/jefe-coin/internal/messaging"
	"github.com/jefeCoincmd/jefe-coin/internal/metrics"
	"github.com/jefeCoincmd/jefe-coin/internal/notify"
	"github.com/jefeCoincmd/jefe-coin/internal/store"
	"github.com/jefeCoincmd/jefe-coin/internal/store/memory"
	"github.com/jefeCoincmd/jefe-coin/internal/store/redisstore"
	"github.com/jefeCoincmd/jefe-coin/internal/syncer"
	"github.com/jefeCoincmd/jefe-coin/pkg/log"
)

// reconcileInterval controls how often the job pool is swept for drained
// and expired jobs. Claims also trigger completion inline, so this only
// needs to cover crash recovery and TTL expiry.
const reconcileInterval = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting jefed",
		"version", cfg.Version,
		"storage", cfg.StorageBackend,
		"listen", fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.ListenPort),
	)

	// Select the storage backend
	var st store.Store
	switch cfg.StorageBackend {
	case "redis":
		redisStore, err := redisstore.New(&redisstore.Config{
			URL:          cfg.RedisURL,
			ActivityCap:  cfg.ActivityLogSize,
			GuardTTL:     cfg.SyncGuardTTL,
			DialTimeout:  cfg.ReadTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
		if err != nil {
			logger.WithError(err).Error("failed to connect to Redis")
			os.Exit(1)
		}
		defer redisStore.Close()
		st = redisStore
		logger.Info("connected to Redis")
	case "memory":
		st = memory.New(cfg.ActivityLogSize, cfg.SyncGuardTTL)
		logger.Warn("using in-memory storage, state will not survive restarts")
	default:
		logger.Error("unknown storage backend", "backend", cfg.StorageBackend)
		os.Exit(1)
	}

	// Optional collaborators. Each is enabled by its own config and the
	// service runs fine without any of them.
	var sinks events.Fanout

	var publisher *messaging.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)
		defer kafkaClient.Close()
		publisher = messaging.NewPublisher(kafkaClient, logger.Logger)
		sinks = append(sinks, publisher)
		logger.Info("kafka event publishing enabled", "brokers", cfg.KafkaBrokers)
	}

	var metricsClient *metrics.Client
	if cfg.InfluxURL != "" {
		metricsClient, err = metrics.NewClient(&metrics.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		if err != nil {
			logger.WithError(err).Error("failed to connect to InfluxDB")
			os.Exit(1)
		}
		defer metricsClient.Close()
		sinks = append(sinks, events.NewMetricsSink(metricsClient))
		logger.Info("influx metrics enabled", "bucket", cfg.InfluxBucket)
	}

	var transferArchive api.TransferArchiver
	if cfg.PostgresURL != "" {
		archiveClient, err := archive.NewClient(&archive.Config{
			URL:          cfg.PostgresURL,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			MaxLifetime:  5 * time.Minute,
		})
		if err != nil {
			logger.WithError(err).Error("failed to connect to PostgreSQL")
			os.Exit(1)
		}
		defer archiveClient.Close()

		migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := archiveClient.Migrate(migrateCtx); err != nil {
			migrateCancel()
			logger.WithError(err).Error("failed to run archive migrations")
			os.Exit(1)
		}
		migrateCancel()

		sinks = append(sinks, events.NewArchiveSink(
			archive.NewJobRepository(archiveClient.DB()),
			archive.NewPayoutRepository(archiveClient.DB()),
			logger,
		))
		transferArchive = archive.NewTransferRepository(archiveClient.DB())
		logger.Info("postgres archive enabled")
	}

	if cfg.ZMQPublish != "" {
		broadcaster, err := notify.NewBroadcaster(cfg.ZMQPublish, logger.Logger)
		if err != nil {
			logger.WithError(err).Error("failed to bind ZMQ publisher")
			os.Exit(1)
		}
		defer broadcaster.Close()
		sinks = append(sinks, broadcaster)
		logger.Info("zmq notifications enabled", "endpoint", cfg.ZMQPublish)
	}

	// Core services
	led := ledger.New(st, logger)
	pool := jobpool.New(st, led, cfg, logger, sinks)
	authSvc := auth.NewService(st, st, logger, cfg.BcryptCost, cfg.SessionTTL)
	syncSvc := syncer.New(st, led, logger)

	// Seed the pool before accepting traffic
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seedCtx, seedCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := pool.Reconcile(seedCtx); err != nil {
		seedCancel()
		logger.WithError(err).Error("failed to seed job pool")
		os.Exit(1)
	}
	seedCancel()

	go reconcileLoop(ctx, pool, logger)

	server := api.New(cfg, logger, st, authSvc, led, pool, syncSvc, publisher, metricsClient, transferArchive)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.WithError(err).Error("http server failed")
			os.Exit(1)
		}
	case <-sigChan:
		logger.Info("shutdown signal received")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("jefed stopped")
}

// reconcileLoop periodically completes drained jobs, expires stale ones,
// and replenishes the pool back to its target size.
func reconcileLoop(ctx context.Context, pool *jobpool.Manager, logger *log.Logger) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, sweepCancel := context.WithTimeout(ctx, 10*time.Second)
			if err := pool.Reconcile(sweepCtx); err != nil {
				logger.WithError(err).Warn("job pool reconcile failed")
			}
			sweepCancel()
		}
	}
}
