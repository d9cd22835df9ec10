// Package main runs the pagelens screenshot service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/api"
	"github.com/pagelens/pagelens/internal/config"
	"github.com/pagelens/pagelens/internal/dedup"
	"github.com/pagelens/pagelens/internal/engine"
	"github.com/pagelens/pagelens/internal/logging"
	"github.com/pagelens/pagelens/internal/metrics"
	"github.com/pagelens/pagelens/internal/publisher"
	pubsubpublisher "github.com/pagelens/pagelens/internal/publisher/pubsub"
	"github.com/pagelens/pagelens/internal/queue"
	queuememory "github.com/pagelens/pagelens/internal/queue/memory"
	queuepostgres "github.com/pagelens/pagelens/internal/queue/postgres"
	"github.com/pagelens/pagelens/internal/quota"
	quotamemory "github.com/pagelens/pagelens/internal/quota/memory"
	quotapostgres "github.com/pagelens/pagelens/internal/quota/postgres"
	"github.com/pagelens/pagelens/internal/ratelimit"
	"github.com/pagelens/pagelens/internal/records"
	recordsmemory "github.com/pagelens/pagelens/internal/records/memory"
	recordspostgres "github.com/pagelens/pagelens/internal/records/postgres"
	"github.com/pagelens/pagelens/internal/screenshot"
	"github.com/pagelens/pagelens/internal/storage"
	"github.com/pagelens/pagelens/internal/storage/gcs"
	"github.com/pagelens/pagelens/internal/storage/local"
	storagememory "github.com/pagelens/pagelens/internal/storage/memory"
	"github.com/pagelens/pagelens/internal/storage/s3"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pagelens: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure is unactionable

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := screenshot.SystemClock{}

	objects, err := buildObjectStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build object store: %w", err)
	}

	recordStore, ledger, broker, closeDB, err := buildDatabase(ctx, cfg, clock)
	if err != nil {
		return fmt.Errorf("build database: %w", err)
	}
	defer closeDB()

	browser, err := engine.NewBrowser(engine.Config{
		MaxParallel:       cfg.Browser.MaxParallel,
		NavigationTimeout: time.Duration(cfg.Browser.NavTimeoutSeconds) * time.Second,
		DefaultUserAgent:  cfg.Browser.UserAgent,
		NetworkIdleWait:   time.Duration(cfg.Browser.NetworkIdleSeconds) * time.Second,
		ImageWaitTimeout:  time.Duration(cfg.Browser.ImageWaitSeconds) * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer browser.Close()

	pub, closePub, err := buildPublisher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build publisher: %w", err)
	}
	defer closePub()

	captures := queue.NewService(broker, recordStore, objects, browser, pub, clock, queue.Config{
		MaxConcurrent:   cfg.Capture.MaxConcurrent,
		PollInterval:    time.Duration(cfg.Capture.PollIntervalMs) * time.Millisecond,
		RetentionTTL:    time.Duration(cfg.Capture.RetentionSeconds) * time.Second,
		JanitorInterval: time.Duration(cfg.Capture.JanitorSeconds) * time.Second,
		Topic:           cfg.PubSub.Topic,
	}, logger)
	go captures.RunJanitor(ctx)

	coordinator := dedup.New[queue.Result](dedup.Config{
		MaxEntryAge: time.Duration(cfg.Capture.DedupMaxAgeSec) * time.Second,
	}, clock, logger)
	defer coordinator.Close()

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.RPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			RPS:   cfg.RateLimit.RPS,
			Burst: cfg.RateLimit.Burst,
		})
	}

	server := api.NewServer(captures, coordinator, objects, ledger, limiter, clock, cfg, logger)
	if hc, ok := recordStore.(interface {
		HealthCheck(ctx context.Context) error
	}); ok {
		server.AddReadyCheck(hc.HealthCheck)
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func buildObjectStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.ObjectStore, error) {
	switch cfg.Storage.Provider {
	case config.StorageGCS:
		return gcs.New(ctx, cfg.Storage.GCSBucket, storage.RetryConfig{}, logger)
	case config.StorageS3:
		return s3.New(ctx, s3.Config{
			Endpoint:  cfg.Storage.S3Endpoint,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
			Bucket:    cfg.Storage.S3Bucket,
			UseSSL:    cfg.Storage.S3UseSSL,
		}, storage.RetryConfig{})
	case config.StorageLocal:
		return local.New(cfg.Storage.LocalPath)
	case config.StorageMemory:
		return storagememory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

// buildDatabase wires the three durable stores onto one backend. The
// memory backend seeds a generous default tenant so the service is
// usable out of the box in development.
func buildDatabase(
	ctx context.Context,
	cfg config.Config,
	clock screenshot.Clock,
) (records.Store, quota.Ledger, queue.Broker, func(), error) {
	switch cfg.DB.Provider {
	case config.DBPostgres:
		recordStore, err := recordspostgres.New(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("connect records store: %w", err)
		}
		ledger, err := quotapostgres.New(ctx, cfg.DB.DSN)
		if err != nil {
			recordStore.Close()
			return nil, nil, nil, nil, fmt.Errorf("connect quota ledger: %w", err)
		}
		broker, err := queuepostgres.New(ctx, cfg.DB.DSN)
		if err != nil {
			recordStore.Close()
			ledger.Close()
			return nil, nil, nil, nil, fmt.Errorf("connect job broker: %w", err)
		}
		closeAll := func() {
			broker.Close()
			ledger.Close()
			recordStore.Close()
		}
		return recordStore, ledger, broker, closeAll, nil
	case config.DBMemory:
		ledger := quotamemory.New(clock)
		ledger.Put(quota.Status{
			UserID:            "default",
			Total:             1000,
			Remaining:         1000,
			Plan:              "dev",
			RefillAmount:      1000,
			RefillIntervalSec: 3600,
			RefilledAt:        clock.Now(),
		})
		return recordsmemory.New(), ledger, queuememory.New(clock), func() {}, nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown db provider %q", cfg.DB.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (publisher.Publisher, func(), error) {
	if !cfg.PubSub.Enabled {
		return nil, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("connect pubsub: %w", err)
	}
	closeClient := func() {
		_ = client.Close()
	}
	return pubsubpublisher.New(client), closeClient, nil
}
