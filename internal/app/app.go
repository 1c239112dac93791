// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/tmorandi/stubborn/internal/api"
	"github.com/tmorandi/stubborn/internal/clock/system"
	"github.com/tmorandi/stubborn/internal/config"
	"github.com/tmorandi/stubborn/internal/fetch"
	"github.com/tmorandi/stubborn/internal/id/uuid"
	"github.com/tmorandi/stubborn/internal/logging"
	"github.com/tmorandi/stubborn/internal/metrics"
	"github.com/tmorandi/stubborn/internal/publisher"
	pubsubpub "github.com/tmorandi/stubborn/internal/publisher/pubsub"
	"github.com/tmorandi/stubborn/internal/queue"
	queuemem "github.com/tmorandi/stubborn/internal/queue/memory"
	"github.com/tmorandi/stubborn/internal/storage"
	"github.com/tmorandi/stubborn/internal/storage/gcs"
	"github.com/tmorandi/stubborn/internal/storage/local"
	storemem "github.com/tmorandi/stubborn/internal/storage/memory"
	"github.com/tmorandi/stubborn/internal/storage/postgres"
	collytransport "github.com/tmorandi/stubborn/internal/transport/colly"
	"github.com/tmorandi/stubborn/internal/transport/headless"
	"github.com/tmorandi/stubborn/internal/transport/nethttp"
	"github.com/tmorandi/stubborn/internal/worker"
)

// App holds all the shared, long-lived services for the application.
type App struct {
	Logger       *zap.Logger
	Config       config.Config
	Orchestrator *fetch.Orchestrator
	Proxies      *fetch.RotationPool
	Queue        queue.Queue
	Trails       storage.TrailStore
	Blobs        storage.BlobStore
	Publisher    publisher.Publisher
	Server       *api.Server
	Worker       *worker.Worker

	closers []func()
}

// New creates and initializes an App from configuration. It fails fast when
// any critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{
		Logger: logger,
		Config: cfg,
	}

	transport, err := a.buildTransport()
	if err != nil {
		return nil, err
	}
	a.buildOrchestrator(transport)

	if err := a.buildStores(ctx); err != nil {
		return nil, err
	}
	if err := a.buildPublisher(ctx); err != nil {
		return nil, err
	}

	depth := cfg.Queue.Depth
	if depth <= 0 {
		depth = 128
	}
	q := queuemem.NewQueue(depth)
	a.Queue = q
	a.closers = append(a.closers, q.Close)

	a.Worker = worker.New(
		a.Queue,
		requestTimeoutFetcher{inner: a.Orchestrator, timeout: cfg.Fetch.RequestTimeout()},
		a.Trails,
		a.Blobs,
		a.Publisher,
		system.New(),
		worker.Config{
			BlobPrefix:  cfg.Archive.Prefix,
			ContentType: cfg.Archive.ContentType,
			Topic:       cfg.PubSub.TopicName,
		},
		logger.Named("worker"),
	)

	a.Server = api.NewServer(
		a.Queue,
		a.Trails,
		uuid.New(),
		system.New(),
		cfg,
		logger.Named("api"),
	)

	logger.Info("application services initialized",
		zap.String("transport", cfg.Transport.Kind),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
	)
	return a, nil
}

func (a *App) buildTransport() (fetch.Transport, error) {
	cfg := a.Config
	switch cfg.Transport.Kind {
	case "", "nethttp":
		return nethttp.New(nethttp.Config{
			MaxBodyBytes: cfg.Transport.MaxBodyBytes,
		}), nil
	case "colly":
		return collytransport.New(collytransport.Config{
			MaxBodyBytes: int(cfg.Transport.MaxBodyBytes),
		}), nil
	case "headless":
		t, err := headless.New(headless.Config{
			MaxParallel: cfg.Transport.HeadlessMaxParallel,
		})
		if err != nil {
			return nil, fmt.Errorf("init headless transport: %w", err)
		}
		a.closers = append(a.closers, t.Close)
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport kind: %s", cfg.Transport.Kind)
	}
}

func (a *App) buildOrchestrator(transport fetch.Transport) {
	cfg := a.Config

	var limiter fetch.Limiter
	switch cfg.Fetch.Limiter {
	case "token_bucket":
		limiter = fetch.NewTokenBucketLimiter(fetch.TokenBucketConfig{
			RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
			Burst:             cfg.Fetch.Burst,
		})
	default:
		limiter = fetch.NewSlidingWindowLimiter(fetch.SlidingWindowConfig{
			RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		})
	}

	detector := fetch.NewBanDetector(cfg.Fetch.BanPatterns, cfg.Fetch.BlockedStatusCodes)

	backoff := fetch.BackoffPolicy{
		Base:   cfg.Fetch.BaseDelay(),
		Max:    cfg.Fetch.MaxDelay(),
		Jitter: cfg.Fetch.Jitter,
	}

	var proxies, agents *fetch.RotationPool
	if len(cfg.Fetch.ProxyList) > 0 {
		proxies = fetch.NewRotationPool(cfg.Fetch.ProxyList)
		metrics.SetProxyPoolSize(proxies.Len())
	}
	if len(cfg.Fetch.UserAgentList) > 0 {
		agents = fetch.NewRotationPool(cfg.Fetch.UserAgentList)
	}
	a.Proxies = proxies

	a.Orchestrator = fetch.NewOrchestrator(
		transport,
		limiter,
		detector,
		backoff,
		proxies,
		agents,
		system.New(),
		fetch.Config{
			MaxAttempts:    cfg.Fetch.MaxAttempts,
			AttemptTimeout: cfg.Fetch.AttemptTimeout(),
			DefaultHeaders: fetch.DefaultHeaders(),
			EvictOnBlock:   cfg.Fetch.EvictOnBlock,
			AbortOnBlock:   cfg.Fetch.AbortOnBlock,
		},
	)
}

func (a *App) buildStores(ctx context.Context) error {
	cfg := a.Config

	switch cfg.Storage.Backend {
	case "", "memory":
		a.Trails = storemem.NewTrailStore()
	case "postgres":
		store, err := postgres.NewTrailStore(ctx, postgres.Config{
			DSN:      cfg.Storage.DSN,
			Table:    cfg.Storage.Table,
			MaxConns: cfg.Storage.MaxOpenConns,
		})
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		a.Trails = store
		a.closers = append(a.closers, store.Close)
	default:
		return fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}

	switch cfg.Archive.Backend {
	case "", "none":
		a.Blobs = storage.NoOpBlobStore{}
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		a.Blobs = store
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{
			Bucket: cfg.Archive.GCSBucket,
			Prefix: cfg.Archive.Prefix,
		})
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
		a.Blobs = store
		a.closers = append(a.closers, func() { _ = client.Close() })
	default:
		return fmt.Errorf("unknown archive backend: %s", cfg.Archive.Backend)
	}
	return nil
}

func (a *App) buildPublisher(ctx context.Context) error {
	cfg := a.Config
	if !cfg.PubSub.Enabled {
		a.Publisher = publisher.NoOp{}
		return nil
	}
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub enabled but project_id or topic_name is not set")
	}
	client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	a.Publisher = pubsubpub.New(topic)
	a.closers = append(a.closers, func() {
		topic.Stop()
		_ = client.Close()
	})
	return nil
}

// RunWorkers starts the configured number of workers and blocks until the
// context finishes and all workers return.
func (a *App) RunWorkers(ctx context.Context) {
	n := a.Config.Worker.Concurrency
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Worker.Run(ctx)
		}()
	}
	wg.Wait()
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.Logger.Sync()
}

// requestTimeoutFetcher fills in the configured default overall timeout
// for requests that do not carry their own.
type requestTimeoutFetcher struct {
	inner   *fetch.Orchestrator
	timeout time.Duration
}

func (f requestTimeoutFetcher) Fetch(ctx context.Context, req fetch.Request) (fetch.Result, error) {
	if req.Timeout == 0 && f.timeout > 0 {
		req.Timeout = f.timeout
	}
	return f.inner.Fetch(ctx, req)
}
