// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/brand-dashboard/internal/api"
	"github.com/JakeFAU/brand-dashboard/internal/auth"
	"github.com/JakeFAU/brand-dashboard/internal/brand"
	"github.com/JakeFAU/brand-dashboard/internal/clock/system"
	"github.com/JakeFAU/brand-dashboard/internal/config"
	"github.com/JakeFAU/brand-dashboard/internal/coordinator"
	"github.com/JakeFAU/brand-dashboard/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/brand-dashboard/internal/fetcher/colly"
	"github.com/JakeFAU/brand-dashboard/internal/hash/sha256"
	"github.com/JakeFAU/brand-dashboard/internal/id/nanoid"
	"github.com/JakeFAU/brand-dashboard/internal/logging"
	"github.com/JakeFAU/brand-dashboard/internal/membership"
	"github.com/JakeFAU/brand-dashboard/internal/metrics"
	"github.com/JakeFAU/brand-dashboard/internal/policy/ratelimit"
	"github.com/JakeFAU/brand-dashboard/internal/settings"
	gcsstorage "github.com/JakeFAU/brand-dashboard/internal/storage/gcs"
	localstorage "github.com/JakeFAU/brand-dashboard/internal/storage/local"
	memorystorage "github.com/JakeFAU/brand-dashboard/internal/storage/memory"
	pgstore "github.com/JakeFAU/brand-dashboard/internal/storage/postgres"
	redisstore "github.com/JakeFAU/brand-dashboard/internal/storage/redis"
	"github.com/JakeFAU/brand-dashboard/internal/store"
	"github.com/JakeFAU/brand-dashboard/internal/telemetry"
	"github.com/JakeFAU/brand-dashboard/internal/workflow"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	apiServer   *api.Server
	coordinator *coordinator.Coordinator
	executor    *workflow.Executor
	receiver    *dispatcher.Receiver
	receiverWG  sync.WaitGroup

	kv              brand.KVStore
	redisClient     *goredis.Client
	pool            *pgxpool.Pool
	storage         *storage.Client
	pubsubClient    *pubsub.Client
	topicPublisher  *dispatcher.TopicPublisher
	tracerProvider  *sdktrace.TracerProvider
	readinessChecks map[string]api.ReadinessCheck
}

type repositories struct {
	settings store.BrandSettingsRepository
	orgs     store.OrganizationRepository
	sessions store.SessionRepository
}

// Build creates the application's dependencies. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	if cfg.Workflow.Enabled && cfg.Workflow.SharedSecret == "" {
		secret, err := nanoid.NewWithLength(32).NewID()
		if err != nil {
			return nil, fmt.Errorf("workflow secret init failed: %w", err)
		}
		cfg.Workflow.SharedSecret = secret
		logger.Warn("workflow.shared_secret is not set; generated a per-process secret, so only this instance can call POST /crawl")
	}

	app := &App{
		cfg:             cfg,
		logger:          logger,
		readinessChecks: map[string]api.ReadinessCheck{},
	}
	built := false
	defer func() {
		if !built {
			app.closeInfrastructure(context.Background())
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("kv_backend", cfg.KV.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("dispatcher", cfg.Crawl.Dispatcher),
		zap.Bool("workflow_enabled", cfg.Workflow.Enabled),
	)

	app.tracerProvider, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	metrics.Init()

	if err = app.setupKV(ctx); err != nil {
		return nil, err
	}
	repos, err := app.setupDatabase(ctx)
	if err != nil {
		return nil, err
	}
	blobs, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}

	ids := nanoid.New()
	clock := system.New()

	if cfg.Workflow.Enabled {
		app.executor = workflow.New(workflow.Deps{
			KV: app.kv,
			Fetcher: collyfetcher.New(collyfetcher.Config{
				UserAgent:     cfg.Fetcher.UserAgent,
				RespectRobots: cfg.Fetcher.RespectRobots,
				Timeout:       cfg.Fetcher.Timeout,
			}),
			Limiter: ratelimit.New(ratelimit.Config{
				DefaultRPS:   cfg.Fetcher.RateLimitRPS,
				DefaultBurst: cfg.Fetcher.RateLimitBurst,
			}),
			Blobs:    blobs,
			Settings: repos.settings,
			Hasher:   sha256.New(),
			IDs:      ids,
			Clock:    clock,
		}, workflow.Config{
			BlobPrefix:   cfg.Storage.Prefix,
			LockTTL:      cfg.Crawl.LockTTL,
			StatusTTL:    cfg.Crawl.StatusTTL,
			StoreTimeout: cfg.Crawl.StoreTimeout,
			RunTimeout:   cfg.Workflow.RunTimeout,
		}, logger.Named("workflow"))
	}

	crawlDispatcher, err := app.setupDispatcher(ctx)
	if err != nil {
		return nil, err
	}

	app.coordinator = coordinator.New(app.kv, ids, crawlDispatcher, coordinator.Config{
		LockTTL:                   cfg.Crawl.LockTTL,
		StatusTTL:                 cfg.Crawl.StatusTTL,
		StoreTimeout:              cfg.Crawl.StoreTimeout,
		DispatchTimeout:           cfg.Crawl.DispatchTimeout,
		RollbackOnDispatchFailure: cfg.Crawl.RollbackOnDispatchFailure,
		Backend:                   cfg.Crawl.Dispatcher,
	}, logger.Named("coordinator"))

	deps := api.Deps{
		Coordinator: app.coordinator,
		Settings:    settings.NewService(repos.settings),
		Memberships: membership.NewService(repos.orgs, repos.sessions, logger.Named("membership")),
		Sessions:    auth.NewResolver(repos.sessions, cfg.Auth.SessionCookie, clock, logger.Named("auth")),
		Checks:      app.readinessChecks,
	}
	if app.executor != nil && cfg.Crawl.Dispatcher == "http" {
		deps.Workflow = app.executor
	}
	app.apiServer = api.NewServer(deps, api.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		WorkflowSecret: cfg.Workflow.SharedSecret,
	}, logger.Named("api"))

	built = true
	return app, nil
}

func (a *App) setupKV(ctx context.Context) error {
	if a.cfg.KV.Backend != "redis" {
		a.logger.Warn("using in-memory crawl coordination store; locks are not shared across instances")
		a.kv = memorystorage.NewKVStore(nil)
		return nil
	}
	client, err := redisstore.Connect(ctx, &goredis.Options{
		Addr:     a.cfg.KV.Redis.Addr,
		Password: a.cfg.KV.Redis.Password,
		DB:       a.cfg.KV.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("redis init failed: %w", err)
	}
	a.redisClient = client
	kv, err := redisstore.New(client, redisstore.Config{KeyPrefix: a.cfg.KV.Redis.KeyPrefix})
	if err != nil {
		return fmt.Errorf("redis store init failed: %w", err)
	}
	a.kv = kv
	a.readinessChecks["redis"] = kv.Ping
	a.logger.Info("redis coordination store initialized", zap.String("addr", a.cfg.KV.Redis.Addr))
	return nil
}

func (a *App) setupDatabase(ctx context.Context) (repositories, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory repositories")
		identity := memorystorage.NewIdentityStore()
		if token := a.cfg.Auth.DevSessionToken; token != "" {
			seedDevIdentity(identity, token)
			a.logger.Info("seeded development session", zap.String("organization_id", devOrganizationID))
		}
		return repositories{
			settings: memorystorage.NewBrandSettingsStore(nanoid.New(), nil),
			orgs:     identity,
			sessions: identity,
		}, nil
	}

	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return repositories{}, fmt.Errorf("postgres init failed: %w", err)
	}
	a.pool = pool
	a.readinessChecks["postgres"] = pool.Ping

	if a.cfg.Database.AutoMigrate {
		applied, err := pgstore.Migrate(ctx, pool)
		if err != nil {
			return repositories{}, fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.logger.Info("database migrations applied", zap.Int("count", applied))
	}

	settingsStore, err := pgstore.NewBrandSettingsStore(pool, nanoid.New())
	if err != nil {
		return repositories{}, fmt.Errorf("brand settings store init failed: %w", err)
	}
	orgStore, err := pgstore.NewOrganizationStore(pool)
	if err != nil {
		return repositories{}, fmt.Errorf("organization store init failed: %w", err)
	}
	sessionStore, err := pgstore.NewSessionStore(pool)
	if err != nil {
		return repositories{}, fmt.Errorf("session store init failed: %w", err)
	}
	a.logger.Info("postgres repositories initialized")
	return repositories{settings: settingsStore, orgs: orgStore, sessions: sessionStore}, nil
}

func (a *App) setupStorage(ctx context.Context) (brand.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupDispatcher(ctx context.Context) (brand.Dispatcher, error) {
	if a.cfg.Crawl.Dispatcher == "pubsub" {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.topicPublisher = dispatcher.NewTopicPublisher(client.Publisher(a.cfg.PubSub.Topic))
		if a.executor != nil && a.cfg.PubSub.Subscription != "" {
			a.receiver = dispatcher.NewReceiver(
				client.Subscriber(a.cfg.PubSub.Subscription),
				a.executor,
				dispatcher.ReceiverConfig{RunTimeout: a.cfg.Workflow.RunTimeout},
				a.logger.Named("receiver"),
			)
		}
		a.logger.Info("pubsub dispatcher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
			zap.String("subscription", a.cfg.PubSub.Subscription),
		)
		return dispatcher.NewPubSub(a.topicPublisher), nil
	}

	d, err := dispatcher.NewHTTP(&http.Client{}, dispatcher.HTTPConfig{
		URL:          a.cfg.Crawl.DispatchURL,
		SharedSecret: a.cfg.Workflow.SharedSecret,
		MaxRetries:   a.cfg.Crawl.DispatchMaxRetries,
	}, a.logger.Named("dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("http dispatcher init failed: %w", err)
	}
	a.logger.Info("http dispatcher initialized", zap.String("url", a.cfg.Crawl.DispatchURL))
	return d, nil
}

// Handler exposes the HTTP routes, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.receiver != nil {
		a.receiverWG.Add(1)
		go func() {
			defer a.receiverWG.Done()
			a.logger.Info("pubsub receiver started")
			if err := a.receiver.Run(ctx); err != nil {
				a.logger.Error("pubsub receiver stopped", zap.Error(err))
				stop()
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close drains background work and releases every client. The receiver's
// context must already be canceled, as Run does before calling Close.
func (a *App) Close(ctx context.Context) error {
	a.receiverWG.Wait()
	if a.coordinator != nil {
		a.coordinator.Wait()
	}
	if a.executor != nil {
		a.executor.Wait()
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.topicPublisher != nil {
		a.topicPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

const (
	devUserID         = "dev-user"
	devOrganizationID = "dev-org"
)

func seedDevIdentity(identity *memorystorage.IdentityStore, token string) {
	org := devOrganizationID
	identity.AddOrganization(store.Organization{ID: devOrganizationID, Name: "Development", Slug: "development", CreatedAt: time.Now()})
	identity.AddMember(devUserID, devOrganizationID, store.RoleOwner)
	identity.PutSession(store.Session{
		Token:                token,
		UserID:               devUserID,
		ActiveOrganizationID: &org,
		ExpiresAt:            time.Now().Add(365 * 24 * time.Hour),
	})
}
