package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"labsync/internal/api"
	"labsync/internal/breaker"
	"labsync/internal/broker"
	"labsync/internal/cache"
	"labsync/internal/config"
	"labsync/internal/database"
	"labsync/internal/generator"
	"labsync/internal/invoker"
	"labsync/internal/logging"
	"labsync/internal/metrics"
	"labsync/internal/room"
	"labsync/internal/telemetry"
	"labsync/internal/websocket"
	pkgdatabase "labsync/pkg/database"
	"labsync/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config      *config.Config
	logger      *slog.Logger
	metrics     *metrics.Metrics
	cache       *cache.TieredCache
	breaker     *breaker.Breaker
	invoker     *invoker.Invoker
	rooms       *room.Registry
	broker      *broker.Broker
	connections *websocket.Registry
	apiServer   *api.Server
	httpServer  *http.Server

	shutdownTelemetry func(context.Context) error
}

// Option configures an Application
type Option func(*Application)

// WithLogger replaces the logger built from the log config
func WithLogger(l *slog.Logger) Option {
	return func(a *Application) { a.logger = l }
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Telemetry → Store → Cache → Breaker → Invoker → Connections → Rooms → Broker → API → HTTP
func NewApplication(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{config: cfg, metrics: metrics.New()}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		app.logger = logging.New(level, cfg.Log.Format)
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	app.shutdownTelemetry = shutdown

	// STEP 1: persistent cache tier
	store, err := OpenStore(ctx, cfg.Cache, app.logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	app.cache = cache.New(ctx, store,
		cache.WithFastTTL(cfg.Cache.FastTTL),
		cache.WithPersistentTTL(cfg.Cache.PersistentTTL),
		cache.WithLogger(app.logger.With("component", "cache")),
		cache.WithMetrics(app.metrics),
	)

	// STEP 2: resilient generation
	app.breaker = breaker.New("generator",
		breaker.WithThreshold(cfg.Breaker.Threshold),
		breaker.WithRecoveryTimeout(cfg.Breaker.RecoveryTimeout),
		breaker.WithLogger(app.logger.With("component", "breaker")),
		breaker.WithMetrics(app.metrics),
	)
	gen := generator.NewHTTPGenerator(cfg.Generator.Endpoint,
		generator.WithTimeout(cfg.Generator.Timeout),
		generator.WithLogger(app.logger.With("component", "generator")),
	)
	app.invoker = invoker.New(app.cache, app.breaker,
		invoker.WithGenerator(gen),
		invoker.WithMaxAttempts(cfg.Invoker.MaxAttempts),
		invoker.WithBaseDelay(cfg.Invoker.BaseDelay),
		invoker.WithLogger(app.logger.With("component", "invoker")),
		invoker.WithMetrics(app.metrics),
	)
	retriever, err := loadRetriever(cfg.Generator.ContextFile)
	if err != nil {
		app.closeResources(ctx)
		return nil, err
	}

	// STEP 3: realtime coordination
	// ARCHITECTURAL DISCOVERY: rooms publish through the fanout, which only
	// looks connections up, so the registry is built first and never holds
	// a reference back to the rooms
	app.connections = websocket.NewRegistry()
	fanout := broker.NewFanout(app.connections,
		broker.WithFanoutLogger(app.logger.With("component", "fanout")),
		broker.WithFanoutMetrics(app.metrics),
	)
	app.rooms = room.NewRegistry(fanout,
		room.WithIdleGrace(cfg.Room.IdleGrace),
		room.WithLogger(app.logger.With("component", "rooms")),
		room.WithMetrics(app.metrics),
	)
	app.broker = broker.New(app.rooms, fanout,
		broker.WithLogger(app.logger.With("component", "broker")),
		broker.WithMetrics(app.metrics),
		broker.WithRateLimiter(broker.NewRateLimiter(cfg.Room.RateLimitPerMinute, time.Minute, time.Now)),
	)
	wsHandler := websocket.NewHandler(app.connections, app.broker,
		websocket.WithSettings(websocket.Settings{
			SendBuffer:      cfg.WebSocket.SendBuffer,
			WriteTimeout:    cfg.WebSocket.WriteTimeout,
			PongTimeout:     cfg.WebSocket.PongTimeout,
			PingInterval:    cfg.WebSocket.PingInterval,
			MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		}),
		websocket.WithLogger(app.logger.With("component", "websocket")),
		websocket.WithMetrics(app.metrics),
	)

	// STEP 4: HTTP surface
	app.apiServer = api.NewServer(api.Dependencies{
		Rooms:       app.rooms,
		Generator:   app.invoker,
		Retriever:   retriever,
		Breaker:     app.breaker,
		Cache:       app.cache,
		Connections: app.connections,
		WebSocket:   wsHandler,
		Metrics:     app.metrics.Handler(),
	},
		api.WithLogger(app.logger.With("component", "api")),
		api.WithRetryAfter(cfg.Breaker.RecoveryTimeout),
	)
	app.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           app.apiServer,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

// OpenStore builds the snapshot store for the configured cache backend
func OpenStore(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (interfaces.SnapshotStore, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return cache.NewMemoryStore(), nil
	case config.BackendFile:
		return cache.NewFileStore(cfg.FilePath), nil
	case config.BackendBolt:
		store, err := cache.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt cache store: %w", err)
		}
		return store, nil
	case config.BackendRedis:
		opts := []cache.RedisOption{}
		if cfg.RedisKey != "" {
			opts = append(opts, cache.WithHashKey(cfg.RedisKey))
		}
		return cache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts...), nil
	case config.BackendSQLite:
		dbConfig := pkgdatabase.DefaultConfig()
		dbConfig.DatabasePath = cfg.SQLitePath
		manager, err := database.NewManager(ctx, dbConfig,
			database.WithLogger(logger.With("component", "database")))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		return manager, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// loadRetriever reads context snippets separated by blank lines. An empty
// path yields no retriever.
func loadRetriever(path string) (interfaces.Retriever, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open context file: %w", err)
	}
	defer f.Close()

	var (
		snippets []string
		current  []string
	)
	flush := func() {
		if len(current) > 0 {
			snippets = append(snippets, strings.Join(current, " "))
			current = current[:0]
		}
	}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read context file: %w", err)
	}
	flush()
	return generator.NewStaticRetriever(snippets...), nil
}

// Run listens on the configured address and serves until ctx is done
func (app *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.closeResources(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, ln)
}

// Serve runs the HTTP server and background workers on ln until ctx is
// done or any of them fails, then shuts everything down
// ARCHITECTURAL DISCOVERY: errgroup ties server and sweepers to one lifetime
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	app.logger.Info("labsync listening", "addr", ln.Addr().String(), "cache_backend", app.config.Cache.Backend)

	g.Go(func() error {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return app.rooms.RunSweeper(gctx, app.config.Room.SweepInterval)
	})
	g.Go(func() error {
		return app.broker.RunCleanup(gctx, app.config.Room.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.shutdown()
	})

	err := g.Wait()
	app.logger.Info("labsync shutdown complete")
	return err
}

// shutdown runs in reverse dependency order: HTTP → connections → cache → telemetry
func (app *Application) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
	defer cancel()

	app.logger.Info("shutting down")
	var errs []error
	// hijacked websocket connections are not tracked by Shutdown
	app.connections.CloseAll()
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}
	app.closeResources(ctx)
	return errors.Join(errs...)
}

func (app *Application) closeResources(ctx context.Context) {
	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			app.logger.Warn("cache close failed", "err", err)
		}
	}
	if app.shutdownTelemetry != nil {
		if err := app.shutdownTelemetry(ctx); err != nil {
			app.logger.Warn("telemetry shutdown failed", "err", err)
		}
	}
}

// Handler returns the root HTTP handler
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
