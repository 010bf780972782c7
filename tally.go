package tally

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/tally/internal/adapters/badger"
	"github.com/aretw0/tally/internal/adapters/file"
	"github.com/aretw0/tally/internal/adapters/memory"
	"github.com/aretw0/tally/internal/adapters/redis"
	"github.com/aretw0/tally/internal/config"
	"github.com/aretw0/tally/internal/logging"
	"github.com/aretw0/tally/internal/metrics"
	"github.com/aretw0/tally/internal/runtime"
	"github.com/aretw0/tally/pkg/domain"
	"github.com/aretw0/tally/pkg/graph"
	"github.com/aretw0/tally/pkg/ports"
	"github.com/aretw0/tally/pkg/session"
	"github.com/aretw0/tally/pkg/stages"
)

// Version is the release version, overridden at build time via
// -ldflags "-X github.com/aretw0/tally.Version=...".
var Version = "dev"

// App is the high-level entry point: configuration, checkpoint store,
// estimation pipeline, and session manager wired together.
type App struct {
	cfg     config.Config
	store   ports.CheckpointStore
	graph   *graph.Graph
	manager *session.Manager
	logger  *slog.Logger
	metrics *metrics.Metrics
	closers []func() error
}

type settings struct {
	configPath string
	cfg        *config.Config
	store      ports.CheckpointStore
	exporter   stages.Exporter
	logger     *slog.Logger
	registry   prometheus.Registerer
}

// Option configures the App.
type Option func(*settings)

// WithConfigFile loads configuration from the YAML file at path.
func WithConfigFile(path string) Option {
	return func(s *settings) { s.configPath = path }
}

// WithConfig uses the given configuration instead of loading one.
func WithConfig(cfg config.Config) Option {
	return func(s *settings) { s.cfg = &cfg }
}

// WithStore injects a checkpoint store, bypassing the configured backend.
func WithStore(store ports.CheckpointStore) Option {
	return func(s *settings) { s.store = store }
}

// WithExporter sets the exporter the pipeline hands approved estimates to.
func WithExporter(e stages.Exporter) Option {
	return func(s *settings) { s.exporter = e }
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithMetrics registers the Prometheus collectors on the given registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registry = reg }
}

// New builds a ready-to-use App.
func New(opts ...Option) (*App, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	var cfg config.Config
	if s.cfg != nil {
		cfg = *s.cfg
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else {
		loaded, err := config.Load(s.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := s.logger
	if logger == nil {
		logger = logging.New(logging.ParseLevel(cfg.LogLevel))
	}

	app := &App{cfg: cfg, logger: logger}

	if s.registry != nil {
		app.metrics = metrics.New(s.registry)
	}

	store := s.store
	if store == nil {
		opened, closer, err := openStore(cfg.Store)
		if err != nil {
			return nil, err
		}
		store = opened
		if closer != nil {
			app.closers = append(app.closers, closer)
		}
	}
	app.store = store

	exporter := s.exporter
	if exporter == nil {
		exporter = stages.NopExporter{}
	}

	g, err := stages.BuildGraph(cfg, exporter)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline graph: %w", err)
	}
	app.graph = g

	engine := runtime.NewEngine(g, store,
		runtime.WithLogger(logger),
		runtime.WithMetrics(app.metrics),
		runtime.WithMaxIterations(cfg.MaxIterations),
	)
	app.manager = session.NewManager(engine, store, session.WithLogger(logger))

	return app, nil
}

// openStore builds the checkpoint store the configuration selects.
func openStore(sc config.StoreConfig) (ports.CheckpointStore, func() error, error) {
	switch sc.Backend {
	case "memory":
		return memory.New(), nil, nil
	case "file":
		return file.New(sc.Path), nil, nil
	case "badger":
		store, err := badger.Open(sc.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		return store, store.Close, nil
	case "redis":
		store := redis.New(sc.RedisAddr, "", sc.RedisDB)
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

// Start begins a new estimation session and runs it to the first
// suspension point. The returned session ID addresses all later calls.
func (a *App) Start(ctx context.Context, initial map[string]any) (runtime.Result, error) {
	return a.manager.Start(ctx, initial)
}

// Resume continues a suspended session with the supplied fields.
func (a *App) Resume(ctx context.Context, sessionID string, supplied map[string]any) (runtime.Result, error) {
	return a.manager.Resume(ctx, sessionID, supplied)
}

// Status reports the session's current state without running anything.
func (a *App) Status(ctx context.Context, sessionID string) (runtime.Result, error) {
	return a.manager.Status(ctx, sessionID)
}

// History returns the session's checkpoint trail, oldest first.
func (a *App) History(ctx context.Context, sessionID string) ([]domain.Checkpoint, error) {
	return a.manager.History(ctx, sessionID)
}

// Purge removes all durable traces of a session.
func (a *App) Purge(ctx context.Context, sessionID string) error {
	return a.manager.Purge(ctx, sessionID)
}

// Sessions lists known session IDs when the configured store supports
// enumeration.
func (a *App) Sessions(ctx context.Context) ([]string, error) {
	lister, ok := a.store.(interface {
		Sessions(ctx context.Context) ([]string, error)
	})
	if !ok {
		return nil, fmt.Errorf("store backend %q cannot list sessions", a.cfg.Store.Backend)
	}
	return lister.Sessions(ctx)
}

// Config returns the active configuration.
func (a *App) Config() config.Config { return a.cfg }

// Graph returns the compiled pipeline graph.
func (a *App) Graph() *graph.Graph { return a.graph }

// Manager returns the session manager, for embedding into servers.
func (a *App) Manager() *session.Manager { return a.manager }

// Close releases the store resources the App opened itself.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
