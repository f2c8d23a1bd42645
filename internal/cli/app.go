package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/goop"
	"github.com/aretw0/goop/internal/config"
	"github.com/aretw0/goop/pkg/adapters/file"
	"github.com/aretw0/goop/pkg/adapters/langchain"
	"github.com/aretw0/goop/pkg/adapters/mcp"
	"github.com/aretw0/goop/pkg/adapters/memory"
	"github.com/aretw0/goop/pkg/adapters/process"
	"github.com/aretw0/goop/pkg/adapters/redis"
	"github.com/aretw0/goop/pkg/adapters/sqlite"
	"github.com/aretw0/goop/pkg/domain"
	"github.com/aretw0/goop/pkg/observability"
	"github.com/aretw0/goop/pkg/persistence/middleware"
	"github.com/aretw0/goop/pkg/ports"
	"github.com/aretw0/goop/pkg/registry"
)

// App bundles the agent and the infrastructure built from the configuration.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Agent   *goop.Agent
	Store   ports.CheckpointStore
	Metrics *observability.Metrics
	// Registry gathers the agent metrics along with the Go runtime collectors.
	Registry *prometheus.Registry

	closers []func() error
}

// AppOptions overrides parts of the configuration-driven wiring.
type AppOptions struct {
	Debug bool
	// Quiet discards logs unless Debug is set.
	Quiet  bool
	Logger *slog.Logger
	// Model replaces the langchaingo model named in the configuration.
	Model ports.ModelBackend
	// Catalog replaces the MCP manifest.
	Catalog ports.ActionCatalog
	Hooks   []domain.LifecycleHooks
}

// NewApp builds the store, model, catalog and agent described by cfg.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = createLogger(cfg.Log, opts.Debug, opts.Quiet)
	}
	app := &App{Config: cfg, Logger: logger}

	st, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	app.Store = st.Store
	app.closers = append(app.closers, st.Close)

	model := opts.Model
	if model == nil {
		llm, err := langchain.NewModel(cfg.Model)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		model = langchain.New(llm,
			langchain.WithCallOptions(cfg.Model.CallOptions()...),
			langchain.WithLogger(logger),
		)
	}

	catalog := opts.Catalog
	if catalog == nil {
		catalog, err = app.openCatalog(ctx, cfg.Catalog)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
	}

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.Metrics = observability.NewMetrics(app.Registry)

	hooks := append([]domain.LifecycleHooks{app.Metrics.Hooks()}, opts.Hooks...)
	if opts.Debug {
		hooks = append(hooks, observability.LogHooks(logger))
	}

	agentOpts := []goop.Option{
		goop.WithStore(st.Store),
		goop.WithLogger(logger),
		goop.WithPersona(cfg.Agent.Persona),
		goop.WithStepLimit(cfg.Agent.StepLimit),
		goop.WithLifecycleHooks(domain.MergeHooks(hooks...)),
	}
	if len(cfg.Agent.ProtectedActions) > 0 {
		agentOpts = append(agentOpts, goop.WithProtectedActions(cfg.Agent.ProtectedActions...))
	}
	if st.Locker != nil {
		agentOpts = append(agentOpts, goop.WithLocker(st.Locker, cfg.Store.LockTTL))
	}
	app.Agent = goop.New(model, catalog, agentOpts...)

	logger.Debug("Agent ready",
		"store", cfg.Store.Driver,
		"model", cfg.Model.Model,
		"provider", cfg.Model.Provider,
		"encrypted", cfg.Store.EncryptionKey != "",
	)
	return app, nil
}

func (a *App) openCatalog(ctx context.Context, cfg config.CatalogConfig) (ports.ActionCatalog, error) {
	var catalogs []ports.ActionCatalog

	if cfg.Tools != "" {
		tools, err := process.LoadTools(cfg.Tools)
		if err != nil {
			return nil, err
		}
		runner, err := process.NewRunner(tools,
			process.WithBaseDir(filepath.Dir(cfg.Tools)),
			process.WithTimeout(cfg.ToolTimeout),
		)
		if err != nil {
			return nil, err
		}
		a.Logger.Debug("Loaded local tools", "path", cfg.Tools, "count", len(tools))
		catalogs = append(catalogs, runner)
	}

	if cfg.Manifest != "" {
		manifest, err := mcp.LoadManifest(cfg.Manifest)
		if err != nil {
			return nil, err
		}
		catalog := mcp.NewCatalog(
			mcp.WithClientInfo("goop", goop.Version),
			mcp.WithLogger(a.Logger),
		)
		if err := catalog.Discover(ctx, manifest); err != nil {
			return nil, fmt.Errorf("error discovering actions: %w", err)
		}
		a.closers = append(a.closers, catalog.Close)
		catalogs = append(catalogs, catalog)
	}

	switch len(catalogs) {
	case 0:
		a.Logger.Debug("No catalog configured, running without actions")
		return registry.NewRegistry(), nil
	case 1:
		return catalogs[0], nil
	default:
		return registry.Compose(catalogs...), nil
	}
}

// Close releases the catalog connections and the store, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenedStore is a checkpoint store built from the configuration.
type OpenedStore struct {
	Store ports.CheckpointStore
	// Locker is set for the redis driver.
	Locker ports.DistributedLocker
	close  func() error
}

// Close releases the underlying connection, if any.
func (s *OpenedStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStore creates the store named by cfg.Driver, wrapped with encryption
// when a key is configured.
func OpenStore(cfg config.StoreConfig) (*OpenedStore, error) {
	out := &OpenedStore{}
	switch cfg.Driver {
	case config.StoreMemory:
		out.Store = memory.NewStore()
	case config.StoreFile, "":
		out.Store = file.New(cfg.Path)
	case config.StoreSQLite:
		path := cfg.Path
		if filepath.Ext(path) == "" {
			path = filepath.Join(path, "goop.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		db, err := sqlite.New(path)
		if err != nil {
			return nil, err
		}
		out.Store, out.close = db, db.Close
	case config.StoreRedis:
		opts, err := backend.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := backend.NewClient(opts)
		rs := redis.NewFromClient(client, redis.WithPrefix(cfg.Prefix), redis.WithTTL(cfg.TTL))
		out.Store, out.close = rs, rs.Close
		out.Locker = redis.NewLocker(client, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if cfg.EncryptionKey != "" {
		mw, err := encryption(cfg)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		out.Store = middleware.Chain(out.Store, mw)
	}
	return out, nil
}

func encryption(cfg config.StoreConfig) (middleware.Middleware, error) {
	active, err := middleware.ParseKey(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	var fallbacks [][]byte
	for i, s := range cfg.FallbackKeys {
		key, err := middleware.ParseKey(s)
		if err != nil {
			return nil, fmt.Errorf("fallback key %d: %w", i, err)
		}
		fallbacks = append(fallbacks, key)
	}
	return middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    active,
		FallbackKeys: fallbacks,
	}), nil
}
