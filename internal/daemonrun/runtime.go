package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dramaforge/internal/checkpoint"
	"dramaforge/internal/config"
	"dramaforge/internal/contentcache"
	"dramaforge/internal/events"
	"dramaforge/internal/generators"
	"dramaforge/internal/logging"
	"dramaforge/internal/metrics"
	"dramaforge/internal/notifications"
	"dramaforge/internal/stages"
	"dramaforge/internal/store"
	"dramaforge/internal/workflow"
)

// Runtime is the assembled process: persistence, cache, observers, and the
// workflow manager, wired the same way for the daemon and for one-shot runs.
type Runtime struct {
	Store       *store.Store
	Checkpoints *checkpoint.Store
	Cache       *contentcache.Cache
	Metrics     *metrics.Metrics
	Bus         *events.Bus
	Hub         *events.Hub
	Notifier    *notifications.Notifier
	Manager     *workflow.Manager

	unsubscribe []func()
}

// BuildOptions adjusts assembly.
type BuildOptions struct {
	// Suite overrides the generator suite derived from config.
	Suite *generators.Suite
	// EventCapacity sizes the event hub; zero picks the hub default.
	EventCapacity int
}

// Build opens the configured backends and constructs the workflow manager.
// Callers must Close the runtime.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts BuildOptions) (_ *Runtime, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	rt := &Runtime{Hub: events.NewHub(opts.EventCapacity)}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	if cfg.Metrics.Enabled {
		rt.Metrics = metrics.New()
	}

	if cfg.Checkpoint.Backend == "sqlite" || cfg.Cache.Persistent {
		rt.Store, err = store.Open(ctx, cfg.DatabasePath())
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	backend, err := checkpointBackend(cfg, rt.Store)
	if err != nil {
		return nil, err
	}
	rt.Checkpoints = checkpoint.NewStore(backend, checkpoint.Options{
		Keep:        cfg.Pipeline.CheckpointKeep,
		Logger:      logger,
		OnOperation: rt.Metrics.CheckpointOp,
	})

	cacheOpts := contentcache.Options{
		TTL:      cfg.CacheTTL(),
		Logger:   logger,
		OnLookup: rt.Metrics.CacheLookup,
	}
	if cfg.Cache.Persistent {
		cacheOpts.Tier = rt.Store
		purgeExpired(ctx, rt.Store, logger)
	}
	rt.Cache = contentcache.New(cacheOpts)

	suite := suiteFromConfig(cfg)
	if opts.Suite != nil {
		suite = *opts.Suite
	}
	registry, err := stages.New(suite, cfg.Paths.ExportDir).Registry(cfg.Pipeline.OptionalStages...)
	if err != nil {
		return nil, fmt.Errorf("build stage registry: %w", err)
	}

	rt.Bus = events.NewBus(logger)
	rt.Notifier = notifications.New(cfg.Notifications, logger)
	rt.unsubscribe = append(rt.unsubscribe,
		rt.Bus.Subscribe(rt.Hub.Listener()),
		rt.Bus.Subscribe(events.LogListener(logger)),
		rt.Bus.Subscribe(rt.Metrics.Listener()),
		rt.Bus.Subscribe(rt.Notifier.Listener()),
	)

	rt.Manager, err = workflow.NewManager(cfg, workflow.Options{
		Registry:    registry,
		Checkpoints: rt.Checkpoints,
		Cache:       rt.Cache,
		Bus:         rt.Bus,
		Logger:      logger,
		OnUsage:     rt.Metrics.UsageRecorded,
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// Close stops the manager, flushes notifications, and closes the store.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Manager != nil {
		errs = append(errs, rt.Manager.Shutdown(ctx))
	}
	if rt.Notifier != nil {
		rt.Notifier.Flush()
	}
	for _, unsub := range rt.unsubscribe {
		unsub()
	}
	if rt.Store != nil {
		errs = append(errs, rt.Store.Close())
	}
	return errors.Join(errs...)
}

func checkpointBackend(cfg *config.Config, st *store.Store) (checkpoint.Backend, error) {
	switch cfg.Checkpoint.Backend {
	case "sqlite":
		return st, nil
	case "file":
		backend, err := checkpoint.NewFile(cfg.CheckpointDir())
		if err != nil {
			return nil, fmt.Errorf("open checkpoint dir: %w", err)
		}
		return backend, nil
	case "memory":
		return checkpoint.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

// suiteFromConfig uses the configured text endpoint when one is set and the
// offline generators for everything else.
func suiteFromConfig(cfg *config.Config) generators.Suite {
	suite := generators.NewOfflineSuite()
	if cfg.LLM.BaseURL == "" {
		return suite
	}
	return suite.WithText(generators.NewOpenAI(generators.OpenAIConfig{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	}))
}

func purgeExpired(ctx context.Context, st *store.Store, logger *slog.Logger) {
	removed, err := st.PurgeExpiredCacheEntries(ctx, timeNow())
	if err != nil {
		logging.WarnWithContext(logging.NewComponentLogger(logger, "content-cache"), "cache purge failed", "cache_purge_failed",
			logging.String(logging.FieldErrorHint, "the cache table may be corrupt; run dramaforge cache clear"),
			logging.String(logging.FieldImpact, "expired entries stay on disk until read"),
			logging.Error(err))
		return
	}
	if removed > 0 {
		logging.NewComponentLogger(logger, "content-cache").Info("expired cache entries purged",
			logging.String(logging.FieldEventType, "cache_purged"),
			logging.Int64("removed", removed))
	}
}
