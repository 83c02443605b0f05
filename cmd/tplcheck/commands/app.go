package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/tplcheck/pkg/checker"
	"github.com/openfroyo/tplcheck/pkg/config"
	"github.com/openfroyo/tplcheck/pkg/loader"
	"github.com/openfroyo/tplcheck/pkg/policy"
	"github.com/openfroyo/tplcheck/pkg/stores"
	"github.com/openfroyo/tplcheck/pkg/telemetry"
)

// app holds everything a command needs, built from the project file.
type app struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	log     *telemetry.Logger
	logger  zerolog.Logger
	loader  *loader.Loader
	policy  *policy.Engine
	store   stores.Store
	checker *checker.Checker
}

type appOptions struct {
	// types loads the registry set and builds a checker.
	types bool
	// store opens the report store even when the project disables it.
	store bool
}

// loadConfig reads --config, or the project file of the working directory,
// or falls back to the defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		found, err := config.Find(".")
		switch {
		case errors.Is(err, config.ErrNotFound):
			log.Debug().Msg("No project file found, using defaults")
		case err != nil:
			return nil, err
		default:
			path = found
		}
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	cfg.ApplyEnv(os.Getenv)
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, opts appOptions) (*app, context.Context, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, ctx, err
	}

	tel, err := telemetry.NewTelemetry(cfg.ToTelemetryConfig(buildVersion))
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, ctx, fmt.Errorf("failed to start metrics server: %w", err)
	}
	ctx = tel.WithContext(ctx)

	a := &app{
		cfg: cfg,
		tel: tel,
		log: tel.Logger.NewComponentLogger("cli"),
	}
	a.logger = a.log.Zerolog()
	a.loader = loader.NewLoader(a.logger,
		loader.WithStarlarkTimeout(cfg.StarlarkTimeout()),
		loader.WithStarlarkInput(cfg.Starlark.Vars),
		loader.WithWatchMatcher(policy.IsPolicyFile),
	)

	if opts.store || (opts.types && cfg.Store.Enabled) {
		if err := a.openStore(ctx); err != nil {
			a.close()
			return nil, ctx, err
		}
	}

	if opts.types {
		if err := a.buildChecker(ctx); err != nil {
			a.close()
			return nil, ctx, err
		}
	}

	a.logger.Debug().
		Str("workspace", cfg.Workspace).
		Str("dir", cfg.Dir).
		Msg("Project loaded")

	return a, ctx, nil
}

func (a *app) openStore(ctx context.Context) error {
	path := a.cfg.StorePath()
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	a.store = store
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if retention := a.cfg.Retention(); retention > 0 {
		pruned, err := store.PruneReports(ctx, time.Now().Add(-retention))
		if err != nil {
			return fmt.Errorf("failed to prune reports: %w", err)
		}
		if pruned > 0 {
			a.log.Infof("Pruned %d report(s) older than %s", pruned, retention)
		}
	}
	return nil
}

func (a *app) buildChecker(ctx context.Context) error {
	set, err := checker.LoadSet(ctx, a.loader, a.cfg.TypePaths())
	if err != nil {
		a.tel.Metrics.RecordLoadError("types")
		return err
	}

	opts := []checker.Option{
		checker.WithLogger(a.logger),
		checker.WithMetrics(a.tel.Metrics),
		checker.WithSources(a.loader, a.cfg.TypePaths(), a.cfg.PolicyPaths()),
	}

	if a.cfg.Policy.Enabled {
		engine, err := policy.NewEngine(a.logger)
		if err != nil {
			return err
		}
		if paths := a.cfg.PolicyPaths(); len(paths) > 0 {
			if err := engine.LoadPolicies(ctx, paths); err != nil {
				a.tel.Metrics.RecordLoadError("policy")
				return err
			}
		}
		for _, name := range a.cfg.Policy.Disabled {
			if err := engine.DisablePolicy(name); err != nil {
				a.logger.Warn().Err(err).Str("policy", name).Msg("Cannot disable policy")
			}
		}
		a.policy = engine
		opts = append(opts, checker.WithPolicy(engine, a.cfg.Enforcing()))
	}

	if a.store != nil {
		opts = append(opts, checker.WithStore(a.store, a.cfg.Store.StoreValues))
	}

	a.checker, err = checker.New(set, opts...)
	return err
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close store")
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.log.WithError(err).Warn("Failed to shut down telemetry")
	}
}
