package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/docket"
	"github.com/xraph/docket/artifact"
	audithook "github.com/xraph/docket/audit_hook"
	"github.com/xraph/docket/config"
	"github.com/xraph/docket/engine"
	"github.com/xraph/docket/notify"
	notifyredis "github.com/xraph/docket/notify/redis"
	"github.com/xraph/docket/store"
	"github.com/xraph/docket/store/memory"
	"github.com/xraph/docket/store/mongo"
	"github.com/xraph/docket/store/postgres"
)

// app is everything a subcommand needs after the global flags are
// resolved.
type app struct {
	cfg    *config.FileConfig
	logger *slog.Logger

	// rdb is the wake-up bridge client, nil without redis.url.
	rdb *redis.Client
}

// loadApp reads the configuration and builds the logger. Flags override
// the file and environment.
func loadApp(flags *globalFlags, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

// openStore connects the configured backend.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	switch a.cfg.Store.Driver {
	case config.DriverMongo:
		return mongo.Open(ctx, a.cfg.Store.URI, a.cfg.Store.Database, mongo.WithLogger(a.logger))
	case config.DriverPostgres:
		return postgres.New(ctx, a.cfg.Store.URI, postgres.WithLogger(a.logger))
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
}

// buildEngine opens the store and assembles an engine around it. The
// caller owns the engine and must Stop it, which also closes the store.
func (a *app) buildEngine(ctx context.Context, opts ...engine.Option) (*engine.Engine, error) {
	s, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	closeOnErr := func(err error) (*engine.Engine, error) {
		_ = s.Close()
		return nil, err
	}

	d, err := docket.New(
		docket.WithConfig(a.cfg.DocketConfig()),
		docket.WithLogger(a.logger),
		docket.WithStore(s),
	)
	if err != nil {
		return closeOnErr(err)
	}

	base := []engine.Option{
		engine.WithExtension(audithook.New(audithook.NewLogRecorder(a.logger),
			audithook.WithLogger(a.logger))),
	}
	if dir := a.cfg.Artifacts.Dir; dir != "" {
		arts, err := artifact.NewDir(dir)
		if err != nil {
			return closeOnErr(err)
		}
		base = append(base, engine.WithArtifacts(arts))
	}
	if path := a.cfg.OutputSchema; path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return closeOnErr(fmt.Errorf("read output schema: %w", err))
		}
		base = append(base, engine.WithOutputSchema(json.RawMessage(raw)))
	}
	if url := a.cfg.Redis.URL; url != "" {
		ropts, err := redis.ParseURL(url)
		if err != nil {
			return closeOnErr(fmt.Errorf("parse redis url: %w", err))
		}
		sig := notify.NewSignal()
		bridgeOpts := []notifyredis.Option{notifyredis.WithLogger(a.logger)}
		if ch := a.cfg.Redis.Channel; ch != "" {
			bridgeOpts = append(bridgeOpts, notifyredis.WithChannel(ch))
		}
		a.rdb = redis.NewClient(ropts)
		bridge := notifyredis.New(a.rdb, sig, bridgeOpts...)
		base = append(base, engine.WithSignal(sig), engine.WithNotifier(bridge))
	}

	eng, err := engine.Build(d, append(base, opts...)...)
	if err != nil {
		a.closeRedis()
		return closeOnErr(err)
	}
	return eng, nil
}

// shutdown stops eng, which closes the store, then the redis client.
func (a *app) shutdown(ctx context.Context, eng *engine.Engine) error {
	err := eng.Stop(ctx)
	a.closeRedis()
	return err
}

func (a *app) closeRedis() {
	if a.rdb == nil {
		return
	}
	if err := a.rdb.Close(); err != nil {
		a.logger.Warn("close redis", slog.String("error", err.Error()))
	}
	a.rdb = nil
}

// withEngine runs fn against a short-lived engine whose background
// runners are never started.
func (a *app) withEngine(ctx context.Context, fn func(*engine.Engine) error) error {
	eng, err := a.buildEngine(ctx)
	if err != nil {
		return err
	}
	runErr := fn(eng)
	if err := a.shutdown(context.WithoutCancel(ctx), eng); err != nil {
		a.logger.Warn("shutdown", slog.String("error", err.Error()))
	}
	return runErr
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
