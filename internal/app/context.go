package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"pillarline/internal/audit"
	"pillarline/internal/catalog"
	"pillarline/internal/config"
	"pillarline/internal/db"
	"pillarline/internal/engine"
	"pillarline/internal/migrate"
)

// Options select the workspace an engine is opened on.
type Options struct {
	Workspace string
	ActorID   string
	// RequireConfig fails when pillarline.yml is missing instead of using defaults.
	RequireConfig bool
	Logger        *log.Logger
	// Getenv resolves the GitHub token variable; nil means os.Getenv.
	Getenv func(string) string
}

// Open opens the workspace database, applies migrations, wires the audit sinks
// from config and loads the product store, seeding it on first use.
// The caller closes e.DB.
func Open(ctx context.Context, opts Options) (engine.Engine, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.RequireConfig {
		cfg, err = config.Load(opts.Workspace)
	} else {
		cfg, err = config.LoadOptional(opts.Workspace)
	}
	if err != nil {
		return engine.Engine{}, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	cat, err := catalog.Load(resolve(opts.Workspace, cfg.Catalog.DataDir))
	if err != nil {
		return engine.Engine{}, fmt.Errorf("load catalog: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return engine.Engine{}, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return engine.Engine{}, err
	}
	e := engine.New(conn, cfg, cat)
	e.Audit = audit.NewLogger(opts.Logger, Sinks(ctx, e, opts)...)
	if err := e.Bootstrap(ctx, opts.ActorID); err != nil {
		conn.Close()
		return engine.Engine{}, err
	}
	return e, nil
}

// Sinks builds the audit sinks enabled in e.Config. The event sink is always on.
func Sinks(ctx context.Context, e engine.Engine, opts Options) []audit.Sink {
	sinks := []audit.Sink{audit.EventSink{Repo: e.Repo, Events: e.Events}}
	ac := e.Config.Audit
	if ac.Dir != "" {
		sinks = append(sinks, audit.DirSink{Dir: resolve(opts.Workspace, ac.Dir)})
	}
	if rs := RedisSink(e.Config); rs != nil {
		sinks = append(sinks, rs)
	}
	if ac.GitHub.Enabled() {
		getenv := opts.Getenv
		if getenv == nil {
			getenv = os.Getenv
		}
		sinks = append(sinks, audit.NewGitHubSink(ctx, audit.GitHubOptions{
			BaseURL: ac.GitHub.BaseURL,
			Owner:   ac.GitHub.Owner,
			Repo:    ac.GitHub.Repo,
			Branch:  ac.GitHub.Branch,
			Token:   getenv(ac.GitHub.TokenEnv),
			Rate:    ac.GitHub.Rate,
		}))
	}
	return sinks
}

// RedisSink returns the configured Redis sink, or nil when no address is set.
func RedisSink(cfg *config.Config) *audit.RedisSink {
	if cfg == nil || cfg.Audit.Redis.Addr == "" {
		return nil
	}
	return audit.NewRedisSink(cfg.Audit.Redis.Addr, cfg.Audit.Redis.Key)
}

func resolve(workspace, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, path)
}
