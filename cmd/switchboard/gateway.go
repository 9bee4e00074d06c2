package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/switchboard/internal/api"
	"github.com/mattjoyce/switchboard/internal/config"
	"github.com/mattjoyce/switchboard/internal/dispatch"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/journal"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/modules"
	"github.com/mattjoyce/switchboard/internal/plugin"
	"github.com/mattjoyce/switchboard/internal/storage"
	"github.com/mattjoyce/switchboard/internal/webhook"
)

// gateway is the assembled service: registry, dispatcher, journal and the
// HTTP server sharing one event hub.
type gateway struct {
	cfg        *config.Config
	hub        *events.Hub
	registry   *plugin.Registry
	dispatcher *dispatch.Dispatcher
	journal    *journal.Store
	db         *sql.DB
	server     *api.Server
}

// newLoader builds the plugin loader for cfg: compiled-in modules first, then
// exec plugins from each configured root, so a plugin directory can override
// a builtin action.
func newLoader(cfg *config.Config, logger *slog.Logger) *plugin.Loader {
	logFunc := log.LevelFunc(logger)
	sources := []plugin.Source{
		plugin.NewStatic(modules.Builtins(), cfg.Plugins.Builtin, cfg.Plugins.Config),
	}
	if len(cfg.Plugins.Dirs) > 0 {
		sources = append(sources, plugin.NewDirs(cfg.Plugins.Dirs, cfg.Plugins.Config, cfg.Plugins.ExecTimeout, logFunc))
	}
	return plugin.NewLoader(logFunc, sources...)
}

// newGateway loads plugins and wires every component. The initial load must
// succeed; a broken plugin is reported in the manifest but does not stop
// startup.
func newGateway(ctx context.Context, cfg *config.Config) (*gateway, error) {
	logger := log.WithComponent("main")
	g := &gateway{cfg: cfg, hub: events.NewHub(cfg.Events.Buffer)}

	g.registry = plugin.NewRegistry(newLoader(cfg, log.WithComponent("plugin")).Build, log.LevelFunc(log.WithComponent("registry")))
	g.registry.AllowEmptyReload = cfg.Plugins.AllowEmptyReload
	res, err := g.registry.Reload(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial plugin load: %w", err)
	}
	logger.Info("plugins loaded", "actions", res.Actions, "generation", res.Generation)

	hooks, err := webhook.FromConfig(cfg.Webhooks)
	if err != nil {
		return nil, fmt.Errorf("webhooks: %w", err)
	}

	opts := []dispatch.Option{
		dispatch.WithTimeout(cfg.Dispatch.Timeout),
		dispatch.WithEvents(g.hub),
	}
	var journalReader api.JournalReader
	if cfg.Journal.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		g.db = db
		g.journal = journal.New(db)
		journalReader = g.journal
		opts = append(opts, dispatch.WithJournal(g.journal))
		logger.Info("journal opened", "path", cfg.Journal.Path)

		if n, err := g.journal.Prune(ctx, cfg.Journal.Retention); err != nil {
			logger.Warn("journal prune failed", "error", err)
		} else if n > 0 {
			logger.Info("journal pruned", "removed", n, "retention", cfg.Journal.Retention.String())
		}
	}
	g.dispatcher = dispatch.New(g.registry, opts...)

	g.server = api.New(api.Config{
		Name:              cfg.Service.Name,
		Listen:            cfg.API.Listen,
		APIKey:            cfg.API.Auth.APIKey,
		Tokens:            cfg.API.Auth.Tokens,
		ReadHeaderTimeout: cfg.API.ReadHeaderTimeout,
		MaxBodyBytes:      cfg.API.MaxBodyBytes,
	}, g.registry, g.dispatcher, journalReader, g.hub, log.WithComponent("api"))
	if len(hooks.Endpoints) > 0 {
		wh := webhook.New(hooks, g.dispatcher, log.WithComponent("webhook"))
		g.server.Mount("/webhook", wh.Routes())
		logger.Info("webhooks mounted", "endpoints", wh.Len())
	}

	return g, nil
}

// Close releases the journal database.
func (g *gateway) Close() error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}
