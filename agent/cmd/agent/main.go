package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/obsidianstack/alertd/agent/internal/config"
	"github.com/obsidianstack/alertd/agent/internal/security"
	"github.com/obsidianstack/alertd/agent/internal/shipper"
	"github.com/obsidianstack/alertd/pkg/rules"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	watch := flag.Bool("watch", true, "reload rules and cert endpoints when the config file changes")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("alertd-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"targets", len(cfg.Rules.Targets),
		"rules", len(cfg.Rules.Rules),
		"cert_endpoints", len(cfg.Certs.Endpoints),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ship := shipper.New(cfg.Agent, cfg.Labels)
	go ship.Run(ctx)

	var evaluator *rules.Evaluator
	if len(cfg.Rules.Rules) > 0 {
		evaluator, err = rules.New(cfg.Rules.Interval, cfg.Rules.Targets, cfg.Rules.Rules, ship, logger)
		if err != nil {
			slog.Error("failed to build rule evaluator", "err", err)
			os.Exit(1)
		}
		go evaluator.Run(ctx)
	} else {
		slog.Warn("no rules configured")
	}

	certs := security.NewMonitor(cfg.Certs, ship, logger)
	if len(cfg.Certs.Endpoints) > 0 {
		go certs.Run(ctx)
	}

	if *watch {
		go func() {
			err := config.Watch(ctx, *configPath, func(updated *config.Config) {
				if evaluator != nil {
					if err := evaluator.Reload(updated.Rules.Interval, updated.Rules.Targets, updated.Rules.Rules); err != nil {
						slog.Warn("rule reload rejected", "err", err)
					}
				} else if len(updated.Rules.Rules) > 0 {
					slog.Warn("rules added on reload; restart the agent to start evaluating them")
				}
				certs.Reload(updated.Certs)
				slog.Info("config hot-reloaded",
					"rules", len(updated.Rules.Rules),
					"cert_endpoints", len(updated.Certs.Endpoints),
				)
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("alertd-agent shutting down")
}
