package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata" // channel time restrictions name IANA zones

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/obsidianstack/alertd/pkg/rules"
	sig "github.com/obsidianstack/alertd/pkg/signal"
	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/alerts"
	"github.com/obsidianstack/alertd/server/internal/api"
	"github.com/obsidianstack/alertd/server/internal/auth"
	"github.com/obsidianstack/alertd/server/internal/config"
	"github.com/obsidianstack/alertd/server/internal/metrics"
	"github.com/obsidianstack/alertd/server/internal/notify"
	"github.com/obsidianstack/alertd/server/internal/receiver"
	"github.com/obsidianstack/alertd/server/internal/scheduler"
	"github.com/obsidianstack/alertd/server/internal/senders"
	"github.com/obsidianstack/alertd/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	watch := flag.Bool("watch", true, "reload channels, policies, templates and rules when the config file changes")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("alertd starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"channels", len(cfg.Alerting.Channels),
		"policies", len(cfg.Alerting.Policies),
		"rules", len(cfg.Rules.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mt := metrics.New()

	// Notification router with one transport per channel type.
	router := notify.NewRouter(
		notify.WithSendTimeout(cfg.Alerting.SendTimeout),
		notify.WithLogger(logger),
		notify.WithMetrics(mt),
	)
	registerTransports(router, cfg.Transports)

	// Alert manager driven by the cron scheduler.
	mgr := alerts.NewManager(router,
		alerts.WithLogger(logger),
		alerts.WithMetrics(mt),
		alerts.WithRetention(cfg.Alerting.Retention),
		alerts.WithIntervals(cfg.Alerting.EscalationInterval, cfg.Alerting.CleanupInterval),
	)
	mgr.ApplyConfig(cfg.Alerting)
	if err := mgr.Start(scheduler.NewCron(logger)); err != nil {
		slog.Error("failed to start alert manager", "err", err)
		os.Exit(1)
	}
	defer mgr.Stop()

	// Built-in threshold rules, when any are configured.
	var (
		wg        sync.WaitGroup
		evaluator *rules.Evaluator
	)
	if len(cfg.Rules.Rules) > 0 {
		evaluator, err = rules.New(cfg.Rules.Interval, cfg.Rules.Targets, cfg.Rules.Rules, alerts.NewFirer(mgr), logger)
		if err != nil {
			slog.Error("failed to build rule evaluator", "err", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			evaluator.Run(ctx)
		}()
	}

	if *watch {
		go func() {
			err := config.Watch(ctx, *configPath, func(next *config.Config) {
				mgr.ApplyConfig(next.Alerting)
				if evaluator == nil {
					if len(next.Rules.Rules) > 0 {
						slog.Warn("config reload: rules added; restart to start the evaluator")
					}
					return
				}
				if err := evaluator.Reload(next.Rules.Interval, next.Rules.Targets, next.Rules.Rules); err != nil {
					slog.Error("config reload: rules rejected", "err", err)
				}
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	// gRPC server with optional API key authentication interceptor.
	interceptor := auth.APIKeyInterceptor(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Keys()...,
	)
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	senderReg := senders.New(cfg.Server.SenderTTL)
	go senderReg.Run(ctx)
	sig.RegisterServer(grpcSrv, receiver.New(mgr, receiver.WithTracker(senderReg)))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(sig.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port",
			"port", cfg.Server.GRPCPort, "err", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("gRPC receiver listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	hub := ws.New(mgr, cfg.Server.StreamInterval)
	go hub.Run(ctx)

	// Combined HTTP server: REST API, metrics and WebSocket hub on HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(mgr, api.WithSenders(senderReg)))
	httpMux.Handle("/metrics", mt.Handler())
	httpMux.Handle("/ws/stream", hub)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("alertd shutting down")
	healthSrv.Shutdown()
	grpcSrv.GracefulStop()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	wg.Wait()
}

// registerTransports installs a transport for every channel type. URLs
// left empty here must come from each channel's own config.
func registerTransports(r *notify.Router, t config.TransportsConfig) {
	client := &http.Client{Timeout: 10 * time.Second}

	r.RegisterTransport(types.ChannelSlack, notify.NewSlackTransport(t.Slack.WebhookURL(), t.Slack.Channel, client))
	r.RegisterTransport(types.ChannelTeams, notify.NewTeamsTransport(t.Teams.URL(), client))
	r.RegisterTransport(types.ChannelPagerDuty, notify.NewPagerDutyTransport(client))
	r.RegisterTransport(types.ChannelWebhook, notify.NewWebhookTransport(t.Webhook.URL(), t.Webhook.Headers, client))
	r.RegisterTransport(types.ChannelSMS, notify.NewSMSGatewayTransport(t.SMS.URL(), client))

	if t.SMTP.Host != "" {
		r.RegisterTransport(types.ChannelEmail, notify.NewSMTPTransport(
			t.SMTP.Host, t.SMTP.Port, t.SMTP.Username, t.SMTP.Password(), t.SMTP.From,
		))
	} else {
		slog.Warn("smtp host not configured; email channels will not deliver")
	}
}
