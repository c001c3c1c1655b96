package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/usebrk/beka-widget/internal/automation"
	"github.com/usebrk/beka-widget/internal/chatwoot"
	"github.com/usebrk/beka-widget/internal/config"
	"github.com/usebrk/beka-widget/internal/delivery"
	"github.com/usebrk/beka-widget/internal/handlers"
	"github.com/usebrk/beka-widget/internal/healthcheck"
	automationchecker "github.com/usebrk/beka-widget/internal/healthcheck/checkers/automation"
	deliverychecker "github.com/usebrk/beka-widget/internal/healthcheck/checkers/delivery"
	"github.com/usebrk/beka-widget/internal/logger"
	"github.com/usebrk/beka-widget/internal/message"
	"github.com/usebrk/beka-widget/internal/metrics"
	"github.com/usebrk/beka-widget/internal/normalize"
	"github.com/usebrk/beka-widget/internal/server"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the widget HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			if strings.TrimSpace(configPath) == "" {
				configPath = os.Getenv("CONFIG_PATH")
			}
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML or YAML config file (default $CONFIG_PATH)")
	return cmd
}

func runServe(configPath string) error {
	app := fx.New(
		fx.Provide(
			func() (config.Config, error) { return provideConfig(configPath) },
			provideLogger,
			provideRegistry,
			provideMetrics,
			provideStore,
			provideNormalizer,
			provideIngress,
			provideAutomationClient,
			provideDeliveryManager,
			provideHealthCheckers,
			provideServerHandler(provideChatHandler),
			provideServerHandler(provideStreamHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(providePersistHandler),
			provideServerHandler(provideSyncHandler),
			provideServerHandler(providePingHandler),
			provideServerHandler(provideMetricsHandler),
			provideServer,
		),
		fx.Invoke(startServer),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func provideStore(lc fx.Lifecycle, log *slog.Logger, m *metrics.Metrics) *message.Store {
	store := message.NewStore(log, m)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { store.Close(); return nil }})
	return store
}

func provideNormalizer(cfg config.Config, m *metrics.Metrics) *normalize.Normalizer {
	return normalize.New(
		normalize.WithAnswerKeys(cfg.Normalizer.AnswerKeys...),
		normalize.WithLabelKeys(cfg.Normalizer.LabelKeys...),
		normalize.WithMetrics(m),
	)
}

func provideIngress(log *slog.Logger, cfg config.Config, store *message.Store, n *normalize.Normalizer, m *metrics.Metrics) *chatwoot.Ingress {
	return chatwoot.NewIngress(log, store, n,
		chatwoot.WithDefaultSenderName(cfg.Chatwoot.DefaultSenderName),
		chatwoot.WithMetrics(m),
	)
}

func provideAutomationClient(log *slog.Logger, cfg config.Config, m *metrics.Metrics) *automation.Client {
	return automation.NewClient(log, automation.Config{
		BaseURL:    cfg.Automation.BaseURL,
		Token:      cfg.Automation.Token,
		PersistURL: cfg.Automation.PersistURL,
		SyncURL:    cfg.Automation.SyncURL,
		Timeout:    cfg.Automation.Timeout(),
	}, m)
}

func provideDeliveryManager(log *slog.Logger, cfg config.Config, store *message.Store, m *metrics.Metrics) *delivery.Manager {
	return delivery.NewManager(log.With(slog.String("service", "delivery")), store, cfg.Live.Heartbeat(), m)
}

func provideHealthCheckers(log *slog.Logger, client *automation.Client, store *message.Store, manager *delivery.Manager) []healthcheck.Checker {
	return []healthcheck.Checker{
		automationchecker.NewChecker(log, client),
		deliverychecker.NewChecker(log, store, manager),
	}
}

func provideChatHandler(log *slog.Logger, cfg config.Config, client *automation.Client, n *normalize.Normalizer) *handlers.ChatHandler {
	return handlers.NewChatHandler(log, client, n, cfg.Automation.FailureMessage)
}

func provideStreamHandler(log *slog.Logger, cfg config.Config, manager *delivery.Manager) *handlers.StreamHandler {
	return handlers.NewStreamHandler(log, manager, cfg.Server.AllowedOrigins)
}

func provideWebhookHandler(log *slog.Logger, store *message.Store, ingress *chatwoot.Ingress, m *metrics.Metrics) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, store, ingress, m)
}

func providePersistHandler(log *slog.Logger, client *automation.Client) *handlers.PersistHandler {
	return handlers.NewPersistHandler(log, client)
}

func provideSyncHandler(log *slog.Logger, client *automation.Client) *handlers.SyncHandler {
	return handlers.NewSyncHandler(log, client)
}

func providePingHandler(log *slog.Logger, checkers []healthcheck.Checker) *handlers.PingHandler {
	return handlers.NewPingHandler(log, checkers...)
}

func provideMetricsHandler(reg *prometheus.Registry) *handlers.MetricsHandler {
	return handlers.NewMetricsHandler(reg)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, server.Options{
		Addr:           params.Config.Server.Addr,
		AllowedOrigins: params.Config.Server.AllowedOrigins,
		RateLimit: server.RateLimit{
			RPS:   params.Config.Server.RateLimit.RPS,
			Burst: params.Config.Server.RateLimit.Burst,
		},
		TrustedProxies: params.Config.Server.TrustedProxies,
	}, params.ServerHandlers...)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, manager *delivery.Manager, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Automation.BaseURL == "" || cfg.Automation.Token == "" {
				logger.Warn("automation engine not configured, /api/chat will fail until BEKA_API_URL and BEKA_API_TOKEN are set")
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopCtx := ctx
			if timeout := cfg.Server.ShutdownTimeout(); timeout > 0 {
				var cancel context.CancelFunc
				stopCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			// Live sessions hold their connections open, so they go first.
			if err := manager.Shutdown(stopCtx); err != nil {
				logger.Warn("live sessions did not close in time", slog.Any("error", err))
			}
			if err := srv.Stop(stopCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
