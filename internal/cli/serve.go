package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NASA-0007/Rosaiq-Trial/internal/access"
	"github.com/NASA-0007/Rosaiq-Trial/internal/firmware"
	"github.com/NASA-0007/Rosaiq-Trial/internal/httpapi"
	"github.com/NASA-0007/Rosaiq-Trial/internal/ingest"
	"github.com/NASA-0007/Rosaiq-Trial/internal/middleware"
	"github.com/NASA-0007/Rosaiq-Trial/internal/mqtt"
	"github.com/NASA-0007/Rosaiq-Trial/internal/observability"
	"github.com/NASA-0007/Rosaiq-Trial/internal/ota"
	"github.com/NASA-0007/Rosaiq-Trial/internal/ratelimit"
	"github.com/NASA-0007/Rosaiq-Trial/internal/realtime"
	"github.com/NASA-0007/Rosaiq-Trial/internal/retention"

	"github.com/spf13/cobra"
)

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server, retention schedule and optional MQTT ingest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *cfgFile)
		},
	}
}

func runServe(parent context.Context, cfgFile string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	repo, err := openRepo(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if err := warnNoUsers(ctx, repo, os.Stderr); err != nil {
		return err
	}

	shutdownTelemetry, metrics, tracer, err := observability.Setup(ctx, httpapi.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	hub := realtime.NewHub(repo)
	storage, err := firmware.NewStorage(cfg.Firmware.Dir, cfg.Firmware.MaxBytes)
	if err != nil {
		return err
	}
	registry := &firmware.Registry{Repo: repo, Storage: storage, Events: hub}
	ing := &ingest.Ingestor{
		Repo:           repo,
		DeviceIDPrefix: cfg.API.DeviceIDPrefix,
		Events:         hub,
		TopicPrefix:    cfg.MQTTTopicPrefix,
	}

	sweeper := retention.New(repo, retention.Options{
		MeasurementDays: cfg.Retention.MeasurementDays,
		EventDays:       cfg.Retention.EventDays,
	})
	if err := sweeper.Start(ctx, cfg.Retention.Schedule); err != nil {
		return err
	}
	defer sweeper.Stop()

	if cfg.MQTTBrokerURL != "" {
		mq, err := mqtt.Connect(cfg.MQTTBrokerURL, cfg.MQTTClientID)
		if err != nil {
			return err
		}
		defer mq.Close()
		topic := strings.TrimRight(cfg.MQTTTopicPrefix, "/") + "/+/measures"
		if err := mq.Subscribe(topic, func(m mqtt.Message) {
			ing.HandleMessage(ctx, m)
		}); err != nil {
			return err
		}
		slog.Info("mqtt ingest subscribed", "topic", topic)
	}

	var limiter *ratelimit.RateLimiter
	if cfg.RedisAddr != "" {
		rdb := ratelimit.NewClient(cfg.RedisAddr, cfg.RedisPassword)
		defer rdb.Close()
		if err := ratelimit.Ping(ctx, rdb); err != nil {
			// the limiter fails open, so a late redis is not fatal
			slog.Warn("redis not reachable at startup", "addr", cfg.RedisAddr, "error", err)
		}
		limiter = ratelimit.New(rdb, "rosaiq", ratelimit.LimiterConfig{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst})
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Repo:     repo,
		Ingestor: ing,
		Gate:     &access.Gate{Repo: repo, Events: hub},
		Firmware: registry,
		OTA:      &ota.Negotiator{Catalog: registry, Repo: repo, Events: hub},
		Sweeper:  sweeper,
		Sessions: middleware.NewSessions(cfg.Session.Secret, cfg.Session.TTL, repo),
		Hub:      hub,
		Limiter:  limiter,
		Tracer:   tracer,
		Metrics:  metrics,
	}, httpapi.Options{
		EnableAPIKey:  cfg.API.EnableAuth,
		APIKey:        cfg.API.APIKey,
		PublicURL:     cfg.PublicURL,
		CORSOrigins:   cfg.CORSOrigins,
		OnlineWindow:  cfg.OnlineWindow,
		ActiveWindow:  cfg.ActiveWindow,
		SecureCookies: strings.HasPrefix(cfg.PublicURL, "https://"),
	})

	httpSrv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("rosaiq-server listening", "addr", httpSrv.Addr, "version", Version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		slog.Info("shutdown requested")
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("http server error", "error", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}
