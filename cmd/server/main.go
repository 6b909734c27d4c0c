package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koios/gencast/internal/amqp"
	"github.com/koios/gencast/internal/cast"
	"github.com/koios/gencast/internal/config"
	"github.com/koios/gencast/internal/controller"
	"github.com/koios/gencast/internal/handlers"
	"github.com/koios/gencast/internal/notify"
	"github.com/koios/gencast/internal/progress"
	"github.com/koios/gencast/internal/redis"
	"github.com/koios/gencast/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		logger.Fatal("Failed to load settings", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, settings, logger); err != nil {
		logger.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

func run(ctx context.Context, cfg *config.Config, settings *config.SettingsStore, logger *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := os.MkdirAll(cfg.Cast.TempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}

	// Notices go to the log, the in-memory buffer and any configured broker
	notices := notify.NewBuffer(100)
	sinks := notify.Multi{notify.NewLogger(logger), notices}

	var amqpConn *amqp.Connection
	if cfg.AMQP.Enabled {
		amqpConn = amqp.NewConnection(cfg.AMQP, logger.Named("amqp"))
		defer amqpConn.Close()
		amqpNotices := notify.NewAsync(amqpConn.PublishNotice, 64, logger)
		sinks = append(sinks, amqpNotices)
		g.Go(func() error { return amqpNotices.Run(ctx) })
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, cfg.Redis, logger.Named("redis"))
		if err != nil {
			return err
		}
		redisClient = client
		defer redisClient.Close()
		redisNotices := notify.NewAsync(redisClient.PublishNotice, 64, logger)
		sinks = append(sinks, redisNotices)
		g.Go(func() error { return redisNotices.Run(ctx) })
	}

	var iface *net.Interface
	if cfg.Cast.Interface != "" {
		i, err := net.InterfaceByName(cfg.Cast.Interface)
		if err != nil {
			return fmt.Errorf("failed to find interface %s: %w", cfg.Cast.Interface, err)
		}
		iface = i
	}
	discoverer := cast.NewChromecast(iface, cfg.Cast.DiscoveryTimeout, logger)

	host := cfg.Cast.CallbackHost
	if host == "" {
		host = config.DetectLocalIP()
	}
	filePort := settings.Get().Port
	baseURL := config.BaseCallbackURL(host, filePort)

	tracker := progress.NewTracker()
	ctrl := controller.New(discoverer, controller.Options{
		Template: models.CastConfig{
			BaseCallbackURL: baseURL,
			TempDir:         cfg.Cast.TempDir,
			FontPath:        cfg.Cast.FontPath,
			QueueSize:       cfg.Cast.QueueSize,
			MinInterval:     cfg.Cast.MinInterval,
		},
		Settings:        settings,
		Progress:        tracker,
		Notifier:        sinks,
		TeardownTimeout: cfg.Cast.TeardownTimeout,
	}, logger)
	defer ctrl.Stop()

	apiMux := http.NewServeMux()
	castHandler := handlers.NewCastHandler(ctrl, tracker, settings, notices, logger.Named("api"))
	castHandler.RegisterRoutes(apiMux)

	fileServer, err := handlers.NewFileServer(cfg.Cast.TempDir, logger.Named("files"))
	if err != nil {
		return fmt.Errorf("failed to create file server: %w", err)
	}
	fileMux := http.NewServeMux()
	fileServer.RegisterRoutes(fileMux)

	apiSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiMux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
	fileSrv := &http.Server{
		Addr:        fmt.Sprintf(":%d", filePort),
		Handler:     fileMux,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
	}

	for _, srv := range []struct {
		name   string
		server *http.Server
	}{{"API", apiSrv}, {"file", fileSrv}} {
		srv := srv
		g.Go(func() error {
			logger.Info("Starting HTTP server", zap.String("server", srv.name), zap.String("addr", srv.server.Addr))
			if err := srv.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", srv.name, err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.server.Shutdown(shutdownCtx)
		})
	}

	submissions := handlers.NewSubmissionHandler(ctrl, logger.Named("ingress"))
	if amqpConn != nil {
		consumer := amqp.NewConsumer(amqpConn, submissions, logger.Named("amqp"))
		g.Go(func() error { return consumer.Start(ctx) })
	}
	if redisClient != nil {
		consumer := redis.NewConsumer(redisClient, submissions, logger.Named("redis"))
		g.Go(func() error { return consumer.Start(ctx) })
	}

	g.Go(func() error {
		if ctrl.ResumeOnStart(ctx) {
			return nil
		}
		if _, err := ctrl.RefreshDevices(ctx); err != nil {
			logger.Warn("Initial device scan failed", zap.Error(err))
		}
		return nil
	})

	logger.Info("Server started",
		zap.Int("api_port", cfg.Server.Port),
		zap.Int("file_port", filePort),
		zap.String("callback_url", baseURL),
		zap.String("temp_dir", cfg.Cast.TempDir))

	return g.Wait()
}
