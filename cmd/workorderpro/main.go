package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	daemon "github.com/sevlyar/go-daemon"
	"github.com/spf13/cobra"

	"github.com/wsu/workorderpro/internal/config"
	"github.com/wsu/workorderpro/internal/limiter"
	"github.com/wsu/workorderpro/internal/metrics"
	"github.com/wsu/workorderpro/internal/outbox"
	"github.com/wsu/workorderpro/internal/repository"
	"github.com/wsu/workorderpro/internal/server"
	logpkg "github.com/wsu/workorderpro/pkg/log"
	"github.com/wsu/workorderpro/pkg/telemetry"
	"github.com/wsu/workorderpro/services/workorder"
)

var (
	cfgPath    string
	daemonMode bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "workorderpro",
		Short:        "Work order REST service",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "/etc/workorderpro.yaml", "path to config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemonMode {
				cntxt := &daemon.Context{
					PidFileName: "workorderpro.pid",
					PidFilePerm: 0644,
				}
				child, err := cntxt.Reborn()
				if err != nil {
					return err
				}
				if child != nil {
					return nil
				}
				defer cntxt.Release()
			}
			return runServe(cfgPath)
		},
	}
	serveCmd.Flags().BoolVar(&daemonMode, "daemon", false, "run in background")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), cfgPath)
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func runMigrate(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logpkg.New(cfg.Telemetry.ServiceName, logpkg.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	cfg.Database.AutoMigrate = true
	store, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("schema applied", "driver", cfg.Database.Driver)
	return nil
}

func runServe(path string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	service := cfg.Telemetry.ServiceName

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, service, cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	logger := logpkg.New(service, logpkg.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		OTel:   cfg.Telemetry.Enabled,
	})
	slog.SetDefault(logger)

	store, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	svc := workorder.New(store, workorder.Options{
		Logger:     logger,
		Metrics:    m,
		EmitEvents: cfg.Outbox.Enabled,
	})

	var rdb redis.UniversalClient
	if cfg.RateLimiter.Enabled && cfg.RateLimiter.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimiter.RedisAddr,
			Username: cfg.RateLimiter.RedisUsername,
			Password: cfg.RateLimiter.RedisPassword,
			DB:       cfg.RateLimiter.RedisDB,
		})
		defer rdb.Close()
	}
	lim := limiter.New(limiter.Config{
		Enabled:           cfg.RateLimiter.Enabled,
		RequestsPerSecond: cfg.RateLimiter.RequestsPerSecond,
		Burst:             cfg.RateLimiter.Burst,
		Window:            cfg.RateLimiter.Window,
		Redis:             rdb,
	})

	if cfg.Outbox.Enabled {
		sink, err := openSink(cfg.Outbox)
		if err != nil {
			return err
		}
		defer sink.Close()
		pub := outbox.NewPublisher(store, sink, outbox.Options{
			Interval:  cfg.Outbox.Interval,
			BatchSize: cfg.Outbox.BatchSize,
			Logger:    logger.With("component", "outbox"),
			Metrics:   m,
		})
		go pub.Run(ctx)
		logger.Info("outbox publisher started", "sink", cfg.Outbox.Sink)
	}

	srv := server.New(cfg.Server, service, server.Deps{
		Service: svc,
		Store:   store,
		Logger:  logger,
		Metrics: m,
		Limiter: lim,
	})
	return srv.Run(ctx)
}

func openSink(cfg config.OutboxConfig) (outbox.Sink, error) {
	switch cfg.Sink {
	case "kafka":
		return outbox.NewKafkaSink(cfg.KafkaBrokers), nil
	default:
		sink, err := outbox.DialNATS(cfg.NatsURL)
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
}
