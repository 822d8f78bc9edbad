package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qpaygate/internal/api"
	"qpaygate/internal/config"
	"qpaygate/internal/database"
	"qpaygate/internal/domain"
	"qpaygate/internal/events"
	"qpaygate/internal/logging"
	"qpaygate/internal/metrics"
	"qpaygate/internal/notify"
	"qpaygate/internal/qpay"
	"qpaygate/internal/repository"
	"qpaygate/internal/service"
	"qpaygate/internal/token"
	"qpaygate/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	store := buildStore(redisClient, logger)

	resolver := qpay.NewResolver(cfg.QPay)
	creds, err := resolver.Resolve()
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}
	logger.Info().Str("mode", cfg.QPay.Mode).Str("base_url", creds.BaseURL).Msg("Processor credentials resolved")

	client := qpay.NewClient(logger)
	tokens := token.NewCache(store, client, logger)

	notifier := initNotifier(cfg, logger)
	bus := events.NewEventBus()
	subscribeEventLog(bus, logger)

	svc := service.New(db, client, tokens, creds, cfg.QPay, bus, cfg.Exports.Path, logger)

	queueWorker := worker.NewQueueWorker(db, svc, notifier, logger)
	queueWorker.SetBatchSize(cfg.Queue.BatchSize)
	queueWorker.SetTick(time.Duration(cfg.Queue.TickSeconds) * time.Second)
	queueWorker.SetMaxAttempts(cfg.Queue.MaxAttempts)
	queueWorker.SetEventBus(bus)

	httpServer := api.NewHTTPServer(cfg.API, cfg.Webhook, db, svc, queueWorker.ProcessQueueTasks, cfg.Queue.BatchSize, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, logger)

	go queueWorker.Run(ctx)
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.Port).Msg("Gateway started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("Gateway stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "gateway").Logger()

	return cfg, &logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// buildStore wires the token store: redis primary with in-memory failover,
// or memory alone when redis is not configured.
func buildStore(redisClient *redis.Client, logger *zerolog.Logger) domain.KeyValueStore {
	memory := repository.NewMemoryStore()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverStore(repository.NewRedisStore(redisClient), memory, logger)
}

func initNotifier(cfg *config.Config, logger *zerolog.Logger) domain.Notifier {
	if !cfg.Alerts.Enabled || cfg.Alerts.TelegramToken == "" || cfg.Alerts.TelegramChatID == 0 {
		return notify.NopNotifier{}
	}

	notifier, err := notify.NewTelegramNotifier(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatID, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without alerts")
		return notify.NopNotifier{}
	}

	logger.Info().Int64("chat_id", cfg.Alerts.TelegramChatID).Msg("telegram alerts enabled")
	return notifier
}

func subscribeEventLog(bus *events.EventBus, logger *zerolog.Logger) {
	for _, eventType := range []string{
		events.EventInvoiceCreated,
		events.EventPaymentConfirmed,
		events.EventRefundSucceeded,
		events.EventTaskDeadLettered,
	} {
		bus.Subscribe(eventType, func(event *events.Event) error {
			logger.Debug().Str("event", event.Type).RawJSON("payload", event.Payload).Msg("domain event")
			return nil
		})
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
