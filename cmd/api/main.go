package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meetbook/internal/api"
	"meetbook/internal/bot"
	"meetbook/internal/config"
	"meetbook/internal/database"
	"meetbook/internal/database/postgres"
	"meetbook/internal/domain"
	"meetbook/internal/events"
	"meetbook/internal/logging"
	"meetbook/internal/metrics"
	"meetbook/internal/notify"
	"meetbook/internal/repository"
	"meetbook/internal/service"
	"meetbook/internal/slots"
	"meetbook/internal/timezone"
	"meetbook/internal/worker"

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
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, sqliteDB, err := initStore(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer store.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	defer (func() { _ = repository.Close(redisClient) })()

	conv := timezone.NewConverter(&logger)
	catalog := cfg.Scheduling.MeetingTypes
	settings := service.NewSettingsService(store, conv, cfg.Scheduling.Timezone, catalog, &logger)

	eventBus := events.NewEventBus(&logger)
	eventBus.Subscribe(events.AllEvents, func(event *events.Event) error {
		metrics.IncEvent(event.Type)
		logger.Debug().Str("event_type", event.Type).Int64("event_id", event.ID).Msg("Booking event")
		return nil
	})

	var queue domain.NotificationQueue
	if cfg.Notifications.Enabled {
		notifier, closeNotifiers, err := initNotifiers(ctx, cfg, conv, &logger)
		if err != nil {
			return err
		}
		defer closeNotifiers()

		notificationWorker := worker.NewNotificationWorker(
			store,
			notifier,
			redisClient,
			cfg.Notifications.Queue,
			worker.PolicyFromConfig(cfg.Notifications.Retry),
			&logger,
		)
		go notificationWorker.Start(ctx)
		queue = notificationWorker
	}

	ledger := service.NewLedger(store, settings, initLocker(cfg, redisClient, &logger), conv, catalog, eventBus, queue, &logger)
	generator := slots.NewGenerator(settings, store, conv, catalog, &logger)

	if cfg.Bot.Enabled {
		tg, err := bot.NewTelegramAPI(cfg.Bot)
		if err != nil {
			return fmt.Errorf("init organizer bot: %w", err)
		}
		organizerBot := bot.NewBot(tg, cfg.Bot, ledger, settings, conv, &logger)
		go organizerBot.Start(ctx)
		defer organizerBot.Stop()
	}

	if sqliteDB != nil {
		backupService := database.NewBackupService(sqliteDB, cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	handler := api.NewHandler(
		ledger,
		settings,
		generator,
		store,
		initRateLimiter(redisClient, &logger),
		cfg.API.RateLimit,
		cfg.Scheduling.UpcomingDates,
		&logger,
	)
	httpServer := api.NewHTTPServer(cfg.API.HTTP, api.NewRouter(handler, api.NewHTTPAuth(cfg.API), &logger), &logger)

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(cfg.API, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		go grpcServer.WatchHealth(ctx, store, 15*time.Second)
	}

	startMetrics(ctx, cfg, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	return cfg, logger, closer, nil
}

// initStore opens the configured backend. The sqlite handle is returned
// separately because only it can be backed up by file copy.
func initStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.Store, *database.DB, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pg, err := postgres.Open(ctx, cfg.Database.Postgres.DSN(), logger)
		if err != nil {
			logger.Error().Err(err).Str("host", cfg.Database.Postgres.Host).Msg("init postgres")
			return nil, nil, err
		}
		return pg, nil, nil
	case config.DriverMemory:
		logger.Warn().Msg("Using in-memory store, bookings are lost on restart")
		return repository.NewMemoryStore(), nil, nil
	default:
		db, err := database.NewDB(cfg.Database.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, nil, err
		}
		return db, db, nil
	}
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := repository.Ping(pingCtx, redisClient); err != nil {
		if cfg.Locking.Backend == config.LockingRedis {
			// блокировки всё равно переключатся на локальные через failover
			logger.Warn().Err(err).Msg("redis not reachable yet, keeping client for locking")
			return redisClient
		}
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(redisClient)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initLocker(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.SlotLocker {
	local := repository.NewKeyedMutex()
	if cfg.Locking.Backend != config.LockingRedis || redisClient == nil {
		return local
	}
	return repository.NewFailoverSlotLocker(
		repository.NewRedisSlotLocker(redisClient, cfg.Locking.TTL, cfg.Locking.Retry),
		local,
		logger,
	)
}

func initRateLimiter(redisClient *redis.Client, logger *zerolog.Logger) domain.RateLimiter {
	local := repository.NewMemoryRateLimiter()
	if redisClient == nil {
		return local
	}
	return repository.NewFailoverRateLimiter(repository.NewRedisRateLimiter(redisClient), local, logger)
}

// initNotifiers always includes the log channel; the rest follow config.
func initNotifiers(ctx context.Context, cfg *config.Config, conv *timezone.Converter, logger *zerolog.Logger) (domain.Notifier, func(), error) {
	n := cfg.Notifications
	notifiers := notify.Multi{notify.NewLogNotifier(conv, logger)}
	var closers []io.Closer

	if n.Telegram.Enabled {
		tg, err := notify.NewTelegramNotifier(n.Telegram, conv)
		if err != nil {
			return nil, nil, fmt.Errorf("init telegram notifier: %w", err)
		}
		notifiers = append(notifiers, tg)
	}
	if n.Kafka.Enabled {
		kn, err := notify.NewKafkaNotifier(n.Kafka)
		if err != nil {
			return nil, nil, fmt.Errorf("init kafka notifier: %w", err)
		}
		notifiers = append(notifiers, kn)
		closers = append(closers, kn)
	}
	if n.Sheets.Enabled {
		sn, err := notify.NewSheetsNotifier(ctx, n.Sheets)
		if err != nil {
			logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		} else {
			notifiers = append(notifiers, sn)
		}
	}

	logger.Info().Int("channels", len(notifiers)).Msg("Notifications enabled")
	return notifiers, func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn().Err(err).Msg("close notifier")
			}
		}
	}, nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	errCh := make(chan error, 2)

	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	if cfg.API.HTTP.Enabled {
		go func() {
			if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("grpc", grpcServer != nil).Msg("Scheduling API started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("Scheduling API stopped")
	return runErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
