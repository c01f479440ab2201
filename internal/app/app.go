package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	httpapi "github.com/vladislavdragonenkov/checkout/internal/service/http"
	"github.com/vladislavdragonenkov/checkout/internal/service/notify"
	outboxsvc "github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/checkout/internal/storage/redis"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

// Run собирает зависимости по конфигурации и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	healthHandler := healthcheck.NewHandler(version.GetVersion(), 2*time.Second)

	// Хранилища: postgres при заданном DSN, иначе in-memory.
	var (
		inventory  domain.InventoryStore
		carts      domain.CartStore
		ledger     domain.ReceiptLedger
		outboxRepo domain.OutboxRepository
	)
	if cfg.Postgres.DSN != "" {
		store, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("close postgres store failed")
			}
		}()
		if cfg.Postgres.Migrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		inventory = postgres.NewInventoryStore(store)
		carts = postgres.NewCartStore(store)
		ledger = postgres.NewReceiptLedger(store)
		outboxRepo = postgres.NewOutboxRepository(store)
		healthHandler.RegisterChecker("postgres", healthcheck.NewPingChecker("postgres", store.Ping))
		logger.Info("postgres storage initialized")
	} else {
		inventory = memory.NewInventoryStore()
		carts = memory.NewCartStore()
		ledger = memory.NewReceiptLedger()
		outboxRepo = memory.NewOutboxRepository()
		logger.Info("in-memory storage initialized")
	}

	// Идемпотентность оформления: redis при заданном адресе.
	var idempotency domain.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.WithError(err).Warn("close redis client failed")
			}
		}()
		store := redisstore.NewIdempotencyStore(rdb, cfg.Redis.IdempotencyTTL)
		idempotency = store
		healthHandler.RegisterChecker("redis", healthcheck.NewPingChecker("redis", store.Ping))
		logger.WithField("addr", cfg.Redis.Addr).Info("redis idempotency store initialized")
	} else {
		idempotency = memory.NewIdempotencyStore(cfg.Redis.IdempotencyTTL)
	}

	checkoutMetrics := metrics.NewCheckoutMetrics()
	notifier := notify.NewOutboxDispatcher(outboxRepo, logger.WithField("component", "notify"), checkoutMetrics)

	coordinator := checkout.NewCoordinator(inventory, carts, ledger,
		checkout.WithLogger(logger.WithField("component", "checkout")),
		checkout.WithMetrics(checkoutMetrics),
		checkout.WithNotifier(notifier),
		checkout.WithLowStockThreshold(cfg.Checkout.LowStockThreshold),
	)

	// Публикация событий outbox: только при настроенной Kafka.
	var kafkaProducer *kafka.Producer
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		producer, err := kafka.NewProducer(brokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		} else {
			kafkaProducer = producer
			logger.WithField("brokers", brokers).Info("kafka producer initialized")

			worker := outboxsvc.NewWorker(outboxRepo,
				kafka.NewOutboxPublisher(producer, cfg.Kafka.Topic),
				outboxsvc.WithLogger(logger.WithField("component", "outbox-worker")),
				outboxsvc.WithDLQPublisher(kafka.NewDLQPublisher(producer, cfg.Kafka.DLQTopic)),
				outboxsvc.WithPollInterval(cfg.Outbox.PollInterval),
				outboxsvc.WithBatchSize(cfg.Outbox.BatchSize),
				outboxsvc.WithMaxAttempts(cfg.Outbox.MaxAttempts),
			)
			go worker.Run(ctx)
		}
	}
	if kafkaProducer == nil {
		logger.Info("kafka not configured, outbox events stay queued")
	}

	// HTTP API.
	auth := httpapi.NewAuthenticator(cfg.Security.JWTSecret)
	httpLogger := logger.WithField("component", "http")
	router := httpapi.NewRouter(httpapi.RouterConfig{
		Carts:    httpapi.NewCartHandler(carts, inventory, coordinator, idempotency, httpLogger, cfg.HTTP.RequestTimeout),
		Products: httpapi.NewProductHandler(inventory, httpLogger, cfg.HTTP.RequestTimeout),
		Receipts: httpapi.NewReceiptHandler(ledger, httpLogger, cfg.HTTP.RequestTimeout),
		Auth:     auth,
		Logger:   httpLogger,
		Health:   healthHandler,
		Timeout:  cfg.HTTP.RequestTimeout,
	})

	metricsSrv := startMetricsServer(ctx, cfg.App.MetricsAddr, logger, healthHandler)

	srv := &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP сервер слушает %s", cfg.App.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("graceful shutdown failed")
		}
		shutdownHTTP(metricsSrv, logger)
		closeKafka(kafkaProducer, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		closeKafka(kafkaProducer, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
