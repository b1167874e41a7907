package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teambind/payment-server/common/events"
	"github.com/teambind/payment-server/common/idempotency"
	"github.com/teambind/payment-server/common/logger"
	"github.com/teambind/payment-server/common/messaging"
	"github.com/teambind/payment-server/services/payment/internal/config"
	"github.com/teambind/payment-server/services/payment/internal/gateway"
	"github.com/teambind/payment-server/services/payment/internal/handler"
	"github.com/teambind/payment-server/services/payment/internal/metrics"
	"github.com/teambind/payment-server/services/payment/internal/repository"
	"github.com/teambind/payment-server/services/payment/internal/service"
	"github.com/teambind/payment-server/services/payment/internal/telemetry"
	"github.com/teambind/payment-server/services/payment/internal/worker"
)

const serviceVersion = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "payment-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Config 로드
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	events.Location = cfg.Location

	// Logger 초기화
	log, err := logger.NewLogger(cfg.ServiceName, cfg.Development, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.TossSecretKey == "" {
		log.Warn("TOSS_SECRET_KEY is empty, gateway calls will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing 초기화
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, serviceVersion, cfg.OTLPEndpoint, log)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Error("failed to shutdown tracer", zap.Error(err))
		}
	}()

	// PostgreSQL 연결
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnLifetime)

	if err := repository.CreateTables(ctx, db); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	log.Info("connected to database")

	// Redis 연결 (실패 시 DB 유니크 제약만으로 중복 방지)
	var idemStore idempotency.Store = idempotency.NoopStore{}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, idempotency fast path disabled",
			zap.Error(err),
			zap.String("addr", cfg.RedisAddr))
	} else {
		idemStore = idempotency.NewRedisStore(redisClient, cfg.ServiceName)
		log.Info("connected to redis")
	}

	// Kafka Producer 초기화
	publisher, err := messaging.NewKafkaPublisher(cfg.KafkaBrokers, log)
	if err != nil {
		return fmt.Errorf("failed to create kafka publisher: %w", err)
	}
	defer publisher.Close()

	// Kafka Consumer 초기화
	consumer, err := messaging.NewKafkaConsumer(cfg.KafkaBrokers, cfg.ConsumerGroupID, log)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	defer consumer.Close()
	log.Info("kafka initialized", zap.Strings("brokers", cfg.KafkaBrokers))

	// Metrics 초기화
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	// Repository 초기화
	txManager := repository.NewTxManager(db)
	paymentRepo := repository.NewPaymentRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	// Gateway 초기화
	tossClient := gateway.NewTossClient(cfg.TossBaseURL, cfg.TossSecretKey, cfg.GatewayTimeout, log)

	// Service 초기화
	eventPublisher := service.NewOutboxEventPublisher(outboxRepo)
	opts := []service.Option{service.WithGatewayTimeout(cfg.GatewayTimeout)}
	paymentService := service.NewPaymentService(txManager, paymentRepo, tossClient, eventPublisher, paymentMetrics, log, opts...)
	refundService := service.NewRefundService(txManager, paymentRepo, refundRepo, tossClient, eventPublisher, paymentMetrics, log, opts...)

	// Handler 초기화
	eventHandler := handler.NewEventHandler(paymentService, idemStore, paymentMetrics, log)
	httpHandler := handler.NewHTTPHandler(paymentService, refundService, log)
	router := handler.NewRouter(cfg.ServiceName, httpHandler, registry, paymentMetrics, log)

	outboxWorker := worker.NewOutboxWorker(outboxRepo, publisher, paymentMetrics, log, cfg.OutboxInterval, cfg.OutboxBatchSize)

	server := &http.Server{
		Addr:              ":" + cfg.ServicePort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server starting", zap.String("port", cfg.ServicePort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		topics := []string{events.TopicReservationConfirmed}
		log.Info("consuming kafka topics", zap.Strings("topics", topics))
		return consumer.Consume(runCtx, topics, eventHandler.HandleMessage)
	})

	g.Go(func() error {
		return outboxWorker.Start(runCtx)
	})

	g.Go(func() error {
		<-runCtx.Done()
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown http server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("server stopped")
	return nil
}
