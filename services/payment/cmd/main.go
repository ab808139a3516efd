// Payment Service — участник саги покупки автомобиля.
// Выдаёт платёжные коды, обрабатывает платежи и возвраты по командам
// commands.payment.* из Kafka, отвечает событиями events.payment.* через outbox.
// Redis используется для быстрой проверки идемпотентности платежей.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/vehicle-sales/pkg/config"
	dbpkg "example.com/vehicle-sales/pkg/db"
	"example.com/vehicle-sales/pkg/healthcheck"
	"example.com/vehicle-sales/pkg/kafka"
	"example.com/vehicle-sales/pkg/logger"
	"example.com/vehicle-sales/pkg/metrics"
	"example.com/vehicle-sales/pkg/outbox"
	"example.com/vehicle-sales/pkg/tracing"
	"example.com/vehicle-sales/services/payment/internal/handler"
	"example.com/vehicle-sales/services/payment/internal/repository"
	"example.com/vehicle-sales/services/payment/internal/saga"
	"example.com/vehicle-sales/services/payment/internal/service"
)

// codeExpiryInterval — период фоновой пометки истёкших платёжных кодов.
const codeExpiryInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", "payment").Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Int("port", cfg.HTTP.Port).
		Msg("Запуск Payment Service")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "payment",
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	redisClient := dbpkg.ConnectRedis(cfg.Redis)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// Redis некритичен для старта: идемпотентность подстрахована БД.
		log.Warn().Err(err).Msg("Redis недоступен при старте")
	} else {
		log.Info().Msg("Подключение к Redis установлено")
	}
	pingCancel()

	readinessCheck := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, db) },
		func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, redisClient) },
	)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			"payment",
			metrics.WithReadinessCheck(readinessCheck),
		)
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Инициализация бизнес-логики ===

	paymentRepo := repository.NewPaymentRepository(db)
	paymentService := service.NewPaymentService(paymentRepo, redisClient)

	// Outbox Repository для событий саги (Outbox Pattern)
	outboxRepo := outbox.NewOutboxRepository(db, "payment")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workersWg sync.WaitGroup

	// === Фоновая пометка истёкших платёжных кодов ===

	workersWg.Add(1)
	go func() {
		defer workersWg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Паника в Code Expiry Worker")
			}
		}()

		ticker := time.NewTicker(codeExpiryInterval)
		defer ticker.Stop()

		log.Info().Dur("interval", codeExpiryInterval).Msg("Запуск Code Expiry Worker")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := paymentService.ExpireCodes(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("Ошибка пометки истёкших кодов")
				}
			}
		}
	}()

	// === Kafka: обработчик команд + outbox worker ===

	var commandHandler *saga.CommandHandler
	var kafkaProducer *kafka.Producer

	if len(cfg.Kafka.Brokers) > 0 {
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Инициализация Kafka")

		topicCtx, topicCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := kafka.EnsureTopics(topicCtx, cfg.Kafka.Brokers, kafka.AllSagaTopics(), kafka.DefaultTopicConfig()); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}
		topicCancel()

		kafkaProducer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}

		kafkaConsumer, err := kafka.NewGroupConsumer(
			kafka.Config{Brokers: cfg.Kafka.Brokers},
			kafka.PaymentCommandTopics(),
			kafka.GroupPaymentCommands,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer")
		}

		kafkaConsumer.SetDLQProducer(kafkaProducer)

		commandHandler = saga.NewCommandHandler(kafkaConsumer, outboxRepo, paymentService)

		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("Паника в Command Handler")
				}
			}()
			log.Info().Msg("Запуск Command Handler")
			if err := commandHandler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Ошибка Command Handler")
			}
		}()

		outboxWorker := outbox.NewOutboxWorker(outboxRepo, kafkaProducer, outbox.DefaultWorkerConfig(), "payment")
		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("Паника в Outbox Worker")
				}
			}()
			outboxWorker.Run(ctx)
		}()

		log.Info().Msg("Command Handler + Outbox Worker запущены")
	} else {
		log.Warn().Msg("Kafka не настроена — обработка команд саги отключена")
	}

	// === HTTP сервер ===

	router := handler.NewRouter(handler.RouterConfig{
		PaymentService: paymentService,
		HealthCheck:    readinessCheck,
		Debug:          cfg.App.Debug,
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: router.Engine(),
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP сервер запущен")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	cancel()
	workersWg.Wait()

	if commandHandler != nil {
		if err := commandHandler.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Command Handler")
		}
	}
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}

	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Redis")
	}

	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Payment Service остановлен")
}
