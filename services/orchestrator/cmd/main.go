// Orchestrator Service — координатор саги покупки автомобиля.
// Принимает HTTP запросы на покупку и отмену, слушает события участников
// из Kafka и ведёт state machine каждой транзакции в MySQL.
// OutboxWorker отправляет команды участникам с гарантией at-least-once.
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

	"example.com/vehicle-sales/pkg/circuitbreaker"
	"example.com/vehicle-sales/pkg/config"
	dbpkg "example.com/vehicle-sales/pkg/db"
	"example.com/vehicle-sales/pkg/healthcheck"
	"example.com/vehicle-sales/pkg/kafka"
	"example.com/vehicle-sales/pkg/logger"
	"example.com/vehicle-sales/pkg/metrics"
	"example.com/vehicle-sales/pkg/outbox"
	"example.com/vehicle-sales/pkg/tracing"
	"example.com/vehicle-sales/services/orchestrator/internal/client"
	"example.com/vehicle-sales/services/orchestrator/internal/handler"
	"example.com/vehicle-sales/services/orchestrator/internal/saga"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем логгер
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	// Создаём логгер с контекстом сервиса
	log := logger.With().Str("service", "orchestrator").Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Int("port", cfg.HTTP.Port).
		Msg("Запуск Orchestrator Service")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "orchestrator",
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	// Подключаемся к MySQL
	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	// Проверка зависимостей для /health и /readyz
	readinessCheck := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, db) },
	)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			"orchestrator",
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

	// === HTTP клиенты участников ===

	vehicleClient := client.NewVehicleClient(client.VehicleClientConfig{
		BaseURL:        cfg.Services.VehicleURL,
		Timeout:        cfg.Services.HTTPTimeout,
		CircuitBreaker: circuitbreaker.New("vehicle-service"),
	})
	customerClient := client.NewCustomerClient(client.CustomerClientConfig{
		BaseURL:        cfg.Services.CustomerURL,
		Timeout:        cfg.Services.HTTPTimeout,
		CircuitBreaker: circuitbreaker.New("customer-service"),
	})

	// === Инициализация бизнес-логики ===

	sagaRepo := saga.NewSagaRepository(db)
	orchestrator := saga.NewOrchestrator(sagaRepo, vehicleClient, customerClient)

	// Outbox Repository для записи команд участникам (Outbox Pattern)
	outboxRepo := outbox.NewOutboxRepository(db, "saga")

	// Контекст для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Kafka: consumer событий + outbox worker ===

	var eventConsumer *saga.EventConsumer
	var kafkaProducer *kafka.Producer
	var workersWg sync.WaitGroup

	if len(cfg.Kafka.Brokers) > 0 {
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Инициализация Kafka")

		// Создаём топики саги если не существуют
		topicCtx, topicCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := kafka.EnsureTopics(topicCtx, cfg.Kafka.Brokers, kafka.AllSagaTopics(), kafka.DefaultTopicConfig()); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}
		topicCancel()

		// Producer для Outbox Worker (отправка команд участникам)
		kafkaProducer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}

		// Consumer всех событийных топиков участников
		kafkaConsumer, err := kafka.NewGroupConsumer(
			kafka.Config{Brokers: cfg.Kafka.Brokers},
			kafka.OrchestratorEventTopics(),
			kafka.GroupOrchestratorEvents,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer")
		}

		// DLQ Producer для ошибочных сообщений
		kafkaConsumer.SetDLQProducer(kafkaProducer)

		eventConsumer = saga.NewEventConsumer(kafkaConsumer, orchestrator)

		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("Паника в Event Consumer")
				}
			}()
			log.Info().Msg("Запуск Event Consumer")
			if err := eventConsumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Ошибка Event Consumer")
			}
		}()

		// Outbox Worker (читает outbox → отправляет команды в Kafka)
		outboxWorker := outbox.NewOutboxWorker(outboxRepo, kafkaProducer, outbox.DefaultWorkerConfig(), "orchestrator")
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

		// Timeout Worker (компенсация зависших саг)
		timeoutWorker := saga.NewSagaTimeoutWorker(sagaRepo, orchestrator, saga.DefaultTimeoutWorkerConfig())
		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("Паника в Timeout Worker")
				}
			}()
			timeoutWorker.Run(ctx)
		}()

		log.Info().Msg("Event Consumer + Outbox Worker + Timeout Worker запущены")
	} else {
		log.Warn().Msg("Kafka не настроена — обработка событий саги отключена")
	}

	// === HTTP сервер ===

	router := handler.NewRouter(handler.RouterConfig{
		Orchestrator: orchestrator,
		HealthCheck:  readinessCheck,
		Debug:        cfg.App.Debug,
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

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	// Останавливаем HTTP сервер: перестаём принимать новые запросы
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	// Отменяем контекст — останавливаем Kafka Consumer и воркеры
	cancel()

	// Ждём завершения всех фоновых воркеров перед закрытием ресурсов
	workersWg.Wait()

	// Закрываем Kafka компоненты
	if eventConsumer != nil {
		if err := eventConsumer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Event Consumer")
		}
	}
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}

	// Закрываем подключение к MySQL
	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	// Останавливаем Metrics Server (если был запущен) и ждём завершения горутины
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	// Останавливаем Tracing
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Orchestrator Service остановлен")
}
