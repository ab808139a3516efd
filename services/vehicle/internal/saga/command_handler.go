// Package saga реализует обработку команд саги из Kafka.
// Vehicle Service слушает commands.vehicle.*, применяет операции
// через VehicleService и сохраняет ответное событие в outbox.
// OutboxWorker затем отправляет событие в events.vehicle.* с гарантией at-least-once.
package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/vehicle-sales/pkg/kafka"
	"example.com/vehicle-sales/pkg/logger"
	"example.com/vehicle-sales/pkg/outbox"
	sagatypes "example.com/vehicle-sales/pkg/saga"
	"example.com/vehicle-sales/services/vehicle/internal/service"
)

// KafkaConsumer — интерфейс для чтения сообщений из Kafka.
// Позволяет замокать kafka.Consumer в unit-тестах.
type KafkaConsumer interface {
	ConsumeWithRetry(ctx context.Context, handler kafka.MessageHandler, maxRetries int) error
	Close() error
}

// CommandHandler обрабатывает команды саги из commands.vehicle.*.
// Ответные события пишутся в outbox, а не напрямую в Kafka:
// мутация резерва и эмиссия события переживают падение процесса вместе.
type CommandHandler struct {
	consumer       KafkaConsumer
	outboxRepo     outbox.OutboxRepository
	vehicleService service.VehicleService
}

// NewCommandHandler создаёт новый обработчик команд резервирования.
func NewCommandHandler(
	consumer KafkaConsumer,
	outboxRepo outbox.OutboxRepository,
	vehicleService service.VehicleService,
) *CommandHandler {
	return &CommandHandler{
		consumer:       consumer,
		outboxRepo:     outboxRepo,
		vehicleService: vehicleService,
	}
}

// Run запускает обработку команд из Kafka. Блокирует до отмены контекста.
func (h *CommandHandler) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().
		Str("group", kafka.GroupVehicleCommands).
		Msg("Запуск обработчика команд резервирования")

	return h.consumer.ConsumeWithRetry(ctx, h.handleMessage, 3)
}

// handleMessage обрабатывает одно сообщение из Kafka.
func (h *CommandHandler) handleMessage(ctx context.Context, msg *kafka.Message) error {
	log := logger.FromContext(ctx)

	cmd, err := sagatypes.CommandFromJSON(msg.Value)
	if err != nil {
		// Битый payload — retry не поможет, подтверждаем и логируем.
		log.Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("payload", string(msg.Value)).
			Msg("Ошибка десериализации команды, сообщение пропущено")
		return nil
	}

	log.Info().
		Str("transaction_id", cmd.TransactionID).
		Str("type", string(cmd.Type)).
		Str("vehicle_id", cmd.VehicleID).
		Msg("Получена команда саги")

	var event *sagatypes.Event

	switch cmd.Type {
	case sagatypes.CommandReserveVehicle:
		event, err = h.handleReserveVehicle(ctx, cmd)
	case sagatypes.CommandReleaseVehicle:
		event, err = h.handleReleaseVehicle(ctx, cmd)
	default:
		// Чужая команда в нашем топике — подтверждаем и пропускаем.
		log.Warn().
			Str("type", string(cmd.Type)).
			Str("topic", msg.Topic).
			Msg("Неизвестный тип команды")
		return nil
	}

	if err != nil {
		log.Error().Err(err).Str("transaction_id", cmd.TransactionID).Msg("Ошибка обработки команды")
		return err // Инфраструктурная ошибка — retry
	}

	if err := h.saveEventToOutbox(ctx, event); err != nil {
		log.Error().Err(err).Str("transaction_id", cmd.TransactionID).Msg("Ошибка сохранения события в outbox")
		return err
	}

	return nil
}

// handleReserveVehicle обрабатывает команду резервирования автомобиля.
func (h *CommandHandler) handleReserveVehicle(ctx context.Context, cmd *sagatypes.Command) (*sagatypes.Event, error) {
	result, err := h.vehicleService.ReserveVehicle(ctx, service.VehicleSagaRequest{
		TransactionID: cmd.TransactionID,
		VehicleID:     cmd.VehicleID,
	})
	if err != nil {
		return nil, err
	}

	event := &sagatypes.Event{
		TransactionID: cmd.TransactionID,
		CustomerID:    cmd.CustomerID,
		VehicleID:     cmd.VehicleID,
		Timestamp:     time.Now(),
	}

	if result.Success {
		event.Type = sagatypes.EventVehicleReserved
		// Информационно: цена на момент резервирования. Сумма саги
		// остаётся ценой, зафиксированной при старте покупки.
		event.VehiclePrice = result.VehiclePrice
	} else {
		event.Type = sagatypes.EventVehicleReservationFailed
		event.Reason = result.Reason
	}

	return event, nil
}

// handleReleaseVehicle обрабатывает команду снятия резерва.
// VehicleReleased публикуется всегда, даже для исчезнувшего автомобиля:
// оркестратор трактует release как best-effort продвижение компенсации.
func (h *CommandHandler) handleReleaseVehicle(ctx context.Context, cmd *sagatypes.Command) (*sagatypes.Event, error) {
	if _, err := h.vehicleService.ReleaseVehicle(ctx, service.VehicleSagaRequest{
		TransactionID: cmd.TransactionID,
		VehicleID:     cmd.VehicleID,
	}); err != nil {
		return nil, err
	}

	return &sagatypes.Event{
		TransactionID: cmd.TransactionID,
		Type:          sagatypes.EventVehicleReleased,
		CustomerID:    cmd.CustomerID,
		VehicleID:     cmd.VehicleID,
		Timestamp:     time.Now(),
	}, nil
}

// saveEventToOutbox сохраняет событие в таблицу outbox.
func (h *CommandHandler) saveEventToOutbox(ctx context.Context, event *sagatypes.Event) error {
	payload, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}

	topic := sagatypes.EventTopic(event.Type)
	if topic == "" {
		return fmt.Errorf("неизвестный топик для события %s", event.Type)
	}

	record := &outbox.Outbox{
		ID:            uuid.New().String(),
		AggregateType: "vehicle",
		AggregateID:   event.TransactionID,
		EventType:     "saga.event." + string(event.Type),
		Topic:         topic,
		MessageKey:    event.TransactionID, // Партиционирование по transaction_id
		Payload:       payload,
		Headers: map[string]string{
			kafka.HeaderTransactionID: event.TransactionID,
			kafka.HeaderTraceID:       kafka.TraceIDFromContext(ctx),
			kafka.HeaderCorrelationID: kafka.CorrelationIDFromContext(ctx),
		},
		CreatedAt: time.Now(),
	}

	return h.outboxRepo.Create(ctx, record)
}

// Close закрывает обработчик.
func (h *CommandHandler) Close() error {
	return h.consumer.Close()
}
