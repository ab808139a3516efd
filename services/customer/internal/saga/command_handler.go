// Package saga реализует обработку команд саги из Kafka.
// Customer Service слушает commands.credit.*, применяет операции
// через CustomerService и сохраняет ответное событие в outbox.
// OutboxWorker затем отправляет событие в events.credit.* с гарантией at-least-once.
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
	"example.com/vehicle-sales/services/customer/internal/service"
)

// KafkaConsumer — интерфейс для чтения сообщений из Kafka.
// Позволяет замокать kafka.Consumer в unit-тестах.
type KafkaConsumer interface {
	ConsumeWithRetry(ctx context.Context, handler kafka.MessageHandler, maxRetries int) error
	Close() error
}

// CommandHandler обрабатывает команды саги из commands.credit.*.
// Ответные события пишутся в outbox, а не напрямую в Kafka:
// мутация баланса и эмиссия события переживают падение процесса вместе.
type CommandHandler struct {
	consumer        KafkaConsumer
	outboxRepo      outbox.OutboxRepository
	customerService service.CustomerService
}

// NewCommandHandler создаёт новый обработчик команд кредита.
func NewCommandHandler(
	consumer KafkaConsumer,
	outboxRepo outbox.OutboxRepository,
	customerService service.CustomerService,
) *CommandHandler {
	return &CommandHandler{
		consumer:        consumer,
		outboxRepo:      outboxRepo,
		customerService: customerService,
	}
}

// Run запускает обработку команд из Kafka. Блокирует до отмены контекста.
func (h *CommandHandler) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().
		Str("group", kafka.GroupCustomerCommands).
		Msg("Запуск обработчика команд кредита")

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
		Str("customer_id", cmd.CustomerID).
		Int64("amount", cmd.Amount).
		Msg("Получена команда саги")

	var event *sagatypes.Event

	switch cmd.Type {
	case sagatypes.CommandReserveCredit:
		event, err = h.handleReserveCredit(ctx, cmd)
	case sagatypes.CommandReleaseCredit:
		event, err = h.handleReleaseCredit(ctx, cmd)
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

// handleReserveCredit обрабатывает команду резервирования средств.
func (h *CommandHandler) handleReserveCredit(ctx context.Context, cmd *sagatypes.Command) (*sagatypes.Event, error) {
	result, err := h.customerService.ReserveCredit(ctx, service.CreditRequest{
		TransactionID: cmd.TransactionID,
		CustomerID:    cmd.CustomerID,
		Amount:        cmd.Amount,
		PaymentType:   cmd.PaymentType,
	})
	if err != nil {
		return nil, err
	}

	event := &sagatypes.Event{
		TransactionID: cmd.TransactionID,
		CustomerID:    cmd.CustomerID,
		Amount:        cmd.Amount,
		PaymentType:   cmd.PaymentType,
		Timestamp:     time.Now(),
	}

	if result.Success {
		event.Type = sagatypes.EventCreditReserved
		event.RemainingBalance = result.RemainingBalance
		event.RemainingCredit = result.RemainingCredit
	} else {
		event.Type = sagatypes.EventCreditReservationFailed
		event.Reason = result.Reason
	}

	return event, nil
}

// handleReleaseCredit обрабатывает команду возврата средств.
// CreditReleased публикуется всегда, даже для исчезнувшего клиента:
// оркестратор трактует release как best-effort продвижение компенсации.
func (h *CommandHandler) handleReleaseCredit(ctx context.Context, cmd *sagatypes.Command) (*sagatypes.Event, error) {
	result, err := h.customerService.ReleaseCredit(ctx, service.CreditRequest{
		TransactionID: cmd.TransactionID,
		CustomerID:    cmd.CustomerID,
		Amount:        cmd.Amount,
		PaymentType:   cmd.PaymentType,
	})
	if err != nil {
		return nil, err
	}

	event := &sagatypes.Event{
		TransactionID: cmd.TransactionID,
		Type:          sagatypes.EventCreditReleased,
		CustomerID:    cmd.CustomerID,
		Amount:        cmd.Amount,
		PaymentType:   cmd.PaymentType,
		Timestamp:     time.Now(),
	}

	if result.CustomerFound {
		event.NewBalance = result.NewBalance
		event.NewAvailableCredit = result.NewAvailableCredit
	}

	return event, nil
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
		AggregateType: "customer",
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
