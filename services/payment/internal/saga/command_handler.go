// Package saga реализует обработку команд саги из Kafka.
// Payment Service слушает commands.payment.*, применяет операции
// через PaymentService и сохраняет ответное событие в outbox.
// OutboxWorker затем отправляет событие в events.payment.* с гарантией at-least-once.
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
	"example.com/vehicle-sales/services/payment/internal/service"
)

// KafkaConsumer — интерфейс для чтения сообщений из Kafka.
// Позволяет замокать kafka.Consumer в unit-тестах.
type KafkaConsumer interface {
	ConsumeWithRetry(ctx context.Context, handler kafka.MessageHandler, maxRetries int) error
	Close() error
}

// CommandHandler обрабатывает команды саги из commands.payment.*.
// Ответные события пишутся в outbox, а не напрямую в Kafka:
// мутация платежа и эмиссия события переживают падение процесса вместе.
type CommandHandler struct {
	consumer       KafkaConsumer
	outboxRepo     outbox.OutboxRepository
	paymentService service.PaymentService
}

// NewCommandHandler создаёт новый обработчик платёжных команд.
func NewCommandHandler(
	consumer KafkaConsumer,
	outboxRepo outbox.OutboxRepository,
	paymentService service.PaymentService,
) *CommandHandler {
	return &CommandHandler{
		consumer:       consumer,
		outboxRepo:     outboxRepo,
		paymentService: paymentService,
	}
}

// Run запускает обработку команд из Kafka. Блокирует до отмены контекста.
func (h *CommandHandler) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().
		Str("group", kafka.GroupPaymentCommands).
		Msg("Запуск обработчика платёжных команд")

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
	case sagatypes.CommandGeneratePaymentCode:
		event, err = h.handleGenerateCode(ctx, cmd)
	case sagatypes.CommandProcessPayment:
		event, err = h.handleProcessPayment(ctx, cmd)
	case sagatypes.CommandRefundPayment:
		event, err = h.handleRefundPayment(ctx, cmd)
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

// handleGenerateCode обрабатывает команду генерации платёжного кода.
func (h *CommandHandler) handleGenerateCode(ctx context.Context, cmd *sagatypes.Command) (*sagatypes.Event, error) {
	result, err := h.paymentService.GeneratePaymentCode(ctx, service.GenerateCodeRequest{
		TransactionID: cmd.TransactionID,
		CustomerID:    cmd.CustomerID,
		VehicleID:     cmd.VehicleID,
		Amount:        cmd.Amount,
		PaymentType:   cmd.PaymentType,
	})
	if err != nil {
		return nil, err
	}

	event := &sagatypes.Event{
		TransactionID: cmd.TransactionID,
		CustomerID:    cmd.CustomerID,
		VehicleID:     cmd.VehicleID,
		Amount:        cmd.Amount,
		PaymentType:   cmd.PaymentType,
		Timestamp:     time.Now(),
	}

	if result.Success {
		expiresAt := result.Code.ExpiresAt
		event.Type = sagatypes.EventPaymentCodeGenerated
		event.PaymentCode = result.Code.Code
		event.ExpiresAt = &expiresAt
	} else {
		event.Type = sagatypes.EventPaymentCodeGenerationFailed
		event.Reason = result.Reason
	}

	return event, nil
}

// handleProcessPayment обрабатывает команду обработки платежа.
func (h *CommandHandler) handleProcessPayment(ctx context.Context, cmd *sagatypes.Command) (*sagatypes.Event, error) {
	result, err := h.paymentService.ProcessPayment(ctx, service.ProcessPaymentRequest{
		TransactionID: cmd.TransactionID,
		PaymentCode:   cmd.PaymentCode,
		PaymentMethod: cmd.PaymentMethod,
	})
	if err != nil {
		return nil, err
	}

	event := &sagatypes.Event{
		TransactionID: cmd.TransactionID,
		PaymentCode:   cmd.PaymentCode,
		Timestamp:     time.Now(),
	}

	if result.Success {
		event.Type = sagatypes.EventPaymentProcessed
		event.PaymentID = result.Payment.ID
		event.CustomerID = result.Payment.CustomerID
		event.VehicleID = result.Payment.VehicleID
		event.Amount = result.Payment.Amount
		event.PaymentType = result.Payment.PaymentType
		event.PaymentMethod = result.Payment.PaymentMethod
		// Повторная доставка команды после refund обязана переиздать
		// событие с фактическим статусом платежа, а не "completed".
		event.Status = string(result.Payment.Status)
	} else {
		event.Type = sagatypes.EventPaymentFailed
		event.Reason = result.Reason
		// Поля кода известны, если код был найден.
		if result.Code != nil {
			event.CustomerID = result.Code.CustomerID
			event.VehicleID = result.Code.VehicleID
			event.Amount = result.Code.Amount
			event.PaymentType = result.Code.PaymentType
		}
	}

	return event, nil
}

// handleRefundPayment обрабатывает команду возврата платежа.
func (h *CommandHandler) handleRefundPayment(ctx context.Context, cmd *sagatypes.Command) (*sagatypes.Event, error) {
	result, err := h.paymentService.RefundPayment(ctx, service.RefundRequest{
		TransactionID: cmd.TransactionID,
		PaymentID:     cmd.PaymentID,
	})
	if err != nil {
		return nil, err
	}

	event := &sagatypes.Event{
		TransactionID: cmd.TransactionID,
		Timestamp:     time.Now(),
	}

	if result.Success {
		event.Type = sagatypes.EventPaymentRefunded
		event.PaymentID = result.Payment.ID
		event.CustomerID = result.Payment.CustomerID
		event.VehicleID = result.Payment.VehicleID
		event.Amount = result.Payment.Amount
		event.PaymentType = result.Payment.PaymentType
		event.Status = "refunded"
	} else {
		event.Type = sagatypes.EventPaymentRefundFailed
		event.PaymentID = cmd.PaymentID
		event.Reason = result.Reason
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
		AggregateType: "payment",
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
