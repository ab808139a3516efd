package saga

import (
	"context"
	"fmt"

	"example.com/vehicle-sales/pkg/kafka"
	"example.com/vehicle-sales/pkg/logger"
)

// =============================================================================
// EventConsumer — обработчик событий участников саги
// =============================================================================

// KafkaConsumer — интерфейс для чтения сообщений из Kafka.
// Позволяет замокать kafka.Consumer в unit-тестах (Dependency Inversion).
type KafkaConsumer interface {
	ConsumeWithRetry(ctx context.Context, handler kafka.MessageHandler, maxRetries int) error
	Close() error
}

// EventConsumer слушает все событийные топики участников (events.credit.*,
// events.vehicle.*, events.payment.*) и делегирует обработку в Orchestrator.
type EventConsumer struct {
	consumer     KafkaConsumer // Интерфейс для тестируемости
	orchestrator Orchestrator
}

// NewEventConsumer создаёт новый consumer событий саги.
// consumer — интерфейс KafkaConsumer (обычно *kafka.Consumer, но можно замокать).
func NewEventConsumer(consumer KafkaConsumer, orchestrator Orchestrator) *EventConsumer {
	return &EventConsumer{
		consumer:     consumer,
		orchestrator: orchestrator,
	}
}

// Run запускает чтение событий из Kafka. Блокирует до отмены контекста.
//
// Пример использования:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	go eventConsumer.Run(ctx)
//	// ...
//	cancel() // Остановка
func (c *EventConsumer) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().
		Str("group", kafka.GroupOrchestratorEvents).
		Msg("Запуск Event Consumer оркестратора")

	// Запускаем consumer с retry
	return c.consumer.ConsumeWithRetry(ctx, c.handleMessage, 3)
}

// handleMessage обрабатывает одно сообщение из Kafka.
func (c *EventConsumer) handleMessage(ctx context.Context, msg *kafka.Message) error {
	log := logger.FromContext(ctx)

	log.Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Msg("Получено событие участника саги")

	// Десериализуем событие
	ev, err := EventFromJSON(msg.Value)
	if err != nil {
		// Битый payload — retry не поможет, подтверждаем и логируем.
		log.Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("payload", string(msg.Value)).
			Msg("Ошибка десериализации события, сообщение пропущено")
		return nil
	}

	// Делегируем обработку в Orchestrator
	if err := c.orchestrator.HandleEvent(ctx, ev); err != nil {
		log.Error().
			Err(err).
			Str("transaction_id", ev.TransactionID).
			Str("event_type", string(ev.Type)).
			Msg("Ошибка обработки события")
		return fmt.Errorf("ошибка обработки события: %w", err)
	}

	return nil
}

// Close закрывает consumer.
func (c *EventConsumer) Close() error {
	return c.consumer.Close()
}
