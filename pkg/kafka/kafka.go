// Package kafka предоставляет обёртки над kafka-go для шины саги покупки.
// Включает Producer и Consumer с поддержкой headers, трассировки и graceful shutdown.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/vehicle-sales/pkg/logger"
)

// Командные топики (оркестратор -> участники).
const (
	TopicCreditReserveCommand       = "commands.credit.reserve"
	TopicCreditReleaseCommand       = "commands.credit.release"
	TopicVehicleReserveCommand      = "commands.vehicle.reserve"
	TopicVehicleReleaseCommand      = "commands.vehicle.release"
	TopicPaymentGenerateCodeCommand = "commands.payment.generate-code"
	TopicPaymentProcessCommand      = "commands.payment.process"
	TopicPaymentRefundCommand       = "commands.payment.refund"
)

// Событийные топики (участники -> оркестратор).
const (
	TopicCreditReserved          = "events.credit.reserved"
	TopicCreditReservationFailed = "events.credit.reservation-failed"
	TopicCreditReleased          = "events.credit.released"

	TopicVehicleReserved          = "events.vehicle.reserved"
	TopicVehicleReservationFailed = "events.vehicle.reservation-failed"
	TopicVehicleReleased          = "events.vehicle.released"

	TopicPaymentCodeGenerated        = "events.payment.code-generated"
	TopicPaymentCodeGenerationFailed = "events.payment.code-generation-failed"
	TopicPaymentProcessed            = "events.payment.processed"
	TopicPaymentFailed               = "events.payment.failed"
	TopicPaymentRefunded             = "events.payment.refunded"
	TopicPaymentRefundFailed         = "events.payment.refund-failed"

	TopicPurchaseCancelled          = "events.purchase.cancelled"
	TopicPurchaseCancellationFailed = "events.purchase.cancellation-failed"
)

// TopicDLQ - Dead Letter Queue для необработанных сообщений.
const TopicDLQ = "saga.dlq"

// Consumer groups участников и оркестратора.
// Одна группа на сервис — эквивалент durable subscription.
const (
	GroupOrchestratorEvents = "orchestrator-events-sub"
	GroupCustomerCommands   = "customer-commands-sub"
	GroupVehicleCommands    = "vehicle-commands-sub"
	GroupPaymentCommands    = "payment-commands-sub"
)

// CustomerCommandTopics - командные топики, которые слушает сервис клиентов.
func CustomerCommandTopics() []string {
	return []string{TopicCreditReserveCommand, TopicCreditReleaseCommand}
}

// VehicleCommandTopics - командные топики, которые слушает сервис автомобилей.
func VehicleCommandTopics() []string {
	return []string{TopicVehicleReserveCommand, TopicVehicleReleaseCommand}
}

// PaymentCommandTopics - командные топики, которые слушает платёжный сервис.
func PaymentCommandTopics() []string {
	return []string{
		TopicPaymentGenerateCodeCommand,
		TopicPaymentProcessCommand,
		TopicPaymentRefundCommand,
	}
}

// OrchestratorEventTopics - все событийные топики, которые слушает оркестратор.
func OrchestratorEventTopics() []string {
	return []string{
		TopicCreditReserved,
		TopicCreditReservationFailed,
		TopicCreditReleased,
		TopicVehicleReserved,
		TopicVehicleReservationFailed,
		TopicVehicleReleased,
		TopicPaymentCodeGenerated,
		TopicPaymentCodeGenerationFailed,
		TopicPaymentProcessed,
		TopicPaymentFailed,
		TopicPaymentRefunded,
		TopicPaymentRefundFailed,
		TopicPurchaseCancelled,
		TopicPurchaseCancellationFailed,
	}
}

// AllSagaTopics - полный список топиков саги (команды + события + DLQ).
// Используется при старте сервисов для EnsureTopics.
func AllSagaTopics() []string {
	topics := make([]string, 0, 24)
	topics = append(topics,
		TopicCreditReserveCommand,
		TopicCreditReleaseCommand,
		TopicVehicleReserveCommand,
		TopicVehicleReleaseCommand,
		TopicPaymentGenerateCodeCommand,
		TopicPaymentProcessCommand,
		TopicPaymentRefundCommand,
	)
	topics = append(topics, OrchestratorEventTopics()...)
	topics = append(topics, TopicDLQ)
	return topics
}

// Ключи для headers сообщений Kafka.
const (
	// HeaderTransactionID - идентификатор саги покупки.
	HeaderTransactionID = "transaction_id"

	// HeaderEventType - тип события/команды в payload.
	HeaderEventType = "event_type"

	// HeaderTraceID - идентификатор трассировки для distributed tracing.
	HeaderTraceID = "trace_id"

	// HeaderCorrelationID - идентификатор корреляции (равен transaction_id саги).
	HeaderCorrelationID = "correlation_id"

	// HeaderTimestamp - временная метка создания сообщения.
	HeaderTimestamp = "timestamp"
)

// Config содержит настройки для подключения к Kafka.
type Config struct {
	// Brokers - список адресов брокеров Kafka.
	Brokers []string

	// ConsumerGroup - имя consumer group для Consumer.
	ConsumerGroup string
}

// Message представляет сообщение Kafka с метаданными.
type Message struct {
	// Key - ключ сообщения для партиционирования.
	// В саге покупки ключ всегда transaction_id: события одной саги
	// попадают в одну партицию и обрабатываются по порядку.
	Key []byte

	// Value - тело сообщения (payload).
	Value []byte

	// Topic - топик сообщения.
	Topic string

	// Partition - номер партиции.
	Partition int

	// Offset - смещение сообщения в партиции.
	Offset int64

	// Headers - заголовки сообщения (trace_id, correlation_id и т.д.).
	Headers map[string]string

	// Time - временная метка сообщения.
	Time time.Time
}

// fromKafkaMessage конвертирует kafka.Message в Message.
func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

// toKafkaMessage конвертирует Message в kafka.Message.
func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// TraceIDFromContext извлекает trace_id из context.
// Делегирует в pkg/logger для единообразной работы с контекстом.
func TraceIDFromContext(ctx context.Context) string {
	return logger.TraceIDFromContext(ctx)
}

// CorrelationIDFromContext извлекает correlation_id из context.
// Делегирует в pkg/logger для единообразной работы с контекстом.
func CorrelationIDFromContext(ctx context.Context) string {
	return logger.CorrelationIDFromContext(ctx)
}

// ContextWithTraceID добавляет trace_id в context.
// Делегирует в pkg/logger для единообразной работы с контекстом.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return logger.WithTraceID(ctx, traceID)
}

// ContextWithCorrelationID добавляет correlation_id в context.
// Делегирует в pkg/logger для единообразной работы с контекстом.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return logger.WithCorrelationID(ctx, correlationID)
}
