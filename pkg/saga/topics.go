package saga

import (
	"example.com/vehicle-sales/pkg/kafka"
)

// commandTopics - соответствие тип команды → топик.
var commandTopics = map[CommandType]string{
	CommandReserveCredit:       kafka.TopicCreditReserveCommand,
	CommandReleaseCredit:       kafka.TopicCreditReleaseCommand,
	CommandReserveVehicle:      kafka.TopicVehicleReserveCommand,
	CommandReleaseVehicle:      kafka.TopicVehicleReleaseCommand,
	CommandGeneratePaymentCode: kafka.TopicPaymentGenerateCodeCommand,
	CommandProcessPayment:      kafka.TopicPaymentProcessCommand,
	CommandRefundPayment:       kafka.TopicPaymentRefundCommand,
}

// eventTopics - соответствие тип события → топик.
var eventTopics = map[EventType]string{
	EventCreditReserved:          kafka.TopicCreditReserved,
	EventCreditReservationFailed: kafka.TopicCreditReservationFailed,
	EventCreditReleased:          kafka.TopicCreditReleased,

	EventVehicleReserved:          kafka.TopicVehicleReserved,
	EventVehicleReservationFailed: kafka.TopicVehicleReservationFailed,
	EventVehicleReleased:          kafka.TopicVehicleReleased,

	EventPaymentCodeGenerated:        kafka.TopicPaymentCodeGenerated,
	EventPaymentCodeGenerationFailed: kafka.TopicPaymentCodeGenerationFailed,
	EventPaymentProcessed:            kafka.TopicPaymentProcessed,
	EventPaymentFailed:               kafka.TopicPaymentFailed,
	EventPaymentRefunded:             kafka.TopicPaymentRefunded,
	EventPaymentRefundFailed:         kafka.TopicPaymentRefundFailed,

	EventPurchaseCancelled:          kafka.TopicPurchaseCancelled,
	EventPurchaseCancellationFailed: kafka.TopicPurchaseCancellationFailed,
}

// CommandTopic возвращает топик для типа команды.
// Пустая строка означает неизвестный тип.
func CommandTopic(t CommandType) string {
	return commandTopics[t]
}

// EventTopic возвращает топик для типа события.
// Пустая строка означает неизвестный тип.
func EventTopic(t EventType) string {
	return eventTopics[t]
}
