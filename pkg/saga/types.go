// Package saga содержит общие типы команд и событий саги покупки автомобиля.
// Используется оркестратором (отправитель команд) и участниками
// (Customer, Vehicle, Payment — обработчики команд, издатели событий).
// Единый источник правды для схемы сообщений — исключает рассинхронизацию
// типов между сервисами.
package saga

import (
	"encoding/json"
	"time"
)

// PaymentType — способ оплаты покупки.
const (
	PaymentTypeCash   = "cash"
	PaymentTypeCredit = "credit"
)

// PaymentMethodPix — метод обработки платежа на шаге PAYMENT_PROCESSING.
const PaymentMethodPix = "pix"

// =============================================================================
// Команды саги (Оркестратор → Участники)
// =============================================================================

// CommandType — тип команды саги.
type CommandType string

const (
	CommandReserveCredit       CommandType = "RESERVE_CREDIT"
	CommandReleaseCredit       CommandType = "RELEASE_CREDIT"
	CommandReserveVehicle      CommandType = "RESERVE_VEHICLE"
	CommandReleaseVehicle      CommandType = "RELEASE_VEHICLE"
	CommandGeneratePaymentCode CommandType = "GENERATE_PAYMENT_CODE"
	CommandProcessPayment      CommandType = "PROCESS_PAYMENT"
	CommandRefundPayment       CommandType = "REFUND_PAYMENT"
)

// Command — команда, отправляемая оркестратором участнику через Kafka.
// Единая плоская структура: заполняются только поля, относящиеся
// к конкретному типу команды.
type Command struct {
	TransactionID string      `json:"transaction_id"`           // ID саги (ключ партиционирования)
	Type          CommandType `json:"type"`                     // Тип команды
	CustomerID    string      `json:"customer_id,omitempty"`    // Команды кредита и генерации кода
	VehicleID     string      `json:"vehicle_id,omitempty"`     // Команды автомобиля и генерации кода
	Amount        int64       `json:"amount,omitempty"`         // Сумма в центах
	PaymentType   string      `json:"payment_type,omitempty"`   // cash | credit
	PaymentCode   string      `json:"payment_code,omitempty"`   // ProcessPayment
	PaymentMethod string      `json:"payment_method,omitempty"` // ProcessPayment (pix)
	PaymentID     string      `json:"payment_id,omitempty"`     // RefundPayment
	Timestamp     time.Time   `json:"timestamp"`                // Время создания команды
}

// ToJSON сериализует команду в JSON.
func (c *Command) ToJSON() ([]byte, error) {
	return json.Marshal(c)
}

// CommandFromJSON десериализует команду из JSON.
func CommandFromJSON(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// =============================================================================
// События саги (Участники → Оркестратор)
// =============================================================================

// EventType — тип события, публикуемого участником.
type EventType string

const (
	EventCreditReserved          EventType = "CREDIT_RESERVED"
	EventCreditReservationFailed EventType = "CREDIT_RESERVATION_FAILED"
	EventCreditReleased          EventType = "CREDIT_RELEASED"

	EventVehicleReserved          EventType = "VEHICLE_RESERVED"
	EventVehicleReservationFailed EventType = "VEHICLE_RESERVATION_FAILED"
	EventVehicleReleased          EventType = "VEHICLE_RELEASED"

	EventPaymentCodeGenerated        EventType = "PAYMENT_CODE_GENERATED"
	EventPaymentCodeGenerationFailed EventType = "PAYMENT_CODE_GENERATION_FAILED"
	EventPaymentProcessed            EventType = "PAYMENT_PROCESSED"
	EventPaymentFailed               EventType = "PAYMENT_FAILED"
	EventPaymentRefunded             EventType = "PAYMENT_REFUNDED"
	EventPaymentRefundFailed         EventType = "PAYMENT_REFUND_FAILED"

	EventPurchaseCancelled          EventType = "PURCHASE_CANCELLED"
	EventPurchaseCancellationFailed EventType = "PURCHASE_CANCELLATION_FAILED"
)

// Event — событие участника саги.
// Плоская структура на все типы событий: заполняются только поля,
// относящиеся к конкретному типу.
type Event struct {
	TransactionID string    `json:"transaction_id"`
	Type          EventType `json:"type"`
	CustomerID    string    `json:"customer_id,omitempty"`
	VehicleID     string    `json:"vehicle_id,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	PaymentType   string    `json:"payment_type,omitempty"`

	// Поля событий автомобиля.
	VehiclePrice int64 `json:"vehicle_price,omitempty"` // VehicleReserved: актуальная цена

	// Поля платёжных событий.
	PaymentCode   string     `json:"payment_code,omitempty"`
	PaymentID     string     `json:"payment_id,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	Status        string     `json:"status,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"` // PaymentCodeGenerated

	// Поля кредитных событий (снимки после операции).
	RemainingBalance   *int64 `json:"remaining_balance,omitempty"`
	RemainingCredit    *int64 `json:"remaining_credit,omitempty"`
	NewBalance         *int64 `json:"new_balance,omitempty"`
	NewAvailableCredit *int64 `json:"new_available_credit,omitempty"`

	// Поля событий отмены.
	CancelledStep         string `json:"cancelled_step,omitempty"`
	CurrentStep           string `json:"current_step,omitempty"`
	CompensationCompleted bool   `json:"compensation_completed,omitempty"`

	// Reason - причина отказа для *Failed событий.
	Reason string `json:"reason,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ToJSON сериализует событие в JSON.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON десериализует событие из JSON.
func EventFromJSON(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// IsFailure возвращает true для событий-отказов.
func (e *Event) IsFailure() bool {
	switch e.Type {
	case EventCreditReservationFailed,
		EventVehicleReservationFailed,
		EventPaymentCodeGenerationFailed,
		EventPaymentFailed,
		EventPaymentRefundFailed,
		EventPurchaseCancellationFailed:
		return true
	}
	return false
}
