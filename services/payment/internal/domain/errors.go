package domain

import (
	"errors"
	"fmt"
)

// Ошибки доменного слоя Payment Service.
// Тексты уходят в поле reason событий PaymentFailed / PaymentRefundFailed
// и в ответы API — это часть контракта, поэтому они на английском.
var (
	ErrPaymentCodeNotFound    = errors.New("Payment code not found")
	ErrPaymentCodeExpired     = errors.New("Payment code expired")
	ErrPaymentCodeAlreadyUsed = errors.New("Payment code already used")
	ErrPaymentNotFound        = errors.New("Payment not found")
)

// Внутренние ошибки, не попадающие в события.
var (
	// ErrDuplicatePaymentCode — код для transaction_id уже существует
	// (уникальный индекс transaction_id или коллизия кода).
	ErrDuplicatePaymentCode = errors.New("платёжный код для транзакции уже существует")

	// ErrDuplicatePayment — платёж для transaction_id уже существует.
	ErrDuplicatePayment = errors.New("платёж для транзакции уже существует")
)

// RefundNotAllowedError — возврат невозможен для платежа в данном статусе.
// Текст — контракт события PaymentRefundFailed.
type RefundNotAllowedError struct {
	Status PaymentStatus
}

func (e *RefundNotAllowedError) Error() string {
	return fmt.Sprintf("Cannot refund payment with status: %s", e.Status)
}
