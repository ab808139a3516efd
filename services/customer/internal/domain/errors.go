// Package domain содержит бизнес-сущности Customer Service.
package domain

import (
	"errors"
	"fmt"
)

// Доменные ошибки Customer Service.
// Тексты reserve/release ошибок уходят участникам саги как reason
// в событиях CreditReservationFailed — формулировки фиксированы контрактом.
var (
	// ErrCustomerNotFound — клиент не найден.
	ErrCustomerNotFound = errors.New("Customer not found")

	// ErrInsufficientBalance — недостаточно средств на счёте для оплаты наличными.
	ErrInsufficientBalance = errors.New("Insufficient account balance for cash payment")

	// ErrInsufficientCredit — недостаточно кредитного лимита для оплаты в кредит.
	ErrInsufficientCredit = errors.New("Insufficient credit limit for credit payment")

	// ErrDuplicateCustomer — клиент с таким email или документом уже существует.
	ErrDuplicateCustomer = errors.New("Customer with this document or email already exists")

	// ErrDuplicateOperation — конкурентная доставка успела применить операцию первой.
	// Вызывающий код повторяет попытку и находит результат в ledger.
	ErrDuplicateOperation = errors.New("операция по транзакции уже применена")

	// ErrInvalidAmount — сумма операции должна быть больше нуля.
	ErrInvalidAmount = errors.New("сумма операции должна быть больше нуля")
)

// UnsupportedPaymentTypeError — неизвестный способ оплаты в команде резервирования.
type UnsupportedPaymentTypeError struct {
	PaymentType string
}

func (e *UnsupportedPaymentTypeError) Error() string {
	return fmt.Sprintf("Unsupported payment type: %s", e.PaymentType)
}
