package domain

import (
	"errors"
	"strings"
	"time"

	"example.com/vehicle-sales/pkg/saga"
)

// Статусы клиента.
const (
	CustomerStatusActive   = "active"
	CustomerStatusInactive = "inactive"
)

// Операции кредитного ledger.
const (
	OperationReserve = "reserve"
	OperationRelease = "release"
)

// =============================================================================
// Customer — доменная сущность
// =============================================================================

// Customer — клиент с балансом и кредитным лимитом.
// Денежные поля в центах.
type Customer struct {
	ID             string    // UUID клиента
	Name           string    // Имя
	Email          string    // Email (уникальный)
	Phone          string    // Телефон
	Document       string    // Номер документа, 11 цифр (уникальный)
	AccountBalance int64     // Средства на счёте (cash)
	CreditLimit    int64     // Кредитный лимит
	UsedCredit     int64     // Использованный кредит
	Status         string    // active | inactive
	CreatedAt      time.Time // Дата создания
	UpdatedAt      time.Time // Дата обновления
}

// AvailableCredit возвращает доступный кредит: max(0, credit_limit - used_credit).
func (c *Customer) AvailableCredit() int64 {
	available := c.CreditLimit - c.UsedCredit
	if available < 0 {
		return 0
	}
	return available
}

// MaskedDocument возвращает документ с маскированными символами,
// кроме последних четырёх.
func (c *Customer) MaskedDocument() string {
	if len(c.Document) <= 4 {
		return c.Document
	}
	return strings.Repeat("*", len(c.Document)-4) + c.Document[len(c.Document)-4:]
}

// CanPurchase проверяет достаточность средств для покупки без мутации.
func (c *Customer) CanPurchase(amount int64, paymentType string) bool {
	switch paymentType {
	case saga.PaymentTypeCash:
		return c.AccountBalance >= amount
	case saga.PaymentTypeCredit:
		return c.AvailableCredit() >= amount
	}
	return false
}

// Reserve резервирует средства под покупку.
// cash — списывает с account_balance, credit — увеличивает used_credit.
// При нехватке средств или неизвестном способе оплаты возвращает
// доменную ошибку, баланс не меняется.
func (c *Customer) Reserve(amount int64, paymentType string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	switch paymentType {
	case saga.PaymentTypeCash:
		if amount > c.AccountBalance {
			return ErrInsufficientBalance
		}
		c.AccountBalance -= amount
	case saga.PaymentTypeCredit:
		if amount > c.AvailableCredit() {
			return ErrInsufficientCredit
		}
		c.UsedCredit += amount
	default:
		return &UnsupportedPaymentTypeError{PaymentType: paymentType}
	}

	return nil
}

// Release возвращает зарезервированные средства.
// cash — возвращает на account_balance, любой другой способ — уменьшает
// used_credit с полом в ноль (защита от двойного release).
// Release не отказывает: компенсация должна пройти всегда.
// Предусловие "был ли reserve" проверяет репозиторий по ledger —
// без reserve-строки Release вообще не вызывается.
func (c *Customer) Release(amount int64, paymentType string) {
	if amount <= 0 {
		return
	}

	if paymentType == saga.PaymentTypeCash {
		c.AccountBalance += amount
		return
	}

	c.UsedCredit -= amount
	if c.UsedCredit < 0 {
		c.UsedCredit = 0
	}
}

// Validate проверяет корректность полей клиента.
func (c *Customer) Validate() error {
	if len(c.Name) < 3 {
		return errors.New("имя должно содержать минимум 3 символа")
	}
	if c.Email == "" {
		return errors.New("email обязателен")
	}
	if len(c.Document) != 11 {
		return errors.New("документ должен содержать 11 символов")
	}
	if c.AccountBalance < 0 {
		return errors.New("баланс не может быть отрицательным")
	}
	if c.CreditLimit < 0 {
		return errors.New("кредитный лимит не может быть отрицательным")
	}
	if c.UsedCredit < 0 || c.UsedCredit > c.CreditLimit {
		return errors.New("использованный кредит вне допустимого диапазона")
	}
	return nil
}

// =============================================================================
// CreditOperation — применённая операция кредитного ledger
// =============================================================================

// CreditOperation — запись о применённой операции reserve/release.
// Уникальный ключ (transaction_id, operation) делает обе операции
// идемпотентными: повторная доставка команды находит прежний результат
// и переиздаёт то же событие вместо повторной мутации баланса.
type CreditOperation struct {
	ID                   string    // UUID записи
	TransactionID        string    // ID саги
	CustomerID           string    // ID клиента
	Operation            string    // reserve | release
	Amount               int64     // Сумма операции в центах
	PaymentType          string    // cash | credit
	BalanceAfter         int64     // account_balance после операции
	AvailableCreditAfter int64     // available_credit после операции
	CreatedAt            time.Time // Время применения
}
