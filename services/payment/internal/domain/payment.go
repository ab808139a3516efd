// Package domain содержит бизнес-сущности Payment Service.
package domain

import (
	"fmt"
	"math/rand"
	"time"
)

// CodeTTL — срок жизни платёжного кода.
const CodeTTL = 30 * time.Minute

// =============================================================================
// PaymentCode — платёжный код
// =============================================================================

// CodeStatus — статус платёжного кода.
type CodeStatus string

const (
	// CodeStatusPending — код сгенерирован, ожидает оплаты.
	CodeStatusPending CodeStatus = "pending"

	// CodeStatusUsed — код использован (платёж прошёл). Ровно один раз.
	CodeStatusUsed CodeStatus = "used"

	// CodeStatusExpired — срок действия кода истёк.
	CodeStatusExpired CodeStatus = "expired"
)

// PaymentCode — платёжный код, выданный саге для оплаты покупки.
// Привязан к transaction_id; жизненный цикл: pending → used (ровно один раз)
// либо pending → expired после expires_at.
type PaymentCode struct {
	Code          string     // Опаковая строка PAY<6 цифр><unix seconds>
	TransactionID string     // ID саги (уникальный)
	CustomerID    string     // ID клиента
	VehicleID     string     // ID автомобиля
	Amount        int64      // Сумма в центах
	PaymentType   string     // cash | credit
	Status        CodeStatus // pending | used | expired
	ExpiresAt     time.Time  // Момент истечения
	CreatedAt     time.Time  // Дата создания
	UpdatedAt     time.Time  // Дата обновления
}

// NewPaymentCode генерирует новый платёжный код со сроком действия 30 минут.
func NewPaymentCode(transactionID, customerID, vehicleID string, amount int64, paymentType string) *PaymentCode {
	now := time.Now()
	return &PaymentCode{
		Code:          fmt.Sprintf("PAY%06d%d", rand.Intn(1000000), now.Unix()),
		TransactionID: transactionID,
		CustomerID:    customerID,
		VehicleID:     vehicleID,
		Amount:        amount,
		PaymentType:   paymentType,
		Status:        CodeStatusPending,
		ExpiresAt:     now.Add(CodeTTL),
	}
}

// IsExpired сообщает, истёк ли код к моменту now.
// Граница включительна: now == expires_at считается истёкшим.
func (c *PaymentCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Use проверяет пригодность кода и помечает его использованным.
// Возвращает доменную ошибку с контрактным текстом причины отказа.
func (c *PaymentCode) Use(now time.Time) error {
	switch c.Status {
	case CodeStatusUsed:
		return ErrPaymentCodeAlreadyUsed
	case CodeStatusExpired:
		return ErrPaymentCodeExpired
	}

	if c.IsExpired(now) {
		return ErrPaymentCodeExpired
	}

	c.Status = CodeStatusUsed
	return nil
}

// =============================================================================
// Payment — платёж
// =============================================================================

// PaymentStatus — статус платежа.
type PaymentStatus string

const (
	// PaymentStatusCompleted — платёж успешно завершён.
	PaymentStatusCompleted PaymentStatus = "completed"

	// PaymentStatusFailed — платёж не прошёл.
	PaymentStatusFailed PaymentStatus = "failed"

	// PaymentStatusRefunded — платёж возвращён (компенсация саги).
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Payment — запись о платеже саги.
type Payment struct {
	ID            string        // UUID платежа
	TransactionID string        // ID саги (уникальный)
	PaymentCode   string        // Использованный код
	CustomerID    string        // ID клиента
	VehicleID     string        // ID автомобиля
	Amount        int64         // Сумма в центах
	PaymentType   string        // cash | credit
	PaymentMethod string        // pix
	Status        PaymentStatus // completed | failed | refunded
	ProcessedAt   time.Time     // Момент обработки
	CreatedAt     time.Time     // Дата создания
	UpdatedAt     time.Time     // Дата обновления
}

// Refundable сообщает, допускает ли платёж возврат.
// Возврату подлежит только завершённый платёж.
func (p *Payment) Refundable() bool {
	return p.Status == PaymentStatusCompleted
}

// Refund помечает платёж возвращённым. Уже возвращённый — no-op
// (повторная доставка команды переиздаёт PaymentRefunded).
func (p *Payment) Refund() error {
	if p.Status == PaymentStatusRefunded {
		return nil
	}
	if !p.Refundable() {
		return &RefundNotAllowedError{Status: p.Status}
	}

	p.Status = PaymentStatusRefunded
	return nil
}
