// Package repository содержит реализацию доступа к данным для Payment Service.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/vehicle-sales/services/payment/internal/domain"
)

// PaymentRepository определяет интерфейс для работы с платёжными кодами
// и платежами в БД.
type PaymentRepository interface {
	// CreateCode сохраняет новый платёжный код.
	// ErrDuplicatePaymentCode — код для transaction_id уже существует
	// или коллизия самого кода.
	CreateCode(ctx context.Context, code *domain.PaymentCode) error

	// GetCodeByTransactionID возвращает код по ID саги.
	GetCodeByTransactionID(ctx context.Context, transactionID string) (*domain.PaymentCode, error)

	// GetCodeByCode возвращает код по его строковому значению.
	GetCodeByCode(ctx context.Context, code string) (*domain.PaymentCode, error)

	// ListCodes возвращает все платёжные коды.
	ListCodes(ctx context.Context) ([]*domain.PaymentCode, error)

	// UsePaymentCode атомарно помечает код использованным и создаёт платёж:
	// блокировка строки кода, доменная проверка пригодности, вставка
	// платежа одним коммитом.
	UsePaymentCode(ctx context.Context, code string, payment *domain.Payment) error

	// GetPaymentByID возвращает платёж по ID.
	GetPaymentByID(ctx context.Context, id string) (*domain.Payment, error)

	// GetPaymentByTransactionID возвращает платёж по ID саги.
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)

	// ListPayments возвращает все платежи.
	ListPayments(ctx context.Context) ([]*domain.Payment, error)

	// RefundByTransactionID атомарно помечает платёж возвращённым.
	// Уже возвращённый — alreadyRefunded = true без мутации.
	RefundByTransactionID(ctx context.Context, transactionID string) (payment *domain.Payment, alreadyRefunded bool, err error)

	// ExpirePendingCodes помечает истёкшие pending-коды как expired.
	// Возвращает количество затронутых строк.
	ExpirePendingCodes(ctx context.Context, now time.Time) (int64, error)
}

// =============================================================================
// GORM модели
// =============================================================================

// PaymentCodeModel — GORM модель для таблицы payment_codes.
type PaymentCodeModel struct {
	Code          string    `gorm:"column:code;type:varchar(30);primaryKey"`
	TransactionID string    `gorm:"column:transaction_id;type:varchar(36);uniqueIndex;not null"`
	CustomerID    string    `gorm:"column:customer_id;type:varchar(36);not null"`
	VehicleID     string    `gorm:"column:vehicle_id;type:varchar(36);not null"`
	Amount        int64     `gorm:"column:amount;not null"`
	PaymentType   string    `gorm:"column:payment_type;type:varchar(10);not null"`
	Status        string    `gorm:"column:status;type:varchar(10);not null;default:pending;index"`
	ExpiresAt     time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentCodeModel) TableName() string {
	return "payment_codes"
}

func (m *PaymentCodeModel) toDomain() *domain.PaymentCode {
	return &domain.PaymentCode{
		Code:          m.Code,
		TransactionID: m.TransactionID,
		CustomerID:    m.CustomerID,
		VehicleID:     m.VehicleID,
		Amount:        m.Amount,
		PaymentType:   m.PaymentType,
		Status:        domain.CodeStatus(m.Status),
		ExpiresAt:     m.ExpiresAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func codeModelFromDomain(c *domain.PaymentCode) *PaymentCodeModel {
	return &PaymentCodeModel{
		Code:          c.Code,
		TransactionID: c.TransactionID,
		CustomerID:    c.CustomerID,
		VehicleID:     c.VehicleID,
		Amount:        c.Amount,
		PaymentType:   c.PaymentType,
		Status:        string(c.Status),
		ExpiresAt:     c.ExpiresAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

// PaymentModel — GORM модель для таблицы payments.
type PaymentModel struct {
	ID            string    `gorm:"column:id;type:varchar(36);primaryKey"`
	TransactionID string    `gorm:"column:transaction_id;type:varchar(36);uniqueIndex;not null"`
	PaymentCode   string    `gorm:"column:payment_code;type:varchar(30);not null;index"`
	CustomerID    string    `gorm:"column:customer_id;type:varchar(36);not null"`
	VehicleID     string    `gorm:"column:vehicle_id;type:varchar(36);not null"`
	Amount        int64     `gorm:"column:amount;not null"`
	PaymentType   string    `gorm:"column:payment_type;type:varchar(10);not null"`
	PaymentMethod string    `gorm:"column:payment_method;type:varchar(10);not null"`
	Status        string    `gorm:"column:status;type:varchar(10);not null;index"`
	ProcessedAt   time.Time `gorm:"column:processed_at;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentModel) TableName() string {
	return "payments"
}

func (m *PaymentModel) toDomain() *domain.Payment {
	return &domain.Payment{
		ID:            m.ID,
		TransactionID: m.TransactionID,
		PaymentCode:   m.PaymentCode,
		CustomerID:    m.CustomerID,
		VehicleID:     m.VehicleID,
		Amount:        m.Amount,
		PaymentType:   m.PaymentType,
		PaymentMethod: m.PaymentMethod,
		Status:        domain.PaymentStatus(m.Status),
		ProcessedAt:   m.ProcessedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	return &PaymentModel{
		ID:            p.ID,
		TransactionID: p.TransactionID,
		PaymentCode:   p.PaymentCode,
		CustomerID:    p.CustomerID,
		VehicleID:     p.VehicleID,
		Amount:        p.Amount,
		PaymentType:   p.PaymentType,
		PaymentMethod: p.PaymentMethod,
		Status:        string(p.Status),
		ProcessedAt:   p.ProcessedAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// paymentRepository — GORM реализация PaymentRepository.
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository создаёт новый репозиторий платежей.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// CreateCode сохраняет новый платёжный код в БД.
func (r *paymentRepository) CreateCode(ctx context.Context, code *domain.PaymentCode) error {
	model := codeModelFromDomain(code)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		// Дубликат transaction_id или коллизия кода (MySQL error 1062)
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicatePaymentCode
		}
		return err
	}

	code.CreatedAt = model.CreatedAt
	code.UpdatedAt = model.UpdatedAt

	return nil
}

// GetCodeByTransactionID возвращает код по ID саги.
func (r *paymentRepository) GetCodeByTransactionID(ctx context.Context, transactionID string) (*domain.PaymentCode, error) {
	var model PaymentCodeModel

	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentCodeNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetCodeByCode возвращает код по его строковому значению.
func (r *paymentRepository) GetCodeByCode(ctx context.Context, code string) (*domain.PaymentCode, error) {
	var model PaymentCodeModel

	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentCodeNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// ListCodes возвращает все коды, отсортированные по дате создания.
func (r *paymentRepository) ListCodes(ctx context.Context) ([]*domain.PaymentCode, error) {
	var models []PaymentCodeModel

	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}

	codes := make([]*domain.PaymentCode, 0, len(models))
	for i := range models {
		codes = append(codes, models[i].toDomain())
	}

	return codes, nil
}

// UsePaymentCode помечает код использованным и создаёт платёж
// в одной транзакции БД.
func (r *paymentRepository) UsePaymentCode(ctx context.Context, code string, payment *domain.Payment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Блокируем строку кода на время проверки и мутации.
		var model PaymentCodeModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("code = ?", code).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrPaymentCodeNotFound
			}
			return err
		}

		paymentCode := model.toDomain()
		if err := paymentCode.Use(time.Now()); err != nil {
			return err
		}

		if err := tx.Model(&PaymentCodeModel{}).
			Where("code = ?", code).
			Updates(map[string]interface{}{
				"status":     string(domain.CodeStatusUsed),
				"updated_at": time.Now(),
			}).Error; err != nil {
			return err
		}

		paymentModel := paymentModelFromDomain(payment)
		if err := tx.Create(paymentModel).Error; err != nil {
			// Конкурентная доставка успела первой: откатываем, повторная
			// попытка найдёт платёж по transaction_id.
			if isDuplicateKeyError(err) {
				return domain.ErrDuplicatePayment
			}
			return err
		}

		payment.CreatedAt = paymentModel.CreatedAt
		payment.UpdatedAt = paymentModel.UpdatedAt
		return nil
	})
}

// GetPaymentByID возвращает платёж по ID.
func (r *paymentRepository) GetPaymentByID(ctx context.Context, id string) (*domain.Payment, error) {
	var model PaymentModel

	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// GetPaymentByTransactionID возвращает платёж по ID саги.
func (r *paymentRepository) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	var model PaymentModel

	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// ListPayments возвращает все платежи, отсортированные по дате создания.
func (r *paymentRepository) ListPayments(ctx context.Context) ([]*domain.Payment, error) {
	var models []PaymentModel

	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}

	payments := make([]*domain.Payment, 0, len(models))
	for i := range models {
		payments = append(payments, models[i].toDomain())
	}

	return payments, nil
}

// RefundByTransactionID помечает платёж возвращённым в одной транзакции БД.
// Возврат привязан к саге: поиск по transaction_id, не по payment_id.
func (r *paymentRepository) RefundByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, bool, error) {
	var payment *domain.Payment
	alreadyRefunded := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model PaymentModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("transaction_id = ?", transactionID).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrPaymentNotFound
			}
			return err
		}

		p := model.toDomain()

		// Повторная доставка: возврат уже применён.
		if p.Status == domain.PaymentStatusRefunded {
			payment = p
			alreadyRefunded = true
			return nil
		}

		if err := p.Refund(); err != nil {
			return err
		}

		if err := tx.Model(&PaymentModel{}).
			Where("transaction_id = ?", transactionID).
			Updates(map[string]interface{}{
				"status":     string(domain.PaymentStatusRefunded),
				"updated_at": time.Now(),
			}).Error; err != nil {
			return err
		}

		payment = p
		return nil
	})

	if err != nil {
		return nil, false, err
	}

	return payment, alreadyRefunded, nil
}

// ExpirePendingCodes помечает истёкшие pending-коды как expired.
func (r *paymentRepository) ExpirePendingCodes(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&PaymentCodeModel{}).
		Where("status = ? AND expires_at <= ?", string(domain.CodeStatusPending), now).
		Updates(map[string]interface{}{
			"status":     string(domain.CodeStatusExpired),
			"updated_at": now,
		})

	return result.RowsAffected, result.Error
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
// MySQL возвращает ошибку с кодом 1062 при попытке вставить дубликат.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
