// Package repository содержит реализацию доступа к данным для Customer Service.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/vehicle-sales/services/customer/internal/domain"
)

// CustomerRepository определяет интерфейс для работы с клиентами в БД.
type CustomerRepository interface {
	// Create создаёт нового клиента.
	Create(ctx context.Context, customer *domain.Customer) error

	// GetByID возвращает клиента по ID.
	GetByID(ctx context.Context, id string) (*domain.Customer, error)

	// List возвращает всех клиентов.
	List(ctx context.Context) ([]*domain.Customer, error)

	// Update обновляет данные клиента.
	Update(ctx context.Context, customer *domain.Customer) error

	// ReserveCredit атомарно резервирует средства: блокирует строку клиента,
	// применяет доменную проверку и мутацию, пишет запись в credit_ledger.
	// Повторная доставка той же транзакции возвращает прежний результат
	// (alreadyApplied = true), баланс не трогается.
	ReserveCredit(ctx context.Context, transactionID, customerID string, amount int64, paymentType string) (op *domain.CreditOperation, alreadyApplied bool, err error)

	// ReleaseCredit атомарно возвращает средства. Идемпотентен по
	// (transaction_id, release); без reserve-строки в ledger — no-op
	// (возвращать нечего, баланс не меняется). ErrCustomerNotFound — если
	// клиент исчез, решение об эмиссии события остаётся за вызывающим кодом.
	ReleaseCredit(ctx context.Context, transactionID, customerID string, amount int64, paymentType string) (op *domain.CreditOperation, alreadyApplied bool, err error)
}

// =============================================================================
// GORM модели
// =============================================================================

// CustomerModel — GORM модель для таблицы customers.
type CustomerModel struct {
	ID             string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Name           string    `gorm:"column:name;type:varchar(100);not null;index"`
	Email          string    `gorm:"column:email;type:varchar(255);uniqueIndex;not null"`
	Phone          string    `gorm:"column:phone;type:varchar(20);not null"`
	Document       string    `gorm:"column:document;type:varchar(11);uniqueIndex;not null"`
	AccountBalance int64     `gorm:"column:account_balance;not null;default:0"`
	CreditLimit    int64     `gorm:"column:credit_limit;not null;default:0"`
	UsedCredit     int64     `gorm:"column:used_credit;not null;default:0"`
	Status         string    `gorm:"column:status;type:varchar(20);not null;default:active"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (CustomerModel) TableName() string {
	return "customers"
}

func (m *CustomerModel) toDomain() *domain.Customer {
	return &domain.Customer{
		ID:             m.ID,
		Name:           m.Name,
		Email:          m.Email,
		Phone:          m.Phone,
		Document:       m.Document,
		AccountBalance: m.AccountBalance,
		CreditLimit:    m.CreditLimit,
		UsedCredit:     m.UsedCredit,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func customerModelFromDomain(c *domain.Customer) *CustomerModel {
	return &CustomerModel{
		ID:             c.ID,
		Name:           c.Name,
		Email:          c.Email,
		Phone:          c.Phone,
		Document:       c.Document,
		AccountBalance: c.AccountBalance,
		CreditLimit:    c.CreditLimit,
		UsedCredit:     c.UsedCredit,
		Status:         c.Status,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// CreditLedgerModel — GORM модель таблицы credit_ledger.
// Уникальный индекс (transaction_id, operation) — основа идемпотентности
// reserve/release при повторной доставке команд из Kafka.
type CreditLedgerModel struct {
	ID                   string    `gorm:"column:id;type:varchar(36);primaryKey"`
	TransactionID        string    `gorm:"column:transaction_id;type:varchar(36);not null;uniqueIndex:idx_txn_operation"`
	Operation            string    `gorm:"column:operation;type:varchar(10);not null;uniqueIndex:idx_txn_operation"`
	CustomerID           string    `gorm:"column:customer_id;type:varchar(36);not null;index"`
	Amount               int64     `gorm:"column:amount;not null"`
	PaymentType          string    `gorm:"column:payment_type;type:varchar(10);not null"`
	BalanceAfter         int64     `gorm:"column:balance_after;not null"`
	AvailableCreditAfter int64     `gorm:"column:available_credit_after;not null"`
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (CreditLedgerModel) TableName() string {
	return "credit_ledger"
}

func (m *CreditLedgerModel) toDomain() *domain.CreditOperation {
	return &domain.CreditOperation{
		ID:                   m.ID,
		TransactionID:        m.TransactionID,
		CustomerID:           m.CustomerID,
		Operation:            m.Operation,
		Amount:               m.Amount,
		PaymentType:          m.PaymentType,
		BalanceAfter:         m.BalanceAfter,
		AvailableCreditAfter: m.AvailableCreditAfter,
		CreatedAt:            m.CreatedAt,
	}
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// customerRepository — GORM реализация CustomerRepository.
type customerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository создаёт новый репозиторий клиентов.
func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{db: db}
}

// Create создаёт нового клиента в БД.
func (r *customerRepository) Create(ctx context.Context, customer *domain.Customer) error {
	model := customerModelFromDomain(customer)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		// Дубликат email или document (MySQL error 1062)
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateCustomer
		}
		return err
	}

	customer.CreatedAt = model.CreatedAt
	customer.UpdatedAt = model.UpdatedAt

	return nil
}

// GetByID возвращает клиента по ID.
func (r *customerRepository) GetByID(ctx context.Context, id string) (*domain.Customer, error) {
	var model CustomerModel

	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// List возвращает всех клиентов, отсортированных по дате создания.
func (r *customerRepository) List(ctx context.Context) ([]*domain.Customer, error) {
	var models []CustomerModel

	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	customers := make([]*domain.Customer, 0, len(models))
	for i := range models {
		customers = append(customers, models[i].toDomain())
	}

	return customers, nil
}

// Update обновляет профильные поля и балансовые установки клиента.
func (r *customerRepository) Update(ctx context.Context, customer *domain.Customer) error {
	now := time.Now()

	result := r.db.WithContext(ctx).
		Model(&CustomerModel{}).
		Where("id = ?", customer.ID).
		Updates(map[string]interface{}{
			"name":            customer.Name,
			"email":           customer.Email,
			"phone":           customer.Phone,
			"account_balance": customer.AccountBalance,
			"credit_limit":    customer.CreditLimit,
			"status":          customer.Status,
			"updated_at":      now,
		})

	if result.Error != nil {
		if isDuplicateKeyError(result.Error) {
			return domain.ErrDuplicateCustomer
		}
		return result.Error
	}

	if result.RowsAffected == 0 {
		return domain.ErrCustomerNotFound
	}

	customer.UpdatedAt = now
	return nil
}

// ReserveCredit резервирует средства под сагу в одной транзакции БД.
func (r *customerRepository) ReserveCredit(ctx context.Context, transactionID, customerID string, amount int64, paymentType string) (*domain.CreditOperation, bool, error) {
	return r.applyCreditOperation(ctx, transactionID, customerID, domain.OperationReserve,
		func(customer *domain.Customer) error {
			return customer.Reserve(amount, paymentType)
		}, amount, paymentType)
}

// ReleaseCredit возвращает средства саге в одной транзакции БД.
func (r *customerRepository) ReleaseCredit(ctx context.Context, transactionID, customerID string, amount int64, paymentType string) (*domain.CreditOperation, bool, error) {
	return r.applyCreditOperation(ctx, transactionID, customerID, domain.OperationRelease,
		func(customer *domain.Customer) error {
			customer.Release(amount, paymentType)
			return nil
		}, amount, paymentType)
}

// applyCreditOperation — общий транзакционный каркас reserve/release:
// дедупликация по ledger, SELECT FOR UPDATE клиента, доменная мутация,
// запись нового баланса + строка ledger одним коммитом.
func (r *customerRepository) applyCreditOperation(
	ctx context.Context,
	transactionID, customerID, operation string,
	mutate func(customer *domain.Customer) error,
	amount int64, paymentType string,
) (*domain.CreditOperation, bool, error) {
	var op *domain.CreditOperation
	alreadyApplied := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Повторная доставка: операция уже применена — возвращаем прежний результат.
		var existing CreditLedgerModel
		err := tx.Where("transaction_id = ? AND operation = ?", transactionID, operation).
			First(&existing).Error
		if err == nil {
			op = existing.toDomain()
			alreadyApplied = true
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// Release без предшествующего reserve — компенсация по таймауту,
		// когда команда резервирования потерялась. Баланс не трогаем,
		// CreditReleased всё равно уйдёт: возвращать нечего.
		if operation == domain.OperationRelease {
			var reserveRow CreditLedgerModel
			err := tx.Where("transaction_id = ? AND operation = ?", transactionID, domain.OperationReserve).
				First(&reserveRow).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				var model CustomerModel
				if err := tx.Where("id = ?", customerID).First(&model).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return domain.ErrCustomerNotFound
					}
					return err
				}
				customer := model.toDomain()
				op = &domain.CreditOperation{
					TransactionID:        transactionID,
					CustomerID:           customerID,
					Operation:            operation,
					Amount:               amount,
					PaymentType:          paymentType,
					BalanceAfter:         customer.AccountBalance,
					AvailableCreditAfter: customer.AvailableCredit(),
				}
				alreadyApplied = true
				return nil
			}
			if err != nil {
				return err
			}
		}

		// Блокируем строку клиента на время мутации.
		var model CustomerModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", customerID).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrCustomerNotFound
			}
			return err
		}

		customer := model.toDomain()
		if err := mutate(customer); err != nil {
			return err
		}

		if err := tx.Model(&CustomerModel{}).
			Where("id = ?", customerID).
			Updates(map[string]interface{}{
				"account_balance": customer.AccountBalance,
				"used_credit":     customer.UsedCredit,
				"updated_at":      time.Now(),
			}).Error; err != nil {
			return err
		}

		ledger := &CreditLedgerModel{
			ID:                   uuid.New().String(),
			TransactionID:        transactionID,
			Operation:            operation,
			CustomerID:           customerID,
			Amount:               amount,
			PaymentType:          paymentType,
			BalanceAfter:         customer.AccountBalance,
			AvailableCreditAfter: customer.AvailableCredit(),
		}
		if err := tx.Create(ledger).Error; err != nil {
			// Конкурентная доставка успела первой: откатываем мутацию,
			// повторная попытка найдёт результат в ledger.
			if isDuplicateKeyError(err) {
				return domain.ErrDuplicateOperation
			}
			return err
		}

		op = ledger.toDomain()
		return nil
	})

	if err != nil {
		return nil, false, err
	}

	return op, alreadyApplied, nil
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
