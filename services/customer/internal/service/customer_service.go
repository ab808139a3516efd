// Package service содержит бизнес-логику Customer Service.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"example.com/vehicle-sales/pkg/logger"
	"example.com/vehicle-sales/services/customer/internal/domain"
	"example.com/vehicle-sales/services/customer/internal/repository"
)

// =============================================================================
// Запросы и результаты
// =============================================================================

// CreateCustomerRequest — запрос на создание клиента.
type CreateCustomerRequest struct {
	Name           string
	Email          string
	Phone          string
	Document       string
	InitialBalance int64 // Начальный баланс в центах
	CreditLimit    int64 // Кредитный лимит в центах
}

// UpdateCustomerRequest — частичное обновление клиента.
// nil-поля не изменяются.
type UpdateCustomerRequest struct {
	CustomerID     string
	Name           *string
	Email          *string
	Phone          *string
	InitialBalance *int64 // Устанавливает account_balance
	CreditLimit    *int64
}

// CreditRequest — команда reserve/release из саги.
type CreditRequest struct {
	TransactionID string
	CustomerID    string
	Amount        int64
	PaymentType   string
}

// ReserveCreditResult — результат резервирования средств.
type ReserveCreditResult struct {
	Success          bool   // Резервирование применено
	Reason           string // Причина отказа (если !Success)
	RemainingBalance *int64 // account_balance после операции
	RemainingCredit  *int64 // available_credit после операции
	AlreadyApplied   bool   // true — повторная доставка, баланс не трогался
}

// ReleaseCreditResult — результат возврата средств.
type ReleaseCreditResult struct {
	CustomerFound      bool   // false — клиент исчез, возврат нечего применять
	NewBalance         *int64 // account_balance после операции
	NewAvailableCredit *int64 // available_credit после операции
	AlreadyApplied     bool
}

// =============================================================================
// Интерфейс сервиса
// =============================================================================

// CustomerService — бизнес-логика клиентов и кредитных операций саги.
type CustomerService interface {
	// CreateCustomer создаёт нового клиента со статусом active.
	CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*domain.Customer, error)

	// GetCustomer возвращает клиента по ID.
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)

	// ListCustomers возвращает всех клиентов.
	ListCustomers(ctx context.Context) ([]*domain.Customer, error)

	// UpdateCustomer применяет частичное обновление клиента.
	UpdateCustomer(ctx context.Context, req UpdateCustomerRequest) (*domain.Customer, error)

	// ReserveCredit резервирует средства под сагу. Идемпотентен по transaction_id:
	// повторный вызов возвращает прежний результат без мутации баланса.
	// Бизнес-отказы (клиент не найден, нехватка средств) возвращаются
	// в результате, не ошибкой.
	ReserveCredit(ctx context.Context, req CreditRequest) (*ReserveCreditResult, error)

	// ReleaseCredit возвращает средства саге. Идемпотентен; для исчезнувшего
	// клиента возвращает CustomerFound=false без ошибки.
	ReleaseCredit(ctx context.Context, req CreditRequest) (*ReleaseCreditResult, error)
}

// =============================================================================
// Реализация сервиса
// =============================================================================

// customerService — реализация CustomerService.
type customerService struct {
	repo repository.CustomerRepository
}

// NewCustomerService создаёт новый сервис клиентов.
func NewCustomerService(repo repository.CustomerRepository) CustomerService {
	return &customerService{repo: repo}
}

// CreateCustomer создаёт нового клиента.
func (s *customerService) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*domain.Customer, error) {
	log := logger.FromContext(ctx)

	customer := &domain.Customer{
		ID:             uuid.New().String(),
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
		Document:       req.Document,
		AccountBalance: req.InitialBalance,
		CreditLimit:    req.CreditLimit,
		UsedCredit:     0,
		Status:         domain.CustomerStatusActive,
	}

	if err := customer.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, customer); err != nil {
		return nil, err
	}

	log.Info().
		Str("customer_id", customer.ID).
		Int64("account_balance", customer.AccountBalance).
		Int64("credit_limit", customer.CreditLimit).
		Msg("Клиент создан")

	return customer, nil
}

// GetCustomer возвращает клиента по ID.
func (s *customerService) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	return s.repo.GetByID(ctx, customerID)
}

// ListCustomers возвращает всех клиентов.
func (s *customerService) ListCustomers(ctx context.Context) ([]*domain.Customer, error) {
	return s.repo.List(ctx)
}

// UpdateCustomer применяет частичное обновление клиента.
func (s *customerService) UpdateCustomer(ctx context.Context, req UpdateCustomerRequest) (*domain.Customer, error) {
	customer, err := s.repo.GetByID(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		customer.Name = *req.Name
	}
	if req.Email != nil {
		customer.Email = *req.Email
	}
	if req.Phone != nil {
		customer.Phone = *req.Phone
	}
	if req.InitialBalance != nil {
		customer.AccountBalance = *req.InitialBalance
	}
	if req.CreditLimit != nil {
		customer.CreditLimit = *req.CreditLimit
	}

	if err := customer.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, customer); err != nil {
		return nil, err
	}

	return customer, nil
}

// ReserveCredit резервирует средства под сагу.
func (s *customerService) ReserveCredit(ctx context.Context, req CreditRequest) (*ReserveCreditResult, error) {
	log := logger.FromContext(ctx)

	op, alreadyApplied, err := s.repo.ReserveCredit(ctx, req.TransactionID, req.CustomerID, req.Amount, req.PaymentType)
	if err != nil {
		// Бизнес-отказ: причина уходит в событие CreditReservationFailed.
		if reason, ok := reservationFailureReason(err); ok {
			log.Warn().
				Str("transaction_id", req.TransactionID).
				Str("customer_id", req.CustomerID).
				Str("reason", reason).
				Msg("Резервирование средств отклонено")
			return &ReserveCreditResult{Success: false, Reason: reason}, nil
		}
		return nil, fmt.Errorf("ошибка резервирования средств: %w", err)
	}

	log.Info().
		Str("transaction_id", req.TransactionID).
		Str("customer_id", req.CustomerID).
		Int64("amount", req.Amount).
		Str("payment_type", req.PaymentType).
		Bool("already_applied", alreadyApplied).
		Int64("remaining_balance", op.BalanceAfter).
		Int64("remaining_credit", op.AvailableCreditAfter).
		Msg("Средства зарезервированы")

	return &ReserveCreditResult{
		Success:          true,
		RemainingBalance: &op.BalanceAfter,
		RemainingCredit:  &op.AvailableCreditAfter,
		AlreadyApplied:   alreadyApplied,
	}, nil
}

// ReleaseCredit возвращает средства саге.
func (s *customerService) ReleaseCredit(ctx context.Context, req CreditRequest) (*ReleaseCreditResult, error) {
	log := logger.FromContext(ctx)

	op, alreadyApplied, err := s.repo.ReleaseCredit(ctx, req.TransactionID, req.CustomerID, req.Amount, req.PaymentType)
	if err != nil {
		// Клиент исчез — возвращать нечего, компенсация идёт дальше.
		if errors.Is(err, domain.ErrCustomerNotFound) {
			log.Warn().
				Str("transaction_id", req.TransactionID).
				Str("customer_id", req.CustomerID).
				Msg("Возврат средств для несуществующего клиента пропущен")
			return &ReleaseCreditResult{CustomerFound: false}, nil
		}
		return nil, fmt.Errorf("ошибка возврата средств: %w", err)
	}

	log.Info().
		Str("transaction_id", req.TransactionID).
		Str("customer_id", req.CustomerID).
		Int64("amount", req.Amount).
		Bool("already_applied", alreadyApplied).
		Int64("new_balance", op.BalanceAfter).
		Int64("new_available_credit", op.AvailableCreditAfter).
		Msg("Средства возвращены")

	return &ReleaseCreditResult{
		CustomerFound:      true,
		NewBalance:         &op.BalanceAfter,
		NewAvailableCredit: &op.AvailableCreditAfter,
		AlreadyApplied:     alreadyApplied,
	}, nil
}

// reservationFailureReason переводит доменную ошибку резервирования
// в reason для события CreditReservationFailed.
// Второе значение false — ошибка инфраструктурная, нужен retry.
func reservationFailureReason(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientCredit):
		return err.Error(), true
	}

	var unsupported *domain.UnsupportedPaymentTypeError
	if errors.As(err, &unsupported) {
		return unsupported.Error(), true
	}

	return "", false
}
