// Package service содержит бизнес-логику Payment Service.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"example.com/vehicle-sales/pkg/logger"
	"example.com/vehicle-sales/services/payment/internal/domain"
	"example.com/vehicle-sales/services/payment/internal/repository"
)

const (
	// idempotencyKeyPrefix — префикс для ключей идемпотентности в Redis.
	idempotencyKeyPrefix = "payment:idempotency:"

	// idempotencyTTL — время жизни ключа идемпотентности (24 часа).
	idempotencyTTL = 24 * time.Hour
)

// =============================================================================
// Запросы и результаты
// =============================================================================

// GenerateCodeRequest — команда генерации платёжного кода из саги.
type GenerateCodeRequest struct {
	TransactionID string
	CustomerID    string
	VehicleID     string
	Amount        int64
	PaymentType   string
}

// GenerateCodeResult — результат генерации кода.
type GenerateCodeResult struct {
	Success       bool                // Код выдан
	Reason        string              // Причина отказа (если !Success)
	Code          *domain.PaymentCode // Выданный код
	AlreadyExists bool                // true — повторная доставка, код прежний
}

// ProcessPaymentRequest — команда обработки платежа из саги.
type ProcessPaymentRequest struct {
	TransactionID string
	PaymentCode   string
	PaymentMethod string
}

// ProcessPaymentResult — результат обработки платежа.
type ProcessPaymentResult struct {
	Success          bool                // Платёж завершён
	Reason           string              // Причина отказа (если !Success)
	Payment          *domain.Payment     // Созданный платёж (при Success)
	Code             *domain.PaymentCode // Код, если найден (для полей события)
	AlreadyProcessed bool                // true — повторная доставка
}

// RefundRequest — команда возврата платежа из саги.
type RefundRequest struct {
	TransactionID string
	PaymentID     string
}

// RefundResult — результат возврата платежа.
type RefundResult struct {
	Success         bool            // Возврат применён (или уже был применён)
	Reason          string          // Причина отказа (если !Success)
	Payment         *domain.Payment // Платёж после возврата
	AlreadyRefunded bool
}

// =============================================================================
// Интерфейс сервиса
// =============================================================================

// PaymentService — бизнес-логика платёжных кодов и платежей саги.
type PaymentService interface {
	// GeneratePaymentCode выдаёт платёжный код саге. Идемпотентен по
	// transaction_id: повторный вызов возвращает прежний код.
	GeneratePaymentCode(ctx context.Context, req GenerateCodeRequest) (*GenerateCodeResult, error)

	// ProcessPayment обрабатывает платёж: проверяет код, атомарно помечает
	// его использованным и создаёт платёж. Идемпотентен по transaction_id.
	// Бизнес-отказы (код не найден/истёк/использован) возвращаются
	// в результате, не ошибкой.
	ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (*ProcessPaymentResult, error)

	// RefundPayment возвращает платёж саги. Идемпотентен: повторный возврат
	// переиздаёт прежний результат.
	RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error)

	// GetPaymentCode возвращает код по строковому значению.
	GetPaymentCode(ctx context.Context, code string) (*domain.PaymentCode, error)

	// ListPaymentCodes возвращает все платёжные коды.
	ListPaymentCodes(ctx context.Context) ([]*domain.PaymentCode, error)

	// GetPayment возвращает платёж по ID.
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)

	// ListPayments возвращает все платежи.
	ListPayments(ctx context.Context) ([]*domain.Payment, error)

	// ExpireCodes помечает истёкшие pending-коды как expired.
	// Вызывается периодически фоновым воркером.
	ExpireCodes(ctx context.Context) (int64, error)
}

// =============================================================================
// Реализация сервиса
// =============================================================================

// paymentService — реализация PaymentService.
type paymentService struct {
	repo  repository.PaymentRepository
	redis *redis.Client
}

// NewPaymentService создаёт новый сервис платежей.
func NewPaymentService(repo repository.PaymentRepository, redisClient *redis.Client) PaymentService {
	return &paymentService{
		repo:  repo,
		redis: redisClient,
	}
}

// GeneratePaymentCode выдаёт платёжный код саге.
func (s *paymentService) GeneratePaymentCode(ctx context.Context, req GenerateCodeRequest) (*GenerateCodeResult, error) {
	log := logger.FromContext(ctx)

	// Повторная доставка: код для этой саги уже выдан — переиздаём его.
	existing, err := s.repo.GetCodeByTransactionID(ctx, req.TransactionID)
	if err == nil {
		log.Info().
			Str("transaction_id", req.TransactionID).
			Str("code", existing.Code).
			Msg("Платёжный код уже существует (идемпотентность)")
		return &GenerateCodeResult{Success: true, Code: existing, AlreadyExists: true}, nil
	}
	if !errors.Is(err, domain.ErrPaymentCodeNotFound) {
		return nil, fmt.Errorf("ошибка поиска платёжного кода: %w", err)
	}

	code := domain.NewPaymentCode(req.TransactionID, req.CustomerID, req.VehicleID, req.Amount, req.PaymentType)

	if err := s.repo.CreateCode(ctx, code); err != nil {
		if errors.Is(err, domain.ErrDuplicatePaymentCode) {
			// Конкурентная доставка успела первой — возвращаем её код.
			existing, readErr := s.repo.GetCodeByTransactionID(ctx, req.TransactionID)
			if readErr == nil {
				return &GenerateCodeResult{Success: true, Code: existing, AlreadyExists: true}, nil
			}
			// Коллизия самого кода: отказ, оркестратор уйдёт в компенсацию.
			log.Error().
				Str("transaction_id", req.TransactionID).
				Msg("Коллизия платёжного кода")
			return &GenerateCodeResult{Success: false, Reason: "Failed to generate payment code"}, nil
		}
		return nil, fmt.Errorf("ошибка сохранения платёжного кода: %w", err)
	}

	log.Info().
		Str("transaction_id", req.TransactionID).
		Str("code", code.Code).
		Int64("amount", code.Amount).
		Time("expires_at", code.ExpiresAt).
		Msg("Платёжный код сгенерирован")

	return &GenerateCodeResult{Success: true, Code: code}, nil
}

// ProcessPayment обрабатывает платёж с идемпотентностью.
func (s *paymentService) ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (*ProcessPaymentResult, error) {
	log := logger.FromContext(ctx)

	// Быстрая проверка идемпотентности через Redis (SETNX с TTL).
	idempotencyKey := idempotencyKeyPrefix + req.TransactionID
	wasSet, err := s.redis.SetNX(ctx, idempotencyKey, "processing", idempotencyTTL).Result()
	if err != nil {
		log.Error().Err(err).Str("transaction_id", req.TransactionID).Msg("Ошибка Redis при проверке идемпотентности")
		// При ошибке Redis продолжаем — уникальный индекс БД защитит от дубликатов
	}

	if !wasSet && err == nil {
		existing, dbErr := s.repo.GetPaymentByTransactionID(ctx, req.TransactionID)
		if dbErr == nil {
			log.Info().
				Str("transaction_id", req.TransactionID).
				Str("payment_id", existing.ID).
				Msg("Платёж уже существует (идемпотентность)")
			return &ProcessPaymentResult{Success: true, Payment: existing, AlreadyProcessed: true}, nil
		}
		// Платёж не найден — возможно предыдущая попытка оборвалась, продолжаем
	}

	code, err := s.repo.GetCodeByCode(ctx, req.PaymentCode)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentCodeNotFound) {
			return s.paymentFailure(ctx, req, nil, domain.ErrPaymentCodeNotFound.Error()), nil
		}
		return nil, fmt.Errorf("ошибка поиска платёжного кода: %w", err)
	}

	payment := &domain.Payment{
		ID:            uuid.New().String(),
		TransactionID: req.TransactionID,
		PaymentCode:   code.Code,
		CustomerID:    code.CustomerID,
		VehicleID:     code.VehicleID,
		Amount:        code.Amount,
		PaymentType:   code.PaymentType,
		PaymentMethod: req.PaymentMethod,
		Status:        domain.PaymentStatusCompleted,
		ProcessedAt:   time.Now(),
	}

	if err := s.repo.UsePaymentCode(ctx, code.Code, payment); err != nil {
		switch {
		case errors.Is(err, domain.ErrPaymentCodeAlreadyUsed),
			errors.Is(err, domain.ErrPaymentCodeExpired),
			errors.Is(err, domain.ErrPaymentCodeNotFound):
			return s.paymentFailure(ctx, req, code, err.Error()), nil

		case errors.Is(err, domain.ErrDuplicatePayment):
			// Конкурентная доставка успела первой.
			existing, readErr := s.repo.GetPaymentByTransactionID(ctx, req.TransactionID)
			if readErr != nil {
				return nil, fmt.Errorf("ошибка чтения существующего платежа: %w", readErr)
			}
			return &ProcessPaymentResult{Success: true, Payment: existing, AlreadyProcessed: true}, nil
		}
		return nil, fmt.Errorf("ошибка обработки платежа: %w", err)
	}

	// Сохраняем ID платежа в ключе идемпотентности.
	if err := s.redis.Set(ctx, idempotencyKey, payment.ID, idempotencyTTL).Err(); err != nil {
		log.Warn().Err(err).Msg("Ошибка обновления ключа идемпотентности в Redis")
	}

	log.Info().
		Str("transaction_id", req.TransactionID).
		Str("payment_id", payment.ID).
		Str("payment_code", payment.PaymentCode).
		Int64("amount", payment.Amount).
		Msg("Платёж обработан")

	return &ProcessPaymentResult{Success: true, Payment: payment, Code: code}, nil
}

// RefundPayment возвращает платёж саги.
func (s *paymentService) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	log := logger.FromContext(ctx)

	payment, alreadyRefunded, err := s.repo.RefundByTransactionID(ctx, req.TransactionID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			log.Warn().
				Str("transaction_id", req.TransactionID).
				Msg("Возврат несуществующего платежа отклонён")
			return &RefundResult{Success: false, Reason: domain.ErrPaymentNotFound.Error()}, nil
		}

		var notAllowed *domain.RefundNotAllowedError
		if errors.As(err, &notAllowed) {
			log.Warn().
				Str("transaction_id", req.TransactionID).
				Str("status", string(notAllowed.Status)).
				Msg("Возврат платежа в недопустимом статусе отклонён")
			return &RefundResult{Success: false, Reason: notAllowed.Error()}, nil
		}

		return nil, fmt.Errorf("ошибка возврата платежа: %w", err)
	}

	log.Info().
		Str("transaction_id", req.TransactionID).
		Str("payment_id", payment.ID).
		Bool("already_refunded", alreadyRefunded).
		Msg("Платёж возвращён")

	return &RefundResult{Success: true, Payment: payment, AlreadyRefunded: alreadyRefunded}, nil
}

// GetPaymentCode возвращает код по строковому значению.
func (s *paymentService) GetPaymentCode(ctx context.Context, code string) (*domain.PaymentCode, error) {
	return s.repo.GetCodeByCode(ctx, code)
}

// ListPaymentCodes возвращает все платёжные коды.
func (s *paymentService) ListPaymentCodes(ctx context.Context) ([]*domain.PaymentCode, error) {
	return s.repo.ListCodes(ctx)
}

// GetPayment возвращает платёж по ID.
func (s *paymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.repo.GetPaymentByID(ctx, paymentID)
}

// ListPayments возвращает все платежи.
func (s *paymentService) ListPayments(ctx context.Context) ([]*domain.Payment, error) {
	return s.repo.ListPayments(ctx)
}

// ExpireCodes помечает истёкшие pending-коды как expired.
func (s *paymentService) ExpireCodes(ctx context.Context) (int64, error) {
	expired, err := s.repo.ExpirePendingCodes(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("ошибка пометки истёкших кодов: %w", err)
	}

	if expired > 0 {
		log := logger.FromContext(ctx)
		log.Info().
			Int64("expired", expired).
			Msg("Истёкшие платёжные коды помечены")
	}

	return expired, nil
}

// paymentFailure формирует результат бизнес-отказа платежа.
func (s *paymentService) paymentFailure(ctx context.Context, req ProcessPaymentRequest, code *domain.PaymentCode, reason string) *ProcessPaymentResult {
	log := logger.FromContext(ctx)
	log.Warn().
		Str("transaction_id", req.TransactionID).
		Str("payment_code", req.PaymentCode).
		Str("reason", reason).
		Msg("Платёж отклонён")

	return &ProcessPaymentResult{Success: false, Reason: reason, Code: code}
}
