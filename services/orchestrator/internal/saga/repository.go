package saga

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	outboxpkg "example.com/vehicle-sales/pkg/outbox"
)

// =============================================================================
// Ошибки репозитория
// =============================================================================

var (
	ErrSagaNotFound = errors.New("сага не найдена")

	// ErrSagaConcurrentUpdate — версия саги изменилась между чтением
	// и записью (optimistic locking). Вызывающий перечитывает сагу
	// и повторяет решение.
	ErrSagaConcurrentUpdate = errors.New("сага изменена параллельно")
)

// =============================================================================
// GORM модели
// =============================================================================

// SagaModel — GORM модель для таблицы saga_states.
type SagaModel struct {
	TransactionID string    `gorm:"column:transaction_id;type:varchar(36);primaryKey"`
	CustomerID    string    `gorm:"column:customer_id;type:varchar(36);not null;index"`
	VehicleID     string    `gorm:"column:vehicle_id;type:varchar(36);not null;index"`
	Amount        int64     `gorm:"column:amount;not null"`
	PaymentType   string    `gorm:"column:payment_type;type:varchar(10);not null"`
	Status        string    `gorm:"column:status;type:varchar(40);not null;index"`
	CurrentStep   string    `gorm:"column:current_step;type:varchar(40);not null"`
	Context       []byte    `gorm:"column:context;type:json"`
	Version       int       `gorm:"column:version;not null;default:0"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime;index"`
}

func (SagaModel) TableName() string {
	return "saga_states"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *SagaModel) toDomain() *SagaState {
	s := &SagaState{
		TransactionID: m.TransactionID,
		CustomerID:    m.CustomerID,
		VehicleID:     m.VehicleID,
		Amount:        m.Amount,
		PaymentType:   m.PaymentType,
		Status:        Status(m.Status),
		CurrentStep:   Step(m.CurrentStep),
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}

	// Десериализуем context из JSON
	if len(m.Context) > 0 {
		_ = json.Unmarshal(m.Context, &s.Context)
	}

	return s
}

// sagaModelFromDomain конвертирует доменную сущность в GORM модель.
func sagaModelFromDomain(s *SagaState) *SagaModel {
	model := &SagaModel{
		TransactionID: s.TransactionID,
		CustomerID:    s.CustomerID,
		VehicleID:     s.VehicleID,
		Amount:        s.Amount,
		PaymentType:   s.PaymentType,
		Status:        string(s.Status),
		CurrentStep:   string(s.CurrentStep),
		Version:       s.Version,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}

	// Сериализуем context в JSON
	if data, err := json.Marshal(s.Context); err == nil {
		model.Context = data
	}

	return model
}

// =============================================================================
// SagaRepository — интерфейс для работы с таблицей saga_states
// =============================================================================

// SagaRepository определяет методы работы с сагами.
// Интерфейс минимизирован — содержит только реально используемые методы (ISP).
type SagaRepository interface {
	// GetByID возвращает сагу по transaction_id.
	GetByID(ctx context.Context, transactionID string) (*SagaState, error)

	// List возвращает саги, отсортированные по времени создания (новые первыми).
	List(ctx context.Context, limit, offset int) ([]*SagaState, error)

	// CreateWithOutbox создаёт сагу и записи outbox в одной транзакции.
	// Ключевой метод Outbox Pattern — атомарность состояния и начальной команды.
	CreateWithOutbox(ctx context.Context, saga *SagaState, records []*outboxpkg.Outbox) error

	// UpdateWithOutbox атомарно обновляет сагу и создаёт записи outbox.
	// Обновление условное: WHERE version = saga.Version. Несовпадение версии
	// возвращает ErrSagaConcurrentUpdate — событие обрабатывается заново
	// на свежем состоянии. records может быть пустым.
	UpdateWithOutbox(ctx context.Context, saga *SagaState, records []*outboxpkg.Outbox) error

	// GetStuck возвращает саги в указанных статусах, не обновлявшиеся
	// дольше olderThan. Используется worker-ом таймаутов.
	GetStuck(ctx context.Context, statuses []Status, olderThan time.Duration, limit int) ([]*SagaState, error)
}

// sagaRepository — GORM реализация SagaRepository.
type sagaRepository struct {
	db *gorm.DB
}

// NewSagaRepository создаёт новый репозиторий саг.
func NewSagaRepository(db *gorm.DB) SagaRepository {
	return &sagaRepository{db: db}
}

func (r *sagaRepository) GetByID(ctx context.Context, transactionID string) (*SagaState, error) {
	var model SagaModel
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSagaNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *sagaRepository) List(ctx context.Context, limit, offset int) ([]*SagaState, error) {
	var models []SagaModel
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*SagaState, len(models))
	for i := range models {
		result[i] = models[i].toDomain()
	}
	return result, nil
}

// CreateWithOutbox — атомарное создание саги и записей outbox.
func (r *sagaRepository) CreateWithOutbox(ctx context.Context, saga *SagaState, records []*outboxpkg.Outbox) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sagaModel := sagaModelFromDomain(saga)
		if err := tx.Create(sagaModel).Error; err != nil {
			return err
		}
		saga.CreatedAt = sagaModel.CreatedAt
		saga.UpdatedAt = sagaModel.UpdatedAt

		for _, record := range records {
			outboxModel := outboxpkg.ModelFromDomain(record)
			if err := tx.Create(outboxModel).Error; err != nil {
				return err
			}
			record.CreatedAt = outboxModel.CreatedAt
		}

		return nil
	})
}

// UpdateWithOutbox — атомарное обновление саги и запись исходящих сообщений.
// Optimistic locking: условие WHERE version гарантирует, что решение машины
// состояний применяется только к тому состоянию, на котором было принято.
func (r *sagaRepository) UpdateWithOutbox(ctx context.Context, saga *SagaState, records []*outboxpkg.Outbox) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := sagaModelFromDomain(saga)

		result := tx.Model(&SagaModel{}).
			Where("transaction_id = ? AND version = ?", saga.TransactionID, saga.Version).
			Updates(map[string]interface{}{
				"status":       model.Status,
				"current_step": model.CurrentStep,
				"context":      model.Context,
				"version":      saga.Version + 1,
				"updated_at":   time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Либо саги нет, либо версия устарела.
			var count int64
			if err := tx.Model(&SagaModel{}).
				Where("transaction_id = ?", saga.TransactionID).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrSagaNotFound
			}
			return ErrSagaConcurrentUpdate
		}

		for _, record := range records {
			outboxModel := outboxpkg.ModelFromDomain(record)
			if err := tx.Create(outboxModel).Error; err != nil {
				return err
			}
			record.CreatedAt = outboxModel.CreatedAt
		}

		saga.Version++
		return nil
	})
}

// GetStuck возвращает зависшие саги для worker-а таймаутов.
func (r *sagaRepository) GetStuck(ctx context.Context, statuses []Status, olderThan time.Duration, limit int) ([]*SagaState, error) {
	statusStrings := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrings[i] = string(s)
	}

	cutoff := time.Now().Add(-olderThan)

	var models []SagaModel
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statusStrings, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*SagaState, len(models))
	for i := range models {
		result[i] = models[i].toDomain()
	}
	return result, nil
}
