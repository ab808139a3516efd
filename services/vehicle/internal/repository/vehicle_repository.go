// Package repository содержит реализацию доступа к данным для Vehicle Service.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/vehicle-sales/services/vehicle/internal/domain"
)

// Параметры фильтрации и сортировки GET /vehicles.
const (
	SortByPriceAsc  = "price_asc"
	SortByPriceDesc = "price_desc"
	SortByYearDesc  = "year_desc"
	SortByBrandAsc  = "brand_asc"
)

// ListFilter — фильтр списка автомобилей.
// Пустой StatusFilter — все автомобили, пустой SortBy — price_asc.
type ListFilter struct {
	StatusFilter string // available | reserved | sold
	SortBy       string // price_asc | price_desc | year_desc | brand_asc
}

// VehicleRepository определяет интерфейс для работы с автомобилями в БД.
type VehicleRepository interface {
	// Create создаёт новый автомобиль.
	Create(ctx context.Context, vehicle *domain.Vehicle) error

	// GetByID возвращает автомобиль по ID.
	GetByID(ctx context.Context, id string) (*domain.Vehicle, error)

	// List возвращает автомобили с фильтрацией по статусу и сортировкой.
	List(ctx context.Context, filter ListFilter) ([]*domain.Vehicle, error)

	// Update обновляет данные автомобиля.
	Update(ctx context.Context, vehicle *domain.Vehicle) error

	// Reserve атомарно резервирует автомобиль под сагу: блокирует строку,
	// применяет доменную проверку, пишет флаг резерва. Повторная доставка
	// той же транзакции возвращает прежнее состояние (alreadyApplied = true).
	Reserve(ctx context.Context, transactionID, vehicleID string) (vehicle *domain.Vehicle, alreadyApplied bool, err error)

	// Release атомарно снимает резерв саги. Не отказывает для уже снятого
	// резерва. ErrVehicleNotFound — если автомобиль исчез, решение об
	// эмиссии события остаётся за вызывающим кодом.
	Release(ctx context.Context, transactionID, vehicleID string) (*domain.Vehicle, error)

	// MarkAsSold атомарно помечает автомобиль проданным и снимает резерв.
	MarkAsSold(ctx context.Context, vehicleID string) (*domain.Vehicle, error)
}

// =============================================================================
// GORM модель
// =============================================================================

// VehicleModel — GORM модель для таблицы vehicles.
type VehicleModel struct {
	ID           string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Brand        string    `gorm:"column:brand;type:varchar(50);not null;index"`
	Model        string    `gorm:"column:model;type:varchar(50);not null"`
	Year         int       `gorm:"column:year;not null"`
	Color        string    `gorm:"column:color;type:varchar(30);not null"`
	Price        int64     `gorm:"column:price;not null;index"`
	LicensePlate string    `gorm:"column:license_plate;type:varchar(10);uniqueIndex;not null"`
	IsReserved   bool      `gorm:"column:is_reserved;not null;default:false"`
	IsSold       bool      `gorm:"column:is_sold;not null;default:false"`
	ReservedBy   string    `gorm:"column:reserved_by_transaction_id;type:varchar(36);not null;default:''"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (VehicleModel) TableName() string {
	return "vehicles"
}

func (m *VehicleModel) toDomain() *domain.Vehicle {
	return &domain.Vehicle{
		ID:           m.ID,
		Brand:        m.Brand,
		Model:        m.Model,
		Year:         m.Year,
		Color:        m.Color,
		Price:        m.Price,
		LicensePlate: m.LicensePlate,
		IsReserved:   m.IsReserved,
		IsSold:       m.IsSold,
		ReservedBy:   m.ReservedBy,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func vehicleModelFromDomain(v *domain.Vehicle) *VehicleModel {
	return &VehicleModel{
		ID:           v.ID,
		Brand:        v.Brand,
		Model:        v.Model,
		Year:         v.Year,
		Color:        v.Color,
		Price:        v.Price,
		LicensePlate: v.LicensePlate,
		IsReserved:   v.IsReserved,
		IsSold:       v.IsSold,
		ReservedBy:   v.ReservedBy,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// vehicleRepository — GORM реализация VehicleRepository.
type vehicleRepository struct {
	db *gorm.DB
}

// NewVehicleRepository создаёт новый репозиторий автомобилей.
func NewVehicleRepository(db *gorm.DB) VehicleRepository {
	return &vehicleRepository{db: db}
}

// Create создаёт новый автомобиль в БД.
func (r *vehicleRepository) Create(ctx context.Context, vehicle *domain.Vehicle) error {
	model := vehicleModelFromDomain(vehicle)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		// Дубликат license_plate (MySQL error 1062)
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateLicensePlate
		}
		return err
	}

	vehicle.CreatedAt = model.CreatedAt
	vehicle.UpdatedAt = model.UpdatedAt

	return nil
}

// GetByID возвращает автомобиль по ID.
func (r *vehicleRepository) GetByID(ctx context.Context, id string) (*domain.Vehicle, error) {
	var model VehicleModel

	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrVehicleNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// List возвращает автомобили по фильтру статуса с заданной сортировкой.
func (r *vehicleRepository) List(ctx context.Context, filter ListFilter) ([]*domain.Vehicle, error) {
	query := r.db.WithContext(ctx).Model(&VehicleModel{})

	switch filter.StatusFilter {
	case domain.VehicleStatusAvailable:
		query = query.Where("is_reserved = ? AND is_sold = ?", false, false)
	case domain.VehicleStatusReserved:
		query = query.Where("is_reserved = ? AND is_sold = ?", true, false)
	case domain.VehicleStatusSold:
		query = query.Where("is_sold = ?", true)
	}

	switch filter.SortBy {
	case SortByPriceDesc:
		query = query.Order("price DESC")
	case SortByYearDesc:
		query = query.Order("year DESC")
	case SortByBrandAsc:
		query = query.Order("brand ASC")
	default:
		query = query.Order("price ASC")
	}

	var models []VehicleModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	vehicles := make([]*domain.Vehicle, 0, len(models))
	for i := range models {
		vehicles = append(vehicles, models[i].toDomain())
	}

	return vehicles, nil
}

// Update обновляет редактируемые поля автомобиля.
func (r *vehicleRepository) Update(ctx context.Context, vehicle *domain.Vehicle) error {
	now := time.Now()

	result := r.db.WithContext(ctx).
		Model(&VehicleModel{}).
		Where("id = ?", vehicle.ID).
		Updates(map[string]interface{}{
			"brand":         vehicle.Brand,
			"model":         vehicle.Model,
			"year":          vehicle.Year,
			"color":         vehicle.Color,
			"price":         vehicle.Price,
			"license_plate": vehicle.LicensePlate,
			"updated_at":    now,
		})

	if result.Error != nil {
		if isDuplicateKeyError(result.Error) {
			return domain.ErrDuplicateLicensePlate
		}
		return result.Error
	}

	if result.RowsAffected == 0 {
		return domain.ErrVehicleNotFound
	}

	vehicle.UpdatedAt = now
	return nil
}

// Reserve резервирует автомобиль под сагу в одной транзакции БД.
func (r *vehicleRepository) Reserve(ctx context.Context, transactionID, vehicleID string) (*domain.Vehicle, bool, error) {
	var vehicle *domain.Vehicle
	alreadyApplied := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockVehicle(tx, vehicleID)
		if err != nil {
			return err
		}

		v := model.toDomain()

		// Повторная доставка: резерв этой саги уже стоит.
		if v.IsReserved && !v.IsSold && v.ReservedBy == transactionID {
			vehicle = v
			alreadyApplied = true
			return nil
		}

		if err := v.Reserve(transactionID); err != nil {
			return err
		}

		if err := updateReservationFlags(tx, v); err != nil {
			return err
		}

		vehicle = v
		return nil
	})

	if err != nil {
		return nil, false, err
	}

	return vehicle, alreadyApplied, nil
}

// Release снимает резерв саги в одной транзакции БД.
func (r *vehicleRepository) Release(ctx context.Context, transactionID, vehicleID string) (*domain.Vehicle, error) {
	var vehicle *domain.Vehicle

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockVehicle(tx, vehicleID)
		if err != nil {
			return err
		}

		v := model.toDomain()

		if released := v.Release(transactionID); released {
			if err := updateReservationFlags(tx, v); err != nil {
				return err
			}
		}

		vehicle = v
		return nil
	})

	if err != nil {
		return nil, err
	}

	return vehicle, nil
}

// MarkAsSold помечает автомобиль проданным в одной транзакции БД.
func (r *vehicleRepository) MarkAsSold(ctx context.Context, vehicleID string) (*domain.Vehicle, error) {
	var vehicle *domain.Vehicle

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockVehicle(tx, vehicleID)
		if err != nil {
			return err
		}

		v := model.toDomain()
		v.MarkAsSold()

		if err := tx.Model(&VehicleModel{}).
			Where("id = ?", vehicleID).
			Updates(map[string]interface{}{
				"is_sold":     true,
				"is_reserved": false,
				"updated_at":  time.Now(),
			}).Error; err != nil {
			return err
		}

		vehicle = v
		return nil
	})

	if err != nil {
		return nil, err
	}

	return vehicle, nil
}

// lockVehicle блокирует строку автомобиля на время мутации (SELECT FOR UPDATE).
func lockVehicle(tx *gorm.DB, vehicleID string) (*VehicleModel, error) {
	var model VehicleModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", vehicleID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrVehicleNotFound
		}
		return nil, err
	}
	return &model, nil
}

// updateReservationFlags пишет флаги резерва после доменной мутации.
func updateReservationFlags(tx *gorm.DB, v *domain.Vehicle) error {
	return tx.Model(&VehicleModel{}).
		Where("id = ?", v.ID).
		Updates(map[string]interface{}{
			"is_reserved":                v.IsReserved,
			"reserved_by_transaction_id": v.ReservedBy,
			"updated_at":                 time.Now(),
		}).Error
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
