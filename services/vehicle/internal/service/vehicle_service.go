// Package service содержит бизнес-логику Vehicle Service.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"example.com/vehicle-sales/pkg/logger"
	"example.com/vehicle-sales/services/vehicle/internal/domain"
	"example.com/vehicle-sales/services/vehicle/internal/repository"
)

// =============================================================================
// Запросы и результаты
// =============================================================================

// CreateVehicleRequest — запрос на создание автомобиля.
type CreateVehicleRequest struct {
	Brand        string
	Model        string
	Year         int
	Color        string
	Price        int64 // Цена в центах
	LicensePlate string
}

// UpdateVehicleRequest — частичное обновление автомобиля.
// nil-поля не изменяются.
type UpdateVehicleRequest struct {
	VehicleID    string
	Brand        *string
	Model        *string
	Year         *int
	Color        *string
	Price        *int64
	LicensePlate *string
}

// ListVehiclesRequest — фильтр списка автомобилей.
type ListVehiclesRequest struct {
	StatusFilter string
	SortBy       string
}

// VehicleSagaRequest — команда reserve/release из саги.
type VehicleSagaRequest struct {
	TransactionID string
	VehicleID     string
}

// ReserveVehicleResult — результат резервирования автомобиля.
type ReserveVehicleResult struct {
	Success        bool   // Резерв применён
	Reason         string // Причина отказа (если !Success)
	VehiclePrice   int64  // Актуальная цена на момент резерва
	AlreadyApplied bool   // true — повторная доставка, резерв уже стоял
}

// ReleaseVehicleResult — результат снятия резерва.
type ReleaseVehicleResult struct {
	VehicleFound bool // false — автомобиль исчез, снимать нечего
}

// =============================================================================
// Интерфейс сервиса
// =============================================================================

// VehicleService — бизнес-логика каталога автомобилей и операций саги.
type VehicleService interface {
	// CreateVehicle создаёт новый автомобиль в каталоге.
	CreateVehicle(ctx context.Context, req CreateVehicleRequest) (*domain.Vehicle, error)

	// GetVehicle возвращает автомобиль по ID.
	GetVehicle(ctx context.Context, vehicleID string) (*domain.Vehicle, error)

	// ListVehicles возвращает автомобили по фильтру статуса с сортировкой.
	ListVehicles(ctx context.Context, req ListVehiclesRequest) ([]*domain.Vehicle, error)

	// UpdateVehicle применяет частичное обновление. Зарезервированный или
	// проданный автомобиль редактировать нельзя (ErrVehicleNotEditable).
	UpdateVehicle(ctx context.Context, req UpdateVehicleRequest) (*domain.Vehicle, error)

	// MarkAsSold помечает автомобиль проданным (финальный шаг саги,
	// синхронный вызов оркестратора).
	MarkAsSold(ctx context.Context, vehicleID string) (*domain.Vehicle, error)

	// ReserveVehicle резервирует автомобиль под сагу. Идемпотентен по
	// transaction_id. Бизнес-отказы (не найден, занят) возвращаются
	// в результате, не ошибкой.
	ReserveVehicle(ctx context.Context, req VehicleSagaRequest) (*ReserveVehicleResult, error)

	// ReleaseVehicle снимает резерв саги. Идемпотентен; для исчезнувшего
	// автомобиля возвращает VehicleFound=false без ошибки.
	ReleaseVehicle(ctx context.Context, req VehicleSagaRequest) (*ReleaseVehicleResult, error)
}

// =============================================================================
// Реализация сервиса
// =============================================================================

// vehicleService — реализация VehicleService.
type vehicleService struct {
	repo repository.VehicleRepository
}

// NewVehicleService создаёт новый сервис автомобилей.
func NewVehicleService(repo repository.VehicleRepository) VehicleService {
	return &vehicleService{repo: repo}
}

// CreateVehicle создаёт новый автомобиль.
func (s *vehicleService) CreateVehicle(ctx context.Context, req CreateVehicleRequest) (*domain.Vehicle, error) {
	log := logger.FromContext(ctx)

	vehicle := &domain.Vehicle{
		ID:           uuid.New().String(),
		Brand:        req.Brand,
		Model:        req.Model,
		Year:         req.Year,
		Color:        req.Color,
		Price:        req.Price,
		LicensePlate: req.LicensePlate,
	}

	if err := vehicle.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, vehicle); err != nil {
		return nil, err
	}

	log.Info().
		Str("vehicle_id", vehicle.ID).
		Str("brand", vehicle.Brand).
		Str("model", vehicle.Model).
		Int64("price", vehicle.Price).
		Msg("Автомобиль добавлен в каталог")

	return vehicle, nil
}

// GetVehicle возвращает автомобиль по ID.
func (s *vehicleService) GetVehicle(ctx context.Context, vehicleID string) (*domain.Vehicle, error) {
	return s.repo.GetByID(ctx, vehicleID)
}

// ListVehicles возвращает автомобили по фильтру.
func (s *vehicleService) ListVehicles(ctx context.Context, req ListVehiclesRequest) ([]*domain.Vehicle, error) {
	return s.repo.List(ctx, repository.ListFilter{
		StatusFilter: req.StatusFilter,
		SortBy:       req.SortBy,
	})
}

// UpdateVehicle применяет частичное обновление автомобиля.
func (s *vehicleService) UpdateVehicle(ctx context.Context, req UpdateVehicleRequest) (*domain.Vehicle, error) {
	vehicle, err := s.repo.GetByID(ctx, req.VehicleID)
	if err != nil {
		return nil, err
	}

	// Цена зафиксирована в идущей саге — редактирование запрещено.
	if !vehicle.Editable() {
		return nil, domain.ErrVehicleNotEditable
	}

	if req.Brand != nil {
		vehicle.Brand = *req.Brand
	}
	if req.Model != nil {
		vehicle.Model = *req.Model
	}
	if req.Year != nil {
		vehicle.Year = *req.Year
	}
	if req.Color != nil {
		vehicle.Color = *req.Color
	}
	if req.Price != nil {
		vehicle.Price = *req.Price
	}
	if req.LicensePlate != nil {
		vehicle.LicensePlate = *req.LicensePlate
	}

	if err := vehicle.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, vehicle); err != nil {
		return nil, err
	}

	return vehicle, nil
}

// MarkAsSold помечает автомобиль проданным.
func (s *vehicleService) MarkAsSold(ctx context.Context, vehicleID string) (*domain.Vehicle, error) {
	log := logger.FromContext(ctx)

	vehicle, err := s.repo.MarkAsSold(ctx, vehicleID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("vehicle_id", vehicle.ID).
		Str("license_plate", vehicle.MaskedLicensePlate()).
		Msg("Автомобиль помечен проданным")

	return vehicle, nil
}

// ReserveVehicle резервирует автомобиль под сагу.
func (s *vehicleService) ReserveVehicle(ctx context.Context, req VehicleSagaRequest) (*ReserveVehicleResult, error) {
	log := logger.FromContext(ctx)

	vehicle, alreadyApplied, err := s.repo.Reserve(ctx, req.TransactionID, req.VehicleID)
	if err != nil {
		// Бизнес-отказ: причина уходит в событие VehicleReservationFailed.
		if reason, ok := reservationFailureReason(err); ok {
			log.Warn().
				Str("transaction_id", req.TransactionID).
				Str("vehicle_id", req.VehicleID).
				Str("reason", reason).
				Msg("Резервирование автомобиля отклонено")
			return &ReserveVehicleResult{Success: false, Reason: reason}, nil
		}
		return nil, fmt.Errorf("ошибка резервирования автомобиля: %w", err)
	}

	log.Info().
		Str("transaction_id", req.TransactionID).
		Str("vehicle_id", req.VehicleID).
		Int64("vehicle_price", vehicle.Price).
		Bool("already_applied", alreadyApplied).
		Msg("Автомобиль зарезервирован")

	return &ReserveVehicleResult{
		Success:        true,
		VehiclePrice:   vehicle.Price,
		AlreadyApplied: alreadyApplied,
	}, nil
}

// ReleaseVehicle снимает резерв саги.
func (s *vehicleService) ReleaseVehicle(ctx context.Context, req VehicleSagaRequest) (*ReleaseVehicleResult, error) {
	log := logger.FromContext(ctx)

	_, err := s.repo.Release(ctx, req.TransactionID, req.VehicleID)
	if err != nil {
		// Автомобиль исчез — снимать нечего, компенсация идёт дальше.
		if errors.Is(err, domain.ErrVehicleNotFound) {
			log.Warn().
				Str("transaction_id", req.TransactionID).
				Str("vehicle_id", req.VehicleID).
				Msg("Снятие резерва для несуществующего автомобиля пропущено")
			return &ReleaseVehicleResult{VehicleFound: false}, nil
		}
		return nil, fmt.Errorf("ошибка снятия резерва: %w", err)
	}

	log.Info().
		Str("transaction_id", req.TransactionID).
		Str("vehicle_id", req.VehicleID).
		Msg("Резерв автомобиля снят")

	return &ReleaseVehicleResult{VehicleFound: true}, nil
}

// reservationFailureReason переводит доменную ошибку резервирования
// в reason для события VehicleReservationFailed.
// Второе значение false — ошибка инфраструктурная, нужен retry.
func reservationFailureReason(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrVehicleNotFound),
		errors.Is(err, domain.ErrVehicleNotAvailable):
		return err.Error(), true
	}
	return "", false
}
