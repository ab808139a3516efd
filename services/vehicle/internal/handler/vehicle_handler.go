// Package handler содержит HTTP обработчики REST API Vehicle Service.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/vehicle-sales/pkg/logger"
	"example.com/vehicle-sales/services/vehicle/internal/domain"
	"example.com/vehicle-sales/services/vehicle/internal/repository"
	"example.com/vehicle-sales/services/vehicle/internal/service"
)

// =============================================================================
// Запросы и ответы
// =============================================================================

// CreateVehicleRequest — тело POST /vehicles. Цена в центах.
type CreateVehicleRequest struct {
	Brand        string `json:"brand" binding:"required,min=2,max=50"`
	Model        string `json:"model" binding:"required,min=1,max=50"`
	Year         int    `json:"year" binding:"required,gte=1900"`
	Color        string `json:"color" binding:"required,min=3,max=30"`
	Price        int64  `json:"price" binding:"required,gt=0"`
	LicensePlate string `json:"license_plate" binding:"required,min=7,max=10"`
}

// UpdateVehicleRequest — тело PUT /vehicles/:id. nil-поля не изменяются.
type UpdateVehicleRequest struct {
	Brand        *string `json:"brand" binding:"omitempty,min=2,max=50"`
	Model        *string `json:"model" binding:"omitempty,min=1,max=50"`
	Year         *int    `json:"year" binding:"omitempty,gte=1900"`
	Color        *string `json:"color" binding:"omitempty,min=3,max=30"`
	Price        *int64  `json:"price" binding:"omitempty,gt=0"`
	LicensePlate *string `json:"license_plate" binding:"omitempty,min=7,max=10"`
}

// ListVehiclesQuery — query-параметры GET /vehicles.
type ListVehiclesQuery struct {
	StatusFilter string `form:"status_filter" binding:"omitempty,oneof=available reserved sold"`
	SortBy       string `form:"sort_by" binding:"omitempty,oneof=price_asc price_desc year_desc brand_asc"`
}

// VehicleResponse — автомобиль в ответах API. Госномер маскирован.
type VehicleResponse struct {
	ID           string    `json:"id"`
	Brand        string    `json:"brand"`
	Model        string    `json:"model"`
	Year         int       `json:"year"`
	Color        string    `json:"color"`
	Price        int64     `json:"price"`
	LicensePlate string    `json:"license_plate"`
	IsReserved   bool      `json:"is_reserved"`
	IsSold       bool      `json:"is_sold"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListVehiclesResponse — ответ GET /vehicles.
type ListVehiclesResponse struct {
	Vehicles  []VehicleResponse `json:"vehicles"`
	Total     int               `json:"total"`
	Timestamp time.Time         `json:"timestamp"`
}

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// =============================================================================
// VehicleHandler
// =============================================================================

// VehicleHandler обрабатывает HTTP запросы каталога автомобилей.
type VehicleHandler struct {
	vehicleService service.VehicleService
}

// NewVehicleHandler создаёт новый handler автомобилей.
func NewVehicleHandler(vehicleService service.VehicleService) *VehicleHandler {
	return &VehicleHandler{vehicleService: vehicleService}
}

// CreateVehicle обрабатывает POST /vehicles.
// 201 — создан, 409 — дубликат госномера.
func (h *VehicleHandler) CreateVehicle(c *gin.Context) {
	var req CreateVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	vehicle, err := h.vehicleService.CreateVehicle(c.Request.Context(), service.CreateVehicleRequest{
		Brand:        req.Brand,
		Model:        req.Model,
		Year:         req.Year,
		Color:        req.Color,
		Price:        req.Price,
		LicensePlate: req.LicensePlate,
	})
	if err != nil {
		h.handleError(c, err, "CreateVehicle")
		return
	}

	c.JSON(http.StatusCreated, vehicleToResponse(vehicle))
}

// GetVehicle обрабатывает GET /vehicles/:id.
func (h *VehicleHandler) GetVehicle(c *gin.Context) {
	vehicle, err := h.vehicleService.GetVehicle(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err, "GetVehicle")
		return
	}

	c.JSON(http.StatusOK, vehicleToResponse(vehicle))
}

// ListVehicles обрабатывает GET /vehicles.
// Фильтр ?status_filter=available|reserved|sold,
// сортировка ?sort_by=price_asc|price_desc|year_desc|brand_asc (по умолчанию price_asc).
func (h *VehicleHandler) ListVehicles(c *gin.Context) {
	var query ListVehiclesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	if query.SortBy == "" {
		query.SortBy = repository.SortByPriceAsc
	}

	vehicles, err := h.vehicleService.ListVehicles(c.Request.Context(), service.ListVehiclesRequest{
		StatusFilter: query.StatusFilter,
		SortBy:       query.SortBy,
	})
	if err != nil {
		h.handleError(c, err, "ListVehicles")
		return
	}

	responses := make([]VehicleResponse, 0, len(vehicles))
	for _, vehicle := range vehicles {
		responses = append(responses, vehicleToResponse(vehicle))
	}

	c.JSON(http.StatusOK, ListVehiclesResponse{
		Vehicles:  responses,
		Total:     len(responses),
		Timestamp: time.Now(),
	})
}

// UpdateVehicle обрабатывает PUT /vehicles/:id.
// 400 — автомобиль зарезервирован или продан, 409 — госномер занят.
func (h *VehicleHandler) UpdateVehicle(c *gin.Context) {
	var req UpdateVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	vehicle, err := h.vehicleService.UpdateVehicle(c.Request.Context(), service.UpdateVehicleRequest{
		VehicleID:    c.Param("id"),
		Brand:        req.Brand,
		Model:        req.Model,
		Year:         req.Year,
		Color:        req.Color,
		Price:        req.Price,
		LicensePlate: req.LicensePlate,
	})
	if err != nil {
		h.handleError(c, err, "UpdateVehicle")
		return
	}

	c.JSON(http.StatusOK, vehicleToResponse(vehicle))
}

// MarkAsSold обрабатывает PATCH /vehicles/:id/mark_as_sold.
// Синхронный финальный шаг саги: оркестратор вызывает его после успешной оплаты.
func (h *VehicleHandler) MarkAsSold(c *gin.Context) {
	vehicle, err := h.vehicleService.MarkAsSold(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err, "MarkAsSold")
		return
	}

	c.JSON(http.StatusOK, vehicleToResponse(vehicle))
}

// handleError преобразует ошибку доменного слоя в HTTP ответ.
func (h *VehicleHandler) handleError(c *gin.Context, err error, method string) {
	log := logger.FromContext(c.Request.Context())

	switch {
	case errors.Is(err, domain.ErrVehicleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: domain.ErrVehicleNotFound.Error(),
		})

	case errors.Is(err, domain.ErrVehicleNotEditable):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "vehicle_not_editable",
			Message: domain.ErrVehicleNotEditable.Error(),
		})

	case errors.Is(err, domain.ErrDuplicateLicensePlate):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "duplicate_license_plate",
			Message: domain.ErrDuplicateLicensePlate.Error(),
		})

	default:
		log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
	}
}

// vehicleToResponse конвертирует доменную сущность в DTO ответа.
func vehicleToResponse(vehicle *domain.Vehicle) VehicleResponse {
	return VehicleResponse{
		ID:           vehicle.ID,
		Brand:        vehicle.Brand,
		Model:        vehicle.Model,
		Year:         vehicle.Year,
		Color:        vehicle.Color,
		Price:        vehicle.Price,
		LicensePlate: vehicle.MaskedLicensePlate(),
		IsReserved:   vehicle.IsReserved,
		IsSold:       vehicle.IsSold,
		Status:       vehicle.Status(),
		CreatedAt:    vehicle.CreatedAt,
	}
}
