// Package handler содержит HTTP обработчики REST API оркестратора.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/vehicle-sales/pkg/circuitbreaker"
	"example.com/vehicle-sales/pkg/logger"
	"example.com/vehicle-sales/services/orchestrator/internal/client"
	"example.com/vehicle-sales/services/orchestrator/internal/saga"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleError преобразует ошибку доменного слоя в HTTP ответ.
// Используется всеми handlers для единообразной обработки ошибок.
// ВАЖНО: err не должен быть nil — это баг в вызывающем коде.
func HandleError(c *gin.Context, err error, method string) {
	// Guard: nil ошибка — баг в вызывающем коде, логируем и возвращаем 500.
	if err == nil {
		logger.Error().Str("method", method).Msg("HandleError вызван с nil ошибкой — баг в коде")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	log := logger.FromContext(c.Request.Context())

	switch {
	case errors.Is(err, saga.ErrSagaNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Transaction not found",
		})

	case errors.Is(err, client.ErrVehicleNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: client.ErrVehicleNotFound.Error(),
		})

	case errors.Is(err, client.ErrCustomerNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: client.ErrCustomerNotFound.Error(),
		})

	case errors.Is(err, client.ErrVehicleNotAvailable):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "vehicle_not_available",
			Message: client.ErrVehicleNotAvailable.Error(),
		})

	case errors.Is(err, client.ErrInsufficientFunds):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "insufficient_funds",
			Message: client.ErrInsufficientFunds.Error(),
		})

	case errors.Is(err, circuitbreaker.ErrBreakerOpen):
		log.Warn().Err(err).Str("method", method).Msg("Circuit breaker открыт")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "service_unavailable",
			Message: "Зависимый сервис временно недоступен, повторите запрос позже",
		})

	default:
		log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
	}
}
