// Package handler содержит HTTP-хендлеры Payment Service.
// Платёжные операции идут только через сагу (Kafka); HTTP отдаёт
// read-only представление кодов и платежей.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/vehicle-sales/pkg/logger"
	"example.com/vehicle-sales/services/payment/internal/domain"
	"example.com/vehicle-sales/services/payment/internal/service"
)

// PaymentHandler обрабатывает HTTP-запросы к платёжным данным.
type PaymentHandler struct {
	paymentService service.PaymentService
}

// NewPaymentHandler создаёт новый HTTP-хендлер платежей.
func NewPaymentHandler(paymentService service.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// =============================================================================
// Ответы
// =============================================================================

// PaymentCodeResponse — представление платёжного кода в API.
type PaymentCodeResponse struct {
	Code          string    `json:"code"`
	TransactionID string    `json:"transaction_id"`
	CustomerID    string    `json:"customer_id"`
	VehicleID     string    `json:"vehicle_id"`
	Amount        int64     `json:"amount"`
	PaymentType   string    `json:"payment_type"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// PaymentResponse — представление платежа в API.
type PaymentResponse struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	PaymentCode   string    `json:"payment_code"`
	CustomerID    string    `json:"customer_id"`
	VehicleID     string    `json:"vehicle_id"`
	Amount        int64     `json:"amount"`
	PaymentType   string    `json:"payment_type"`
	PaymentMethod string    `json:"payment_method"`
	Status        string    `json:"status"`
	ProcessedAt   time.Time `json:"processed_at"`
	CreatedAt     time.Time `json:"created_at"`
}

func toCodeResponse(code *domain.PaymentCode) PaymentCodeResponse {
	return PaymentCodeResponse{
		Code:          code.Code,
		TransactionID: code.TransactionID,
		CustomerID:    code.CustomerID,
		VehicleID:     code.VehicleID,
		Amount:        code.Amount,
		PaymentType:   code.PaymentType,
		Status:        string(code.Status),
		ExpiresAt:     code.ExpiresAt,
		CreatedAt:     code.CreatedAt,
	}
}

func toPaymentResponse(payment *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:            payment.ID,
		TransactionID: payment.TransactionID,
		PaymentCode:   payment.PaymentCode,
		CustomerID:    payment.CustomerID,
		VehicleID:     payment.VehicleID,
		Amount:        payment.Amount,
		PaymentType:   payment.PaymentType,
		PaymentMethod: payment.PaymentMethod,
		Status:        string(payment.Status),
		ProcessedAt:   payment.ProcessedAt,
		CreatedAt:     payment.CreatedAt,
	}
}

// =============================================================================
// Хендлеры
// =============================================================================

// ListPaymentCodes возвращает все платёжные коды.
// GET /payment-codes
func (h *PaymentHandler) ListPaymentCodes(c *gin.Context) {
	codes, err := h.paymentService.ListPaymentCodes(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	responses := make([]PaymentCodeResponse, 0, len(codes))
	for _, code := range codes {
		responses = append(responses, toCodeResponse(code))
	}

	c.JSON(http.StatusOK, gin.H{"payment_codes": responses, "total": len(responses)})
}

// GetPaymentCode возвращает платёжный код по значению.
// GET /payment-codes/:code
func (h *PaymentHandler) GetPaymentCode(c *gin.Context) {
	code, err := h.paymentService.GetPaymentCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, toCodeResponse(code))
}

// ListPayments возвращает все платежи.
// GET /payments
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	payments, err := h.paymentService.ListPayments(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	responses := make([]PaymentResponse, 0, len(payments))
	for _, payment := range payments {
		responses = append(responses, toPaymentResponse(payment))
	}

	c.JSON(http.StatusOK, gin.H{"payments": responses, "total": len(responses)})
}

// GetPayment возвращает платёж по ID.
// GET /payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	payment, err := h.paymentService.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

// handleError транслирует доменные ошибки в HTTP-статусы.
func (h *PaymentHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrPaymentCodeNotFound), errors.Is(err, domain.ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	default:
		log := logger.FromContext(c.Request.Context())
		log.Error().Err(err).Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Internal server error",
		})
	}
}
