// Package handler содержит HTTP обработчики REST API Customer Service.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/vehicle-sales/pkg/logger"
	"example.com/vehicle-sales/services/customer/internal/domain"
	"example.com/vehicle-sales/services/customer/internal/service"
)

// =============================================================================
// Запросы и ответы
// =============================================================================

// CreateCustomerRequest — тело POST /customers.
// Денежные поля в центах.
type CreateCustomerRequest struct {
	Name           string `json:"name" binding:"required,min=3,max=100"`
	Email          string `json:"email" binding:"required,email,max=100"`
	Phone          string `json:"phone" binding:"required,min=10,max=20"`
	Document       string `json:"document" binding:"required,len=11"`
	InitialBalance int64  `json:"initial_balance" binding:"gte=0"`
	CreditLimit    int64  `json:"credit_limit" binding:"gte=0"`
}

// UpdateCustomerRequest — тело PUT /customers/:id. nil-поля не изменяются.
type UpdateCustomerRequest struct {
	Name           *string `json:"name" binding:"omitempty,min=3,max=100"`
	Email          *string `json:"email" binding:"omitempty,email,max=100"`
	Phone          *string `json:"phone" binding:"omitempty,min=10,max=20"`
	InitialBalance *int64  `json:"initial_balance" binding:"omitempty,gte=0"`
	CreditLimit    *int64  `json:"credit_limit" binding:"omitempty,gte=0"`
}

// CustomerResponse — клиент в ответах API. Документ маскирован.
type CustomerResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone"`
	Document        string    `json:"document"`
	AccountBalance  int64     `json:"account_balance"`
	CreditLimit     int64     `json:"credit_limit"`
	UsedCredit      int64     `json:"used_credit"`
	AvailableCredit int64     `json:"available_credit"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// ListCustomersResponse — ответ GET /customers.
type ListCustomersResponse struct {
	Customers []CustomerResponse `json:"customers"`
	Total     int                `json:"total"`
	Timestamp time.Time          `json:"timestamp"`
}

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// =============================================================================
// CustomerHandler
// =============================================================================

// CustomerHandler обрабатывает HTTP запросы CRUD клиентов.
type CustomerHandler struct {
	customerService service.CustomerService
}

// NewCustomerHandler создаёт новый handler клиентов.
func NewCustomerHandler(customerService service.CustomerService) *CustomerHandler {
	return &CustomerHandler{customerService: customerService}
}

// CreateCustomer обрабатывает POST /customers.
// 201 — создан, 409 — дубликат email/документа.
func (h *CustomerHandler) CreateCustomer(c *gin.Context) {
	var req CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	customer, err := h.customerService.CreateCustomer(c.Request.Context(), service.CreateCustomerRequest{
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
		Document:       req.Document,
		InitialBalance: req.InitialBalance,
		CreditLimit:    req.CreditLimit,
	})
	if err != nil {
		h.handleError(c, err, "CreateCustomer")
		return
	}

	c.JSON(http.StatusCreated, customerToResponse(customer))
}

// GetCustomer обрабатывает GET /customers/:id.
func (h *CustomerHandler) GetCustomer(c *gin.Context) {
	customer, err := h.customerService.GetCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err, "GetCustomer")
		return
	}

	c.JSON(http.StatusOK, customerToResponse(customer))
}

// ListCustomers обрабатывает GET /customers.
func (h *CustomerHandler) ListCustomers(c *gin.Context) {
	customers, err := h.customerService.ListCustomers(c.Request.Context())
	if err != nil {
		h.handleError(c, err, "ListCustomers")
		return
	}

	responses := make([]CustomerResponse, 0, len(customers))
	for _, customer := range customers {
		responses = append(responses, customerToResponse(customer))
	}

	c.JSON(http.StatusOK, ListCustomersResponse{
		Customers: responses,
		Total:     len(responses),
		Timestamp: time.Now(),
	})
}

// UpdateCustomer обрабатывает PUT /customers/:id.
// 409 — email занят другим клиентом.
func (h *CustomerHandler) UpdateCustomer(c *gin.Context) {
	var req UpdateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	customer, err := h.customerService.UpdateCustomer(c.Request.Context(), service.UpdateCustomerRequest{
		CustomerID:     c.Param("id"),
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
		InitialBalance: req.InitialBalance,
		CreditLimit:    req.CreditLimit,
	})
	if err != nil {
		h.handleError(c, err, "UpdateCustomer")
		return
	}

	c.JSON(http.StatusOK, customerToResponse(customer))
}

// handleError преобразует ошибку доменного слоя в HTTP ответ.
func (h *CustomerHandler) handleError(c *gin.Context, err error, method string) {
	log := logger.FromContext(c.Request.Context())

	switch {
	case errors.Is(err, domain.ErrCustomerNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: domain.ErrCustomerNotFound.Error(),
		})

	case errors.Is(err, domain.ErrDuplicateCustomer):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "duplicate_customer",
			Message: domain.ErrDuplicateCustomer.Error(),
		})

	default:
		log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
	}
}

// customerToResponse конвертирует доменную сущность в DTO ответа.
func customerToResponse(customer *domain.Customer) CustomerResponse {
	return CustomerResponse{
		ID:              customer.ID,
		Name:            customer.Name,
		Email:           customer.Email,
		Phone:           customer.Phone,
		Document:        customer.MaskedDocument(),
		AccountBalance:  customer.AccountBalance,
		CreditLimit:     customer.CreditLimit,
		UsedCredit:      customer.UsedCredit,
		AvailableCredit: customer.AvailableCredit(),
		Status:          customer.Status,
		CreatedAt:       customer.CreatedAt,
	}
}
