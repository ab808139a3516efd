package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/vehicle-sales/pkg/logger"
	"example.com/vehicle-sales/services/orchestrator/internal/saga"
)

// PurchaseHandler — обработчик операций саги покупки.
type PurchaseHandler struct {
	orchestrator saga.Orchestrator
}

// NewPurchaseHandler создаёт новый обработчик покупок.
func NewPurchaseHandler(orchestrator saga.Orchestrator) *PurchaseHandler {
	return &PurchaseHandler{
		orchestrator: orchestrator,
	}
}

// === Request/Response DTOs ===

// PurchaseRequest — запрос на покупку автомобиля.
type PurchaseRequest struct {
	CustomerID  string `json:"customer_id" binding:"required,uuid"`
	VehicleID   string `json:"vehicle_id" binding:"required,uuid"`
	PaymentType string `json:"payment_type" binding:"required,oneof=cash credit"`
}

// PurchaseResponse — ответ на запуск саги покупки (202 Accepted).
type PurchaseResponse struct {
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
	SagaStatus    string `json:"saga_status"`
	VehiclePrice  int64  `json:"vehicle_price"`
	PaymentType   string `json:"payment_type"`
}

// SagaStateResponse — представление саги в ответе API.
type SagaStateResponse struct {
	TransactionID string       `json:"transaction_id"`
	CustomerID    string       `json:"customer_id"`
	VehicleID     string       `json:"vehicle_id"`
	Amount        int64        `json:"amount"`
	PaymentType   string       `json:"payment_type"`
	Status        string       `json:"status"`
	CurrentStep   string       `json:"current_step"`
	Context       saga.Context `json:"context"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ListSagaStatesResponse — ответ на запрос списка саг.
type ListSagaStatesResponse struct {
	SagaStates []SagaStateResponse `json:"saga_states"`
	Count      int                 `json:"count"`
}

// CancelRequest — запрос на отмену покупки. Причина опциональна.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CancelResponse — ответ на принятый запрос отмены.
type CancelResponse struct {
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
	SagaStatus    string `json:"saga_status"`
}

// === Handlers ===

// Purchase запускает сагу покупки автомобиля.
// POST /purchase
func (h *PurchaseHandler) Purchase(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос на покупку")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Невалидные данные запроса: требуются customer_id (uuid), vehicle_id (uuid) и payment_type (cash|credit)",
		})
		return
	}

	sagaState, err := h.orchestrator.StartPurchase(ctx, &saga.StartPurchaseInput{
		CustomerID:  req.CustomerID,
		VehicleID:   req.VehicleID,
		PaymentType: req.PaymentType,
	})
	if err != nil {
		HandleError(c, err, "Purchase")
		return
	}

	// 202: сага запущена, результат определится асинхронно.
	c.JSON(http.StatusAccepted, PurchaseResponse{
		Message:       "Purchase saga initiated. Credit reservation pending.",
		TransactionID: sagaState.TransactionID,
		SagaStatus:    string(sagaState.Status),
		VehiclePrice:  sagaState.Amount,
		PaymentType:   sagaState.PaymentType,
	})
}

// GetSagaState возвращает сагу по transaction_id.
// GET /saga-states/:transaction_id
func (h *PurchaseHandler) GetSagaState(c *gin.Context) {
	ctx := c.Request.Context()

	transactionID := c.Param("transaction_id")
	if transactionID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "transaction_id обязателен",
		})
		return
	}

	sagaState, err := h.orchestrator.GetSaga(ctx, transactionID)
	if err != nil {
		HandleError(c, err, "GetSagaState")
		return
	}

	c.JSON(http.StatusOK, sagaToResponse(sagaState))
}

// ListSagaStates возвращает список саг постранично (новые первыми).
// GET /saga-states?limit=20&offset=0
func (h *PurchaseHandler) ListSagaStates(c *gin.Context) {
	ctx := c.Request.Context()

	limit := 20
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	sagas, err := h.orchestrator.ListSagas(ctx, limit, offset)
	if err != nil {
		HandleError(c, err, "ListSagaStates")
		return
	}

	states := make([]SagaStateResponse, len(sagas))
	for i, s := range sagas {
		states[i] = sagaToResponse(s)
	}

	c.JSON(http.StatusOK, ListSagaStatesResponse{
		SagaStates: states,
		Count:      len(states),
	})
}

// CancelPurchase обрабатывает запрос пользователя на отмену покупки.
// POST /purchase/:transaction_id/cancel
func (h *PurchaseHandler) CancelPurchase(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	transactionID := c.Param("transaction_id")
	if transactionID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "transaction_id обязателен",
		})
		return
	}

	// Body опционален: отмена без причины допустима.
	var req CancelRequest
	_ = c.ShouldBindJSON(&req)
	reason := req.Reason
	if reason == "" {
		reason = "Cancelled by customer request"
	}

	outcome, sagaState, err := h.orchestrator.Cancel(ctx, transactionID, reason)
	if err != nil {
		HandleError(c, err, "CancelPurchase")
		return
	}

	switch outcome {
	case saga.CancelAccepted:
		log.Info().
			Str("transaction_id", transactionID).
			Str("reason", reason).
			Msg("Отмена покупки принята")
		c.JSON(http.StatusOK, CancelResponse{
			Message:       "Cancellation initiated. Compensation in progress.",
			TransactionID: transactionID,
			SagaStatus:    string(sagaState.Status),
		})

	case saga.CancelAlreadyInProgress:
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "cancellation_in_progress",
			Message: "Cancellation already in progress",
		})

	case saga.CancelCompensating:
		// Сага уже разворачивается после отказа участника — отменять нечего.
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "compensation_in_progress",
			Message: "Transaction is already being compensated",
		})

	case saga.CancelTooAdvanced:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "cancellation_rejected",
			Message: saga.ReasonCancelTooAdvanced,
		})

	case saga.CancelAlreadyCompleted:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "cancellation_rejected",
			Message: saga.ReasonCancelAlreadyCompleted,
		})

	default: // CancelTerminal
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "cancellation_rejected",
			Message: "Transaction is already finished",
		})
	}
}

// === Helper functions ===

// sagaToResponse преобразует доменную сагу в response DTO.
func sagaToResponse(s *saga.SagaState) SagaStateResponse {
	return SagaStateResponse{
		TransactionID: s.TransactionID,
		CustomerID:    s.CustomerID,
		VehicleID:     s.VehicleID,
		Amount:        s.Amount,
		PaymentType:   s.PaymentType,
		Status:        string(s.Status),
		CurrentStep:   string(s.CurrentStep),
		Context:       s.Context,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
