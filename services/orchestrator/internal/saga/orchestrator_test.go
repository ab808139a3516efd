package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	outboxpkg "example.com/vehicle-sales/pkg/outbox"
	sagatypes "example.com/vehicle-sales/pkg/saga"
	"example.com/vehicle-sales/services/orchestrator/internal/client"
)

// newTestOrchestrator собирает оркестратор с моками зависимостей.
func newTestOrchestrator() (*MockSagaRepository, *MockVehicleClient, *MockCustomerClient, Orchestrator) {
	sagaRepo := new(MockSagaRepository)
	vehicleClient := new(MockVehicleClient)
	customerClient := new(MockCustomerClient)
	return sagaRepo, vehicleClient, customerClient, NewOrchestrator(sagaRepo, vehicleClient, customerClient)
}

func availableVehicle() *client.Vehicle {
	return &client.Vehicle{
		ID:     "veh-1",
		Brand:  "Toyota",
		Model:  "Corolla",
		Year:   2022,
		Price:  3500000,
		Status: "available",
	}
}

func testCustomer() *client.Customer {
	return &client.Customer{
		ID:              "cust-1",
		Name:            "Иван Петров",
		AccountBalance:  5000000,
		CreditLimit:     10000000,
		AvailableCredit: 10000000,
	}
}

// =============================================================================
// StartPurchase
// =============================================================================

func TestOrchestrator_StartPurchase_Success(t *testing.T) {
	sagaRepo, vehicleClient, customerClient, orch := newTestOrchestrator()

	vehicleClient.On("GetVehicle", mock.Anything, "veh-1").Return(availableVehicle(), nil)
	customerClient.On("GetCustomer", mock.Anything, "cust-1").Return(testCustomer(), nil)
	sagaRepo.On("CreateWithOutbox", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	saga, err := orch.StartPurchase(context.Background(), &StartPurchaseInput{
		CustomerID:  "cust-1",
		VehicleID:   "veh-1",
		PaymentType: sagatypes.PaymentTypeCash,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, saga.TransactionID)
	assert.Equal(t, StatusInProgress, saga.Status)
	assert.Equal(t, StepCreditReservation, saga.CurrentStep)
	// Цена фиксируется из Vehicle Service, не из запроса.
	assert.Equal(t, int64(3500000), saga.Amount)
	require.NotNil(t, saga.Context.Vehicle)
	assert.Equal(t, "Toyota", saga.Context.Vehicle.Brand)
	require.NotNil(t, saga.Context.Customer)
	assert.Equal(t, int64(5000000), saga.Context.Customer.AccountBalance)

	// Сага и команда ReserveCredit создаются одной транзакцией.
	sagaRepo.AssertCalled(t, "CreateWithOutbox", mock.Anything, saga, mock.MatchedBy(func(records []*outboxpkg.Outbox) bool {
		return len(records) == 1 &&
			records[0].Topic == "commands.credit.reserve" &&
			records[0].MessageKey == saga.TransactionID
	}))
}

func TestOrchestrator_StartPurchase_VehicleNotFound(t *testing.T) {
	sagaRepo, vehicleClient, _, orch := newTestOrchestrator()

	vehicleClient.On("GetVehicle", mock.Anything, "veh-404").Return(nil, client.ErrVehicleNotFound)

	_, err := orch.StartPurchase(context.Background(), &StartPurchaseInput{
		CustomerID:  "cust-1",
		VehicleID:   "veh-404",
		PaymentType: sagatypes.PaymentTypeCash,
	})

	assert.ErrorIs(t, err, client.ErrVehicleNotFound)
	sagaRepo.AssertNotCalled(t, "CreateWithOutbox", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_StartPurchase_VehicleNotAvailable(t *testing.T) {
	_, vehicleClient, _, orch := newTestOrchestrator()

	v := availableVehicle()
	v.Status = "reserved"
	vehicleClient.On("GetVehicle", mock.Anything, "veh-1").Return(v, nil)

	_, err := orch.StartPurchase(context.Background(), &StartPurchaseInput{
		CustomerID:  "cust-1",
		VehicleID:   "veh-1",
		PaymentType: sagatypes.PaymentTypeCredit,
	})

	assert.ErrorIs(t, err, client.ErrVehicleNotAvailable)
}

func TestOrchestrator_StartPurchase_CustomerNotFound(t *testing.T) {
	_, vehicleClient, customerClient, orch := newTestOrchestrator()

	vehicleClient.On("GetVehicle", mock.Anything, "veh-1").Return(availableVehicle(), nil)
	customerClient.On("GetCustomer", mock.Anything, "cust-404").Return(nil, client.ErrCustomerNotFound)

	_, err := orch.StartPurchase(context.Background(), &StartPurchaseInput{
		CustomerID:  "cust-404",
		VehicleID:   "veh-1",
		PaymentType: sagatypes.PaymentTypeCash,
	})

	assert.ErrorIs(t, err, client.ErrCustomerNotFound)
}

func TestOrchestrator_StartPurchase_InsufficientFunds(t *testing.T) {
	tests := []struct {
		name        string
		paymentType string
		customer    func() *client.Customer
	}{
		{
			name:        "cash - баланса меньше цены",
			paymentType: sagatypes.PaymentTypeCash,
			customer: func() *client.Customer {
				c := testCustomer()
				c.AccountBalance = 3499999
				return c
			},
		},
		{
			name:        "credit - доступного кредита меньше цены",
			paymentType: sagatypes.PaymentTypeCredit,
			customer: func() *client.Customer {
				c := testCustomer()
				c.AvailableCredit = 3499999
				return c
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sagaRepo, vehicleClient, customerClient, orch := newTestOrchestrator()

			vehicleClient.On("GetVehicle", mock.Anything, "veh-1").Return(availableVehicle(), nil)
			customerClient.On("GetCustomer", mock.Anything, "cust-1").Return(tt.customer(), nil)

			_, err := orch.StartPurchase(context.Background(), &StartPurchaseInput{
				CustomerID:  "cust-1",
				VehicleID:   "veh-1",
				PaymentType: tt.paymentType,
			})

			assert.ErrorIs(t, err, client.ErrInsufficientFunds)
			// Сага не создаётся — синхронный отказ.
			sagaRepo.AssertNotCalled(t, "CreateWithOutbox", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

// Сумма, равная балансу, проходит - граница включительная.
func TestOrchestrator_StartPurchase_ExactBalanceSucceeds(t *testing.T) {
	sagaRepo, vehicleClient, customerClient, orch := newTestOrchestrator()

	c := testCustomer()
	c.AccountBalance = 3500000
	vehicleClient.On("GetVehicle", mock.Anything, "veh-1").Return(availableVehicle(), nil)
	customerClient.On("GetCustomer", mock.Anything, "cust-1").Return(c, nil)
	sagaRepo.On("CreateWithOutbox", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	saga, err := orch.StartPurchase(context.Background(), &StartPurchaseInput{
		CustomerID:  "cust-1",
		VehicleID:   "veh-1",
		PaymentType: sagatypes.PaymentTypeCash,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, saga.Status)
}

// =============================================================================
// HandleEvent
// =============================================================================

func TestOrchestrator_HandleEvent_Applied(t *testing.T) {
	sagaRepo, _, _, orch := newTestOrchestrator()

	saga := inProgressSaga(StepCreditReservation)
	sagaRepo.On("GetByID", mock.Anything, "txn-1").Return(saga, nil)
	sagaRepo.On("UpdateWithOutbox", mock.Anything, saga, mock.MatchedBy(func(records []*outboxpkg.Outbox) bool {
		return len(records) == 1 && records[0].Topic == "commands.vehicle.reserve"
	})).Return(nil)

	err := orch.HandleEvent(context.Background(), &Event{
		TransactionID: "txn-1",
		Type:          sagatypes.EventCreditReserved,
	})

	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, saga.Status)
	assert.Equal(t, StepVehicleReservation, saga.CurrentStep)
}

func TestOrchestrator_HandleEvent_DuplicateIgnored(t *testing.T) {
	sagaRepo, _, _, orch := newTestOrchestrator()

	// Сага уже ушла дальше — повторный CreditReserved не применяется.
	saga := inProgressSaga(StepPaymentProcessing)
	sagaRepo.On("GetByID", mock.Anything, "txn-1").Return(saga, nil)

	err := orch.HandleEvent(context.Background(), &Event{
		TransactionID: "txn-1",
		Type:          sagatypes.EventCreditReserved,
	})

	require.NoError(t, err)
	sagaRepo.AssertNotCalled(t, "UpdateWithOutbox", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_HandleEvent_UnknownSaga_Acked(t *testing.T) {
	sagaRepo, _, _, orch := newTestOrchestrator()

	sagaRepo.On("GetByID", mock.Anything, "txn-missing").Return(nil, ErrSagaNotFound)

	err := orch.HandleEvent(context.Background(), &Event{
		TransactionID: "txn-missing",
		Type:          sagatypes.EventCreditReserved,
	})

	// Повтор не поможет — сообщение подтверждается без ошибки.
	assert.NoError(t, err)
}

func TestOrchestrator_HandleEvent_ConcurrentUpdate_Retries(t *testing.T) {
	sagaRepo, _, _, orch := newTestOrchestrator()

	// Первая попытка: событие применяется к устаревшей версии.
	stale := inProgressSaga(StepCreditReservation)
	// Вторая попытка: отмена успела перевести сагу в CANCELLING —
	// CreditReserved теперь игнорируется.
	fresh := inProgressSaga(StepCancellationCreditRelease)
	fresh.Status = StatusCancelling

	sagaRepo.On("GetByID", mock.Anything, "txn-1").Return(stale, nil).Once()
	sagaRepo.On("GetByID", mock.Anything, "txn-1").Return(fresh, nil).Once()
	sagaRepo.On("UpdateWithOutbox", mock.Anything, stale, mock.Anything).Return(ErrSagaConcurrentUpdate).Once()

	err := orch.HandleEvent(context.Background(), &Event{
		TransactionID: "txn-1",
		Type:          sagatypes.EventCreditReserved,
	})

	require.NoError(t, err)
	sagaRepo.AssertNumberOfCalls(t, "GetByID", 2)
}

// =============================================================================
// Финальный шаг: mark_as_sold
// =============================================================================

func TestOrchestrator_HandleEvent_PaymentProcessed_CompletesSaga(t *testing.T) {
	sagaRepo, vehicleClient, _, orch := newTestOrchestrator()

	saga := inProgressSaga(StepPaymentProcessing)
	sagaRepo.On("GetByID", mock.Anything, "txn-1").Return(saga, nil)
	// Два персиста: MARK_VEHICLE_AS_SOLD, затем COMPLETED.
	sagaRepo.On("UpdateWithOutbox", mock.Anything, saga, mock.Anything).Return(nil).Twice()
	vehicleClient.On("MarkAsSold", mock.Anything, "veh-1").Return(nil)

	err := orch.HandleEvent(context.Background(), &Event{
		TransactionID: "txn-1",
		Type:          sagatypes.EventPaymentProcessed,
		PaymentID:     "pay-77",
	})

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, saga.Status)
	assert.Equal(t, StepSagaComplete, saga.CurrentStep)
	assert.Equal(t, "pay-77", saga.Context.PaymentID)
	vehicleClient.AssertCalled(t, "MarkAsSold", mock.Anything, "veh-1")
}

func TestOrchestrator_HandleEvent_MarkAsSoldFails_Escalates(t *testing.T) {
	sagaRepo, vehicleClient, _, orch := newTestOrchestrator()

	saga := inProgressSaga(StepPaymentProcessing)
	sagaRepo.On("GetByID", mock.Anything, "txn-1").Return(saga, nil)
	sagaRepo.On("UpdateWithOutbox", mock.Anything, saga, mock.Anything).Return(nil).Twice()
	vehicleClient.On("MarkAsSold", mock.Anything, "veh-1").Return(errors.New("Vehicle Service вернул статус 500"))

	err := orch.HandleEvent(context.Background(), &Event{
		TransactionID: "txn-1",
		Type:          sagatypes.EventPaymentProcessed,
		PaymentID:     "pay-77",
	})

	require.NoError(t, err)
	// Платёж проведён, продажа не подтверждена — только оператор.
	assert.Equal(t, StatusFailedManualIntervention, saga.Status)
	assert.Equal(t, StepMarkVehicleAsSoldFailed, saga.CurrentStep)
	assert.NotEmpty(t, saga.Context.Error)
}

func TestOrchestrator_CompleteSale_ConcurrentCancel_KeepsCancellationState(t *testing.T) {
	sagaRepo, vehicleClient, _, orch := newTestOrchestrator()

	saga := inProgressSaga(StepPaymentProcessing)
	sagaRepo.On("GetByID", mock.Anything, "txn-1").Return(saga, nil)
	// Персист MARK_VEHICLE_AS_SOLD проходит, персист COMPLETED конфликтует:
	// отмена вклинилась между mark_as_sold и фиксацией.
	sagaRepo.On("UpdateWithOutbox", mock.Anything, saga, mock.Anything).Return(nil).Once()
	sagaRepo.On("UpdateWithOutbox", mock.Anything, saga, mock.Anything).Return(ErrSagaConcurrentUpdate).Once()
	vehicleClient.On("MarkAsSold", mock.Anything, "veh-1").Return(nil)

	err := orch.HandleEvent(context.Background(), &Event{
		TransactionID: "txn-1",
		Type:          sagatypes.EventPaymentProcessed,
		PaymentID:     "pay-77",
	})

	// Конфликт при завершении не ошибка: состояние определяет отмена.
	assert.NoError(t, err)
}

// =============================================================================
// Cancel
// =============================================================================

func TestOrchestrator_Cancel_Accepted(t *testing.T) {
	sagaRepo, _, _, orch := newTestOrchestrator()

	saga := inProgressSaga(StepVehicleReservation)
	sagaRepo.On("GetByID", mock.Anything, "txn-1").Return(saga, nil)
	sagaRepo.On("UpdateWithOutbox", mock.Anything, saga, mock.MatchedBy(func(records []*outboxpkg.Outbox) bool {
		return len(records) == 1 && records[0].Topic == "commands.vehicle.release"
	})).Return(nil)

	outcome, result, err := orch.Cancel(context.Background(), "txn-1", "Changed my mind")

	require.NoError(t, err)
	assert.Equal(t, CancelAccepted, outcome)
	assert.Equal(t, StatusCancelling, result.Status)
	assert.Equal(t, StepCancellationVehicleRelease, result.CurrentStep)
	assert.Equal(t, string(StepVehicleReservation), result.Context.OriginalStep)
}

func TestOrchestrator_Cancel_NotFound(t *testing.T) {
	sagaRepo, _, _, orch := newTestOrchestrator()

	sagaRepo.On("GetByID", mock.Anything, "txn-missing").Return(nil, ErrSagaNotFound)

	_, _, err := orch.Cancel(context.Background(), "txn-missing", "reason")

	assert.ErrorIs(t, err, ErrSagaNotFound)
}

func TestOrchestrator_Cancel_Completed_PersistsRejection(t *testing.T) {
	sagaRepo, _, _, orch := newTestOrchestrator()

	saga := inProgressSaga(StepSagaComplete)
	saga.Status = StatusCompleted
	sagaRepo.On("GetByID", mock.Anything, "txn-1").Return(saga, nil)
	sagaRepo.On("UpdateWithOutbox", mock.Anything, saga, mock.MatchedBy(func(records []*outboxpkg.Outbox) bool {
		return len(records) == 1 && records[0].Topic == "events.purchase.cancellation-failed"
	})).Return(nil)

	outcome, result, err := orch.Cancel(context.Background(), "txn-1", "too late")

	require.NoError(t, err)
	assert.Equal(t, CancelAlreadyCompleted, outcome)
	assert.Equal(t, StatusCancellationFailed, result.Status)
	assert.Equal(t, ReasonCancelAlreadyCompleted, result.Context.CancellationError)
}

func TestOrchestrator_Cancel_AlreadyCancelling_NoPersist(t *testing.T) {
	sagaRepo, _, _, orch := newTestOrchestrator()

	saga := inProgressSaga(StepCancellationCreditRelease)
	saga.Status = StatusCancelling
	sagaRepo.On("GetByID", mock.Anything, "txn-1").Return(saga, nil)

	outcome, _, err := orch.Cancel(context.Background(), "txn-1", "again")

	require.NoError(t, err)
	assert.Equal(t, CancelAlreadyInProgress, outcome)
	sagaRepo.AssertNotCalled(t, "UpdateWithOutbox", mock.Anything, mock.Anything, mock.Anything)
}

// =============================================================================
// Timeout
// =============================================================================

func TestOrchestrator_Timeout_AppliesCompensation(t *testing.T) {
	sagaRepo, _, _, orch := newTestOrchestrator()

	saga := inProgressSaga(StepVehicleReservation)
	sagaRepo.On("UpdateWithOutbox", mock.Anything, saga, mock.Anything).Return(nil)

	err := orch.Timeout(context.Background(), saga, "timeout")

	require.NoError(t, err)
	assert.Equal(t, StatusCompensating, saga.Status)
	assert.Equal(t, StepVehicleRelease, saga.CurrentStep)
}

func TestOrchestrator_Timeout_SagaRevived_Skipped(t *testing.T) {
	sagaRepo, _, _, orch := newTestOrchestrator()

	saga := inProgressSaga(StepVehicleReservation)
	// Сага ожила: событие участника обновило версию раньше таймаута.
	sagaRepo.On("UpdateWithOutbox", mock.Anything, saga, mock.Anything).Return(ErrSagaConcurrentUpdate)

	err := orch.Timeout(context.Background(), saga, "timeout")

	assert.NoError(t, err)
}
