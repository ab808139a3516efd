// Package saga содержит моки для тестирования saga пакета.
package saga

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"example.com/vehicle-sales/pkg/kafka"
	outboxpkg "example.com/vehicle-sales/pkg/outbox"
	"example.com/vehicle-sales/services/orchestrator/internal/client"
)

// =============================================================================
// MockSagaRepository — мок SagaRepository
// =============================================================================

// MockSagaRepository — мок SagaRepository.
// Реализует только методы из интерфейса (ISP).
type MockSagaRepository struct {
	mock.Mock
}

func (m *MockSagaRepository) GetByID(ctx context.Context, transactionID string) (*SagaState, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SagaState), args.Error(1)
}

func (m *MockSagaRepository) List(ctx context.Context, limit, offset int) ([]*SagaState, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*SagaState), args.Error(1)
}

func (m *MockSagaRepository) CreateWithOutbox(ctx context.Context, saga *SagaState, records []*outboxpkg.Outbox) error {
	args := m.Called(ctx, saga, records)
	return args.Error(0)
}

func (m *MockSagaRepository) UpdateWithOutbox(ctx context.Context, saga *SagaState, records []*outboxpkg.Outbox) error {
	args := m.Called(ctx, saga, records)
	return args.Error(0)
}

func (m *MockSagaRepository) GetStuck(ctx context.Context, statuses []Status, olderThan time.Duration, limit int) ([]*SagaState, error) {
	args := m.Called(ctx, statuses, olderThan, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*SagaState), args.Error(1)
}

// =============================================================================
// MockVehicleClient / MockCustomerClient — моки HTTP клиентов
// =============================================================================

// MockVehicleClient — мок VehicleClient.
type MockVehicleClient struct {
	mock.Mock
}

func (m *MockVehicleClient) GetVehicle(ctx context.Context, vehicleID string) (*client.Vehicle, error) {
	args := m.Called(ctx, vehicleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.Vehicle), args.Error(1)
}

func (m *MockVehicleClient) MarkAsSold(ctx context.Context, vehicleID string) error {
	args := m.Called(ctx, vehicleID)
	return args.Error(0)
}

// MockCustomerClient — мок CustomerClient.
type MockCustomerClient struct {
	mock.Mock
}

func (m *MockCustomerClient) GetCustomer(ctx context.Context, customerID string) (*client.Customer, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.Customer), args.Error(1)
}

// =============================================================================
// MockKafkaConsumer — мок KafkaConsumer
// =============================================================================

// MockKafkaConsumer — мок KafkaConsumer.
type MockKafkaConsumer struct {
	mock.Mock
	capturedHandler kafka.MessageHandler // Захватываем handler для вызова в тестах
}

func (m *MockKafkaConsumer) ConsumeWithRetry(ctx context.Context, handler kafka.MessageHandler, maxRetries int) error {
	args := m.Called(ctx, handler, maxRetries)
	m.capturedHandler = handler // Сохраняем handler для тестирования
	return args.Error(0)
}

func (m *MockKafkaConsumer) Close() error {
	args := m.Called()
	return args.Error(0)
}

// =============================================================================
// MockOrchestrator — мок Orchestrator
// =============================================================================

// MockOrchestrator — мок Orchestrator.
type MockOrchestrator struct {
	mock.Mock
}

func (m *MockOrchestrator) StartPurchase(ctx context.Context, in *StartPurchaseInput) (*SagaState, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SagaState), args.Error(1)
}

func (m *MockOrchestrator) HandleEvent(ctx context.Context, ev *Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockOrchestrator) Cancel(ctx context.Context, transactionID, reason string) (CancelOutcome, *SagaState, error) {
	args := m.Called(ctx, transactionID, reason)
	var saga *SagaState
	if args.Get(1) != nil {
		saga = args.Get(1).(*SagaState)
	}
	return args.Get(0).(CancelOutcome), saga, args.Error(2)
}

func (m *MockOrchestrator) Timeout(ctx context.Context, saga *SagaState, reason string) error {
	args := m.Called(ctx, saga, reason)
	return args.Error(0)
}

func (m *MockOrchestrator) GetSaga(ctx context.Context, transactionID string) (*SagaState, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SagaState), args.Error(1)
}

func (m *MockOrchestrator) ListSagas(ctx context.Context, limit, offset int) ([]*SagaState, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*SagaState), args.Error(1)
}
