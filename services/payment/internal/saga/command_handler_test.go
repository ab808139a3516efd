package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/vehicle-sales/pkg/kafka"
	"example.com/vehicle-sales/pkg/outbox"
	sagatypes "example.com/vehicle-sales/pkg/saga"
	"example.com/vehicle-sales/services/payment/internal/domain"
	"example.com/vehicle-sales/services/payment/internal/service"
)

// =============================================================================
// Моки
// =============================================================================

type MockKafkaConsumer struct {
	mock.Mock
	capturedHandler kafka.MessageHandler
}

func (m *MockKafkaConsumer) ConsumeWithRetry(ctx context.Context, handler kafka.MessageHandler, maxRetries int) error {
	m.capturedHandler = handler
	args := m.Called(ctx, handler, maxRetries)
	return args.Error(0)
}

func (m *MockKafkaConsumer) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Create(ctx context.Context, record *outbox.Outbox) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockOutboxRepository) GetUnprocessed(ctx context.Context, limit int) ([]*outbox.Outbox, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*outbox.Outbox), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id string, err error) error {
	args := m.Called(ctx, id, err)
	return args.Error(0)
}

func (m *MockOutboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) GeneratePaymentCode(ctx context.Context, req service.GenerateCodeRequest) (*service.GenerateCodeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.GenerateCodeResult), args.Error(1)
}

func (m *MockPaymentService) ProcessPayment(ctx context.Context, req service.ProcessPaymentRequest) (*service.ProcessPaymentResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ProcessPaymentResult), args.Error(1)
}

func (m *MockPaymentService) RefundPayment(ctx context.Context, req service.RefundRequest) (*service.RefundResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RefundResult), args.Error(1)
}

func (m *MockPaymentService) GetPaymentCode(ctx context.Context, code string) (*domain.PaymentCode, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentCode), args.Error(1)
}

func (m *MockPaymentService) ListPaymentCodes(ctx context.Context) ([]*domain.PaymentCode, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PaymentCode), args.Error(1)
}

func (m *MockPaymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentService) ListPayments(ctx context.Context) ([]*domain.Payment, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Payment), args.Error(1)
}

func (m *MockPaymentService) ExpireCodes(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// =============================================================================
// Helpers
// =============================================================================

func commandMessage(t *testing.T, topic string, cmd *sagatypes.Command) *kafka.Message {
	t.Helper()
	cmd.Timestamp = time.Now()
	payload, err := cmd.ToJSON()
	require.NoError(t, err)
	return &kafka.Message{
		Topic: topic,
		Key:   []byte(cmd.TransactionID),
		Value: payload,
	}
}

func generateCodeMessage(t *testing.T) *kafka.Message {
	return commandMessage(t, kafka.TopicPaymentGenerateCodeCommand, &sagatypes.Command{
		TransactionID: "txn-1",
		Type:          sagatypes.CommandGeneratePaymentCode,
		CustomerID:    "cust-1",
		VehicleID:     "veh-1",
		Amount:        3500000,
		PaymentType:   "cash",
	})
}

func processPaymentMessage(t *testing.T) *kafka.Message {
	return commandMessage(t, kafka.TopicPaymentProcessCommand, &sagatypes.Command{
		TransactionID: "txn-1",
		Type:          sagatypes.CommandProcessPayment,
		PaymentCode:   "PAY1234561700000000",
		PaymentMethod: sagatypes.PaymentMethodPix,
	})
}

func refundPaymentMessage(t *testing.T) *kafka.Message {
	return commandMessage(t, kafka.TopicPaymentRefundCommand, &sagatypes.Command{
		TransactionID: "txn-1",
		Type:          sagatypes.CommandRefundPayment,
		PaymentID:     "pay-1",
	})
}

func testCode() *domain.PaymentCode {
	return &domain.PaymentCode{
		Code:          "PAY1234561700000000",
		TransactionID: "txn-1",
		CustomerID:    "cust-1",
		VehicleID:     "veh-1",
		Amount:        3500000,
		PaymentType:   "cash",
		Status:        domain.CodeStatusPending,
		ExpiresAt:     time.Now().Add(domain.CodeTTL),
	}
}

func testPayment() *domain.Payment {
	return &domain.Payment{
		ID:            "pay-1",
		TransactionID: "txn-1",
		PaymentCode:   "PAY1234561700000000",
		CustomerID:    "cust-1",
		VehicleID:     "veh-1",
		Amount:        3500000,
		PaymentType:   "cash",
		PaymentMethod: "pix",
		Status:        domain.PaymentStatusCompleted,
	}
}

func newHandler() (*CommandHandler, *MockKafkaConsumer, *MockOutboxRepository, *MockPaymentService) {
	consumer := new(MockKafkaConsumer)
	outboxRepo := new(MockOutboxRepository)
	svc := new(MockPaymentService)
	return NewCommandHandler(consumer, outboxRepo, svc), consumer, outboxRepo, svc
}

// =============================================================================
// GeneratePaymentCode
// =============================================================================

func TestCommandHandler_GenerateCode_Success(t *testing.T) {
	handler, _, outboxRepo, svc := newHandler()

	code := testCode()
	svc.On("GeneratePaymentCode", mock.Anything, service.GenerateCodeRequest{
		TransactionID: "txn-1",
		CustomerID:    "cust-1",
		VehicleID:     "veh-1",
		Amount:        3500000,
		PaymentType:   "cash",
	}).Return(&service.GenerateCodeResult{Success: true, Code: code}, nil)

	outboxRepo.On("Create", mock.Anything, mock.MatchedBy(func(record *outbox.Outbox) bool {
		ev, err := sagatypes.EventFromJSON(record.Payload)
		if err != nil {
			return false
		}
		return record.Topic == kafka.TopicPaymentCodeGenerated &&
			record.AggregateType == "payment" &&
			record.MessageKey == "txn-1" &&
			record.EventType == "saga.event.PAYMENT_CODE_GENERATED" &&
			ev.Type == sagatypes.EventPaymentCodeGenerated &&
			ev.PaymentCode == code.Code &&
			ev.Amount == 3500000 &&
			ev.ExpiresAt != nil
	})).Return(nil)

	err := handler.handleMessage(context.Background(), generateCodeMessage(t))

	require.NoError(t, err)
	svc.AssertExpectations(t)
	outboxRepo.AssertExpectations(t)
}

func TestCommandHandler_GenerateCode_Failure(t *testing.T) {
	handler, _, outboxRepo, svc := newHandler()

	svc.On("GeneratePaymentCode", mock.Anything, mock.Anything).
		Return(&service.GenerateCodeResult{Success: false, Reason: "Failed to generate payment code"}, nil)

	outboxRepo.On("Create", mock.Anything, mock.MatchedBy(func(record *outbox.Outbox) bool {
		ev, err := sagatypes.EventFromJSON(record.Payload)
		if err != nil {
			return false
		}
		return record.Topic == kafka.TopicPaymentCodeGenerationFailed &&
			ev.Type == sagatypes.EventPaymentCodeGenerationFailed &&
			ev.Reason == "Failed to generate payment code"
	})).Return(nil)

	err := handler.handleMessage(context.Background(), generateCodeMessage(t))

	require.NoError(t, err)
	outboxRepo.AssertExpectations(t)
}

// =============================================================================
// ProcessPayment
// =============================================================================

func TestCommandHandler_ProcessPayment_Success(t *testing.T) {
	handler, _, outboxRepo, svc := newHandler()

	svc.On("ProcessPayment", mock.Anything, service.ProcessPaymentRequest{
		TransactionID: "txn-1",
		PaymentCode:   "PAY1234561700000000",
		PaymentMethod: "pix",
	}).Return(&service.ProcessPaymentResult{
		Success: true,
		Payment: testPayment(),
		Code:    testCode(),
	}, nil)

	outboxRepo.On("Create", mock.Anything, mock.MatchedBy(func(record *outbox.Outbox) bool {
		ev, err := sagatypes.EventFromJSON(record.Payload)
		if err != nil {
			return false
		}
		return record.Topic == kafka.TopicPaymentProcessed &&
			record.EventType == "saga.event.PAYMENT_PROCESSED" &&
			ev.Type == sagatypes.EventPaymentProcessed &&
			ev.PaymentID == "pay-1" &&
			ev.PaymentCode == "PAY1234561700000000" &&
			ev.PaymentMethod == "pix" &&
			ev.Status == "completed" &&
			ev.Amount == 3500000
	})).Return(nil)

	err := handler.handleMessage(context.Background(), processPaymentMessage(t))

	require.NoError(t, err)
	svc.AssertExpectations(t)
	outboxRepo.AssertExpectations(t)
}

// Повторная доставка PROCESS_PAYMENT после refund: переизданное событие
// несёт фактический статус платежа, а не "completed".
func TestCommandHandler_ProcessPayment_RedeliveryAfterRefund_EmitsActualStatus(t *testing.T) {
	handler, _, outboxRepo, svc := newHandler()

	refunded := testPayment()
	refunded.Status = domain.PaymentStatusRefunded
	svc.On("ProcessPayment", mock.Anything, mock.Anything).
		Return(&service.ProcessPaymentResult{
			Success:          true,
			Payment:          refunded,
			Code:             testCode(),
			AlreadyProcessed: true,
		}, nil)

	outboxRepo.On("Create", mock.Anything, mock.MatchedBy(func(record *outbox.Outbox) bool {
		ev, err := sagatypes.EventFromJSON(record.Payload)
		if err != nil {
			return false
		}
		return ev.Type == sagatypes.EventPaymentProcessed &&
			ev.PaymentID == "pay-1" &&
			ev.Status == "refunded"
	})).Return(nil)

	err := handler.handleMessage(context.Background(), processPaymentMessage(t))

	require.NoError(t, err)
	svc.AssertExpectations(t)
	outboxRepo.AssertExpectations(t)
}

func TestCommandHandler_ProcessPayment_BusinessFailure(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		code   *domain.PaymentCode
	}{
		{"код не найден", "Payment code not found", nil},
		{"код истёк", "Payment code expired", testCode()},
		{"код уже использован", "Payment code already used", testCode()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _, outboxRepo, svc := newHandler()

			svc.On("ProcessPayment", mock.Anything, mock.Anything).
				Return(&service.ProcessPaymentResult{Success: false, Reason: tt.reason, Code: tt.code}, nil)

			outboxRepo.On("Create", mock.Anything, mock.MatchedBy(func(record *outbox.Outbox) bool {
				ev, err := sagatypes.EventFromJSON(record.Payload)
				if err != nil {
					return false
				}
				if tt.code != nil && ev.CustomerID != tt.code.CustomerID {
					return false
				}
				return record.Topic == kafka.TopicPaymentFailed &&
					ev.Type == sagatypes.EventPaymentFailed &&
					ev.Reason == tt.reason
			})).Return(nil)

			err := handler.handleMessage(context.Background(), processPaymentMessage(t))

			require.NoError(t, err)
			outboxRepo.AssertExpectations(t)
		})
	}
}

func TestCommandHandler_ProcessPayment_InfraError_Retried(t *testing.T) {
	handler, _, outboxRepo, svc := newHandler()

	svc.On("ProcessPayment", mock.Anything, mock.Anything).
		Return(nil, errors.New("база недоступна"))

	err := handler.handleMessage(context.Background(), processPaymentMessage(t))

	require.Error(t, err)
	outboxRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// =============================================================================
// RefundPayment
// =============================================================================

func TestCommandHandler_RefundPayment_Success(t *testing.T) {
	handler, _, outboxRepo, svc := newHandler()

	refunded := testPayment()
	refunded.Status = domain.PaymentStatusRefunded
	svc.On("RefundPayment", mock.Anything, service.RefundRequest{
		TransactionID: "txn-1",
		PaymentID:     "pay-1",
	}).Return(&service.RefundResult{Success: true, Payment: refunded}, nil)

	outboxRepo.On("Create", mock.Anything, mock.MatchedBy(func(record *outbox.Outbox) bool {
		ev, err := sagatypes.EventFromJSON(record.Payload)
		if err != nil {
			return false
		}
		return record.Topic == kafka.TopicPaymentRefunded &&
			record.EventType == "saga.event.PAYMENT_REFUNDED" &&
			ev.Type == sagatypes.EventPaymentRefunded &&
			ev.PaymentID == "pay-1" &&
			ev.Status == "refunded"
	})).Return(nil)

	err := handler.handleMessage(context.Background(), refundPaymentMessage(t))

	require.NoError(t, err)
	outboxRepo.AssertExpectations(t)
}

func TestCommandHandler_RefundPayment_Failure(t *testing.T) {
	tests := []struct {
		name   string
		reason string
	}{
		{"платёж не найден", "Payment not found"},
		{"недопустимый статус", "Cannot refund payment with status: failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _, outboxRepo, svc := newHandler()

			svc.On("RefundPayment", mock.Anything, mock.Anything).
				Return(&service.RefundResult{Success: false, Reason: tt.reason}, nil)

			outboxRepo.On("Create", mock.Anything, mock.MatchedBy(func(record *outbox.Outbox) bool {
				ev, err := sagatypes.EventFromJSON(record.Payload)
				if err != nil {
					return false
				}
				return record.Topic == kafka.TopicPaymentRefundFailed &&
					ev.Type == sagatypes.EventPaymentRefundFailed &&
					ev.PaymentID == "pay-1" &&
					ev.Reason == tt.reason
			})).Return(nil)

			err := handler.handleMessage(context.Background(), refundPaymentMessage(t))

			require.NoError(t, err)
			outboxRepo.AssertExpectations(t)
		})
	}
}

// =============================================================================
// Общие случаи
// =============================================================================

func TestCommandHandler_MalformedPayload_Acked(t *testing.T) {
	handler, _, outboxRepo, svc := newHandler()

	err := handler.handleMessage(context.Background(), &kafka.Message{
		Topic: kafka.TopicPaymentProcessCommand,
		Value: []byte("не json"),
	})

	require.NoError(t, err)
	svc.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything)
	outboxRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCommandHandler_UnknownCommandType_Acked(t *testing.T) {
	handler, _, outboxRepo, svc := newHandler()

	msg := commandMessage(t, kafka.TopicPaymentProcessCommand, &sagatypes.Command{
		TransactionID: "txn-1",
		Type:          sagatypes.CommandReserveCredit, // Чужая команда
	})

	err := handler.handleMessage(context.Background(), msg)

	require.NoError(t, err)
	svc.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything)
	outboxRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCommandHandler_OutboxError_Retried(t *testing.T) {
	handler, _, outboxRepo, svc := newHandler()

	svc.On("ProcessPayment", mock.Anything, mock.Anything).
		Return(&service.ProcessPaymentResult{Success: true, Payment: testPayment(), Code: testCode()}, nil)
	outboxRepo.On("Create", mock.Anything, mock.Anything).Return(errors.New("outbox недоступен"))

	err := handler.handleMessage(context.Background(), processPaymentMessage(t))

	require.Error(t, err)
}

func TestCommandHandler_Run_DelegatesToConsumer(t *testing.T) {
	handler, consumer, _, _ := newHandler()

	consumer.On("ConsumeWithRetry", mock.Anything, mock.Anything, 3).Return(nil)

	err := handler.Run(context.Background())

	require.NoError(t, err)
	consumer.AssertExpectations(t)
}

func TestCommandHandler_Close(t *testing.T) {
	handler, consumer, _, _ := newHandler()

	consumer.On("Close").Return(nil)

	assert.NoError(t, handler.Close())
}
