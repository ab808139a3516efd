//go:build integration

// Package saga — интеграционные тесты SagaRepository.
// Требует: MySQL (настройки из .env).
// Запуск: go test -tags=integration -v ./services/orchestrator/internal/saga/...
package saga

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	outboxpkg "example.com/vehicle-sales/pkg/outbox"
	sagatypes "example.com/vehicle-sales/pkg/saga"
)

// =============================================================================
// Инфраструктура тестов
// =============================================================================

var testDB *gorm.DB

// mysqlDSN собирает DSN из переменных .env
func mysqlDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_HOST"), os.Getenv("DB_PORT"), os.Getenv("DB_NAME"))
}

func TestMain(m *testing.M) {
	// Загружаем .env из корня проекта
	_ = godotenv.Load("../../../../.env")

	var err error
	testDB, err = gorm.Open(mysql.Open(mysqlDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		fmt.Printf("Ошибка подключения к MySQL: %v\n", err)
		os.Exit(1)
	}

	cleanup := func() {
		testDB.Exec("DELETE FROM outbox WHERE aggregate_id LIKE 'txn-test-%'")
		testDB.Exec("DELETE FROM saga_states WHERE transaction_id LIKE 'txn-test-%'")
	}

	cleanup()
	code := m.Run()
	cleanup()

	os.Exit(code)
}

// generateTestID создаёт уникальный ID для теста.
func generateTestID() string {
	return "txn-test-" + uuid.New().String()[:8]
}

func testSaga(transactionID string) *SagaState {
	return &SagaState{
		TransactionID: transactionID,
		CustomerID:    uuid.New().String(),
		VehicleID:     uuid.New().String(),
		Amount:        3500000,
		PaymentType:   sagatypes.PaymentTypeCash,
		Status:        StatusInProgress,
		CurrentStep:   StepCreditReservation,
	}
}

func testOutboxRecord(transactionID string) *outboxpkg.Outbox {
	cmd := &Command{
		TransactionID: transactionID,
		Type:          sagatypes.CommandReserveCredit,
		Amount:        3500000,
		PaymentType:   sagatypes.PaymentTypeCash,
	}
	record, _ := NewCommandOutbox(uuid.New().String(), cmd, nil)
	return record
}

// =============================================================================
// Тесты SagaRepository
// =============================================================================

func TestSagaRepository_CreateWithOutbox(t *testing.T) {
	repo := NewSagaRepository(testDB)
	ctx := context.Background()

	transactionID := generateTestID()
	saga := testSaga(transactionID)
	record := testOutboxRecord(transactionID)

	err := repo.CreateWithOutbox(ctx, saga, []*outboxpkg.Outbox{record})
	require.NoError(t, err)

	// Сага создана
	saved, err := repo.GetByID(ctx, transactionID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, saved.Status)
	assert.Equal(t, StepCreditReservation, saved.CurrentStep)
	assert.Equal(t, int64(3500000), saved.Amount)

	// Outbox запись создана той же транзакцией
	var outboxCount int64
	testDB.Table("outbox").Where("id = ?", record.ID).Count(&outboxCount)
	assert.Equal(t, int64(1), outboxCount)
}

func TestSagaRepository_GetByID_NotFound(t *testing.T) {
	repo := NewSagaRepository(testDB)

	_, err := repo.GetByID(context.Background(), "non-existent-saga")

	assert.ErrorIs(t, err, ErrSagaNotFound)
}

func TestSagaRepository_UpdateWithOutbox_IncrementsVersion(t *testing.T) {
	repo := NewSagaRepository(testDB)
	ctx := context.Background()

	transactionID := generateTestID()
	saga := testSaga(transactionID)
	require.NoError(t, repo.CreateWithOutbox(ctx, saga, nil))

	saga.Status = StatusInProgress
	saga.CurrentStep = StepVehicleReservation
	err := repo.UpdateWithOutbox(ctx, saga, []*outboxpkg.Outbox{testOutboxRecord(transactionID)})
	require.NoError(t, err)
	assert.Equal(t, 1, saga.Version)

	saved, err := repo.GetByID(ctx, transactionID)
	require.NoError(t, err)
	assert.Equal(t, StepVehicleReservation, saved.CurrentStep)
	assert.Equal(t, 1, saved.Version)
}

func TestSagaRepository_UpdateWithOutbox_StaleVersion(t *testing.T) {
	repo := NewSagaRepository(testDB)
	ctx := context.Background()

	transactionID := generateTestID()
	saga := testSaga(transactionID)
	require.NoError(t, repo.CreateWithOutbox(ctx, saga, nil))

	// Два читателя получают версию 0.
	first, err := repo.GetByID(ctx, transactionID)
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, transactionID)
	require.NoError(t, err)

	// Первый успевает.
	first.CurrentStep = StepVehicleReservation
	require.NoError(t, repo.UpdateWithOutbox(ctx, first, nil))

	// Второй работает с устаревшей версией.
	second.Status = StatusCancelling
	second.CurrentStep = StepCancellationCreditRelease
	err = repo.UpdateWithOutbox(ctx, second, nil)
	assert.ErrorIs(t, err, ErrSagaConcurrentUpdate)
}

func TestSagaRepository_UpdateWithOutbox_NotFound(t *testing.T) {
	repo := NewSagaRepository(testDB)

	saga := testSaga("txn-test-missing")
	err := repo.UpdateWithOutbox(context.Background(), saga, nil)

	assert.ErrorIs(t, err, ErrSagaNotFound)
}

func TestSagaRepository_GetStuck(t *testing.T) {
	repo := NewSagaRepository(testDB)
	ctx := context.Background()

	transactionID := generateTestID()
	saga := testSaga(transactionID)
	require.NoError(t, repo.CreateWithOutbox(ctx, saga, nil))

	// Старим сагу вручную.
	testDB.Exec("UPDATE saga_states SET updated_at = ? WHERE transaction_id = ?",
		time.Now().Add(-10*time.Minute), transactionID)

	stuck, err := repo.GetStuck(ctx, []Status{StatusInProgress}, 5*time.Minute, 50)
	require.NoError(t, err)

	found := false
	for _, s := range stuck {
		if s.TransactionID == transactionID {
			found = true
		}
	}
	assert.True(t, found, "зависшая сага должна попасть в выборку")

	// Терминальные статусы не выбираются.
	stuck, err = repo.GetStuck(ctx, []Status{StatusCompleted}, 5*time.Minute, 50)
	require.NoError(t, err)
	for _, s := range stuck {
		assert.NotEqual(t, transactionID, s.TransactionID)
	}
}
