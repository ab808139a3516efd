// Package repository содержит unit тесты для CustomerRepository.
package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	sagatypes "example.com/vehicle-sales/pkg/saga"
)

// setupMockDB создаёт мок базы данных с GORM.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock, func() { _ = db.Close() }
}

func ledgerColumns() []string {
	return []string{
		"id", "transaction_id", "operation", "customer_id",
		"amount", "payment_type", "balance_after", "available_credit_after", "created_at",
	}
}

func customerColumns() []string {
	return []string{
		"id", "name", "email", "phone", "document",
		"account_balance", "credit_limit", "used_credit", "status", "created_at", "updated_at",
	}
}

func customerRow(balance, creditLimit, usedCredit int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(customerColumns()).AddRow(
		"cust-1", "Тестовый Клиент", "test@example.com", "+5511999990000", "12345678901",
		balance, creditLimit, usedCredit, "active", now, now,
	)
}

// Release без предшествующего reserve (компенсация по таймауту при
// потерянной команде резервирования) не должен начислять деньги:
// ни мутации баланса, ни строки ledger, событие CreditReleased
// издаётся со снимком текущего баланса.
func TestReleaseCredit_WithoutReserve_NoMutation(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewCustomerRepository(db)

	mock.ExpectBegin()
	// Дедупликация: release ещё не применялся.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `credit_ledger` WHERE transaction_id = ? AND operation = ?")).
		WillReturnRows(sqlmock.NewRows(ledgerColumns()))
	// Проверка предусловия: reserve-строки тоже нет.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `credit_ledger` WHERE transaction_id = ? AND operation = ?")).
		WillReturnRows(sqlmock.NewRows(ledgerColumns()))
	// Снимок баланса для события — без FOR UPDATE, без UPDATE и без INSERT.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `customers` WHERE id = ?")).
		WillReturnRows(customerRow(5000000, 1000000, 0))
	mock.ExpectCommit()

	op, alreadyApplied, err := repo.ReleaseCredit(context.Background(), "txn-1", "cust-1", 3500000, sagatypes.PaymentTypeCash)

	require.NoError(t, err)
	assert.True(t, alreadyApplied)
	assert.Equal(t, int64(5000000), op.BalanceAfter)
	assert.Equal(t, int64(1000000), op.AvailableCreditAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Release после reserve идёт обычным путём: мутация, UPDATE и строка ledger.
func TestReleaseCredit_AfterReserve_AppliesMutation(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewCustomerRepository(db)

	now := time.Now()
	reserveRow := sqlmock.NewRows(ledgerColumns()).AddRow(
		"op-1", "txn-1", "reserve", "cust-1",
		int64(3500000), "cash", int64(1500000), int64(0), now,
	)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `credit_ledger` WHERE transaction_id = ? AND operation = ?")).
		WillReturnRows(sqlmock.NewRows(ledgerColumns()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `credit_ledger` WHERE transaction_id = ? AND operation = ?")).
		WillReturnRows(reserveRow)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `customers` WHERE id = ?")).
		WillReturnRows(customerRow(1500000, 0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `customers` SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `credit_ledger`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	op, alreadyApplied, err := repo.ReleaseCredit(context.Background(), "txn-1", "cust-1", 3500000, sagatypes.PaymentTypeCash)

	require.NoError(t, err)
	assert.False(t, alreadyApplied)
	assert.Equal(t, int64(5000000), op.BalanceAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Повторная доставка release возвращает прежний результат из ledger.
func TestReleaseCredit_DuplicateDelivery_ReturnsLedgerRow(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewCustomerRepository(db)

	now := time.Now()
	releaseRow := sqlmock.NewRows(ledgerColumns()).AddRow(
		"op-2", "txn-1", "release", "cust-1",
		int64(3500000), "cash", int64(5000000), int64(0), now,
	)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `credit_ledger` WHERE transaction_id = ? AND operation = ?")).
		WillReturnRows(releaseRow)
	mock.ExpectCommit()

	op, alreadyApplied, err := repo.ReleaseCredit(context.Background(), "txn-1", "cust-1", 3500000, sagatypes.PaymentTypeCash)

	require.NoError(t, err)
	assert.True(t, alreadyApplied)
	assert.Equal(t, int64(5000000), op.BalanceAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}
