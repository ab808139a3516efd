package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/vehicle-sales/pkg/saga"
)

// =============================================================================
// Резервирование средств
// =============================================================================

func TestCustomer_Reserve_Cash(t *testing.T) {
	t.Run("списывает с баланса", func(t *testing.T) {
		c := newTestCustomer()

		err := c.Reserve(3500000, saga.PaymentTypeCash)

		require.NoError(t, err)
		assert.Equal(t, int64(1500000), c.AccountBalance)
		assert.Equal(t, int64(0), c.UsedCredit)
	})

	t.Run("сумма ровно в баланс проходит", func(t *testing.T) {
		c := newTestCustomer()

		err := c.Reserve(5000000, saga.PaymentTypeCash)

		require.NoError(t, err)
		assert.Equal(t, int64(0), c.AccountBalance)
	})

	t.Run("на цент больше баланса — отказ", func(t *testing.T) {
		c := newTestCustomer()

		err := c.Reserve(5000001, saga.PaymentTypeCash)

		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, int64(5000000), c.AccountBalance) // Баланс не тронут
	})
}

func TestCustomer_Reserve_Credit(t *testing.T) {
	t.Run("увеличивает used_credit", func(t *testing.T) {
		c := newTestCustomer()

		err := c.Reserve(4000000, saga.PaymentTypeCredit)

		require.NoError(t, err)
		assert.Equal(t, int64(4000000), c.UsedCredit)
		assert.Equal(t, int64(5000000), c.AccountBalance) // Баланс не тронут
		assert.Equal(t, int64(6000000), c.AvailableCredit())
	})

	t.Run("сумма ровно в доступный кредит проходит", func(t *testing.T) {
		c := newTestCustomer()

		err := c.Reserve(10000000, saga.PaymentTypeCredit)

		require.NoError(t, err)
		assert.Equal(t, int64(0), c.AvailableCredit())
	})

	t.Run("на цент больше доступного кредита — отказ", func(t *testing.T) {
		c := newTestCustomer()

		err := c.Reserve(10000001, saga.PaymentTypeCredit)

		assert.ErrorIs(t, err, ErrInsufficientCredit)
		assert.Equal(t, int64(0), c.UsedCredit)
	})
}

func TestCustomer_Reserve_UnsupportedPaymentType(t *testing.T) {
	c := newTestCustomer()

	err := c.Reserve(1000, "bitcoin")

	require.Error(t, err)
	var unsupported *UnsupportedPaymentTypeError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "Unsupported payment type: bitcoin", err.Error())
	assert.Equal(t, int64(5000000), c.AccountBalance)
	assert.Equal(t, int64(0), c.UsedCredit)
}

func TestCustomer_Reserve_InvalidAmount(t *testing.T) {
	c := newTestCustomer()

	assert.ErrorIs(t, c.Reserve(0, saga.PaymentTypeCash), ErrInvalidAmount)
	assert.ErrorIs(t, c.Reserve(-100, saga.PaymentTypeCash), ErrInvalidAmount)
}

// =============================================================================
// Возврат средств
// =============================================================================

func TestCustomer_Release_Cash(t *testing.T) {
	c := newTestCustomer()
	require.NoError(t, c.Reserve(3500000, saga.PaymentTypeCash))

	c.Release(3500000, saga.PaymentTypeCash)

	assert.Equal(t, int64(5000000), c.AccountBalance)
}

func TestCustomer_Release_Credit(t *testing.T) {
	c := newTestCustomer()
	require.NoError(t, c.Reserve(4000000, saga.PaymentTypeCredit))

	c.Release(4000000, saga.PaymentTypeCredit)

	assert.Equal(t, int64(0), c.UsedCredit)
	assert.Equal(t, int64(10000000), c.AvailableCredit())
}

func TestCustomer_Release_Credit_FloorsAtZero(t *testing.T) {
	c := newTestCustomer()
	c.UsedCredit = 1000000

	// Двойной release не уводит used_credit в минус.
	c.Release(4000000, saga.PaymentTypeCredit)

	assert.Equal(t, int64(0), c.UsedCredit)
}

func TestCustomer_Release_ZeroAmount_NoOp(t *testing.T) {
	c := newTestCustomer()

	c.Release(0, saga.PaymentTypeCash)
	c.Release(-100, saga.PaymentTypeCredit)

	assert.Equal(t, int64(5000000), c.AccountBalance)
	assert.Equal(t, int64(0), c.UsedCredit)
}

// =============================================================================
// Производные значения
// =============================================================================

func TestCustomer_AvailableCredit(t *testing.T) {
	tests := []struct {
		name       string
		limit      int64
		usedCredit int64
		want       int64
	}{
		{"кредит не использован", 10000000, 0, 10000000},
		{"частично использован", 10000000, 4000000, 6000000},
		{"полностью использован", 10000000, 10000000, 0},
		{"used выше лимита — пол в ноль", 10000000, 12000000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Customer{CreditLimit: tt.limit, UsedCredit: tt.usedCredit}
			assert.Equal(t, tt.want, c.AvailableCredit())
		})
	}
}

func TestCustomer_MaskedDocument(t *testing.T) {
	c := &Customer{Document: "12345678901"}
	assert.Equal(t, "*******8901", c.MaskedDocument())

	short := &Customer{Document: "1234"}
	assert.Equal(t, "1234", short.MaskedDocument())
}

func TestCustomer_CanPurchase(t *testing.T) {
	c := newTestCustomer()

	assert.True(t, c.CanPurchase(5000000, saga.PaymentTypeCash))
	assert.False(t, c.CanPurchase(5000001, saga.PaymentTypeCash))
	assert.True(t, c.CanPurchase(10000000, saga.PaymentTypeCredit))
	assert.False(t, c.CanPurchase(10000001, saga.PaymentTypeCredit))
	assert.False(t, c.CanPurchase(100, "barter"))
}

// =============================================================================
// Validation
// =============================================================================

func TestCustomer_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Customer)
		wantErr bool
	}{
		{"валидный клиент", func(c *Customer) {}, false},
		{"короткое имя", func(c *Customer) { c.Name = "Ян" }, true},
		{"пустой email", func(c *Customer) { c.Email = "" }, true},
		{"документ не 11 символов", func(c *Customer) { c.Document = "123" }, true},
		{"отрицательный баланс", func(c *Customer) { c.AccountBalance = -1 }, true},
		{"отрицательный лимит", func(c *Customer) { c.CreditLimit = -1 }, true},
		{"used_credit выше лимита", func(c *Customer) { c.UsedCredit = c.CreditLimit + 1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCustomer()
			tt.mutate(c)

			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// Helpers
// =============================================================================

// newTestCustomer создаёт тестового клиента: баланс 50 000.00, лимит 100 000.00.
func newTestCustomer() *Customer {
	return &Customer{
		ID:             "cust-test-1",
		Name:           "Иван Петров",
		Email:          "ivan@example.com",
		Phone:          "+5511999990000",
		Document:       "12345678901",
		AccountBalance: 5000000,
		CreditLimit:    10000000,
		UsedCredit:     0,
		Status:         CustomerStatusActive,
	}
}
