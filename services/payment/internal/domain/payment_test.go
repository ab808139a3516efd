package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCode() *PaymentCode {
	return NewPaymentCode("txn-1", "cust-1", "veh-1", 3500000, "cash")
}

// =============================================================================
// PaymentCode
// =============================================================================

func TestNewPaymentCode(t *testing.T) {
	code := newTestCode()

	assert.True(t, strings.HasPrefix(code.Code, "PAY"))
	assert.GreaterOrEqual(t, len(code.Code), len("PAY")+6+10)
	assert.Equal(t, CodeStatusPending, code.Status)
	assert.WithinDuration(t, time.Now().Add(CodeTTL), code.ExpiresAt, 2*time.Second)
}

func TestPaymentCode_IsExpired_Boundary(t *testing.T) {
	code := newTestCode()
	expiresAt := code.ExpiresAt

	// За мгновение до истечения код валиден, ровно в expires_at — истёк.
	assert.False(t, code.IsExpired(expiresAt.Add(-time.Nanosecond)))
	assert.True(t, code.IsExpired(expiresAt))
	assert.True(t, code.IsExpired(expiresAt.Add(time.Minute)))
}

func TestPaymentCode_Use_Pending(t *testing.T) {
	code := newTestCode()

	err := code.Use(time.Now())

	require.NoError(t, err)
	assert.Equal(t, CodeStatusUsed, code.Status)
}

func TestPaymentCode_Use_AlreadyUsed(t *testing.T) {
	code := newTestCode()
	require.NoError(t, code.Use(time.Now()))

	err := code.Use(time.Now())

	assert.ErrorIs(t, err, ErrPaymentCodeAlreadyUsed)
	assert.Equal(t, "Payment code already used", err.Error())
}

func TestPaymentCode_Use_Expired(t *testing.T) {
	code := newTestCode()

	err := code.Use(code.ExpiresAt)

	assert.ErrorIs(t, err, ErrPaymentCodeExpired)
	assert.Equal(t, "Payment code expired", err.Error())
	assert.Equal(t, CodeStatusPending, code.Status) // Статус не мутирован
}

func TestPaymentCode_Use_MarkedExpired(t *testing.T) {
	code := newTestCode()
	code.Status = CodeStatusExpired

	err := code.Use(time.Now())

	assert.ErrorIs(t, err, ErrPaymentCodeExpired)
}

// =============================================================================
// Payment
// =============================================================================

func testPayment(status PaymentStatus) *Payment {
	return &Payment{
		ID:            "pay-1",
		TransactionID: "txn-1",
		PaymentCode:   "PAY1234561700000000",
		CustomerID:    "cust-1",
		VehicleID:     "veh-1",
		Amount:        3500000,
		PaymentType:   "cash",
		PaymentMethod: "pix",
		Status:        status,
	}
}

func TestPayment_Refund_Completed(t *testing.T) {
	payment := testPayment(PaymentStatusCompleted)

	err := payment.Refund()

	require.NoError(t, err)
	assert.Equal(t, PaymentStatusRefunded, payment.Status)
}

func TestPayment_Refund_AlreadyRefunded_NoOp(t *testing.T) {
	payment := testPayment(PaymentStatusRefunded)

	err := payment.Refund()

	require.NoError(t, err)
	assert.Equal(t, PaymentStatusRefunded, payment.Status)
}

func TestPayment_Refund_Failed_Rejected(t *testing.T) {
	payment := testPayment(PaymentStatusFailed)

	err := payment.Refund()

	require.Error(t, err)
	assert.Equal(t, "Cannot refund payment with status: failed", err.Error())
	assert.Equal(t, PaymentStatusFailed, payment.Status)
}

func TestPayment_Refundable(t *testing.T) {
	assert.True(t, testPayment(PaymentStatusCompleted).Refundable())
	assert.False(t, testPayment(PaymentStatusFailed).Refundable())
	assert.False(t, testPayment(PaymentStatusRefunded).Refundable())
}
