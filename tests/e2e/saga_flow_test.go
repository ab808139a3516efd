//go:build e2e

// Package e2e — E2E тесты саги покупки автомобиля.
// Требует запущенный стек (MySQL, Redis, Kafka, все сервисы).
// Запуск: go test -tags=e2e -v ./tests/e2e/...
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	healthTimeout = 5 * time.Second
	sagaTimeout   = 30 * time.Second
	pollInterval  = 500 * time.Millisecond

	vehiclePrice = int64(3_500_000) // 35 000.00 в центах
)

func serviceURL(env, def string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

var (
	orchestratorURL = serviceURL("ORCHESTRATOR_URL", "http://localhost:8080")
	customerURL     = serviceURL("CUSTOMER_URL", "http://localhost:8081")
	vehicleURL      = serviceURL("VEHICLE_URL", "http://localhost:8082")
	paymentURL      = serviceURL("PAYMENT_URL", "http://localhost:8083")
)

// =============================================================================
// DTO — только используемые поля
// =============================================================================

type (
	createCustomerReq struct {
		Name           string `json:"name"`
		Email          string `json:"email"`
		Phone          string `json:"phone"`
		Document       string `json:"document"`
		InitialBalance int64  `json:"initial_balance"`
		CreditLimit    int64  `json:"credit_limit"`
	}
	customerResp struct {
		ID              string `json:"id"`
		AccountBalance  int64  `json:"account_balance"`
		AvailableCredit int64  `json:"available_credit"`
	}
	createVehicleReq struct {
		Brand        string `json:"brand"`
		Model        string `json:"model"`
		Year         int    `json:"year"`
		Color        string `json:"color"`
		Price        int64  `json:"price"`
		LicensePlate string `json:"license_plate"`
	}
	vehicleResp struct {
		ID     string `json:"id"`
		IsSold bool   `json:"is_sold"`
		Status string `json:"status"`
		Price  int64  `json:"price"`
	}
	purchaseReq struct {
		CustomerID  string `json:"customer_id"`
		VehicleID   string `json:"vehicle_id"`
		PaymentType string `json:"payment_type"`
	}
	purchaseResp struct {
		TransactionID string `json:"transaction_id"`
		SagaStatus    string `json:"saga_status"`
		VehiclePrice  int64  `json:"vehicle_price"`
	}
	sagaStateResp struct {
		TransactionID string `json:"transaction_id"`
		Status        string `json:"status"`
		CurrentStep   string `json:"current_step"`
	}
	cancelReq struct {
		Reason string `json:"reason"`
	}
	errorResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
)

// =============================================================================
// HTTP хелперы
// =============================================================================

func postJSON(t *testing.T, url string, body, out any) int {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	if out != nil && len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, out), "тело ответа: %s", string(data))
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	if out != nil && len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, out), "тело ответа: %s", string(data))
	}
	return resp.StatusCode
}

// requireStack пропускает тест, если стек не запущен.
func requireStack(t *testing.T) {
	t.Helper()

	client := &http.Client{Timeout: healthTimeout}
	for _, url := range []string{orchestratorURL, customerURL, vehicleURL, paymentURL} {
		resp, err := client.Get(url + "/health")
		if err != nil {
			t.Skipf("сервис %s недоступен: %v", url, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Skipf("сервис %s нездоров: %d", url, resp.StatusCode)
		}
	}
}

// =============================================================================
// Фикстуры
// =============================================================================

func createCustomer(t *testing.T, balance, creditLimit int64) customerResp {
	t.Helper()

	var customer customerResp
	status := postJSON(t, customerURL+"/customers", createCustomerReq{
		Name:           "E2E Buyer " + uuid.New().String()[:8],
		Email:          fmt.Sprintf("e2e-%s@test.local", uuid.New().String()[:8]),
		Phone:          "11999990000",
		Document:       fmt.Sprintf("%011d", uuid.New().ID()%100000000000),
		InitialBalance: balance,
		CreditLimit:    creditLimit,
	}, &customer)
	require.Equal(t, http.StatusCreated, status)
	return customer
}

func createVehicle(t *testing.T) vehicleResp {
	t.Helper()

	var vehicle vehicleResp
	status := postJSON(t, vehicleURL+"/vehicles", createVehicleReq{
		Brand:        "Toyota",
		Model:        "Corolla",
		Year:         2023,
		Color:        "Silver",
		Price:        vehiclePrice,
		LicensePlate: fmt.Sprintf("E2E%04d", uuid.New().ID()%10000),
	}, &vehicle)
	require.Equal(t, http.StatusCreated, status)
	return vehicle
}

func startPurchase(t *testing.T, customerID, vehicleID, paymentType string) purchaseResp {
	t.Helper()

	var purchase purchaseResp
	status := postJSON(t, orchestratorURL+"/purchase", purchaseReq{
		CustomerID:  customerID,
		VehicleID:   vehicleID,
		PaymentType: paymentType,
	}, &purchase)
	require.Equal(t, http.StatusAccepted, status)
	require.NotEmpty(t, purchase.TransactionID)
	require.Equal(t, vehiclePrice, purchase.VehiclePrice)
	return purchase
}

// waitForSagaStatus опрашивает состояние саги до одного из ожидаемых статусов.
func waitForSagaStatus(t *testing.T, transactionID string, expected ...string) sagaStateResp {
	t.Helper()

	deadline := time.Now().Add(sagaTimeout)
	var last sagaStateResp
	for time.Now().Before(deadline) {
		status := getJSON(t, orchestratorURL+"/saga-states/"+transactionID, &last)
		if status == http.StatusOK {
			for _, want := range expected {
				if last.Status == want {
					return last
				}
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("сага %s не достигла статуса %v за %s, последний статус: %s (шаг %s)",
		transactionID, expected, sagaTimeout, last.Status, last.CurrentStep)
	return last
}

// =============================================================================
// Сценарии
// =============================================================================

func TestSaga_CashPurchase_Completed(t *testing.T) {
	requireStack(t)

	customer := createCustomer(t, vehiclePrice+1_000_000, 0)
	vehicle := createVehicle(t)

	purchase := startPurchase(t, customer.ID, vehicle.ID, "cash")

	waitForSagaStatus(t, purchase.TransactionID, "COMPLETED")

	// Автомобиль продан.
	var soldVehicle vehicleResp
	require.Equal(t, http.StatusOK, getJSON(t, vehicleURL+"/vehicles/"+vehicle.ID, &soldVehicle))
	assert.True(t, soldVehicle.IsSold)
	assert.Equal(t, "sold", soldVehicle.Status)

	// Баланс клиента списан.
	var updated customerResp
	require.Equal(t, http.StatusOK, getJSON(t, customerURL+"/customers/"+customer.ID, &updated))
	assert.Equal(t, customer.AccountBalance-vehiclePrice, updated.AccountBalance)
}

func TestSaga_CreditPurchase_Completed(t *testing.T) {
	requireStack(t)

	customer := createCustomer(t, 0, vehiclePrice+500_000)
	vehicle := createVehicle(t)

	purchase := startPurchase(t, customer.ID, vehicle.ID, "credit")

	waitForSagaStatus(t, purchase.TransactionID, "COMPLETED")

	var updated customerResp
	require.Equal(t, http.StatusOK, getJSON(t, customerURL+"/customers/"+customer.ID, &updated))
	assert.Equal(t, customer.AvailableCredit-vehiclePrice, updated.AvailableCredit)
}

func TestSaga_InsufficientFunds_RejectedSynchronously(t *testing.T) {
	requireStack(t)

	customer := createCustomer(t, 100, 0) // Денег заведомо не хватает
	vehicle := createVehicle(t)

	var errResp errorResp
	status := postJSON(t, orchestratorURL+"/purchase", purchaseReq{
		CustomerID:  customer.ID,
		VehicleID:   vehicle.ID,
		PaymentType: "cash",
	}, &errResp)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, errResp.Message)

	// Автомобиль остался доступным: сага не стартовала.
	var untouched vehicleResp
	require.Equal(t, http.StatusOK, getJSON(t, vehicleURL+"/vehicles/"+vehicle.ID, &untouched))
	assert.Equal(t, "available", untouched.Status)
}

func TestSaga_VehicleUnavailable_Compensated(t *testing.T) {
	requireStack(t)

	customer := createCustomer(t, vehiclePrice*2, 0)
	vehicle := createVehicle(t)

	// Первый покупатель успевает купить автомобиль.
	first := createCustomer(t, vehiclePrice*2, 0)
	firstPurchase := startPurchase(t, first.ID, vehicle.ID, "cash")
	waitForSagaStatus(t, firstPurchase.TransactionID, "COMPLETED")

	// Второй покупатель получает отказ участника: кредит зарезервирован,
	// резервирование автомобиля падает, резерв средств откатывается.
	second := startPurchase(t, customer.ID, vehicle.ID, "cash")
	waitForSagaStatus(t, second.TransactionID, "FAILED_COMPENSATED")

	var restored customerResp
	require.Equal(t, http.StatusOK, getJSON(t, customerURL+"/customers/"+customer.ID, &restored))
	assert.Equal(t, customer.AccountBalance, restored.AccountBalance, "баланс должен быть восстановлен компенсацией")
}

func TestSaga_Cancellation(t *testing.T) {
	requireStack(t)

	customer := createCustomer(t, vehiclePrice*2, 0)
	vehicle := createVehicle(t)

	purchase := startPurchase(t, customer.ID, vehicle.ID, "cash")

	// Отмена гонится с прямым путём саги: либо принята и сага откатится,
	// либо сделка уже зашла слишком далеко и отмена отклонена (409).
	payload, err := json.Marshal(cancelReq{Reason: "customer changed mind"})
	require.NoError(t, err)
	resp, err := http.Post(
		orchestratorURL+"/purchase/"+purchase.TransactionID+"/cancel",
		"application/json",
		bytes.NewReader(payload),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		final := waitForSagaStatus(t, purchase.TransactionID, "CANCELLED", "CANCELLATION_FAILED", "COMPLETED")
		if final.Status == "CANCELLED" {
			// Все резервы откатились.
			var restored customerResp
			require.Equal(t, http.StatusOK, getJSON(t, customerURL+"/customers/"+customer.ID, &restored))
			assert.Equal(t, customer.AccountBalance, restored.AccountBalance)
		}
	case http.StatusConflict:
		waitForSagaStatus(t, purchase.TransactionID, "COMPLETED")
	default:
		t.Fatalf("неожиданный статус отмены: %d", resp.StatusCode)
	}
}

func TestSaga_PaymentArtifactsVisible(t *testing.T) {
	requireStack(t)

	customer := createCustomer(t, vehiclePrice*2, 0)
	vehicle := createVehicle(t)

	purchase := startPurchase(t, customer.ID, vehicle.ID, "cash")
	waitForSagaStatus(t, purchase.TransactionID, "COMPLETED")

	// Платёжный код и платёж доступны для чтения в Payment Service.
	var codes struct {
		PaymentCodes []struct {
			Code          string `json:"code"`
			TransactionID string `json:"transaction_id"`
			Status        string `json:"status"`
		} `json:"payment_codes"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, paymentURL+"/payment-codes", &codes))

	found := false
	for _, code := range codes.PaymentCodes {
		if code.TransactionID == purchase.TransactionID {
			found = true
			assert.Equal(t, "used", code.Status)
		}
	}
	assert.True(t, found, "платёжный код саги должен быть виден в API")
}
