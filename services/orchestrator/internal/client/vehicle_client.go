// Package client содержит HTTP клиенты оркестратора для синхронных
// вызовов участников саги (Vehicle Service, Customer Service).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"example.com/vehicle-sales/pkg/circuitbreaker"
	"example.com/vehicle-sales/pkg/logger"
)

// Типизированные ошибки клиентов — обработчики маппят их в HTTP статусы.
var (
	ErrVehicleNotFound     = errors.New("Vehicle not found")
	ErrVehicleNotAvailable = errors.New("Vehicle already reserved or sold")
	ErrCustomerNotFound    = errors.New("Customer not found")
	ErrInsufficientFunds   = errors.New("Insufficient funds for selected payment type")
)

// Vehicle — данные автомобиля, возвращаемые Vehicle Service.
type Vehicle struct {
	ID     string `json:"id"`
	Brand  string `json:"brand"`
	Model  string `json:"model"`
	Year   int    `json:"year"`
	Price  int64  `json:"price"`
	Status string `json:"status"` // available | reserved | sold
}

// Available возвращает true, если автомобиль доступен для покупки.
func (v *Vehicle) Available() bool {
	return v.Status == "available"
}

// VehicleClient — клиент для взаимодействия с Vehicle Service.
type VehicleClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// VehicleClientConfig — конфигурация клиента.
type VehicleClientConfig struct {
	BaseURL        string                  // Адрес Vehicle Service (http://host:port)
	Timeout        time.Duration           // Таймаут HTTP запроса
	CircuitBreaker *circuitbreaker.Breaker // Circuit Breaker (опционально)
}

// NewVehicleClient создаёт новый HTTP клиент к Vehicle Service.
func NewVehicleClient(cfg VehicleClientConfig) *VehicleClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	logger.Info().
		Str("base_url", cfg.BaseURL).
		Msg("HTTP клиент Vehicle Service создан")

	return &VehicleClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    cfg.CircuitBreaker,
	}
}

// GetVehicle возвращает автомобиль по ID.
// 404 → ErrVehicleNotFound (business ошибка, не считается отказом сервиса).
func (c *VehicleClient) GetVehicle(ctx context.Context, vehicleID string) (*Vehicle, error) {
	url := fmt.Sprintf("%s/vehicles/%s", c.baseURL, vehicleID)

	result, err := c.call(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("Vehicle Service недоступен: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			var v Vehicle
			if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
				return nil, fmt.Errorf("ошибка десериализации ответа Vehicle Service: %w", err)
			}
			return &v, nil
		case http.StatusNotFound:
			return nil, circuitbreaker.Business(ErrVehicleNotFound)
		default:
			return nil, unexpectedStatus("Vehicle Service", resp)
		}
	})
	if err != nil {
		return nil, err
	}
	return result.(*Vehicle), nil
}

// MarkAsSold помечает автомобиль проданным (финальный шаг саги).
// Синхронный вызов: оркестратор ждёт подтверждения перед COMPLETED.
func (c *VehicleClient) MarkAsSold(ctx context.Context, vehicleID string) error {
	url := fmt.Sprintf("%s/vehicles/%s/mark_as_sold", c.baseURL, vehicleID)

	_, err := c.call(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(nil))
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("Vehicle Service недоступен: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			return nil, nil
		case http.StatusNotFound:
			return nil, circuitbreaker.Business(ErrVehicleNotFound)
		case http.StatusBadRequest, http.StatusConflict:
			return nil, circuitbreaker.Business(ErrVehicleNotAvailable)
		default:
			return nil, unexpectedStatus("Vehicle Service", resp)
		}
	})
	return err
}

// call выполняет запрос через circuit breaker, если тот задан.
func (c *VehicleClient) call(fn func() (any, error)) (any, error) {
	if c.breaker != nil {
		return c.breaker.Do(fn)
	}
	return fn()
}

// unexpectedStatus формирует ошибку для неожиданного HTTP статуса,
// включая тело ответа для диагностики.
func unexpectedStatus(service string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s вернул статус %d: %s", service, resp.StatusCode, string(body))
}
