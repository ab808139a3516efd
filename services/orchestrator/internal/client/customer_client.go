package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"example.com/vehicle-sales/pkg/circuitbreaker"
	"example.com/vehicle-sales/pkg/logger"
)

// Customer — данные клиента, возвращаемые Customer Service.
// Балансы в центах.
type Customer struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	AccountBalance  int64  `json:"account_balance"`
	CreditLimit     int64  `json:"credit_limit"`
	AvailableCredit int64  `json:"available_credit"`
}

// CustomerClient — клиент для взаимодействия с Customer Service.
type CustomerClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// CustomerClientConfig — конфигурация клиента.
type CustomerClientConfig struct {
	BaseURL        string                  // Адрес Customer Service (http://host:port)
	Timeout        time.Duration           // Таймаут HTTP запроса
	CircuitBreaker *circuitbreaker.Breaker // Circuit Breaker (опционально)
}

// NewCustomerClient создаёт новый HTTP клиент к Customer Service.
func NewCustomerClient(cfg CustomerClientConfig) *CustomerClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	logger.Info().
		Str("base_url", cfg.BaseURL).
		Msg("HTTP клиент Customer Service создан")

	return &CustomerClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    cfg.CircuitBreaker,
	}
}

// GetCustomer возвращает клиента по ID.
// 404 → ErrCustomerNotFound (business ошибка, не считается отказом сервиса).
func (c *CustomerClient) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	url := fmt.Sprintf("%s/customers/%s", c.baseURL, customerID)

	fn := func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("Customer Service недоступен: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			var cust Customer
			if err := json.NewDecoder(resp.Body).Decode(&cust); err != nil {
				return nil, fmt.Errorf("ошибка десериализации ответа Customer Service: %w", err)
			}
			return &cust, nil
		case http.StatusNotFound:
			return nil, circuitbreaker.Business(ErrCustomerNotFound)
		default:
			return nil, unexpectedStatus("Customer Service", resp)
		}
	}

	var result any
	var err error
	if c.breaker != nil {
		result, err = c.breaker.Do(fn)
	} else {
		result, err = fn()
	}
	if err != nil {
		return nil, err
	}
	return result.(*Customer), nil
}
