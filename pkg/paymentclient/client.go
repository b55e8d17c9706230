/**
 * @description
 * This package provides a client for the external payment-processing
 * collaborator. The call is wrapped in a circuit breaker so a degraded
 * gateway fails fast rather than pinning account locks for the full timeout.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - github.com/sony/gobreaker: Circuit breaker around the outbound call.
 */
package paymentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/paygrid/transfer-service/internal/domain"
	"github.com/sony/gobreaker"
)

// Client is a client for the payment gateway.
type Client struct {
	BaseURL    string
	Currency   string
	HTTPClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a new payment gateway client.
func NewClient(baseURL, currency string) *Client {
	if currency == "" {
		currency = "USD"
	}
	return &Client{
		BaseURL:  baseURL,
		Currency: currency,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "payment",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				log.Printf("level=warn component=payment_client breaker=%s msg=\"circuit breaker state changed\" from=%s to=%s", name, from, to)
			},
		}),
	}
}

type processRequest struct {
	Amount    int64  `json:"amount"`
	AccountID int64  `json:"accountId"`
	Currency  string `json:"currency"`
}

type processResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	Message       string `json:"message"`
}

// Execute asks the gateway to process the payment for the transfer intent.
// A transport failure or non-2xx status is an error; an explicit
// success=false is a decline.
func (c *Client) Execute(ctx context.Context, intent domain.TransferIntent) (*domain.PaymentResult, error) {
	payload := processRequest{
		Amount:    intent.Amount,
		AccountID: intent.FromAccountID,
		Currency:  c.Currency,
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payment request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/process", bytes.NewBuffer(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create payment request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to execute payment request: %w", err)
		}
		defer resp.Body.Close()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read payment response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			log.Printf("level=warn component=payment_client op=process status=%d msg=\"non-2xx response\"", resp.StatusCode)
			return nil, fmt.Errorf("unexpected status %d from payment gateway", resp.StatusCode)
		}

		var decoded processResponse
		if err := json.Unmarshal(bodyBytes, &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode payment response: %w", err)
		}
		return &decoded, nil
	})
	if err != nil {
		return nil, fmt.Errorf("payment processing failed: %w", err)
	}

	decoded := result.(*processResponse)
	return &domain.PaymentResult{
		Success:               decoded.Success,
		ExternalTransactionID: decoded.TransactionID,
	}, nil
}
