/**
 * @description
 * This package provides clients for the risk collaborators: the one-time
 * verification service and the fraud-detection service. Both wrap their HTTP
 * calls in a circuit breaker so a degraded collaborator fails fast instead of
 * holding account locks for the full timeout on every request.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 * - github.com/sony/gobreaker: Circuit breaker around the outbound calls.
 */
package riskclient

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

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("level=warn component=risk_client breaker=%s msg=\"circuit breaker state changed\" from=%s to=%s", name, from, to)
		},
	})
}

// OTPClient calls the one-time-verification collaborator.
type OTPClient struct {
	BaseURL    string
	HTTPClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewOTPClient creates a new OTP verification client.
func NewOTPClient(baseURL string) *OTPClient {
	return &OTPClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		breaker:    newBreaker("otp"),
	}
}

type otpVerifyRequest struct {
	TransferID int64 `json:"transferId"`
	AccountID  int64 `json:"accountId"`
	Amount     int64 `json:"amount"`
}

type otpVerifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Verify asks the collaborator to confirm the one-time verification for the
// transfer. A non-2xx response or transport failure is an error; the caller
// treats it as a reject.
func (c *OTPClient) Verify(ctx context.Context, intent domain.TransferIntent) (bool, error) {
	payload := otpVerifyRequest{
		TransferID: intent.TransferID,
		AccountID:  intent.FromAccountID,
		Amount:     intent.Amount,
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var resp otpVerifyResponse
		if err := postJSON(ctx, c.HTTPClient, c.BaseURL+"/verify", payload, &resp); err != nil {
			return nil, err
		}
		return resp.Success, nil
	})
	if err != nil {
		return false, fmt.Errorf("otp verification failed: %w", err)
	}
	return result.(bool), nil
}

// FraudClient calls the fraud-detection collaborator.
type FraudClient struct {
	BaseURL    string
	HTTPClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewFraudClient creates a new fraud scoring client.
func NewFraudClient(baseURL string) *FraudClient {
	return &FraudClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		breaker:    newBreaker("fraud"),
	}
}

type fraudScoreRequest struct {
	Amount          int64  `json:"amount"`
	AccountID       int64  `json:"accountId"`
	RecipientID     int64  `json:"recipientId"`
	TransactionType string `json:"transactionType"`
}

// Score requests a risk assessment for the transfer intent.
func (c *FraudClient) Score(ctx context.Context, intent domain.TransferIntent) (*domain.RiskAssessment, error) {
	payload := fraudScoreRequest{
		Amount:          intent.Amount,
		AccountID:       intent.FromAccountID,
		RecipientID:     intent.ToAccountID,
		TransactionType: "transfer",
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var resp domain.RiskAssessment
		if err := postJSON(ctx, c.HTTPClient, c.BaseURL+"/score", payload, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fraud scoring failed: %w", err)
	}
	return result.(*domain.RiskAssessment), nil
}

func postJSON(ctx context.Context, client *http.Client, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
