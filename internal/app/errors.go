package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/paygrid/transfer-service/internal/domain"
	"github.com/paygrid/transfer-service/internal/store"
)

var (
	ErrInvalidAccountID   = errors.New("valid fromAccountId and toAccountId are required")
	ErrInvalidAmount      = errors.New("amount must be a positive value with at most two decimal places")
	ErrAmountTooLarge     = errors.New("amount exceeds the maximum transfer limit")
	ErrTransferInProgress = errors.New("transfer request is already in progress")
	ErrPaymentDeclined    = errors.New("payment processing failed")
	ErrExternalService    = errors.New("external service unavailable")
)

// RiskDeniedError is returned when the risk evaluation blocks a transfer. The
// assessment distinguishes a hard reject from a manual-review soft block.
type RiskDeniedError struct {
	Assessment domain.RiskAssessment
}

func (e *RiskDeniedError) Error() string {
	if e.Assessment.Recommendation == domain.RiskReview {
		return "transfer requires manual review"
	}
	return "transaction blocked due to fraud detection"
}

type errorBody struct {
	Error      string   `json:"error"`
	FraudFlags []string `json:"fraudFlags,omitempty"`
}

// ErrorResponse maps an orchestration error to the HTTP status and JSON body
// surfaced to the caller. The same bytes are stored as the idempotent result
// for terminal failures, so replays observe the first attempt's outcome.
func ErrorResponse(err error) (int, []byte) {
	var riskErr *RiskDeniedError
	if errors.As(err, &riskErr) {
		status := http.StatusBadRequest
		message := "Transaction blocked due to fraud detection"
		if riskErr.Assessment.Recommendation == domain.RiskReview {
			status = http.StatusConflict
			message = "Transfer requires manual review"
		}
		return status, mustMarshal(errorBody{Error: message, FraudFlags: riskErr.Assessment.Flags})
	}

	switch {
	case errors.Is(err, ErrInvalidAccountID),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrAmountTooLarge):
		return http.StatusBadRequest, mustMarshal(errorBody{Error: capitalizedMessage(err)})
	case errors.Is(err, store.ErrInsufficientFunds):
		return http.StatusBadRequest, mustMarshal(errorBody{Error: "Insufficient funds"})
	case errors.Is(err, ErrPaymentDeclined):
		return http.StatusBadRequest, mustMarshal(errorBody{Error: "Payment processing failed"})
	case errors.Is(err, store.ErrAccountNotFound):
		return http.StatusNotFound, mustMarshal(errorBody{Error: "Account not found"})
	case errors.Is(err, store.ErrIdempotencyMismatch):
		return http.StatusConflict, mustMarshal(errorBody{Error: "Idempotency key reused with a different payload"})
	case errors.Is(err, ErrTransferInProgress):
		return http.StatusConflict, mustMarshal(errorBody{Error: "Transfer request is already in progress"})
	case errors.Is(err, ErrExternalService):
		return http.StatusBadGateway, mustMarshal(errorBody{Error: "External service unavailable"})
	case errors.Is(err, store.ErrLockTimeout):
		return http.StatusServiceUnavailable, mustMarshal(errorBody{Error: "Could not acquire account locks"})
	default:
		return http.StatusInternalServerError, mustMarshal(errorBody{Error: "Internal server error"})
	}
}

func capitalizedMessage(err error) string {
	msg := err.Error()
	if msg == "" {
		return msg
	}
	if msg[0] >= 'a' && msg[0] <= 'z' {
		return string(msg[0]-'a'+'A') + msg[1:]
	}
	return msg
}

func mustMarshal(body errorBody) []byte {
	data, err := json.Marshal(body)
	if err != nil {
		// errorBody cannot fail to marshal; keep the contract total anyway.
		return []byte(fmt.Sprintf(`{"error":%q}`, body.Error))
	}
	return data
}
