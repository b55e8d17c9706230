/**
 * @description
 * This file contains the HTTP handlers for the transfer-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - crypto/sha256, encoding/json, log, net/http: Standard Go libraries.
 * - github.com/prometheus/client_golang: Request counters and latency histograms.
 * - github.com/shopspring/decimal: Exact decimal handling for request amounts.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/paygrid/transfer-service/internal/app"
	"github.com/paygrid/transfer-service/internal/domain"
	"github.com/paygrid/transfer-service/internal/store"
)

var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transfer_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "endpoint"})
)

const maxRequestBodyBytes = 1 << 20

// TransferHandlers holds the application service that handlers will use.
type TransferHandlers struct {
	service    *app.Service
	limiter    *app.RedisRateLimiter
	rateLimit  int
	rateWindow time.Duration
}

// NewTransferHandlers creates a new instance of TransferHandlers. A nil limiter
// disables rate limiting.
func NewTransferHandlers(service *app.Service, limiter *app.RedisRateLimiter, rateLimit int, rateWindow time.Duration) *TransferHandlers {
	return &TransferHandlers{
		service:    service,
		limiter:    limiter,
		rateLimit:  rateLimit,
		rateWindow: rateWindow,
	}
}

// transferStatusResponse is returned by the status endpoint.
type transferStatusResponse struct {
	TransferID int64     `json:"transferId"`
	Status     string    `json:"status"`
	Amount     int64     `json:"amount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CreateTransferHandler handles requests to move money between two accounts.
func (h *TransferHandlers) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/transfer"))
	defer timer.ObserveDuration()

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey == "" {
		h.writeError(w, http.StatusBadRequest, "Idempotency-Key header is required", "POST", "/transfer")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Unable to read request body", "POST", "/transfer")
		return
	}

	// The fingerprint covers the raw body so a reused key with a reworded
	// payload is detected even when the decoded values coincide.
	hash := sha256.Sum256(body)
	requestHash := hex.EncodeToString(hash[:])

	var req domain.TransferRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON body", "POST", "/transfer")
		return
	}

	amountCents, err := amountToCents(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "POST", "/transfer")
		return
	}

	if h.limiter != nil && h.rateLimit > 0 {
		subject := strconv.FormatInt(req.FromAccountID, 10)
		count, retryAfter, limitErr := h.limiter.ConsumeRateLimit(r.Context(), "transfer", subject, h.rateLimit, h.rateWindow)
		if limitErr != nil {
			log.Printf("level=warn component=api endpoint=transfer msg=\"rate limit check failed; allowing request\" err=%v", limitErr)
		} else if count > h.rateLimit {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Too many transfer attempts. Please wait and try again.", "POST", "/transfer")
			return
		}
	}

	outcome, err := h.service.SubmitTransfer(r.Context(), idemKey, requestHash, req.FromAccountID, req.ToAccountID, amountCents)
	if err != nil {
		status, errBody := app.ErrorResponse(err)
		if status >= http.StatusInternalServerError {
			log.Printf("level=error component=api endpoint=transfer outcome=error idempotency_key=%s err=%v", idemKey, err)
		} else {
			log.Printf("level=warn component=api endpoint=transfer outcome=reject status=%d idempotency_key=%s err=%v", status, idemKey, err)
		}
		h.writeRaw(w, status, errBody, "POST", "/transfer")
		return
	}

	if outcome.Replayed {
		log.Printf("level=info component=api endpoint=transfer outcome=replay status=%d idempotency_key=%s", outcome.Status, idemKey)
	}
	h.writeRaw(w, outcome.Status, outcome.Body, "POST", "/transfer")
}

// GetTransferHandler returns the current state of a single transfer.
func (h *TransferHandlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", "/transfer/{id}"))
	defer timer.ObserveDuration()

	transferID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || transferID <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid transfer id", "GET", "/transfer/{id}")
		return
	}

	transfer, err := h.service.GetTransferStatus(r.Context(), transferID)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			h.writeError(w, http.StatusNotFound, "Transfer not found", "GET", "/transfer/{id}")
			return
		}
		log.Printf("level=error component=api endpoint=transfer_status outcome=error transfer_id=%d err=%v", transferID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to load transfer", "GET", "/transfer/{id}")
		return
	}

	h.writeJSON(w, http.StatusOK, transferStatusResponse{
		TransferID: transfer.ID,
		Status:     transfer.Status,
		Amount:     transfer.Amount,
		CreatedAt:  transfer.CreatedAt,
		UpdatedAt:  transfer.UpdatedAt,
	}, "GET", "/transfer/{id}")
}

// amountToCents converts an exact decimal amount into integer cents. Amounts
// with more than two decimal places are rejected rather than rounded.
func amountToCents(amount decimal.Decimal) (int64, error) {
	if amount.IsZero() {
		return 0, fmt.Errorf("amount must be greater than zero")
	}
	cents := amount.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount must have at most two decimal places")
	}
	if !cents.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount is out of range")
	}
	return cents.IntPart(), nil
}

// writeJSON is a helper for writing JSON responses.
func (h *TransferHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}, method, endpoint string) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("level=error component=api msg=\"json marshal failed\" err=%v", err)
		h.writeRaw(w, http.StatusInternalServerError, []byte(`{"error":"Internal server error"}`), method, endpoint)
		return
	}
	h.writeRaw(w, status, payload, method, endpoint)
}

// writeError writes a JSON error body with the given status.
func (h *TransferHandlers) writeError(w http.ResponseWriter, status int, message string, method, endpoint string) {
	h.writeJSON(w, status, map[string]string{"error": message}, method, endpoint)
}

// writeRaw writes a pre-encoded JSON body and records the request metric.
func (h *TransferHandlers) writeRaw(w http.ResponseWriter, status int, body []byte, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}
