package riskclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paygrid/transfer-service/internal/domain"
)

func TestOTPClientVerify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req otpVerifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.TransferID != 7 || req.AccountID != 1 || req.Amount != 5_000 {
			t.Fatalf("unexpected payload: %+v", req)
		}
		json.NewEncoder(w).Encode(otpVerifyResponse{Success: true})
	}))
	defer server.Close()

	client := NewOTPClient(server.URL)
	verified, err := client.Verify(context.Background(), domain.TransferIntent{TransferID: 7, FromAccountID: 1, Amount: 5_000})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !verified {
		t.Fatal("expected verified=true")
	}
}

func TestOTPClientVerifyFailureIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(otpVerifyResponse{Success: false, Message: "code expired"})
	}))
	defer server.Close()

	client := NewOTPClient(server.URL)
	verified, err := client.Verify(context.Background(), domain.TransferIntent{TransferID: 7})
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if verified {
		t.Fatal("expected verified=false")
	}
}

func TestOTPClientVerifyServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewOTPClient(server.URL)
	if _, err := client.Verify(context.Background(), domain.TransferIntent{TransferID: 7}); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestFraudClientScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/score" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req fraudScoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.TransactionType != "transfer" {
			t.Fatalf("unexpected transaction type %q", req.TransactionType)
		}
		json.NewEncoder(w).Encode(domain.RiskAssessment{
			Score:          30,
			Flags:          []string{"HIGH_AMOUNT"},
			Recommendation: domain.RiskReview,
		})
	}))
	defer server.Close()

	client := NewFraudClient(server.URL)
	got, err := client.Score(context.Background(), domain.TransferIntent{TransferID: 7, FromAccountID: 1, ToAccountID: 2, Amount: 2_000_000})
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if got.Score != 30 || got.Recommendation != domain.RiskReview {
		t.Fatalf("unexpected assessment: %+v", got)
	}
}

func TestFraudClientScoreTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // closed before use

	client := NewFraudClient(server.URL)
	if _, err := client.Score(context.Background(), domain.TransferIntent{TransferID: 7}); err == nil {
		t.Fatal("expected error when the collaborator is unreachable")
	}
}
