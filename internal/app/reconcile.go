package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/paygrid/transfer-service/internal/store"
)

// staleTransferResponse is stored under the idempotency key of every transfer
// the sweep fails, so replays of a crashed first attempt observe a terminal
// outcome instead of waiting forever.
var staleTransferResponse = []byte(`{"error":"Transfer expired before completion"}`)

// Reconciler periodically fails pending transfers that outlived their request.
// A pending transfer past the TTL means an orchestration crashed between
// creating the row and resolving it; the sweep is the recovery safety net
// required for that window.
type Reconciler struct {
	repo     store.Repository
	interval time.Duration
	ttl      time.Duration
}

// NewReconciler creates a reconciler sweeping at interval for transfers
// pending longer than ttl.
func NewReconciler(repo store.Repository, interval, ttl time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Reconciler{repo: repo, interval: interval, ttl: ttl}
}

// Run sweeps until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Printf("level=info component=reconciler msg=\"pending transfer sweep started\" interval=%s ttl=%s", r.interval, r.ttl)
	for {
		select {
		case <-ctx.Done():
			log.Println("level=info component=reconciler msg=\"pending transfer sweep stopped\"")
			return
		case <-ticker.C:
			r.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep pass.
func (r *Reconciler) SweepOnce(ctx context.Context) {
	swept, err := r.repo.FailStalePendingTransfers(ctx, r.ttl, http.StatusInternalServerError, staleTransferResponse)
	if err != nil {
		log.Printf("level=error component=reconciler msg=\"sweep failed\" err=%v", err)
		return
	}
	if swept > 0 {
		log.Printf("level=warn component=reconciler msg=\"failed stale pending transfers\" count=%d ttl=%s", swept, r.ttl)
	}
}
