package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"x402-market.backend/internal/usecases"
)

// ReceiptReader reads transaction receipts from chain.
type ReceiptReader interface {
	GetTransactionReceipt(ctx context.Context, txHash string) (*types.Receipt, error)
}

// SettlementRecorder mirrors a late-confirmed settlement into the ledger.
type SettlementRecorder interface {
	RecordSettlement(ctx context.Context, serviceID, providerAddress, payer, amount, txHash string) error
	ServiceProviderAddress(ctx context.Context, serviceID string) (string, error)
	HasAccessLog(ctx context.Context, txHash string) (bool, error)
}

// SettlementReconcilerJob follows up on settlements whose confirmation wait
// timed out. A transaction that mines after the response was sent still
// gets its access-log row and provider credit here.
type SettlementReconcilerJob struct {
	chain    ReceiptReader
	recorder SettlementRecorder
	interval time.Duration
	maxAge   time.Duration
	stop     chan struct{}

	mu      sync.Mutex
	pending []usecases.PendingSettlement
}

func NewSettlementReconcilerJob(chain ReceiptReader) *SettlementReconcilerJob {
	return &SettlementReconcilerJob{
		chain:    chain,
		interval: 15 * time.Second,
		maxAge:   10 * time.Minute, // give up on transactions this stale
		stop:     make(chan struct{}),
	}
}

// BindRecorder wires the ledger side after construction. The recorder
// depends on this job as its settlement queue, so it cannot be passed to
// the constructor.
func (j *SettlementReconcilerJob) BindRecorder(recorder SettlementRecorder) {
	j.recorder = recorder
}

// Enqueue registers a submitted-but-unconfirmed settlement for follow-up
func (j *SettlementReconcilerJob) Enqueue(p usecases.PendingSettlement) {
	j.mu.Lock()
	j.pending = append(j.pending, p)
	j.mu.Unlock()
}

func (j *SettlementReconcilerJob) Start(ctx context.Context) {
	log.Println("🕐 Starting settlement reconciler job...")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("⏹️ Settlement reconciler stopped (context cancelled)")
			return
		case <-j.stop:
			log.Println("⏹️ Settlement reconciler stopped")
			return
		case <-ticker.C:
			j.reconcile(ctx)
		}
	}
}

func (j *SettlementReconcilerJob) Stop() {
	close(j.stop)
}

func (j *SettlementReconcilerJob) reconcile(ctx context.Context) {
	j.mu.Lock()
	batch := j.pending
	j.pending = nil
	j.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	log.Printf("🔄 Reconciling %d pending settlements...", len(batch))

	var keep []usecases.PendingSettlement
	for _, p := range batch {
		switch j.resolve(ctx, p) {
		case resolved:
		case stale:
			log.Printf("❌ Giving up on settlement %s after %s", p.TxHash, j.maxAge)
		default:
			keep = append(keep, p)
		}
	}

	if len(keep) > 0 {
		j.mu.Lock()
		j.pending = append(j.pending, keep...)
		j.mu.Unlock()
	}
}

type resolution int

const (
	unresolved resolution = iota
	resolved
	stale
)

func (j *SettlementReconcilerJob) resolve(ctx context.Context, p usecases.PendingSettlement) resolution {
	if j.recorder == nil {
		return unresolved
	}
	receipt, err := j.chain.GetTransactionReceipt(ctx, p.TxHash)
	if err != nil || receipt == nil {
		if time.Since(p.SubmittedAt) > j.maxAge {
			return stale
		}
		return unresolved
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		log.Printf("❌ Pending settlement %s reverted on-chain", p.TxHash)
		return resolved
	}

	// Idempotent against a racing inline record.
	if exists, err := j.recorder.HasAccessLog(ctx, p.TxHash); err == nil && exists {
		return resolved
	}

	provider, err := j.recorder.ServiceProviderAddress(ctx, p.ServiceID)
	if err != nil {
		log.Printf("❌ Cannot resolve provider for service %s: %v", p.ServiceID, err)
		return resolved
	}
	if err := j.recorder.RecordSettlement(ctx, p.ServiceID, provider, p.Payer, p.Amount, p.TxHash); err != nil {
		log.Printf("❌ Failed to record late settlement %s: %v", p.TxHash, err)
		return unresolved
	}
	log.Printf("✅ Late settlement %s recorded for service %s", p.TxHash, p.ServiceID)
	return resolved
}
