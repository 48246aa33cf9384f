package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"partyup_server/models"
)

var ErrPayoutRunInProgress = errors.New("payout run already in progress")

// TransferResult is the provider's answer to a transfer request.
type TransferResult struct {
	TransferID       string
	Status           string
	Method           string
	EstimatedArrival string
	Fee              float64
}

// TransferProvider moves money to an external destination. The batch
// processor is agnostic to the backing method (bank transfer, wallet).
type TransferProvider interface {
	Transfer(ctx context.Context, amount float64, destination, memo string) (*TransferResult, error)
}

// DryRunTransferProvider logs transfers without moving money. Used until a
// real provider is configured.
type DryRunTransferProvider struct{}

func (DryRunTransferProvider) Transfer(ctx context.Context, amount float64, destination, memo string) (*TransferResult, error) {
	id := "dryrun-" + uuid.NewString()
	log.Printf("payout: dry-run transfer of %.2f to %s (%s)", amount, destination, memo)
	return &TransferResult{
		TransferID:       id,
		Status:           "completed",
		Method:           "dry_run",
		EstimatedArrival: time.Now().UTC().Add(72 * time.Hour).Format(time.RFC3339),
	}, nil
}

// PayoutStore is the storage contract for the payout batch processor.
type PayoutStore interface {
	ListEligible(ctx context.Context, minimum float64) ([]models.HostEarnings, error)
	GetEarnings(ctx context.Context, hostID string) (*models.HostEarnings, error)
	// RecordPayout atomically moves the paid amount out of pending and
	// appends the payout record, guarded on the expected pending amount.
	RecordPayout(ctx context.Context, hostID string, expectedPending float64, record models.PayoutRecord) error
	CreditEarnings(ctx context.Context, hostID, partyID, guestID string, amount float64) error
}

// PayoutFailure describes one host's failed payout within a batch.
type PayoutFailure struct {
	HostID string `json:"hostId"`
	Reason string `json:"reason"`
}

// PayoutSummary aggregates one batch run.
type PayoutSummary struct {
	Eligible  int             `json:"eligible"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	TotalPaid float64         `json:"totalPaid"`
	Failures  []PayoutFailure `json:"failures,omitempty"`
}

// PayoutService is the scheduled batch processor that disburses accumulated
// pending earnings. Hosts are processed independently: one host's transfer or
// write failure never aborts or rolls back another host's payout.
type PayoutService struct {
	Store      PayoutStore
	Provider   TransferProvider
	Dispatcher Dispatcher

	MinimumPayout   float64
	Parallelism     int
	TransferTimeout time.Duration

	running atomic.Bool
}

// RunOnce executes one payout batch. A run that overlaps an in-flight run for
// the same period is declined with ErrPayoutRunInProgress.
func (ps *PayoutService) RunOnce(ctx context.Context) (*PayoutSummary, error) {
	if !ps.running.CompareAndSwap(false, true) {
		return nil, ErrPayoutRunInProgress
	}
	defer ps.running.Store(false)

	hosts, err := ps.Store.ListEligible(ctx, ps.minimum())
	if err != nil {
		return nil, fmt.Errorf("select eligible hosts: %w", err)
	}

	summary := &PayoutSummary{Eligible: len(hosts)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, ps.parallelism())

	for i := range hosts {
		host := hosts[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			amount, err := ps.payHost(ctx, &host)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("payout: host %s failed: %v", host.HostID, err)
				summary.Failed++
				summary.Failures = append(summary.Failures, PayoutFailure{HostID: host.HostID, Reason: err.Error()})
				return
			}
			summary.Succeeded++
			summary.TotalPaid += amount
		}()
	}
	wg.Wait()

	log.Printf("payout: batch complete, %d succeeded, %d failed, %.2f paid", summary.Succeeded, summary.Failed, summary.TotalPaid)
	ps.dispatch(Notification{
		Event: NotificationPayoutSummary,
		Data: map[string]interface{}{
			"eligible":  summary.Eligible,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"totalPaid": summary.TotalPaid,
		},
	})
	return summary, nil
}

// payHost transfers one host's pending earnings and records the result. The
// transfer happens first; the recording update is conditional on the pending
// amount still matching, so money moved is never double-counted.
func (ps *PayoutService) payHost(ctx context.Context, host *models.HostEarnings) (float64, error) {
	amount := host.PendingEarnings
	if amount < ps.minimum() {
		return 0, fmt.Errorf("pending earnings %.2f below minimum", amount)
	}
	if !host.BankAccountSetup || host.BankAccountID == "" {
		return 0, errors.New("bank account not set up")
	}

	tctx, cancel := context.WithTimeout(ctx, ps.transferTimeout())
	defer cancel()

	memo := fmt.Sprintf("Party earnings payout for host %s", host.HostID)
	result, err := ps.Provider.Transfer(tctx, amount, host.BankAccountID, memo)
	if err != nil {
		return 0, fmt.Errorf("transfer failed: %w", err)
	}

	record := models.PayoutRecord{
		PayoutID:         result.TransferID,
		Amount:           amount,
		CreatedAt:        time.Now().UTC().Format(time.RFC3339),
		Method:           result.Method,
		Status:           models.PayoutStatusCompleted,
		TransactionIDs:   host.UnpaidTransactionIDs(),
		EstimatedArrival: result.EstimatedArrival,
		Fee:              result.Fee,
	}
	if err := ps.Store.RecordPayout(ctx, host.HostID, amount, record); err != nil {
		return 0, fmt.Errorf("record payout: %w", err)
	}

	ps.dispatch(Notification{
		Event:  NotificationPayoutSent,
		UserID: host.HostID,
		Data: map[string]interface{}{
			"payoutId":         record.PayoutID,
			"amount":           amount,
			"estimatedArrival": record.EstimatedArrival,
		},
	})
	return amount, nil
}

// CreditEarnings records a payment-succeeded signal as realized earnings for
// the host.
func (ps *PayoutService) CreditEarnings(ctx context.Context, hostID, partyID, guestID string, amount float64) error {
	if amount <= 0 {
		return errors.New("amount must be positive")
	}
	if hostID == "" {
		return errors.New("hostId is required")
	}
	return ps.Store.CreditEarnings(ctx, hostID, partyID, guestID, amount)
}

// RunScheduled invokes RunOnce on the given cadence until the context is
// cancelled. Ticks that arrive while a run is in flight are declined.
func (ps *PayoutService) RunScheduled(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 7 * 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := ps.RunOnce(ctx); err != nil && !errors.Is(err, ErrPayoutRunInProgress) {
				log.Printf("payout: scheduled run failed: %v", err)
			}
		}
	}
}

func (ps *PayoutService) minimum() float64 {
	if ps.MinimumPayout > 0 {
		return ps.MinimumPayout
	}
	return 10.00
}

func (ps *PayoutService) parallelism() int {
	if ps.Parallelism > 0 {
		return ps.Parallelism
	}
	return 4
}

func (ps *PayoutService) transferTimeout() time.Duration {
	if ps.TransferTimeout > 0 {
		return ps.TransferTimeout
	}
	return 30 * time.Second
}

func (ps *PayoutService) dispatch(n Notification) {
	if ps.Dispatcher != nil {
		ps.Dispatcher.Dispatch(n)
	}
}
