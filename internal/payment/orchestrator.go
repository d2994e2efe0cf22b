package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turbodriver/dispatch-core/internal/dispatch"
)

// TransactionStatus mirrors the original service's Transaction.status enum.
type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
)

// Transaction is a single charge attempt against a gateway for a ride.
type Transaction struct {
	ID          string
	RideID      string
	RiderID     string
	AmountPaise int64
	Gateway     string
	Reference   string
	Status      TransactionStatus
	RetryCount  int
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// PayoutStatus mirrors the original service's DriverPayout.status enum.
type PayoutStatus string

const (
	PayoutScheduled  PayoutStatus = "scheduled"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// Payout is a deferred transfer of a ride's driver share.
type Payout struct {
	ID          string
	RideID      string
	DriverID    string
	AmountPaise int64
	Status      PayoutStatus
	ScheduledFor time.Time
	CompletedAt *time.Time
}

// Ledger persists transactions and payouts. Implemented by storage.Postgres
// in production and an in-memory fake in tests.
type Ledger interface {
	SaveTransaction(ctx context.Context, tx Transaction) error
	SavePayout(ctx context.Context, payout Payout) error
	DuePayouts(ctx context.Context, asOf time.Time) ([]Payout, error)
}

// Orchestrator drives a ride's payment end to end: attempt the charge
// through the breaker-guarded gateway, retry with exponential backoff on
// failure, and schedule the driver's payout once the charge succeeds. It
// is grounded on the original service's PaymentService.process_payment,
// translated into Go's explicit-retry-loop idiom instead of the original's
// recursive retry_count parameter.
type Orchestrator struct {
	Gateway    Gateway
	Breaker    *CircuitBreaker
	Ledger     Ledger
	MaxRetries int
	AttemptTimeout time.Duration
	DriverShare    float64
	PayoutDelay    time.Duration

	mu sync.Mutex
}

// NewOrchestrator wires an Orchestrator from its dependencies.
func NewOrchestrator(gateway Gateway, breaker *CircuitBreaker, ledger Ledger, maxRetries int, attemptTimeout time.Duration, driverShare float64, payoutDelay time.Duration) *Orchestrator {
	return &Orchestrator{
		Gateway:        gateway,
		Breaker:        breaker,
		Ledger:         ledger,
		MaxRetries:     maxRetries,
		AttemptTimeout: attemptTimeout,
		DriverShare:    driverShare,
		PayoutDelay:    payoutDelay,
	}
}

// Charge implements dispatch.PaymentOrchestrator.
func (o *Orchestrator) Charge(ctx context.Context, rideID, riderID, driverID string, amount float64) (string, error) {
	amountPaise := int64(amount * 100)
	tx := Transaction{
		ID:          "txn_" + uuid.NewString(),
		RideID:      rideID,
		RiderID:     riderID,
		AmountPaise: amountPaise,
		Gateway:     o.Gateway.Name(),
		Status:      TransactionPending,
		CreatedAt:   time.Now(),
	}

	var lastErr error
	for attempt := 0; attempt <= o.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff(attempt - 1))
		}

		if !o.Breaker.Allow() {
			lastErr = dispatch.NewError(dispatch.KindGatewayUnavailable, "payment gateway circuit open", nil)
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, o.AttemptTimeout)
		reference, err := o.Gateway.CreatePayment(attemptCtx, riderID, amountPaise)
		cancel()

		tx.RetryCount = attempt
		if err != nil {
			o.Breaker.RecordFailure()
			lastErr = err
			continue
		}

		o.Breaker.RecordSuccess()
		now := time.Now()
		tx.Status = TransactionSuccess
		tx.Reference = reference
		tx.CompletedAt = &now
		_ = o.Ledger.SaveTransaction(ctx, tx)

		o.schedulePayout(ctx, rideID, driverID, amountPaise, now)
		return tx.ID, nil
	}

	tx.Status = TransactionFailed
	_ = o.Ledger.SaveTransaction(ctx, tx)
	return "", dispatch.NewError(dispatch.KindGatewayUnavailable, "payment failed after retries", lastErr)
}

// backoff mirrors the original's 2**retry_count second backoff.
func backoff(retry int) time.Duration {
	d := time.Second
	for i := 0; i < retry; i++ {
		d *= 2
	}
	return d
}

func (o *Orchestrator) schedulePayout(ctx context.Context, rideID, driverID string, fareAmountPaise int64, now time.Time) {
	payout := Payout{
		ID:           "payout_" + uuid.NewString(),
		RideID:       rideID,
		DriverID:     driverID,
		AmountPaise:  int64(float64(fareAmountPaise) * o.DriverShare),
		Status:       PayoutScheduled,
		ScheduledFor: now.Add(o.PayoutDelay),
	}
	_ = o.Ledger.SavePayout(ctx, payout)
}

// SweepDuePayouts moves every payout whose ScheduledFor has passed into
// PayoutProcessing and then PayoutCompleted, the same two-phase sweep the
// original service's process_scheduled_payouts ran on a cron.
func (o *Orchestrator) SweepDuePayouts(ctx context.Context) (int, error) {
	due, err := o.Ledger.DuePayouts(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	for _, p := range due {
		p.Status = PayoutProcessing
		_ = o.Ledger.SavePayout(ctx, p)

		now := time.Now()
		p.Status = PayoutCompleted
		p.CompletedAt = &now
		_ = o.Ledger.SavePayout(ctx, p)
	}
	return len(due), nil
}
