package payment

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger, used for local development and the
// CLI smoke/simulate tools in place of storage.Postgres.
type MemoryLedger struct {
	mu           sync.Mutex
	transactions map[string]Transaction
	payouts      map[string]Payout
}

// NewMemoryLedger returns an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		transactions: make(map[string]Transaction),
		payouts:      make(map[string]Payout),
	}
}

// SaveTransaction implements Ledger.
func (l *MemoryLedger) SaveTransaction(_ context.Context, tx Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transactions[tx.ID] = tx
	return nil
}

// SavePayout implements Ledger.
func (l *MemoryLedger) SavePayout(_ context.Context, payout Payout) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payouts[payout.ID] = payout
	return nil
}

// DuePayouts implements Ledger.
func (l *MemoryLedger) DuePayouts(_ context.Context, asOf time.Time) ([]Payout, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var due []Payout
	for _, p := range l.payouts {
		if p.Status == PayoutScheduled && !p.ScheduledFor.After(asOf) {
			due = append(due, p)
		}
	}
	return due, nil
}

// Transaction returns a saved transaction by id, for tests and the admin
// surface.
func (l *MemoryLedger) Transaction(id string) (Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.transactions[id]
	return tx, ok
}

// Payout returns a saved payout by id.
func (l *MemoryLedger) Payout(id string) (Payout, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payouts[id]
	return p, ok
}
