// Package funds provides FundsLedger implementations: an in-memory ledger
// for tests and single-node runs, and a PostgreSQL-backed ledger.
package funds

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"jobmate/escrow-service/internal/escrow"
)

var (
	// ErrInsufficientBalance is returned when the payer cannot cover a transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientAllowance is returned when the custody account is not
	// allowed to pull the requested amount.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// MemoryLedger is an in-memory fungible-token ledger. The custody account is
// the spender for TransferFrom and the payer for Transfer.
type MemoryLedger struct {
	mu         sync.Mutex
	custody    escrow.Identity
	balances   map[escrow.Identity]uint64
	allowances map[escrow.Identity]map[escrow.Identity]uint64
}

// NewMemoryLedger returns an empty ledger operated by custody.
func NewMemoryLedger(custody escrow.Identity) *MemoryLedger {
	return &MemoryLedger{
		custody:    custody,
		balances:   make(map[escrow.Identity]uint64),
		allowances: make(map[escrow.Identity]map[escrow.Identity]uint64),
	}
}

// Mint credits amount to account.
func (l *MemoryLedger) Mint(account escrow.Identity, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

// Approve sets the amount spender may pull from owner.
func (l *MemoryLedger) Approve(owner, spender escrow.Identity, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.allowances[owner]
	if !ok {
		m = make(map[escrow.Identity]uint64)
		l.allowances[owner] = m
	}
	m[spender] = amount
}

// BalanceOf returns the balance of account.
func (l *MemoryLedger) BalanceOf(account escrow.Identity) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// Allowance returns the amount spender may still pull from owner.
func (l *MemoryLedger) Allowance(owner, spender escrow.Identity) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[owner][spender]
}

// TransferFrom pulls amount from → to on behalf of the custody account.
func (l *MemoryLedger) TransferFrom(_ context.Context, from, to escrow.Identity, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.allowances[from][l.custody] < amount {
		return fmt.Errorf("transferFrom %s: %w", from, ErrInsufficientAllowance)
	}
	if err := l.move(from, to, amount); err != nil {
		return fmt.Errorf("transferFrom %s: %w", from, err)
	}
	if amount > 0 {
		l.allowances[from][l.custody] -= amount
	}
	return nil
}

// Transfer pays amount out of the custody account.
func (l *MemoryLedger) Transfer(_ context.Context, to escrow.Identity, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.move(l.custody, to, amount); err != nil {
		return fmt.Errorf("transfer to %s: %w", to, err)
	}
	return nil
}

func (l *MemoryLedger) move(from, to escrow.Identity, amount uint64) error {
	if to.IsZero() {
		return errors.New("recipient is the null identity")
	}
	if l.balances[from] < amount {
		return ErrInsufficientBalance
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}
