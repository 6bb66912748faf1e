// Package token implements the certificate token registry: ownership records
// for job certificates with transfers gated by a lock policy.
package token

import (
	"context"
	"fmt"
	"sync"

	"jobmate/escrow-service/internal/escrow"
)

// LockPolicy decides whether a certificate may change hands.
// *escrow.CertificateIssuer implements it.
type LockPolicy interface {
	IsLocked(id uint64) bool
}

// Registry is an in-memory certificate registry. Without a lock policy every
// transfer is refused.
type Registry struct {
	mu      sync.RWMutex
	owners  map[uint64]escrow.Identity
	balance map[escrow.Identity]int
	policy  LockPolicy
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		owners:  make(map[uint64]escrow.Identity),
		balance: make(map[escrow.Identity]int),
	}
}

// UseLockPolicy installs the policy consulted by Transfer.
func (r *Registry) UseLockPolicy(p LockPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = p
}

// Mint records owner as the holder of certificate id.
func (r *Registry) Mint(_ context.Context, owner escrow.Identity, id uint64) error {
	if owner.IsZero() {
		return fmt.Errorf("mint %d: owner is the null identity", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.owners[id]; ok {
		return fmt.Errorf("mint %d: token already minted", id)
	}
	r.owners[id] = owner
	r.balance[owner]++
	return nil
}

// Burn destroys certificate id.
func (r *Registry) Burn(_ context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[id]
	if !ok {
		return fmt.Errorf("burn %d: token does not exist", id)
	}
	delete(r.owners, id)
	if r.balance[owner]--; r.balance[owner] == 0 {
		delete(r.balance, owner)
	}
	return nil
}

// OwnerOf returns the holder of certificate id.
func (r *Registry) OwnerOf(id uint64) (escrow.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.owners[id]
	if !ok {
		return "", &escrow.StateError{Msg: fmt.Sprintf("certificate %d does not exist", id)}
	}
	return owner, nil
}

// BalanceOf returns the number of certificates held by owner.
func (r *Registry) BalanceOf(owner escrow.Identity) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.balance[owner]
}

// Transfer moves certificate id from → to. Locked certificates are never
// transferable.
func (r *Registry) Transfer(_ context.Context, from, to escrow.Identity, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[id]
	if !ok {
		return &escrow.StateError{Msg: fmt.Sprintf("certificate %d does not exist", id)}
	}
	if owner != from {
		return &escrow.AuthorizationError{Msg: fmt.Sprintf("%s does not hold certificate %d", from, id)}
	}
	if r.policy == nil || r.policy.IsLocked(id) {
		return &escrow.AuthorizationError{Msg: fmt.Sprintf("certificate %d is locked", id)}
	}
	if to.IsZero() {
		return &escrow.ValueError{Msg: "cannot transfer to the null identity"}
	}
	r.owners[id] = to
	r.balance[from]--
	r.balance[to]++
	return nil
}
