package escrow

import (
	"context"
	"time"
)

// Identity is an opaque account identifier (client, freelancer, owner).
// The empty Identity is the null identity.
type Identity string

// IsZero reports whether id is the null identity.
func (id Identity) IsZero() bool { return id == "" }

// FundsLedger is the fungible-token ledger holding escrowed funds.
// Transfer moves funds out of the engine's custody account; TransferFrom
// pulls funds on behalf of the engine (requires an allowance from `from`).
type FundsLedger interface {
	TransferFrom(ctx context.Context, from, to Identity, amount uint64) error
	Transfer(ctx context.Context, to Identity, amount uint64) error
}

// TokenRegistry holds certificate ownership. Transfers of a locked id must be
// rejected with an *AuthorizationError.
type TokenRegistry interface {
	Mint(ctx context.Context, owner Identity, id uint64) error
	Burn(ctx context.Context, id uint64) error
	OwnerOf(id uint64) (Identity, error)
}

// Authority distinguishes the platform owner.
type Authority interface {
	IsOwner(id Identity) bool
	Owner() Identity
}

// Clock supplies the "current time" reading captured once per operation.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// StaticAuthority is an Authority backed by a single fixed owner identity.
type StaticAuthority struct{ OwnerID Identity }

func (a StaticAuthority) IsOwner(id Identity) bool { return !id.IsZero() && id == a.OwnerID }
func (a StaticAuthority) Owner() Identity          { return a.OwnerID }
