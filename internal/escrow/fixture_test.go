package escrow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jobmate/escrow-service/internal/escrow"
	"jobmate/escrow-service/internal/funds"
	"jobmate/escrow-service/internal/token"
)

const (
	owner   escrow.Identity = "platform-owner"
	vetter  escrow.Identity = "vetter"
	custody escrow.Identity = "escrow-custody"
	alice   escrow.Identity = "alice"
	bob     escrow.Identity = "bob"
	carol   escrow.Identity = "carol"

	deposit uint64 = 1_000_000
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var errBoom = errors.New("boom")

// fixture bundles an engine with in-memory collaborators and a settable clock.
type fixture struct {
	ctx      context.Context
	now      time.Time
	ledger   *funds.MemoryLedger
	funds    *flakyLedger
	registry *token.Registry
	tokens   *flakyTokens
	sink     *recordingSink
	engine   *escrow.Engine
}

func newFixture(t *testing.T, v escrow.Variant) *fixture {
	t.Helper()

	f := &fixture{
		ctx:      context.Background(),
		now:      epoch,
		ledger:   funds.NewMemoryLedger(custody),
		registry: token.NewRegistry(),
		sink:     &recordingSink{},
	}
	f.funds = &flakyLedger{MemoryLedger: f.ledger}
	f.tokens = &flakyTokens{Registry: f.registry}

	for _, id := range []escrow.Identity{alice, bob, carol} {
		f.ledger.Mint(id, 100*deposit)
		f.ledger.Approve(id, custody, ^uint64(0))
	}

	cfg := escrow.DefaultPlatformConfig()
	cfg.ApprovalAuthority = vetter

	e, err := escrow.NewEngine(custody, f.funds, f.tokens, escrow.StaticAuthority{OwnerID: owner}, escrow.Options{
		Variant: v,
		Config:  &cfg,
		Clock:   escrow.ClockFunc(func() time.Time { return f.now }),
		Sink:    f.sink,
	})
	require.NoError(t, err)
	if certs := e.Certificates(); certs != nil {
		f.registry.UseLockPolicy(certs)
	}
	f.engine = e
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// post opens a job for alice that expires after d.
func (f *fixture) post(t *testing.T, d time.Duration) uint64 {
	t.Helper()
	id, err := f.engine.PostJob(f.ctx, alice, deposit, f.now.Add(d))
	require.NoError(t, err)
	return id
}

// vet registers and approves a freelancer.
func (f *fixture) vet(t *testing.T, id escrow.Identity) {
	t.Helper()
	require.NoError(t, f.engine.RegisterFreelancer(f.ctx, id))
	require.NoError(t, f.engine.ApproveFreelancer(f.ctx, vetter, id))
}

// flakyLedger fails the next TransferFrom or Transfer when asked to.
type flakyLedger struct {
	*funds.MemoryLedger
	failTransferFrom bool
	failTransfer     bool
}

func (l *flakyLedger) TransferFrom(ctx context.Context, from, to escrow.Identity, amount uint64) error {
	if l.failTransferFrom {
		return errBoom
	}
	return l.MemoryLedger.TransferFrom(ctx, from, to, amount)
}

func (l *flakyLedger) Transfer(ctx context.Context, to escrow.Identity, amount uint64) error {
	if l.failTransfer {
		return errBoom
	}
	return l.MemoryLedger.Transfer(ctx, to, amount)
}

// flakyTokens fails Mint or Burn when asked to.
type flakyTokens struct {
	*token.Registry
	failMint bool
	failBurn bool
}

func (r *flakyTokens) Mint(ctx context.Context, owner escrow.Identity, id uint64) error {
	if r.failMint {
		return errBoom
	}
	return r.Registry.Mint(ctx, owner, id)
}

func (r *flakyTokens) Burn(ctx context.Context, id uint64) error {
	if r.failBurn {
		return errBoom
	}
	return r.Registry.Burn(ctx, id)
}

type recordingSink struct {
	mu     sync.Mutex
	events []escrow.Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, ev escrow.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) types() []escrow.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]escrow.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *recordingSink) last() escrow.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
