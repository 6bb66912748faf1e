package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/escrow-service/internal/escrow"
	"jobmate/escrow-service/internal/token"
)

type lockSet map[uint64]bool

func (l lockSet) IsLocked(id uint64) bool { return l[id] }

func TestRegistry_MintBurn(t *testing.T) {
	ctx := context.Background()
	r := token.NewRegistry()

	require.NoError(t, r.Mint(ctx, "alice", 1))
	require.NoError(t, r.Mint(ctx, "alice", 2))
	assert.Error(t, r.Mint(ctx, "bob", 1), "ids are unique")
	assert.Error(t, r.Mint(ctx, "", 3))
	assert.Equal(t, 2, r.BalanceOf("alice"))

	owner, err := r.OwnerOf(1)
	require.NoError(t, err)
	assert.Equal(t, escrow.Identity("alice"), owner)

	require.NoError(t, r.Burn(ctx, 1))
	assert.Error(t, r.Burn(ctx, 1))
	assert.Equal(t, 1, r.BalanceOf("alice"))

	_, err = r.OwnerOf(1)
	var se *escrow.StateError
	assert.ErrorAs(t, err, &se)
}

func TestRegistry_TransferRespectsLocks(t *testing.T) {
	ctx := context.Background()
	r := token.NewRegistry()
	require.NoError(t, r.Mint(ctx, "alice", 1))
	require.NoError(t, r.Mint(ctx, "alice", 2))

	var ae *escrow.AuthorizationError
	assert.ErrorAs(t, r.Transfer(ctx, "alice", "bob", 1), &ae, "no policy means locked")

	r.UseLockPolicy(lockSet{1: true})
	assert.ErrorAs(t, r.Transfer(ctx, "alice", "bob", 1), &ae)
	assert.ErrorAs(t, r.Transfer(ctx, "bob", "carol", 2), &ae, "only the holder may transfer")

	var ve *escrow.ValueError
	assert.ErrorAs(t, r.Transfer(ctx, "alice", "", 2), &ve)

	var se *escrow.StateError
	assert.ErrorAs(t, r.Transfer(ctx, "alice", "bob", 9), &se)

	require.NoError(t, r.Transfer(ctx, "alice", "bob", 2))
	owner, _ := r.OwnerOf(2)
	assert.Equal(t, escrow.Identity("bob"), owner)
	assert.Equal(t, 1, r.BalanceOf("alice"))
	assert.Equal(t, 1, r.BalanceOf("bob"))
}

// Certificates issued by the engine are never transferable while they exist.
func TestRegistry_EngineCertificatesAreLocked(t *testing.T) {
	ctx := context.Background()
	r := token.NewRegistry()
	ledger := &acceptAll{}
	e, err := escrow.NewEngine("custody", ledger, r, escrow.StaticAuthority{OwnerID: "owner"}, escrow.Options{Variant: escrow.Vetted})
	require.NoError(t, err)
	r.UseLockPolicy(e.Certificates())

	id, err := e.PostJob(ctx, "alice", 1_000_000, time.Now().Add(48*time.Hour))
	require.NoError(t, err)

	var ae *escrow.AuthorizationError
	assert.ErrorAs(t, r.Transfer(ctx, "alice", "bob", id), &ae)
	assert.Equal(t, 1, r.BalanceOf("alice"))
}

// A Finished job keeps its certificate, and it stays locked for good.
func TestRegistry_FinishedJobCertificateIsLocked(t *testing.T) {
	ctx := context.Background()
	r := token.NewRegistry()
	cfg := escrow.DefaultPlatformConfig()
	cfg.ApprovalAuthority = "vetter"
	e, err := escrow.NewEngine("custody", &acceptAll{}, r, escrow.StaticAuthority{OwnerID: "owner"}, escrow.Options{
		Variant: escrow.Vetted,
		Config:  &cfg,
	})
	require.NoError(t, err)
	r.UseLockPolicy(e.Certificates())

	require.NoError(t, e.RegisterFreelancer(ctx, "bob"))
	require.NoError(t, e.ApproveFreelancer(ctx, "vetter", "bob"))
	id, err := e.PostJob(ctx, "alice", 1_000_000, time.Now().Add(48*time.Hour))
	require.NoError(t, err)
	require.NoError(t, e.SubmitWork(ctx, "bob", id))
	require.NoError(t, e.ApproveWork(ctx, "alice", id, "bob"))

	job, err := e.Job(id)
	require.NoError(t, err)
	require.Equal(t, escrow.StateFinished, job.State)

	var ae *escrow.AuthorizationError
	assert.ErrorAs(t, r.Transfer(ctx, "alice", "bob", id), &ae)
	assert.ErrorAs(t, r.Transfer(ctx, "alice", "carol", id), &ae)
	owner, err := r.OwnerOf(id)
	require.NoError(t, err)
	assert.Equal(t, escrow.Identity("alice"), owner)
	assert.Zero(t, r.BalanceOf("bob"))
}

type acceptAll struct{}

func (acceptAll) TransferFrom(context.Context, escrow.Identity, escrow.Identity, uint64) error {
	return nil
}

func (acceptAll) Transfer(context.Context, escrow.Identity, uint64) error { return nil }
