package funds

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedger_TransferFrom(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger("custody")
	l.Mint("alice", 100)

	assert.ErrorIs(t, l.TransferFrom(ctx, "alice", "custody", 10), ErrInsufficientAllowance)

	l.Approve("alice", "custody", 60)
	require.NoError(t, l.TransferFrom(ctx, "alice", "custody", 40))
	assert.Equal(t, uint64(60), l.BalanceOf("alice"))
	assert.Equal(t, uint64(40), l.BalanceOf("custody"))
	assert.Equal(t, uint64(20), l.Allowance("alice", "custody"))

	assert.ErrorIs(t, l.TransferFrom(ctx, "alice", "custody", 21), ErrInsufficientAllowance)

	l.Approve("alice", "custody", 1000)
	assert.ErrorIs(t, l.TransferFrom(ctx, "alice", "custody", 61), ErrInsufficientBalance)
	assert.Equal(t, uint64(1000), l.Allowance("alice", "custody"), "failed pulls keep the allowance")
	assert.Error(t, l.TransferFrom(ctx, "alice", "", 1))
}

func TestMemoryLedger_Transfer(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger("custody")
	l.Mint("custody", 50)

	require.NoError(t, l.Transfer(ctx, "bob", 30))
	assert.Equal(t, uint64(30), l.BalanceOf("bob"))
	assert.Equal(t, uint64(20), l.BalanceOf("custody"))

	assert.ErrorIs(t, l.Transfer(ctx, "bob", 21), ErrInsufficientBalance)
	assert.Error(t, l.Transfer(ctx, "", 1))
}

func TestMemoryLedger_ZeroAmountWithoutAllowance(t *testing.T) {
	l := NewMemoryLedger("custody")
	require.NoError(t, l.TransferFrom(context.Background(), "alice", "custody", 0))
}

func TestToBigint(t *testing.T) {
	v, err := toBigint(math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), v)

	_, err = toBigint(math.MaxInt64 + 1)
	assert.Error(t, err)
}
