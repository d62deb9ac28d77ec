package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ephemeral-vault/internal/domain"
	"ephemeral-vault/internal/solana/stub"
)

func TestChainFunds(t *testing.T) {
	ctx := context.Background()
	rpc := stub.NewRPCClient()
	rpc.SetBalance("owner", 10000)
	f := NewChainFunds(rpc)

	require.NoError(t, f.Debit(ctx, "owner", 10000))
	assert.ErrorIs(t, f.Debit(ctx, "owner", 10001), domain.ErrInsufficientFunds)
	require.NoError(t, f.Credit(ctx, "owner", 5000))

	rpc.BalanceErr = errors.New("node unavailable")
	assert.Error(t, f.Debit(ctx, "owner", 1))

	assert.NoError(t, NewChainFunds(nil).Debit(ctx, "anyone", 1<<40))
}
