package bank

import (
	"context"
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"go.uber.org/zap"

	"github.com/cloudx-io/openbidding/core"
)

func newBank() *Bank {
	return New("escrow", map[core.Identity]core.Amount{"alice": 100, "bob": 50}, zap.NewNop())
}

func TestDepositAndRefund(t *testing.T) {
	ctx := context.Background()
	b := newBank()

	assert.NoError(t, b.Deposit(ctx, "alice", 30))
	check.Equal(t, core.Amount(70), b.Balance("alice"))
	check.Equal(t, core.Amount(30), b.Balance("escrow"))

	assert.NoError(t, b.Refund(ctx, "alice", 30))
	check.Equal(t, core.Amount(100), b.Balance("alice"))
	check.Equal(t, core.Amount(0), b.Balance("escrow"))
}

func TestDeposit_InsufficientFunds(t *testing.T) {
	b := newBank()

	err := b.Deposit(context.Background(), "bob", 51)
	check.True(t, errors.Is(err, ErrInsufficientFunds))
	check.Equal(t, core.Amount(50), b.Balance("bob"))

	err = b.Deposit(context.Background(), "nobody", 1)
	check.True(t, errors.Is(err, ErrInsufficientFunds))
}

func TestEscrowAccountExcluded(t *testing.T) {
	ctx := context.Background()
	b := newBank()
	assert.NoError(t, b.Deposit(ctx, "alice", 20))

	err := b.Deposit(ctx, "escrow", 5)
	check.True(t, errors.Is(err, ErrEscrowAccount))

	err = b.Execute(ctx, []core.Transfer{
		{Recipient: "bob", Amount: 5, Kind: core.TransferRetraction},
		{Recipient: "escrow", Amount: 5, Kind: core.TransferPayout},
	})
	check.True(t, errors.Is(err, ErrEscrowAccount))
	check.Equal(t, core.Amount(20), b.Balance("escrow"))
	check.Equal(t, core.Amount(50), b.Balance("bob"))
}

func TestExecute_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	b := newBank()
	assert.NoError(t, b.Deposit(ctx, "alice", 20))

	err := b.Execute(ctx, []core.Transfer{
		{Recipient: "owner", Amount: 15, Kind: core.TransferPayout},
		{Recipient: "bob", Amount: 10, Kind: core.TransferRetraction},
	})
	check.True(t, errors.Is(err, ErrInsufficientFunds))
	check.Equal(t, core.Amount(20), b.Balance("escrow"))
	check.Equal(t, core.Amount(0), b.Balance("owner"))

	err = b.Execute(ctx, []core.Transfer{
		{Recipient: "owner", Amount: 2, Kind: core.TransferCommission},
		{Recipient: "owner", Amount: 18, Kind: core.TransferPayout},
	})
	assert.NoError(t, err)
	check.Equal(t, core.Amount(0), b.Balance("escrow"))
	check.Equal(t, core.Amount(20), b.Balance("owner"))
}

func TestExecute_Empty(t *testing.T) {
	b := newBank()
	check.NoError(t, b.Execute(context.Background(), nil))
}

func TestMint_Overflow(t *testing.T) {
	b := newBank()
	check.NoError(t, b.Mint("carol", ^core.Amount(0)))
	check.True(t, errors.Is(b.Mint("carol", 1), core.ErrAmountOverflow))
}

func TestAccounts(t *testing.T) {
	b := newBank()
	assert.NoError(t, b.Deposit(context.Background(), "bob", 50))

	check.Equal(t, []core.Identity{"alice", "escrow"}, b.Accounts())
	check.Equal(t, map[core.Identity]core.Amount{"alice": 100, "escrow": 50}, b.Balances())
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := newBank()

	check.True(t, errors.Is(b.Deposit(ctx, "alice", 1), context.Canceled))
	check.Equal(t, core.Amount(100), b.Balance("alice"))
}
