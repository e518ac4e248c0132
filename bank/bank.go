// Package bank executes the transfers the auction requests. It holds account
// balances in a single denomination, with one account acting as escrow for
// everything deposited into the auction.
package bank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cloudx-io/openbidding/core"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrEscrowAccount is returned when the escrow account is used as a
	// depositor or a recipient.
	ErrEscrowAccount = errors.New("escrow account cannot take part in transfers")
)

// Bank is an in-memory ledger of account balances.
type Bank struct {
	mu       sync.Mutex
	escrow   core.Identity
	balances map[core.Identity]core.Amount
	log      *zap.Logger
}

// New creates a bank whose escrow account is escrow. Accounts in genesis start
// with the given balances.
func New(escrow core.Identity, genesis map[core.Identity]core.Amount, log *zap.Logger) *Bank {
	b := &Bank{
		escrow:   escrow,
		balances: make(map[core.Identity]core.Amount, len(genesis)),
		log:      log.Named("bank"),
	}
	for id, amount := range genesis {
		b.balances[id] = amount
	}
	return b
}

// Escrow returns the identity of the escrow account.
func (b *Bank) Escrow() core.Identity {
	return b.escrow
}

// Balance returns the balance of id.
func (b *Bank) Balance(id core.Identity) core.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[id]
}

// Balances returns a copy of every non-zero balance.
func (b *Bank) Balances() map[core.Identity]core.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[core.Identity]core.Amount, len(b.balances))
	for id, amount := range b.balances {
		if amount > 0 {
			out[id] = amount
		}
	}
	return out
}

// Mint credits amount to id out of thin air. Used to fund accounts in
// development setups and tests.
func (b *Bank) Mint(id core.Identity, amount core.Amount) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.credit(id, amount)
}

// Deposit moves amount from an account into escrow.
func (b *Bank) Deposit(ctx context.Context, from core.Identity, amount core.Amount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if from == b.escrow {
		return fmt.Errorf("deposit from %s: %w", from, ErrEscrowAccount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.move(from, b.escrow, amount); err != nil {
		return fmt.Errorf("deposit from %s: %w", from, err)
	}
	b.log.Debug("deposit", zap.Stringer("from", from), zap.Stringer("amount", amount))
	return nil
}

// Refund returns amount from escrow to an account. It undoes a Deposit whose
// operation failed.
func (b *Bank) Refund(ctx context.Context, to core.Identity, amount core.Amount) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.move(b.escrow, to, amount); err != nil {
		return fmt.Errorf("refund to %s: %w", to, err)
	}
	b.log.Debug("refund", zap.Stringer("to", to), zap.Stringer("amount", amount))
	return nil
}

// Execute pays every transfer out of escrow. Either all transfers are applied
// or none are.
func (b *Bank) Execute(ctx context.Context, transfers []core.Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var total core.Amount
	for _, tr := range transfers {
		if tr.Recipient == b.escrow {
			return fmt.Errorf("%s transfer to %s: %w", tr.Kind, tr.Recipient, ErrEscrowAccount)
		}
		next := total + tr.Amount
		if next < total {
			return fmt.Errorf("transfers: %w", core.ErrAmountOverflow)
		}
		total = next
	}
	if held := b.balances[b.escrow]; held < total {
		return fmt.Errorf("escrow holds %d, transfers need %d: %w", held, total, ErrInsufficientFunds)
	}

	// Check every credit before applying any of them.
	credits := make(map[core.Identity]core.Amount)
	for _, tr := range transfers {
		credits[tr.Recipient] += tr.Amount
	}
	for id, amount := range credits {
		if b.balances[id]+amount < b.balances[id] {
			return fmt.Errorf("credit %s: %w", id, core.ErrAmountOverflow)
		}
	}

	b.balances[b.escrow] -= total
	for _, tr := range transfers {
		b.balances[tr.Recipient] += tr.Amount
		b.log.Debug("transfer",
			zap.Stringer("recipient", tr.Recipient),
			zap.Stringer("amount", tr.Amount),
			zap.String("kind", string(tr.Kind)))
	}
	return nil
}

// Accounts returns the identities holding a non-zero balance, sorted.
func (b *Bank) Accounts() []core.Identity {
	balances := b.Balances()
	out := make([]core.Identity, 0, len(balances))
	for id := range balances {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *Bank) move(from, to core.Identity, amount core.Amount) error {
	if b.balances[from] < amount {
		return fmt.Errorf("%s holds %d, needs %d: %w", from, b.balances[from], amount, ErrInsufficientFunds)
	}
	if from == to {
		return nil
	}
	if b.balances[to]+amount < b.balances[to] {
		return core.ErrAmountOverflow
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}

func (b *Bank) credit(id core.Identity, amount core.Amount) error {
	if b.balances[id]+amount < b.balances[id] {
		return core.ErrAmountOverflow
	}
	b.balances[id] += amount
	return nil
}
