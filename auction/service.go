// Package auction runs the auction state machine against a store and an
// escrow. It is the single entry point for every operation: it serializes
// invocations, persists each outcome atomically and executes the transfers
// the outcome requests once it is committed.
package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cloudx-io/openbidding/core"
	"github.com/cloudx-io/openbidding/identity"
	"github.com/cloudx-io/openbidding/internal/logger"
	"github.com/cloudx-io/openbidding/store"
)

const (
	actionInstantiate = "instantiate"
	actionBid         = "bid"
	actionClose       = "close"
	actionRetract     = "retract"
)

// ErrTransferFailed is returned when an operation was committed but the
// transfers it requested could not be executed. The Result is still returned.
var ErrTransferFailed = errors.New("transfer failed")

// Escrow moves funds on behalf of the service.
type Escrow interface {
	// Deposit moves funds attached to a request into escrow.
	Deposit(ctx context.Context, from core.Identity, amount core.Amount) error
	// Refund returns a deposit whose operation was rejected.
	Refund(ctx context.Context, to core.Identity, amount core.Amount) error
	// Execute pays transfers out of escrow, all or nothing.
	Execute(ctx context.Context, transfers []core.Transfer) error
	// Escrow returns the identity of the account holding deposits.
	Escrow() core.Identity
}

// Result describes a committed operation.
type Result struct {
	Receipt   core.Receipt
	Transfers []core.Transfer
	// View is the auction record after the operation.
	View core.View
}

type Service struct {
	mu      sync.Mutex
	store   store.Store
	ids     identity.Validator
	escrow  Escrow
	log     *zap.Logger
	metrics *Metrics
}

func NewService(st store.Store, ids identity.Validator, escrow Escrow, log *zap.Logger, metrics *Metrics) *Service {
	return &Service{
		store:   st,
		ids:     ids,
		escrow:  escrow,
		log:     log.Named("auction"),
		metrics: metrics,
	}
}

func (s *Service) validate(addr string) (core.Identity, error) {
	id, err := s.ids.Validate(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrInvalidIdentity, err)
	}
	if id == s.escrow.Escrow() {
		return "", fmt.Errorf("%w: %s is the escrow account", core.ErrInvalidIdentity, id)
	}
	return id, nil
}

// Instantiate creates the auction. owner may be empty, in which case the
// sender owns it. Funds in core.Denom are taken from the sender and held by
// the owner's entry.
func (s *Service) Instantiate(ctx context.Context, sender, owner, commodity string, funds []core.Coin) (*Result, error) {
	senderID, err := s.validate(sender)
	if err != nil {
		return nil, err
	}
	var ownerID core.Identity
	if owner != "" {
		if ownerID, err = s.validate(owner); err != nil {
			return nil, err
		}
	}

	msg := core.InstantiateMsg{Owner: ownerID, Commodity: commodity}
	amount := core.FundsIn(funds)
	return s.apply(ctx, actionInstantiate, senderID, amount, func(w store.Writer) (core.View, *core.Outcome, error) {
		if _, err := w.LoadConfig(); err == nil {
			return core.View{}, nil, core.ErrAlreadyInitialized
		} else if !errors.Is(err, store.ErrNotFound) {
			return core.View{}, nil, fmt.Errorf("failed to load config: %w", err)
		}
		out, err := core.Instantiate(senderID, msg, amount)
		return core.View{}, out, err
	})
}

// PlaceBid deposits the core.Denom part of funds as a bid from sender.
func (s *Service) PlaceBid(ctx context.Context, sender string, funds []core.Coin) (*Result, error) {
	senderID, err := s.validate(sender)
	if err != nil {
		return nil, err
	}
	amount := core.FundsIn(funds)
	return s.execute(ctx, actionBid, senderID, amount, core.PlaceBid{Sender: senderID, Funds: amount})
}

// Close settles the auction. Only the owner may close it.
func (s *Service) Close(ctx context.Context, sender string) (*Result, error) {
	senderID, err := s.validate(sender)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, actionClose, senderID, 0, core.Close{Sender: senderID})
}

// Retract returns sender's non-winning deposit, net of commission, to
// receiver (or to sender when receiver is empty).
func (s *Service) Retract(ctx context.Context, sender, receiver string) (*Result, error) {
	senderID, err := s.validate(sender)
	if err != nil {
		return nil, err
	}
	var receiverID core.Identity
	if receiver != "" {
		if receiverID, err = s.validate(receiver); err != nil {
			return nil, err
		}
	}
	return s.execute(ctx, actionRetract, senderID, 0, core.Retract{Sender: senderID, Receiver: receiverID})
}

func (s *Service) execute(ctx context.Context, action string, sender core.Identity, deposit core.Amount, req core.Request) (*Result, error) {
	return s.apply(ctx, action, sender, deposit, func(w store.Writer) (core.View, *core.Outcome, error) {
		view, err := store.LoadView(w)
		if err != nil {
			return core.View{}, nil, err
		}
		out, err := core.Execute(view, req)
		return view, out, err
	})
}

// apply runs one operation end to end. The deposit is taken before the
// transaction and refunded if the operation is rejected; transfers run only
// after the transaction commits.
func (s *Service) apply(
	ctx context.Context,
	action string,
	sender core.Identity,
	deposit core.Amount,
	run func(store.Writer) (core.View, *core.Outcome, error),
) (res *Result, err error) {
	start := time.Now()
	log := s.log.With(zap.String("action", action), zap.Stringer("sender", sender))
	if id := logger.RequestID(ctx); id != "" {
		log = log.With(zap.String("request_id", id))
	}
	defer func() {
		s.metrics.observe(action, time.Since(start).Seconds(), err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if deposit > 0 {
		if err := s.escrow.Deposit(ctx, sender, deposit); err != nil {
			log.Warn("deposit rejected", zap.Error(err))
			return nil, fmt.Errorf("failed to deposit funds: %w", err)
		}
	}

	var (
		outcome *core.Outcome
		next    core.View
	)
	err = s.store.Update(ctx, func(w store.Writer) error {
		view, out, err := run(w)
		if err != nil {
			return err
		}
		if err := store.Persist(w, out); err != nil {
			return err
		}
		outcome = out
		next = view.Apply(out)
		return nil
	})
	if err != nil {
		if deposit > 0 {
			// The request context may be what failed; the refund must still happen.
			if rerr := s.escrow.Refund(context.WithoutCancel(ctx), sender, deposit); rerr != nil {
				log.Error("failed to refund rejected deposit", zap.Stringer("amount", deposit), zap.Error(rerr))
			}
		}
		log.Info("operation rejected", zap.Error(err))
		return nil, err
	}

	res = &Result{Receipt: outcome.Receipt, Transfers: outcome.Transfers, View: next}
	s.metrics.recordView(next)

	if len(outcome.Transfers) > 0 {
		if terr := s.escrow.Execute(context.WithoutCancel(ctx), outcome.Transfers); terr != nil {
			log.Error("operation committed but transfers failed",
				zap.Int("transfers", len(outcome.Transfers)), zap.Error(terr))
			return res, fmt.Errorf("%w: %w", ErrTransferFailed, terr)
		}
		s.metrics.recordTransfers(outcome.Transfers)
	}

	log.Info("operation applied",
		zap.Any("attributes", outcome.Receipt.Attributes),
		zap.Int("transfers", len(outcome.Transfers)))
	return res, nil
}

// Config returns the auction configuration.
func (s *Service) Config(ctx context.Context) (core.Config, error) {
	view, err := s.Snapshot(ctx)
	if err != nil {
		return core.Config{}, err
	}
	return view.Config, nil
}

// Bids returns every ledger entry ranked highest first.
func (s *Service) Bids(ctx context.Context) ([]core.Bid, error) {
	view, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return view.Ledger.AllRanked(), nil
}

// Status returns the lifecycle state and settlement of the auction.
func (s *Service) Status(ctx context.Context) (core.Status, error) {
	view, err := s.Snapshot(ctx)
	if err != nil {
		return core.Status{}, err
	}
	return view.Status, nil
}

// Snapshot returns the full auction record.
func (s *Service) Snapshot(ctx context.Context) (core.View, error) {
	var view core.View
	err := s.store.View(ctx, func(r store.Reader) error {
		v, err := store.LoadView(r)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	return view, err
}
