package auction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/cloudx-io/openbidding/bank"
	"github.com/cloudx-io/openbidding/core"
	"github.com/cloudx-io/openbidding/identity"
	"github.com/cloudx-io/openbidding/store"
)

func atoms(n core.Amount) []core.Coin {
	return []core.Coin{{Denom: core.Denom, Amount: n}}
}

type fixture struct {
	svc     *Service
	bank    *bank.Bank
	metrics *Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := bank.New("escrow", map[core.Identity]core.Amount{
		"owner":   100,
		"sender":  100,
		"sender1": 100,
		"sender2": 100,
	}, zap.NewNop())
	m, err := NewMetrics()
	assert.NoError(t, err)
	return &fixture{
		svc:     NewService(store.NewMemoryStore(), identity.PlainValidator{}, b, zap.NewNop(), m),
		bank:    b,
		metrics: m,
	}
}

// checkEscrow verifies escrow holds exactly what the ledger still owes.
func (f *fixture) checkEscrow(t *testing.T) {
	t.Helper()
	view, err := f.svc.Snapshot(context.Background())
	assert.NoError(t, err)
	var owed core.Amount
	for _, e := range view.Ledger.Entries() {
		owed += e.Net()
	}
	if view.Status.State == core.StateClosed {
		owed -= view.Status.Payout
	}
	check.Equal(t, owed, f.bank.Balance("escrow"))
}

func TestService_InstantiateQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Config(ctx)
	check.True(t, errors.Is(err, core.ErrNotInitialized))

	res, err := f.svc.Instantiate(ctx, "creator", "owner", "gold", nil)
	assert.NoError(t, err)
	check.Equal(t, "instantiate", res.Receipt.Action)

	config, err := f.svc.Config(ctx)
	assert.NoError(t, err)
	check.Equal(t, core.Config{Owner: "owner", Commodity: "gold"}, config)

	// Repeated queries return the same record.
	again, err := f.svc.Config(ctx)
	assert.NoError(t, err)
	check.Equal(t, config, again)

	bids, err := f.svc.Bids(ctx)
	assert.NoError(t, err)
	check.Equal(t, []core.Bid{{Bidder: "owner", Amount: 0}}, bids)

	status, err := f.svc.Status(ctx)
	assert.NoError(t, err)
	check.Equal(t, core.StateOpen, status.State)

	_, err = f.svc.Instantiate(ctx, "creator", "owner", "gold", nil)
	check.True(t, errors.Is(err, core.ErrAlreadyInitialized))
}

func TestService_InstantiateWithFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Instantiate(ctx, "sender", "owner", "gold", atoms(10))
	assert.NoError(t, err)

	bids, err := f.svc.Bids(ctx)
	assert.NoError(t, err)
	check.Equal(t, []core.Bid{{Bidder: "owner", Amount: 10}}, bids)
	check.Equal(t, core.Amount(90), f.bank.Balance("sender"))
	check.Equal(t, core.Amount(100), f.bank.Balance("owner"))
	check.Equal(t, core.Amount(10), f.bank.Balance("escrow"))
	f.checkEscrow(t)
}

func TestService_EscrowAccountRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.NoError(t, f.bank.Mint("escrow", 50))

	_, err := f.svc.Instantiate(ctx, "escrow", "", "gold", nil)
	check.True(t, errors.Is(err, core.ErrInvalidIdentity))
	_, err = f.svc.Instantiate(ctx, "creator", "escrow", "gold", nil)
	check.True(t, errors.Is(err, core.ErrInvalidIdentity))

	_, err = f.svc.Instantiate(ctx, "owner", "", "gold", nil)
	assert.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, "sender1", atoms(10))
	assert.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, "sender2", atoms(20))
	assert.NoError(t, err)

	// The escrow account cannot outbid anyone with funds it already holds.
	_, err = f.svc.PlaceBid(ctx, "escrow", atoms(21))
	check.True(t, errors.Is(err, core.ErrInvalidIdentity))
	_, err = f.svc.Retract(ctx, "sender1", "escrow")
	check.True(t, errors.Is(err, core.ErrInvalidIdentity))

	_, err = f.svc.Close(ctx, "owner")
	assert.NoError(t, err)
	status, err := f.svc.Status(ctx)
	assert.NoError(t, err)
	check.Equal(t, core.Identity("sender2"), status.Winner)

	_, err = f.svc.Retract(ctx, "sender1", "")
	assert.NoError(t, err)
	check.Equal(t, core.Amount(99), f.bank.Balance("sender1"))
	check.Equal(t, core.Amount(50), f.bank.Balance("escrow"))
}

func TestService_InvalidIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Instantiate(ctx, "Creator", "", "gold", nil)
	check.True(t, errors.Is(err, core.ErrInvalidIdentity))
	check.True(t, errors.Is(err, identity.ErrInvalidAddress))

	_, err = f.svc.Instantiate(ctx, "creator", "has space", "gold", nil)
	check.True(t, errors.Is(err, core.ErrInvalidIdentity))

	_, err = f.svc.Instantiate(ctx, "owner", "", "gold", nil)
	assert.NoError(t, err)
	_, err = f.svc.Retract(ctx, "sender1", "Not Valid")
	check.True(t, errors.Is(err, core.ErrInvalidIdentity))
}

func TestService_FullAuction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Instantiate(ctx, "owner", "", "gold", nil)
	assert.NoError(t, err)

	_, err = f.svc.PlaceBid(ctx, "sender1", atoms(10))
	assert.NoError(t, err)
	check.Equal(t, core.Amount(101), f.bank.Balance("owner"))

	_, err = f.svc.PlaceBid(ctx, "sender2", atoms(12))
	assert.NoError(t, err)
	check.Equal(t, core.Amount(102), f.bank.Balance("owner"))

	bids, err := f.svc.Bids(ctx)
	assert.NoError(t, err)
	check.Equal(t, []core.Bid{
		{Bidder: "sender2", Amount: 12},
		{Bidder: "sender1", Amount: 10},
		{Bidder: "owner", Amount: 0},
	}, bids)

	_, err = f.svc.PlaceBid(ctx, "sender1", atoms(10))
	assert.NoError(t, err)

	_, err = f.svc.PlaceBid(ctx, "sender2", atoms(5))
	var tooLow *core.BidTooLowError
	assert.True(t, errors.As(err, &tooLow))
	check.Equal(t, core.BidTooLowError{Amount: 17, Required: 20}, *tooLow)
	// The rejected deposit went back.
	check.Equal(t, core.Amount(88), f.bank.Balance("sender2"))
	f.checkEscrow(t)

	_, err = f.svc.Close(ctx, "sender1")
	check.True(t, errors.Is(err, core.ErrUnauthorized))

	res, err := f.svc.Close(ctx, "owner")
	assert.NoError(t, err)
	check.Equal(t, []core.Transfer{{Recipient: "owner", Amount: 18, Kind: core.TransferPayout}}, res.Transfers)
	check.Equal(t, core.Amount(121), f.bank.Balance("owner"))
	check.Equal(t, core.StateClosed, res.View.Status.State)
	f.checkEscrow(t)

	_, err = f.svc.Close(ctx, "owner")
	check.True(t, errors.Is(err, core.ErrAuctionClosed))
	check.Equal(t, core.Amount(121), f.bank.Balance("owner"))

	_, err = f.svc.PlaceBid(ctx, "sender2", atoms(50))
	check.True(t, errors.Is(err, core.ErrAuctionClosed))
	check.Equal(t, core.Amount(88), f.bank.Balance("sender2"))

	_, err = f.svc.Retract(ctx, "sender2", "")
	assert.NoError(t, err)
	check.Equal(t, core.Amount(99), f.bank.Balance("sender2"))
	f.checkEscrow(t)

	_, err = f.svc.Retract(ctx, "sender2", "")
	check.True(t, errors.Is(err, core.ErrNoRetractableBid))
	check.Equal(t, core.Amount(0), f.bank.Balance("escrow"))

	// Every unit is accounted for.
	var total core.Amount
	for _, id := range []core.Identity{"owner", "sender", "sender1", "sender2", "escrow"} {
		total += f.bank.Balance(id)
	}
	check.Equal(t, core.Amount(400), total)
}

func TestService_IgnoresOtherDenoms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Instantiate(ctx, "owner", "", "gold", nil)
	assert.NoError(t, err)

	_, err = f.svc.PlaceBid(ctx, "sender1", []core.Coin{{Denom: "uosmo", Amount: 10}})
	check.True(t, errors.Is(err, core.ErrEmptyBid))
	check.Equal(t, core.Amount(100), f.bank.Balance("sender1"))
}

func TestService_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Instantiate(ctx, "owner", "", "gold", nil)
	assert.NoError(t, err)

	_, err = f.svc.PlaceBid(ctx, "sender1", atoms(101))
	check.True(t, errors.Is(err, bank.ErrInsufficientFunds))

	bids, err := f.svc.Bids(ctx)
	assert.NoError(t, err)
	check.Equal(t, 1, len(bids))
}

func TestService_OwnerBidRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Instantiate(ctx, "owner", "", "gold", nil)
	assert.NoError(t, err)

	_, err = f.svc.PlaceBid(ctx, "owner", atoms(30))
	check.True(t, errors.Is(err, core.ErrOwnerCannotBid))
	check.Equal(t, core.Amount(100), f.bank.Balance("owner"))
	check.Equal(t, core.Amount(0), f.bank.Balance("escrow"))
}

type failingEscrow struct {
	*bank.Bank
	err error
}

func (e failingEscrow) Execute(context.Context, []core.Transfer) error {
	return e.err
}

func TestService_TransferFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("bank offline")
	m, err := NewMetrics()
	assert.NoError(t, err)
	svc := NewService(store.NewMemoryStore(), identity.PlainValidator{}, failingEscrow{Bank: f.bank, err: boom}, zap.NewNop(), m)
	ctx := context.Background()

	_, err = svc.Instantiate(ctx, "owner", "", "gold", nil)
	assert.NoError(t, err)

	res, err := svc.PlaceBid(ctx, "sender1", atoms(10))
	check.True(t, errors.Is(err, ErrTransferFailed))
	check.True(t, errors.Is(err, boom))
	assert.NotNil(t, res)

	// The bid itself is committed.
	bids, err := svc.Bids(ctx)
	assert.NoError(t, err)
	check.Equal(t, core.Bid{Bidder: "sender1", Amount: 10}, bids[0])
	check.Equal(t, float64(1), testutil.ToFloat64(m.operations.WithLabelValues(actionBid, "transfer_failed")))
}

type failingStore struct {
	store.Store
	err error
}

func (s failingStore) Update(context.Context, func(store.Writer) error) error {
	return s.err
}

func TestService_StoreFailureRefunds(t *testing.T) {
	f := newFixture(t)
	mem := store.NewMemoryStore()
	ctx := context.Background()
	m, err := NewMetrics()
	assert.NoError(t, err)

	svc := NewService(mem, identity.PlainValidator{}, f.bank, zap.NewNop(), m)
	_, err = svc.Instantiate(ctx, "owner", "", "gold", nil)
	assert.NoError(t, err)

	diskFull := errors.New("disk full")
	broken := NewService(failingStore{Store: mem, err: diskFull}, identity.PlainValidator{}, f.bank, zap.NewNop(), m)
	_, err = broken.PlaceBid(ctx, "sender1", atoms(40))
	check.True(t, errors.Is(err, diskFull))
	check.Equal(t, core.Amount(100), f.bank.Balance("sender1"))
	check.Equal(t, core.Amount(0), f.bank.Balance("escrow"))
}

func TestService_ConcurrentBids(t *testing.T) {
	ids := make(map[core.Identity]core.Amount)
	for i := 0; i < 20; i++ {
		ids[core.Identity(fmt.Sprintf("bidder%02d", i))] = 1000
	}
	b := bank.New("escrow", ids, zap.NewNop())
	m, err := NewMetrics()
	assert.NoError(t, err)
	svc := NewService(store.NewMemoryStore(), identity.PlainValidator{}, b, zap.NewNop(), m)
	ctx := context.Background()
	_, err = svc.Instantiate(ctx, "owner", "", "gold", nil)
	assert.NoError(t, err)

	var wg sync.WaitGroup
	for id := range ids {
		wg.Add(1)
		go func(id core.Identity) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, _ = svc.PlaceBid(ctx, string(id), atoms(core.Amount(10+i*7)))
			}
		}(id)
	}
	wg.Wait()

	f := &fixture{svc: svc, bank: b}
	f.checkEscrow(t)

	bids, err := svc.Bids(ctx)
	assert.NoError(t, err)
	for i := 1; i < len(bids); i++ {
		check.GreaterThanOrEqual(t, bids[i-1].Amount, bids[i].Amount)
	}
	// Only the leader can hold the top amount.
	if len(bids) > 2 {
		check.NotEqual(t, bids[0].Amount, bids[1].Amount)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Instantiate(ctx, "owner", "", "gold", nil)
	assert.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, "sender1", atoms(20))
	assert.NoError(t, err)
	_, err = f.svc.PlaceBid(ctx, "sender2", atoms(20))
	check.Error(t, err)
	_, err = f.svc.Close(ctx, "owner")
	assert.NoError(t, err)

	check.Equal(t, float64(1), testutil.ToFloat64(f.metrics.operations.WithLabelValues(actionBid, "ok")))
	check.Equal(t, float64(1), testutil.ToFloat64(f.metrics.bidsRejected.WithLabelValues("bid_too_low")))
	check.Equal(t, float64(2), testutil.ToFloat64(f.metrics.transferred.WithLabelValues(string(core.TransferCommission))))
	check.Equal(t, float64(18), testutil.ToFloat64(f.metrics.transferred.WithLabelValues(string(core.TransferPayout))))
	check.Equal(t, float64(20), testutil.ToFloat64(f.metrics.highestBid))
	check.Equal(t, float64(1), testutil.ToFloat64(f.metrics.closed))
}
