package core

import (
	"fmt"
)

// InstantiateMsg carries the parameters of a new auction.
// An empty Owner means the sender owns the auction.
type InstantiateMsg struct {
	Owner     Identity
	Commodity string
}

// Request is one of PlaceBid, Close or Retract.
type Request interface {
	action() string
}

// PlaceBid deposits Funds on behalf of Sender.
type PlaceBid struct {
	Sender Identity
	Funds  Amount
}

// Close settles the auction. Only the owner may close.
type Close struct {
	Sender Identity
}

// Retract withdraws a non-winning deposit. An empty Receiver means Sender.
type Retract struct {
	Sender   Identity
	Receiver Identity
}

func (PlaceBid) action() string { return "bid" }
func (Close) action() string    { return "close" }
func (Retract) action() string  { return "retract" }

// View is the persisted auction state an operation runs against.
type View struct {
	Config Config
	Status Status
	Ledger *Ledger
}

// Outcome is everything a successful operation wants applied: ledger and
// status writes to persist, and transfers to execute once they are.
type Outcome struct {
	Receipt   Receipt
	Config    *Config // set only by Instantiate
	Status    *Status // set when the status changes
	Writes    []LedgerEntry
	Transfers []Transfer
}

// Instantiate creates a new auction.
//
// The owner always gets a sentinel entry. Funds attached to instantiation are
// held by that entry in full: no commission is charged on them and the sender
// does not become a bidder.
func Instantiate(sender Identity, msg InstantiateMsg, funds Amount) (*Outcome, error) {
	if sender == "" {
		return nil, fmt.Errorf("%w: empty sender", ErrInvalidIdentity)
	}
	if funds > MaxAmount {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrAmountOverflow, funds, MaxAmount)
	}
	owner := msg.Owner
	if owner == "" {
		owner = sender
	}

	config := Config{Owner: owner, Commodity: msg.Commodity}
	status := Status{State: StateOpen, Name: ContractName, Version: ContractVersion}
	writes := []LedgerEntry{{Bidder: owner, Amount: funds, Seq: 0}}

	out := &Outcome{
		Receipt: Receipt{
			Action: "instantiate",
			Sender: sender,
			Attributes: []Attribute{
				{Key: "owner", Value: owner.String()},
				{Key: "commodity", Value: msg.Commodity},
			},
		},
		Config: &config,
		Status: &status,
		Writes: writes,
	}
	return out, nil
}

// Execute applies req to view. It never mutates view; the returned Outcome
// describes the writes and transfers the caller must carry out. On error
// nothing must be applied.
func Execute(view View, req Request) (*Outcome, error) {
	if view.Ledger == nil {
		view.Ledger = NewLedger()
	}
	switch r := req.(type) {
	case PlaceBid:
		return placeBid(view, r)
	case Close:
		return closeAuction(view, r)
	case Retract:
		return retract(view, r)
	default:
		return nil, fmt.Errorf("unsupported request %T", req)
	}
}

func placeBid(view View, req PlaceBid) (*Outcome, error) {
	if req.Sender == view.Config.Owner {
		return nil, ErrOwnerCannotBid
	}
	if view.Status.State == StateClosed {
		return nil, ErrAuctionClosed
	}
	if req.Funds == 0 {
		return nil, ErrEmptyBid
	}

	entry, exists := view.Ledger.Entry(req.Sender)
	if !exists {
		entry = LedgerEntry{Bidder: req.Sender, Seq: view.Ledger.NextSeq()}
	}

	cumulative, err := addAmounts(entry.Amount, req.Funds)
	if err != nil {
		return nil, err
	}

	// The current leader may top up without competing against anyone.
	if highest, ok := view.Ledger.Highest(); ok && highest.Bidder != req.Sender {
		if cumulative <= highest.Amount {
			return nil, &BidTooLowError{Amount: cumulative, Required: highest.Amount}
		}
	}

	// Commission is charged per deposit, not on the cumulative amount.
	commission := Commission(req.Funds)
	entry.Amount = cumulative
	entry.CommissionPaid += commission

	out := &Outcome{
		Receipt: Receipt{
			Action: req.action(),
			Sender: req.Sender,
			Attributes: []Attribute{
				{Key: "amount", Value: cumulative.String()},
			},
		},
		Writes: []LedgerEntry{entry},
	}
	if commission > 0 {
		out.Transfers = append(out.Transfers, Transfer{Recipient: view.Config.Owner, Amount: commission, Kind: TransferCommission})
	}
	return out, nil
}

func closeAuction(view View, req Close) (*Outcome, error) {
	if req.Sender != view.Config.Owner {
		return nil, ErrUnauthorized
	}
	if view.Status.State == StateClosed {
		return nil, ErrAuctionClosed
	}

	status := view.Status
	status.State = StateClosed

	out := &Outcome{
		Receipt: Receipt{Action: req.action(), Sender: req.Sender},
		Status:  &status,
	}

	highest, ok := view.Ledger.Highest()
	if !ok || highest.Amount == 0 {
		return out, nil
	}

	// Commission on the winning deposits was paid at bid time; the owner
	// receives the rest. The winner's entry stays as it is.
	winner, _ := view.Ledger.Entry(highest.Bidder)
	payout := winner.Net()
	status.Winner = winner.Bidder
	status.Payout = payout
	out.Receipt.Attributes = []Attribute{
		{Key: "winner", Value: winner.Bidder.String()},
		{Key: "amount", Value: payout.String()},
	}
	if payout > 0 {
		out.Transfers = append(out.Transfers, Transfer{Recipient: req.Sender, Amount: payout, Kind: TransferPayout})
	}
	return out, nil
}

func retract(view View, req Retract) (*Outcome, error) {
	receiver := req.Receiver
	if receiver == "" {
		receiver = req.Sender
	}

	ranked := view.Ledger.AllRanked()
	if len(ranked) <= 1 {
		return nil, ErrNoRetractableBid
	}

	// The top entry is the winning bid and is never retractable.
	var found bool
	for _, bid := range ranked[1:] {
		if bid.Bidder == req.Sender {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrNoRetractableBid
	}

	entry, _ := view.Ledger.Entry(req.Sender)
	if entry.Amount == 0 {
		return nil, ErrNoRetractableBid
	}

	refund := entry.Net()
	entry.Amount = 0
	entry.CommissionPaid = 0

	out := &Outcome{
		Receipt: Receipt{
			Action: req.action(),
			Sender: req.Sender,
			Attributes: []Attribute{
				{Key: "receiver", Value: receiver.String()},
				{Key: "amount", Value: refund.String()},
			},
		},
		Writes: []LedgerEntry{entry},
	}
	if refund > 0 {
		out.Transfers = append(out.Transfers, Transfer{Recipient: receiver, Amount: refund, Kind: TransferRetraction})
	}
	return out, nil
}

// Apply returns the view that results from persisting o on top of v.
func (v View) Apply(o *Outcome) View {
	next := View{Config: v.Config, Status: v.Status}
	if v.Ledger != nil {
		next.Ledger = v.Ledger.Clone()
	} else {
		next.Ledger = NewLedger()
	}
	if o.Config != nil {
		next.Config = *o.Config
	}
	if o.Status != nil {
		next.Status = *o.Status
	}
	next.Ledger.Apply(o.Writes)
	return next
}
