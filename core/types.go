package core

import "strconv"

// Denom is the only denomination accepted as a bid. Funds in any other
// denomination attached to a request are ignored.
const Denom = "atom"

// Contract identification recorded at instantiation.
const (
	ContractName    = "openbidding"
	ContractVersion = "0.1.0"
)

// Identity is a canonical account address. Identities are produced by an
// identity.Validator; the core never parses or normalizes them itself.
type Identity string

func (id Identity) String() string { return string(id) }

// Amount is a quantity of Denom in atomic units.
type Amount uint64

func (a Amount) String() string { return strconv.FormatUint(uint64(a), 10) }

// Coin is a quantity of a single denomination attached to a request.
type Coin struct {
	Denom  string `json:"denom"`
	Amount Amount `json:"amount"`
}

// FundsIn returns the amount of Denom carried by coins, or zero if none.
// Only the first coin in Denom counts.
func FundsIn(coins []Coin) Amount {
	for _, c := range coins {
		if c.Denom == Denom {
			return c.Amount
		}
	}
	return 0
}

// Config is created once at instantiation and never changes afterwards.
type Config struct {
	Owner     Identity `json:"owner"`
	Commodity string   `json:"commodity"`
}

// State is the lifecycle state of the auction.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// Status is the mutable part of the auction record, persisted alongside Config.
type Status struct {
	State   State    `json:"state"`
	Winner  Identity `json:"winner,omitempty"`
	Payout  Amount   `json:"payout"`
	Name    string   `json:"contract"`
	Version string   `json:"version"`
}

// LedgerEntry is the deposit record of a single bidder.
type LedgerEntry struct {
	Bidder Identity `json:"bidder"`
	Amount Amount   `json:"amount"`

	// CommissionPaid is the commission already routed to the owner for the
	// deposits that make up Amount. Amount-CommissionPaid is what the entry
	// is still worth to its holder.
	CommissionPaid Amount `json:"commission_paid"`

	// Seq is the order in which the entry was first created.
	Seq uint64 `json:"seq"`
}

// Net returns the part of the entry not yet paid out as commission.
func (e LedgerEntry) Net() Amount {
	return e.Amount - e.CommissionPaid
}

// Bid is a ranking view of a ledger entry.
type Bid struct {
	Bidder Identity `json:"address"`
	Amount Amount   `json:"amount"`
}

// TransferKind describes why a transfer was requested.
type TransferKind string

const (
	TransferCommission TransferKind = "commission"
	TransferPayout     TransferKind = "payout"
	TransferRetraction TransferKind = "retraction"
)

// Transfer is a request to move funds out of escrow. The core only produces
// transfers; executing them is up to the caller.
type Transfer struct {
	Recipient Identity     `json:"recipient"`
	Amount    Amount       `json:"amount"`
	Kind      TransferKind `json:"kind"`
}

// Attribute is a key/value pair attached to a receipt.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Receipt describes a successfully applied operation.
type Receipt struct {
	Action     string      `json:"action"`
	Sender     Identity    `json:"sender"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// Attribute returns the value of the first attribute with the given key.
func (r Receipt) Attribute(key string) (string, bool) {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
