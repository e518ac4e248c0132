// Package auctionapi defines the wire schema spoken between auctiond and its
// clients: one JSON request per connection, answered by one JSON response.
package auctionapi

import (
	"github.com/cloudx-io/openbidding/core"
)

// Request types.
const (
	TypePing        = "ping"
	TypeInstantiate = "instantiate"
	TypePlaceBid    = "place_bid"
	TypeClose       = "close"
	TypeRetract     = "retract"
	TypeGetConfig   = "get_config"
	TypeGetBids     = "get_bids"
	TypeGetStatus   = "get_status"
)

// Response types that do not follow the "<request type>_response" pattern.
const (
	TypePong  = "pong"
	TypeError = "error"
)

// ResponseType returns the response type answering a request of type t.
func ResponseType(t string) string {
	if t == TypePing {
		return TypePong
	}
	return t + "_response"
}

// IsExecute reports whether requests of type t change the auction.
func IsExecute(t string) bool {
	switch t {
	case TypeInstantiate, TypePlaceBid, TypeClose, TypeRetract:
		return true
	}
	return false
}

// Request is the envelope for every request. Which fields are read depends
// on Type.
type Request struct {
	Type string `json:"type"`

	// RequestID identifies an execute request. A request id is accepted once;
	// resending it is rejected rather than applied twice.
	RequestID string `json:"request_id,omitempty"`

	Sender string      `json:"sender,omitempty"`
	Funds  []core.Coin `json:"funds,omitempty"`

	// instantiate
	Owner     string `json:"owner,omitempty"`
	Commodity string `json:"commodity,omitempty"`

	// retract
	Receiver string `json:"receiver,omitempty"`
}

// Response answers any Request. Only the fields relevant to the request type
// are set.
type Response struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`

	ErrorCode ErrorCode        `json:"error_code,omitempty"`
	BidTooLow *BidTooLowDetail `json:"bid_too_low,omitempty"`

	// execute responses
	Receipt   *core.Receipt   `json:"receipt,omitempty"`
	Transfers []core.Transfer `json:"transfers,omitempty"`

	// query responses
	Config *core.Config `json:"config,omitempty"`
	Bids   []core.Bid   `json:"bids,omitempty"`
	Status *core.Status `json:"status,omitempty"`

	// Set on a successful close when the daemon runs inside an enclave.
	Attestation AttestationCOSEBase64 `json:"attestation_cose_base64,omitempty"`

	Timestamp      int64 `json:"timestamp,omitempty"`
	ProcessingTime int64 `json:"processing_time_ms"`
}

// BidTooLowDetail carries the amounts of a rejected bid.
type BidTooLowDetail struct {
	Amount   core.Amount `json:"amount"`
	Required core.Amount `json:"required"`
}
