package core

import (
	"errors"
	"fmt"
	"math"
)

// MaxAmount is the largest amount a ledger entry may hold. It keeps amounts
// within the signed 64-bit range SQL stores can persist.
const MaxAmount Amount = math.MaxInt64

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrOwnerCannotBid     = errors.New("owner cannot bid")
	ErrEmptyBid           = errors.New("empty bid")
	ErrNoRetractableBid   = errors.New("no retractable bid")
	ErrAuctionClosed      = errors.New("auction is closed")
	ErrAlreadyInitialized = errors.New("auction already initialized")
	ErrNotInitialized     = errors.New("auction not initialized")
	ErrInvalidIdentity    = errors.New("invalid identity")
	ErrAmountOverflow     = errors.New("amount overflow")
)

// BidTooLowError is returned when a bid does not beat the current highest bid.
// Amount is the rejected cumulative amount, Required the amount it had to exceed.
type BidTooLowError struct {
	Amount   Amount
	Required Amount
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid is too low: amount %d; required %d", e.Amount, e.Required)
}

func addAmounts(a, b Amount) (Amount, error) {
	sum := a + b
	if sum < a || sum > MaxAmount {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, a, b)
	}
	return sum, nil
}
