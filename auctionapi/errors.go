package auctionapi

import (
	"errors"
	"fmt"

	"github.com/cloudx-io/openbidding/core"
)

// ErrorCode is a stable, machine readable error identifier.
type ErrorCode string

const (
	CodeUnauthorized       ErrorCode = "unauthorized"
	CodeOwnerCannotBid     ErrorCode = "owner_cannot_bid"
	CodeEmptyBid           ErrorCode = "empty_bid"
	CodeBidTooLow          ErrorCode = "bid_too_low"
	CodeNoRetractableBid   ErrorCode = "no_retractable_bid"
	CodeAuctionClosed      ErrorCode = "auction_closed"
	CodeAlreadyInitialized ErrorCode = "already_initialized"
	CodeNotInitialized     ErrorCode = "not_initialized"
	CodeInvalidIdentity    ErrorCode = "invalid_identity"
	CodeAmountOverflow     ErrorCode = "amount_overflow"
	CodeInsufficientFunds  ErrorCode = "insufficient_funds"
	CodeTransferFailed     ErrorCode = "transfer_failed"
	CodeDuplicateRequest   ErrorCode = "duplicate_request"
	CodeBadRequest         ErrorCode = "bad_request"
	CodeInternal           ErrorCode = "internal"
)

var sentinels = map[ErrorCode]error{
	CodeUnauthorized:       core.ErrUnauthorized,
	CodeOwnerCannotBid:     core.ErrOwnerCannotBid,
	CodeEmptyBid:           core.ErrEmptyBid,
	CodeNoRetractableBid:   core.ErrNoRetractableBid,
	CodeAuctionClosed:      core.ErrAuctionClosed,
	CodeAlreadyInitialized: core.ErrAlreadyInitialized,
	CodeNotInitialized:     core.ErrNotInitialized,
	CodeInvalidIdentity:    core.ErrInvalidIdentity,
	CodeAmountOverflow:     core.ErrAmountOverflow,
}

// CodeOf maps an auction error to its code. Errors outside the auction's
// own set map to CodeInternal; callers that know more can map them first.
func CodeOf(err error) ErrorCode {
	var tooLow *core.BidTooLowError
	if errors.As(err, &tooLow) {
		return CodeBidTooLow
	}
	for code, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// ErrorResponse builds the failure response for err.
func ErrorResponse(reqType, requestID string, code ErrorCode, err error) *Response {
	resp := &Response{
		Type:      ResponseType(reqType),
		RequestID: requestID,
		Success:   false,
		Message:   err.Error(),
		ErrorCode: code,
	}
	var tooLow *core.BidTooLowError
	if errors.As(err, &tooLow) {
		resp.BidTooLow = &BidTooLowDetail{Amount: tooLow.Amount, Required: tooLow.Required}
	}
	return resp
}

// RemoteError is a failure reported by the daemon. It unwraps to the matching
// core error, so errors.Is and errors.As work on the client side as they do
// in process.
type RemoteError struct {
	Code    ErrorCode
	Message string
	cause   error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.cause
}

// Err returns nil for a successful response and a *RemoteError otherwise.
func (r *Response) Err() error {
	if r.Success {
		return nil
	}
	e := &RemoteError{Code: r.ErrorCode, Message: r.Message}
	switch {
	case r.ErrorCode == CodeBidTooLow && r.BidTooLow != nil:
		e.cause = &core.BidTooLowError{Amount: r.BidTooLow.Amount, Required: r.BidTooLow.Required}
	default:
		e.cause = sentinels[r.ErrorCode]
	}
	return e
}
