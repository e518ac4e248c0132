package validation

import (
	"fmt"
	"slices"

	"github.com/cloudx-io/openbidding/auctionapi"
	"github.com/cloudx-io/openbidding/core"
)

// SettlementValidationInput contains the inputs for validating the
// attestation returned when an auction closed.
type SettlementValidationInput struct {
	Attestation auctionapi.AttestationCOSE

	// Bidder and Amount identify the entry to look for: the bidder's
	// cumulative deposit at close. The owner's entry has Amount zero.
	Bidder core.Identity
	Amount core.Amount

	// IsWinner is the expected result for Bidder.
	IsWinner bool

	// Optional expectations. Zero values skip the check.
	Owner     core.Identity
	Commodity string
	Payout    *core.Amount
	// Bids is the full ranking as reported by get_bids at close.
	Bids []core.Bid

	KnownPCRs []PCRSet
}

// ValidateSettlementAttestation validates a settlement attestation and
// verifies:
//   - the bidder's entry was part of the ledger at close
//   - the full ranking, when supplied, matches the attested ledger hash
//   - the attested outcome is a closed auction whose settlement hash matches
//   - the bidder won or lost as expected
//   - the payout, when supplied, matches
//
// Returns:
//   - SettlementValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed attestation)
func ValidateSettlementAttestation(input *SettlementValidationInput) (*SettlementValidationResult, error) {
	doc, err := input.Attestation.ParseSettlementAttestation()
	if err != nil {
		return nil, fmt.Errorf("parse settlement attestation: %w", err)
	}

	result := &SettlementValidationResult{
		BaseValidationResult: *validateCommonAttestation(input.Attestation, doc.AttestationDoc, input.KnownPCRs),
	}

	if doc.UserData == nil {
		result.addDetail("Attestation user data missing")
		return result, nil
	}
	ud := doc.UserData
	if ud.HashNonce == "" {
		result.addDetail("Hash nonce missing from attestation")
		return result, nil
	}

	result.EntryIncluded = validateEntryHash(input, ud, result)
	result.LedgerHashValid = validateLedgerHash(input, ud, result)
	result.SettlementValid = validateSettlement(input, ud, result)
	result.WinnerValid = validateWinner(input, ud, result)
	result.PayoutValid = validatePayout(input, ud, result)

	return result, nil
}

func validateEntryHash(input *SettlementValidationInput, ud *auctionapi.SettlementUserData, result *SettlementValidationResult) bool {
	computed := core.ComputeEntryHash(input.Bidder, input.Amount, ud.HashNonce)
	if slices.Contains(ud.EntryHashes, computed) {
		result.addDetail("Entry hash found in attestation: %s", computed)
		return true
	}
	result.addDetail("Entry hash NOT found in attestation. Computed: %s", computed)
	result.addDetail("Total hashes in attestation: %d", len(ud.EntryHashes))
	return false
}

func validateLedgerHash(input *SettlementValidationInput, ud *auctionapi.SettlementUserData, result *SettlementValidationResult) bool {
	if input.Bids == nil {
		result.addDetail("Ledger hash not checked: no ranking supplied")
		return true
	}
	if len(input.Bids) != len(ud.EntryHashes) {
		result.addDetail("Ledger size mismatch: supplied %d bids, attestation has %d entries", len(input.Bids), len(ud.EntryHashes))
		return false
	}
	computed := core.ComputeLedgerHash(input.Bids, ud.HashNonce)
	if computed != ud.LedgerHash {
		result.addDetail("Ledger hash mismatch: computed %s, attestation has %s", computed, ud.LedgerHash)
		return false
	}
	result.addDetail("Ledger hash validation passed: %s", computed)
	return true
}

func validateSettlement(input *SettlementValidationInput, ud *auctionapi.SettlementUserData, result *SettlementValidationResult) bool {
	valid := true
	if ud.State != core.StateClosed {
		result.addDetail("Settlement state is %q, expected %q", ud.State, core.StateClosed)
		valid = false
	}

	config := core.Config{Owner: ud.Owner, Commodity: ud.Commodity}
	status := core.Status{State: ud.State, Winner: ud.Winner, Payout: ud.Payout}
	if computed := core.ComputeSettlementHash(config, status, ud.HashNonce); computed != ud.SettlementHash {
		result.addDetail("Settlement hash mismatch: computed %s, attestation has %s", computed, ud.SettlementHash)
		valid = false
	}

	// Commission is charged per deposit, so the payout lies between the net
	// of the cumulative amount and the amount itself.
	if ud.Payout > ud.WinningAmount || ud.Payout < core.NetAmount(ud.WinningAmount) {
		result.addDetail("Payout %s inconsistent with winning amount %s", ud.Payout, ud.WinningAmount)
		valid = false
	}

	if input.Owner != "" && input.Owner != ud.Owner {
		result.addDetail("Owner mismatch: expected %s, attestation has %s", input.Owner, ud.Owner)
		valid = false
	}
	if input.Commodity != "" && input.Commodity != ud.Commodity {
		result.addDetail("Commodity mismatch: expected %q, attestation has %q", input.Commodity, ud.Commodity)
		valid = false
	}

	if valid {
		result.addDetail("Settlement validation passed: %s", ud.SettlementHash)
	}
	return valid
}

func validateWinner(input *SettlementValidationInput, ud *auctionapi.SettlementUserData, result *SettlementValidationResult) bool {
	actuallyWon := ud.Winner != "" && ud.Winner == input.Bidder

	if input.IsWinner == actuallyWon {
		if actuallyWon {
			result.addDetail("Winner validation passed: bid won as expected (amount: %s)", ud.WinningAmount)
		} else {
			result.addDetail("Winner validation passed: bid lost as expected")
		}
		return true
	}

	if input.IsWinner {
		result.addDetail("Winner validation failed: expected to win, but did not win")
	} else {
		result.addDetail("Winner validation failed: expected to lose, but won with amount %s", ud.WinningAmount)
	}
	return false
}

func validatePayout(input *SettlementValidationInput, ud *auctionapi.SettlementUserData, result *SettlementValidationResult) bool {
	if input.Payout == nil {
		return true
	}
	if *input.Payout == ud.Payout {
		result.addDetail("Payout validation passed: %s", ud.Payout)
		return true
	}
	result.addDetail("Payout mismatch: expected %s, attestation has %s", *input.Payout, ud.Payout)
	return false
}
