package core

import (
	"crypto/sha256"
	"fmt"
)

// ComputeEntryHash computes the hash of a single ranked ledger entry.
// This is used by the daemon (to attest the ledger) and validation (to let a
// bidder check their own entry was included).
//
// Formula: SHA256(bidder + "|" + amount + "|" + nonce)
func ComputeEntryHash(bidder Identity, amount Amount, nonce string) string {
	data := fmt.Sprintf("%s|%d|%s", bidder, amount, nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeLedgerHash computes a digest over a full ranking.
//
// Formula: SHA256(nonce + "|bidder1:amount1|bidder2:amount2|...") in ranking order.
// RankBids is deterministic, so the same ledger always produces the same hash.
func ComputeLedgerHash(ranked []Bid, nonce string) string {
	data := nonce
	for _, bid := range ranked {
		data += fmt.Sprintf("|%s:%d", bid.Bidder, bid.Amount)
	}
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeSettlementHash computes the hash of a settlement outcome.
//
// Formula: SHA256(owner + "|" + commodity + "|" + state + "|" + winner + "|" + payout + "|" + nonce)
func ComputeSettlementHash(config Config, status Status, nonce string) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d|%s",
		config.Owner, config.Commodity, status.State, status.Winner, status.Payout, nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
