package core

import (
	"crypto/sha256"
	"fmt"
	"testing"
)

func isHexHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	for _, c := range hash {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

func TestComputeEntryHash(t *testing.T) {
	bidder := Identity("sender1")
	amount := Amount(250)
	nonce := "test_nonce_456"

	hash := ComputeEntryHash(bidder, amount, nonce)

	if !isHexHash(hash) {
		t.Errorf("ComputeEntryHash() = %q, want 64 hex characters", hash)
	}

	// Same inputs should produce same hash (deterministic)
	if hash2 := ComputeEntryHash(bidder, amount, nonce); hash != hash2 {
		t.Errorf("ComputeEntryHash() not deterministic")
	}

	// Different inputs should produce different hashes
	if hash3 := ComputeEntryHash(bidder, amount+1, nonce); hash == hash3 {
		t.Errorf("Different amounts should produce different hashes")
	}
	if hash4 := ComputeEntryHash("sender2", amount, nonce); hash == hash4 {
		t.Errorf("Different bidders should produce different hashes")
	}
	if hash5 := ComputeEntryHash(bidder, amount, "other"); hash == hash5 {
		t.Errorf("Different nonces should produce different hashes")
	}

	// Verify exact hash calculation
	expectedData := fmt.Sprintf("%s|%d|%s", bidder, amount, nonce)
	expectedHash := fmt.Sprintf("%x", sha256.Sum256([]byte(expectedData)))
	if hash != expectedHash {
		t.Errorf("ComputeEntryHash() = %v, want %v", hash, expectedHash)
	}
}

func TestComputeLedgerHash(t *testing.T) {
	nonce := "test-nonce"
	ranked := []Bid{
		{Bidder: "sender2", Amount: 12},
		{Bidder: "sender1", Amount: 10},
		{Bidder: "owner", Amount: 0},
	}

	hash := ComputeLedgerHash(ranked, nonce)
	if !isHexHash(hash) {
		t.Errorf("ComputeLedgerHash() = %q, want 64 hex characters", hash)
	}

	expectedData := nonce + "|sender2:12|sender1:10|owner:0"
	expectedHash := fmt.Sprintf("%x", sha256.Sum256([]byte(expectedData)))
	if hash != expectedHash {
		t.Errorf("ComputeLedgerHash() = %v, want %v", hash, expectedHash)
	}

	// Ranking order is part of the digest
	swapped := []Bid{ranked[1], ranked[0], ranked[2]}
	if ComputeLedgerHash(swapped, nonce) == hash {
		t.Errorf("Different rankings should produce different hashes")
	}
}

func TestComputeLedgerHash_Empty(t *testing.T) {
	nonce := "only-nonce"
	expectedHash := fmt.Sprintf("%x", sha256.Sum256([]byte(nonce)))

	if got := ComputeLedgerHash(nil, nonce); got != expectedHash {
		t.Errorf("ComputeLedgerHash(nil) = %v, want %v", got, expectedHash)
	}
}

func TestComputeSettlementHash(t *testing.T) {
	config := Config{Owner: "owner", Commodity: "gold"}
	status := Status{State: StateClosed, Winner: "sender1", Payout: 18}
	nonce := "n"

	hash := ComputeSettlementHash(config, status, nonce)

	expectedData := "owner|gold|closed|sender1|18|n"
	expectedHash := fmt.Sprintf("%x", sha256.Sum256([]byte(expectedData)))
	if hash != expectedHash {
		t.Errorf("ComputeSettlementHash() = %v, want %v", hash, expectedHash)
	}

	testCases := []struct {
		name   string
		config Config
		status Status
	}{
		{"different owner", Config{Owner: "other", Commodity: "gold"}, status},
		{"different commodity", Config{Owner: "owner", Commodity: "silver"}, status},
		{"open state", config, Status{State: StateOpen, Winner: "sender1", Payout: 18}},
		{"different winner", config, Status{State: StateClosed, Winner: "sender2", Payout: 18}},
		{"different payout", config, Status{State: StateClosed, Winner: "sender1", Payout: 17}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if ComputeSettlementHash(tc.config, tc.status, nonce) == hash {
				t.Errorf("expected a different settlement hash")
			}
		})
	}
}
