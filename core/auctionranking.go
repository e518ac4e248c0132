package core

import (
	"sort"
)

// RankBids orders ledger entries by amount, highest first.
//
// Entries with equal amounts are ordered by bidder identity (byte order), so
// the ranking, and with it the winner, is a pure function of the ledger
// contents. New bids can never tie the leader because a bid must strictly
// exceed it; ties only occur between entries that are not competing for the
// lead, such as the owner's zero sentinel and retracted entries.
func RankBids(entries []LedgerEntry) []Bid {
	bids := make([]Bid, 0, len(entries))
	for _, e := range entries {
		bids = append(bids, Bid{Bidder: e.Bidder, Amount: e.Amount})
	}

	sort.Slice(bids, func(i, j int) bool {
		if bids[i].Amount != bids[j].Amount {
			return bids[i].Amount > bids[j].Amount
		}
		return bids[i].Bidder < bids[j].Bidder
	})

	return bids
}

// Ranks returns the 1-based rank of every bidder in a ranking produced by RankBids.
func Ranks(bids []Bid) map[Identity]int {
	ranks := make(map[Identity]int, len(bids))
	for i, b := range bids {
		ranks[b.Bidder] = i + 1
	}
	return ranks
}
