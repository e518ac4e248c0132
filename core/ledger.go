package core

// Ledger maps bidder identities to their deposit records.
// At most one entry exists per identity; entries are never removed.
type Ledger struct {
	entries map[Identity]LedgerEntry
	order   []Identity
	nextSeq uint64
}

// NewLedger builds a ledger from persisted entries. Entries are kept in Seq
// order; a later entry for an identity that already exists replaces it.
func NewLedger(entries ...LedgerEntry) *Ledger {
	l := &Ledger{entries: make(map[Identity]LedgerEntry, len(entries))}
	for _, e := range entries {
		l.put(e)
	}
	return l
}

// Get returns the amount deposited by id.
func (l *Ledger) Get(id Identity) (Amount, bool) {
	e, ok := l.entries[id]
	return e.Amount, ok
}

// Entry returns the full record for id.
func (l *Ledger) Entry(id Identity) (LedgerEntry, bool) {
	e, ok := l.entries[id]
	return e, ok
}

// Upsert overwrites the amount stored for id, creating the entry if absent.
func (l *Ledger) Upsert(id Identity, amount Amount) LedgerEntry {
	e, ok := l.entries[id]
	if !ok {
		e = LedgerEntry{Bidder: id, Seq: l.nextSeq}
	}
	e.Amount = amount
	l.put(e)
	return e
}

// Apply writes entries produced by an Outcome.
func (l *Ledger) Apply(writes []LedgerEntry) {
	for _, e := range writes {
		l.put(e)
	}
}

func (l *Ledger) put(e LedgerEntry) {
	if _, ok := l.entries[e.Bidder]; !ok {
		l.order = insertBySeq(l.order, l.entries, e)
	}
	l.entries[e.Bidder] = e
	if e.Seq >= l.nextSeq {
		l.nextSeq = e.Seq + 1
	}
}

func insertBySeq(order []Identity, entries map[Identity]LedgerEntry, e LedgerEntry) []Identity {
	i := len(order)
	for i > 0 && entries[order[i-1]].Seq > e.Seq {
		i--
	}
	order = append(order, "")
	copy(order[i+1:], order[i:])
	order[i] = e.Bidder
	return order
}

// NextSeq is the sequence number the next new entry will receive.
func (l *Ledger) NextSeq() uint64 {
	return l.nextSeq
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Entries returns every entry in creation order.
func (l *Ledger) Entries() []LedgerEntry {
	out := make([]LedgerEntry, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.entries[id])
	}
	return out
}

// AllRanked returns every entry as a Bid, highest amount first. See RankBids.
func (l *Ledger) AllRanked() []Bid {
	return RankBids(l.Entries())
}

// Highest returns the top ranked bid, if any entry exists.
func (l *Ledger) Highest() (Bid, bool) {
	ranked := l.AllRanked()
	if len(ranked) == 0 {
		return Bid{}, false
	}
	return ranked[0], true
}

// Clone returns an independent copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	return NewLedger(l.Entries()...)
}

// Total returns the sum of every entry's amount.
func (l *Ledger) Total() Amount {
	var total Amount
	for _, e := range l.entries {
		total += e.Amount
	}
	return total
}
