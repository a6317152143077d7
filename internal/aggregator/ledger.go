package aggregator

import "github.com/raisserv2/clash-royale-battle-analysis/internal/model"

// Ledger remembers which participant/deck identities have already been
// counted toward usage. It never gates plays or wins.
type Ledger struct {
	seen map[model.Identity]struct{}
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{seen: make(map[model.Identity]struct{})}
}

// ObserveForUsage reports whether id is new, recording it if so.
func (l *Ledger) ObserveForUsage(id model.Identity) bool {
	if _, ok := l.seen[id]; ok {
		return false
	}
	l.seen[id] = struct{}{}
	return true
}

// Has reports whether id has been observed.
func (l *Ledger) Has(id model.Identity) bool {
	_, ok := l.seen[id]
	return ok
}

// Len is the number of distinct identities observed.
func (l *Ledger) Len() int { return len(l.seen) }

// union adds every identity of other to l.
func (l *Ledger) union(other *Ledger) {
	for id := range other.seen {
		l.seen[id] = struct{}{}
	}
}
