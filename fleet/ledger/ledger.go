package ledger

import (
	"github.com/samber/lo"

	"github.com/gramherd/gramherd/fleet/definitions"
)

// Ledger answers cross-account duplicate questions for a fixed account
// registry. Peers of an account are all other accounts sharing at least one
// tag; the account itself is never its own peer.
type Ledger struct {
	store    *Store
	accounts []definitions.Account
}

func New(store *Store, accounts []definitions.Account) *Ledger {
	return &Ledger{store: store, accounts: accounts}
}

// Store exposes the backing record store for appends and counters.
func (l *Ledger) Store() *Store { return l.store }

// Peers returns the ids of every tag-sharing account other than the given one.
func (l *Ledger) Peers(accountID string) []string {
	self, found := lo.Find(l.accounts, func(a definitions.Account) bool {
		return a.ID == accountID
	})
	if !found || len(self.Tags) == 0 {
		return nil
	}

	peers := lo.Filter(l.accounts, func(a definitions.Account, _ int) bool {
		return a.ID != accountID && len(lo.Intersect(a.Tags, self.Tags)) > 0
	})
	return lo.Map(peers, func(a definitions.Account, _ int) string { return a.ID })
}

// HasPeerActed reports whether any tag-peer of the account already succeeded
// on the target for the action type.
func (l *Ledger) HasPeerActed(accountID, target string, t definitions.ActionType) (bool, error) {
	return l.store.HasActed(l.Peers(accountID), target, t)
}

// PreloadActedSet bulk-loads every target the account's peers have succeeded
// on. Sessions call this once at start; per-target queries inside a loop of
// hundreds of targets are the dominant cost at scale.
func (l *Ledger) PreloadActedSet(accountID string, t definitions.ActionType) (map[string]struct{}, error) {
	return l.store.ActedSet(l.Peers(accountID), t)
}
