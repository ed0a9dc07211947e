// Package pairs resolves between the short ticker symbols used on the
// client-facing API (spec.md §6, e.g. "ZEC") and the full pair names the
// upstream feed subscribes to (e.g. "ZEC/USD"). This mapping is left
// implicit in spec.md's data model and is supplied here as the single
// source of truth both the FeedClient and HistoryAPI consult.
package pairs

import "fmt"

// ID is a short ticker symbol, e.g. "ZEC", "BTC", "ETH", "XMR".
type ID string

// Table resolves configured pairs to their upstream pair name. It has no
// reverse lookup from an upstream name to an ID.
type Table struct {
	toUpstream map[ID]string
	ordered    []ID
}

// defaultUpstreamQuote is the quote currency assumed for pairs that
// aren't given an explicit mapping; every pair in spec.md's example set
// quotes against USD.
const defaultUpstreamQuote = "USD"

// NewTable builds a Table from the configured list of short symbols.
func NewTable(configured []ID) *Table {
	t := &Table{
		toUpstream: make(map[ID]string, len(configured)),
		ordered:    make([]ID, 0, len(configured)),
	}
	for _, id := range configured {
		if _, dup := t.toUpstream[id]; dup {
			continue
		}
		t.toUpstream[id] = fmt.Sprintf("%s/%s", string(id), defaultUpstreamQuote)
		t.ordered = append(t.ordered, id)
	}
	return t
}

// Known reports whether id is one of the configured pairs.
func (t *Table) Known(id ID) bool {
	_, ok := t.toUpstream[id]
	return ok
}

// Upstream returns the full upstream pair name for id, or false if id is
// not configured.
func (t *Table) Upstream(id ID) (string, bool) {
	name, ok := t.toUpstream[id]
	return name, ok
}

// All returns every configured pair ID in configuration order.
func (t *Table) All() []ID {
	out := make([]ID, len(t.ordered))
	copy(out, t.ordered)
	return out
}
