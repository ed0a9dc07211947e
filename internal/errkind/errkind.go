// Package errkind defines the internal error-kind taxonomy from
// SPEC_FULL.md §7, so HTTP handlers map errors to status codes by
// errors.Is rather than string matching — matching the teacher's
// general preference for typed sentinel errors (wsapi.ErrConnectionClosed,
// wsapi.ErrClientClosed).
package errkind

import "errors"

var (
	// ErrUnknownPair is returned when a pair ticker isn't one of the
	// configured pairs (spec.md §4.6 "Unknown pair -> 404").
	ErrUnknownPair = errors.New("unknown pair")

	// ErrMalformedTS is returned when a path's ts segment isn't a valid
	// non-negative integer (spec.md §6 "400 malformed ts").
	ErrMalformedTS = errors.New("malformed timestamp")

	// ErrNotFound is returned when a pair has no retained history yet.
	ErrNotFound = errors.New("not found")

	// ErrOutOfWindow is returned when a requested ts falls outside the
	// store's current retention envelope (spec.md §4.3 "at(...) ...
	// returns absent if ts is before min_ts or after max_ts + interval").
	ErrOutOfWindow = errors.New("timestamp out of retention window")
)
