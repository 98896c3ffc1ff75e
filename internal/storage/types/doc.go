// Package types defines the row shapes written to the measurement store.
//
// Rows are immutable facts: once a row is handed to a writer it is never
// mutated, matching the append-only semantics of the store. Retention and
// expiry of written rows are enforced by the store, not by this core.
package types
