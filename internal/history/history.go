// Package history tracks which IPs and device fingerprints each customer has
// been seen with. The scorer reads the known sets before recording the
// current transaction, so a first appearance is never compared against
// itself.
package history

import "context"

// Known holds a customer's previously seen network identifiers.
type Known struct {
	IPs     []string
	Devices []string
}

// Observation is one transaction's worth of identifiers to remember.
type Observation struct {
	CustomerID string
	IPAddress  string
	DeviceFP   string
}

// Store persists per-customer identifier history with first-seen semantics:
// Record inserts identifiers not already on file and ignores the rest.
type Store interface {
	// KnownFor returns the identifiers already on file for a customer.
	KnownFor(ctx context.Context, customerID string) (*Known, error)
	// Record remembers the observation's identifiers. Empty identifiers are
	// skipped; duplicates are ignored.
	Record(ctx context.Context, obs Observation) error
}
