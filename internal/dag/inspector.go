package dag

import "hexnode/internal/peerid"

// Verifier is the signature-verification hook spec.md §9 calls out as a
// mandatory extension point for a production deployment. The zero value
// of this package accepts everything; callers that need authenticity
// beyond content-addressing must supply their own.
type Verifier interface {
	Verify(t Transition) bool
}

// AcceptAllVerifier is the default Verifier: it performs no signature
// check. Unsigned-but-hashed content gives integrity, not authenticity.
type AcceptAllVerifier struct{}

// Verify always reports true.
func (AcceptAllVerifier) Verify(Transition) bool { return true }

// Inspector is the surface the overlay drives the DAG store through. A
// concrete store (internal/store) implements it against durable storage.
type Inspector interface {
	// Approve cheaply validates that body decodes to a known action and
	// that the key equals digest(parents||body). It does not touch
	// storage.
	Approve(t Transition) bool

	// Has reports whether a transition with this key is already stored.
	Has(key peerid.ID) bool

	// Store persists t, computing and applying state transitions as
	// described in spec.md §4.4.
	Store(t Transition) error

	// Restore loads transitions by key. Missing keys are simply absent
	// from the result so callers can detect partial answers.
	Restore(keys []peerid.ID) []Transition

	// Tips returns the keys currently marked applied-tip.
	Tips() []peerid.ID

	// Missing returns parent keys referenced by pending transitions but
	// not present locally.
	Missing() []peerid.ID

	// Subgraph returns the transitions the remote, whose tips are given,
	// appears not to have.
	Subgraph(remoteTips []Transition) []Transition
}
