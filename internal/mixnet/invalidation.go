package mixnet

// Invalidated is a set of flags indicating which previously-queried engine
// outputs may now be stale. Callers poll it (via Engine.TakeInvalidated)
// after every operation rather than having the engine push notifications,
// keeping the engine free of callback machinery.
type Invalidated uint32

const (
	// InvalidatedReservedPeers marks that the set returned by
	// ReservedPeerAddresses may have changed.
	InvalidatedReservedPeers Invalidated = 1 << iota
	// InvalidatedNextForwardPacketDeadline marks that the deadline
	// returned by NextForwardPacketDeadline may have changed.
	InvalidatedNextForwardPacketDeadline
	// InvalidatedNextAuthoredPacketDeadline marks that the effective
	// deadline implied by NextAuthoredPacketDelay may have changed. The
	// delay is resampled from an exponential distribution on every call,
	// so it is harmless for this bit to be set spuriously.
	InvalidatedNextAuthoredPacketDeadline
)

// Has reports whether every bit in other is set in i.
func (i Invalidated) Has(other Invalidated) bool { return i&other == other }

// take returns i and clears the receiver, giving read-and-clear semantics
// without requiring a pointer receiver at call sites that don't need it.
func (i *Invalidated) take() Invalidated {
	v := *i
	*i = 0
	return v
}
