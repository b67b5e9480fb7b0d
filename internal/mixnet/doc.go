// Package mixnet implements the network-agnostic core of a mix network
// node: session lifecycle and key rotation, per-packet onion peeling and
// forwarding, replay suppression, Poisson-scheduled cover traffic, delayed
// forward-packet queueing, a SURB keystore and fragment reassembly.
//
// The Engine type is single-threaded and synchronous: it takes no locks,
// starts no goroutines, and every operation is driven by an external
// caller (a transport loop, a timer, an operator command). Concurrent
// access from multiple goroutines is the caller's responsibility, exactly
// as documented on Engine.
package mixnet
