package main

import "github.com/dantte-lp/gomixnet/internal/sphinx"

// staticReachable treats every configured mixnode as reachable. UDP has no
// connection state to probe, and real reachability tracking (e.g. from
// transport-level keepalives) is out of scope here; see DESIGN.md.
type staticReachable struct{}

func (staticReachable) Reachable(sphinx.PeerID) bool { return true }
