package mixnet

import (
	"crypto/rand"
	"io"
	"log/slog"
	mathrand "math/rand"

	"github.com/dantte-lp/gomixnet/internal/sphinx"
	"github.com/dantte-lp/gomixnet/internal/topology"
)

// coverKind distinguishes the two shapes of dummy traffic the engine
// fabricates to hide the presence (or absence) of real traffic: drop
// packets terminate at a random mixnode and are discarded there; loop
// packets route back to the local node itself.
type coverKind int

const (
	coverDrop coverKind = iota
	coverLoop
)

// genCoverPacket builds one cover packet through topology, restricted to
// mixnodes ns reports reachable. It returns false if cover generation is
// globally disabled or route/topology resolution fails (logged, not
// fatal — cover traffic is best-effort).
func genCoverPacket(
	mathRng *mathrand.Rand,
	topo *topology.Topology,
	ns topology.NetworkStatus,
	kind coverKind,
	cfg Config,
	logger *slog.Logger,
) (AddressedPacket, bool) {
	if !cfg.GenCoverPackets {
		return AddressedPacket{}, false
	}

	routeGen := topology.NewRouteGenerator(topo, ns)
	routeKind := topology.RouteToMixnode
	var destination sphinx.MixnodeIndex
	if kind == coverLoop {
		routeKind = topology.RouteLoop
	} else {
		d, err := routeGen.ChooseDestinationIndex(mathRng)
		if err != nil {
			logger.Error("failed to choose cover packet destination", slog.String("error", err.Error()))
			return AddressedPacket{}, false
		}
		destination = d
	}

	firstHop, targets, kxPublics, err := routeGen.GenRoute(mathRng, routeKind, destination, cfg.NumHops)
	if err != nil {
		logger.Error("failed to generate cover packet route", slog.String("error", err.Error()))
		return AddressedPacket{}, false
	}
	peerID, err := topo.MixnodeIndexToPeerID(firstHop)
	if err != nil {
		logger.Error("failed to resolve cover packet first hop", slog.String("error", err.Error()))
		return AddressedPacket{}, false
	}

	var coverID sphinx.CoverID
	if _, err := io.ReadFull(rand.Reader, coverID[:]); err != nil {
		logger.Error("failed to generate cover id", slog.String("error", err.Error()))
		return AddressedPacket{}, false
	}

	delays := sampleHopDelays(mathRng, len(targets))
	pkt, err := sphinx.BuildCoverPacket(rand.Reader, targets, kxPublics, delays, coverID)
	if err != nil {
		logger.Error("failed to build cover packet", slog.String("error", err.Error()))
		return AddressedPacket{}, false
	}

	return AddressedPacket{PeerID: peerID, Packet: *pkt}, true
}
