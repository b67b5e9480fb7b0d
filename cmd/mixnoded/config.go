package main

import (
	"encoding/hex"
	"fmt"

	"github.com/dantte-lp/gomixnet/internal/config"
	"github.com/dantte-lp/gomixnet/internal/mixnet"
	"github.com/dantte-lp/gomixnet/internal/sphinx"
	"github.com/dantte-lp/gomixnet/internal/topology"
)

// engineConfig converts the daemon's on-disk configuration into the
// engine's own Config shape.
func engineConfig(cfg *config.Config) mixnet.Config {
	var nonMixnode *mixnet.SessionRoleConfig
	if cfg.Mixnet.NonMixnodeSession.Enabled {
		nonMixnode = &mixnet.SessionRoleConfig{
			AuthoredPacketQueueCapacity: cfg.Mixnet.NonMixnodeSession.AuthoredPacketQueueCapacity,
			MeanAuthoredPacketPeriod:    cfg.Mixnet.NonMixnodeSession.MeanAuthoredPacketPeriod,
		}
	}

	return mixnet.Config{
		GenCoverPackets:            cfg.Mixnet.GenCoverPackets,
		LoopCoverProportion:        cfg.Mixnet.LoopCoverProportion,
		NumHops:                    cfg.Mixnet.NumHops,
		NumGatewayMixnodes:         cfg.Mixnet.NumGatewayMixnodes,
		MinMixnodes:                cfg.Mixnet.MinMixnodes,
		MeanForwardingDelay:        cfg.Mixnet.MeanForwardingDelay,
		MaxFragmentsPerMessage:     cfg.Mixnet.MaxFragmentsPerMessage,
		MaxIncompleteMessages:      cfg.Mixnet.MaxIncompleteMessages,
		MaxIncompleteFragments:     cfg.Mixnet.MaxIncompleteFragments,
		ForwardPacketQueueCapacity: cfg.Mixnet.ForwardPacketQueueCapacity,
		SurbKeystoreCapacity:       cfg.Mixnet.SurbKeystoreCapacity,
		LogTarget:                  "mixnoded",
		MixnodeSession: mixnet.SessionRoleConfig{
			AuthoredPacketQueueCapacity: cfg.Mixnet.MixnodeSession.AuthoredPacketQueueCapacity,
			MeanAuthoredPacketPeriod:    cfg.Mixnet.MixnodeSession.MeanAuthoredPacketPeriod,
		},
		NonMixnodeSession: nonMixnode,
	}
}

// mixnodeRoster decodes the statically-configured mixnode roster into the
// form topology.New expects. Entries are already validated as well-formed
// hex by config.Validate.
func mixnodeRoster(entries []config.MixnodeConfig) ([]topology.Mixnode, error) {
	out := make([]topology.Mixnode, 0, len(entries))
	for i, mc := range entries {
		kxBytes, err := hex.DecodeString(mc.KxPublic)
		if err != nil {
			return nil, fmt.Errorf("mixnodes[%d]: decode kx_public: %w", i, err)
		}
		peerBytes, err := hex.DecodeString(mc.PeerID)
		if err != nil {
			return nil, fmt.Errorf("mixnodes[%d]: decode peer_id: %w", i, err)
		}

		var mn topology.Mixnode
		copy(mn.KxPublic[:], kxBytes)
		copy(mn.PeerID[:], peerBytes)
		mn.Addr = mc.Addr
		mn.Gateway = mc.Gateway
		out = append(out, mn)
	}
	return out, nil
}

// peerAddrIndex resolves a sphinx.PeerID back to its configured UDP
// address, built once from the static roster at startup.
type peerAddrIndex struct {
	addrs map[sphinx.PeerID]string
}

func newPeerAddrIndex(roster []topology.Mixnode) *peerAddrIndex {
	idx := &peerAddrIndex{addrs: make(map[sphinx.PeerID]string, len(roster))}
	for _, mn := range roster {
		idx.addrs[mn.PeerID] = mn.Addr
	}
	return idx
}

func (p *peerAddrIndex) resolve(id sphinx.PeerID) (string, bool) {
	addr, ok := p.addrs[id]
	return addr, ok
}
