package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/dantte-lp/gomixnet/internal/mixnet"
	"github.com/dantte-lp/gomixnet/internal/sphinx"
)

// transport is the minimal UDP packet transport cmd/mixnoded drives the
// engine with. The engine itself performs no I/O, so this is a boundary
// concern with no onion-routing-specific behavior and stays outside
// internal/mixnet.
type transport struct {
	conn   *net.UDPConn
	peers  *peerAddrIndex
	logger *slog.Logger
	recvCh chan []byte
}

func newTransport(addr string, peers *peerAddrIndex, logger *slog.Logger) (*transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve transport addr %s: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}

	return &transport{
		conn:   conn,
		peers:  peers,
		logger: logger,
		recvCh: make(chan []byte, 256),
	}, nil
}

func (t *transport) Close() error { return t.conn.Close() }

// run reads packets off the UDP socket until ctx is cancelled, forwarding
// well-sized datagrams to recvCh. Oversized or undersized datagrams are
// dropped immediately: the engine only ever accepts exactly PacketSize
// bytes.
func (t *transport) run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		t.conn.Close()
		close(t.recvCh)
	}()

	buf := make([]byte, sphinx.PacketSize+1)
	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.logger.Warn("udp read error", slog.String("error", err.Error()))
			continue
		}
		if n != sphinx.PacketSize {
			continue
		}

		cp := make([]byte, sphinx.PacketSize)
		copy(cp, buf[:n])

		select {
		case t.recvCh <- cp:
		default:
			t.logger.Warn("receive queue full, dropping packet")
		}
	}
}

// send transmits an addressed packet to its next hop, resolving the peer
// ID to a UDP address via the static roster index.
func (t *transport) send(pkt mixnet.AddressedPacket) {
	addr, ok := t.peers.resolve(pkt.PeerID)
	if !ok {
		t.logger.Warn("dropping packet: unknown peer id")
		return
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		t.logger.Warn("dropping packet: bad peer address", slog.String("addr", addr), slog.String("error", err.Error()))
		return
	}

	if _, err := t.conn.WriteToUDP(pkt.Packet[:], udpAddr); err != nil {
		t.logger.Warn("udp write error", slog.String("error", err.Error()))
	}
}

// packetFromBytes copies a received datagram into a sphinx.Packet. The
// only validation at this layer is length; malformed contents surface as
// a MAC failure inside Engine.HandlePacket.
func packetFromBytes(raw []byte) (*sphinx.Packet, error) {
	if len(raw) != sphinx.PacketSize {
		return nil, fmt.Errorf("packet: want %d bytes, got %d", sphinx.PacketSize, len(raw))
	}
	var pkt sphinx.Packet
	copy(pkt[:], raw)
	return &pkt, nil
}
