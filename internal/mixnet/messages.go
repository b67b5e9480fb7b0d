package mixnet

import (
	"github.com/dantte-lp/gomixnet/internal/fragment"
	"github.com/dantte-lp/gomixnet/internal/sphinx"
)

// AddressedPacket pairs a packet with the peer it should be sent to next:
// the result of popping either the forward queue or an authored queue.
type AddressedPacket struct {
	PeerID sphinx.PeerID
	Packet sphinx.Packet
}

// Message is a fully-reassembled request or reply delivered to the local
// node, returned from Engine.HandlePacket.
type Message interface {
	isMessage()
}

// RequestMessage is delivered when this node is the final hop of a
// request: a complete message plus any SURBs the sender attached for a
// reply.
type RequestMessage struct {
	SessionIndex SessionIndex
	Data         []byte
	Surbs        []sphinx.Surb
}

func (RequestMessage) isMessage() {}

// ReplyMessage is delivered when this node is the original requester and
// has successfully decrypted a reply sent using one of its SURBs.
type ReplyMessage struct {
	ID   fragment.ID
	Data []byte
}

func (ReplyMessage) isMessage() {}
