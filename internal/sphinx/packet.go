package sphinx

import (
	"encoding/binary"
	"errors"
	"io"
)

// errMac indicates header-slot authentication failure. The caller (the
// mixnet engine) treats this specially: it means "this shared secret was
// wrong, try the other session's secret" rather than "this packet is bad".
var errMac = errors.New("sphinx: header slot authentication failed")

// IsMacError reports whether err is the authentication-failure sentinel
// returned by Peel.
func IsMacError(err error) bool { return errors.Is(err, errMac) }

// Packet is a fixed-size onion packet.
type Packet [PacketSize]byte

func (p *Packet) kxPublicBytes() []byte { return p[:KxPublicSize] }
func (p *Packet) headerBytes() []byte   { return p[KxPublicSize : KxPublicSize+HeaderSize] }
func (p *Packet) payloadBytes() []byte  { return p[KxPublicSize+HeaderSize:] }

// KxPublicOf returns the ephemeral X25519 public key embedded in the
// packet. The same value is used by every hop to derive its own shared
// secret, since each hop holds a distinct per-session private scalar.
func KxPublicOf(p *Packet) KxPublic {
	var out KxPublic
	copy(out[:], p.kxPublicBytes())
	return out
}

// PayloadData returns the plaintext fragment region of a fully-peeled
// request or reply packet.
func PayloadData(p *Packet) *[PayloadDataSize]byte {
	return (*[PayloadDataSize]byte)(p.payloadBytes())
}

// Peel recovers the routing action for the local hop, derived from the
// caller-supplied shared secret, and writes the re-addressed packet (header
// shifted, payload re-keyed) to out. out and p may alias.
//
// A returned error wrapping errMac means the shared secret did not open
// this packet's header slot; the caller should try a different session's
// secret before giving up on the packet entirely.
func Peel(out *Packet, p *Packet, sharedSecret [32]byte) (Action, error) {
	keys, err := deriveHopKeys(sharedSecret)
	if err != nil {
		return Action{}, err
	}

	slot := p.headerBytes()[:headerSlotSize]
	plain, err := keys.openHeaderSlot(slot)
	if err != nil {
		return Action{}, err
	}
	action, err := decodeRoutingCommand(plain)
	if err != nil {
		return Action{}, err
	}

	if out != p {
		*out = *p
	}
	copy(out.headerBytes(), p.headerBytes()[headerSlotSize:])
	tail := out.headerBytes()[HeaderSize-headerSlotSize:]
	if _, err := io.ReadFull(randReader, tail); err != nil {
		return Action{}, err
	}

	payload := out.payloadBytes()
	copy(payload, p.payloadBytes())
	if err := keys.xorPayload(payload); err != nil {
		return Action{}, err
	}

	return action, nil
}

// randReader is used for padding randomness; it is a package variable so
// tests can swap in a deterministic source.
var randReader io.Reader = cryptoRandReader{}

type cryptoRandReader struct{}

func (cryptoRandReader) Read(p []byte) (int, error) { return defaultRand.Read(p) }

// hopPlan is the information BuildPacket and BuildSurb need for each hop
// along a route: the hop's published session key-exchange public, and (for
// every hop but the last) the forwarding target and delay to encode.
type hopPlan struct {
	public KxPublic
	target MixnodeIndex
	delay  Delay
}

// buildHeaderAndPayload is the shared onion-construction routine behind
// BuildPacket, BuildCoverPacket and BuildSurb. finalAction is placed in the
// last hop's slot; every earlier hop gets ActionForward to the next hop in
// hops.
func buildHeaderAndPayload(
	rng io.Reader,
	ephPublic KxPublic,
	ephPrivate [32]byte,
	hops []hopPlan,
	finalAction Action,
	payloadData [PayloadDataSize]byte,
) (kxPublic KxPublic, header [HeaderSize]byte, payload [PayloadSize]byte, totalDelay Delay, err error) {
	if len(hops) == 0 || len(hops) > MaxHops {
		return kxPublic, header, payload, totalDelay, errors.New("sphinx: route length out of range")
	}

	var combined [PayloadSize]byte
	copy(combined[:], payloadData[:])

	for i, hop := range hops {
		shared, err := SharedSecret(&ephPrivate, hop.public)
		if err != nil {
			return kxPublic, header, payload, totalDelay, err
		}
		keys, err := deriveHopKeys(shared)
		if err != nil {
			return kxPublic, header, payload, totalDelay, err
		}

		var action Action
		if i == len(hops)-1 {
			action = finalAction
		} else {
			action = Action{Kind: ActionForward, Target: hop.target, Delay: hop.delay}
			totalDelay = totalDelay.Add(hop.delay)
		}

		plain, err := encodeRoutingCommand(rng, action)
		if err != nil {
			return kxPublic, header, payload, totalDelay, err
		}
		ciphertext, err := keys.sealHeaderSlot(plain)
		if err != nil {
			return kxPublic, header, payload, totalDelay, err
		}
		copy(header[i*headerSlotSize:(i+1)*headerSlotSize], ciphertext)

		if err := keys.xorPayload(combined[:]); err != nil {
			return kxPublic, header, payload, totalDelay, err
		}
	}

	// Pad unused trailing header slots with randomness; they are never
	// addressed to a real hop so there is nothing meaningful to encrypt.
	if _, err := io.ReadFull(rng, header[len(hops)*headerSlotSize:]); err != nil {
		return kxPublic, header, payload, totalDelay, err
	}

	return ephPublic, header, combined, totalDelay, nil
}

// BuildPacket constructs a request or cover packet that forwards through
// hops[:len(hops)-1] before finalAction is applied at the last hop.
// payloadData is pre-layered so that it reads as plaintext once every hop
// listed in hops has peeled its layer.
func BuildPacket(
	rng io.Reader,
	targets []MixnodeIndex,
	theirKxPublics []KxPublic,
	delays []Delay,
	finalAction Action,
	payloadData [PayloadDataSize]byte,
) (*Packet, Delay, error) {
	if len(theirKxPublics) == 0 || len(targets) != len(theirKxPublics)-1 || len(delays) != len(targets) {
		return nil, Delay{}, errors.New("sphinx: mismatched route arrays")
	}
	hops := make([]hopPlan, len(theirKxPublics))
	for i, pub := range theirKxPublics {
		hops[i].public = pub
		if i < len(targets) {
			hops[i].target = targets[i]
			hops[i].delay = delays[i]
		}
	}
	ephPublic, ephPrivate, err := GenerateKxKeypair(rng)
	if err != nil {
		return nil, Delay{}, err
	}
	kxPublic, header, payload, delay, err := buildHeaderAndPayload(rng, ephPublic, ephPrivate, hops, finalAction, payloadData)
	if err != nil {
		return nil, Delay{}, err
	}
	var pkt Packet
	copy(pkt.kxPublicBytes(), kxPublic[:])
	copy(pkt.headerBytes(), header[:])
	copy(pkt.payloadBytes(), payload[:])
	return &pkt, delay, nil
}

// BuildCoverPacket constructs a packet whose final action is
// ActionDeliverCover, with an all-zero payload.
func BuildCoverPacket(
	rng io.Reader,
	targets []MixnodeIndex,
	theirKxPublics []KxPublic,
	delays []Delay,
	coverID CoverID,
) (*Packet, error) {
	pkt, _, err := BuildPacket(rng, targets, theirKxPublics, delays, Action{Kind: ActionDeliverCover, CoverID: coverID}, [PayloadDataSize]byte{})
	return pkt, err
}

// Surb is a single-use reply block: a pre-built route back to its creator,
// stopping short of the payload.
type Surb struct {
	KxPublic KxPublic
	Header   [HeaderSize]byte
	// FirstHop is the mixnode index (within the creator's own session
	// topology) that the completed reply packet must be addressed to.
	FirstHop MixnodeIndex
}

// Marshal serializes s to its wire form: ephemeral key-exchange public,
// onion header, then first-hop mixnode index. This is what travels inside
// a fragment's SURB region, from the SURB's creator to whoever ends up
// using it to build a reply.
func (s *Surb) Marshal() [SurbSize]byte {
	var out [SurbSize]byte
	copy(out[:KxPublicSize], s.KxPublic[:])
	copy(out[KxPublicSize:KxPublicSize+HeaderSize], s.Header[:])
	binary.BigEndian.PutUint16(out[KxPublicSize+HeaderSize:], uint16(s.FirstHop))
	return out
}

// UnmarshalSurb parses the wire form written by Surb.Marshal.
func UnmarshalSurb(b []byte) (Surb, error) {
	if len(b) != SurbSize {
		return Surb{}, errors.New("sphinx: wrong surb size")
	}
	var s Surb
	copy(s.KxPublic[:], b[:KxPublicSize])
	copy(s.Header[:], b[KxPublicSize:KxPublicSize+HeaderSize])
	s.FirstHop = MixnodeIndex(binary.BigEndian.Uint16(b[KxPublicSize+HeaderSize:]))
	return s, nil
}

// ReplyKeys is the combined payload keystream recorded by the SURB creator
// so it can later strip the layers every hop adds while relaying the reply.
type ReplyKeys struct {
	keystream [PayloadSize]byte
}

// BuildSurb constructs a Surb addressed back through hops, terminating in
// ActionDeliverReply{surbID}, along with the keys needed to later decrypt a
// reply sent using it. A fresh ephemeral key pair is generated internally;
// use BuildSurbWithKeypair when the caller needs to reserve the SURB's
// identity before committing to building it (so a failed build can be
// rolled back by the caller without this package's involvement).
func BuildSurb(rng io.Reader, firstHop MixnodeIndex, targets []MixnodeIndex, theirKxPublics []KxPublic, delays []Delay, surbID SurbID) (*Surb, ReplyKeys, Delay, error) {
	ephPublic, ephPrivate, err := GenerateKxKeypair(rng)
	if err != nil {
		return nil, ReplyKeys{}, Delay{}, err
	}
	return BuildSurbWithKeypair(rng, ephPublic, ephPrivate, firstHop, targets, theirKxPublics, delays, surbID)
}

// BuildSurbWithKeypair is BuildSurb with the ephemeral key pair supplied by
// the caller, letting a SURB keystore generate and reserve the pair (and
// its SurbID) before the route is known to succeed.
func BuildSurbWithKeypair(rng io.Reader, ephPublic KxPublic, ephPrivate [32]byte, firstHop MixnodeIndex, targets []MixnodeIndex, theirKxPublics []KxPublic, delays []Delay, surbID SurbID) (*Surb, ReplyKeys, Delay, error) {
	if len(theirKxPublics) == 0 || len(targets) != len(theirKxPublics)-1 || len(delays) != len(targets) {
		return nil, ReplyKeys{}, Delay{}, errors.New("sphinx: mismatched route arrays")
	}
	hops := make([]hopPlan, len(theirKxPublics))
	for i, pub := range theirKxPublics {
		hops[i].public = pub
		if i < len(targets) {
			hops[i].target = targets[i]
			hops[i].delay = delays[i]
		}
	}
	kxPublic, header, keystream, delay, err := buildHeaderAndPayload(rng, ephPublic, ephPrivate, hops, Action{Kind: ActionDeliverReply, SurbID: surbID}, [PayloadDataSize]byte{})
	if err != nil {
		return nil, ReplyKeys{}, Delay{}, err
	}
	surb := &Surb{KxPublic: kxPublic, FirstHop: firstHop}
	copy(surb.Header[:], header[:])
	return surb, ReplyKeys{keystream: keystream}, delay, nil
}

// CompleteReplyPacket fills out with surb's route and payloadData, ready to
// be queued for sending. It returns the mixnode index the packet must be
// addressed to.
func CompleteReplyPacket(out *Packet, surb *Surb, payloadData [PayloadDataSize]byte) MixnodeIndex {
	copy(out.kxPublicBytes(), surb.KxPublic[:])
	copy(out.headerBytes(), surb.Header[:])
	copy(out.payloadBytes(), payloadData[:])
	return surb.FirstHop
}

// DecryptReplyPayload strips the combined per-hop keystream a reply packet
// accumulated in transit, recovering the plaintext fragment data in place.
func DecryptReplyPayload(payload []byte, keys ReplyKeys) error {
	if len(payload) != PayloadSize {
		return errors.New("sphinx: wrong payload size")
	}
	for i := range payload {
		payload[i] ^= keys.keystream[i]
	}
	return nil
}
