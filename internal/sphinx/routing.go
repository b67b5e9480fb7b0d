package sphinx

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

var errBadRoutingCommand = errors.New("sphinx: malformed routing command")

// encodeRoutingCommand packs an Action into a fixed-size, rng-padded plain
// block suitable for sealing into a header slot.
func encodeRoutingCommand(rng io.Reader, a Action) (plain [routingPlainSize]byte, err error) {
	if _, err = io.ReadFull(rng, plain[:]); err != nil {
		return plain, err
	}
	plain[0] = byte(a.Kind)
	switch a.Kind {
	case ActionForward:
		binary.BigEndian.PutUint16(plain[1:3], uint16(a.Target))
		binary.BigEndian.PutUint64(plain[3:11], math.Float64bits(a.Delay.factor))
	case ActionDeliverRequest:
		// No extra fields.
	case ActionDeliverReply:
		copy(plain[11:11+SurbIDSize], a.SurbID[:])
	case ActionDeliverCover:
		copy(plain[11:11+CoverIDSize], a.CoverID[:])
	}
	return plain, nil
}

func decodeRoutingCommand(plain [routingPlainSize]byte) (Action, error) {
	var a Action
	a.Kind = ActionKind(plain[0])
	switch a.Kind {
	case ActionForward:
		a.Target = MixnodeIndex(binary.BigEndian.Uint16(plain[1:3]))
		a.Delay = Delay{factor: math.Float64frombits(binary.BigEndian.Uint64(plain[3:11]))}
	case ActionDeliverRequest:
	case ActionDeliverReply:
		copy(a.SurbID[:], plain[11:11+SurbIDSize])
	case ActionDeliverCover:
		copy(a.CoverID[:], plain[11:11+CoverIDSize])
	default:
		return Action{}, errBadRoutingCommand
	}
	return a, nil
}
