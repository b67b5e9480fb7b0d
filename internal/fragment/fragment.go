// Package fragment implements the blueprint generator for outgoing
// request/reply messages: splitting a plaintext message (and, for
// requests, a batch of reply blocks) into a sequence of fixed-size
// fragments that each fit in one Sphinx packet payload.
//
// The packing strategy is self-contained: nothing in internal/mixnet
// depends on how fragments are laid out, only on Blueprints and Parse
// agreeing with each other.
package fragment

import (
	"encoding/binary"
	"errors"

	"github.com/dantte-lp/gomixnet/internal/sphinx"
)

// IDSize is the width of a message identifier.
const IDSize = 32

// ID identifies a message across all of its fragments.
type ID [IDSize]byte

const (
	idOffset      = 0
	indexOffset   = idOffset + IDSize
	countOffset   = indexOffset + 2
	surbsOffset   = countOffset + 2
	dataLenOffset = surbsOffset + 2
	// HeaderSize is the fixed overhead every fragment pays before its SURB
	// region and data.
	HeaderSize = dataLenOffset + 2

	// surbWireSize is the size of one serialized sphinx.Surb within a
	// fragment's SURB region.
	surbWireSize = sphinx.SurbSize

	// capacity is how many bytes of SURBs+data a single fragment can
	// carry once the header is accounted for.
	capacity = sphinx.PayloadDataSize - HeaderSize
)

var (
	// ErrTruncated is returned when a payload is too short to contain a
	// valid fragment header or the SURB/data regions it declares.
	ErrTruncated = errors.New("fragment: payload truncated")
)

// Blueprint describes one fragment of a larger message: its position in
// the sequence, how many SURB slots it reserves, and the data bytes (if
// any) it carries.
type Blueprint struct {
	ID       ID
	Index    uint16
	Count    uint16
	NumSurbs int
	Data     []byte
}

// WriteExceptSurbs writes the blueprint's header and data into fragment
// (which must be sphinx.PayloadDataSize bytes), leaving the SURB region it
// reserved zeroed. Callers fill each reserved slot with SurbSlot before
// sending.
func (b Blueprint) WriteExceptSurbs(fragment []byte) {
	copy(fragment[idOffset:idOffset+IDSize], b.ID[:])
	binary.BigEndian.PutUint16(fragment[indexOffset:], b.Index)
	binary.BigEndian.PutUint16(fragment[countOffset:], b.Count)
	binary.BigEndian.PutUint16(fragment[surbsOffset:], uint16(b.NumSurbs))
	binary.BigEndian.PutUint16(fragment[dataLenOffset:], uint16(len(b.Data)))

	dataOff := HeaderSize + b.NumSurbs*surbWireSize
	copy(fragment[dataOff:], b.Data)
}

// SurbSlot returns the byte range within fragment reserved for the i'th
// SURB (0 <= i < b.NumSurbs), for the caller to Marshal a built Surb into.
func (b Blueprint) SurbSlot(fragment []byte, i int) []byte {
	off := HeaderSize + i*surbWireSize
	return fragment[off : off+surbWireSize]
}

// Blueprints splits data, plus numSurbs reserved SURB slots, into a
// sequence of fragments. It packs as many SURB slots as fit into the
// earliest fragments, then fills remaining and subsequent fragments with
// message data. It always returns at least one blueprint, even for an
// empty message with no SURBs.
func Blueprints(id ID, data []byte, numSurbs int) []Blueprint {
	maxSurbsPerFragment := capacity / surbWireSize

	var out []Blueprint
	remainingSurbs := numSurbs
	remainingData := data
	for remainingSurbs > 0 || len(remainingData) > 0 || len(out) == 0 {
		thisSurbs := remainingSurbs
		if thisSurbs > maxSurbsPerFragment {
			thisSurbs = maxSurbsPerFragment
		}
		dataCap := capacity - thisSurbs*surbWireSize
		thisData := remainingData
		if len(thisData) > dataCap {
			thisData = thisData[:dataCap]
		}

		out = append(out, Blueprint{
			ID:       id,
			Index:    uint16(len(out)),
			NumSurbs: thisSurbs,
			Data:     thisData,
		})

		remainingSurbs -= thisSurbs
		remainingData = remainingData[len(thisData):]

		if thisSurbs == 0 && len(thisData) == 0 && len(remainingData) == 0 {
			break
		}
	}

	for i := range out {
		out[i].Count = uint16(len(out))
	}
	return out
}

// Parsed is a single decoded fragment: its header fields plus the decoded
// SURBs and data bytes it carried.
type Parsed struct {
	ID     ID
	Index  uint16
	Count  uint16
	Surbs  []sphinx.Surb
	Data   []byte
}

// Parse decodes a fragment payload built by WriteExceptSurbs (with SURB
// slots subsequently filled in).
func Parse(fragment []byte) (Parsed, error) {
	if len(fragment) != sphinx.PayloadDataSize {
		return Parsed{}, ErrTruncated
	}

	var p Parsed
	copy(p.ID[:], fragment[idOffset:idOffset+IDSize])
	p.Index = binary.BigEndian.Uint16(fragment[indexOffset:])
	p.Count = binary.BigEndian.Uint16(fragment[countOffset:])
	numSurbs := int(binary.BigEndian.Uint16(fragment[surbsOffset:]))
	dataLen := int(binary.BigEndian.Uint16(fragment[dataLenOffset:]))

	need := HeaderSize + numSurbs*surbWireSize + dataLen
	if need > len(fragment) {
		return Parsed{}, ErrTruncated
	}

	if numSurbs > 0 {
		p.Surbs = make([]sphinx.Surb, numSurbs)
		for i := 0; i < numSurbs; i++ {
			off := HeaderSize + i*surbWireSize
			surb, err := sphinx.UnmarshalSurb(fragment[off : off+surbWireSize])
			if err != nil {
				return Parsed{}, err
			}
			p.Surbs[i] = surb
		}
	}

	dataOff := HeaderSize + numSurbs*surbWireSize
	p.Data = append([]byte(nil), fragment[dataOff:dataOff+dataLen]...)

	return p, nil
}
