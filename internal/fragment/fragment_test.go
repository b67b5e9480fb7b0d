package fragment_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/dantte-lp/gomixnet/internal/fragment"
	"github.com/dantte-lp/gomixnet/internal/sphinx"
)

func testID(b byte) fragment.ID {
	var id fragment.ID
	id[0] = b
	return id
}

func marshalBlueprint(t *testing.T, bp fragment.Blueprint, surbs []sphinx.Surb) []byte {
	t.Helper()
	if len(surbs) != bp.NumSurbs {
		t.Fatalf("test setup: len(surbs) = %d, bp.NumSurbs = %d", len(surbs), bp.NumSurbs)
	}
	buf := make([]byte, sphinx.PayloadDataSize)
	bp.WriteExceptSurbs(buf)
	for i, s := range surbs {
		wire := s.Marshal()
		copy(bp.SurbSlot(buf, i), wire[:])
	}
	return buf
}

func sampleSurb(b byte) sphinx.Surb {
	var s sphinx.Surb
	wire := s.Marshal()
	for i := range wire {
		wire[i] = b
	}
	parsed, err := sphinx.UnmarshalSurb(wire[:])
	if err != nil {
		panic(err)
	}
	return parsed
}

func TestBlueprintsAlwaysReturnsAtLeastOne(t *testing.T) {
	bps := fragment.Blueprints(testID(1), nil, 0)
	if len(bps) != 1 {
		t.Fatalf("Blueprints(empty, 0 surbs) len = %d, want 1", len(bps))
	}
	if bps[0].Count != 1 {
		t.Fatalf("Count = %d, want 1", bps[0].Count)
	}
}

func TestBlueprintsSplitsOversizedData(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 1200)
	bps := fragment.Blueprints(testID(2), data, 0)
	if len(bps) < 2 {
		t.Fatalf("Blueprints split len = %d, want >= 2 for 1200 bytes", len(bps))
	}

	var reassembled []byte
	for i, bp := range bps {
		if int(bp.Index) != i {
			t.Fatalf("fragment %d has Index %d", i, bp.Index)
		}
		if int(bp.Count) != len(bps) {
			t.Fatalf("fragment %d has Count %d, want %d", i, bp.Count, len(bps))
		}
		reassembled = append(reassembled, bp.Data...)
	}
	if !bytes.Equal(reassembled, data) {
		t.Fatalf("reassembled data does not match input")
	}
}

func TestBlueprintsPacksSurbsBeforeData(t *testing.T) {
	data := []byte("short payload")
	bps := fragment.Blueprints(testID(3), data, 1)

	totalSurbs := 0
	for _, bp := range bps {
		totalSurbs += bp.NumSurbs
	}
	if totalSurbs != 1 {
		t.Fatalf("total surbs across fragments = %d, want 1", totalSurbs)
	}
	if bps[0].NumSurbs != 1 {
		t.Fatalf("first fragment NumSurbs = %d, want the surb packed into the earliest fragment", bps[0].NumSurbs)
	}
}

func TestWriteParseRoundTrip(t *testing.T) {
	data := []byte("hello fragment")
	bps := fragment.Blueprints(testID(4), data, 1)
	if len(bps) != 1 {
		t.Fatalf("expected a single fragment for this small message, got %d", len(bps))
	}
	bp := bps[0]

	surbs := []sphinx.Surb{sampleSurb(0xAA)}
	buf := marshalBlueprint(t, bp, surbs)

	parsed, err := fragment.Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.ID != bp.ID {
		t.Fatalf("parsed ID = %x, want %x", parsed.ID, bp.ID)
	}
	if parsed.Index != bp.Index || parsed.Count != bp.Count {
		t.Fatalf("parsed index/count = %d/%d, want %d/%d", parsed.Index, parsed.Count, bp.Index, bp.Count)
	}
	if !bytes.Equal(parsed.Data, data) {
		t.Fatalf("parsed data = %q, want %q", parsed.Data, data)
	}
	if len(parsed.Surbs) != 1 {
		t.Fatalf("parsed surbs len = %d, want 1", len(parsed.Surbs))
	}
}

func TestParseRejectsWrongSize(t *testing.T) {
	if _, err := fragment.Parse(make([]byte, 10)); err != fragment.ErrTruncated {
		t.Fatalf("Parse(short buffer): want ErrTruncated, got %v", err)
	}
}

func TestParseRejectsInconsistentLengths(t *testing.T) {
	buf := make([]byte, sphinx.PayloadDataSize)
	bp := fragment.Blueprint{ID: testID(5), Index: 0, Count: 1, NumSurbs: 0, Data: []byte("x")}
	bp.WriteExceptSurbs(buf)

	// Corrupt the declared data length to claim more bytes than the
	// fragment can actually hold.
	binary.BigEndian.PutUint16(buf[fragment.HeaderSize-2:], 0xFFFF)

	if _, err := fragment.Parse(buf); err != fragment.ErrTruncated {
		t.Fatalf("Parse(corrupted length): want ErrTruncated, got %v", err)
	}
}
