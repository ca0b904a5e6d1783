package encode

import (
	"bytes"
	"testing"
)

// nalu builds a NAL unit with the given type and payload byte.
func nalu(typ byte, payload ...byte) []byte {
	return append([]byte{typ & 0x1F}, payload...)
}

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

func TestAUParserSplitsOnDelimiters(t *testing.T) {
	t.Parallel()
	var p auParser

	stream := annexB(
		nalu(nalTypeAUD),
		nalu(nalTypeSPS, 0xAA),
		nalu(nalTypePPS, 0xBB),
		nalu(nalTypeIDR, 0x01),
		nalu(nalTypeAUD),
		nalu(nalTypeSlice, 0x02),
		nalu(nalTypeAUD),
		nalu(nalTypeSlice, 0x03),
	)

	aus := p.feed(stream)
	aus = append(aus, p.finish()...)

	if len(aus) != 3 {
		t.Fatalf("access units: got %d, want 3", len(aus))
	}
	if !aus[0].keyframe {
		t.Error("first AU should be a keyframe (contains IDR)")
	}
	if aus[1].keyframe || aus[2].keyframe {
		t.Error("non-IDR AUs flagged as keyframes")
	}
	if got := len(aus[0].nalus); got != 3 {
		t.Errorf("first AU NAL count: got %d, want 3 (SPS+PPS+IDR)", got)
	}
}

func TestAUParserIncrementalFeed(t *testing.T) {
	t.Parallel()
	var p auParser

	stream := annexB(
		nalu(nalTypeAUD),
		nalu(nalTypeIDR, 0x01, 0x02, 0x03),
		nalu(nalTypeAUD),
		nalu(nalTypeSlice, 0x04),
	)

	// Feed one byte at a time: the parser must produce identical output.
	var aus []accessUnit
	for _, b := range stream {
		aus = append(aus, p.feed([]byte{b})...)
	}
	aus = append(aus, p.finish()...)

	if len(aus) != 2 {
		t.Fatalf("access units: got %d, want 2", len(aus))
	}
	if !aus[0].keyframe {
		t.Error("first AU should be a keyframe")
	}
	want := []byte{nalTypeIDR, 0x01, 0x02, 0x03}
	if !bytes.Equal(aus[0].nalus[0], want) {
		t.Errorf("IDR NAL: got %x, want %x", aus[0].nalus[0], want)
	}
}

func TestAUParserCapturesParameterSets(t *testing.T) {
	t.Parallel()
	var p auParser

	p.feed(annexB(
		nalu(nalTypeAUD),
		nalu(nalTypeSPS, 0x11, 0x22),
		nalu(nalTypePPS, 0x33),
		nalu(nalTypeIDR, 0x44),
		nalu(nalTypeAUD),
	))

	if want := nalu(nalTypeSPS, 0x11, 0x22); !bytes.Equal(p.sps, want) {
		t.Errorf("sps: got %x, want %x", p.sps, want)
	}
	if want := nalu(nalTypePPS, 0x33); !bytes.Equal(p.pps, want) {
		t.Errorf("pps: got %x, want %x", p.pps, want)
	}
}

func TestAUParserShortStartCode(t *testing.T) {
	t.Parallel()
	var p auParser

	// Three-byte start codes are as valid as four-byte ones.
	stream := []byte{0x00, 0x00, 0x01, nalTypeAUD}
	stream = append(stream, 0x00, 0x00, 0x01, nalTypeSlice, 0x99)
	stream = append(stream, 0x00, 0x00, 0x01, nalTypeAUD)

	aus := p.feed(stream)
	aus = append(aus, p.finish()...)
	if len(aus) != 1 {
		t.Fatalf("access units: got %d, want 1", len(aus))
	}
	if want := []byte{nalTypeSlice, 0x99}; !bytes.Equal(aus[0].nalus[0], want) {
		t.Errorf("NAL: got %x, want %x", aus[0].nalus[0], want)
	}
}

func TestAUParserDropsFiller(t *testing.T) {
	t.Parallel()
	var p auParser

	aus := p.feed(annexB(
		nalu(nalTypeAUD),
		nalu(nalTypeSlice, 0x01),
		nalu(nalTypeFillerData, 0x00, 0x00),
		nalu(nalTypeAUD),
	))
	aus = append(aus, p.finish()...)

	if len(aus) != 1 {
		t.Fatalf("access units: got %d, want 1", len(aus))
	}
	if got := len(aus[0].nalus); got != 1 {
		t.Errorf("NAL count: got %d, want 1 (filler dropped)", got)
	}
}

func TestAVCC(t *testing.T) {
	t.Parallel()

	got := avcc([][]byte{{0x65, 0x01}, {0x41}})
	want := []byte{
		0x00, 0x00, 0x00, 0x02, 0x65, 0x01,
		0x00, 0x00, 0x00, 0x01, 0x41,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("avcc: got %x, want %x", got, want)
	}
}
