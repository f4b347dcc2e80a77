package wire

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{FrameTS: 1_000_000, SegIdx: 3, SegCount: 7, PayloadLen: 1380}
	b := h.MarshalBinary()
	if len(b) != HeaderSize {
		t.Fatalf("marshaled size = %d, want %d", len(b), HeaderSize)
	}
	got, err := ParseHeader(b, HeaderSize+1380)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestParseHeaderRejectsShortDatagram(t *testing.T) {
	b := make([]byte, HeaderSize-1)
	if _, err := ParseHeader(b, len(b)); err != ErrShortDatagram {
		t.Fatalf("err = %v, want ErrShortDatagram", err)
	}
}

func TestParseHeaderRejectsLengthMismatch(t *testing.T) {
	h := Header{FrameTS: 1, SegIdx: 0, SegCount: 1, PayloadLen: 2000}
	b := h.MarshalBinary()
	full := append(b, make([]byte, 1400-HeaderSize)...) // claims 2000 in a 1400-byte datagram
	if _, err := ParseHeader(full, len(full)); err != ErrLengthMismatch {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
}

func TestParseHeaderRejectsSegCountOutOfRange(t *testing.T) {
	h := Header{FrameTS: 1, SegIdx: 1024, SegCount: 1025, PayloadLen: 0}
	b := h.MarshalBinary()
	if _, err := ParseHeader(b, len(b)); err != ErrSegCountRange {
		t.Fatalf("err = %v, want ErrSegCountRange", err)
	}
}

func TestParseHeaderRejectsSegIdxGESegCount(t *testing.T) {
	h := Header{FrameTS: 1, SegIdx: 5, SegCount: 5, PayloadLen: 0}
	b := h.MarshalBinary()
	if _, err := ParseHeader(b, len(b)); err != ErrSegIdxRange {
		t.Fatalf("err = %v, want ErrSegIdxRange", err)
	}
}

func TestSegmentCountBoundaries(t *testing.T) {
	const maxPay = 1380
	cases := []struct {
		frameLen int
		want     int
	}{
		{1, 1},
		{maxPay, 1},
		{maxPay + 1, 2},
		{1024 * maxPay, 1024},
	}
	for _, c := range cases {
		if got := SegmentCount(c.frameLen, maxPay); got != c.want {
			t.Errorf("SegmentCount(%d, %d) = %d, want %d", c.frameLen, maxPay, got, c.want)
		}
	}
	if got := SegmentCount(1024*maxPay+1, maxPay); got != 1025 {
		t.Errorf("SegmentCount(1024*maxPay+1) = %d, want 1025 (sender must reject as oversize)", got)
	}
}

func TestSegmentBoundsTailShortfall(t *testing.T) {
	const maxPay = 1380
	frameLen := 2*maxPay + 1
	segCount := SegmentCount(frameLen, maxPay)
	if segCount != 3 {
		t.Fatalf("segCount = %d, want 3", segCount)
	}
	var reassembled []byte
	for seg := 0; seg < segCount; seg++ {
		start, end := SegmentBounds(frameLen, maxPay, seg)
		reassembled = append(reassembled, makeFill(start, end)...)
	}
	if len(reassembled) != frameLen {
		t.Fatalf("reassembled len = %d, want %d", len(reassembled), frameLen)
	}
	_, lastEnd := SegmentBounds(frameLen, maxPay, segCount-1)
	if lastEnd != frameLen {
		t.Fatalf("last segment end = %d, want %d", lastEnd, frameLen)
	}
}

func makeFill(start, end int) []byte {
	b := make([]byte, end-start)
	for i := range b {
		b[i] = byte(start + i)
	}
	return b
}

func TestSegmentBoundsConcatenationMatchesSource(t *testing.T) {
	const maxPay = 7
	src := []byte("the quick brown fox jumps over")
	segCount := SegmentCount(len(src), maxPay)
	var out bytes.Buffer
	for seg := 0; seg < segCount; seg++ {
		start, end := SegmentBounds(len(src), maxPay, seg)
		out.Write(src[start:end])
	}
	if !bytes.Equal(out.Bytes(), src) {
		t.Fatalf("concatenation = %q, want %q", out.String(), src)
	}
}
