package wire

import (
	"bytes"
	"testing"
)

// buildDatagram encodes one fragment exactly as Sender.Transmit would.
func buildDatagram(ts uint64, segIdx, segCount uint32, payload []byte) []byte {
	h := Header{FrameTS: ts, SegIdx: segIdx, SegCount: segCount, PayloadLen: uint32(len(payload))}
	b := h.MarshalBinary()
	return append(b, payload...)
}

func fragmentFrame(ts uint64, frame []byte, maxPay int) [][]byte {
	segCount := SegmentCount(len(frame), maxPay)
	if segCount == 0 {
		segCount = 1
	}
	out := make([][]byte, 0, segCount)
	for i := 0; i < segCount; i++ {
		start, end := SegmentBounds(len(frame), maxPay, i)
		out = append(out, buildDatagram(ts, uint32(i), uint32(segCount), frame[start:end]))
	}
	return out
}

func TestReceiverRoundTrip(t *testing.T) {
	const maxPkt = 1400
	const maxPay = maxPkt - HeaderSize
	const maxFrame = 500000

	frame := make([]byte, 4140)
	for i := range frame {
		frame[i] = byte(i)
	}

	r := newTestReceiver(maxPkt, maxFrame)
	pkts := fragmentFrame(1_000_000, frame, maxPay)
	if len(pkts) != 3 {
		t.Fatalf("got %d packets, want 3", len(pkts))
	}

	var got []byte
	var ts uint64
	var ok bool
	for _, p := range pkts {
		got, ts, ok = r.processDatagram(p, len(p))
	}
	if !ok {
		t.Fatalf("frame not completed")
	}
	if ts != 1_000_000 {
		t.Fatalf("ts = %d, want 1000000", ts)
	}
	if !bytes.Equal(got, frame) {
		t.Fatalf("reassembled frame mismatch: got %d bytes, want %d", len(got), len(frame))
	}
}

func TestReceiverRoundTripNonMultiple(t *testing.T) {
	const maxPkt = 1400
	const maxPay = maxPkt - HeaderSize
	const maxFrame = 500000

	frame := make([]byte, 4141)
	for i := range frame {
		frame[i] = byte(i * 7)
	}

	r := newTestReceiver(maxPkt, maxFrame)
	pkts := fragmentFrame(2_000_000, frame, maxPay)

	var got []byte
	var ok bool
	for _, p := range pkts {
		got, _, ok = r.processDatagram(p, len(p))
	}
	if !ok {
		t.Fatalf("frame not completed")
	}
	if len(got) != 4141 {
		t.Fatalf("len = %d, want 4141", len(got))
	}
	if !bytes.Equal(got, frame) {
		t.Fatalf("mismatch")
	}
}

func TestReceiverDropMidFrameThenSwitchEmitsNothing(t *testing.T) {
	const maxPay = 1380
	const maxFrame = 500000

	frame := make([]byte, 4140)
	r := newTestReceiver(maxPay+HeaderSize, maxFrame)
	pkts := fragmentFrame(1000, frame, maxPay)
	if len(pkts) != 3 {
		t.Fatalf("want 3 packets, got %d", len(pkts))
	}

	// deliver seg 0 only, "drop" seg 1
	if _, _, ok := r.processDatagram(pkts[0], len(pkts[0])); ok {
		t.Fatalf("should not complete yet")
	}

	// next frame's packets arrive; ts=1000 is abandoned without emission
	next := fragmentFrame(2000, frame, maxPay)
	var completed bool
	for _, p := range next {
		_, _, ok := r.processDatagram(p, len(p))
		completed = completed || ok
	}
	if !completed {
		t.Fatalf("frame 2000 should complete")
	}
	// a late packet for ts=1000 switches tracking back to 1000 with one
	// of three segments, so it cannot complete the abandoned frame
	if _, _, ok := r.processDatagram(pkts[2], len(pkts[2])); ok {
		t.Fatalf("late packet for abandoned frame must not complete anything")
	}
}

func TestReceiverIdempotentDuplicates(t *testing.T) {
	const maxPay = 1380
	const maxFrame = 500000
	frame := make([]byte, 4140)
	for i := range frame {
		frame[i] = byte(i)
	}
	r := newTestReceiver(maxPay+HeaderSize, maxFrame)
	pkts := fragmentFrame(42, frame, maxPay)

	// deliver: seg0, seg1 twice (FEC repeat), seg1 again, seg2
	var got []byte
	var ok bool
	order := []int{0, 1, 1, 1, 2}
	for _, idx := range order {
		got, _, ok = r.processDatagram(pkts[idx], len(pkts[idx]))
	}
	if !ok {
		t.Fatalf("expected completion")
	}
	if !bytes.Equal(got, frame) {
		t.Fatalf("mismatch after duplicate delivery")
	}
	if r.segmentsReceived != 3 {
		t.Fatalf("segmentsReceived = %d, want 3 (duplicates must not double-count)", r.segmentsReceived)
	}
}

func TestReceiverInterleavedFramesLosesEarlier(t *testing.T) {
	const maxPay = 1380
	const maxFrame = 500000
	frameA := bytes.Repeat([]byte{0xAA}, 4140)
	frameB := bytes.Repeat([]byte{0xBB}, 4140)

	r := newTestReceiver(maxPay+HeaderSize, maxFrame)
	pa := fragmentFrame(1000, frameA, maxPay)
	pb := fragmentFrame(2000, frameB, maxPay)

	// all of B arrives before A's tail
	var got []byte
	var ts uint64
	var ok bool
	seq := []([]byte){pa[0], pb[0], pb[1], pb[2], pa[1]}
	for _, p := range seq {
		got, ts, ok = r.processDatagram(p, len(p))
	}
	if !ok {
		t.Fatalf("expected B to complete")
	}
	if ts != 2000 {
		t.Fatalf("ts = %d, want 2000 (A must be lost)", ts)
	}
	if !bytes.Equal(got, frameB) {
		t.Fatalf("expected frame B content")
	}
}

func TestReceiverDropsMalformedLength(t *testing.T) {
	r := newTestReceiver(1400, 500000)
	h := Header{FrameTS: 1, SegIdx: 0, SegCount: 1, PayloadLen: 2000}
	b := h.MarshalBinary()
	full := append(b, make([]byte, 1400-HeaderSize)...) // claims 2000 in a 1400-byte datagram

	if _, _, ok := r.processDatagram(full, len(full)); ok {
		t.Fatalf("malformed packet must not complete a frame")
	}
	if r.haveTracked {
		t.Fatalf("reassembly state must be unchanged by a rejected malformed packet")
	}
}

func TestReceiverNeverWritesOutsideFrameBounds(t *testing.T) {
	r := newTestReceiver(1400, 2000) // tiny max_frame_size
	// seg_idx chosen so offset + payload_len exceeds max_frame_size
	payload := make([]byte, 1380)
	pkt := buildDatagram(1, 1, 2, payload) // offset = 1*1380 = 1380, +1380 = 2760 > 2000
	if _, _, ok := r.processDatagram(pkt, len(pkt)); ok {
		t.Fatalf("out-of-bounds segment must not complete a frame")
	}
}

func TestReceiverSingleByteTail(t *testing.T) {
	const maxPay = 1380
	frame := []byte{0x42}
	r := newTestReceiver(maxPay+HeaderSize, 500000)
	pkts := fragmentFrame(7, frame, maxPay)
	if len(pkts) != 1 {
		t.Fatalf("want 1 packet for a 1-byte frame, got %d", len(pkts))
	}
	got, _, ok := r.processDatagram(pkts[0], len(pkts[0]))
	if !ok || !bytes.Equal(got, frame) {
		t.Fatalf("single-byte frame round trip failed")
	}
}

func TestReceiverFullPayloadNoTailShortfall(t *testing.T) {
	const maxPay = 1380
	frame := bytes.Repeat([]byte{1}, maxPay)
	r := newTestReceiver(maxPay+HeaderSize, 500000)
	pkts := fragmentFrame(7, frame, maxPay)
	if len(pkts) != 1 {
		t.Fatalf("want 1 packet, got %d", len(pkts))
	}
	got, _, ok := r.processDatagram(pkts[0], len(pkts[0]))
	if !ok || len(got) != maxPay {
		t.Fatalf("full-payload single segment round trip failed")
	}
}

func TestReceiverMaxSegmentsPerFrame(t *testing.T) {
	const maxPay = 1380
	frame := make([]byte, MaxSegmentsPerFrame*maxPay)
	r := newTestReceiver(maxPay+HeaderSize, len(frame))
	pkts := fragmentFrame(99, frame, maxPay)
	if len(pkts) != MaxSegmentsPerFrame {
		t.Fatalf("want %d packets, got %d", MaxSegmentsPerFrame, len(pkts))
	}
	var ok bool
	for _, p := range pkts {
		_, _, ok = r.processDatagram(p, len(p))
	}
	if !ok {
		t.Fatalf("expected full bitmap to complete emission")
	}
	if r.segmentsReceived != MaxSegmentsPerFrame {
		t.Fatalf("segmentsReceived = %d, want %d", r.segmentsReceived, MaxSegmentsPerFrame)
	}
}
