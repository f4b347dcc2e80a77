// Package wire implements the fragmented-UDP frame transport: packet
// header layout, segmentation math, the sender, and the receiver.
package wire

import (
	"encoding/binary"
	"errors"
)

const (
	// HeaderSize is the fixed, densely-packed, big-endian wire header size in bytes.
	HeaderSize = 20

	// MaxSegmentsPerFrame bounds seg_count and the receiver's bitmap.
	MaxSegmentsPerFrame = 1024
)

var (
	ErrShortDatagram  = errors.New("wire: datagram shorter than header")
	ErrLengthMismatch = errors.New("wire: payload_len + header != datagram size")
	ErrSegIdxRange    = errors.New("wire: seg_idx out of range")
	ErrSegCountRange  = errors.New("wire: seg_count out of range")
)

// Header is the 20-byte fragment header carried by every datagram.
//
//	frame_ts_us  uint64  microsecond timestamp identifying the frame (reassembly key)
//	seg_idx      uint32  zero-based index of this packet within the frame
//	seg_count    uint32  total number of packets comprising the frame
//	payload_len  uint32  length of the payload following the header
type Header struct {
	FrameTS    uint64
	SegIdx     uint32
	SegCount   uint32
	PayloadLen uint32
}

// MarshalBinary encodes h into a newly allocated 20-byte big-endian buffer.
func (h Header) MarshalBinary() []byte {
	b := make([]byte, HeaderSize)
	h.Put(b)
	return b
}

// Put encodes h into the first HeaderSize bytes of b. b must be at least
// HeaderSize bytes; callers reuse a scratch buffer to avoid per-packet
// allocation on the hot path.
func (h Header) Put(b []byte) {
	_ = b[HeaderSize-1]
	binary.BigEndian.PutUint64(b[0:8], h.FrameTS)
	binary.BigEndian.PutUint32(b[8:12], h.SegIdx)
	binary.BigEndian.PutUint32(b[12:16], h.SegCount)
	binary.BigEndian.PutUint32(b[16:20], h.PayloadLen)
}

// ParseHeader validates and decodes the header of one received datagram.
// datagramSize is the total number of bytes actually read (header + payload).
// Malformed input is reported via the returned error; callers on the
// receive path treat any error as a silent drop, never a fatal condition.
func ParseHeader(b []byte, datagramSize int) (Header, error) {
	if len(b) < HeaderSize || datagramSize < HeaderSize {
		return Header{}, ErrShortDatagram
	}
	h := Header{
		FrameTS:    binary.BigEndian.Uint64(b[0:8]),
		SegIdx:     binary.BigEndian.Uint32(b[8:12]),
		SegCount:   binary.BigEndian.Uint32(b[12:16]),
		PayloadLen: binary.BigEndian.Uint32(b[16:20]),
	}
	if h.SegCount > MaxSegmentsPerFrame {
		return Header{}, ErrSegCountRange
	}
	if h.SegIdx >= MaxSegmentsPerFrame || h.SegIdx >= h.SegCount {
		return Header{}, ErrSegIdxRange
	}
	if int(h.PayloadLen)+HeaderSize != datagramSize {
		return Header{}, ErrLengthMismatch
	}
	return h, nil
}

// SegmentCount returns ceil(frameLen / maxPayloadPerPacket), the number
// of segments a frame of frameLen bytes splits into.
func SegmentCount(frameLen, maxPayloadPerPacket int) int {
	if maxPayloadPerPacket <= 0 {
		return 0
	}
	return (frameLen + maxPayloadPerPacket - 1) / maxPayloadPerPacket
}

// SegmentBounds returns the [start, end) byte range within frame that
// segment idx of segCount carries, given maxPayloadPerPacket. The final
// segment (idx == segCount-1) carries the remainder, which may be
// shorter than maxPayloadPerPacket.
func SegmentBounds(frameLen, maxPayloadPerPacket, idx int) (start, end int) {
	start = idx * maxPayloadPerPacket
	end = start + maxPayloadPerPacket
	if end > frameLen {
		end = frameLen
	}
	return start, end
}
