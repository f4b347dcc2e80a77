package wire

import (
	"errors"
	"io"
	"net"

	"rovmjpeg/internal/telemetry"
)

// ErrClosed is returned by GetFrame once the underlying socket has been
// closed (EBADF); it is the only fatal condition in the receiver.
var ErrClosed = errors.New("wire: receiver closed")

const bitmapWords = MaxSegmentsPerFrame / 64

// Receiver reassembles a single in-flight frame at a time, identified by
// trackedTS. See the algorithm walkthrough on GetFrame for the
// frame-switch / dedup / bounds / completion rules.
type Receiver struct {
	ep       *Endpoint
	maxPkt   int
	maxPay   int
	maxFrame int

	packetBuf []byte // scratch recv buffer, reused across calls

	trackedTS         uint64
	haveTracked       bool
	segmentsExpected  uint32
	segmentsReceived  uint32
	bitmap            [bitmapWords]uint64
	frameBuf          []byte // owned, sized maxFrame
	frameLen          uint32
	frameLenKnown     bool
	frameTS           uint64
}

// NewReceiver binds a local endpoint to receive on ip:port.
func NewReceiver(ip string, port int, maxPacketSize, maxFrameSize int) (*Receiver, error) {
	ep, err := NewEndpoint(ip, port)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		ep:        ep,
		maxPkt:    maxPacketSize,
		maxPay:    maxPacketSize - HeaderSize,
		maxFrame:  maxFrameSize,
		packetBuf: make([]byte, maxPacketSize),
		frameBuf:  make([]byte, maxFrameSize),
	}, nil
}

// GetFrame blocks until one frame is fully reassembled or the socket is
// permanently closed. The returned slice is a borrow into the receiver's
// internal frame buffer, valid only until the next call.
//
// Algorithm, per datagram:
//  1. Recv (retrying EINTR); EBADF/closed -> ErrClosed.
//  2. Drop if shorter than the header.
//  3. Parse + validate the header; drop (silently) on any violation.
//  4. Frame switch: a new frame_ts_us abandons any partial prior frame
//     without emission and resets tracked state.
//  5. Dedup: a segment already marked in the bitmap is dropped (a
//     repeated FEC copy, or a stray duplicate).
//  6. Bounds: reject a segment whose payload would write outside
//     [0, max_frame_size).
//  7. Copy the payload, mark the bitmap bit, count the segment.
//  8. The last segment (by seg_idx) determines frame_len; reassembly is
//     still incomplete until every expected bit is set.
//  9. Completion: once segments_received == segments_expected, return.
func (r *Receiver) GetFrame() ([]byte, uint64, error) {
	for {
		n, err := r.recvOne()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil, 0, ErrClosed
			}
			continue // any other recv error is a silent drop
		}
		if frame, ts, complete := r.processDatagram(r.packetBuf[:n], n); complete {
			return frame, ts, nil
		}
	}
}

// processDatagram runs steps 2-9 of the algorithm above against one
// already-received datagram. It is split out from GetFrame so the
// reassembly logic can be exercised deterministically without a bound
// socket.
func (r *Receiver) processDatagram(b []byte, n int) (frame []byte, ts uint64, complete bool) {
	if n < HeaderSize {
		return nil, 0, false
	}

	h, err := ParseHeader(b[:n], n)
	if err != nil {
		if errors.Is(err, ErrLengthMismatch) {
			telemetry.IncDrop(telemetry.DropMalformed)
		} else {
			telemetry.IncDrop(telemetry.DropBadHeader)
		}
		return nil, 0, false
	}

	if !r.haveTracked || h.FrameTS != r.trackedTS {
		r.resetFor(h)
	}

	wordIdx := h.SegIdx >> 6
	mask := uint64(1) << (h.SegIdx & 63)
	if r.bitmap[wordIdx]&mask != 0 {
		telemetry.IncDrop(telemetry.DropDuplicate)
		return nil, 0, false
	}

	start := int(h.SegIdx) * r.maxPay
	end := start + int(h.PayloadLen)
	if end > r.maxFrame || start < 0 {
		telemetry.IncDrop(telemetry.DropBounds)
		return nil, 0, false
	}

	copy(r.frameBuf[start:end], b[HeaderSize:HeaderSize+int(h.PayloadLen)])
	r.bitmap[wordIdx] |= mask
	r.segmentsReceived++

	if h.SegIdx == h.SegCount-1 {
		r.frameLen = uint32(end)
		r.frameTS = h.FrameTS
		r.frameLenKnown = true
	}

	if r.segmentsReceived == r.segmentsExpected {
		telemetry.FramesReassembled.Inc()
		return r.frameBuf[:r.frameLen], r.frameTS, true
	}
	return nil, 0, false
}

// resetFor abandons any partial prior frame and begins tracking h's
// frame_ts_us. A late packet for an older timestamp is not rejected: it
// differs from trackedTS, so it triggers another reset and starts
// reassembly of that older frame from an empty bitmap.
func (r *Receiver) resetFor(h Header) {
	if r.haveTracked && r.segmentsReceived < r.segmentsExpected {
		telemetry.IncDrop(telemetry.DropFrameSwitch)
	}
	r.trackedTS = h.FrameTS
	r.haveTracked = true
	r.segmentsReceived = 0
	r.segmentsExpected = h.SegCount
	r.frameLenKnown = false
	for i := range r.bitmap {
		r.bitmap[i] = 0
	}
}

// recvOne reads one datagram into the scratch buffer, retrying EINTR.
func (r *Receiver) recvOne() (int, error) {
	for {
		n, err := r.ep.Conn().Read(r.packetBuf)
		if err == nil {
			return n, nil
		}
		if isEINTR(err) {
			continue
		}
		if errors.Is(err, io.EOF) || isClosedConnErr(err) {
			return 0, ErrClosed
		}
		return 0, err
	}
}

// Close tears down the receiver's endpoint exactly once.
func (r *Receiver) Close() error { return r.ep.Close() }

// LocalAddr returns the receiver's bound local address.
func (r *Receiver) LocalAddr() *net.UDPAddr { return r.ep.LocalAddr() }

// newTestReceiver builds a Receiver with no bound socket, for exercising
// processDatagram directly in tests.
func newTestReceiver(maxPacketSize, maxFrameSize int) *Receiver {
	return &Receiver{
		maxPkt:    maxPacketSize,
		maxPay:    maxPacketSize - HeaderSize,
		maxFrame:  maxFrameSize,
		packetBuf: make([]byte, maxPacketSize),
		frameBuf:  make([]byte, maxFrameSize),
	}
}
