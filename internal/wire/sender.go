package wire

import (
	"errors"
	"fmt"
	"net"

	"rovmjpeg/internal/telemetry"
)

// ErrOversize is returned by Transmit when frame_len exceeds max_frame_size.
var ErrOversize = errors.New("wire: frame exceeds max_frame_size")

// Sender fragments frames into segmented packets and transmits them to a
// single pre-resolved remote address, with optional coarse FEC
// repetition. It owns one scratch packet buffer, reused across calls.
type Sender struct {
	ep       *Endpoint
	remote   *net.UDPAddr
	maxPkt   int
	maxPay   int
	maxFrame int
	scratch  []byte
}

// NewSender binds a local endpoint and resolves the remote address.
// maxPacketSize and maxFrameSize must match the peer's configuration.
func NewSender(localIP string, localPort int, remoteIP string, remotePort int, maxPacketSize, maxFrameSize int) (*Sender, error) {
	ep, err := NewEndpoint(localIP, localPort)
	if err != nil {
		return nil, err
	}
	remote := &net.UDPAddr{IP: net.ParseIP(remoteIP), Port: remotePort}
	if remote.IP == nil {
		ep.Close()
		return nil, fmt.Errorf("%w: invalid remote ip %q", ErrEndpointUnavailable, remoteIP)
	}
	return &Sender{
		ep:       ep,
		remote:   remote,
		maxPkt:   maxPacketSize,
		maxPay:   maxPacketSize - HeaderSize,
		maxFrame: maxFrameSize,
		scratch:  make([]byte, maxPacketSize),
	}, nil
}

// Transmit splits frame into segments and sends repeatCount full rounds,
// segments ascending within each round, rounds in order. The first
// non-nil send error aborts the remaining rounds and is returned.
func (s *Sender) Transmit(timestampUs uint64, frame []byte, repeatCount int) error {
	if len(frame) > s.maxFrame {
		return ErrOversize
	}
	segCount := SegmentCount(len(frame), s.maxPay)
	if segCount == 0 {
		segCount = 1 // a zero-length frame is still one (empty) segment
	}
	if segCount > MaxSegmentsPerFrame {
		return ErrOversize
	}

	for round := 0; round < repeatCount; round++ {
		for seg := 0; seg < segCount; seg++ {
			start, end := SegmentBounds(len(frame), s.maxPay, seg)
			payloadLen := end - start
			h := Header{
				FrameTS:    timestampUs,
				SegIdx:     uint32(seg),
				SegCount:   uint32(segCount),
				PayloadLen: uint32(payloadLen),
			}
			h.Put(s.scratch[:HeaderSize])
			copy(s.scratch[HeaderSize:HeaderSize+payloadLen], frame[start:end])

			if err := s.sendOne(s.scratch[:HeaderSize+payloadLen]); err != nil {
				telemetry.IncSinkError(telemetry.ErrSenderIO)
				return fmt.Errorf("wire: sendto: %w", err)
			}
		}
	}
	telemetry.FramesSent.Inc()
	return nil
}

// sendOne writes one datagram, retrying transparently on EINTR.
func (s *Sender) sendOne(b []byte) error {
	for {
		_, err := s.ep.Conn().WriteToUDP(b, s.remote)
		if err == nil {
			return nil
		}
		if isEINTR(err) {
			continue
		}
		return err
	}
}

// Close tears down the sender's endpoint exactly once.
func (s *Sender) Close() error { return s.ep.Close() }
