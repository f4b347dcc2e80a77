// Package sinks implements the four frame consumers the pipeline runtime
// can bind: send (re-transmit over the wire protocol), record (append to
// a container file), pipe (write framed records to a file descriptor),
// and render (compose and preview frames over HTTP).
package sinks

import (
	"context"

	"rovmjpeg/internal/rlog"
	"rovmjpeg/internal/wire"
)

// SendSink re-transmits every accepted frame over the fragmented UDP
// wire protocol, optionally repeating each segment round for coarse
// forward error correction.
type SendSink struct {
	tx          *wire.Sender
	repeatCount int
}

// NewSendSink wraps an already-constructed wire.Sender.
func NewSendSink(tx *wire.Sender, repeatCount int) *SendSink {
	if repeatCount < 1 {
		repeatCount = 1
	}
	return &SendSink{tx: tx, repeatCount: repeatCount}
}

// Accept transmits the frame. A transmit failure is logged but never
// propagated: a dead send output must not stop delivery to its sibling
// consumers. Socket send failures are also counted, by the Sender itself;
// an oversize frame is only logged.
func (s *SendSink) Accept(ctx context.Context, timestampUs uint64, frame []byte) {
	if err := s.tx.Transmit(timestampUs, frame, s.repeatCount); err != nil {
		rlog.L().Warn("send output failed", "error", err)
	}
}

func (s *SendSink) Close() error {
	return s.tx.Close()
}
