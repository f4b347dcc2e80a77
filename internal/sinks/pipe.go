package sinks

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"syscall"

	"rovmjpeg/internal/rlog"
	"rovmjpeg/internal/telemetry"
)

// defaultChunkSize matches the reference pipe writer's fallback when a
// zero chunk size is requested.
const defaultChunkSize = 4096

// PipeSink writes frames to an already-open file descriptor as a
// sequence of records: ts_us (big-endian uint64), len (big-endian
// uint32), then len bytes of JPEG, with the payload flushed in writes
// no larger than chunkSize.
type PipeSink struct {
	f         *os.File
	chunkSize int
}

// NewPipeSink wraps fd, which the caller is assumed to already own
// (e.g. an inherited pipe write-end); Close closes it.
func NewPipeSink(fd int, chunkSize int) (*PipeSink, error) {
	if fd < 0 {
		return nil, fmt.Errorf("sinks: invalid pipe fd %d", fd)
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &PipeSink{f: os.NewFile(uintptr(fd), "pipe"), chunkSize: chunkSize}, nil
}

// Accept writes one framed record. Any write error fails only this
// call; the pipeline keeps delivering to sibling consumers.
func (p *PipeSink) Accept(_ context.Context, timestampUs uint64, frame []byte) {
	if len(frame) == 0 {
		return
	}

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], timestampUs)
	if err := writeAll(p.f, tsBuf[:]); err != nil {
		p.fail(err)
		return
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if err := writeAll(p.f, lenBuf[:]); err != nil {
		p.fail(err)
		return
	}

	remaining := frame
	for len(remaining) > 0 {
		n := p.chunkSize
		if n > len(remaining) {
			n = len(remaining)
		}
		if err := writeAll(p.f, remaining[:n]); err != nil {
			p.fail(err)
			return
		}
		remaining = remaining[n:]
	}
}

func (p *PipeSink) fail(err error) {
	telemetry.IncSinkError(telemetry.ErrPipeIO)
	rlog.L().Warn("pipe output failed", "error", err)
}

func (p *PipeSink) Close() error {
	return p.f.Close()
}

// writeAll loops on partial writes and retries on EINTR, matching the
// reference pipe writer's write_all.
func writeAll(f *os.File, buf []byte) error {
	for len(buf) > 0 {
		n, err := f.Write(buf)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return err
		}
		buf = buf[n:]
	}
	return nil
}
