package sinks

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"rovmjpeg/internal/rlog"
	"rovmjpeg/internal/telemetry"
)

// recordMagic identifies a container file written by RecordSink: four
// bytes "RMJC" (rovmjpeg container) followed by a version byte.
var recordMagic = [5]byte{'R', 'M', 'J', 'C', 1}

// RecordSink appends frames to a simple length-and-timestamp-prefixed
// container file, one JPEG per record, PTS normalized to the first
// frame's timestamp the way the reference recorder stamps its muxed
// stream's first packet at zero.
//
// No example in the dependency corpus ships a real container muxer
// (Matroska/MP4/etc.); this format is the documented stdlib-only
// exception — see the design notes for the justification.
type RecordSink struct {
	f       *os.File
	w       *bufio.Writer
	baseTS  uint64
	hasBase bool
}

// NewRecordSink creates filename and writes the container header.
func NewRecordSink(filename string, width, height, fpsNum, fpsDen uint32) (*RecordSink, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("sinks: create record file: %w", err)
	}
	w := bufio.NewWriter(f)

	if _, err := w.Write(recordMagic[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("sinks: write record header: %w", err)
	}
	var hdr [16]byte
	binary.BigEndian.PutUint32(hdr[0:4], width)
	binary.BigEndian.PutUint32(hdr[4:8], height)
	binary.BigEndian.PutUint32(hdr[8:12], fpsNum)
	binary.BigEndian.PutUint32(hdr[12:16], fpsDen)
	if _, err := w.Write(hdr[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("sinks: write record header: %w", err)
	}

	return &RecordSink{f: f, w: w}, nil
}

// Accept appends one frame record: relative timestamp (big-endian
// uint64 microseconds since the first frame) then length (big-endian
// uint32) then the raw JPEG bytes. Write failures are logged and
// counted, never propagated.
func (r *RecordSink) Accept(_ context.Context, timestampUs uint64, frame []byte) {
	if len(frame) == 0 {
		return
	}
	if !r.hasBase {
		r.baseTS = timestampUs
		r.hasBase = true
	}
	rel := timestampUs - r.baseTS

	var prefix [12]byte
	binary.BigEndian.PutUint64(prefix[0:8], rel)
	binary.BigEndian.PutUint32(prefix[8:12], uint32(len(frame)))

	if _, err := r.w.Write(prefix[:]); err != nil {
		telemetry.IncSinkError(telemetry.ErrRecordIO)
		rlog.L().Warn("record output failed", "error", err)
		return
	}
	if _, err := r.w.Write(frame); err != nil {
		telemetry.IncSinkError(telemetry.ErrRecordIO)
		rlog.L().Warn("record output failed", "error", err)
	}
}

// Close flushes buffered output and closes the file.
func (r *RecordSink) Close() error {
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return fmt.Errorf("sinks: flush record file: %w", err)
	}
	return r.f.Close()
}
