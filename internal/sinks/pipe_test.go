package sinks

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"testing"
)

func TestPipeSinkFramesMatchSpec(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}

	p, err := NewPipeSink(int(w.Fd()), 2) // small chunk size to exercise chunked flush
	if err != nil {
		t.Fatalf("NewPipeSink: %v", err)
	}

	frame := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01}
	done := make(chan struct{})
	go func() {
		p.Accept(context.Background(), 0x1122334455, frame)
		p.Close()
		close(done)
	}()

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	<-done

	if len(out) != 8+4+len(frame) {
		t.Fatalf("output length = %d, want %d", len(out), 8+4+len(frame))
	}
	ts := binary.BigEndian.Uint64(out[0:8])
	if ts != 0x1122334455 {
		t.Fatalf("ts = %#x, want 0x1122334455", ts)
	}
	length := binary.BigEndian.Uint32(out[8:12])
	if int(length) != len(frame) {
		t.Fatalf("length = %d, want %d", length, len(frame))
	}
	if !bytes.Equal(out[12:], frame) {
		t.Fatalf("payload mismatch: got %v, want %v", out[12:], frame)
	}
}

func TestPipeSinkSkipsEmptyFrame(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	p, err := NewPipeSink(int(w.Fd()), 0)
	if err != nil {
		t.Fatalf("NewPipeSink: %v", err)
	}

	p.Accept(context.Background(), 1, nil)
	p.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("empty frame should produce no output, got %d bytes", len(out))
	}
}

func TestNewPipeSinkRejectsNegativeFD(t *testing.T) {
	if _, err := NewPipeSink(-1, 4096); err == nil {
		t.Fatalf("NewPipeSink should reject a negative fd")
	}
}
