package wire

import (
	"bytes"
	"testing"
	"time"
)

func TestTransmitRejectsOversizeFrame(t *testing.T) {
	s, err := NewSender("127.0.0.1", 0, "127.0.0.1", 1, 1400, 100)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer s.Close()

	frame := make([]byte, 101)
	if err := s.Transmit(1, frame, 1); err != ErrOversize {
		t.Fatalf("err = %v, want ErrOversize", err)
	}
}

// TestSendReceiveRoundTrip exercises C3 and C4 together over a real
// loopback socket pair: send one frame with repetition and confirm the
// receiver reassembles it byte-identical.
func TestSendReceiveRoundTrip(t *testing.T) {
	const maxPkt = 1400
	const maxFrame = 500000

	rx, err := NewReceiver("127.0.0.1", 0, maxPkt, maxFrame)
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	defer rx.Close()

	rxAddr := rx.LocalAddr()
	tx, err := NewSender("127.0.0.1", 0, rxAddr.IP.String(), rxAddr.Port, maxPkt, maxFrame)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	defer tx.Close()

	frame := make([]byte, 4141)
	for i := range frame {
		frame[i] = byte(i * 3)
	}

	done := make(chan struct{})
	var got []byte
	var gotTS uint64
	var getErr error
	go func() {
		got, gotTS, getErr = rx.GetFrame()
		close(done)
	}()

	// give the receiver goroutine a moment to enter the blocking recv
	time.Sleep(20 * time.Millisecond)

	if err := tx.Transmit(1_234_567, frame, 3); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reassembled frame")
	}

	if getErr != nil {
		t.Fatalf("GetFrame error: %v", getErr)
	}
	if gotTS != 1_234_567 {
		t.Fatalf("ts = %d, want 1234567", gotTS)
	}
	if !bytes.Equal(got, frame) {
		t.Fatalf("reassembled frame mismatch: got %d bytes, want %d", len(got), len(frame))
	}
}

func TestReceiverGetFrameReturnsClosedAfterClose(t *testing.T) {
	rx, err := NewReceiver("127.0.0.1", 0, 1400, 500000)
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := rx.GetFrame()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	rx.Close()

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Fatalf("err = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for ErrClosed")
	}
}
