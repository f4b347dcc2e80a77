package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"rovmjpeg/internal/telemetry"
)

// BufferCount is the number of MMAP buffers requested from the driver,
// matching the ring depth the original capture tool used.
const BufferCount = 4

var (
	ErrUnsupportedDevice = errors.New("capture: device does not support MJPEG streaming capture")
	ErrClosed            = errors.New("capture: device closed")
)

type buffer struct {
	data []byte
}

// Capturer is a pipeline.Producer backed by a V4L2 MMAP capture device.
// It yields one JPEG frame per Next call, time-stamped in wall-clock
// microseconds.
type Capturer struct {
	file *os.File
	fd   int

	width, height uint32
	epochOffsetUs uint64

	buffers     [BufferCount]buffer
	activeIndex int // -1 when no buffer is checked out

	closed bool
}

// New opens devicePath, negotiates MJPEG capture at width x height and
// fpsNum/fpsDen, requests BufferCount MMAP buffers, and starts streaming.
// On any failure it unwinds everything it had already set up.
func New(devicePath string, width, height, fpsNum, fpsDen uint32) (*Capturer, error) {
	file, err := os.OpenFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", devicePath, err)
	}
	fd := int(file.Fd())

	c := &Capturer{
		file:          file,
		fd:            fd,
		width:         width,
		height:        height,
		epochOffsetUs: computeEpochOffsetUs(),
		activeIndex:   -1,
	}

	if err := c.setup(fpsNum, fpsDen); err != nil {
		c.teardownPartial()
		file.Close()
		return nil, err
	}
	return c, nil
}

func (c *Capturer) setup(fpsNum, fpsDen uint32) error {
	var caps v4l2Capability
	if err := ioctlRetry(c.fd, vidiocQueryCap, unsafe.Pointer(&caps)); err != nil {
		return fmt.Errorf("capture: query capabilities: %w", err)
	}
	if caps.Capabilities&capVideoCapture == 0 || caps.Capabilities&capStreaming == 0 {
		return ErrUnsupportedDevice
	}

	var fmtReq v4l2Format
	fmtReq.Type = bufTypeVideoCapture
	pix := fmtReq.pix()
	pix.Width = c.width
	pix.Height = c.height
	pix.PixelFormat = PixFmtMJPEG
	pix.Field = fieldNone
	if err := ioctlRetry(c.fd, vidiocSFmt, unsafe.Pointer(&fmtReq)); err != nil {
		return fmt.Errorf("capture: set format: %w", err)
	}
	if fmtReq.pix().PixelFormat != PixFmtMJPEG {
		return ErrUnsupportedDevice
	}

	var parm v4l2Streamparm
	parm.Type = bufTypeVideoCapture
	parm.capture().Timeperframe = v4l2Fract{Numerator: fpsNum, Denominator: fpsDen}
	if err := ioctlRetry(c.fd, vidiocSParm, unsafe.Pointer(&parm)); err != nil {
		return fmt.Errorf("capture: set frame interval: %w", err)
	}

	reqbuf := v4l2RequestBuffers{Count: BufferCount, Type: bufTypeVideoCapture, Memory: memoryMMAP}
	if err := ioctlRetry(c.fd, vidiocReqBufs, unsafe.Pointer(&reqbuf)); err != nil {
		return fmt.Errorf("capture: request buffers: %w", err)
	}
	if reqbuf.Count != BufferCount {
		return fmt.Errorf("capture: driver granted %d buffers, want %d", reqbuf.Count, BufferCount)
	}

	for i := uint32(0); i < BufferCount; i++ {
		buf := v4l2Buffer{Type: bufTypeVideoCapture, Memory: memoryMMAP, Index: i}
		if err := ioctlRetry(c.fd, vidiocQueryBuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("capture: query buffer %d: %w", i, err)
		}
		data, err := unix.Mmap(c.fd, int64(buf.mmapOffset()), int(buf.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("capture: mmap buffer %d: %w", i, err)
		}
		c.buffers[i] = buffer{data: data}
	}

	for i := uint32(0); i < BufferCount; i++ {
		buf := v4l2Buffer{Type: bufTypeVideoCapture, Memory: memoryMMAP, Index: i}
		if err := ioctlRetry(c.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("capture: queue buffer %d: %w", i, err)
		}
	}

	streamType := bufTypeVideoCapture
	if err := ioctlRetry(c.fd, vidiocStreamOn, unsafe.Pointer(&streamType)); err != nil {
		return fmt.Errorf("capture: stream on: %w", err)
	}
	return nil
}

func (c *Capturer) teardownPartial() {
	for i := range c.buffers {
		if c.buffers[i].data != nil {
			unix.Munmap(c.buffers[i].data)
			c.buffers[i].data = nil
		}
	}
}

// Next blocks until a frame is dequeued, ctx is cancelled, or the
// device is closed. The returned frame aliases the device's mmap
// buffer and is only valid until ReleaseIfNeeded is called.
func (c *Capturer) Next(ctx context.Context) (uint64, []byte, bool, error) {
	if c.closed {
		return 0, nil, false, ErrClosed
	}

	for {
		if err := ctx.Err(); err != nil {
			return 0, nil, false, nil
		}
		ready, err := waitReadable(c.fd, 200*time.Millisecond)
		if err != nil {
			telemetry.IncSinkError(telemetry.ErrSetupFail)
			return 0, nil, false, fmt.Errorf("capture: wait for frame: %w", err)
		}
		if !ready {
			continue
		}

		var buf v4l2Buffer
		buf.Type = bufTypeVideoCapture
		buf.Memory = memoryMMAP
		if err := ioctlRetry(c.fd, vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
			return 0, nil, false, fmt.Errorf("capture: dequeue buffer: %w", err)
		}

		c.activeIndex = int(buf.Index)
		ts := uint64(buf.Timestamp.Sec)*1_000_000 + uint64(buf.Timestamp.Usec) + c.epochOffsetUs
		frame := c.buffers[buf.Index].data[:buf.BytesUsed]
		return ts, frame, true, nil
	}
}

// ReleaseIfNeeded returns the most recently dequeued buffer to the
// driver's queue so it can be filled again.
func (c *Capturer) ReleaseIfNeeded() {
	if c.activeIndex < 0 {
		return
	}
	buf := v4l2Buffer{Type: bufTypeVideoCapture, Memory: memoryMMAP, Index: uint32(c.activeIndex)}
	ioctlRetry(c.fd, vidiocQBuf, unsafe.Pointer(&buf))
	c.activeIndex = -1
}

// Close stops streaming, unmaps all buffers, and closes the device.
func (c *Capturer) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	streamType := bufTypeVideoCapture
	ioctlRetry(c.fd, vidiocStreamOff, unsafe.Pointer(&streamType))
	c.teardownPartial()
	return c.file.Close()
}

func ioctlRetry(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		if errno == 0 {
			return nil
		}
		if errno == unix.EINTR {
			continue
		}
		return errno
	}
}

func waitReadable(fd int, timeout time.Duration) (bool, error) {
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	var set unix.FdSet
	set.Set(fd)
	for {
		n, err := unix.Select(fd+1, &set, nil, nil, &tv)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return false, err
		}
		return n > 0, nil
	}
}

func computeEpochOffsetUs() uint64 {
	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	monoUs := uint64(ts.Sec)*1_000_000 + uint64((ts.Nsec+500)/1000)
	wallUs := uint64(time.Now().UnixMicro())
	return wallUs - monoUs
}
