// Package capture drives a V4L2 MMAP video source: device setup, the
// four-buffer capture ring, and frame timestamp alignment to wall-clock
// time.
package capture

import "unsafe"

// ioctl command encoding, mirroring linux/ioctl.h's _IOC macros. V4L2
// commands are not exposed by golang.org/x/sys/unix, so the encoding is
// reproduced here rather than hand-rolling numeric constants that would
// silently drift from a kernel header change.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNumberBits = 8
	iocTypeBits   = 8
	iocSizeBits   = 14

	numberPos = 0
	typePos   = numberPos + iocNumberBits
	sizePos   = typePos + iocTypeBits
	opPos     = sizePos + iocSizeBits
)

func ioEnc(mode, typ, number, size uintptr) uintptr {
	return (mode << opPos) | (typ << typePos) | (number << numberPos) | (size << sizePos)
}

func ioEncR(typ, number, size uintptr) uintptr  { return ioEnc(iocRead, typ, number, size) }
func ioEncW(typ, number, size uintptr) uintptr  { return ioEnc(iocWrite, typ, number, size) }
func ioEncRW(typ, number, size uintptr) uintptr { return ioEnc(iocRead|iocWrite, typ, number, size) }

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// PixFmtMJPEG is V4L2_PIX_FMT_MJPEG.
var PixFmtMJPEG = fourcc('M', 'J', 'P', 'G')

// V4L2 buffer/stream type and memory constants used by this package.
const (
	bufTypeVideoCapture uint32 = 1 // V4L2_BUF_TYPE_VIDEO_CAPTURE
	memoryMMAP          uint32 = 1 // V4L2_MEMORY_MMAP
	fieldNone           uint32 = 1 // V4L2_FIELD_NONE

	capVideoCapture uint32 = 0x00000001 // V4L2_CAP_VIDEO_CAPTURE
	capStreaming    uint32 = 0x04000000 // V4L2_CAP_STREAMING

	frmsizeTypeDiscrete uint32 = 1 // V4L2_FRMSIZE_TYPE_DISCRETE
	frmivalTypeDiscrete uint32 = 1 // V4L2_FRMIVAL_TYPE_DISCRETE
)

// ioctl request codes, computed once via the encoding helpers above
// rather than as magic numbers.
var (
	vidiocQueryCap         = ioEncR('V', 0, unsafe.Sizeof(v4l2Capability{}))
	vidiocEnumFmt          = ioEncRW('V', 2, unsafe.Sizeof(v4l2Fmtdesc{}))
	vidiocSFmt             = ioEncRW('V', 5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqBufs          = ioEncRW('V', 8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQueryBuf         = ioEncRW('V', 9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQBuf             = ioEncRW('V', 15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDQBuf            = ioEncRW('V', 17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamOn         = ioEncW('V', 18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff        = ioEncW('V', 19, unsafe.Sizeof(int32(0)))
	vidiocSParm            = ioEncRW('V', 22, unsafe.Sizeof(v4l2Streamparm{}))
	vidiocEnumFramesizes   = ioEncRW('V', 74, unsafe.Sizeof(v4l2Frmsizeenum{}))
	vidiocEnumFrameIntervs = ioEncRW('V', 75, unsafe.Sizeof(v4l2Frmivalenum{}))
)

type v4l2Capability struct {
	Driver       [16]byte
	Card         [32]byte
	BusInfo      [32]byte
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// v4l2Format mirrors struct v4l2_format; fmt is the union, large enough
// to hold v4l2PixFormat at offset 0. The kernel union contains pointers,
// so it starts 8-byte aligned after Type.
type v4l2Format struct {
	Type uint32
	_    [4]byte
	fmt  [200]byte
}

func (f *v4l2Format) pix() *v4l2PixFormat {
	return (*v4l2PixFormat)(unsafe.Pointer(&f.fmt[0]))
}

type v4l2Fract struct {
	Numerator   uint32
	Denominator uint32
}

type v4l2CaptureParm struct {
	Capability   uint32
	CaptureMode  uint32
	Timeperframe v4l2Fract
	ExtendedMode uint32
	ReadBuffers  uint32
	Reserved     [4]uint32
}

// v4l2Streamparm mirrors struct v4l2_streamparm.
type v4l2Streamparm struct {
	Type uint32
	parm [200]byte
}

func (s *v4l2Streamparm) capture() *v4l2CaptureParm {
	return (*v4l2CaptureParm)(unsafe.Pointer(&s.parm[0]))
}

type v4l2RequestBuffers struct {
	Count        uint32
	Type         uint32
	Memory       uint32
	Capabilities uint32
	Reserved     [1]uint32
}

type v4l2Timeval struct {
	Sec  int64
	Usec int64
}

type v4l2Timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	Userbits [4]uint8
}

// v4l2Buffer mirrors struct v4l2_buffer; m is the union holding either
// an mmap offset, a user pointer, a multiplanar array, or a dma-buf fd.
type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	Timestamp v4l2Timeval
	Timecode  v4l2Timecode
	Sequence  uint32
	Memory    uint32
	m         [8]byte
	Length    uint32
	Reserved2 uint32
	RequestFD int32
}

func (b *v4l2Buffer) mmapOffset() uint32 {
	return *(*uint32)(unsafe.Pointer(&b.m[0]))
}

type v4l2Fmtdesc struct {
	Index       uint32
	Type        uint32
	Flags       uint32
	Description [32]byte
	PixelFormat uint32
	Reserved    [4]uint32
}

type v4l2FrmsizeDiscrete struct {
	Width  uint32
	Height uint32
}

type v4l2Frmsizeenum struct {
	Index       uint32
	PixelFormat uint32
	Type        uint32
	discrete    v4l2FrmsizeDiscrete
	pad         [16]byte // rest of the 24-byte stepwise/continuous variants, unused here
	Reserved    [2]uint32
}

type v4l2FrmivalDiscrete struct {
	Numerator   uint32
	Denominator uint32
}

type v4l2Frmivalenum struct {
	Index       uint32
	PixelFormat uint32
	Width       uint32
	Height      uint32
	Type        uint32
	discrete    v4l2FrmivalDiscrete
	pad         [16]byte
	Reserved    [2]uint32
}
