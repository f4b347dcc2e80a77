package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unsafe"
)

// FrameSize is one discrete resolution a device advertises for MJPEG
// capture, along with the frame rates available at that resolution.
type FrameSize struct {
	Width, Height uint32
	FPS           []int
}

// DeviceInfo describes one /dev/video* node's MJPEG capabilities.
type DeviceInfo struct {
	Path       string
	HasMJPEG   bool
	FrameSizes []FrameSize
}

// ListDevices enumerates /dev/video* nodes, reporting MJPEG support and
// the discrete resolutions/frame rates each advertises. Devices that
// cannot be opened are silently skipped, matching the original tool's
// best-effort enumeration.
func ListDevices() ([]DeviceInfo, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, fmt.Errorf("capture: read /dev: %w", err)
	}

	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "video") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []DeviceInfo
	for _, name := range names {
		path := filepath.Join("/dev", name)
		info, ok := probeDevice(path)
		if ok {
			out = append(out, info)
		}
	}
	return out, nil
}

func probeDevice(path string) (DeviceInfo, bool) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return DeviceInfo{}, false
	}
	defer f.Close()
	fd := int(f.Fd())

	var caps v4l2Capability
	if err := ioctlRetry(fd, vidiocQueryCap, unsafe.Pointer(&caps)); err != nil {
		return DeviceInfo{}, false
	}

	info := DeviceInfo{Path: path}

	var fmtdesc v4l2Fmtdesc
	fmtdesc.Type = bufTypeVideoCapture
	for {
		if err := ioctlRetry(fd, vidiocEnumFmt, unsafe.Pointer(&fmtdesc)); err != nil {
			break
		}
		if fmtdesc.PixelFormat == PixFmtMJPEG {
			info.HasMJPEG = true
			break
		}
		fmtdesc.Index++
	}
	if !info.HasMJPEG {
		return info, true
	}

	var frmsize v4l2Frmsizeenum
	frmsize.PixelFormat = PixFmtMJPEG
	for {
		if err := ioctlRetry(fd, vidiocEnumFramesizes, unsafe.Pointer(&frmsize)); err != nil {
			break
		}
		if frmsize.Type == frmsizeTypeDiscrete {
			fs := FrameSize{Width: frmsize.discrete.Width, Height: frmsize.discrete.Height}
			fs.FPS = enumerateFrameRates(fd, fs.Width, fs.Height)
			info.FrameSizes = append(info.FrameSizes, fs)
		}
		frmsize.Index++
	}
	return info, true
}

func enumerateFrameRates(fd int, width, height uint32) []int {
	var fps []int
	var frmival v4l2Frmivalenum
	frmival.PixelFormat = PixFmtMJPEG
	frmival.Width = width
	frmival.Height = height
	for {
		if err := ioctlRetry(fd, vidiocEnumFrameIntervs, unsafe.Pointer(&frmival)); err != nil {
			break
		}
		if frmival.Type == frmivalTypeDiscrete && frmival.discrete.Numerator > 0 {
			fps = append(fps, int(frmival.discrete.Denominator/frmival.discrete.Numerator))
		}
		frmival.Index++
	}
	return fps
}
