// Command rovmjpeg drives one producer (a V4L2 capture device or the
// fragmented-UDP wire receiver) into one or more consumers (re-send,
// record, framed pipe, or a composed preview).
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"rovmjpeg/internal/capture"
	"rovmjpeg/internal/pipeline"
	"rovmjpeg/internal/rlog"
	"rovmjpeg/internal/sinks"
	"rovmjpeg/internal/telemetry"
	"rovmjpeg/internal/wire"
)

const usage = `usage:
  rovmjpeg help
  rovmjpeg devices
  rovmjpeg [--profile] capture DEVICE WIDTH HEIGHT FPS_NUM FPS_DEN <outputs...>
  rovmjpeg [--profile] receive IP PORT PACKET_LEN JPEG_LEN WIDTH HEIGHT FPS_NUM FPS_DEN <outputs...>

outputs (1-8, in delivery order):
  send LOCAL_IP LOCAL_PORT REMOTE_IP REMOTE_PORT PACKET_LEN JPEG_LEN ROUNDS
  record FILENAME
  pipe FD CHUNK_SIZE
  render WINDOW_WIDTH WINDOW_HEIGHT
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}

	if metricsAddr := os.Getenv("ROVMJPEG_METRICS_ADDR"); metricsAddr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		telemetry.ServeHTTP(ctx, metricsAddr)
	}
	rlog.Set(rlog.New(os.Getenv("ROVMJPEG_LOG_FORMAT"), rlog.LevelFromString(os.Getenv("ROVMJPEG_LOG_LEVEL")), os.Stderr))

	profile := false
	if args[0] == "--profile" {
		profile = true
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}

	switch args[0] {
	case "help", "-h", "--help":
		fmt.Print(usage)
		return 0
	case "devices":
		return runDevices()
	case "capture":
		return runPipeline(args[1:], profile, newCaptureProducer)
	case "receive":
		return runPipeline(args[1:], profile, newReceiveProducer)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usage)
		return 1
	}
}

func runDevices() int {
	devices, err := capture.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "devices: %v\n", err)
		return 1
	}
	for _, d := range devices {
		fmt.Printf("%s:\n", d.Path)
		if !d.HasMJPEG {
			fmt.Println("  No MJPEG support")
			continue
		}
		for _, fs := range d.FrameSizes {
			fmt.Printf("  %dx%d:", fs.Width, fs.Height)
			for _, fps := range fs.FPS {
				fmt.Printf(" %dfps", fps)
			}
			fmt.Println()
		}
	}
	return 0
}

// roleBuilder parses the role-specific positional arguments and returns
// a producer constructor plus the index in args where outputs begin.
type roleBuilder func(args []string) (func() (pipeline.Producer, error), int, error)

func runPipeline(args []string, profileEnabled bool, role roleBuilder) int {
	newProducer, outputsStart, err := role(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, usage)
		return 1
	}

	outputCtors, err := parseOutputs(args[outputsStart:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, usage)
		return 1
	}

	rt, err := pipeline.Build(newProducer, outputCtors, profileEnabled)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	if err := rt.Run(context.Background()); err != nil {
		rlog.L().Error("pipeline stopped", "error", err)
		return 1
	}
	return 0
}

func newCaptureProducer(args []string) (func() (pipeline.Producer, error), int, error) {
	if len(args) < 5 {
		return nil, 0, fmt.Errorf("capture: expected DEVICE WIDTH HEIGHT FPS_NUM FPS_DEN")
	}
	device := args[0]
	width, err1 := parseUint(args[1], "WIDTH")
	height, err2 := parseUint(args[2], "HEIGHT")
	fpsNum, err3 := parseUint(args[3], "FPS_NUM")
	fpsDen, err4 := parseUint(args[4], "FPS_DEN")
	if err := firstErr(err1, err2, err3, err4); err != nil {
		return nil, 0, err
	}

	return func() (pipeline.Producer, error) {
		c, err := capture.New(device, width, height, fpsNum, fpsDen)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, 5, nil
}

func newReceiveProducer(args []string) (func() (pipeline.Producer, error), int, error) {
	if len(args) < 8 {
		return nil, 0, fmt.Errorf("receive: expected IP PORT PACKET_LEN JPEG_LEN WIDTH HEIGHT FPS_NUM FPS_DEN")
	}
	ip := args[0]
	port, err1 := parseInt(args[1], "PORT")
	packetLen, err2 := parseInt(args[2], "PACKET_LEN")
	jpegLen, err3 := parseInt(args[3], "JPEG_LEN")
	if err := firstErr(err1, err2, err3); err != nil {
		return nil, 0, err
	}
	// WIDTH HEIGHT FPS_NUM FPS_DEN (args[4:8]) are validated but not
	// used: the wire receiver is resolution-agnostic and only needs
	// packet/frame size bounds, and no output is given the geometry.
	for i, name := range []string{"WIDTH", "HEIGHT", "FPS_NUM", "FPS_DEN"} {
		if _, err := parseUint(args[4+i], name); err != nil {
			return nil, 0, err
		}
	}

	return func() (pipeline.Producer, error) {
		a, err := newReceiveAdapter(ip, port, packetLen, jpegLen)
		if err != nil {
			return nil, err
		}
		return a, nil
	}, 8, nil
}

// receiveAdapter adapts wire.Receiver (whose GetFrame borrow model
// ignores ctx) to the pipeline.Producer interface.
type receiveAdapter struct {
	rx *wire.Receiver
}

func newReceiveAdapter(ip string, port, packetLen, jpegLen int) (*receiveAdapter, error) {
	rx, err := wire.NewReceiver(ip, port, packetLen, jpegLen)
	if err != nil {
		return nil, err
	}
	return &receiveAdapter{rx: rx}, nil
}

func (r *receiveAdapter) Next(ctx context.Context) (uint64, []byte, bool, error) {
	frame, ts, err := r.rx.GetFrame()
	if err != nil {
		if err == wire.ErrClosed {
			return 0, nil, false, nil
		}
		return 0, nil, false, err
	}
	return ts, frame, true, nil
}

func (r *receiveAdapter) ReleaseIfNeeded() {}

func (r *receiveAdapter) Close() error { return r.rx.Close() }

func parseOutputs(args []string) ([]func() (pipeline.Consumer, error), error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one output is required")
	}

	var ctors []func() (pipeline.Consumer, error)
	for len(args) > 0 {
		kind := args[0]
		switch kind {
		case "send":
			if len(args) < 8 {
				return nil, fmt.Errorf("send: expected LOCAL_IP LOCAL_PORT REMOTE_IP REMOTE_PORT PACKET_LEN JPEG_LEN ROUNDS")
			}
			localIP, localPort, remoteIP, remotePort := args[1], args[2], args[3], args[4]
			packetLen, e1 := parseInt(args[5], "PACKET_LEN")
			jpegLen, e2 := parseInt(args[6], "JPEG_LEN")
			rounds, e3 := parseInt(args[7], "ROUNDS")
			localPortN, e4 := parseInt(localPort, "LOCAL_PORT")
			remotePortN, e5 := parseInt(remotePort, "REMOTE_PORT")
			if err := firstErr(e1, e2, e3, e4, e5); err != nil {
				return nil, err
			}
			ctors = append(ctors, func() (pipeline.Consumer, error) {
				tx, err := wire.NewSender(localIP, localPortN, remoteIP, remotePortN, packetLen, jpegLen)
				if err != nil {
					return nil, err
				}
				return sinks.NewSendSink(tx, rounds), nil
			})
			args = args[8:]

		case "record":
			if len(args) < 2 {
				return nil, fmt.Errorf("record: expected FILENAME")
			}
			filename := args[1]
			ctors = append(ctors, func() (pipeline.Consumer, error) {
				return sinks.NewRecordSink(filename, 0, 0, 0, 0)
			})
			args = args[2:]

		case "pipe":
			if len(args) < 3 {
				return nil, fmt.Errorf("pipe: expected FD CHUNK_SIZE")
			}
			fd, e1 := parseInt(args[1], "FD")
			chunkSize, e2 := parseInt(args[2], "CHUNK_SIZE")
			if err := firstErr(e1, e2); err != nil {
				return nil, err
			}
			ctors = append(ctors, func() (pipeline.Consumer, error) {
				return sinks.NewPipeSink(fd, chunkSize)
			})
			args = args[3:]

		case "render":
			if len(args) < 3 {
				return nil, fmt.Errorf("render: expected WINDOW_WIDTH WINDOW_HEIGHT")
			}
			width, e1 := parseInt(args[1], "WINDOW_WIDTH")
			height, e2 := parseInt(args[2], "WINDOW_HEIGHT")
			if err := firstErr(e1, e2); err != nil {
				return nil, err
			}
			ctors = append(ctors, func() (pipeline.Consumer, error) {
				addr := os.Getenv("ROVMJPEG_RENDER_ADDR")
				if addr == "" {
					addr = ":8081"
				}
				return sinks.NewRenderSink(addr, width, height)
			})
			args = args[3:]

		default:
			return nil, fmt.Errorf("unknown output %q", kind)
		}
	}

	if len(ctors) > pipeline.MaxConsumers {
		return nil, fmt.Errorf("%d outputs exceeds maximum of %d", len(ctors), pipeline.MaxConsumers)
	}
	return ctors, nil
}

func parseUint(s, name string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return uint32(v), nil
}

func parseInt(s, name string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
