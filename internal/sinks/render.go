package sinks

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	draw2 "golang.org/x/image/draw"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"rovmjpeg/internal/preview"
	"rovmjpeg/internal/rlog"
	"rovmjpeg/internal/telemetry"
)

// RenderSink decodes each incoming JPEG, composes it onto a canvas
// sized windowWidth x windowHeight (preserving aspect ratio, letterboxed
// and centered, the way a resizable display window would), and serves
// the composed stream over HTTP as multipart/x-mixed-replace for
// preview. There is no native display surface in this environment; this
// is the windowed renderer's closest equivalent and implements the same
// LivenessGate contract the original SDL-backed renderer exposed via
// its open/closed window state.
type RenderSink struct {
	windowW, windowH int
	quality          int

	hub *preview.Hub
	srv *http.Server

	closed atomic.Bool
}

// NewRenderSink starts an HTTP preview server at listenAddr (e.g.
// ":8081") serving the composed stream at /stream, a live client/frame
// count at /stats, and an embedding page at /.
func NewRenderSink(listenAddr string, windowW, windowH int) (*RenderSink, error) {
	if windowW <= 0 || windowH <= 0 {
		return nil, fmt.Errorf("sinks: invalid window size %dx%d", windowW, windowH)
	}

	r := &RenderSink{
		windowW: windowW,
		windowH: windowH,
		quality: 80,
		hub:     preview.NewHub(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", r.hub.ServeStream)
	mux.HandleFunc("/stats", r.hub.ServeStats)
	mux.HandleFunc("/", preview.ServeIndex)

	ln, err := newListener(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("sinks: render preview listen: %w", err)
	}

	r.srv = &http.Server{Handler: mux}
	go func() {
		if err := r.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			rlog.L().Warn("render preview server stopped", "error", err)
			r.closed.Store(true)
		}
	}()

	return r, nil
}

// Accept decodes, composes, and re-encodes the frame, broadcasting it
// to any connected preview clients. Decode or encode failures are
// logged and counted, never propagated.
func (r *RenderSink) Accept(_ context.Context, timestampUs uint64, frame []byte) {
	if r.closed.Load() {
		return
	}

	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		telemetry.IncSinkError(telemetry.ErrRenderIO)
		rlog.L().Warn("render decode failed", "error", err)
		return
	}

	canvas := composeLetterboxed(img, r.windowW, r.windowH)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: r.quality}); err != nil {
		telemetry.IncSinkError(telemetry.ErrRenderIO)
		rlog.L().Warn("render encode failed", "error", err)
		return
	}

	r.hub.Broadcast(buf.Bytes())
}

// IsOpen reports whether the preview surface is still accepting
// frames — false once the HTTP server has stopped, mirroring a closed
// display window.
func (r *RenderSink) IsOpen() bool {
	return !r.closed.Load()
}

func (r *RenderSink) Close() error {
	r.closed.Store(true)
	if r.srv != nil {
		return r.srv.Close()
	}
	return nil
}

// composeLetterboxed scales img to fit within w x h preserving aspect
// ratio, centers it on a black canvas, and overlays a timestamp label
// in the corner.
func composeLetterboxed(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)

	sw, sh := img.Bounds().Dx(), img.Bounds().Dy()
	if sw == 0 || sh == 0 {
		return dst
	}
	scale := float64(w) / float64(sw)
	if alt := float64(h) / float64(sh); alt < scale {
		scale = alt
	}
	nw, nh := int(float64(sw)*scale), int(float64(sh)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	offX, offY := (w-nw)/2, (h-nh)/2

	scaled := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw2.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw2.Over, nil)
	draw.Draw(dst, image.Rect(offX, offY, offX+nw, offY+nh), scaled, image.Point{}, draw.Src)

	drawLabel(dst, 8, h-8, time.Now().Format("15:04:05.000"))
	return dst
}

func drawLabel(img *image.RGBA, x, y int, label string) {
	d := &xfont.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(label)
}

func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
