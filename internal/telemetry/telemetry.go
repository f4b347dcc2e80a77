// Package telemetry holds the Prometheus counters/gauges this pipeline
// exposes and an optional HTTP server to scrape them from. It is purely
// additive instrumentation: nothing here changes control flow, and the
// wire layer's hot path still never logs (see internal/wire).
package telemetry

import (
	"context"
	"net/http"

	"rovmjpeg/internal/rlog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop-reason label values for SegmentsDropped (bounded cardinality).
// bad_header covers an out-of-range seg_idx/seg_count; malformed_len
// covers payload_len disagreeing with the datagram size. A datagram
// shorter than the header is dropped before parsing and is not counted.
const (
	DropBadHeader   = "bad_header"
	DropDuplicate   = "duplicate"
	DropBounds      = "bounds"
	DropMalformed   = "malformed_len"
	DropFrameSwitch = "frame_switch"
)

// DropPreviewBackpressure labels a composed preview frame skipped
// because a connected HTTP client's buffer was still full.
const DropPreviewBackpressure = "preview_backpressure"

// Sink-error label values for SinkErrors (bounded cardinality).
const (
	ErrSenderIO  = "sender_io"
	ErrRecordIO  = "record_io"
	ErrPipeIO    = "pipe_io"
	ErrRenderIO  = "render_io"
	ErrSetupFail = "setup"
)

var (
	FramesReassembled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rovmjpeg_frames_reassembled_total",
		Help: "Total frames fully reassembled by the receiver.",
	})
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rovmjpeg_frames_sent_total",
		Help: "Total frames handed to the sender for transmission.",
	})
	SegmentsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rovmjpeg_segments_dropped_total",
		Help: "Total incoming segments silently dropped, by reason.",
	}, []string{"reason"})
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rovmjpeg_sink_errors_total",
		Help: "Total sink-side errors swallowed by the pipeline runtime, by sink.",
	}, []string{"where"})
	FrameLatencyUs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rovmjpeg_frame_latency_microseconds",
		Help:    "now - frame_ts_us for each frame observed by the runtime profile.",
		Buckets: prometheus.ExponentialBuckets(500, 2, 16),
	})
	PreviewClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rovmjpeg_preview_clients",
		Help: "Number of HTTP clients currently connected to a preview stream.",
	})
)

// IncDrop increments the receiver's drop counter for reason.
func IncDrop(reason string) { SegmentsDropped.WithLabelValues(reason).Inc() }

// IncSinkError increments the sink error counter for where.
func IncSinkError(where string) { SinkErrors.WithLabelValues(where).Inc() }

// ObserveLatencyUs records one frame's end-to-end latency sample.
func ObserveLatencyUs(us uint64) { FrameLatencyUs.Observe(float64(us)) }

// ServeHTTP starts a /metrics endpoint in the background and returns the
// server so the caller can Shutdown it on exit. addr == "" disables it.
func ServeHTTP(ctx context.Context, addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		rlog.L().Info("telemetry_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rlog.L().Error("telemetry_http_error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	return srv
}
