// Command rovmjpeg-preview runs a wire receiver in-process and
// re-exposes the reassembled stream over HTTP as
// multipart/x-mixed-replace, built on the shared internal/preview hub
// that internal/sinks.RenderSink also broadcasts through.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"rovmjpeg/internal/preview"
	"rovmjpeg/internal/rlog"
	"rovmjpeg/internal/wire"
)

func main() {
	ip := flag.String("ip", "0.0.0.0", "wire protocol listen IP")
	port := flag.Int("port", 9000, "wire protocol listen port")
	packetLen := flag.Int("packet-len", 1400, "max UDP packet size, must match the sender")
	jpegLen := flag.Int("jpeg-len", 500000, "max frame size, must match the sender")
	httpAddr := flag.String("http", ":8080", "http listen address")
	open := flag.Bool("open", false, "open the preview page in the platform browser once the server answers")
	flag.Parse()

	l := rlog.L()

	rx, err := wire.NewReceiver(*ip, *port, *packetLen, *jpegLen)
	if err != nil {
		l.Error("receiver setup failed", "error", err)
		os.Exit(1)
	}
	defer rx.Close()

	h := preview.NewHub()
	var broadcasted uint64

	go func() {
		for {
			frame, _, err := rx.GetFrame()
			if err != nil {
				if err == wire.ErrClosed {
					return
				}
				l.Warn("receive failed", "error", err)
				time.Sleep(500 * time.Millisecond)
				continue
			}
			h.Broadcast(frame)
			cnt := atomic.AddUint64(&broadcasted, 1)
			if cnt%30 == 0 {
				l.Info("broadcasted frames", "count", cnt)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			l.Info("preview hub", "clients", h.ClientCount())
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", h.ServeStream)
	mux.HandleFunc("/stats", h.ServeStats)
	mux.HandleFunc("/", preview.ServeIndex)

	srv := &http.Server{Addr: *httpAddr, Handler: mux}
	go func() {
		l.Info("preview http listening", "addr", *httpAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Error("preview http server error", "error", err)
		}
	}()

	if *open {
		go openWhenReady(*httpAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	l.Info("shutting down preview server")
	_ = srv.Shutdown(context.Background())
}

// openWhenReady polls the preview root page until it answers, then
// shells out to the platform's browser opener. The HTTP server starting
// its goroutine doesn't guarantee the listener already accepts
// connections, so this probes liveness rather than opening a browser
// against a connection that would be refused.
func openWhenReady(httpAddr string) {
	url := previewURL(httpAddr)
	client := &http.Client{Timeout: 2 * time.Second}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if err := openBrowser(url); err != nil {
				rlog.L().Warn("open browser failed", "error", err, "url", url)
			}
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	rlog.L().Warn("preview server never answered, not opening browser", "url", url)
}

func previewURL(httpAddr string) string {
	host := httpAddr
	if len(host) > 0 && host[0] == ':' {
		host = "localhost" + host
	}
	return fmt.Sprintf("http://%s/", host)
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	default:
		return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
	return cmd.Start()
}
