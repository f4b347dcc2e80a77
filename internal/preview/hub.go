// Package preview implements the shared HTTP multipart/x-mixed-replace
// broadcast surface used by both the in-pipeline render sink and the
// standalone preview server: a client hub and the HTTP handlers around
// it, so the two binaries exercise one broadcaster instead of two.
package preview

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"rovmjpeg/internal/telemetry"
)

// Hub fans out JPEG frames to any number of connected HTTP clients. A
// client whose buffer is still full when the next frame arrives is
// skipped rather than blocking the frame source, the way the teacher's
// proxy hub did, but here the skip is counted rather than silent.
type Hub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}

	broadcast    atomic.Uint64
	backpressure atomic.Uint64
}

// NewHub returns an empty hub ready to accept clients.
func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

// Broadcast fans frame out to every connected client.
func (h *Hub) Broadcast(frame []byte) {
	h.broadcast.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- frame:
		default:
			h.backpressure.Add(1)
			telemetry.IncDrop(telemetry.DropPreviewBackpressure)
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add() chan []byte {
	ch := make(chan []byte, 2)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	telemetry.PreviewClients.Set(float64(n))
	return ch
}

func (h *Hub) remove(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	n := len(h.clients)
	h.mu.Unlock()
	telemetry.PreviewClients.Set(float64(n))
}

// ServeStream handles one multipart/x-mixed-replace client connection,
// registering it with the hub for the lifetime of the request.
func (h *Hub) ServeStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")

	ch := h.add()
	defer h.remove(ch)

	for {
		select {
		case f := <-ch:
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(f)); err != nil {
				return
			}
			if _, err := w.Write(f); err != nil {
				return
			}
			fmt.Fprint(w, "\r\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// ServeStats reports the hub's current client count and the lifetime
// broadcast/backpressure-drop totals as JSON, a concern the teacher's
// proxy hub never surfaced.
func (h *Hub) ServeStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Clients      int    `json:"clients"`
		Broadcast    uint64 `json:"frames_broadcast"`
		Backpressure uint64 `json:"frames_dropped_backpressure"`
	}{
		Clients:      h.ClientCount(),
		Broadcast:    h.broadcast.Load(),
		Backpressure: h.backpressure.Load(),
	})
}

// ServeIndex renders a minimal page embedding the /stream endpoint.
func ServeIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!doctype html>
<html><head><meta name="viewport" content="width=device-width,initial-scale=1"/>
<style>html,body{height:100%;margin:0;background:#000}
.frame{display:flex;align-items:center;justify-content:center;height:100%}
.frame img{max-width:100%;max-height:100%;object-fit:contain}</style>
</head><body><div class="frame"><img src="/stream" alt="preview"/></div></body></html>`)
}
