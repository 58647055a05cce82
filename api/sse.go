/*
sse.go - Server-Sent Events endpoint

PURPOSE:
  GET /sse/events upgrades the response into a long-lived text/event-stream
  and parks the handler until the client goes away or the bus reaps the
  subscriber. Each event is one frame:

    event: <type>
    data: {"timestamp":"...","payload":{...}}

SCOPED RESOURCE:
  The subscriber is removed on every exit path - client disconnect, server
  shutdown, or bus-side reap - so the subscriber set never leaks.
*/
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/warp/classpoints/events"
)

// sseWriteTimeout bounds how long one subscriber may stall a publish.
const sseWriteTimeout = 5 * time.Second

// sseConn adapts one response stream to events.Conn.
type sseConn struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// WriteEvent writes one frame under a write deadline and flushes. A
// backpressured client trips the deadline and is reaped by the bus.
func (c *sseConn) WriteEvent(e events.Event) error {
	data, err := e.Data()
	if err != nil {
		return err
	}
	if err := c.rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil && err != http.ErrNotSupported {
		return err
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
		return err
	}
	return c.rc.Flush()
}

// StreamEvents is the SSE endpoint.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		writeErrCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := h.Bus.Subscribe(&sseConn{w: w, rc: http.NewResponseController(w)})
	defer h.Bus.Unsubscribe(sub.ID)

	select {
	case <-r.Context().Done():
	case <-sub.Done():
	}
}
