package writers

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/fortunelab/fortune-gateway/internal/services/stream/contracts"

	"github.com/valyala/fasthttp"
)

// contentEvent is the payload of one token chunk on the wire.
type contentEvent struct {
	Content string `json:"content"`
}

// errorEvent is the payload of the error event written before the sentinel.
type errorEvent struct {
	Error string `json:"error"`
}

// SSEWriter encodes the internal event stream as Server-Sent Events and
// manages the connection lifecycle. Every chunk is flushed before the next
// is produced; Close writes the [DONE] sentinel exactly once, always as the
// last line.
type SSEWriter struct {
	writer     *bufio.Writer
	connState  contracts.ConnectionState
	requestID  string
	totalBytes int64
	doneSent   bool
}

// NewSSEWriter creates a new SSE stream writer
func NewSSEWriter(writer *bufio.Writer, connState contracts.ConnectionState, requestID string) *SSEWriter {
	return &SSEWriter{
		writer:    writer,
		connState: connState,
		requestID: requestID,
	}
}

// WriteContent writes a single token chunk event and flushes it.
func (w *SSEWriter) WriteContent(text string) error {
	payload, err := json.Marshal(contentEvent{Content: text})
	if err != nil {
		return contracts.NewInternalError(w.requestID, "marshal chunk failed", err)
	}
	return w.writeAndFlush(fmt.Sprintf("data: %s\n\n", payload))
}

// WriteError writes an error event. The caller still owns Close, so the
// sentinel follows the error event in all paths.
func (w *SSEWriter) WriteError(message string) error {
	payload, err := json.Marshal(errorEvent{Error: message})
	if err != nil {
		return contracts.NewInternalError(w.requestID, "marshal error event failed", err)
	}
	return w.writeAndFlush(fmt.Sprintf("event: error\ndata: %s\n\n", payload))
}

// Close writes the terminal [DONE] sentinel and flushes. Safe to call more
// than once; only the first call emits the sentinel.
func (w *SSEWriter) Close() error {
	if w.doneSent {
		return nil
	}
	w.doneSent = true

	if !w.connState.IsConnected() {
		return contracts.NewClientDisconnectError(w.requestID)
	}
	return w.writeAndFlush("data: [DONE]\n\n")
}

// TotalBytes returns total bytes written
func (w *SSEWriter) TotalBytes() int64 {
	return w.totalBytes
}

func (w *SSEWriter) writeAndFlush(data string) error {
	if !w.connState.IsConnected() {
		return contracts.NewClientDisconnectError(w.requestID)
	}

	n, err := w.writer.WriteString(data)
	if n > 0 {
		// Account for actual bytes written, even on partial write or error
		w.totalBytes += int64(n)
	}
	if err != nil {
		if contracts.IsConnectionClosed(err) {
			return contracts.NewClientDisconnectError(w.requestID)
		}
		return contracts.NewInternalError(w.requestID, "write failed", err)
	}

	if err := w.writer.Flush(); err != nil {
		if contracts.IsConnectionClosed(err) {
			return contracts.NewClientDisconnectError(w.requestID)
		}
		return contracts.NewInternalError(w.requestID, "flush failed", err)
	}

	return nil
}

// FastHTTPConnectionState wraps FastHTTP context for connection state
type FastHTTPConnectionState struct {
	ctx *fasthttp.RequestCtx
}

// NewFastHTTPConnectionState creates connection state from FastHTTP context
func NewFastHTTPConnectionState(ctx *fasthttp.RequestCtx) *FastHTTPConnectionState {
	return &FastHTTPConnectionState{ctx: ctx}
}

// IsConnected checks if client is still connected
func (c *FastHTTPConnectionState) IsConnected() bool {
	if c.ctx == nil {
		return false
	}
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

// Done returns channel that closes when client disconnects
func (c *FastHTTPConnectionState) Done() <-chan struct{} {
	if c.ctx == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.ctx.Done()
}
