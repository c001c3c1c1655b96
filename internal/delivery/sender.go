package delivery

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/usebrk/beka-widget/internal/message"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("delivery: streaming not supported")

// Transport names a live delivery transport.
type Transport string

const (
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "ws"
)

// Sender writes frames to one connected client. A Sender is only used from
// the goroutine running its Session.
type Sender interface {
	Send(msg message.Message) error
	Heartbeat() error
}

// SSESender writes server-sent events.
type SSESender struct {
	writer  *bufio.Writer
	flusher http.Flusher
}

// NewSSESender prepares w for an event stream and writes the response header.
func NewSSESender(w http.ResponseWriter) (*SSESender, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSESender{writer: bufio.NewWriter(w), flusher: flusher}, nil
}

// Send writes msg as one `data:` event.
func (s *SSESender) Send(msg message.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.write(fmt.Sprintf("data: %s\n\n", data))
}

// Heartbeat writes an SSE comment frame.
func (s *SSESender) Heartbeat() error {
	return s.write(": heartbeat\n\n")
}

func (s *SSESender) write(frame string) error {
	if _, err := s.writer.WriteString(frame); err != nil {
		return err
	}
	if err := s.writer.Flush(); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

const (
	wsWriteWait    = 10 * time.Second
	wsMaxReadBytes = 4 << 10
)

// WSSender writes canonical messages as JSON text frames.
type WSSender struct {
	conn *websocket.Conn
}

// NewWSSender wraps an upgraded connection.
func NewWSSender(conn *websocket.Conn) *WSSender {
	return &WSSender{conn: conn}
}

// Send writes msg as a JSON text frame.
func (s *WSSender) Send(msg message.Message) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

// Heartbeat writes a ping control frame.
func (s *WSSender) Heartbeat() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// Watch returns a context cancelled once the client goes away. The client
// is not expected to send anything; inbound frames are discarded.
func (s *WSSender) Watch(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	s.conn.SetReadLimit(wsMaxReadBytes)
	go func() {
		defer cancel()
		for {
			if _, _, err := s.conn.NextReader(); err != nil {
				return
			}
		}
	}()
	return ctx
}

// Close sends a normal-closure frame and closes the connection.
func (s *WSSender) Close() error {
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait),
	)
	return s.conn.Close()
}
