package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Option configures a WebSocket.
type Option func(*wsOptions)

type wsOptions struct {
	binary     bool
	queue      int
	maxMessage int64
	header     http.Header
	logger     *slog.Logger
}

// WithBinary sends binary frames instead of text frames. Binary codecs need it.
func WithBinary(binary bool) Option {
	return func(o *wsOptions) { o.binary = binary }
}

// WithQueue sets how many outbound messages may wait for the writer.
func WithQueue(n int) Option {
	return func(o *wsOptions) {
		if n > 0 {
			o.queue = n
		}
	}
}

// WithMaxMessage bounds the size of an inbound message.
func WithMaxMessage(n int64) Option {
	return func(o *wsOptions) {
		if n > 0 {
			o.maxMessage = n
		}
	}
}

// WithHeader adds request headers to the dial handshake.
func WithHeader(h http.Header) Option {
	return func(o *wsOptions) { o.header = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *wsOptions) { o.logger = l }
}

// WebSocket is a channel over a websocket connection. One goroutine reads
// frames into an ordered queue and one goroutine owns every write, so
// messages leave in the order Send accepted them.
type WebSocket struct {
	conn   *websocket.Conn
	frame  int
	in     *inbox
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// DialWebSocket connects to a websocket endpoint such as a relay room.
func DialWebSocket(ctx context.Context, url string, opts ...Option) (*WebSocket, error) {
	o := buildOptions(opts)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, o.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return newWebSocket(conn, o), nil
}

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn, opts ...Option) *WebSocket {
	return newWebSocket(conn, buildOptions(opts))
}

func buildOptions(opts []Option) wsOptions {
	o := wsOptions{queue: 256, maxMessage: 16 << 20}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func newWebSocket(conn *websocket.Conn, o wsOptions) *WebSocket {
	w := &WebSocket{
		conn:   conn,
		frame:  websocket.TextMessage,
		in:     newInbox(),
		send:   make(chan []byte, o.queue),
		done:   make(chan struct{}),
		logger: o.logger,
	}
	if o.binary {
		w.frame = websocket.BinaryMessage
	}
	conn.SetReadLimit(o.maxMessage)
	go w.readLoop()
	go w.writeLoop()
	return w
}

// Send queues msg for the writer. It blocks while the queue is full.
func (w *WebSocket) Send(ctx context.Context, msg []byte) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.send <- msg:
		return nil
	case <-w.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next inbound message. It returns io.EOF after a
// normal close by either side.
func (w *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	return w.in.receive(ctx)
}

// Close sends a close frame and releases the connection.
func (w *WebSocket) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = w.conn.Close()
		w.in.close(nil)
	})
	return err
}

func (w *WebSocket) readLoop() {
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || isClosing(w.done) {
				w.in.close(nil)
			} else {
				w.logger.Debug("transport: websocket read", "error", err)
				w.in.close(fmt.Errorf("transport: read: %w", err))
			}
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		w.in.push(data)
	}
}

func (w *WebSocket) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case msg := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(w.frame, msg); err != nil {
				w.fail(err)
				return
			}
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				w.fail(err)
				return
			}
		}
	}
}

func (w *WebSocket) fail(err error) {
	if errors.Is(err, websocket.ErrCloseSent) || isClosing(w.done) {
		return
	}
	w.logger.Warn("transport: websocket write", "error", err)
	w.in.close(fmt.Errorf("transport: write: %w", err))
	w.conn.Close()
}

func isClosing(done chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}
