// Package transport provides message channels for shadow sessions: an
// in-memory pipe, a websocket client or server connection, and a WebRTC
// data channel. Every channel delivers messages in send order.
package transport

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Send after the channel was closed locally.
var ErrClosed = errors.New("transport: closed")

// inbox is an unbounded ordered message queue. Once closed, Receive drains
// what is left and then returns io.EOF.
type inbox struct {
	mu     sync.Mutex
	msgs   [][]byte
	closed bool
	err    error
	ready  chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (b *inbox) push(msg []byte) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.msgs = append(b.msgs, msg)
	b.mu.Unlock()
	b.signal()
	return true
}

func (b *inbox) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// close ends the queue. A nil err reads as io.EOF.
func (b *inbox) close(err error) {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		b.err = err
	}
	b.mu.Unlock()
	b.signal()
}

func (b *inbox) receive(ctx context.Context) ([]byte, error) {
	for {
		b.mu.Lock()
		if len(b.msgs) > 0 {
			msg := b.msgs[0]
			b.msgs[0] = nil
			b.msgs = b.msgs[1:]
			more := len(b.msgs) > 0 || b.closed
			b.mu.Unlock()
			if more {
				b.signal()
			}
			return msg, nil
		}
		if b.closed {
			err := b.err
			b.mu.Unlock()
			b.signal()
			if err == nil {
				err = io.EOF
			}
			return nil, err
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.ready:
		}
	}
}
