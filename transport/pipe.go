package transport

import (
	"context"
	"slices"
	"sync"
)

// PipeEnd is one side of an in-memory channel created by Pipe.
type PipeEnd struct {
	in   *inbox
	peer *PipeEnd

	once sync.Once
}

// Pipe returns two connected ends. Messages sent on one end are received on
// the other in order. Closing either end makes both ends' Receive return
// io.EOF once drained.
func Pipe() (a, b *PipeEnd) {
	a = &PipeEnd{in: newInbox()}
	b = &PipeEnd{in: newInbox()}
	a.peer, b.peer = b, a
	return a, b
}

// Send queues a copy of msg for the peer. It never blocks.
func (p *PipeEnd) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.peer.in.push(slices.Clone(msg)) {
		return ErrClosed
	}
	return nil
}

// Receive returns the next message from the peer.
func (p *PipeEnd) Receive(ctx context.Context) ([]byte, error) {
	return p.in.receive(ctx)
}

// Close closes both directions.
func (p *PipeEnd) Close() error {
	p.once.Do(func() {
		p.in.close(nil)
		p.peer.in.close(nil)
	})
	return nil
}
