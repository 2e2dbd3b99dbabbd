package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// DataChannel is a channel over an ordered WebRTC data channel. The data
// channel must be created with ordered delivery and no retransmit limit.
type DataChannel struct {
	dc     *webrtc.DataChannel
	binary bool
	in     *inbox
	mu     sync.Mutex
	closed bool
}

// NewDataChannel wraps dc. Binary selects binary messages for sends; both
// kinds are accepted on receive.
func NewDataChannel(dc *webrtc.DataChannel, binary bool) *DataChannel {
	d := &DataChannel{dc: dc, binary: binary, in: newInbox()}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		d.in.push(msg.Data)
	})
	dc.OnClose(func() {
		d.in.close(nil)
	})
	dc.OnError(func(err error) {
		d.in.close(fmt.Errorf("transport: data channel %s: %w", dc.Label(), err))
	})
	return d
}

// Send writes msg to the data channel.
func (d *DataChannel) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	var err error
	if d.binary {
		err = d.dc.Send(msg)
	} else {
		err = d.dc.SendText(string(msg))
	}
	if err != nil {
		return fmt.Errorf("transport: data channel send: %w", err)
	}
	return nil
}

// Receive returns the next message.
func (d *DataChannel) Receive(ctx context.Context) ([]byte, error) {
	return d.in.receive(ctx)
}

// Close closes the data channel.
func (d *DataChannel) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	d.in.close(nil)
	return d.dc.Close()
}
