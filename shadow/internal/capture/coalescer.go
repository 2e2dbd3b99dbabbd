// Package capture turns local interactions into outbound payloads: listener
// arming on mirrors, window and selection watchers, hover style transfer and
// the coalescer that rate-limits high-frequency payloads.
package capture

import (
	"time"

	"github.com/hazyhaar/shadow/shadow/protocol"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks on the owning session's loop.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

// Coalescable reports whether p is a latest-value-wins payload.
func Coalescable(p protocol.Payload) bool {
	switch v := p.(type) {
	case protocol.Mouse:
		return v.Subtype == protocol.MousePosition || v.Subtype == protocol.MouseMove
	case protocol.Scroll, protocol.Resize:
		return true
	}
	return false
}

type slot struct {
	payload protocol.Payload
	first   time.Time
	timer   Timer
	seq     int
}

// Coalescer forwards payloads to send. Coalescable payloads are held per
// subtype and replaced by newer ones; the hold is re-armed on every
// replacement but never exceeds maxWait from the first held payload. Any
// other payload first flushes everything held, in first-arrival order.
type Coalescer struct {
	sched   Scheduler
	delay   time.Duration
	maxWait time.Duration
	send    func(protocol.Payload)

	pending map[string]*slot
	order   []string
	closed  bool
}

// NewCoalescer creates a coalescer. A maxWait below delay is raised to delay.
func NewCoalescer(sched Scheduler, delay, maxWait time.Duration, send func(protocol.Payload)) *Coalescer {
	if maxWait < delay {
		maxWait = delay
	}
	return &Coalescer{
		sched:   sched,
		delay:   delay,
		maxWait: maxWait,
		send:    send,
		pending: make(map[string]*slot),
	}
}

// Send coalesces p when it is coalescable and emits it otherwise.
func (c *Coalescer) Send(p protocol.Payload) {
	if c.closed {
		return
	}
	if Coalescable(p) {
		c.offer(p)
		return
	}
	c.Flush()
	c.send(p)
}

// Pending returns the number of held payloads.
func (c *Coalescer) Pending() int { return len(c.pending) }

func (c *Coalescer) offer(p protocol.Payload) {
	key := p.Kind()
	now := c.sched.Now()
	s, ok := c.pending[key]
	if !ok {
		s = &slot{first: now}
		c.pending[key] = s
		c.order = append(c.order, key)
	}
	s.payload = p

	wait := c.delay
	if remaining := c.maxWait - now.Sub(s.first); remaining < wait {
		wait = remaining
	}
	if wait <= 0 {
		c.flushKey(key)
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.seq++
	seq := s.seq
	s.timer = c.sched.AfterFunc(wait, func() {
		if cur, ok := c.pending[key]; ok && cur == s && s.seq == seq {
			c.flushKey(key)
		}
	})
}

func (c *Coalescer) flushKey(key string) {
	s, ok := c.pending[key]
	if !ok {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	delete(c.pending, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.send(s.payload)
}

// Flush emits every held payload in first-arrival order.
func (c *Coalescer) Flush() {
	for len(c.order) > 0 {
		c.flushKey(c.order[0])
	}
}

// Close stops all timers and drops held payloads.
func (c *Coalescer) Close() {
	for _, s := range c.pending {
		if s.timer != nil {
			s.timer.Stop()
		}
	}
	clear(c.pending)
	c.order = nil
	c.closed = true
}
