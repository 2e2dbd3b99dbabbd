package capture

import (
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/hazyhaar/shadow/shadow/protocol"
)

// loopScheduler queues timer callbacks the way a session loop would and runs
// them when the test advances the clock.
type loopScheduler struct {
	clk   *testingclock.FakeClock
	queue []func()
}

func newLoopScheduler() *loopScheduler {
	return &loopScheduler{clk: testingclock.NewFakeClock(time.Unix(1700000000, 0))}
}

func (l *loopScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return l.clk.AfterFunc(d, func() { l.queue = append(l.queue, fn) })
}

func (l *loopScheduler) Now() time.Time { return l.clk.Now() }

func (l *loopScheduler) advance(d time.Duration) {
	l.clk.Step(d)
	for len(l.queue) > 0 {
		fn := l.queue[0]
		l.queue = l.queue[1:]
		fn()
	}
}

type collector struct{ out []protocol.Payload }

func (c *collector) Send(p protocol.Payload) { c.out = append(c.out, p) }

const (
	delay   = 30 * time.Millisecond
	maxWait = 120 * time.Millisecond
)

func TestCoalescerLatestWins(t *testing.T) {
	sched := newLoopScheduler()
	sink := &collector{}
	c := NewCoalescer(sched, delay, maxWait, sink.Send)

	c.Send(protocol.Scroll{Y: 10})
	sched.advance(20 * time.Millisecond)
	c.Send(protocol.Scroll{Y: 20})
	sched.advance(29 * time.Millisecond)
	if len(sink.out) != 0 {
		t.Fatalf("flushed early: %+v", sink.out)
	}
	sched.advance(time.Millisecond)
	if len(sink.out) != 1 {
		t.Fatalf("sends: got %d, want 1", len(sink.out))
	}
	if got := sink.out[0].(protocol.Scroll).Y; got != 20 {
		t.Errorf("Y: got %v, want 20", got)
	}
}

func TestCoalescerMaxWait(t *testing.T) {
	sched := newLoopScheduler()
	sink := &collector{}
	c := NewCoalescer(sched, delay, maxWait, sink.Send)

	for i := 0; i < 6; i++ {
		c.Send(protocol.Mouse{Subtype: protocol.MousePosition, ClientX: float64(i)})
		sched.advance(20 * time.Millisecond)
	}
	if len(sink.out) != 1 {
		t.Fatalf("sends after 120ms of continuous input: got %d, want 1", len(sink.out))
	}
	if got := sink.out[0].(protocol.Mouse).ClientX; got != 5 {
		t.Errorf("ClientX: got %v, want 5", got)
	}
}

func TestCoalescerFlushesBeforeOthers(t *testing.T) {
	sched := newLoopScheduler()
	sink := &collector{}
	c := NewCoalescer(sched, delay, maxWait, sink.Send)

	c.Send(protocol.Scroll{Y: 1})
	c.Send(protocol.Mouse{Subtype: protocol.MousePosition, ClientX: 2})
	c.Send(protocol.Mouse{Subtype: protocol.MouseClick, ID: protocol.Ref(3)})

	if len(sink.out) != 3 {
		t.Fatalf("sends: got %d, want 3", len(sink.out))
	}
	want := []string{"scroll", "position", "click"}
	for i, p := range sink.out {
		if p.Kind() != want[i] {
			t.Errorf("send[%d]: got %s, want %s", i, p.Kind(), want[i])
		}
	}
	if c.Pending() != 0 {
		t.Errorf("pending: got %d, want 0", c.Pending())
	}

	sched.advance(time.Second)
	if len(sink.out) != 3 {
		t.Errorf("stale timer fired: %d sends", len(sink.out))
	}
}

func TestCoalescerKeysBySubtype(t *testing.T) {
	sched := newLoopScheduler()
	sink := &collector{}
	c := NewCoalescer(sched, delay, maxWait, sink.Send)

	c.Send(protocol.Mouse{Subtype: protocol.MousePosition})
	c.Send(protocol.Mouse{Subtype: protocol.MouseMove, ID: protocol.Ref(1)})
	c.Send(protocol.Resize{Width: 10, Height: 10})
	sched.advance(delay)
	if len(sink.out) != 3 {
		t.Errorf("sends: got %d, want 3", len(sink.out))
	}
}

func TestCoalescerClose(t *testing.T) {
	sched := newLoopScheduler()
	sink := &collector{}
	c := NewCoalescer(sched, delay, maxWait, sink.Send)

	c.Send(protocol.Scroll{Y: 1})
	c.Close()
	sched.advance(time.Second)
	c.Send(protocol.Mouse{Subtype: protocol.MouseClick})
	if len(sink.out) != 0 {
		t.Errorf("sends after close: %+v", sink.out)
	}
}
