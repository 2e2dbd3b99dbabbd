package capture

import (
	"testing"
	"time"

	"github.com/hazyhaar/shadow/dom"
	"github.com/hazyhaar/shadow/shadow/internal/guard"
	"github.com/hazyhaar/shadow/shadow/internal/idmap"
	"github.com/hazyhaar/shadow/shadow/protocol"
)

type setup struct {
	doc   *dom.Document
	ids   *idmap.Map
	sink  *collector
	cap   *Capture
	sel   *guard.Guard
	sched *loopScheduler
}

func newSetup(t *testing.T, body string) *setup {
	t.Helper()
	d, err := dom.ParseString("<html><head></head><body>"+body+"</body></html>", "")
	if err != nil {
		t.Fatal(err)
	}
	s := &setup{doc: d, ids: idmap.New(), sink: &collector{}, sched: newLoopScheduler()}
	var next protocol.NodeID
	d.Node().Walk(func(n *dom.Node) bool {
		s.ids.Set(next, n)
		next++
		return true
	})
	s.sel = guard.New(s.sched.clk, 200*time.Millisecond)
	s.cap = New(Config{Doc: d, IDs: s.ids, Out: s.sink, Selection: s.sel, Scroll: guard.New(s.sched.clk, 200*time.Millisecond)})
	return s
}

func TestArmForwardsInnermostOnce(t *testing.T) {
	s := newSetup(t, `<a href="/next"><span>go</span></a>`)
	link := s.doc.Body().Children()[0]
	span := link.Children()[0]
	s.cap.Arm(link, []string{"click", "mouseover", "submit"})
	s.cap.Arm(span, []string{"click"})

	s.doc.Dispatch(span, &dom.Event{Kind: dom.EventClick, Trusted: true, ClientX: 3, ClientY: 4, Shift: true})

	if len(s.sink.out) != 1 {
		t.Fatalf("sends: got %d, want 1", len(s.sink.out))
	}
	m := s.sink.out[0].(protocol.Mouse)
	spanID, _ := s.ids.ID(span)
	if m.Subtype != protocol.MouseClick || *m.ID != spanID || m.ClientX != 3 || !m.Shift {
		t.Errorf("got %+v", m)
	}
	if s.doc.URL() != "" {
		t.Errorf("mirror navigated to %q", s.doc.URL())
	}
}

func TestArmIgnoresSynthetic(t *testing.T) {
	s := newSetup(t, `<button>b</button>`)
	btn := s.doc.Body().Children()[0]
	s.cap.Arm(btn, []string{"click"})

	s.doc.Dispatch(btn, &dom.Event{Kind: dom.EventClick, Synthetic: true})
	if len(s.sink.out) != 0 {
		t.Errorf("synthetic event captured: %+v", s.sink.out)
	}
}

func TestArmInputCarriesValue(t *testing.T) {
	s := newSetup(t, `<input name="q">`)
	in := s.doc.Body().Children()[0]
	s.cap.Arm(in, []string{"input", "keyup"})

	in.SetValue("hello")
	s.doc.Dispatch(in, &dom.Event{Kind: dom.EventKeyUp, Trusted: true, Code: "KeyO", KeyCode: 79})

	if len(s.sink.out) != 1 {
		t.Fatalf("sends: got %d, want 1", len(s.sink.out))
	}
	p := s.sink.out[0].(protocol.Input)
	if p.Subtype != protocol.InputKeyUp || p.Content != "hello" || p.KeyCode != 79 {
		t.Errorf("got %+v", p)
	}

	s.cap.Disarm()
	s.doc.Dispatch(in, &dom.Event{Kind: dom.EventInput, Trusted: true})
	if len(s.sink.out) != 1 {
		t.Error("disarmed listener still forwarding")
	}
}

func TestSelectionGuardSuppresses(t *testing.T) {
	s := newSetup(t, `<p>hello</p>`)
	s.cap.WatchWindow()
	text := s.doc.Body().Children()[0].Children()[0]

	s.sel.Arm()
	s.doc.Selection().AddRange(dom.NewRange(text, 0, text, 3))
	if len(s.sink.out) != 0 {
		t.Fatalf("selection captured under guard: %+v", s.sink.out)
	}

	s.sched.advance(200 * time.Millisecond)
	s.doc.Selection().AddRange(dom.NewRange(text, 1, text, 4))
	if len(s.sink.out) != 1 {
		t.Fatalf("sends: got %d, want 1", len(s.sink.out))
	}
	sel := s.sink.out[0].(protocol.Selection)
	textID, _ := s.ids.ID(text)
	if *sel.StartNodeID != textID || sel.StartOffset != 1 || sel.EndOffset != 4 {
		t.Errorf("got %+v", sel)
	}

	s.doc.Selection().RemoveAllRanges()
	if last := s.sink.out[len(s.sink.out)-1].(protocol.Selection); !last.Clear {
		t.Errorf("clear: got %+v", last)
	}
}

func TestWindowAndPointerWatchers(t *testing.T) {
	s := newSetup(t, ``)
	c := NewCoalescer(s.sched, delay, maxWait, s.sink.Send)
	capt := New(Config{Doc: s.doc, IDs: s.ids, Out: c})
	capt.WatchWindow()
	capt.WatchPointer()

	s.doc.Resize(dom.Size{Width: 800, Height: 600})
	s.doc.ScrollTo(0, 50)
	s.doc.ScrollTo(0, 90)
	s.doc.Dispatch(s.doc.Body(), &dom.Event{Kind: dom.EventMouseMove, ClientX: 5, ClientY: 6})
	s.sched.advance(delay)

	if len(s.sink.out) != 3 {
		t.Fatalf("sends: got %d (%+v), want 3", len(s.sink.out), s.sink.out)
	}
	if sc := s.sink.out[1].(protocol.Scroll); sc.Y != 90 {
		t.Errorf("scroll: got %+v", sc)
	}

	capt.Close()
	s.doc.ScrollTo(0, 10)
	s.sched.advance(delay)
	if len(s.sink.out) != 3 {
		t.Error("closed capture still emitting")
	}
}

func TestStyleTransferDwellAndRestore(t *testing.T) {
	s := newSetup(t, `<nav><a class="nav" href="#">x</a></nav>`)
	nav := s.doc.Body().Children()[0]
	link := nav.Children()[0]
	link.SetStyleProperty("padding", "1px")
	s.doc.AddStyleRule(dom.StyleRule{Selector: "a", Properties: map[string]string{"color": "blue"}})
	s.doc.AddStyleRule(dom.StyleRule{Selector: "a.nav", Hover: true, Properties: map[string]string{"color": "red"}})
	s.doc.AddStyleRule(dom.StyleRule{Selector: "nav", Hover: true, Properties: map[string]string{"outline": "1px"}})

	st := NewStyleTransfer(s.doc, s.ids, s.sched, 200*time.Millisecond, s.sink)
	st.Enter(link)
	s.sched.advance(199 * time.Millisecond)
	if len(s.sink.out) != 0 {
		t.Fatalf("style sent before dwell: %+v", s.sink.out)
	}
	s.sched.advance(time.Millisecond)
	if len(s.sink.out) != 2 {
		t.Fatalf("sends after dwell: got %d, want 2", len(s.sink.out))
	}
	linkID, _ := s.ids.ID(link)
	apply := s.sink.out[0].(protocol.Style)
	if apply.ID != linkID || apply.Restore || apply.Content["color"] != "red" {
		t.Errorf("apply: got %+v", apply)
	}

	var quiet []dom.MutationRecord
	s.doc.Observe(func(r []dom.MutationRecord) { quiet = append(quiet, r...) })
	st.Exit(link)
	s.doc.DeliverMutations()
	if len(s.sink.out) != 4 {
		t.Fatalf("sends after exit: got %d, want 4", len(s.sink.out))
	}
	restore := s.sink.out[2].(protocol.Style)
	if !restore.Restore || restore.ID != linkID {
		t.Errorf("restore: got %+v", restore)
	}
	if v, ok := restore.Content["color"]; !ok || v != "" {
		t.Errorf("restore content: got %v", restore.Content)
	}
	for _, r := range quiet {
		if !r.Quiet {
			t.Errorf("restore produced a non-quiet record: %+v", r)
		}
	}
	if s.doc.Hovered() != nil {
		t.Error("hover not cleared")
	}
	if v, _ := link.StyleProperty("padding"); v != "1px" {
		t.Errorf("unrelated inline style changed: %q", v)
	}
}

func TestStyleTransferInterruptedDwell(t *testing.T) {
	s := newSetup(t, `<a class="nav">x</a><b>y</b>`)
	link := s.doc.Body().Children()[0]
	s.doc.AddStyleRule(dom.StyleRule{Selector: "a.nav", Hover: true, Properties: map[string]string{"color": "red"}})

	st := NewStyleTransfer(s.doc, s.ids, s.sched, 200*time.Millisecond, s.sink)
	st.Enter(link)
	s.sched.advance(100 * time.Millisecond)
	st.Exit(link)
	s.sched.advance(time.Second)
	if len(s.sink.out) != 0 {
		t.Errorf("interrupted dwell sent %+v", s.sink.out)
	}
}
