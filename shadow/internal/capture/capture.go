package capture

import (
	"log/slog"

	"github.com/hazyhaar/shadow/dom"
	"github.com/hazyhaar/shadow/shadow/internal/guard"
	"github.com/hazyhaar/shadow/shadow/internal/idmap"
	"github.com/hazyhaar/shadow/shadow/protocol"
)

// Sender accepts outbound payloads. Coalescer is the usual implementation.
type Sender interface {
	Send(protocol.Payload)
}

// Config configures a Capture.
type Config struct {
	Doc *dom.Document
	IDs *idmap.Map
	Out Sender
	// Selection and Scroll suppress emission while the session is applying
	// the peer's selection or scroll position.
	Selection *guard.Guard
	Scroll    *guard.Guard
	Logger    *slog.Logger
}

// Capture listens on one document and emits payloads for local
// interactions. Synthetic events are never captured.
type Capture struct {
	doc       *dom.Document
	ids       *idmap.Map
	out       Sender
	selection *guard.Guard
	scroll    *guard.Guard
	logger    *slog.Logger

	watchers  []func()
	armed     []func()
	lastEvent *dom.Event
}

// New creates a Capture. Nothing is listened to until a Watch method or Arm
// is called.
func New(cfg Config) *Capture {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Capture{
		doc:       cfg.Doc,
		ids:       cfg.IDs,
		out:       cfg.Out,
		selection: cfg.Selection,
		scroll:    cfg.Scroll,
		logger:    cfg.Logger,
	}
}

func (c *Capture) listen(n *dom.Node, kind string, fn dom.Handler) func() {
	return n.AddEventListener(kind, func(ev *dom.Event) {
		if ev.Synthetic {
			return
		}
		fn(ev)
	})
}

// WatchWindow captures viewport resizes, scroll offsets and selection
// changes of the document.
func (c *Capture) WatchWindow() {
	root := c.doc.Node()
	c.watchers = append(c.watchers,
		c.listen(root, dom.EventResize, func(ev *dom.Event) {
			c.out.Send(protocol.Resize{Width: ev.X, Height: ev.Y})
		}),
		c.listen(root, dom.EventScroll, func(ev *dom.Event) {
			if c.scroll != nil && c.scroll.Active() {
				return
			}
			c.out.Send(protocol.Scroll{X: ev.X, Y: ev.Y})
		}),
		c.listen(root, dom.EventSelectionChange, func(*dom.Event) {
			if c.selection != nil && c.selection.Active() {
				return
			}
			if p, ok := c.SelectionPayload(); ok {
				c.out.Send(p)
			}
		}),
	)
}

// WatchPointer captures the pointer position over the document and its
// leaving the viewport.
func (c *Capture) WatchPointer() {
	root := c.doc.Node()
	c.watchers = append(c.watchers,
		c.listen(root, dom.EventMouseMove, func(ev *dom.Event) {
			c.out.Send(protocol.Mouse{Subtype: protocol.MousePosition, ClientX: ev.ClientX, ClientY: ev.ClientY})
		}),
		c.listen(root, dom.EventPointerLeave, func(ev *dom.Event) {
			c.out.Send(protocol.Mouse{Subtype: protocol.MouseOutOfScreen, ClientX: ev.ClientX, ClientY: ev.ClientY})
		}),
	)
}

// SelectionPayload describes the document's current selection. ok is false
// when an endpoint has no id.
func (c *Capture) SelectionPayload() (protocol.Selection, bool) {
	r, valid := c.doc.Selection().Range()
	if !valid {
		return protocol.Selection{Clear: true}, true
	}
	start, ok := c.ids.ID(r.StartNode)
	if !ok {
		return protocol.Selection{}, false
	}
	end, ok := c.ids.ID(r.EndNode)
	if !ok {
		return protocol.Selection{}, false
	}
	return protocol.Selection{
		StartNodeID: protocol.Ref(start),
		EndNodeID:   protocol.Ref(end),
		StartOffset: r.StartOffset,
		EndOffset:   r.EndOffset,
	}, true
}

var mouseKinds = map[string]protocol.MouseSubtype{
	dom.EventClick:      protocol.MouseClick,
	dom.EventMouseEnter: protocol.MouseEnter,
	dom.EventMouseOut:   protocol.MouseOut,
	dom.EventMouseOver:  protocol.MouseOver,
	dom.EventMouseMove:  protocol.MouseMove,
}

var inputKinds = map[string]protocol.InputSubtype{
	dom.EventInput:    protocol.InputValue,
	dom.EventBlur:     protocol.InputBlur,
	dom.EventChange:   protocol.InputChange,
	dom.EventKeyPress: protocol.InputKeyPress,
	dom.EventKeyDown:  protocol.InputKeyDown,
	dom.EventKeyUp:    protocol.InputKeyUp,
}

// Arm attaches forwarding listeners for kinds to a mirrored node. Kinds with
// no protocol equivalent are ignored. An event bubbling through several
// armed nodes is forwarded once, for the innermost one.
func (c *Capture) Arm(n *dom.Node, kinds []string) {
	for _, kind := range kinds {
		if sub, ok := mouseKinds[kind]; ok {
			c.armed = append(c.armed, c.listen(n, kind, func(ev *dom.Event) {
				if sub == protocol.MouseClick {
					ev.PreventDefault()
				}
				if !c.claim(ev) {
					return
				}
				id, ok := c.ids.ID(n)
				if !ok {
					return
				}
				c.out.Send(protocol.Mouse{
					Subtype: sub, ID: protocol.Ref(id),
					ClientX: ev.ClientX, ClientY: ev.ClientY,
					Ctrl: ev.Ctrl, Alt: ev.Alt, Shift: ev.Shift,
					MovementX: ev.MovementX, MovementY: ev.MovementY,
					PageX: ev.PageX, PageY: ev.PageY,
					ScreenX: ev.ScreenX, ScreenY: ev.ScreenY,
				})
			}))
			continue
		}
		if sub, ok := inputKinds[kind]; ok && n.IsFormControl() {
			c.armed = append(c.armed, c.listen(n, kind, func(ev *dom.Event) {
				if !c.claim(ev) {
					return
				}
				id, ok := c.ids.ID(n)
				if !ok {
					return
				}
				c.out.Send(protocol.Input{
					Subtype: sub, ID: id, Content: n.Value(),
					Ctrl: ev.Ctrl, Alt: ev.Alt, Shift: ev.Shift,
					Code: ev.Code, KeyCode: ev.KeyCode, Which: ev.Which,
				})
			}))
		}
	}
}

func (c *Capture) claim(ev *dom.Event) bool {
	if c.lastEvent == ev {
		return false
	}
	c.lastEvent = ev
	return true
}

// Disarm removes every listener added by Arm.
func (c *Capture) Disarm() {
	for _, remove := range c.armed {
		remove()
	}
	c.armed = nil
	c.lastEvent = nil
}

// Close removes every listener.
func (c *Capture) Close() {
	c.Disarm()
	for _, remove := range c.watchers {
		remove()
	}
	c.watchers = nil
}
