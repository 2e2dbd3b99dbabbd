// Package replay applies received payloads to the local tree: interactions
// on the controller's live document, structure and style on the viewer's
// mirror, and window state on both.
package replay

import (
	"errors"
	"log/slog"

	"github.com/hazyhaar/shadow/dom"
	"github.com/hazyhaar/shadow/shadow/internal/capture"
	"github.com/hazyhaar/shadow/shadow/internal/guard"
	"github.com/hazyhaar/shadow/shadow/internal/idmap"
	"github.com/hazyhaar/shadow/shadow/internal/mirror"
	"github.com/hazyhaar/shadow/shadow/protocol"
)

// Pointer draws the peer's cursor.
type Pointer interface {
	Move(x, y float64)
	Hide()
}

// Navigator commits a navigation of the controller's page.
type Navigator interface {
	Navigate(url string) error
}

// Reloader reloads the controller's page.
type Reloader interface {
	Reload(url string) error
}

// Hooks are notified after payloads that change session level state.
type Hooks struct {
	// Snapshot runs after a full rebuild succeeded.
	Snapshot func(href string)
	// URLChanged runs after a CHANGE_URL was applied.
	URLChanged func(url string)
	// Loaded runs when the peer reports a finished load.
	Loaded func(href string)
}

// Config configures a Replayer. Mirror and Container are set on viewers,
// Style on controllers.
type Config struct {
	Doc       *dom.Document
	IDs       *idmap.Map
	Mirror    *mirror.Builder
	Container *mirror.Container
	Style     *capture.StyleTransfer

	Pointer   Pointer
	Navigator Navigator
	Reloader  Reloader

	Selection *guard.Guard
	Scroll    *guard.Guard
	// MatchSize draws the mirror unscaled when the local viewport is at
	// least as large as the peer's.
	MatchSize bool

	Hooks  Hooks
	Logger *slog.Logger
}

// Replayer is a protocol.Visitor. Ids that do not resolve make the payload a
// no-op.
type Replayer struct {
	cfg    Config
	logger *slog.Logger

	remote     dom.Size
	peerLoaded string
}

var _ protocol.Visitor = (*Replayer)(nil)

// New creates a Replayer.
func New(cfg Config) *Replayer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Replayer{cfg: cfg, logger: cfg.Logger}
}

// Apply dispatches env to the matching Visit method.
func (r *Replayer) Apply(env protocol.Envelope) {
	env.Accept(r)
}

func (r *Replayer) lookup(id protocol.NodeID) (*dom.Node, bool) {
	n, ok := r.cfg.IDs.Lookup(id)
	if !ok {
		r.logger.Debug("replay: unresolved node", "node_id", id)
	}
	return n, ok
}

// --- INPUT ---

func (r *Replayer) VisitInput(p protocol.Input) {
	n, ok := r.lookup(p.ID)
	if !ok {
		return
	}
	if n.IsFormControl() {
		n.SetValue(p.Content)
	}
	ev := dom.NewInertEvent(p.Subtype.EventKind(), n)
	ev.Ctrl, ev.Alt, ev.Shift = p.Ctrl, p.Alt, p.Shift
	ev.Code, ev.KeyCode, ev.Which = p.Code, p.KeyCode, p.Which
	ev.Value = p.Content
	n.Invoke(ev)
}

// --- MOUSE ---

func (r *Replayer) VisitMouse(p protocol.Mouse) {
	switch p.Subtype {
	case protocol.MousePosition:
		if r.cfg.Pointer != nil {
			r.cfg.Pointer.Move(p.ClientX, p.ClientY)
		}
		return
	case protocol.MouseOutOfScreen:
		if r.cfg.Pointer != nil {
			r.cfg.Pointer.Hide()
		}
		return
	}
	if p.ID == nil {
		return
	}
	n, ok := r.lookup(*p.ID)
	if !ok {
		return
	}
	ev := &dom.Event{
		Kind: p.Subtype.EventKind(), Trusted: true, Synthetic: true,
		ClientX: p.ClientX, ClientY: p.ClientY,
		MovementX: p.MovementX, MovementY: p.MovementY,
		PageX: p.PageX, PageY: p.PageY,
		ScreenX: p.ScreenX, ScreenY: p.ScreenY,
		Ctrl: p.Ctrl, Alt: p.Alt, Shift: p.Shift,
	}
	if p.Subtype == protocol.MouseClick {
		r.cfg.Doc.Dispatch(n, ev)
		return
	}

	ev.Target = n
	for cur := n; cur != nil; cur = cur.Parent() {
		if h := cur.Handler(ev.Kind); h != nil {
			ev.CurrentTarget = cur
			h(ev)
			if ev.Stopped() {
				break
			}
		}
	}
	if r.cfg.Style != nil {
		switch p.Subtype {
		case protocol.MouseEnter, protocol.MouseOver:
			// A mirror forwards mouseover for every node, so over starts a
			// dwell too. Entering another node ends the previous one.
			r.cfg.Style.Enter(n)
		case protocol.MouseOut:
			r.cfg.Style.Exit(n)
		}
	}
}

// --- SELECTION ---

func (r *Replayer) VisitSelection(p protocol.Selection) {
	sel := r.cfg.Doc.Selection()
	if p.Clear {
		r.armSelection()
		sel.RemoveAllRanges()
		return
	}
	if p.StartNodeID == nil || p.EndNodeID == nil {
		return
	}
	start, ok := r.lookup(*p.StartNodeID)
	if !ok {
		return
	}
	end, ok := r.lookup(*p.EndNodeID)
	if !ok {
		return
	}
	r.armSelection()
	sel.RemoveAllRanges()
	rng := dom.NewRange(start, p.StartOffset, end, p.EndOffset)
	if rng.Collapsed() && (start != end || p.StartOffset != p.EndOffset) {
		// The endpoints arrived reversed; try once the other way round.
		rng = dom.NewRange(end, p.EndOffset, start, p.StartOffset)
	}
	sel.AddRange(rng)
}

func (r *Replayer) armSelection() {
	if r.cfg.Selection != nil {
		r.cfg.Selection.Arm()
	}
}

// --- STYLE ---

func (r *Replayer) VisitStyle(p protocol.Style) {
	if r.cfg.Mirror == nil {
		return
	}
	if !r.cfg.Mirror.ApplyStyle(p) {
		r.logger.Debug("replay: style target unresolved", "node_id", p.ID)
	}
}

// --- DOM ---

func (r *Replayer) VisitSnapshot(p protocol.Snapshot) {
	if r.cfg.Mirror == nil || r.cfg.Container == nil {
		return
	}
	r.cfg.Container.ShowLoading()
	if _, err := r.cfg.Mirror.Build(p.Content, r.cfg.Container); err != nil {
		r.logger.Warn("replay: snapshot rebuild failed", "href", p.Href, "error", err)
		return
	}
	r.cfg.Container.Document().SetURL(p.Href)
	if r.cfg.Hooks.Snapshot != nil {
		r.cfg.Hooks.Snapshot(p.Href)
	}
}

func (r *Replayer) VisitDOMChange(p protocol.DOMChange) {
	if r.cfg.Mirror == nil {
		return
	}
	if err := r.cfg.Mirror.ApplyChange(p); errors.Is(err, mirror.ErrUnknownID) {
		r.logger.Debug("replay: dom change target unresolved", "node_id", p.ID)
	} else if err != nil {
		r.logger.Warn("replay: dom change failed", "node_id", p.ID, "error", err)
	}
}

func (r *Replayer) VisitRemoved(p protocol.Removed) {
	if r.cfg.Mirror != nil && !r.cfg.Mirror.ApplyRemoved(p) {
		r.logger.Debug("replay: removal target unresolved", "node_id", p.ID)
	}
}

func (r *Replayer) VisitAttributeChange(p protocol.AttributeChange) {
	if r.cfg.Mirror != nil && !r.cfg.Mirror.ApplyAttributes(p) {
		r.logger.Debug("replay: attribute target unresolved", "node_id", p.ID)
	}
}

// --- WINDOW ---

func (r *Replayer) VisitResize(p protocol.Resize) {
	r.remote = dom.Size{Width: p.Width, Height: p.Height}
	if r.cfg.Container == nil {
		return
	}
	sx, sy := ScaleFactors(r.remote, r.cfg.Doc.Viewport(), r.cfg.MatchSize)
	r.cfg.Container.SetScale(sx, sy)
}

// ScaleFactors returns the independent horizontal and vertical factors that
// fit a sender viewport into the receiver's. With matchSize set, an axis on
// which the receiver is at least as large as the sender is drawn at 1.
func ScaleFactors(sender, receiver dom.Size, matchSize bool) (x, y float64) {
	axis := func(s, r float64) float64 {
		if s <= 0 || r <= 0 {
			return 1
		}
		if matchSize && r >= s {
			return 1
		}
		return r / s
	}
	return axis(sender.Width, receiver.Width), axis(sender.Height, receiver.Height)
}

// RemoteViewport returns the last viewport size reported by the peer.
func (r *Replayer) RemoteViewport() dom.Size { return r.remote }

func (r *Replayer) VisitScroll(p protocol.Scroll) {
	if r.cfg.Scroll != nil {
		r.cfg.Scroll.Arm()
	}
	r.cfg.Doc.ScrollTo(p.X, p.Y)
}

func (r *Replayer) VisitChangeURL(p protocol.ChangeURL) {
	if r.cfg.Container != nil {
		r.cfg.Container.Document().SetURL(p.URL)
	} else if r.cfg.Navigator != nil {
		if err := r.cfg.Navigator.Navigate(p.URL); err != nil {
			r.logger.Warn("replay: navigate failed", "url", p.URL, "error", err)
			return
		}
	} else {
		r.cfg.Doc.Navigate(p.URL)
	}
	if r.cfg.Hooks.URLChanged != nil {
		r.cfg.Hooks.URLChanged(p.URL)
	}
}

func (r *Replayer) VisitReload(p protocol.Reload) {
	if r.cfg.Container != nil || r.cfg.Reloader == nil {
		return
	}
	if err := r.cfg.Reloader.Reload(p.URL); err != nil {
		r.logger.Warn("replay: reload failed", "url", p.URL, "error", err)
	}
}

func (r *Replayer) VisitLoaded(p protocol.Loaded) {
	r.peerLoaded = p.Href
	if r.cfg.Hooks.Loaded != nil {
		r.cfg.Hooks.Loaded(p.Href)
	}
}

// PeerLoaded returns the href of the peer's last reported load.
func (r *Replayer) PeerLoaded() string { return r.peerLoaded }
