package dom

// Event kinds understood by the platform.
const (
	EventClick           = "click"
	EventMouseOver       = "mouseover"
	EventMouseEnter      = "mouseenter"
	EventMouseOut        = "mouseout"
	EventMouseMove       = "mousemove"
	EventPointerLeave    = "pointerleave"
	EventInput           = "input"
	EventChange          = "change"
	EventBlur            = "blur"
	EventKeyPress        = "keypress"
	EventKeyDown         = "keydown"
	EventKeyUp           = "keyup"
	EventSubmit          = "submit"
	EventScroll          = "scroll"
	EventResize          = "resize"
	EventSelectionChange = "selectionchange"
	EventNavigate        = "navigate"
)

// Event is a dispatched interaction or window notification.
type Event struct {
	Kind          string
	Target        *Node
	CurrentTarget *Node

	// Trusted events originate from the user agent. Synthetic events were
	// constructed by a replayer and must never be captured again.
	Trusted   bool
	Synthetic bool

	ClientX, ClientY     float64
	MovementX, MovementY float64
	PageX, PageY         float64
	ScreenX, ScreenY     float64

	Ctrl, Alt, Shift, Meta bool

	Key     string
	Code    string
	KeyCode int
	Which   int

	// Value carries the URL for navigate and the control value for input events.
	Value string
	// X, Y carry the scroll offset or viewport size for window events.
	X, Y float64

	stopped          bool
	defaultPrevented bool
	inert            bool
}

// StopPropagation prevents further propagation. On events built by
// NewInertEvent it does nothing.
func (e *Event) StopPropagation() {
	if e.inert {
		return
	}
	e.stopped = true
}

// PreventDefault cancels the default action.
func (e *Event) PreventDefault() {
	e.defaultPrevented = true
}

// Stopped reports whether propagation was stopped.
func (e *Event) Stopped() bool { return e.stopped }

// DefaultPrevented reports whether PreventDefault was called.
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// NewInertEvent returns a minimal event whose propagation stopper is a no-op.
// Replayers hand it directly to a node's own handlers.
func NewInertEvent(kind string, target *Node) *Event {
	return &Event{Kind: kind, Target: target, Trusted: true, Synthetic: true, inert: true}
}
