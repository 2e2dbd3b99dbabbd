package protocol

// NodeID identifies a node within one session. Ids are allocated once, in
// increasing order, and stay attached to the node for its lifetime.
type NodeID int64

// Ref returns a pointer to id for optional fields.
func Ref(id NodeID) *NodeID { return &id }

// Node types as they appear in snapshots.
const (
	NodeElement  = 1
	NodeText     = 3
	NodeDocument = 9
)

// NodeSnapshot is the serialized form of a node and its subtree.
type NodeSnapshot struct {
	ID           NodeID            `json:"id"`
	Type         int               `json:"type"`
	Tag          string            `json:"tag,omitempty"`
	Content      *string           `json:"content,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Children     []NodeSnapshot    `json:"children,omitempty"`
	ListenEvents []string          `json:"listenEvents"`
}

// Text returns the text content and whether the snapshot carries any.
func (s NodeSnapshot) Text() (string, bool) {
	if s.Content == nil {
		return "", false
	}
	return *s.Content, true
}

// Walk visits s and its descendants in preorder.
func (s NodeSnapshot) Walk(fn func(NodeSnapshot)) {
	fn(s)
	for _, c := range s.Children {
		c.Walk(fn)
	}
}

// Payload is the sealed sum type of envelope contents. Only types in this
// package implement it.
type Payload interface {
	Category() Category
	// Kind names the subtype for logs and metrics.
	Kind() string
	Accept(v Visitor)
	sealed()
}

// Visitor handles every payload variant. Adding a variant adds a method here,
// so every implementation must be updated.
type Visitor interface {
	VisitInput(Input)
	VisitMouse(Mouse)
	VisitDOMChange(DOMChange)
	VisitRemoved(Removed)
	VisitAttributeChange(AttributeChange)
	VisitSnapshot(Snapshot)
	VisitSelection(Selection)
	VisitStyle(Style)
	VisitResize(Resize)
	VisitScroll(Scroll)
	VisitLoaded(Loaded)
	VisitChangeURL(ChangeURL)
	VisitReload(Reload)
}

// --- INPUT ---

// Input is a form control interaction.
type Input struct {
	Subtype InputSubtype `json:"-"`
	ID      NodeID       `json:"id"`
	Content string       `json:"content"`
	Ctrl    bool         `json:"ctl,omitempty"`
	Alt     bool         `json:"alt,omitempty"`
	Shift   bool         `json:"shift,omitempty"`
	Code    string       `json:"code,omitempty"`
	KeyCode int          `json:"keyCode,omitempty"`
	Which   int          `json:"which,omitempty"`
}

func (Input) Category() Category { return CategoryInput }
func (p Input) Kind() string     { return p.Subtype.EventKind() }
func (p Input) Accept(v Visitor) { v.VisitInput(p) }
func (Input) sealed()            {}

// --- MOUSE ---

// Mouse is a pointer interaction. ID is absent for POSITION and
// OUT_OF_SCREEN.
type Mouse struct {
	Subtype   MouseSubtype `json:"-"`
	ID        *NodeID      `json:"id,omitempty"`
	ClientX   float64      `json:"clientX"`
	ClientY   float64      `json:"clientY"`
	Ctrl      bool         `json:"ctrl,omitempty"`
	Alt       bool         `json:"alt,omitempty"`
	Shift     bool         `json:"shift,omitempty"`
	MovementX float64      `json:"movementX,omitempty"`
	MovementY float64      `json:"movementY,omitempty"`
	PageX     float64      `json:"pageX,omitempty"`
	PageY     float64      `json:"pageY,omitempty"`
	ScreenX   float64      `json:"screenX,omitempty"`
	ScreenY   float64      `json:"screenY,omitempty"`
}

func (Mouse) Category() Category { return CategoryMouse }

func (p Mouse) Kind() string {
	switch p.Subtype {
	case MousePosition:
		return "position"
	case MouseOutOfScreen:
		return "out_of_screen"
	default:
		return p.Subtype.EventKind()
	}
}

func (p Mouse) Accept(v Visitor) { v.VisitMouse(p) }
func (Mouse) sealed()            {}

// --- DOM ---

// DOMChange replaces the children of node ID. Content is the refreshed
// container, whose own id equals ID.
type DOMChange struct {
	ID      NodeID       `json:"id"`
	Content NodeSnapshot `json:"content"`
}

func (DOMChange) Category() Category { return CategoryDOM }
func (DOMChange) Kind() string       { return "dom_change" }
func (p DOMChange) Accept(v Visitor) { v.VisitDOMChange(p) }
func (DOMChange) sealed()            {}

// Removed lists direct children of ID that left the tree. The wire key keeps
// the browser peers' spelling.
type Removed struct {
	ID          NodeID   `json:"id"`
	ChildrenIDs []NodeID `json:"chidlrenId"`
}

func (Removed) Category() Category { return CategoryDOM }
func (Removed) Kind() string       { return "removed" }
func (p Removed) Accept(v Visitor) { v.VisitRemoved(p) }
func (Removed) sealed()            {}

// AttributeChange carries new attribute values for node ID and the names of
// removed attributes.
type AttributeChange struct {
	ID      NodeID            `json:"id"`
	Content map[string]string `json:"content"`
	Removed []string          `json:"removed,omitempty"`
}

func (AttributeChange) Category() Category { return CategoryDOM }
func (AttributeChange) Kind() string       { return "attribute_change" }
func (p AttributeChange) Accept(v Visitor) { v.VisitAttributeChange(p) }
func (AttributeChange) sealed()            {}

// Snapshot is the full tree, sent when a session starts and whenever the
// controller re-snapshots.
type Snapshot struct {
	Href    string       `json:"href"`
	Content NodeSnapshot `json:"content"`
}

func (Snapshot) Category() Category { return CategoryDOM }
func (Snapshot) Kind() string       { return "snapshot" }
func (p Snapshot) Accept(v Visitor) { v.VisitSnapshot(p) }
func (Snapshot) sealed()            {}

// --- SELECTION ---

// Selection is a text selection range. Clear removes every range.
type Selection struct {
	StartNodeID *NodeID `json:"startNodeId,omitempty"`
	EndNodeID   *NodeID `json:"endNodeId,omitempty"`
	StartOffset int     `json:"startNodeOffset,omitempty"`
	EndOffset   int     `json:"endNodeOffset,omitempty"`
	Clear       bool    `json:"clear,omitempty"`
}

func (Selection) Category() Category { return CategorySelection }
func (Selection) Kind() string       { return "selection" }
func (p Selection) Accept(v Visitor) { v.VisitSelection(p) }
func (Selection) sealed()            {}

// --- STYLE ---

// Style transfers hover-dependent style. Content maps property names to the
// values to apply; with Restore set it carries the values to put back, an
// empty value meaning the property was not set inline.
type Style struct {
	ID      NodeID            `json:"id"`
	Restore bool              `json:"restore,omitempty"`
	Content map[string]string `json:"content"`
}

func (Style) Category() Category { return CategoryStyle }

func (p Style) Kind() string {
	if p.Restore {
		return "restore"
	}
	return "apply"
}

func (p Style) Accept(v Visitor) { v.VisitStyle(p) }
func (Style) sealed()            {}

// --- WINDOW ---

// Resize reports the sender's viewport size.
type Resize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (Resize) Category() Category { return CategoryWindow }
func (Resize) Kind() string       { return "resize" }
func (p Resize) Accept(v Visitor) { v.VisitResize(p) }
func (Resize) sealed()            {}

// Scroll reports the sender's absolute scroll offset.
type Scroll struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (Scroll) Category() Category { return CategoryWindow }
func (Scroll) Kind() string       { return "scroll" }
func (p Scroll) Accept(v Visitor) { v.VisitScroll(p) }
func (Scroll) sealed()            {}

// Loaded signals that the sender finished loading Href.
type Loaded struct{ Href string }

func (Loaded) Category() Category { return CategoryWindow }
func (Loaded) Kind() string       { return "loaded" }
func (p Loaded) Accept(v Visitor) { v.VisitLoaded(p) }
func (Loaded) sealed()            {}

// ChangeURL reports a navigation.
type ChangeURL struct{ URL string }

func (ChangeURL) Category() Category { return CategoryWindow }
func (ChangeURL) Kind() string       { return "change_url" }
func (p ChangeURL) Accept(v Visitor) { v.VisitChangeURL(p) }
func (ChangeURL) sealed()            {}

// Reload asks the controller to reload URL.
type Reload struct{ URL string }

func (Reload) Category() Category { return CategoryWindow }
func (Reload) Kind() string       { return "reload" }
func (p Reload) Accept(v Visitor) { v.VisitReload(p) }
func (Reload) sealed()            {}

// NopVisitor implements Visitor with empty methods. Embed it to handle a
// subset of variants.
type NopVisitor struct{}

func (NopVisitor) VisitInput(Input)                     {}
func (NopVisitor) VisitMouse(Mouse)                     {}
func (NopVisitor) VisitDOMChange(DOMChange)             {}
func (NopVisitor) VisitRemoved(Removed)                 {}
func (NopVisitor) VisitAttributeChange(AttributeChange) {}
func (NopVisitor) VisitSnapshot(Snapshot)               {}
func (NopVisitor) VisitSelection(Selection)             {}
func (NopVisitor) VisitStyle(Style)                     {}
func (NopVisitor) VisitResize(Resize)                   {}
func (NopVisitor) VisitScroll(Scroll)                   {}
func (NopVisitor) VisitLoaded(Loaded)                   {}
func (NopVisitor) VisitChangeURL(ChangeURL)             {}
func (NopVisitor) VisitReload(Reload)                   {}
