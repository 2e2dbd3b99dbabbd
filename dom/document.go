package dom

import (
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// Size is a viewport size in CSS pixels.
type Size struct {
	Width  float64
	Height float64
}

// Document owns a node tree plus the window-level state attached to it.
type Document struct {
	root *Node

	url     string
	history []string

	viewport         Size
	scrollX, scrollY float64

	selection *Selection
	hovered   *Node
	rules     []StyleRule

	observers  []*observer
	pending    []MutationRecord
	notify     func()
	quietDepth int
}

// NewDocument creates a document with an empty html/head/body skeleton.
func NewDocument(pageURL string) *Document {
	d := NewEmptyDocument(pageURL)
	html := d.newElement("html")
	html.children = []*Node{d.newElement("head"), d.newElement("body")}
	for _, c := range html.children {
		c.parent = html
	}
	html.parent = d.root
	d.root.children = []*Node{html}
	return d
}

// NewEmptyDocument creates a document whose document node has no children.
// Mirror containers start from this state.
func NewEmptyDocument(pageURL string) *Document {
	d := &Document{url: pageURL, viewport: Size{Width: 1280, Height: 720}}
	d.root = &Node{Type: DocumentNode, doc: d}
	d.selection = &Selection{doc: d}
	if pageURL != "" {
		d.history = []string{pageURL}
	}
	return d
}

// Node returns the document node.
func (d *Document) Node() *Node { return d.root }

// DocumentElement returns the html element, nil when absent.
func (d *Document) DocumentElement() *Node {
	for _, c := range d.root.children {
		if c.Type == ElementNode {
			return c
		}
	}
	return nil
}

// Head returns the head element, nil when absent.
func (d *Document) Head() *Node { return d.rootChild("head") }

// Body returns the body element, nil when absent.
func (d *Document) Body() *Node { return d.rootChild("body") }

func (d *Document) rootChild(tag string) *Node {
	html := d.DocumentElement()
	if html == nil {
		return nil
	}
	for _, c := range html.children {
		if c.Type == ElementNode && c.Tag == tag {
			return c
		}
	}
	return nil
}

var tagPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9\-_.:]*$`)

// CreateElement creates a detached element owned by d.
func (d *Document) CreateElement(tag string) (*Node, error) {
	if !tagPattern.MatchString(tag) {
		return nil, ErrInvalidTag
	}
	return d.newElement(strings.ToLower(tag)), nil
}

func (d *Document) newElement(tag string) *Node {
	return &Node{Type: ElementNode, Tag: tag, doc: d}
}

// CreateText creates a detached text node with content s.
func (d *Document) CreateText(s string) *Node {
	return &Node{Type: TextNode, doc: d, data: s, hasData: true}
}

// CreateNullText creates a text node that carries no character data at all.
func (d *Document) CreateNullText() *Node {
	return &Node{Type: TextNode, doc: d}
}

// SetDocumentElement replaces everything under the document node with html.
func (d *Document) SetDocumentElement(html *Node) error {
	if html == nil {
		d.root.RemoveChildren()
		return nil
	}
	return d.root.ReplaceChildren(html)
}

// URL returns the current location.
func (d *Document) URL() string { return d.url }

// SetURL changes the location without touching history or dispatching
// events. Mirrors use it to reflect the controller's location.
func (d *Document) SetURL(u string) { d.url = u }

// History returns the locations visited by Navigate, oldest first.
func (d *Document) History() []string { return slices.Clone(d.history) }

// Navigate commits a navigation: the location changes, the entry is pushed
// to history and a "navigate" event is dispatched on the document node.
func (d *Document) Navigate(target string) {
	if base, err := url.Parse(d.url); err == nil && d.url != "" {
		if ref, err := url.Parse(target); err == nil {
			target = base.ResolveReference(ref).String()
		}
	}
	d.url = target
	d.history = append(d.history, target)
	d.root.invokeChain(&Event{Kind: EventNavigate, Trusted: true, Value: target, Target: d.root})
}

// Viewport returns the viewport size.
func (d *Document) Viewport() Size { return d.viewport }

// Resize changes the viewport and dispatches "resize".
func (d *Document) Resize(s Size) {
	d.viewport = s
	d.root.invokeChain(&Event{Kind: EventResize, Trusted: true, X: s.Width, Y: s.Height, Target: d.root})
}

// ScrollOffset returns the current scroll position.
func (d *Document) ScrollOffset() (x, y float64) { return d.scrollX, d.scrollY }

// ScrollTo moves the scroll position and dispatches "scroll".
func (d *Document) ScrollTo(x, y float64) {
	d.scrollX, d.scrollY = x, y
	d.root.invokeChain(&Event{Kind: EventScroll, Trusted: true, X: x, Y: y, Target: d.root})
}

// Selection returns the document's selection.
func (d *Document) Selection() *Selection { return d.selection }

// Dispatch delivers ev to target and bubbles it through target's ancestors,
// then runs the default action unless prevented.
func (d *Document) Dispatch(target *Node, ev *Event) {
	ev.Target = target
	target.invokeChain(ev)
	if !ev.defaultPrevented {
		d.defaultAction(target, ev)
	}
}

func (n *Node) invokeChain(ev *Event) {
	for cur := n; cur != nil; cur = cur.parent {
		cur.invoke(ev)
		if ev.stopped {
			return
		}
	}
}

func (d *Document) defaultAction(target *Node, ev *Event) {
	if ev.Kind != EventClick {
		return
	}
	for cur := target; cur != nil; cur = cur.parent {
		if cur.Type != ElementNode {
			continue
		}
		switch cur.Tag {
		case "a":
			if href, ok := cur.Attr("href"); ok && href != "" {
				d.Navigate(href)
				return
			}
		case "button", "input":
			typ, _ := cur.Attr("type")
			if cur.Tag == "input" && typ != "submit" {
				continue
			}
			if cur.Tag == "button" && typ != "" && typ != "submit" {
				continue
			}
			for form := cur.parent; form != nil; form = form.parent {
				if form.Type == ElementNode && form.Tag == "form" {
					submit := &Event{Kind: EventSubmit, Trusted: ev.Trusted, Synthetic: ev.Synthetic}
					d.Dispatch(form, submit)
					return
				}
			}
		}
	}
}

// --- hover & computed style ---

// SetHover moves the pointer hover state to n (nil clears it). Hover-only
// style rules apply to n and its ancestors.
func (d *Document) SetHover(n *Node) { d.hovered = n }

// Hovered returns the node under the pointer.
func (d *Document) Hovered() *Node { return d.hovered }

// inHoverChain reports whether n is the hovered node or one of its ancestors.
func (d *Document) inHoverChain(n *Node) bool {
	return d.hovered != nil && n.Contains(d.hovered)
}

// AddStyleRule installs a stylesheet rule.
func (d *Document) AddStyleRule(r StyleRule) {
	d.rules = append(d.rules, r)
}

// ComputedStyle resolves the style of n from the stylesheet rules (hover
// rules only while n is in the hover chain) overlaid by its inline style.
func (d *Document) ComputedStyle(n *Node) map[string]string {
	out := make(map[string]string)
	if n == nil || n.Type != ElementNode {
		return out
	}
	hover := d.inHoverChain(n)
	for _, r := range d.rules {
		if r.Hover && !hover {
			continue
		}
		if !r.matches(n) {
			continue
		}
		for k, v := range r.Properties {
			out[k] = v
		}
	}
	style, _ := n.Attr("style")
	for k, v := range parseStyle(style) {
		out[k] = v
	}
	return out
}

// --- document order ---

// Precedes reports whether a comes before b in document order.
func Precedes(a, b *Node) bool {
	if a == b {
		return false
	}
	pa, pb := ancestry(a), ancestry(b)
	i := 0
	for i < len(pa) && i < len(pb) && pa[i] == pb[i] {
		i++
	}
	switch {
	case i == len(pa):
		return true // a is an ancestor of b
	case i == len(pb):
		return false
	case i == 0:
		return false // different trees
	}
	parent := pa[i-1]
	return slices.Index(parent.children, pa[i]) < slices.Index(parent.children, pb[i])
}

// ancestry returns the chain from the root down to n.
func ancestry(n *Node) []*Node {
	var chain []*Node
	for cur := n; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	slices.Reverse(chain)
	return chain
}
