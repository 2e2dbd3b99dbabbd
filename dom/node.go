// Package dom is the live document tree that shadow sessions serialize,
// observe, mirror and replay interactions on. It models the parts of a
// browser document the protocol depends on: element/text/document nodes,
// attributes, form control values, event handlers and listeners, mutation
// records, selection ranges, hover-dependent computed style, scroll offset,
// viewport size and navigation.
//
// A Document is not safe for concurrent use. Sessions own their document and
// only touch it from their own event loop.
package dom

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// NodeType mirrors the browser nodeType constants so that the values can be
// put on the wire unchanged.
type NodeType int

const (
	ElementNode  NodeType = 1
	TextNode     NodeType = 3
	DocumentNode NodeType = 9
)

func (t NodeType) String() string {
	switch t {
	case ElementNode:
		return "element"
	case TextNode:
		return "text"
	case DocumentNode:
		return "document"
	default:
		return fmt.Sprintf("nodetype(%d)", int(t))
	}
}

var (
	// ErrHierarchy is returned when an insertion would create a cycle or
	// attach a node under a text node.
	ErrHierarchy = errors.New("dom: hierarchy request error")
	// ErrNotFound is returned when a reference child is not a child of the parent.
	ErrNotFound = errors.New("dom: node not found")
	// ErrInvalidTag is returned by CreateElement for unusable tag names.
	ErrInvalidTag = errors.New("dom: invalid tag name")
	// ErrWrongDocument is returned when adopting nodes across documents.
	ErrWrongDocument = errors.New("dom: node belongs to another document")
)

// Attribute is a single name/value pair. Order of attributes on a node is
// the order in which they were first set.
type Attribute struct {
	Name  string
	Value string
}

// Handler receives dispatched events.
type Handler func(ev *Event)

type listener struct {
	fn Handler
}

// Node is a document, element or text node.
type Node struct {
	Type NodeType
	Tag  string // lower-case element name, empty for text/document

	doc      *Document
	parent   *Node
	children []*Node

	attrs   []Attribute
	data    string
	hasData bool

	value    string
	hasValue bool
	chrome   bool

	handlers  map[string]Handler
	listeners map[string][]*listener
}

// Document returns the owner document.
func (n *Node) Document() *Document { return n.doc }

// Parent returns the layout parent, nil for the document node and detached roots.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the child list. Callers must not modify the slice.
func (n *Node) Children() []*Node { return n.children }

// ChildIndex returns the position of n in its parent's child list, -1 when detached.
func (n *Node) ChildIndex() int {
	if n.parent == nil {
		return -1
	}
	return slices.Index(n.parent.children, n)
}

// IsConnected reports whether n is reachable from its document node.
func (n *Node) IsConnected() bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur.Type == DocumentNode {
			return cur.doc != nil && cur == cur.doc.root
		}
	}
	return false
}

// Contains reports whether other is n or one of its descendants.
func (n *Node) Contains(other *Node) bool {
	for cur := other; cur != nil; cur = cur.parent {
		if cur == n {
			return true
		}
	}
	return false
}

// Walk visits n and its descendants in preorder. Returning false from fn
// skips the node's subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// String is a short debugging label.
func (n *Node) String() string {
	switch n.Type {
	case ElementNode:
		if id, ok := n.Attr("id"); ok {
			return "<" + n.Tag + "#" + id + ">"
		}
		return "<" + n.Tag + ">"
	case TextNode:
		return fmt.Sprintf("#text(%q)", n.data)
	default:
		return "#document"
	}
}

// --- tree mutation ---

// AppendChild attaches c as the last child of n, detaching it from any
// previous parent first.
func (n *Node) AppendChild(c *Node) error {
	return n.InsertBefore(c, nil)
}

// InsertBefore attaches c before ref. A nil ref appends.
func (n *Node) InsertBefore(c, ref *Node) error {
	if err := n.checkInsert(c); err != nil {
		return err
	}
	if ref != nil && ref.parent != n {
		return ErrNotFound
	}
	if c.parent != nil {
		if err := c.parent.RemoveChild(c); err != nil {
			return err
		}
	}
	idx := len(n.children)
	if ref != nil {
		idx = slices.Index(n.children, ref)
	}
	n.children = slices.Insert(n.children, idx, c)
	c.parent = n
	n.doc.record(MutationRecord{Type: ChildList, Target: n, Added: []*Node{c}})
	return nil
}

// RemoveChild detaches c from n.
func (n *Node) RemoveChild(c *Node) error {
	idx := slices.Index(n.children, c)
	if idx < 0 {
		return ErrNotFound
	}
	n.doc.record(MutationRecord{Type: ChildList, Target: n, Removed: []*Node{c}})
	n.children = slices.Delete(n.children, idx, idx+1)
	c.parent = nil
	return nil
}

// RemoveChildren detaches every child of n and returns them in tree order.
// A single mutation record describes the removal.
func (n *Node) RemoveChildren() []*Node {
	if len(n.children) == 0 {
		return nil
	}
	removed := n.children
	n.doc.record(MutationRecord{Type: ChildList, Target: n, Removed: slices.Clone(removed)})
	n.children = nil
	for _, c := range removed {
		c.parent = nil
	}
	return removed
}

// ReplaceChildren swaps the whole child list of n for nodes, producing one
// mutation record with both the removed and added nodes.
func (n *Node) ReplaceChildren(nodes ...*Node) error {
	for _, c := range nodes {
		if err := n.checkInsert(c); err != nil {
			return err
		}
	}
	removed := n.children
	n.children = nil
	for _, c := range removed {
		c.parent = nil
	}
	for _, c := range nodes {
		if c.parent != nil {
			if err := c.parent.RemoveChild(c); err != nil {
				return err
			}
		}
		n.children = append(n.children, c)
		c.parent = n
	}
	n.doc.record(MutationRecord{Type: ChildList, Target: n, Added: slices.Clone(nodes), Removed: removed})
	return nil
}

func (n *Node) checkInsert(c *Node) error {
	if c == nil || n.Type == TextNode || c.Type == DocumentNode {
		return ErrHierarchy
	}
	if c.doc != n.doc {
		return ErrWrongDocument
	}
	if c.Contains(n) {
		return ErrHierarchy
	}
	return nil
}

// --- attributes ---

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Attrs returns the attribute list in insertion order. Callers must not modify it.
func (n *Node) Attrs() []Attribute { return n.attrs }

// SetAttr sets or replaces an attribute. Setting an attribute to its current
// value still produces a mutation record, as browsers do.
func (n *Node) SetAttr(name, value string) {
	if n.Type != ElementNode {
		return
	}
	name = strings.ToLower(name)
	old, had := n.Attr(name)
	if had {
		for i := range n.attrs {
			if n.attrs[i].Name == name {
				n.attrs[i].Value = value
			}
		}
	} else {
		n.attrs = append(n.attrs, Attribute{Name: name, Value: value})
	}
	if name == "value" && !n.hasValue {
		n.value = value
	}
	n.doc.record(MutationRecord{
		Type: Attributes, Target: n, AttributeName: name,
		OldValue: old, HadOldValue: had, Value: value,
	})
}

// RemoveAttr deletes an attribute; a no-op when absent.
func (n *Node) RemoveAttr(name string) {
	name = strings.ToLower(name)
	idx := slices.IndexFunc(n.attrs, func(a Attribute) bool { return a.Name == name })
	if idx < 0 {
		return
	}
	old := n.attrs[idx].Value
	n.attrs = slices.Delete(n.attrs, idx, idx+1)
	n.doc.record(MutationRecord{
		Type: Attributes, Target: n, AttributeName: name,
		OldValue: old, HadOldValue: true, AttributeRemoved: true,
	})
}

// --- text ---

// Text returns the character data of a text node. ok is false for text
// nodes without content and for non-text nodes.
func (n *Node) Text() (string, bool) {
	if n.Type != TextNode {
		return "", false
	}
	return n.data, n.hasData
}

// SetText replaces the character data of a text node.
func (n *Node) SetText(s string) {
	if n.Type != TextNode {
		return
	}
	old := n.data
	n.data, n.hasData = s, true
	n.doc.record(MutationRecord{Type: CharacterData, Target: n, OldValue: old, HadOldValue: true, Value: s})
}

// TextContent concatenates the character data of all descendant text nodes.
func (n *Node) TextContent() string {
	var b strings.Builder
	n.Walk(func(c *Node) bool {
		if c.Type == TextNode {
			b.WriteString(c.data)
		}
		return true
	})
	return b.String()
}

// --- form controls ---

var formControls = map[string]bool{"input": true, "textarea": true, "select": true}

// IsFormControl reports whether n is an input, textarea or select element.
func (n *Node) IsFormControl() bool {
	return n.Type == ElementNode && formControls[n.Tag]
}

// Value returns the live value of a form control. Until SetValue is called
// it falls back to the value attribute (or text content for textarea).
func (n *Node) Value() string {
	if n.hasValue {
		return n.value
	}
	if n.Tag == "textarea" {
		return n.TextContent()
	}
	v, _ := n.Attr("value")
	return v
}

// SetValue sets the live value. Like a browser property write, it does not
// produce a mutation record.
func (n *Node) SetValue(v string) {
	n.value, n.hasValue = v, true
}

// --- chrome ---

// SetChrome flags n as UI chrome inserted by the hosting tool. Chrome nodes
// are never serialized.
func (n *Node) SetChrome(v bool) { n.chrome = v }

// IsChrome reports whether n or one of its ancestors is chrome.
func (n *Node) IsChrome() bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur.chrome {
			return true
		}
	}
	return false
}

// --- handlers and listeners ---

// SetHandler assigns the handler property for kind (the onclick-style slot).
// A nil handler clears it.
func (n *Node) SetHandler(kind string, h Handler) {
	if h == nil {
		delete(n.handlers, kind)
		return
	}
	if n.handlers == nil {
		n.handlers = make(map[string]Handler)
	}
	n.handlers[kind] = h
}

// Handler returns the directly assigned handler for kind.
func (n *Node) Handler(kind string) Handler {
	return n.handlers[kind]
}

// AddEventListener registers fn for kind and returns a function that removes it.
func (n *Node) AddEventListener(kind string, fn Handler) (remove func()) {
	if n.listeners == nil {
		n.listeners = make(map[string][]*listener)
	}
	l := &listener{fn: fn}
	n.listeners[kind] = append(n.listeners[kind], l)
	return func() {
		ls := n.listeners[kind]
		if idx := slices.Index(ls, l); idx >= 0 {
			n.listeners[kind] = slices.Delete(ls, idx, idx+1)
		}
		if len(n.listeners[kind]) == 0 {
			delete(n.listeners, kind)
		}
	}
}

// ListenedKinds returns the sorted set of event kinds n declares interest in:
// assigned handlers, registered listeners and on* attributes from markup.
func (n *Node) ListenedKinds() []string {
	set := make(map[string]struct{})
	for k := range n.handlers {
		set[k] = struct{}{}
	}
	for k, ls := range n.listeners {
		if len(ls) > 0 {
			set[k] = struct{}{}
		}
	}
	for _, a := range n.attrs {
		if strings.HasPrefix(a.Name, "on") && len(a.Name) > 2 {
			set[a.Name[2:]] = struct{}{}
		}
	}
	kinds := make([]string, 0, len(set))
	for k := range set {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// invoke runs listeners then the assigned handler for ev.Kind on n.
func (n *Node) invoke(ev *Event) {
	ev.CurrentTarget = n
	for _, l := range slices.Clone(n.listeners[ev.Kind]) {
		l.fn(ev)
	}
	if h := n.handlers[ev.Kind]; h != nil {
		h(ev)
	}
}

// Invoke runs n's own listeners and assigned handler for ev without
// propagating to ancestors and without default actions.
func (n *Node) Invoke(ev *Event) {
	if ev.Target == nil {
		ev.Target = n
	}
	n.invoke(ev)
}

// --- inline style ---

// StyleProperty reads a property from the inline style attribute.
func (n *Node) StyleProperty(name string) (string, bool) {
	style, _ := n.Attr("style")
	v, ok := parseStyle(style)[name]
	return v, ok
}

// SetStyleProperty writes a property to the inline style attribute. An empty
// value removes the property.
func (n *Node) SetStyleProperty(name, value string) {
	style, _ := n.Attr("style")
	props := parseStyle(style)
	if value == "" {
		delete(props, name)
	} else {
		props[name] = value
	}
	if len(props) == 0 {
		n.RemoveAttr("style")
		return
	}
	n.SetAttr("style", formatStyle(props))
}
