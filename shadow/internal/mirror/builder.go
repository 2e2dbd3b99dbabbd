// Package mirror rebuilds received snapshots inside an isolated container and
// patches the rebuilt tree as diffs arrive.
package mirror

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/hazyhaar/shadow/dom"
	"github.com/hazyhaar/shadow/shadow/internal/idmap"
	"github.com/hazyhaar/shadow/shadow/protocol"
)

var (
	// ErrUnsupportedNode is returned for snapshot nodes that cannot be rebuilt.
	ErrUnsupportedNode = errors.New("mirror: unsupported node")
	// ErrUnknownID is returned when a diff targets an id the mirror lacks.
	ErrUnknownID = errors.New("mirror: unknown node id")
)

// Armer attaches forwarding listeners to rebuilt nodes.
type Armer interface {
	// Arm makes n forward the given event kinds to the peer.
	Arm(n *dom.Node, kinds []string)
	// Disarm releases every listener attached so far.
	Disarm()
}

// Config configures a Builder.
type Config struct {
	IDs    *idmap.Map
	Armer  Armer
	Logger *slog.Logger
}

// Builder materializes snapshots. Every method mutates the container quietly
// so observers of the mirror never echo the changes.
type Builder struct {
	ids    *idmap.Map
	armer  Armer
	logger *slog.Logger
}

// New creates a Builder.
func New(cfg Config) *Builder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{ids: cfg.IDs, armer: cfg.Armer, logger: cfg.Logger}
}

// Build tears down any previous mirror and rebuilds snap inside c. Document
// snapshots replace the container's document element; any other snapshot
// replaces the body content.
func (b *Builder) Build(snap protocol.NodeSnapshot, c *Container) (*dom.Node, error) {
	if b.armer != nil {
		b.armer.Disarm()
	}
	b.ids.Reset()
	doc := c.Document()

	var (
		root *dom.Node
		err  error
	)
	doc.Quiet(func() {
		if snap.Type == protocol.NodeDocument {
			root, err = b.buildDocument(snap, doc)
			return
		}
		root, err = b.buildNode(snap, doc)
		if err != nil {
			return
		}
		var body *dom.Node
		if body, err = ensureBody(doc); err != nil {
			return
		}
		err = body.ReplaceChildren(root)
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: build: %w", err)
	}
	return root, nil
}

func (b *Builder) buildDocument(snap protocol.NodeSnapshot, doc *dom.Document) (*dom.Node, error) {
	if err := b.replaceDocumentElement(doc, snap.Children); err != nil {
		return nil, err
	}
	b.ids.Set(snap.ID, doc.Node())
	return doc.Node(), nil
}

// replaceDocumentElement installs a fresh html element holding children.
func (b *Builder) replaceDocumentElement(doc *dom.Document, children []protocol.NodeSnapshot) error {
	html, err := doc.CreateElement("html")
	if err != nil {
		return err
	}
	if err := b.appendChildren(html, children, doc); err != nil {
		return err
	}
	return doc.SetDocumentElement(html)
}

func ensureBody(doc *dom.Document) (*dom.Node, error) {
	if body := doc.Body(); body != nil {
		return body, nil
	}
	html := doc.DocumentElement()
	if html == nil {
		var err error
		if html, err = doc.CreateElement("html"); err != nil {
			return nil, err
		}
		if err := doc.SetDocumentElement(html); err != nil {
			return nil, err
		}
	}
	body, err := doc.CreateElement("body")
	if err != nil {
		return nil, err
	}
	if err := html.AppendChild(body); err != nil {
		return nil, err
	}
	return body, nil
}

// buildNode rebuilds snap and its subtree as detached nodes. Children that
// fail are logged and skipped.
func (b *Builder) buildNode(snap protocol.NodeSnapshot, doc *dom.Document) (*dom.Node, error) {
	switch snap.Type {
	case protocol.NodeText:
		text, _ := snap.Text()
		n := doc.CreateText(text)
		b.ids.Set(snap.ID, n)
		return n, nil

	case protocol.NodeElement:
		if snap.Tag == "script" {
			return nil, fmt.Errorf("%w: script", ErrUnsupportedNode)
		}
		n, err := doc.CreateElement(snap.Tag)
		if err != nil {
			return nil, fmt.Errorf("%w: tag %q: %w", ErrUnsupportedNode, snap.Tag, err)
		}
		for _, name := range sortedKeys(snap.Attributes) {
			if isHandlerAttr(name) {
				continue
			}
			n.SetAttr(name, snap.Attributes[name])
		}
		b.ids.Set(snap.ID, n)
		if err := b.appendChildren(n, snap.Children, doc); err != nil {
			return nil, err
		}
		if b.armer != nil {
			b.armer.Arm(n, ForwardSet(n, snap.ListenEvents))
		}
		return n, nil
	}
	return nil, fmt.Errorf("%w: type %d", ErrUnsupportedNode, snap.Type)
}

// appendChildren rebuilds children under parent. Unsupported nodes are logged
// and skipped; any other failure is returned.
func (b *Builder) appendChildren(parent *dom.Node, children []protocol.NodeSnapshot, doc *dom.Document) error {
	for _, child := range children {
		n, err := b.buildNode(child, doc)
		if errors.Is(err, ErrUnsupportedNode) {
			b.logger.Warn("mirror: skip node", "node_id", child.ID, "tag", child.Tag, "error", err)
			continue
		}
		if err != nil {
			return err
		}
		if err := parent.AppendChild(n); err != nil {
			return fmt.Errorf("attach node %d: %w", child.ID, err)
		}
	}
	return nil
}

// ForwardSet is the set of event kinds a rebuilt node forwards: its declared
// kinds plus click and mouseover, plus input and keyup for form controls.
func ForwardSet(n *dom.Node, declared []string) []string {
	set := slices.Clone(declared)
	set = append(set, dom.EventClick, dom.EventMouseOver)
	if n.IsFormControl() {
		set = append(set, dom.EventInput, dom.EventKeyUp)
	}
	slices.Sort(set)
	return slices.Compact(set)
}

func isHandlerAttr(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "on")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// --- diff application ---

// ApplyChange replaces the node at p.ID with p.Content: its children are
// rebuilt, its attributes synced and its forwarding listeners re-armed. It
// returns ErrUnknownID when the id does not resolve.
func (b *Builder) ApplyChange(p protocol.DOMChange) error {
	target, ok := b.ids.Lookup(p.ID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownID, p.ID)
	}
	doc := target.Document()
	var err error
	doc.Quiet(func() {
		b.ids.RetireChildren(target)
		target.RemoveChildren()
		if target.Type == dom.DocumentNode {
			err = b.replaceDocumentElement(doc, p.Content.Children)
			return
		}
		syncAttributes(target, p.Content.Attributes)
		if err = b.appendChildren(target, p.Content.Children, doc); err != nil {
			return
		}
		if b.armer != nil && target.Type == dom.ElementNode {
			b.armer.Arm(target, ForwardSet(target, p.Content.ListenEvents))
		}
	})
	if err != nil {
		return fmt.Errorf("mirror: change %d: %w", p.ID, err)
	}
	return nil
}

// syncAttributes makes n carry exactly attrs, inline handlers excluded.
func syncAttributes(n *dom.Node, attrs map[string]string) {
	var stale []string
	for _, a := range n.Attrs() {
		if _, keep := attrs[a.Name]; !keep {
			stale = append(stale, a.Name)
		}
	}
	for _, name := range stale {
		n.RemoveAttr(name)
	}
	for _, name := range sortedKeys(attrs) {
		if isHandlerAttr(name) {
			continue
		}
		if v, ok := n.Attr(name); !ok || v != attrs[name] {
			n.SetAttr(name, attrs[name])
		}
	}
}

// ApplyRemoved detaches every listed child and retires its subtree. Ids that
// do not resolve are ignored. It reports false when p.ID does not resolve.
func (b *Builder) ApplyRemoved(p protocol.Removed) bool {
	parent, ok := b.ids.Lookup(p.ID)
	if !ok {
		return false
	}
	parent.Document().Quiet(func() {
		for _, id := range p.ChildrenIDs {
			child, ok := b.ids.Lookup(id)
			if !ok {
				continue
			}
			if from := child.Parent(); from != nil {
				if err := from.RemoveChild(child); err != nil {
					b.logger.Warn("mirror: detach node", "node_id", id, "error", err)
				}
			}
			b.ids.RetireSubtree(child)
		}
	})
	return true
}

// ApplyAttributes writes and removes attributes on the node at p.ID.
func (b *Builder) ApplyAttributes(p protocol.AttributeChange) bool {
	n, ok := b.ids.Lookup(p.ID)
	if !ok {
		return false
	}
	n.Document().Quiet(func() {
		for _, name := range sortedKeys(p.Content) {
			if isHandlerAttr(name) {
				continue
			}
			n.SetAttr(name, p.Content[name])
		}
		for _, name := range p.Removed {
			n.RemoveAttr(name)
		}
	})
	return true
}

// ApplyStyle writes inline style properties on the node at p.ID. Empty values
// remove the property.
func (b *Builder) ApplyStyle(p protocol.Style) bool {
	n, ok := b.ids.Lookup(p.ID)
	if !ok || n.Type != dom.ElementNode {
		return false
	}
	n.Document().Quiet(func() {
		for _, name := range sortedKeys(p.Content) {
			n.SetStyleProperty(name, p.Content[name])
		}
	})
	return true
}
