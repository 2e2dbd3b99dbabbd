// Package serializer turns live dom subtrees into protocol node snapshots.
package serializer

import (
	"strings"

	"github.com/hazyhaar/shadow/dom"
	"github.com/hazyhaar/shadow/shadow/internal/idmap"
	"github.com/hazyhaar/shadow/shadow/protocol"
)

// IDPolicy controls id assignment for the root of a serialization.
type IDPolicy int

const (
	// FreshIDs allocates a new id for every node, root included.
	FreshIDs IDPolicy = iota
	// RefreshRoot keeps the root's registered id and allocates fresh ids for
	// its descendants. Diffs use it so the receiver can find the container.
	RefreshRoot
)

// DefaultAttributeAllowlist lists the attribute names carried in snapshots.
// aria-* and data-* attributes are always carried; on* handlers never are.
var DefaultAttributeAllowlist = []string{
	"accept", "action", "align", "alt", "autocomplete", "charset", "checked",
	"class", "cols", "colspan", "content", "datetime", "dir", "disabled",
	"download", "enctype", "for", "headers", "height", "hidden", "href",
	"hreflang", "id", "label", "lang", "list", "max", "maxlength", "media",
	"method", "min", "minlength", "multiple", "name", "pattern", "placeholder",
	"poster", "readonly", "rel", "required", "role", "rows", "rowspan",
	"scope", "selected", "size", "sizes", "span", "src", "srcset", "start",
	"step", "style", "tabindex", "target", "title", "type", "value", "width",
}

var urlAttributes = map[string]bool{"href": true, "src": true, "action": true, "poster": true}

var skippedTags = map[string]bool{"script": true, "noscript": true}

// Config configures a Serializer.
type Config struct {
	IDs       *idmap.Map
	Allocator *idmap.Allocator
	Origin    Origin
	// Allowlist replaces DefaultAttributeAllowlist when non-nil.
	Allowlist []string
}

// Serializer walks live trees, registering every serialized node in the id map.
type Serializer struct {
	ids    *idmap.Map
	alloc  *idmap.Allocator
	origin Origin
	allow  map[string]bool
}

// New creates a Serializer.
func New(cfg Config) *Serializer {
	names := cfg.Allowlist
	if names == nil {
		names = DefaultAttributeAllowlist
	}
	allow := make(map[string]bool, len(names))
	for _, n := range names {
		allow[strings.ToLower(n)] = true
	}
	return &Serializer{ids: cfg.IDs, alloc: cfg.Allocator, origin: cfg.Origin, allow: allow}
}

// SetOrigin changes the origin used for subsequent serializations.
func (s *Serializer) SetOrigin(o Origin) { s.origin = o }

// Origin returns the current origin.
func (s *Serializer) Origin() Origin { return s.origin }

// Serializable reports whether n would appear in a snapshot.
func Serializable(n *dom.Node) bool {
	if n == nil || n.IsChrome() {
		return false
	}
	switch n.Type {
	case dom.ElementNode:
		return !skippedTags[n.Tag]
	case dom.TextNode:
		_, ok := n.Text()
		return ok
	case dom.DocumentNode:
		return true
	}
	return false
}

// Serialize snapshots root and its subtree in preorder. ok is false when
// root itself is not serializable.
func (s *Serializer) Serialize(root *dom.Node, policy IDPolicy) (snap protocol.NodeSnapshot, ok bool) {
	if !Serializable(root) {
		return protocol.NodeSnapshot{}, false
	}
	id, known := s.ids.ID(root)
	if policy != RefreshRoot || !known {
		id = s.alloc.Next()
	}
	return s.serialize(root, id), true
}

func (s *Serializer) serialize(n *dom.Node, id protocol.NodeID) protocol.NodeSnapshot {
	s.ids.Set(id, n)
	snap := protocol.NodeSnapshot{
		ID:           id,
		Type:         int(n.Type),
		ListenEvents: n.ListenedKinds(),
	}
	switch n.Type {
	case dom.TextNode:
		text, _ := n.Text()
		snap.Content = &text
		return snap
	case dom.ElementNode:
		snap.Tag = n.Tag
		snap.Attributes = s.attributes(n)
		snap.Children = s.children(n.Children())
	case dom.DocumentNode:
		var parts []*dom.Node
		for _, c := range []*dom.Node{n.Document().Head(), n.Document().Body()} {
			if c != nil {
				parts = append(parts, c)
			}
		}
		snap.Children = s.children(parts)
	}
	return snap
}

func (s *Serializer) children(nodes []*dom.Node) []protocol.NodeSnapshot {
	var out []protocol.NodeSnapshot
	for _, c := range nodes {
		if !Serializable(c) {
			continue
		}
		out = append(out, s.serialize(c, s.alloc.Next()))
	}
	return out
}

func (s *Serializer) attributes(n *dom.Node) map[string]string {
	var out map[string]string
	for _, a := range n.Attrs() {
		v, keep := s.Attribute(a.Name, a.Value)
		if !keep {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[a.Name] = v
	}
	return out
}

// Attribute filters and rewrites one attribute the way snapshots carry it.
func (s *Serializer) Attribute(name, value string) (string, bool) {
	if value == "" || !s.Allowed(name) {
		return "", false
	}
	switch {
	case urlAttributes[name]:
		value = s.origin.Resolve(value)
	case name == "srcset":
		value = s.origin.resolveSrcset(value)
	}
	return value, true
}

// Allowed reports whether an attribute name passes the allowlist.
func (s *Serializer) Allowed(name string) bool {
	name = strings.ToLower(name)
	if strings.HasPrefix(name, "on") {
		return false
	}
	if strings.HasPrefix(name, "aria-") || strings.HasPrefix(name, "data-") {
		return true
	}
	return s.allow[name]
}
