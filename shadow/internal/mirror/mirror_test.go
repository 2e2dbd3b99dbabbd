package mirror

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/hazyhaar/shadow/dom"
	"github.com/hazyhaar/shadow/shadow/internal/idmap"
	"github.com/hazyhaar/shadow/shadow/internal/serializer"
	"github.com/hazyhaar/shadow/shadow/protocol"
)

type recordingArmer struct {
	armed    map[*dom.Node][]string
	disarmed int
}

func (a *recordingArmer) Arm(n *dom.Node, kinds []string) {
	if a.armed == nil {
		a.armed = make(map[*dom.Node][]string)
	}
	a.armed[n] = kinds
}

func (a *recordingArmer) Disarm() {
	a.disarmed++
	a.armed = nil
}

const page = `<html><head><title>T</title></head><body>` +
	`<div id="main" onclick="x()"><span>Hi</span><input name="q" value="v"></div>` +
	`<script>alert(1)</script></body></html>`

func snapshotOf(t *testing.T, markup string) (protocol.NodeSnapshot, *dom.Document) {
	t.Helper()
	d, err := dom.ParseString(markup, "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	s := serializer.New(serializer.Config{IDs: idmap.New(), Allocator: &idmap.Allocator{}})
	snap, _ := s.Serialize(d.Node(), serializer.FreshIDs)
	return snap, d
}

func stripListeners(s protocol.NodeSnapshot) protocol.NodeSnapshot {
	s.ListenEvents = nil
	if s.Children != nil {
		kids := make([]protocol.NodeSnapshot, len(s.Children))
		for i, c := range s.Children {
			kids[i] = stripListeners(c)
		}
		s.Children = kids
	}
	return s
}

func TestBuildRoundTrip(t *testing.T) {
	snap, _ := snapshotOf(t, page)
	ids := idmap.New()
	c := NewContainer()
	b := New(Config{IDs: ids, Armer: &recordingArmer{}})

	root, err := b.Build(snap, c)
	if err != nil {
		t.Fatal(err)
	}
	if root != c.Document().Node() {
		t.Fatal("document snapshot should map to the container's document node")
	}

	again := serializer.New(serializer.Config{IDs: idmap.New(), Allocator: &idmap.Allocator{}})
	got, _ := again.Serialize(c.Document().Node(), serializer.FreshIDs)
	if !reflect.DeepEqual(stripListeners(got), stripListeners(snap)) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, snap)
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	snap, _ := snapshotOf(t, page)
	ids := idmap.New()
	armer := &recordingArmer{}
	c := NewContainer()
	b := New(Config{IDs: ids, Armer: armer})

	if _, err := b.Build(snap, c); err != nil {
		t.Fatal(err)
	}
	first, firstLen := c.HTML(), ids.Len()
	if _, err := b.Build(snap, c); err != nil {
		t.Fatal(err)
	}
	if c.HTML() != first {
		t.Errorf("second build differs:\n%s\n%s", c.HTML(), first)
	}
	if ids.Len() != firstLen {
		t.Errorf("id map size: got %d, want %d", ids.Len(), firstLen)
	}
	if armer.disarmed != 2 {
		t.Errorf("disarm calls: got %d, want 2", armer.disarmed)
	}
}

func TestBuildArmsForwardSet(t *testing.T) {
	snap, _ := snapshotOf(t, page)
	armer := &recordingArmer{}
	ids := idmap.New()
	c := NewContainer()
	if _, err := New(Config{IDs: ids, Armer: armer}).Build(snap, c); err != nil {
		t.Fatal(err)
	}
	body := c.Document().Body()
	div := body.Children()[0]
	input := div.Children()[1]

	if got := strings.Join(armer.armed[div], ","); got != "click,mouseover" {
		t.Errorf("div kinds: got %q", got)
	}
	if got := strings.Join(armer.armed[input], ","); got != "click,input,keyup,mouseover" {
		t.Errorf("input kinds: got %q", got)
	}
	if _, ok := div.Attr("onclick"); ok {
		t.Error("inline handler materialized in mirror")
	}
	if strings.Contains(c.HTML(), "alert") {
		t.Error("script materialized in mirror")
	}
}

func TestApplyDiffs(t *testing.T) {
	snap, _ := snapshotOf(t, `<html><head></head><body><ul id="l"><li>a</li><li>b</li></ul></body></html>`)
	ids := idmap.New()
	c := NewContainer()
	b := New(Config{IDs: ids})
	if _, err := b.Build(snap, c); err != nil {
		t.Fatal(err)
	}
	ulSnap := snap.Children[1].Children[0]
	ul, _ := ids.Lookup(ulSnap.ID)
	secondLi := ulSnap.Children[1].ID

	if !b.ApplyRemoved(protocol.Removed{ID: ulSnap.ID, ChildrenIDs: []protocol.NodeID{secondLi}}) {
		t.Fatal("ApplyRemoved: container not found")
	}
	if len(ul.Children()) != 1 {
		t.Fatalf("children after removal: got %d, want 1", len(ul.Children()))
	}
	if _, ok := ids.Lookup(secondLi); ok {
		t.Error("removed id still resolves")
	}

	b.ApplyAttributes(protocol.AttributeChange{ID: ulSnap.ID, Content: map[string]string{"class": "x", "onclick": "y"}, Removed: []string{"id"}})
	if v, _ := ul.Attr("class"); v != "x" {
		t.Errorf("class: got %q", v)
	}
	if _, ok := ul.Attr("id"); ok {
		t.Error("id attribute not removed")
	}
	if _, ok := ul.Attr("onclick"); ok {
		t.Error("handler attribute applied")
	}

	text := "z"
	change := protocol.DOMChange{ID: ulSnap.ID, Content: protocol.NodeSnapshot{
		ID: ulSnap.ID, Type: protocol.NodeElement, Tag: "ul",
		Children: []protocol.NodeSnapshot{{ID: 50, Type: protocol.NodeElement, Tag: "li",
			Children: []protocol.NodeSnapshot{{ID: 51, Type: protocol.NodeText, Content: &text}}}},
	}}
	if err := b.ApplyChange(change); err != nil {
		t.Fatal(err)
	}
	if ul.TextContent() != "z" {
		t.Errorf("text after change: got %q, want z", ul.TextContent())
	}
	if _, ok := ids.Lookup(ulSnap.Children[0].ID); ok {
		t.Error("replaced child id still resolves")
	}
	if n, _ := ids.Lookup(51); n == nil || n.Parent() == nil {
		t.Error("new text node not registered")
	}

	if err := b.ApplyChange(protocol.DOMChange{ID: 999}); !errors.Is(err, ErrUnknownID) {
		t.Errorf("unknown id: got %v, want ErrUnknownID", err)
	}
}

func TestApplyChangeRefreshesTarget(t *testing.T) {
	snap, _ := snapshotOf(t, `<html><head></head><body><div class="old" title="t"><p>a</p></div></body></html>`)
	ids := idmap.New()
	armer := &recordingArmer{}
	b := New(Config{IDs: ids, Armer: armer})
	if _, err := b.Build(snap, NewContainer()); err != nil {
		t.Fatal(err)
	}
	divSnap := snap.Children[1].Children[0]
	div, _ := ids.Lookup(divSnap.ID)

	err := b.ApplyChange(protocol.DOMChange{ID: divSnap.ID, Content: protocol.NodeSnapshot{
		ID: divSnap.ID, Type: protocol.NodeElement, Tag: "div",
		Attributes:   map[string]string{"class": "new", "onclick": "x()"},
		ListenEvents: []string{dom.EventKeyDown},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := div.Attr("class"); v != "new" {
		t.Errorf("class: got %q, want new", v)
	}
	if _, ok := div.Attr("title"); ok {
		t.Error("stale title kept")
	}
	if _, ok := div.Attr("onclick"); ok {
		t.Error("handler attribute applied")
	}
	want := []string{dom.EventClick, dom.EventKeyDown, dom.EventMouseOver}
	if got := armer.armed[div]; !reflect.DeepEqual(got, want) {
		t.Errorf("armed kinds: got %q, want %q", got, want)
	}
}

func TestBuildSkipsUnsupportedChildren(t *testing.T) {
	text := "ok"
	snap := protocol.NodeSnapshot{ID: 1, Type: protocol.NodeElement, Tag: "div", Children: []protocol.NodeSnapshot{
		{ID: 2, Type: protocol.NodeElement, Tag: "script"},
		{ID: 3, Type: protocol.NodeText, Content: &text},
	}}
	c := NewContainer()
	root, err := New(Config{IDs: idmap.New()}).Build(snap, c)
	if err != nil {
		t.Fatal(err)
	}
	if got := root.TextContent(); got != "ok" {
		t.Errorf("text: got %q, want ok", got)
	}

	if _, err := New(Config{IDs: idmap.New()}).Build(snap.Children[0], NewContainer()); !errors.Is(err, ErrUnsupportedNode) {
		t.Errorf("script root: got %v, want ErrUnsupportedNode", err)
	}
}

func TestApplyStyleAndQuiet(t *testing.T) {
	snap, _ := snapshotOf(t, `<html><head></head><body><a href="/x">x</a></body></html>`)
	ids := idmap.New()
	c := NewContainer()
	b := New(Config{IDs: ids})
	if _, err := b.Build(snap, c); err != nil {
		t.Fatal(err)
	}
	var recs []dom.MutationRecord
	c.Document().Observe(func(r []dom.MutationRecord) { recs = append(recs, r...) })

	linkID := snap.Children[1].Children[0].ID
	b.ApplyStyle(protocol.Style{ID: linkID, Content: map[string]string{"color": "red"}})
	link, _ := ids.Lookup(linkID)
	if v, _ := link.StyleProperty("color"); v != "red" {
		t.Errorf("color: got %q", v)
	}
	b.ApplyStyle(protocol.Style{ID: linkID, Restore: true, Content: map[string]string{"color": ""}})
	if _, ok := link.Attr("style"); ok {
		t.Error("restore should remove the inline style")
	}

	c.Document().DeliverMutations()
	for _, r := range recs {
		if !r.Quiet {
			t.Errorf("non-quiet record from mirror apply: %+v", r)
		}
	}
}

func TestContainerRenderings(t *testing.T) {
	snap, _ := snapshotOf(t, `<html><head></head><body><h1>Title</h1><p>Body <a href="/x">link</a></p></body></html>`)
	c := NewContainer()
	if _, err := New(Config{IDs: idmap.New()}).Build(snap, c); err != nil {
		t.Fatal(err)
	}
	if !c.Loading() {
		t.Error("container should start loading")
	}
	if !c.MarkLoaded() || c.Loading() {
		t.Error("MarkLoaded should clear the overlay")
	}
	if got := c.SanitizedHTML(); !strings.Contains(got, "<h1>Title</h1>") {
		t.Errorf("sanitized: %q", got)
	}
	md, err := c.Markdown()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(md, "# Title") {
		t.Errorf("markdown: %q", md)
	}
}
