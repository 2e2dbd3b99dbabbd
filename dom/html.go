package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse reads an HTML document into a new Document located at pageURL.
// Comments and the doctype are dropped. Style rules are not extracted.
func Parse(r io.Reader, pageURL string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	d := NewEmptyDocument(pageURL)
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := d.importNode(c); n != nil {
			n.parent = d.root
			d.root.children = append(d.root.children, n)
		}
	}
	return d, nil
}

// ParseString is Parse on a string.
func ParseString(s, pageURL string) (*Document, error) {
	return Parse(strings.NewReader(s), pageURL)
}

// parseFragment parses markup in the context of a body element and returns
// detached nodes owned by d.
func (d *Document) parseFragment(markup string) ([]*Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	var out []*Node
	for _, hn := range nodes {
		if n := d.importNode(hn); n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func (d *Document) importNode(hn *html.Node) *Node {
	switch hn.Type {
	case html.ElementNode:
		n := d.newElement(strings.ToLower(hn.Data))
		for _, a := range hn.Attr {
			name := strings.ToLower(a.Key)
			if a.Namespace != "" {
				name = a.Namespace + ":" + name
			}
			if _, dup := n.Attr(name); dup {
				continue
			}
			n.attrs = append(n.attrs, Attribute{Name: name, Value: a.Val})
		}
		for c := hn.FirstChild; c != nil; c = c.NextSibling {
			if cn := d.importNode(c); cn != nil {
				cn.parent = n
				n.children = append(n.children, cn)
			}
		}
		return n
	case html.TextNode:
		return d.CreateText(hn.Data)
	default:
		return nil
	}
}

// Render writes n and its subtree as HTML. Chrome nodes are skipped.
func Render(w io.Writer, n *Node) error {
	if n.Type == DocumentNode {
		doc := &html.Node{Type: html.DocumentNode}
		for _, c := range n.children {
			if hc := exportNode(c); hc != nil {
				doc.AppendChild(hc)
			}
		}
		return html.Render(w, doc)
	}
	hn := exportNode(n)
	if hn == nil {
		return nil
	}
	return html.Render(w, hn)
}

// OuterHTML renders n to a string.
func (n *Node) OuterHTML() string {
	var buf bytes.Buffer
	if err := Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

func exportNode(n *Node) *html.Node {
	if n.chrome {
		return nil
	}
	switch n.Type {
	case TextNode:
		return &html.Node{Type: html.TextNode, Data: n.data}
	case ElementNode:
		hn := &html.Node{Type: html.ElementNode, Data: n.Tag, DataAtom: atom.Lookup([]byte(n.Tag))}
		for _, a := range n.attrs {
			hn.Attr = append(hn.Attr, html.Attribute{Key: a.Name, Val: a.Value})
		}
		for _, c := range n.children {
			if hc := exportNode(c); hc != nil {
				hn.AppendChild(hc)
			}
		}
		return hn
	default:
		return nil
	}
}
