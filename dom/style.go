package dom

import (
	"sort"
	"strings"
)

// StyleRule is a stylesheet rule with a simple selector: "tag", ".class",
// "#id" or a compound such as "a.nav". Hover rules only apply while the
// element is in the pointer hover chain.
type StyleRule struct {
	Selector   string
	Hover      bool
	Properties map[string]string
}

func (r StyleRule) matches(n *Node) bool {
	sel := strings.TrimSpace(r.Selector)
	if sel == "" || sel == "*" {
		return true
	}
	tag, rest := sel, ""
	if i := strings.IndexAny(sel, ".#"); i >= 0 {
		tag, rest = sel[:i], sel[i:]
	}
	if tag != "" && tag != n.Tag {
		return false
	}
	for rest != "" {
		kind := rest[0]
		rest = rest[1:]
		name := rest
		if i := strings.IndexAny(rest, ".#"); i >= 0 {
			name, rest = rest[:i], rest[i:]
		} else {
			rest = ""
		}
		switch kind {
		case '#':
			if id, _ := n.Attr("id"); id != name {
				return false
			}
		case '.':
			class, _ := n.Attr("class")
			if !hasClass(class, name) {
				return false
			}
		}
	}
	return true
}

func hasClass(list, name string) bool {
	for _, c := range strings.Fields(list) {
		if c == name {
			return true
		}
	}
	return false
}

func parseStyle(s string) map[string]string {
	props := make(map[string]string)
	for _, decl := range strings.Split(s, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		props[name] = value
	}
	return props
}

func formatStyle(props map[string]string) string {
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, k := range names {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(props[k])
		b.WriteByte(';')
	}
	return b.String()
}
