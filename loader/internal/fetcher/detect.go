package fetcher

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// emptyMounts are SPA root containers that ship empty and fill in via script.
var emptyMounts = map[string]bool{"root": true, "app": true, "__next": true, "__nuxt": true}

// IsSufficient reports whether static HTML carries enough visible text to
// mirror without running its scripts. It wants at least 200 visible
// characters making up at least 10% of the document, no empty SPA mount
// point, and no "enable JavaScript" noscript notice.
func IsSufficient(doc []byte) bool {
	if len(doc) < 256 {
		return false
	}

	z := html.NewTokenizer(bytes.NewReader(doc))
	text := 0
	skip := 0 // depth inside script/style
	pendingMount := false
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if text < 200 || float64(text)/float64(len(doc)) < 0.10 {
				return false
			}
			return true
		case html.StartTagToken:
			pendingMount = false
			name, hasAttr := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "div":
				for hasAttr {
					var k, v []byte
					k, v, hasAttr = z.TagAttr()
					if string(k) == "id" && emptyMounts[string(v)] {
						pendingMount = true
					}
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "div":
				if pendingMount {
					return false
				}
			}
			pendingMount = false
		case html.TextToken:
			if skip > 0 {
				continue
			}
			raw := z.Text()
			if pendingMount && len(bytes.TrimSpace(raw)) > 0 {
				pendingMount = false
			}
			lower := strings.ToLower(string(raw))
			if strings.Contains(lower, "enable javascript") || strings.Contains(lower, "need javascript") {
				return false
			}
			for _, r := range string(raw) {
				if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
					text++
				}
			}
		default:
			pendingMount = false
		}
	}
}
