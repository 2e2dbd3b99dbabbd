package mirror

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/shadow/dom"
)

// Container is the isolated surface a mirror is rebuilt in. It owns its own
// document, separate from any host document, and never materializes scripts
// or inline handlers.
type Container struct {
	doc     *dom.Document
	loading bool

	scaleX, scaleY float64

	sanitizer *bluemonday.Policy
	md        *converter.Converter
}

// NewContainer returns an empty container showing its loading overlay.
func NewContainer() *Container {
	return &Container{
		doc:       dom.NewEmptyDocument(""),
		loading:   true,
		sanitizer: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Document returns the container's document.
func (c *Container) Document() *dom.Document { return c.doc }

// Loading reports whether the loading overlay is shown.
func (c *Container) Loading() bool { return c.loading }

// ShowLoading puts the loading overlay back, e.g. while a new snapshot is
// being applied.
func (c *Container) ShowLoading() { c.loading = true }

// MarkLoaded removes the loading overlay. It reports whether the overlay was
// shown.
func (c *Container) MarkLoaded() bool {
	was := c.loading
	c.loading = false
	return was
}

// SetScale records the factors the mirror is drawn at to match the peer's
// viewport.
func (c *Container) SetScale(x, y float64) { c.scaleX, c.scaleY = x, y }

// Scale returns the drawing factors, 1 when no resize was received.
func (c *Container) Scale() (x, y float64) {
	if c.scaleX == 0 || c.scaleY == 0 {
		return 1, 1
	}
	return c.scaleX, c.scaleY
}

// HTML renders the mirrored document.
func (c *Container) HTML() string {
	var b strings.Builder
	if err := dom.Render(&b, c.doc.Node()); err != nil {
		return ""
	}
	return b.String()
}

// SanitizedHTML renders the mirror through a user-generated-content policy,
// suitable for writing to disk or serving to a browser.
func (c *Container) SanitizedHTML() string {
	return c.sanitizer.Sanitize(c.HTML())
}

// Markdown renders the mirror as Markdown text.
func (c *Container) Markdown() (string, error) {
	var (
		out string
		err error
	)
	if u := c.doc.URL(); u != "" {
		out, err = c.md.ConvertString(c.HTML(), converter.WithDomain(u))
	} else {
		out, err = c.md.ConvertString(c.HTML())
	}
	if err != nil {
		return "", fmt.Errorf("mirror: markdown: %w", err)
	}
	return out, nil
}
