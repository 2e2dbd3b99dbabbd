package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Page is a rendered document.
type Page struct {
	URL  string // location.href after redirects and client routing
	HTML string // document.documentElement.outerHTML
}

// Render opens a stealth tab, navigates to pageURL, waits for load and
// returns the rendered DOM. The tab is closed before returning.
func (m *Manager) Render(ctx context.Context, pageURL string, timeout time.Duration) (*Page, error) {
	b, err := m.Browser()
	if err != nil {
		return nil, err
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	defer page.Close()

	if len(m.cfg.Block) > 0 {
		stopBlocking := blockResources(page, m.cfg.Block)
		defer stopBlocking()
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p := page.Context(navCtx)

	if err := p.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		m.cfg.Logger.Warn("browser: wait load", "url", pageURL, "error", err)
	}

	res, err := p.Eval(`() => [location.href, document.documentElement.outerHTML]`)
	if err != nil {
		return nil, fmt.Errorf("browser: read DOM: %w", err)
	}
	arr := res.Value.Arr()
	if len(arr) != 2 {
		return nil, fmt.Errorf("browser: read DOM: unexpected result %s", res.Value.String())
	}
	return &Page{URL: arr[0].Str(), HTML: arr[1].Str()}, nil
}

// blockResources fails requests for the listed resource types.
func blockResources(page *rod.Page, types []string) (stop func()) {
	blocked := make(map[string]bool, len(types))
	for _, t := range types {
		blocked[strings.ToLower(t)] = true
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(blocked, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return func() { router.Stop() }
}

// shouldBlock maps CDP resource types onto config names.
func shouldBlock(blocked map[string]bool, resType string) bool {
	lower := strings.ToLower(resType)
	switch lower {
	case "image":
		return blocked["images"]
	case "font":
		return blocked["fonts"]
	case "media":
		return blocked["media"]
	case "stylesheet":
		return blocked["stylesheets"]
	}
	return blocked[lower]
}
