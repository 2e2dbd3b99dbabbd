// Package loader turns a URL into the live dom.Document a controller session
// shares. Static pages come from a single HTTP GET; pages that ship an empty
// shell are rendered in headless Chrome first.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/shadow/dom"
	"github.com/hazyhaar/shadow/loader/internal/browser"
	"github.com/hazyhaar/shadow/loader/internal/fetcher"
)

// Mode selects how a page is acquired.
type Mode string

const (
	ModeAuto    Mode = "auto"    // HTTP, escalating to the browser when insufficient
	ModeHTTP    Mode = "http"    // HTTP only
	ModeBrowser Mode = "browser" // browser only
)

// ParseMode accepts auto, http or browser; empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeHTTP, ModeBrowser:
		return m, nil
	default:
		return "", fmt.Errorf("loader: unknown mode %q", s)
	}
}

// Config configures a Loader.
type Config struct {
	Mode        Mode
	Timeout     time.Duration // per page, default 30s
	MaxBody     int64         // HTTP body cap, default 10 MiB
	UserAgent   string
	Remote      string // external Chrome DevTools URL
	MemoryLimit int64  // Chrome recycle threshold
	// AllowPrivate permits loopback and private network targets.
	AllowPrivate bool
	Logger       *slog.Logger
}

// Page is a loaded controller document.
type Page struct {
	Document *dom.Document
	URL      string
	Mode     Mode // how it was actually obtained
}

type renderer interface {
	Render(ctx context.Context, pageURL string, timeout time.Duration) (*browser.Page, error)
	Close() error
}

// Loader fetches and parses pages.
type Loader struct {
	cfg     Config
	fetch   *fetcher.Fetcher
	browser renderer
	logger  *slog.Logger
}

// New creates a Loader. Chrome is only launched when a page needs it.
func New(cfg Config) *Loader {
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts := []fetcher.Option{fetcher.WithTimeout(cfg.Timeout), fetcher.WithLogger(cfg.Logger)}
	if cfg.MaxBody > 0 {
		opts = append(opts, fetcher.WithMaxBody(cfg.MaxBody))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, fetcher.WithUserAgent(cfg.UserAgent))
	}
	if cfg.AllowPrivate {
		opts = append(opts, fetcher.AllowPrivate())
	}
	return &Loader{
		cfg:   cfg,
		fetch: fetcher.New(opts...),
		browser: browser.NewManager(browser.Config{
			RemoteURL:   cfg.Remote,
			MemoryLimit: cfg.MemoryLimit,
			Block:       []string{"media", "fonts"},
			Logger:      cfg.Logger,
		}),
		logger: cfg.Logger.With("component", "loader"),
	}
}

// Load acquires pageURL according to the configured mode.
func (l *Loader) Load(ctx context.Context, pageURL string) (*Page, error) {
	switch l.cfg.Mode {
	case ModeBrowser:
		return l.render(ctx, pageURL)
	case ModeHTTP:
		res, err := l.fetch.Fetch(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		return parse(res.HTML, res.URL, ModeHTTP)
	}

	res, err := l.fetch.Fetch(ctx, pageURL)
	if err != nil {
		l.logger.Info("loader: http fetch failed, trying browser", "url", pageURL, "error", err)
		if errors.Is(err, fetcher.ErrSSRF) || errors.Is(err, fetcher.ErrUnsafeScheme) {
			return nil, err
		}
		return l.render(ctx, pageURL)
	}
	if res.Sufficient {
		return parse(res.HTML, res.URL, ModeHTTP)
	}
	l.logger.Info("loader: static html insufficient, escalating", "url", res.URL)
	page, err := l.render(ctx, res.URL)
	if err != nil {
		l.logger.Warn("loader: browser failed, using static html", "url", res.URL, "error", err)
		return parse(res.HTML, res.URL, ModeHTTP)
	}
	return page, nil
}

// Close stops Chrome if it was started.
func (l *Loader) Close() error {
	return l.browser.Close()
}

func (l *Loader) render(ctx context.Context, pageURL string) (*Page, error) {
	if !l.cfg.AllowPrivate {
		if err := fetcher.ValidateURL(pageURL); err != nil {
			return nil, err
		}
	}
	rendered, err := l.browser.Render(ctx, pageURL, l.cfg.Timeout)
	if err != nil {
		return nil, err
	}
	href := rendered.URL
	if href == "" {
		href = pageURL
	}
	return parse([]byte(rendered.HTML), href, ModeBrowser)
}

func parse(html []byte, href string, mode Mode) (*Page, error) {
	doc, err := dom.Parse(bytes.NewReader(html), href)
	if err != nil {
		return nil, fmt.Errorf("loader: parse %s: %w", href, err)
	}
	return &Page{Document: doc, URL: href, Mode: mode}, nil
}
