package loader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/shadow/loader/internal/browser"
)

const staticPage = `<!DOCTYPE html><html><head><title>Doc</title></head><body><article><h1>Static</h1><p>` +
	`Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore ` +
	`et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut ` +
	`aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse.` +
	`</p></article></body></html>`

const shellPage = `<!DOCTYPE html><html><head><title>App</title></head><body><div id="root"></div>` +
	`<script src="/main.js"></script><!-- ` + "padding padding padding padding padding padding padding padding " +
	"padding padding padding padding padding padding padding padding padding padding padding padding" + ` --></body></html>`

type fakeRenderer struct {
	calls int
	err   error
}

func (f *fakeRenderer) Render(_ context.Context, pageURL string, _ time.Duration) (*browser.Page, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &browser.Page{URL: pageURL + "#rendered", HTML: `<html><body><div id="root"><p>Rendered</p></div></body></html>`}, nil
}

func (f *fakeRenderer) Close() error { return nil }

func newTestLoader(mode Mode, r *fakeRenderer) *Loader {
	l := New(Config{Mode: mode, AllowPrivate: true})
	l.browser = r
	return l
}

func site(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/static", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte(staticPage)) })
	mux.HandleFunc("/shell", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte(shellPage)) })
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAuto, "AUTO": ModeAuto, "http": ModeHTTP, " browser ": ModeBrowser} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q): got %q %v, want %q", in, got, err, want)
		}
	}
	if _, err := ParseMode("curl"); err == nil {
		t.Error("unknown mode: want error")
	}
}

func TestAutoStaticStaysHTTP(t *testing.T) {
	ts := site(t)
	r := &fakeRenderer{}
	page, err := newTestLoader(ModeAuto, r).Load(context.Background(), ts.URL+"/static")
	if err != nil {
		t.Fatal(err)
	}
	if page.Mode != ModeHTTP || r.calls != 0 {
		t.Fatalf("mode %q, renderer calls %d; want http and 0", page.Mode, r.calls)
	}
	if page.Document.URL() != ts.URL+"/static" {
		t.Errorf("document url: got %q", page.Document.URL())
	}
	if !strings.Contains(page.Document.Body().TextContent(), "Static") {
		t.Errorf("body: got %q", page.Document.Body().TextContent())
	}
}

func TestAutoShellEscalates(t *testing.T) {
	ts := site(t)
	r := &fakeRenderer{}
	page, err := newTestLoader(ModeAuto, r).Load(context.Background(), ts.URL+"/shell")
	if err != nil {
		t.Fatal(err)
	}
	if page.Mode != ModeBrowser || r.calls != 1 {
		t.Fatalf("mode %q, renderer calls %d; want browser and 1", page.Mode, r.calls)
	}
	if page.URL != ts.URL+"/shell#rendered" {
		t.Errorf("url: got %q", page.URL)
	}
	if got := page.Document.Body().TextContent(); got != "Rendered" {
		t.Errorf("body: got %q", got)
	}
}

func TestAutoFallsBackToStaticHTML(t *testing.T) {
	ts := site(t)
	r := &fakeRenderer{err: errors.New("no chrome")}
	page, err := newTestLoader(ModeAuto, r).Load(context.Background(), ts.URL+"/shell")
	if err != nil {
		t.Fatal(err)
	}
	if page.Mode != ModeHTTP || r.calls != 1 {
		t.Fatalf("mode %q, renderer calls %d", page.Mode, r.calls)
	}
}

func TestHTTPModeNeverRenders(t *testing.T) {
	ts := site(t)
	r := &fakeRenderer{}
	page, err := newTestLoader(ModeHTTP, r).Load(context.Background(), ts.URL+"/shell")
	if err != nil {
		t.Fatal(err)
	}
	if page.Mode != ModeHTTP || r.calls != 0 {
		t.Fatalf("mode %q, renderer calls %d", page.Mode, r.calls)
	}
}

func TestBrowserModeAlwaysRenders(t *testing.T) {
	ts := site(t)
	r := &fakeRenderer{}
	page, err := newTestLoader(ModeBrowser, r).Load(context.Background(), ts.URL+"/static")
	if err != nil {
		t.Fatal(err)
	}
	if page.Mode != ModeBrowser || r.calls != 1 {
		t.Fatalf("mode %q, renderer calls %d", page.Mode, r.calls)
	}
}

func TestPrivateTargetsRejected(t *testing.T) {
	r := &fakeRenderer{}
	l := New(Config{Mode: ModeAuto})
	l.browser = r
	if _, err := l.Load(context.Background(), "http://127.0.0.1:1/"); err == nil {
		t.Fatal("want error for loopback target")
	}
	if r.calls != 0 {
		t.Fatalf("renderer called %d times for a rejected target", r.calls)
	}
}
