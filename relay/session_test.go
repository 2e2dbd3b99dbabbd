package relay_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/shadow/dom"
	"github.com/hazyhaar/shadow/relay"
	"github.com/hazyhaar/shadow/shadow"
	"github.com/hazyhaar/shadow/shadow/protocol"
	"github.com/hazyhaar/shadow/transport"
)

func await[T protocol.Payload](t *testing.T, ch <-chan protocol.Envelope, what string) {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case env := <-ch:
			if _, ok := env.Payload.(T); ok {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func TestSessionsOverRelay(t *testing.T) {
	srv := relay.New(relay.Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/e2e"

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	codec, err := protocol.CodecByName("cbor+zstd")
	if err != nil {
		t.Fatal(err)
	}
	viewCh, err := transport.DialWebSocket(ctx, url+"?role=viewer", transport.WithBinary(true))
	if err != nil {
		t.Fatal(err)
	}
	ctlCh, err := transport.DialWebSocket(ctx, url+"?role=controller", transport.WithBinary(true))
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for srv.Hub().Members("e2e") != 2 {
		if time.Now().After(deadline) {
			t.Fatal("peers did not join")
		}
		time.Sleep(5 * time.Millisecond)
	}

	applied := make(chan protocol.Envelope, 64)
	view, err := shadow.New(shadow.Options{
		Role: shadow.Viewer, Channel: viewCh, Codec: codec,
		Hooks: shadow.Hooks{Applied: func(env protocol.Envelope) {
			select {
			case applied <- env:
			default:
			}
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	live, err := dom.ParseString(`<html><body><main id="m"><h1>Hello</h1></main></body></html>`, "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	ctl, err := shadow.New(shadow.Options{Role: shadow.Controller, Channel: ctlCh, Document: live, Codec: codec})
	if err != nil {
		t.Fatal(err)
	}
	if err := view.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer view.End()
	if err := ctl.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer ctl.End()

	await[protocol.Snapshot](t, applied, "snapshot")
	view.Do(func(doc *dom.Document) {
		if got := doc.Body().TextContent(); got != "Hello" {
			t.Errorf("mirror text: got %q, want Hello", got)
		}
	})

	ctl.Do(func(doc *dom.Document) {
		var main *dom.Node
		doc.Node().Walk(func(n *dom.Node) bool {
			if v, ok := n.Attr("id"); ok && v == "m" {
				main = n
			}
			return main == nil
		})
		p, _ := doc.CreateElement("p")
		p.AppendChild(doc.CreateText("world"))
		main.AppendChild(p)
	})
	await[protocol.DOMChange](t, applied, "DOM_CHANGE")
	view.Do(func(doc *dom.Document) {
		if got := doc.Body().TextContent(); got != "Helloworld" {
			t.Errorf("mirror text after change: got %q, want Helloworld", got)
		}
	})
}
