package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPipeOrder(t *testing.T) {
	ctx := testContext(t)
	a, b := Pipe()
	for _, m := range []string{"one", "two", "three"} {
		if err := a.Send(ctx, []byte(m)); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		got, err := b.Receive(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestPipeSendCopies(t *testing.T) {
	ctx := testContext(t)
	a, b := Pipe()
	buf := []byte("abc")
	a.Send(ctx, buf)
	buf[0] = 'x'
	got, _ := b.Receive(ctx)
	if string(got) != "abc" {
		t.Errorf("got %q, want abc", got)
	}
}

func TestPipeCloseDrainsThenEOF(t *testing.T) {
	ctx := testContext(t)
	a, b := Pipe()
	a.Send(ctx, []byte("last"))
	a.Close()

	if got, err := b.Receive(ctx); err != nil || string(got) != "last" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := b.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("got %v, want io.EOF", err)
	}
	if err := b.Send(ctx, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close: got %v, want ErrClosed", err)
	}
}

func TestPipeReceiveHonorsContext(t *testing.T) {
	_, b := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

func TestWebSocketEcho(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(typ, append([]byte("echo:"), data...)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx := testContext(t)
	ws, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), WithBinary(true))
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	for _, m := range []string{"a", "b", "c"} {
		if err := ws.Send(ctx, []byte(m)); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"echo:a", "echo:b", "echo:c"} {
		got, err := ws.Receive(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}

	ws.Close()
	if err := ws.Send(ctx, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close: got %v", err)
	}
	if _, err := ws.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("receive after close: got %v, want io.EOF", err)
	}
}

func TestDialWebSocketFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := DialWebSocket(testContext(t), "ws"+strings.TrimPrefix(srv.URL, "http")); err == nil {
		t.Error("want dial error")
	}
}

func connectedDataChannels(t *testing.T) (*webrtc.DataChannel, *webrtc.DataChannel) {
	t.Helper()
	pcA, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	pcB, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		pcA.Close()
		pcB.Close()
	})

	remote := make(chan *webrtc.DataChannel, 1)
	pcB.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() { remote <- dc })
	})
	local, err := pcA.CreateDataChannel("shadow", nil)
	if err != nil {
		t.Fatal(err)
	}
	opened := make(chan struct{})
	local.OnOpen(func() { close(opened) })

	offer, err := pcA.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gatherA := webrtc.GatheringCompletePromise(pcA)
	if err := pcA.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	<-gatherA
	if err := pcB.SetRemoteDescription(*pcA.LocalDescription()); err != nil {
		t.Fatal(err)
	}
	answer, err := pcB.CreateAnswer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gatherB := webrtc.GatheringCompletePromise(pcB)
	if err := pcB.SetLocalDescription(answer); err != nil {
		t.Fatal(err)
	}
	<-gatherB
	if err := pcA.SetRemoteDescription(*pcB.LocalDescription()); err != nil {
		t.Fatal(err)
	}

	var dcB *webrtc.DataChannel
	select {
	case dcB = <-remote:
	case <-time.After(10 * time.Second):
		t.Skip("data channel did not open; no usable local ICE candidates")
	}
	select {
	case <-opened:
	case <-time.After(10 * time.Second):
		t.Skip("data channel did not open locally")
	}
	return local, dcB
}

func TestDataChannelRoundTrip(t *testing.T) {
	dcA, dcB := connectedDataChannels(t)
	a := NewDataChannel(dcA, false)
	b := NewDataChannel(dcB, true)
	ctx := testContext(t)

	if err := a.Send(ctx, []byte(`{"type":5}`)); err != nil {
		t.Fatal(err)
	}
	if err := b.Send(ctx, []byte{0xa2, 0x01}); err != nil {
		t.Fatal(err)
	}
	if got, err := b.Receive(ctx); err != nil || string(got) != `{"type":5}` {
		t.Errorf("b received %q, %v", got, err)
	}
	if got, err := a.Receive(ctx); err != nil || len(got) != 2 || got[0] != 0xa2 {
		t.Errorf("a received %x, %v", got, err)
	}

	a.Close()
	if err := a.Send(ctx, []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close: got %v", err)
	}
}
