package browser

import (
	"context"
	"errors"
	"testing"
)

func TestShouldBlock(t *testing.T) {
	blocked := map[string]bool{"images": true, "fonts": true, "xhr": true}
	tests := []struct {
		resType string
		want    bool
	}{
		{"Image", true},
		{"Font", true},
		{"Stylesheet", false},
		{"Media", false},
		{"XHR", true},
		{"Document", false},
	}
	for _, tt := range tests {
		if got := shouldBlock(blocked, tt.resType); got != tt.want {
			t.Errorf("shouldBlock(%q): got %v, want %v", tt.resType, got, tt.want)
		}
	}
}

func TestDefaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.MemoryLimit != 1<<30 {
		t.Errorf("memory limit: got %d", m.cfg.MemoryLimit)
	}
	if m.cfg.RecycleInterval.Hours() != 4 {
		t.Errorf("recycle interval: got %v", m.cfg.RecycleInterval)
	}
	if m.cfg.Logger == nil {
		t.Error("logger not defaulted")
	}
}

func TestClosedManager(t *testing.T) {
	m := NewManager(Config{})
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := m.Browser(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Browser after close: got %v, want ErrClosed", err)
	}
	if _, err := m.Render(context.Background(), "https://example.com/", 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("Render after close: got %v, want ErrClosed", err)
	}
}
