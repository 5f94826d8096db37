package browser

import (
	"context"
	"errors"
	"testing"
)

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.Logger == nil {
		t.Fatal("logger default not applied")
	}
	if m.Remote() {
		t.Error("empty RemoteURL should launch locally")
	}
	if m.Browser() != nil {
		t.Error("browser before Start")
	}
}

func TestStart_AfterClose(t *testing.T) {
	m := NewManager(Config{RemoteURL: "ws://127.0.0.1:1/devtools/browser/x"})
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Start after Close = %v, want ErrClosed", err)
	}
}

func TestOpenPage_NoBrowser(t *testing.T) {
	_, err := OpenPage(context.Background(), NewManager(Config{}), "https://x.com/home")
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("OpenPage = %v, want ErrNotStarted", err)
	}
}
