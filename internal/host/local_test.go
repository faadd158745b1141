package host

import (
	"context"
	"path/filepath"
	"testing"
)

func TestLocalHostPutGetFile(t *testing.T) {
	h := NewLocal("")
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "f.txt")
	ctx := context.Background()

	if err := h.PutFile(ctx, path, []byte("hello")); err != nil {
		t.Fatalf("put: %v", err)
	}
	data, err := h.GetFile(ctx, path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
}

func TestLocalHostGetFileMissing(t *testing.T) {
	h := NewLocal("")
	_, err := h.GetFile(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLocalHostRunCommandNeverRaisesOnNonzeroExit(t *testing.T) {
	h := NewLocal("")
	res, err := h.RunCommand(context.Background(), "exit 7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Exit != 7 {
		t.Fatalf("expected exit 7, got %d", res.Exit)
	}
}

func TestLocalHostEnsureDirectory(t *testing.T) {
	h := NewLocal("")
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := h.EnsureDirectory(context.Background(), dir); err != nil {
		t.Fatalf("ensure: %v", err)
	}
}
