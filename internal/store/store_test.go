package store

import (
	"context"
	"testing"
	"time"

	"cirrusflow/internal/target"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	tg := target.New("t1", "demo", time.Now())
	if err := s.Put(ctx, tg); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "t1" || got.State() != target.Passive {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Get(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompareAndSwapRejectsStaleWriter(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	tg := target.New("t1", "demo", time.Now())
	if err := s.Put(ctx, tg); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := tg.Activate(time.Now(), true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := s.CompareAndSwap(ctx, tg, 1); err != nil {
		t.Fatalf("first cas: %v", err)
	}

	// A second writer still holding the length-1 snapshot must be rejected
	// now that the record has two history entries.
	stale := target.New("t1", "demo", time.Now())
	if err := s.CompareAndSwap(ctx, stale, 1); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestIndicesReflectProjection(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	passive := target.New("p1", "passive", time.Now())
	if err := s.Put(ctx, passive); err != nil {
		t.Fatalf("put passive: %v", err)
	}

	active := target.New("a1", "active", time.Now())
	if err := active.Activate(time.Now(), true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := s.Put(ctx, active); err != nil {
		t.Fatalf("put active: %v", err)
	}

	if got := s.PassiveIDs(); len(got) != 1 || got[0] != "p1" {
		t.Fatalf("expected passive ids [p1], got %v", got)
	}
	if got := s.ActiveIDs(); len(got) != 1 || got[0] != "a1" {
		t.Fatalf("expected active ids [a1], got %v", got)
	}
}

func TestRecoverRebuildsIndicesFromDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	active := target.New("a1", "active", time.Now())
	if err := active.Activate(time.Now(), true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := s1.Put(ctx, active); err != nil {
		t.Fatalf("put: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := s2.ActiveIDs(); len(got) != 0 {
		t.Fatalf("expected empty index before recovery, got %v", got)
	}
	if err := s2.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got := s2.ActiveIDs(); len(got) != 1 || got[0] != "a1" {
		t.Fatalf("expected active ids [a1] after recovery, got %v", got)
	}
}

func TestAppendAndReadCommandLog(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.AppendCommand(Command{Kind: CommandKill, TargetID: "t1", Timestamp: time.Now()}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendCommand(Command{Kind: CommandPause, Timestamp: time.Now()}); err != nil {
		t.Fatalf("append: %v", err)
	}
	log, err := s.ReadCommandLog()
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(log) != 2 || log[0].Kind != CommandKill || log[1].Kind != CommandPause {
		t.Fatalf("unexpected log contents: %+v", log)
	}
}
