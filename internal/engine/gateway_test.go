package engine

import (
	"context"
	"testing"
	"time"

	"cirrusflow/internal/api"
	"cirrusflow/internal/backend"
	"cirrusflow/internal/host"
	"cirrusflow/internal/target"
)

func TestSubmitCreatesPassiveTargetWithBackendRunParameters(t *testing.T) {
	b := &fakeBackend{name: "proc"}
	e, st := newTestEngine(t, b)
	ctx := context.Background()

	ids, err := e.Submit(ctx, []api.TargetSpec{{
		Name:      "build",
		Tags:      []string{"ci"},
		BuildKind: target.LongRunning,
		Backend:   "proc",
		Config:    map[string]any{"cmd": "make"},
	}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("got %d ids, want 1", len(ids))
	}

	tg, err := st.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tg.Name != "build" || tg.State() != target.Passive {
		t.Fatalf("target = %+v, state %s", tg, tg.State())
	}
	if string(tg.BuildProcess.RunParameters) != "{}" {
		t.Fatalf("RunParameters = %q, want backend.Create's output", tg.BuildProcess.RunParameters)
	}
	if _, ok := tg.Tags["ci"]; !ok {
		t.Fatalf("tag ci missing: %+v", tg.Tags)
	}
}

func TestSubmitUnknownBackendErrors(t *testing.T) {
	b := &fakeBackend{name: "proc"}
	e, _ := newTestEngine(t, b)

	_, err := e.Submit(context.Background(), []api.TargetSpec{{Name: "x", Backend: "nope"}})
	if err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

func TestQueryFiltersByActivable(t *testing.T) {
	b := &fakeBackend{name: "proc"}
	e, st := newTestEngine(t, b)
	ctx := context.Background()

	passive := target.New("p1", "passive-one", time.Now())
	mustPut(t, st, passive)

	active := target.New("a1", "active-one", time.Now())
	if err := active.Activate(time.Now(), true); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	mustPut(t, st, active)

	got, err := e.Query(ctx, "(is-activable)")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Fatalf("got %+v, want just p1", got)
	}
}

func TestGetTargetReturnsStoredRecord(t *testing.T) {
	b := &fakeBackend{name: "proc"}
	e, st := newTestEngine(t, b)
	ctx := context.Background()

	tg := target.New("t1", "build", time.Now())
	mustPut(t, st, tg)

	got, err := e.GetTarget(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if got.Name != "build" {
		t.Fatalf("Name = %q", got.Name)
	}
}

func TestKillAppliesToEveryID(t *testing.T) {
	b := &fakeBackend{name: "proc"}
	e, st := newTestEngine(t, b)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		tg := target.New(id, id, time.Now())
		tg.BuildProcess = target.BuildProcess{Kind: target.LongRunning, Backend: "proc", RunParameters: []byte("rp")}
		if err := tg.Activate(time.Now(), true); err != nil {
			t.Fatalf("Activate: %v", err)
		}
		mustPut(t, st, tg)
	}

	if err := e.Kill(ctx, []string{"t1", "t2"}); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	for _, id := range []string{"t1", "t2"} {
		got, err := st.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if got.State() != target.Killed {
			t.Fatalf("%s state = %s, want killed", id, got.State())
		}
	}
	if b.killCalls != 2 {
		t.Fatalf("killCalls = %d, want 2", b.killCalls)
	}
}

func TestKillStopsAtFirstUnknownID(t *testing.T) {
	b := &fakeBackend{name: "proc"}
	e, _ := newTestEngine(t, b)

	err := e.Kill(context.Background(), []string{"missing"})
	if err == nil {
		t.Fatal("expected an error for a missing target id")
	}
}

// fakeQueryBackend wraps fakeBackend to return a canned payload from Query
// and record which item name it was asked for.
type fakeQueryBackend struct {
	fakeBackend
	payload  []byte
	lastItem string
}

func (f *fakeQueryBackend) Query(_ context.Context, _ backend.RunParameters, _ host.Host, item string) ([]byte, error) {
	f.lastItem = item
	return f.payload, nil
}

func TestGetArtifactDelegatesToBackendQuery(t *testing.T) {
	b := &fakeQueryBackend{fakeBackend: fakeBackend{name: "proc"}, payload: []byte("log contents")}
	e, st := newTestEngine(t, b)
	ctx := context.Background()

	tg := target.New("t1", "build", time.Now())
	tg.BuildProcess = target.BuildProcess{Kind: target.LongRunning, Backend: "proc", RunParameters: backend.RunParameters("rp")}
	mustPut(t, st, tg)

	out, err := e.GetArtifact(ctx, "t1", "log")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if string(out) != "log contents" {
		t.Fatalf("out = %q", out)
	}
	if b.lastItem != "log" {
		t.Fatalf("lastItem = %q, want log", b.lastItem)
	}
}
