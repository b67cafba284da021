package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gammarips/overnightedge/internal/fetch"
)

type sentNotice struct {
	store    string
	err      error
	failures int
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (f *fakeNotifier) SendError(err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotice{err: err})
	return nil
}

func (f *fakeNotifier) SendRecovery(store string, failureCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotice{store: store, failures: failureCount})
	return nil
}

func (f *fakeNotifier) notices() []sentNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentNotice(nil), f.sent...)
}

type fakeProbe struct {
	name string
	mu   sync.Mutex
	err  error
}

func (p *fakeProbe) Name() string { return p.name }

func (p *fakeProbe) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProbe) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func TestMonitor_ConsecutiveFailuresAndRecovery(t *testing.T) {
	notifier := &fakeNotifier{}
	m := New(Config{ProbeSchedule: "@every 1h"}, notifier)
	probe := &fakeProbe{name: "mongo"}
	m.AddProbe(probe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Two absorbed failures and one failed probe make a single run of three.
	m.Observe("mongo", &fetch.Failure{Store: "mongo", Op: "signals", Err: errors.New("no reachable servers")})
	m.Observe("mongo", &fetch.Failure{Store: "mongo", Op: "themes", Err: errors.New("no reachable servers")})
	probe.set(errors.New("timeout"))
	m.RunProbes(ctx)

	snap := m.Snapshot()
	if len(snap) != 1 || snap[0].Healthy || snap[0].ConsecutiveFailures != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if m.Healthy() {
		t.Error("expected unhealthy")
	}

	probe.set(nil)
	m.RunProbes(ctx)
	if !m.Healthy() {
		t.Error("expected healthy after successful probe")
	}
	snap = m.Snapshot()
	if snap[0].TotalFailures != 3 || snap[0].ConsecutiveFailures != 0 {
		t.Errorf("unexpected counters: %+v", snap[0])
	}

	m.Stop()

	got := notifier.notices()
	if len(got) != 2 {
		t.Fatalf("expected error then recovery, got %+v", got)
	}
	if got[0].err == nil {
		t.Errorf("first notice should be an error: %+v", got[0])
	}
	if got[1].store != "mongo" || got[1].failures != 3 {
		t.Errorf("unexpected recovery notice: %+v", got[1])
	}
}

func TestMonitor_ObserveAfterStop(t *testing.T) {
	notifier := &fakeNotifier{}
	m := New(Config{ProbeSchedule: "@every 1h"}, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.Stop()

	// A request still in flight at shutdown may report a failure after Stop.
	m.Observe("mongo", &fetch.Failure{Store: "mongo", Op: "signals", Err: errors.New("client is disconnected")})
	m.Observe("mongo", nil)
	m.RunProbes(ctx)
	m.Stop()

	if got := notifier.notices(); len(got) != 0 {
		t.Errorf("expected no notices after Stop, got %+v", got)
	}
	snap := m.Snapshot()
	if len(snap) != 1 || snap[0].TotalFailures != 1 {
		t.Errorf("failure should still be recorded: %+v", snap)
	}
}

func TestMonitor_SnapshotSorted(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.AddProbe(&fakeProbe{name: "warehouse"})
	m.AddProbe(&fakeProbe{name: "mongo"})
	m.Observe("sqlite", &fetch.Failure{Store: "sqlite", Op: "signals", Err: errors.New("database is closed")})
	m.Observe("sqlite", nil)

	snap := m.Snapshot()
	var names []string
	for _, h := range snap {
		names = append(names, h.Store)
	}
	want := []string{"mongo", "sqlite", "warehouse"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
	if snap[1].ConsecutiveFailures != 1 || snap[1].LastError == "" {
		t.Errorf("sqlite failure not recorded: %+v", snap[1])
	}
}

func TestMonitor_ProbeTimeout(t *testing.T) {
	m := New(Config{ProbeTimeout: 10 * time.Millisecond}, nil)
	m.AddProbe(probeFunc{name: "slow", fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	m.RunProbes(context.Background())
	if m.Healthy() {
		t.Error("expected timed out probe to mark store unhealthy")
	}
}

func TestMonitor_InvalidSchedule(t *testing.T) {
	m := New(Config{ProbeSchedule: "every now and then"}, nil)
	if err := m.Start(context.Background()); err == nil {
		t.Error("expected schedule error")
	}
}

type probeFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (p probeFunc) Name() string { return p.name }
func (p probeFunc) Ping(ctx context.Context) error { return p.fn(ctx) }
