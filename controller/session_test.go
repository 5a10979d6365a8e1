package controller

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"repairedge/config"
	"repairedge/reconnect"
)

// mockEmitter records emitted events for test assertions.
type mockEmitter struct {
	mu     sync.Mutex
	events []string
}

func (e *mockEmitter) record(s string) {
	e.mu.Lock()
	e.events = append(e.events, s)
	e.mu.Unlock()
}

func (e *mockEmitter) EmitControllerStatus(addr string, st Status)       {}
func (e *mockEmitter) EmitControllerItemReached(addr string)             { e.record("item_reached") }
func (e *mockEmitter) EmitControllerActuatorDone(addr string)            { e.record("actuator_done") }
func (e *mockEmitter) EmitControllerReturned(addr string)                { e.record("returned") }
func (e *mockEmitter) EmitControllerConnected(addr string)               { e.record("connected") }
func (e *mockEmitter) EmitControllerDisconnected(addr string, err error) { e.record("disconnected") }

func (e *mockEmitter) count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev == event {
			n++
		}
	}
	return n
}

func (e *mockEmitter) waitCount(event string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if e.count(event) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fakeDialer hands out the same bank, or fails while down is set.
type fakeDialer struct {
	mu    sync.Mutex
	bank  *bank
	down  bool
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context) (Transport, io.Closer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.down {
		return nil, nil, errors.New("connection refused")
	}
	return d.bank, nopCloser{}, nil
}

func (d *fakeDialer) setDown(v bool) {
	d.mu.Lock()
	d.down = v
	d.mu.Unlock()
}

func newTestSession(t *testing.T, d Dialer, em EventEmitter) *Session {
	t.Helper()
	m, err := NewAddressMap(defaultNames())
	if err != nil {
		t.Fatalf("address map: %v", err)
	}
	cfg := config.ControllerConfig{Address: "plc:502", PollRate: 10 * time.Millisecond, Timeout: 100 * time.Millisecond}
	policy := reconnect.Policy{Base: 10 * time.Millisecond, Max: 40 * time.Millisecond, Threshold: 3, Cooldown: 60 * time.Millisecond}
	return NewSession(cfg, m, d, policy, em)
}

func TestSessionRisingEdgesOnly(t *testing.T) {
	b := newBank()
	em := &mockEmitter{}
	s := newTestSession(t, &fakeDialer{bank: b}, em)
	s.Start()
	defer s.Stop()

	if !em.waitCount("connected", 1, time.Second) {
		t.Fatal("session never connected")
	}

	b.set(110, true) // controller_at_item
	if !em.waitCount("item_reached", 1, time.Second) {
		t.Fatal("item reached not emitted")
	}
	time.Sleep(50 * time.Millisecond) // several polls with the coil held high
	if n := em.count("item_reached"); n != 1 {
		t.Errorf("item_reached emitted %d times while held, want 1", n)
	}

	b.set(110, false)
	time.Sleep(30 * time.Millisecond)
	b.set(110, true)
	if !em.waitCount("item_reached", 2, time.Second) {
		t.Error("second rising edge not emitted")
	}

	b.set(111, true)
	b.set(112, true)
	if !em.waitCount("actuator_done", 1, time.Second) || !em.waitCount("returned", 1, time.Second) {
		t.Error("actuator done / returned edges not emitted")
	}
	if st := s.LastStatus(); !st.AtItem || !st.ActuatorDone || !st.AtHandoff {
		t.Errorf("last status = %+v", st)
	}
}

func TestSessionNamedWrites(t *testing.T) {
	b := newBank()
	s := newTestSession(t, &fakeDialer{bank: b}, &mockEmitter{})
	ctx := context.Background()

	if err := s.WriteCoil(ctx, MoverAtHandoff, true); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("write before connect: err = %v, want ErrNotConnected", err)
	}
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.WriteCoil(ctx, MoverAtHandoff, true); err != nil {
		t.Fatalf("write coil: %v", err)
	}
	if err := s.WriteRegister(ctx, ItemPosition, 120); err != nil {
		t.Fatalf("write register: %v", err)
	}
	if err := s.WriteCoil(ctx, "bogus", true); !errors.Is(err, ErrUnknownName) {
		t.Errorf("unknown name: err = %v", err)
	}
	got := b.getWrites()
	if len(got) != 2 || got[0] != "M100=true" || got[1] != "D100=120" {
		t.Errorf("writes = %v", got)
	}
}

func TestSessionReconnects(t *testing.T) {
	b := newBank()
	d := &fakeDialer{bank: b}
	em := &mockEmitter{}
	s := newTestSession(t, d, em)
	s.Start()
	defer s.Stop()

	if !em.waitCount("connected", 1, time.Second) {
		t.Fatal("session never connected")
	}

	d.setDown(true)
	b.fail(errors.New("connection reset"))
	if !em.waitCount("disconnected", 1, time.Second) {
		t.Fatal("disconnect not emitted")
	}
	if s.IsConnected() {
		t.Error("session should report disconnected")
	}

	b.fail(nil)
	d.setDown(false)
	if !em.waitCount("connected", 2, 2*time.Second) {
		t.Fatal("session did not reconnect")
	}
	if n := em.count("disconnected"); n != 1 {
		t.Errorf("disconnected emitted %d times, want 1", n)
	}
}

// slowDialer fails every dial after a fixed delay.
type slowDialer struct{ delay time.Duration }

func (d slowDialer) Dial(ctx context.Context) (Transport, io.Closer, error) {
	time.Sleep(d.delay)
	return nil, nil, errors.New("connection timed out")
}

func TestBackoffCountsFromFailedDial(t *testing.T) {
	s := newTestSession(t, slowDialer{delay: 80 * time.Millisecond}, &mockEmitter{})
	defer s.Stop()

	// The dial takes 80ms, well past the 10ms base backoff.
	s.poll()
	if s.tracker.Failures() != 1 {
		t.Fatalf("failures = %d, want 1", s.tracker.Failures())
	}
	if s.tracker.Ready(time.Now()) {
		t.Error("next attempt should be scheduled after the failed dial returned")
	}
}
