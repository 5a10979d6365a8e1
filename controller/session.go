package controller

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"repairedge/config"
	"repairedge/reconnect"
)

// Status is one poll of the controller's status coils.
type Status struct {
	AtItem       bool `json:"at_item"`
	ActuatorDone bool `json:"actuator_done"`
	AtHandoff    bool `json:"at_handoff"`
}

// Session owns the controller connection, reconnects with backoff, polls the
// status coils and emits rising edges.
type Session struct {
	addr     string
	pollRate time.Duration
	timeout  time.Duration
	addrs    *AddressMap
	dialer   Dialer
	emitter  EventEmitter
	tracker  *reconnect.Tracker
	adapter  *Adapter

	mu      sync.Mutex
	closer  io.Closer
	prev    Status
	last    Status
	lastErr error
	stopped bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSession creates a controller session. Call Start to begin polling.
func NewSession(cfg config.ControllerConfig, addrs *AddressMap, dialer Dialer, policy reconnect.Policy, emitter EventEmitter) *Session {
	pollRate := cfg.PollRate
	if pollRate <= 0 {
		pollRate = 500 * time.Millisecond
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Session{
		addr:     cfg.Address,
		pollRate: pollRate,
		timeout:  timeout,
		addrs:    addrs,
		dialer:   dialer,
		emitter:  emitter,
		tracker:  reconnect.NewTracker(policy),
		adapter:  NewAdapter(),
		stopChan: make(chan struct{}),
	}
}

// Addr returns the controller address.
func (s *Session) Addr() string { return s.addr }

// Adapter exposes the raw address-level adapter.
func (s *Session) Adapter() *Adapter { return s.adapter }

// IsConnected reports whether a transport is attached.
func (s *Session) IsConnected() bool { return s.adapter.Connected() }

// LastStatus returns the most recent status snapshot.
func (s *Session) LastStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// LastError returns the most recent connection or poll error.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start launches the poll loop.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.pollLoop()
}

// Stop ends the poll loop after its current iteration and closes the connection.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.disconnect()
}

// Connect dials once if not already connected.
func (s *Session) Connect(ctx context.Context) error {
	if s.adapter.Connected() {
		return nil
	}
	t, closer, err := s.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.closer = closer
	s.lastErr = nil
	s.mu.Unlock()
	s.adapter.Attach(t)
	return nil
}

func (s *Session) disconnect() {
	s.adapter.Detach()
	s.mu.Lock()
	c := s.closer
	s.closer = nil
	s.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// WriteCoil writes a named coil.
func (s *Session) WriteCoil(ctx context.Context, name string, v bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a, err := s.addrs.Lookup(name)
	if err != nil {
		return err
	}
	return s.adapter.WriteCoil(a.String(), v)
}

// WriteRegister writes a named register.
func (s *Session) WriteRegister(ctx context.Context, name string, v uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a, err := s.addrs.Lookup(name)
	if err != nil {
		return err
	}
	return s.adapter.WriteRegister(a.String(), v)
}

// ReadCoil reads a named coil.
func (s *Session) ReadCoil(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a, err := s.addrs.Lookup(name)
	if err != nil {
		return false, err
	}
	return s.adapter.ReadCoil(a.String())
}

func (s *Session) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollRate)
	defer ticker.Stop()

	s.safePoll()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.safePoll()
		}
	}
}

func (s *Session) safePoll() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("controller: %s poll panic: %v\n%s", s.addr, r, debug.Stack())
		}
	}()
	s.poll()
}

func (s *Session) poll() {
	if !s.adapter.Connected() {
		if !s.tracker.Ready(time.Now()) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.Connect(ctx)
		cancel()
		if err != nil {
			s.fail(err, false)
			return
		}
		s.tracker.Succeed()
		log.Printf("controller: %s connected", s.addr)
		s.emitter.EmitControllerConnected(s.addr)
	}

	ctx := context.Background()
	var st Status
	var err error
	if st.AtItem, err = s.ReadCoil(ctx, ControllerAtItem); err == nil {
		if st.ActuatorDone, err = s.ReadCoil(ctx, ActuatorDone); err == nil {
			st.AtHandoff, err = s.ReadCoil(ctx, ControllerAtHandoff)
		}
	}
	if err != nil {
		s.disconnect()
		s.fail(err, true)
		return
	}

	s.mu.Lock()
	prev := s.prev
	s.prev = st
	s.last = st
	s.mu.Unlock()

	s.emitter.EmitControllerStatus(s.addr, st)
	if st.AtItem && !prev.AtItem {
		s.emitter.EmitControllerItemReached(s.addr)
	}
	if st.ActuatorDone && !prev.ActuatorDone {
		s.emitter.EmitControllerActuatorDone(s.addr)
	}
	if st.AtHandoff && !prev.AtHandoff {
		s.emitter.EmitControllerReturned(s.addr)
	}
}

// fail schedules the next attempt from the moment the failed I/O returned.
func (s *Session) fail(err error, wasConnected bool) {
	wait := s.tracker.Fail(time.Now())
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	if wasConnected {
		log.Printf("controller: %s disconnected: %v", s.addr, err)
		s.emitter.EmitControllerDisconnected(s.addr, err)
	}
	if s.tracker.Open() {
		log.Printf("controller: %s unreachable after %d attempts, retry in %v", s.addr, s.tracker.Failures(), wait)
	}
}
