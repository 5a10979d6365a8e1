package mover

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"repairedge/config"
	"repairedge/reconnect"
)

// ErrSessionStopped is returned by commands issued after Stop.
var ErrSessionStopped = errors.New("mover session stopped")

// target is the last commanded destination and its arrival bookkeeping.
type target struct {
	pointID  uint32
	orderID  uint32
	taskKey  uint32
	full     bool
	echoed   bool // mover has reported our order id at least once
	reported bool
}

// Session owns the UDP socket to one mover, polls its status and reports
// arrival at commanded targets.
type Session struct {
	addr     string
	timeout  time.Duration
	pollRate time.Duration
	enc      *Encoder
	emitter  EventEmitter
	tracker  *reconnect.Tracker

	ioMu sync.Mutex // serializes socket I/O
	conn *net.UDPConn

	mu        sync.Mutex
	connected bool
	stopped   bool
	last      *Status
	lastErr   error
	target    *target
	gen       uint64 // bumped on every accepted command

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSession creates a mover session from config. Call Start to begin polling.
func NewSession(cfg config.MoverConfig, policy reconnect.Policy, emitter EventEmitter) *Session {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pollRate := cfg.PollRate
	if pollRate <= 0 {
		pollRate = 500 * time.Millisecond
	}
	return &Session{
		addr:     cfg.Address,
		timeout:  timeout,
		pollRate: pollRate,
		enc:      NewEncoder(ParseToken(cfg.Token)),
		emitter:  emitter,
		tracker:  reconnect.NewTracker(policy),
		stopChan: make(chan struct{}),
	}
}

// Addr returns the mover's UDP address.
func (s *Session) Addr() string { return s.addr }

// Start launches the poll loop.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.pollLoop()
}

// Stop signals the poll loop to exit after its current iteration and closes the socket.
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

	s.ioMu.Lock()
	s.closeLocked()
	s.ioMu.Unlock()
}

// IsConnected reports whether the last status query succeeded.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LastStatus returns a copy of the most recent status, or nil.
func (s *Session) LastStatus() *Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	cp := *s.last
	return &cp
}

// LastError returns the most recent poll error, or nil.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// NavigateTo sends a simple point navigation command. Arrival is reported
// once the mover is idle with the target as its last passed point.
func (s *Session) NavigateTo(ctx context.Context, cmd SimpleNavigation) error {
	pkt, seq, err := s.enc.SimpleNavigation(cmd)
	if err != nil {
		return err
	}
	return s.send(ctx, pkt, seq, &target{pointID: cmd.PointID, orderID: cmd.OrderID, taskKey: cmd.TaskKey})
}

// Navigate sends a full point/path navigation command.
func (s *Session) Navigate(ctx context.Context, cmd FullNavigation) error {
	pkt, seq, err := s.enc.FullNavigation(cmd)
	if err != nil {
		return err
	}
	return s.send(ctx, pkt, seq, &target{pointID: cmd.Target(), orderID: cmd.OrderID, taskKey: cmd.TaskKey, full: true})
}

func (s *Session) send(ctx context.Context, pkt []byte, seq uint16, t *target) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrSessionStopped
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	conn, err := s.connLocked()
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(s.deadline(ctx))
	if _, err := conn.Write(pkt); err != nil {
		s.closeLocked()
		return fmt.Errorf("send navigation seq %d: %w", seq, err)
	}

	s.mu.Lock()
	s.target = t
	s.gen++
	s.mu.Unlock()
	log.Printf("mover: %s navigate to point %d (order=%d seq=%d)", s.addr, t.pointID, t.orderID, seq)
	return nil
}

// QueryStatus sends one status query and waits for the response carrying the
// same sequence number. Replies to earlier queries are discarded.
func (s *Session) QueryStatus(ctx context.Context) (*Status, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	conn, err := s.connLocked()
	if err != nil {
		return nil, err
	}
	pkt, seq := s.enc.StatusQuery()
	deadline := s.deadline(ctx)
	conn.SetDeadline(deadline)
	if _, err := conn.Write(pkt); err != nil {
		s.closeLocked()
		return nil, fmt.Errorf("send status query: %w", err)
	}

	buf := make([]byte, 2048)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := conn.Read(buf)
		if err != nil {
			s.closeLocked()
			return nil, fmt.Errorf("read status response: %w", err)
		}
		got, ok := sequenceOf(buf[:n])
		if !ok || got != seq {
			continue
		}
		_, st, err := DecodeStatusResponse(buf[:n])
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

func (s *Session) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(s.timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

func (s *Session) connLocked() (*net.UDPConn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	raddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", s.addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.addr, err)
	}
	s.conn = conn
	return conn, nil
}

func (s *Session) closeLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
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
			log.Printf("mover: %s poll panic: %v\n%s", s.addr, r, debug.Stack())
		}
	}()
	s.poll()
}

func (s *Session) poll() {
	now := time.Now()
	if !s.tracker.Ready(now) {
		return
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	st, err := s.QueryStatus(ctx)
	cancel()
	if err != nil {
		wait := s.tracker.Fail(time.Now())
		s.mu.Lock()
		wasConnected := s.connected
		s.connected = false
		s.lastErr = err
		s.mu.Unlock()
		if wasConnected {
			log.Printf("mover: %s disconnected: %v", s.addr, err)
			s.emitter.EmitMoverDisconnected(s.addr, err)
		}
		if s.tracker.Open() {
			log.Printf("mover: %s unreachable after %d attempts, retry in %v", s.addr, s.tracker.Failures(), wait)
		}
		return
	}
	s.tracker.Succeed()

	s.mu.Lock()
	wasConnected := s.connected
	s.connected = true
	s.lastErr = nil
	s.last = st
	var arrived *target
	implicit := false
	if s.gen == gen && s.target != nil && !s.target.reported {
		implicit = s.checkArrivalLocked(s.target, st)
		if s.target.reported {
			cp := *s.target
			arrived = &cp
		}
	}
	s.mu.Unlock()

	if !wasConnected {
		log.Printf("mover: %s connected", s.addr)
		s.emitter.EmitMoverConnected(s.addr)
	}
	s.emitter.EmitMoverStatus(s.addr, *st)
	if arrived != nil {
		log.Printf("mover: %s arrived at point %d (order=%d implicit=%v)", s.addr, arrived.pointID, arrived.orderID, implicit)
		s.emitter.EmitMoverArrived(s.addr, arrived.pointID, arrived.orderID, arrived.taskKey, implicit)
	}
}

// checkArrivalLocked marks t reported when st shows the mover has reached it.
// It returns true when completion was inferred from the order id resetting.
func (s *Session) checkArrivalLocked(t *target, st *Status) bool {
	if !t.full {
		if st.Idle() && st.LastPointID == t.pointID {
			t.reported = true
		}
		return false
	}
	if st.OrderID == t.orderID && st.TaskKey == t.taskKey {
		t.echoed = true
		if st.RemainingPoints == 0 && st.RemainingPaths == 0 {
			t.reported = true
		}
		return false
	}
	if st.OrderID == 0 && t.echoed {
		t.reported = true
		return true
	}
	return false
}
