package controller

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"
)

// Simulator is an in-memory controller that plays the repair handshake: it
// moves to a written item position, runs the actuator while enabled and
// returns to hand-off on request. It is both a Transport and a Dialer.
type Simulator struct {
	mu     sync.Mutex
	coils  map[uint16]bool
	regs   map[uint16]uint16
	travel time.Duration
	work   time.Duration
	down   bool
	gen    uint64

	itemPos, actEnable, retHandoff     uint16
	atItem, actDone, atHandoff, moverIn uint16
}

// NewSimulator resolves the handshake addresses from addrs. travel is the
// time to reach an item or hand-off, work the actuator run time.
func NewSimulator(addrs *AddressMap, travel, work time.Duration) *Simulator {
	off := func(name string) uint16 {
		a, _ := addrs.Lookup(name)
		return a.Offset
	}
	return &Simulator{
		coils:      map[uint16]bool{},
		regs:       map[uint16]uint16{},
		travel:     travel,
		work:       work,
		itemPos:    off(ItemPosition),
		actEnable:  off(ActuatorEnable),
		retHandoff: off(ReturnToHandoff),
		atItem:     off(ControllerAtItem),
		actDone:    off(ActuatorDone),
		atHandoff:  off(ControllerAtHandoff),
		moverIn:    off(MoverAtHandoff),
	}
}

// Dial returns the simulator itself unless SetDown(true) was called.
func (s *Simulator) Dial(ctx context.Context) (Transport, io.Closer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, nil, fmt.Errorf("simulated controller unreachable")
	}
	return s, io.NopCloser(nil), nil
}

// SetDown makes reads, writes and dials fail.
func (s *Simulator) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

// Coil returns a coil value.
func (s *Simulator) Coil(offset uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coils[offset]
}

// Register returns a holding register value.
func (s *Simulator) Register(offset uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[offset]
}

func (s *Simulator) ReadCoils(address, quantity uint16) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, fmt.Errorf("simulated controller unreachable")
	}
	vals := make([]bool, quantity)
	for i := range vals {
		vals[i] = s.coils[address+uint16(i)]
	}
	return packBits(vals), nil
}

func (s *Simulator) WriteSingleCoil(address, value uint16) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, fmt.Errorf("simulated controller unreachable")
	}
	s.setCoilLocked(address, value == coilOn)
	return nil, nil
}

func (s *Simulator) WriteMultipleCoils(address, quantity uint16, value []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, fmt.Errorf("simulated controller unreachable")
	}
	for i, v := range unpackBits(value, int(quantity)) {
		s.setCoilLocked(address+uint16(i), v)
	}
	return nil, nil
}

func (s *Simulator) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, fmt.Errorf("simulated controller unreachable")
	}
	out := make([]byte, 2*int(quantity))
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(out[2*i:], s.regs[address+uint16(i)])
	}
	return out, nil
}

func (s *Simulator) WriteSingleRegister(address, value uint16) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, fmt.Errorf("simulated controller unreachable")
	}
	s.setRegLocked(address, value)
	return nil, nil
}

func (s *Simulator) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, fmt.Errorf("simulated controller unreachable")
	}
	if len(value) < 2*int(quantity) {
		return nil, fmt.Errorf("register payload too short")
	}
	for i := 0; i < int(quantity); i++ {
		s.setRegLocked(address+uint16(i), binary.BigEndian.Uint16(value[2*i:]))
	}
	return nil, nil
}

func (s *Simulator) setCoilLocked(offset uint16, v bool) {
	s.coils[offset] = v
	switch offset {
	case s.actEnable:
		if v && s.coils[s.atItem] {
			s.later(s.work, func() { s.coils[s.actDone] = true })
		} else if !v {
			s.gen++
			s.coils[s.actDone] = false
			s.coils[s.atItem] = false
		}
	case s.retHandoff:
		if v {
			s.later(s.travel, func() { s.coils[s.atHandoff] = true })
		} else {
			s.coils[s.atHandoff] = false
		}
	}
}

func (s *Simulator) setRegLocked(offset, v uint16) {
	s.regs[offset] = v
	if offset == s.itemPos && s.coils[s.moverIn] {
		s.coils[s.atItem] = false
		s.later(s.travel, func() { s.coils[s.atItem] = true })
	}
}

// later runs fn under mu after d unless the actuator was reset meanwhile.
func (s *Simulator) later(d time.Duration, fn func()) {
	gen := s.gen
	time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen == s.gen {
			fn()
		}
	})
}
