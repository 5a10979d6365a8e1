package controller

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	coilOn  = 0xFF00
	coilOff = 0x0000
)

// Transport is the subset of a Modbus client the adapter needs.
// github.com/goburrow/modbus.Client satisfies it.
type Transport interface {
	ReadCoils(address, quantity uint16) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
	WriteMultipleCoils(address, quantity uint16, value []byte) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// Adapter performs coil and register operations by address string over an
// attached transport. Calls are serialized.
type Adapter struct {
	mu sync.Mutex
	t  Transport
}

// NewAdapter creates an adapter with no transport attached.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Attach sets the transport used by subsequent calls.
func (a *Adapter) Attach(t Transport) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

// Detach drops the transport; later calls fail with ErrNotConnected.
func (a *Adapter) Detach() {
	a.mu.Lock()
	a.t = nil
	a.mu.Unlock()
}

// Connected reports whether a transport is attached.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t != nil
}

func (a *Adapter) resolve(addr string, want Space, count int) (Address, error) {
	ad, err := ParseAddress(addr)
	if err != nil {
		return ad, err
	}
	if ad.Space != want {
		return ad, fmt.Errorf("%w: %s is a %s", ErrWrongSpace, addr, ad.Space)
	}
	return ad, checkSpan(ad, count)
}

// do runs fn with the transport held, or fails when none is attached.
func (a *Adapter) do(fn func(t Transport) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.t == nil {
		return ErrNotConnected
	}
	return fn(a.t)
}

// ReadCoil reads one coil.
func (a *Adapter) ReadCoil(addr string) (bool, error) {
	vals, err := a.ReadCoils(addr, 1)
	if err != nil {
		return false, err
	}
	return vals[0], nil
}

// ReadCoils reads count consecutive coils starting at addr.
func (a *Adapter) ReadCoils(addr string, count int) ([]bool, error) {
	ad, err := a.resolve(addr, Coil, count)
	if err != nil {
		return nil, err
	}
	var out []bool
	err = a.do(func(t Transport) error {
		raw, err := t.ReadCoils(ad.Offset, uint16(count))
		if err != nil {
			return fmt.Errorf("read coils %s x%d: %w", ad, count, err)
		}
		if len(raw)*8 < count {
			return fmt.Errorf("read coils %s x%d: short response (%d bytes)", ad, count, len(raw))
		}
		out = unpackBits(raw, count)
		return nil
	})
	return out, err
}

// WriteCoil sets one coil.
func (a *Adapter) WriteCoil(addr string, v bool) error {
	ad, err := a.resolve(addr, Coil, 1)
	if err != nil {
		return err
	}
	val := uint16(coilOff)
	if v {
		val = coilOn
	}
	return a.do(func(t Transport) error {
		if _, err := t.WriteSingleCoil(ad.Offset, val); err != nil {
			return fmt.Errorf("write coil %s=%v: %w", ad, v, err)
		}
		return nil
	})
}

// WriteCoils sets consecutive coils starting at addr.
func (a *Adapter) WriteCoils(addr string, vals []bool) error {
	ad, err := a.resolve(addr, Coil, len(vals))
	if err != nil {
		return err
	}
	return a.do(func(t Transport) error {
		if _, err := t.WriteMultipleCoils(ad.Offset, uint16(len(vals)), packBits(vals)); err != nil {
			return fmt.Errorf("write coils %s x%d: %w", ad, len(vals), err)
		}
		return nil
	})
}

// ReadRegister reads one holding register.
func (a *Adapter) ReadRegister(addr string) (uint16, error) {
	vals, err := a.ReadRegisters(addr, 1)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// ReadRegisters reads count consecutive holding registers.
func (a *Adapter) ReadRegisters(addr string, count int) ([]uint16, error) {
	ad, err := a.resolve(addr, Register, count)
	if err != nil {
		return nil, err
	}
	var out []uint16
	err = a.do(func(t Transport) error {
		raw, err := t.ReadHoldingRegisters(ad.Offset, uint16(count))
		if err != nil {
			return fmt.Errorf("read registers %s x%d: %w", ad, count, err)
		}
		if len(raw) < 2*count {
			return fmt.Errorf("read registers %s x%d: short response (%d bytes)", ad, count, len(raw))
		}
		out = make([]uint16, count)
		for i := range out {
			out[i] = binary.BigEndian.Uint16(raw[2*i:])
		}
		return nil
	})
	return out, err
}

// WriteRegister writes one holding register.
func (a *Adapter) WriteRegister(addr string, v uint16) error {
	ad, err := a.resolve(addr, Register, 1)
	if err != nil {
		return err
	}
	return a.do(func(t Transport) error {
		if _, err := t.WriteSingleRegister(ad.Offset, v); err != nil {
			return fmt.Errorf("write register %s=%d: %w", ad, v, err)
		}
		return nil
	})
}

// WriteRegisters writes consecutive holding registers starting at addr.
func (a *Adapter) WriteRegisters(addr string, vals []uint16) error {
	ad, err := a.resolve(addr, Register, len(vals))
	if err != nil {
		return err
	}
	buf := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint16(buf[2*i:], v)
	}
	return a.do(func(t Transport) error {
		if _, err := t.WriteMultipleRegisters(ad.Offset, uint16(len(vals)), buf); err != nil {
			return fmt.Errorf("write registers %s x%d: %w", ad, len(vals), err)
		}
		return nil
	})
}

// packBits packs coil values LSB first, as Modbus sends them.
func packBits(vals []bool) []byte {
	out := make([]byte, (len(vals)+7)/8)
	for i, v := range vals {
		if v {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

func unpackBits(raw []byte, count int) []bool {
	out := make([]bool, count)
	for i := range out {
		out[i] = raw[i/8]&(1<<(i%8)) != 0
	}
	return out
}
