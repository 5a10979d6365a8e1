// Package controller talks to the repair controller over Modbus TCP. Symbolic
// names from config resolve to coil ("M") or holding register ("D") addresses.
package controller

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrInvalidAddress = errors.New("invalid controller address")
	ErrAddressRange   = errors.New("controller address out of range")
	ErrUnknownName    = errors.New("unknown controller address name")
	ErrNotConnected   = errors.New("controller not connected")
	ErrWrongSpace     = errors.New("address is in the wrong space for this operation")
)

// Space is the address space an address belongs to.
type Space int

const (
	Coil Space = iota + 1
	Register
)

func (s Space) String() string {
	switch s {
	case Coil:
		return "coil"
	case Register:
		return "register"
	}
	return "unknown"
}

// Highest valid offset per space.
const (
	MaxCoil     = 7679
	MaxRegister = 7999
)

// Address is a parsed controller address.
type Address struct {
	Space  Space
	Offset uint16
}

func (a Address) String() string {
	if a.Space == Register {
		return "D" + strconv.Itoa(int(a.Offset))
	}
	return "M" + strconv.Itoa(int(a.Offset))
}

// ParseAddress converts "M500" or "D100" into an Address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	var space Space
	var max int
	switch s[0] {
	case 'M', 'm':
		space, max = Coil, MaxCoil
	case 'D', 'd':
		space, max = Register, MaxRegister
	default:
		return Address{}, fmt.Errorf("%w: unknown prefix in %q", ErrInvalidAddress, s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if n > max {
		return Address{}, fmt.Errorf("%w: %q exceeds %s maximum %d", ErrAddressRange, s, space, max)
	}
	return Address{Space: space, Offset: uint16(n)}, nil
}

// checkSpan verifies that count consecutive addresses starting at a stay in range.
func checkSpan(a Address, count int) error {
	max := MaxCoil
	if a.Space == Register {
		max = MaxRegister
	}
	if count < 1 || int(a.Offset)+count-1 > max {
		return fmt.Errorf("%w: %d from %s exceeds %s maximum %d", ErrAddressRange, count, a, a.Space, max)
	}
	return nil
}

// Symbolic names used by the repair workflow.
const (
	MoverAtHandoff      = "mover_at_handoff"
	ItemPosition        = "item_position"
	ActuatorEnable      = "actuator_enable"
	ReturnToHandoff     = "return_to_handoff"
	ControllerAtItem    = "controller_at_item"
	ActuatorDone        = "actuator_done"
	ControllerAtHandoff = "controller_at_handoff"
)

// RequiredNames lists every name the workflow reads or writes, with the space
// each must resolve to.
var RequiredNames = map[string]Space{
	MoverAtHandoff:      Coil,
	ItemPosition:        Register,
	ActuatorEnable:      Coil,
	ReturnToHandoff:     Coil,
	ControllerAtItem:    Coil,
	ActuatorDone:        Coil,
	ControllerAtHandoff: Coil,
}

// AddressMap resolves symbolic names. It is immutable after construction.
type AddressMap struct {
	addrs map[string]Address
}

// NewAddressMap parses every entry and checks that all required names are
// present and in the right space.
func NewAddressMap(names map[string]string) (*AddressMap, error) {
	m := &AddressMap{addrs: make(map[string]Address, len(names))}
	for name, raw := range names {
		a, err := ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("address %s: %w", name, err)
		}
		m.addrs[name] = a
	}
	for name, space := range RequiredNames {
		a, ok := m.addrs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s is not configured", ErrUnknownName, name)
		}
		if a.Space != space {
			return nil, fmt.Errorf("%w: %s is %s, want %s", ErrWrongSpace, name, a, space)
		}
	}
	return m, nil
}

// Lookup returns the address for a name.
func (m *AddressMap) Lookup(name string) (Address, error) {
	a, ok := m.addrs[name]
	if !ok {
		return Address{}, fmt.Errorf("%w: %s", ErrUnknownName, name)
	}
	return a, nil
}

// Names returns the configured names in sorted order.
func (m *AddressMap) Names() []string {
	out := make([]string, 0, len(m.addrs))
	for n := range m.addrs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
