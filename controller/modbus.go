package controller

import (
	"context"
	"io"
	"time"

	"github.com/goburrow/modbus"
)

// Dialer opens a transport to the controller. The returned Closer releases it.
type Dialer interface {
	Dial(ctx context.Context) (Transport, io.Closer, error)
}

// TCPDialer dials Modbus TCP.
type TCPDialer struct {
	Address string
	SlaveID byte
	Timeout time.Duration
}

// Dial connects and returns a goburrow Modbus client.
func (d TCPDialer) Dial(ctx context.Context) (Transport, io.Closer, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	h := modbus.NewTCPClientHandler(d.Address)
	h.Timeout = d.Timeout
	if h.Timeout <= 0 {
		h.Timeout = 2 * time.Second
	}
	h.SlaveId = d.SlaveID
	if err := h.Connect(); err != nil {
		return nil, nil, err
	}
	return modbus.NewClient(h), h, nil
}
