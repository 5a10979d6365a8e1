package mover

import (
	"bytes"
	"log"
	"net"
	"sync"
	"time"
)

// Operational status values reported by the simulator.
const (
	OperIdle    = 0
	OperRunning = 2
)

// Simulator is a UDP mover stand-in. It answers status queries and, after a
// fixed travel time, "arrives" at the last commanded target. Packets carrying
// a different token are ignored.
type Simulator struct {
	token  [TokenSize]byte
	travel time.Duration

	// ResetOrderOnArrival makes the simulated mover clear its order id when a
	// full navigation completes instead of reporting zero remaining elements.
	ResetOrderOnArrival bool

	conn *net.UDPConn

	mu       sync.Mutex
	status   Status
	commands []uint32
	gen      uint64
	silent   bool

	wg sync.WaitGroup
}

// NewSimulator creates a simulator idle at point 0.
func NewSimulator(token [TokenSize]byte, travel time.Duration) *Simulator {
	return &Simulator{
		token:  token,
		travel: travel,
		status: Status{Confidence: 100, Charge: 100, Voltage: 48},
	}
}

// Listen binds the simulator to addr ("127.0.0.1:0" for an ephemeral port)
// and starts serving.
func (sim *Simulator) Listen(addr string) error {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return err
	}
	sim.conn = conn
	sim.wg.Add(1)
	go sim.serve()
	return nil
}

// Addr returns the bound address.
func (sim *Simulator) Addr() string {
	if sim.conn == nil {
		return ""
	}
	return sim.conn.LocalAddr().String()
}

// Close stops serving.
func (sim *Simulator) Close() error {
	if sim.conn == nil {
		return nil
	}
	err := sim.conn.Close()
	sim.wg.Wait()
	return err
}

// SetStatus mutates the simulated status under lock.
func (sim *Simulator) SetStatus(fn func(*Status)) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	fn(&sim.status)
}

// Status returns a copy of the simulated status.
func (sim *Simulator) Status() Status {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.status
}

// SetSilent stops (or resumes) answering status queries.
func (sim *Simulator) SetSilent(silent bool) {
	sim.mu.Lock()
	sim.silent = silent
	sim.mu.Unlock()
}

// Commands returns the target point ids received so far.
func (sim *Simulator) Commands() []uint32 {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return append([]uint32(nil), sim.commands...)
}

func (sim *Simulator) serve() {
	defer sim.wg.Done()
	buf := make([]byte, 65536)
	for {
		n, from, err := sim.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pkt := append([]byte(nil), buf[:n]...)
		h, err := DecodeHeader(pkt)
		if err != nil || !bytes.Equal(h.Token[:], sim.token[:]) {
			continue
		}
		switch h.Command {
		case CmdStatusQuery:
			sim.mu.Lock()
			st, silent := sim.status, sim.silent
			sim.mu.Unlock()
			if silent {
				continue
			}
			sim.conn.WriteToUDP(EncodeStatusResponse(sim.token, h.Seq, &st), from)
		case CmdSimpleNavigation:
			_, nav, err := DecodeSimpleNavigation(pkt)
			if err != nil {
				log.Printf("simulator: bad simple navigation: %v", err)
				continue
			}
			sim.depart(nav.PointID, nil)
		case CmdFullNavigation:
			_, nav, err := DecodeFullNavigation(pkt)
			if err != nil {
				log.Printf("simulator: bad full navigation: %v", err)
				continue
			}
			sim.depart(nav.Target(), &nav)
		}
	}
}

func (sim *Simulator) depart(pointID uint32, full *FullNavigation) {
	sim.mu.Lock()
	sim.gen++
	gen := sim.gen
	sim.commands = append(sim.commands, pointID)
	sim.status.OperStatus = OperRunning
	sim.status.RemainingPoints, sim.status.RemainingPaths, sim.status.Remaining = 0, 0, nil
	if full != nil {
		sim.status.OrderID = full.OrderID
		sim.status.TaskKey = full.TaskKey
		sim.status.RemainingPoints = uint8(len(full.Points))
		sim.status.RemainingPaths = uint8(len(full.Paths))
		for _, p := range full.Points {
			sim.status.Remaining = append(sim.status.Remaining, p.PointID)
		}
		for _, p := range full.Paths {
			sim.status.Remaining = append(sim.status.Remaining, p.PathID)
		}
	}
	sim.mu.Unlock()

	time.AfterFunc(sim.travel, func() {
		sim.mu.Lock()
		defer sim.mu.Unlock()
		if sim.gen != gen {
			return
		}
		sim.status.OperStatus = OperIdle
		sim.status.LastPointID = pointID
		sim.status.RemainingPoints, sim.status.RemainingPaths, sim.status.Remaining = 0, 0, nil
		if full != nil && sim.ResetOrderOnArrival {
			sim.status.OrderID, sim.status.TaskKey = 0, 0
		}
	})
}
