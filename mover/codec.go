package mover

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// Packet layout constants.
const (
	HeaderSize      = 28
	TokenSize       = 16
	ProtocolVersion = 0x01
	ServiceCode     = 0x10

	TypeRequest  = 0x00
	TypeResponse = 0x01

	CmdSimpleNavigation = 0x16
	CmdFullNavigation   = 0xAE
	CmdStatusQuery      = 0xAF
)

// Simple navigation preamble values.
const (
	OperationStart    = 0x01
	NavModePoint      = 0x01
	maxASCIIPointID   = 99999999
	pointIDFieldWidth = 8
)

// Fixed block sizes of the full navigation and status payloads.
const (
	fullNavHeaderSize = 12
	pointSize         = 20
	pathSize          = 28
	actionSize        = 12

	locationBlockSize = 24
	runningBlockSize  = 16
	taskBlockSize     = 12
	taskEntrySize     = 4
	batteryBlockSize  = 16
)

var (
	ErrMalformedResponse = errors.New("malformed response")
	ErrUnexpectedCommand = errors.New("unexpected command in response")
	ErrExecutionFailed   = errors.New("mover reported execution failure")
	ErrPointIDRange      = errors.New("point id out of range")
	ErrParamsTooLong     = errors.New("action parameters exceed 255 bytes")
	ErrTooManyElements   = errors.New("too many points, paths or actions")
	ErrPayloadTooLarge   = errors.New("payload exceeds 65535 bytes")
)

// Header is the fixed 28-byte packet header.
type Header struct {
	Token      [TokenSize]byte
	Version    uint8
	Type       uint8
	Seq        uint16
	Service    uint8
	Command    uint8
	Exec       uint8
	PayloadLen uint16
}

func appendHeader(w *writer, h Header) {
	w.raw(h.Token[:])
	w.u8(h.Version)
	w.u8(h.Type)
	w.u16(h.Seq)
	w.u8(h.Service)
	w.u8(h.Command)
	w.u8(h.Exec)
	w.u8(0)
	w.u16(h.PayloadLen)
	w.zero(2)
}

// DecodeHeader parses the header at the start of pkt.
func DecodeHeader(pkt []byte) (Header, error) {
	var h Header
	r := newReader(pkt)
	if !r.block(HeaderSize, "header") {
		return h, r.err
	}
	copy(h.Token[:], r.bytes(TokenSize, "token"))
	h.Version = r.u8("version")
	h.Type = r.u8("type")
	h.Seq = r.u16("sequence")
	h.Service = r.u8("service")
	h.Command = r.u8("command")
	h.Exec = r.u8("execution code")
	r.skip(1, "reserved")
	h.PayloadLen = r.u16("payload length")
	r.skip(2, "reserved")
	return h, r.err
}

// ParseToken converts a configured token into the 16-byte header field.
// A 32-character hex string is decoded; anything else is used as raw bytes,
// zero-padded (or truncated) to 16 bytes.
func ParseToken(s string) [TokenSize]byte {
	var tok [TokenSize]byte
	if len(s) == 2*TokenSize {
		if b, err := hex.DecodeString(s); err == nil {
			copy(tok[:], b)
			return tok
		}
	}
	copy(tok[:], s)
	return tok
}

// Action is an operation attached to a point or path.
type Action struct {
	Type     uint16
	Parallel uint8
	ID       uint32
	Params   []byte
}

// Point is a navigation point. Seq is assigned by the encoder.
type Point struct {
	Seq        uint32
	PointID    uint32
	Heading    float32
	HeadingSet bool
	Actions    []Action
}

// Path is a navigation path segment. Seq is assigned by the encoder.
type Path struct {
	Seq             uint32
	PathID          uint32
	FixedAngle      float32
	AngleFixMode    uint8
	Posture         uint8
	MaxSpeed        float32
	MaxAngularSpeed float32
	Actions         []Action
}

// SimpleNavigation sends the mover to a single point. OrderID and TaskKey are
// tracked locally only; the simple command does not carry them.
type SimpleNavigation struct {
	PointID uint32
	OrderID uint32
	TaskKey uint32
}

// FullNavigation sends an explicit point and path list.
type FullNavigation struct {
	OrderID uint32
	TaskKey uint32
	Mode    uint8
	Points  []Point
	Paths   []Path
}

// Target returns the final point id of the command, or 0 if it has no points.
func (f FullNavigation) Target() uint32 {
	if len(f.Points) == 0 {
		return 0
	}
	return f.Points[len(f.Points)-1].PointID
}

// Encoder builds request packets and owns the sequence counter.
type Encoder struct {
	token [TokenSize]byte

	mu  sync.Mutex
	seq uint16
}

// NewEncoder creates an encoder for the given authorization token.
func NewEncoder(token [TokenSize]byte) *Encoder {
	return &Encoder{token: token}
}

// next returns the next sequence number; it wraps at 65536.
func (e *Encoder) next() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return e.seq
}

func (e *Encoder) frame(command uint8, payload []byte) ([]byte, uint16, error) {
	if len(payload) > 0xFFFF {
		return nil, 0, ErrPayloadTooLarge
	}
	seq := e.next()
	w := &writer{buf: make([]byte, 0, HeaderSize+len(payload))}
	appendHeader(w, Header{
		Token:      e.token,
		Version:    ProtocolVersion,
		Type:       TypeRequest,
		Seq:        seq,
		Service:    ServiceCode,
		Command:    command,
		PayloadLen: uint16(len(payload)),
	})
	w.raw(payload)
	return w.buf, seq, nil
}

// StatusQuery builds a status query packet.
func (e *Encoder) StatusQuery() ([]byte, uint16) {
	pkt, seq, _ := e.frame(CmdStatusQuery, nil)
	return pkt, seq
}

// SimpleNavigation builds a point-navigation packet.
func (e *Encoder) SimpleNavigation(cmd SimpleNavigation) ([]byte, uint16, error) {
	if cmd.PointID > maxASCIIPointID {
		return nil, 0, fmt.Errorf("%w: %d", ErrPointIDRange, cmd.PointID)
	}
	w := &writer{}
	w.u8(OperationStart)
	w.u8(NavModePoint)
	w.u8(0) // path not specified
	w.u8(0) // no traffic management
	w.raw([]byte(fmt.Sprintf("%0*d", pointIDFieldWidth, cmd.PointID)))
	return e.frame(CmdSimpleNavigation, w.buf)
}

// FullNavigation builds a point/path navigation packet. Points are numbered
// 0,2,4,... and paths 1,3,5,... in the order given.
func (e *Encoder) FullNavigation(cmd FullNavigation) ([]byte, uint16, error) {
	if len(cmd.Points) > 0xFF || len(cmd.Paths) > 0xFF {
		return nil, 0, ErrTooManyElements
	}
	w := &writer{}
	w.u32(cmd.OrderID)
	w.u32(cmd.TaskKey)
	w.u8(uint8(len(cmd.Points)))
	w.u8(uint8(len(cmd.Paths)))
	w.u8(cmd.Mode)
	w.u8(0)
	for i, p := range cmd.Points {
		if len(p.Actions) > 0xFF {
			return nil, 0, ErrTooManyElements
		}
		w.u32(uint32(2 * i))
		w.u32(p.PointID)
		w.f32(p.Heading)
		w.u8(boolByte(p.HeadingSet))
		w.u8(uint8(len(p.Actions)))
		w.zero(6)
		for _, a := range p.Actions {
			if err := appendAction(w, a); err != nil {
				return nil, 0, err
			}
		}
	}
	for i, p := range cmd.Paths {
		if len(p.Actions) > 0xFF {
			return nil, 0, ErrTooManyElements
		}
		w.u32(uint32(2*i + 1))
		w.u32(p.PathID)
		w.f32(p.FixedAngle)
		w.u8(p.AngleFixMode)
		w.u8(p.Posture)
		w.u8(uint8(len(p.Actions)))
		w.u8(0)
		w.f32(p.MaxSpeed)
		w.f32(p.MaxAngularSpeed)
		w.zero(4)
		for _, a := range p.Actions {
			if err := appendAction(w, a); err != nil {
				return nil, 0, err
			}
		}
	}
	return e.frame(CmdFullNavigation, w.buf)
}

func appendAction(w *writer, a Action) error {
	if len(a.Params) > 0xFF {
		return fmt.Errorf("%w: %d", ErrParamsTooLong, len(a.Params))
	}
	w.u16(a.Type)
	w.u8(a.Parallel)
	w.u8(0)
	w.u32(a.ID)
	w.u8(uint8(len(a.Params)))
	w.zero(3)
	w.raw(padParams(a.Params))
	return nil
}

// padParams returns p zero-padded up to the next multiple of 4.
func padParams(p []byte) []byte {
	out := make([]byte, (len(p)+3)&^3)
	copy(out, p)
	return out
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// payload validates the header of pkt and returns the payload it declares.
func payload(pkt []byte, command uint8) (Header, []byte, error) {
	h, err := DecodeHeader(pkt)
	if err != nil {
		return h, nil, err
	}
	if h.Command != command {
		return h, nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrUnexpectedCommand, h.Command, command)
	}
	end := HeaderSize + int(h.PayloadLen)
	if end > len(pkt) {
		return h, nil, fmt.Errorf("%w: payload length %d exceeds packet (%d bytes)",
			ErrMalformedResponse, h.PayloadLen, len(pkt))
	}
	return h, pkt[HeaderSize:end], nil
}

// DecodeSimpleNavigation parses a point-navigation request.
func DecodeSimpleNavigation(pkt []byte) (Header, SimpleNavigation, error) {
	h, body, err := payload(pkt, CmdSimpleNavigation)
	if err != nil {
		return h, SimpleNavigation{}, err
	}
	r := newReader(body)
	r.skip(4, "navigation preamble")
	digits := r.bytes(pointIDFieldWidth, "point id")
	if r.err != nil {
		return h, SimpleNavigation{}, r.err
	}
	id, err := strconv.ParseUint(string(digits), 10, 32)
	if err != nil {
		return h, SimpleNavigation{}, fmt.Errorf("%w: point id %q", ErrMalformedResponse, digits)
	}
	return h, SimpleNavigation{PointID: uint32(id)}, nil
}

// DecodeFullNavigation parses a point/path navigation request.
func DecodeFullNavigation(pkt []byte) (Header, FullNavigation, error) {
	var nav FullNavigation
	h, body, err := payload(pkt, CmdFullNavigation)
	if err != nil {
		return h, nav, err
	}
	r := newReader(body)
	if !r.block(fullNavHeaderSize, "navigation header") {
		return h, nav, r.err
	}
	nav.OrderID = r.u32("order id")
	nav.TaskKey = r.u32("task key")
	nPoints := int(r.u8("point count"))
	nPaths := int(r.u8("path count"))
	nav.Mode = r.u8("mode")
	r.skip(1, "reserved")

	for i := 0; i < nPoints && r.err == nil; i++ {
		if !r.block(pointSize, "point") {
			break
		}
		var p Point
		p.Seq = r.u32("point seq")
		p.PointID = r.u32("point id")
		p.Heading = r.f32("heading")
		p.HeadingSet = r.u8("heading flag") != 0
		n := int(r.u8("action count"))
		r.skip(6, "reserved")
		p.Actions = readActions(r, n)
		nav.Points = append(nav.Points, p)
	}
	for i := 0; i < nPaths && r.err == nil; i++ {
		if !r.block(pathSize, "path") {
			break
		}
		var p Path
		p.Seq = r.u32("path seq")
		p.PathID = r.u32("path id")
		p.FixedAngle = r.f32("fixed angle")
		p.AngleFixMode = r.u8("angle fix mode")
		p.Posture = r.u8("posture")
		n := int(r.u8("action count"))
		r.skip(1, "reserved")
		p.MaxSpeed = r.f32("max speed")
		p.MaxAngularSpeed = r.f32("max angular speed")
		r.skip(4, "reserved")
		p.Actions = readActions(r, n)
		nav.Paths = append(nav.Paths, p)
	}
	return h, nav, r.err
}

func readActions(r *reader, n int) []Action {
	var out []Action
	for i := 0; i < n && r.err == nil; i++ {
		if !r.block(actionSize, "action") {
			return out
		}
		var a Action
		a.Type = r.u16("action type")
		a.Parallel = r.u8("parallel mode")
		r.skip(1, "reserved")
		a.ID = r.u32("action id")
		plen := int(r.u8("param length"))
		r.skip(3, "reserved")
		padded := r.bytes((plen+3)&^3, "action params")
		if padded != nil {
			a.Params = append([]byte(nil), padded[:plen]...)
		}
		out = append(out, a)
	}
	return out
}

// Status is one decoded status response.
type Status struct {
	X, Y, Heading   float32
	LastPointID     uint32
	CurrentPointSeq uint32
	Confidence      uint8

	VX, VY, Angular float32
	WorkMode        uint8
	OperStatus      uint8
	Capability      uint8

	OrderID         uint32
	TaskKey         uint32
	RemainingPoints uint8
	RemainingPaths  uint8
	Remaining       []uint32

	Charge   float32 // percent
	Voltage  float32
	Current  float32
	Charging bool
}

// Idle reports whether the mover's operational status is idle.
func (s *Status) Idle() bool { return s.OperStatus == 0 }

// DecodeStatusResponse parses a status response. Block offsets are computed
// from the counts read along the way; any truncation yields ErrMalformedResponse.
func DecodeStatusResponse(pkt []byte) (Header, *Status, error) {
	h, body, err := payload(pkt, CmdStatusQuery)
	if err != nil {
		return h, nil, err
	}
	if h.Exec != 0 {
		return h, nil, fmt.Errorf("%w: code %d", ErrExecutionFailed, h.Exec)
	}

	s := &Status{}
	r := newReader(body)

	if !r.block(locationBlockSize, "location block") {
		return h, nil, r.err
	}
	s.X = r.f32("x")
	s.Y = r.f32("y")
	s.Heading = r.f32("heading")
	s.LastPointID = r.u32("last point id")
	s.CurrentPointSeq = r.u32("current point seq")
	s.Confidence = r.u8("confidence")
	r.skip(3, "reserved")

	if !r.block(runningBlockSize, "running block") {
		return h, nil, r.err
	}
	s.VX = r.f32("vx")
	s.VY = r.f32("vy")
	s.Angular = r.f32("angular velocity")
	s.WorkMode = r.u8("work mode")
	s.OperStatus = r.u8("operational status")
	s.Capability = r.u8("capability status")
	r.skip(1, "reserved")

	if !r.block(taskBlockSize, "task block") {
		return h, nil, r.err
	}
	s.OrderID = r.u32("order id")
	s.TaskKey = r.u32("task key")
	s.RemainingPoints = r.u8("remaining points")
	s.RemainingPaths = r.u8("remaining paths")
	r.skip(2, "reserved")
	n := int(s.RemainingPoints) + int(s.RemainingPaths)
	if !r.block(n*taskEntrySize, "remaining list") {
		return h, nil, r.err
	}
	for i := 0; i < n; i++ {
		s.Remaining = append(s.Remaining, r.u32("remaining entry"))
	}

	if !r.block(batteryBlockSize, "battery block") {
		return h, nil, r.err
	}
	s.Charge = float32(r.u16("state of charge")) / 100
	r.skip(2, "reserved")
	s.Voltage = r.f32("voltage")
	s.Current = r.f32("current")
	s.Charging = r.u8("charging") != 0
	r.skip(3, "reserved")

	if r.err != nil {
		return h, nil, r.err
	}
	return h, s, nil
}

// EncodeStatusResponse builds a status response packet answering seq.
func EncodeStatusResponse(token [TokenSize]byte, seq uint16, s *Status) []byte {
	body := &writer{}
	body.f32(s.X)
	body.f32(s.Y)
	body.f32(s.Heading)
	body.u32(s.LastPointID)
	body.u32(s.CurrentPointSeq)
	body.u8(s.Confidence)
	body.zero(3)

	body.f32(s.VX)
	body.f32(s.VY)
	body.f32(s.Angular)
	body.u8(s.WorkMode)
	body.u8(s.OperStatus)
	body.u8(s.Capability)
	body.u8(0)

	body.u32(s.OrderID)
	body.u32(s.TaskKey)
	body.u8(s.RemainingPoints)
	body.u8(s.RemainingPaths)
	body.zero(2)
	n := int(s.RemainingPoints) + int(s.RemainingPaths)
	for i := 0; i < n; i++ {
		var v uint32
		if i < len(s.Remaining) {
			v = s.Remaining[i]
		}
		body.u32(v)
	}

	body.u16(uint16(s.Charge*100 + 0.5))
	body.zero(2)
	body.f32(s.Voltage)
	body.f32(s.Current)
	body.u8(boolByte(s.Charging))
	body.zero(3)

	w := &writer{buf: make([]byte, 0, HeaderSize+len(body.buf))}
	appendHeader(w, Header{
		Token:      token,
		Version:    ProtocolVersion,
		Type:       TypeResponse,
		Seq:        seq,
		Service:    ServiceCode,
		Command:    CmdStatusQuery,
		PayloadLen: uint16(len(body.buf)),
	})
	w.raw(body.buf)
	return w.buf
}

// sequenceOf returns the sequence number of a packet without full validation.
func sequenceOf(pkt []byte) (uint16, bool) {
	if len(pkt) < HeaderSize {
		return 0, false
	}
	return binary.LittleEndian.Uint16(pkt[18:20]), true
}
