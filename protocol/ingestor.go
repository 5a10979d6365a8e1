package protocol

import (
	"encoding/json"
	"log"
)

// FilterFunc returns true if the message should be processed.
type FilterFunc func(hdr *RawHeader) bool

// MessageHandler receives decoded messages. Embed NoOpHandler and override
// only what you need.
type MessageHandler interface {
	HandleTaskStart(env *Envelope, p *TaskStart)
	HandleTaskAbort(env *Envelope, p *TaskAbort)
	HandleTaskStatus(env *Envelope, p *TaskStatus)
	HandleStationRegister(env *Envelope, p *StationRegister)
	HandleStationHeartbeat(env *Envelope, p *StationHeartbeat)
}

// Ingestor performs two-phase decode and dispatches to a MessageHandler.
type Ingestor struct {
	handler MessageHandler
	filter  FilterFunc
}

func NewIngestor(handler MessageHandler, filter FilterFunc) *Ingestor {
	return &Ingestor{handler: handler, filter: filter}
}

// ForStation accepts messages addressed to station or to every station.
func ForStation(station string) FilterFunc {
	return func(hdr *RawHeader) bool {
		return hdr.Dst.Station == "" || hdr.Dst.Station == station
	}
}

// HandleRaw is the entry point for raw message bytes from the messaging layer.
func (ing *Ingestor) HandleRaw(data []byte) {
	var hdr RawHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		log.Printf("protocol: header decode error: %v", err)
		return
	}
	if IsExpiredHeader(&hdr) {
		log.Printf("protocol: dropping expired message %s (type=%s)", hdr.ID, hdr.Type)
		return
	}
	if ing.filter != nil && !ing.filter(&hdr) {
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("protocol: envelope decode error: %v", err)
		return
	}

	switch env.Type {
	case TypeTaskStart:
		decodeAndCall(ing.handler.HandleTaskStart, &env)
	case TypeTaskAbort:
		decodeAndCall(ing.handler.HandleTaskAbort, &env)
	case TypeTaskStatus:
		decodeAndCall(ing.handler.HandleTaskStatus, &env)
	case TypeStationRegister:
		decodeAndCall(ing.handler.HandleStationRegister, &env)
	case TypeStationHeartbeat:
		decodeAndCall(ing.handler.HandleStationHeartbeat, &env)
	default:
		log.Printf("protocol: unknown message type: %s", env.Type)
	}
}

func decodeAndCall[T any](fn func(*Envelope, *T), env *Envelope) {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Printf("protocol: payload decode error for %s: %v", env.Type, err)
		return
	}
	fn(env, &p)
}
