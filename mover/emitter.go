package mover

// EventEmitter is the interface the mover package uses to emit events.
// The engine package implements this via an adapter to avoid import cycles.
type EventEmitter interface {
	EmitMoverStatus(addr string, st Status)
	EmitMoverArrived(addr string, pointID, orderID, taskKey uint32, implicit bool)
	EmitMoverConnected(addr string)
	EmitMoverDisconnected(addr string, err error)
}
