package controller

// EventEmitter is the interface the controller package uses to emit events.
// The engine package implements this via an adapter to avoid import cycles.
type EventEmitter interface {
	EmitControllerStatus(addr string, st Status)
	EmitControllerItemReached(addr string)
	EmitControllerActuatorDone(addr string)
	EmitControllerReturned(addr string)
	EmitControllerConnected(addr string)
	EmitControllerDisconnected(addr string, err error)
}
