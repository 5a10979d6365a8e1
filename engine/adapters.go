package engine

import (
	"repairedge/controller"
	"repairedge/mover"
	"repairedge/workflow"
)

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// moverEmitter adapts the engine's EventBus to the mover.EventEmitter interface.
type moverEmitter struct {
	bus *EventBus
}

func (e *moverEmitter) EmitMoverStatus(addr string, st mover.Status) {
	e.bus.Emit(Event{Type: EventMoverStatus, Payload: MoverStatusEvent{Address: addr, Status: st}})
}

func (e *moverEmitter) EmitMoverArrived(addr string, pointID, orderID, taskKey uint32, implicit bool) {
	e.bus.Emit(Event{Type: EventMoverArrived, Payload: MoverArrivedEvent{
		Address: addr, PointID: pointID, OrderID: orderID, TaskKey: taskKey, Implicit: implicit,
	}})
}

func (e *moverEmitter) EmitMoverConnected(addr string) {
	e.bus.Emit(Event{Type: EventMoverConnected, Payload: DeviceEvent{Address: addr}})
}

func (e *moverEmitter) EmitMoverDisconnected(addr string, err error) {
	e.bus.Emit(Event{Type: EventMoverDisconnected, Payload: DeviceEvent{Address: addr, Error: errString(err)}})
}

// controllerEmitter adapts the engine's EventBus to the controller.EventEmitter interface.
type controllerEmitter struct {
	bus *EventBus
}

func (e *controllerEmitter) EmitControllerStatus(addr string, st controller.Status) {
	e.bus.Emit(Event{Type: EventControllerStatus, Payload: ControllerStatusEvent{Address: addr, Status: st}})
}

func (e *controllerEmitter) EmitControllerItemReached(addr string) {
	e.bus.Emit(Event{Type: EventControllerItemReached, Payload: ControllerEdgeEvent{Address: addr}})
}

func (e *controllerEmitter) EmitControllerActuatorDone(addr string) {
	e.bus.Emit(Event{Type: EventControllerActuatorDone, Payload: ControllerEdgeEvent{Address: addr}})
}

func (e *controllerEmitter) EmitControllerReturned(addr string) {
	e.bus.Emit(Event{Type: EventControllerReturned, Payload: ControllerEdgeEvent{Address: addr}})
}

func (e *controllerEmitter) EmitControllerConnected(addr string) {
	e.bus.Emit(Event{Type: EventControllerConnected, Payload: DeviceEvent{Address: addr}})
}

func (e *controllerEmitter) EmitControllerDisconnected(addr string, err error) {
	e.bus.Emit(Event{Type: EventControllerDisconnected, Payload: DeviceEvent{Address: addr, Error: errString(err)}})
}

// workflowEmitter adapts the engine's EventBus to the workflow.EventEmitter interface.
type workflowEmitter struct {
	bus *EventBus
}

func (e *workflowEmitter) EmitStageChanged(taskID, side string, oldStage, newStage workflow.Stage) {
	e.bus.Emit(Event{Type: EventStageChanged, Payload: StageChangedEvent{
		TaskID: taskID, Side: side, OldStage: string(oldStage), NewStage: string(newStage),
	}})
}

func (e *workflowEmitter) EmitTaskStarted(taskID, side string, handoff uint32, resumed bool) {
	e.bus.Emit(Event{Type: EventTaskStarted, Payload: TaskStartedEvent{
		TaskID: taskID, Side: side, Handoff: handoff, Resumed: resumed,
	}})
}

func (e *workflowEmitter) EmitItemSent(taskID, side string, item, completed, total int) {
	e.bus.Emit(Event{Type: EventItemSent, Payload: ItemEvent{
		TaskID: taskID, Side: side, Item: item, Completed: completed, Total: total,
	}})
}

func (e *workflowEmitter) EmitItemRepaired(taskID, side string, item, completed, total int) {
	e.bus.Emit(Event{Type: EventItemRepaired, Payload: ItemEvent{
		TaskID: taskID, Side: side, Item: item, Completed: completed, Total: total,
	}})
}

func (e *workflowEmitter) EmitTaskCompleted(taskID, side string, completed, total int) {
	e.bus.Emit(Event{Type: EventTaskCompleted, Payload: TaskCompletedEvent{
		TaskID: taskID, Side: side, Completed: completed, Total: total,
	}})
}

func (e *workflowEmitter) EmitTaskError(taskID, side, detail string) {
	e.bus.Emit(Event{Type: EventTaskError, Payload: TaskErrorEvent{TaskID: taskID, Side: side, Detail: detail}})
}
