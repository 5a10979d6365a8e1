package engine

import (
	"time"

	"repairedge/controller"
	"repairedge/mover"
)

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Inbound requests
	EventTaskStartRequested EventType = iota + 1

	// Mover events
	EventMoverStatus
	EventMoverArrived
	EventMoverConnected
	EventMoverDisconnected

	// Controller events
	EventControllerStatus
	EventControllerItemReached
	EventControllerActuatorDone
	EventControllerReturned
	EventControllerConnected
	EventControllerDisconnected

	// Workflow events
	EventStageChanged
	EventTaskStarted
	EventItemSent
	EventItemRepaired
	EventTaskCompleted
	EventTaskError
)

var eventNames = map[EventType]string{
	EventTaskStartRequested:     "task-start-requested",
	EventMoverStatus:            "mover-status",
	EventMoverArrived:           "mover-arrived",
	EventMoverConnected:         "mover-connected",
	EventMoverDisconnected:      "mover-disconnected",
	EventControllerStatus:       "controller-status",
	EventControllerItemReached:  "controller-item-reached",
	EventControllerActuatorDone: "controller-actuator-done",
	EventControllerReturned:     "controller-returned",
	EventControllerConnected:    "controller-connected",
	EventControllerDisconnected: "controller-disconnected",
	EventStageChanged:           "stage-changed",
	EventTaskStarted:            "task-started",
	EventItemSent:               "item-sent",
	EventItemRepaired:           "item-repaired",
	EventTaskCompleted:          "task-completed",
	EventTaskError:              "task-error",
}

func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// Event is the envelope emitted by the Engine's EventBus. Payload holds the
// struct matching Type.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// TaskStartRequestedEvent asks the workflow to start a task for a side.
type TaskStartRequestedEvent struct {
	Side   string `json:"side"`
	Source string `json:"source"` // "broker", "api:<operator>", "cli"
}

// MoverStatusEvent is emitted on every successful mover poll.
type MoverStatusEvent struct {
	Address string       `json:"address"`
	Status  mover.Status `json:"status"`
}

// MoverArrivedEvent is emitted once per commanded target.
type MoverArrivedEvent struct {
	Address  string `json:"address"`
	PointID  uint32 `json:"point_id"`
	OrderID  uint32 `json:"order_id"`
	TaskKey  uint32 `json:"task_key"`
	Implicit bool   `json:"implicit"`
}

// DeviceEvent is emitted for mover and controller connection changes.
type DeviceEvent struct {
	Address string `json:"address"`
	Error   string `json:"error,omitempty"`
}

// ControllerStatusEvent is emitted on every successful controller poll.
type ControllerStatusEvent struct {
	Address string            `json:"address"`
	Status  controller.Status `json:"status"`
}

// ControllerEdgeEvent is emitted when a controller status coil rises.
type ControllerEdgeEvent struct {
	Address string `json:"address"`
}

// StageChangedEvent is emitted on every workflow transition.
type StageChangedEvent struct {
	TaskID   string `json:"task_id"`
	Side     string `json:"side"`
	OldStage string `json:"old_stage"`
	NewStage string `json:"new_stage"`
}

// TaskStartedEvent is emitted when a task is accepted.
type TaskStartedEvent struct {
	TaskID  string `json:"task_id"`
	Side    string `json:"side"`
	Handoff uint32 `json:"handoff"`
	Resumed bool   `json:"resumed"`
}

// ItemEvent is emitted when an item is sent to or repaired by the controller.
type ItemEvent struct {
	TaskID    string `json:"task_id"`
	Side      string `json:"side"`
	Item      int    `json:"item"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// TaskCompletedEvent is emitted when the mover is back at standby.
type TaskCompletedEvent struct {
	TaskID    string `json:"task_id"`
	Side      string `json:"side"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// TaskErrorEvent is emitted when a task fails or cannot start.
type TaskErrorEvent struct {
	TaskID string `json:"task_id"`
	Side   string `json:"side"`
	Detail string `json:"detail"`
}
