package workflow

import "errors"

// Stage is a workflow stage.
type Stage string

// Workflow stages
const (
	StageIdle                      Stage = "idle"
	StageAwaitingMoverAtHandoff    Stage = "awaiting_mover_at_handoff"
	StageAtHandoff                 Stage = "at_handoff"
	StageSendingWorkItem           Stage = "sending_work_item"
	StageAwaitingControllerArrival Stage = "awaiting_controller_arrival"
	StageTriggerActuator           Stage = "trigger_actuator"
	StageAwaitingActuatorDone      Stage = "awaiting_actuator_done"
	StageAllItemsDone              Stage = "all_items_done"
	StageReturningToStandby        Stage = "returning_to_standby"
)

// AllStages lists the stages in the order a task passes through them.
var AllStages = []Stage{
	StageIdle,
	StageAwaitingMoverAtHandoff,
	StageAtHandoff,
	StageSendingWorkItem,
	StageAwaitingControllerArrival,
	StageTriggerActuator,
	StageAwaitingActuatorDone,
	StageAllItemsDone,
	StageReturningToStandby,
}

// Awaiting reports whether the stage waits on an external event.
func (s Stage) Awaiting() bool {
	switch s {
	case StageAwaitingMoverAtHandoff, StageAwaitingControllerArrival, StageAwaitingActuatorDone,
		StageAllItemsDone, StageReturningToStandby:
		return true
	}
	return false
}

var (
	ErrTaskActive    = errors.New("a repair task is already active")
	ErrNoTask        = errors.New("no repair task active")
	ErrUnknownSide   = errors.New("unknown side")
	ErrPositionRange = errors.New("item position does not fit the position register")
	ErrNoWorkItems   = errors.New("no work items for side")
)

// RepairTask is the in-memory state of the active task.
type RepairTask struct {
	ID        string `json:"id"`
	Side      string `json:"side"`
	Handoff   uint32 `json:"handoff"`
	Standby   uint32 `json:"standby"`
	Pending   []int  `json:"pending"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Resumed   bool   `json:"resumed"`

	errDetail string // set when the task degenerated but still runs to standby
}

// Snapshot is a read-only view of the machine.
type Snapshot struct {
	Stage     Stage  `json:"stage"`
	TaskID    string `json:"task_id,omitempty"`
	Side      string `json:"side,omitempty"`
	Current   int    `json:"current"`
	Pending   []int  `json:"pending"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
}
