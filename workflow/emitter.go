package workflow

// EventEmitter is the interface the workflow package uses to emit events.
// The engine package implements this via an adapter to avoid import cycles.
type EventEmitter interface {
	EmitStageChanged(taskID, side string, oldStage, newStage Stage)
	EmitTaskStarted(taskID, side string, handoff uint32, resumed bool)
	EmitItemSent(taskID, side string, item, completed, total int)
	EmitItemRepaired(taskID, side string, item, completed, total int)
	EmitTaskCompleted(taskID, side string, completed, total int)
	EmitTaskError(taskID, side, detail string)
}
