package messaging

import (
	"log"

	"repairedge/protocol"
)

// TaskRunner accepts task requests from the broker.
type TaskRunner interface {
	RequestTask(side, source string)
	AbortTask(detail string) error
}

// TaskHandler handles inbound dispatcher messages on the task topic.
type TaskHandler struct {
	protocol.NoOpHandler

	runner TaskRunner
}

func NewTaskHandler(runner TaskRunner) *TaskHandler {
	return &TaskHandler{runner: runner}
}

func (h *TaskHandler) HandleTaskStart(env *protocol.Envelope, p *protocol.TaskStart) {
	if p.Side == "" {
		log.Printf("task_handler: task.start %s without side", env.ID)
		return
	}
	log.Printf("task_handler: task.start side=%s request=%s", p.Side, p.RequestID)
	h.runner.RequestTask(p.Side, "broker")
}

func (h *TaskHandler) HandleTaskAbort(env *protocol.Envelope, p *protocol.TaskAbort) {
	reason := p.Reason
	if reason == "" {
		reason = "aborted by dispatcher"
	}
	if err := h.runner.AbortTask(reason); err != nil {
		log.Printf("task_handler: abort: %v", err)
	}
}
