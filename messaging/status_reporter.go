package messaging

import (
	"fmt"
	"log"

	"repairedge/engine"
	"repairedge/protocol"
)

// OutboxWriter queues outbound messages durably.
type OutboxWriter interface {
	EnqueueOutbox(topic string, payload []byte, msgType string) (int64, error)
}

// StatusReporter turns workflow events into task.status messages and queues
// them in the outbox, so status survives a broker outage or restart.
type StatusReporter struct {
	outbox    OutboxWriter
	stationID string
	topic     string
}

func NewStatusReporter(outbox OutboxWriter, stationID, topic string) *StatusReporter {
	return &StatusReporter{outbox: outbox, stationID: stationID, topic: topic}
}

// EventTypes lists the bus events HandleEvent understands.
func (r *StatusReporter) EventTypes() []engine.EventType {
	return []engine.EventType{
		engine.EventTaskStarted,
		engine.EventItemSent,
		engine.EventItemRepaired,
		engine.EventTaskCompleted,
		engine.EventTaskError,
	}
}

// HandleEvent is an engine.SubscriberFunc.
func (r *StatusReporter) HandleEvent(evt engine.Event) error {
	st := protocol.TaskStatus{StationID: r.stationID}
	switch p := evt.Payload.(type) {
	case engine.TaskStartedEvent:
		st.TaskID, st.Side, st.Status = p.TaskID, p.Side, protocol.StatusStarted
		if p.Resumed {
			st.Detail = "resumed"
		}
	case engine.ItemEvent:
		st.TaskID, st.Side, st.Item, st.Completed, st.Total = p.TaskID, p.Side, p.Item, p.Completed, p.Total
		st.Status = protocol.StatusItemSent
		if evt.Type == engine.EventItemRepaired {
			st.Status = protocol.StatusItemRepaired
		}
	case engine.TaskCompletedEvent:
		st.TaskID, st.Side, st.Status = p.TaskID, p.Side, protocol.StatusCompleted
		st.Completed, st.Total = p.Completed, p.Total
	case engine.TaskErrorEvent:
		st.TaskID, st.Side, st.Status, st.Detail = p.TaskID, p.Side, protocol.StatusError, p.Detail
	default:
		return nil
	}

	env, err := protocol.NewEnvelope(protocol.TypeTaskStatus,
		protocol.Address{Role: protocol.RoleStation, Station: r.stationID},
		protocol.Address{Role: protocol.RoleDispatcher}, &st)
	if err != nil {
		return fmt.Errorf("build task.status: %w", err)
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode task.status: %w", err)
	}
	if _, err := r.outbox.EnqueueOutbox(r.topic, data, protocol.TypeTaskStatus); err != nil {
		return fmt.Errorf("enqueue task.status: %w", err)
	}
	log.Printf("status_reporter: queued %s for task %s", st.Status, st.TaskID)
	return nil
}
