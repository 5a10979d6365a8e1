package engine

import (
	"context"
	"fmt"
	"log"
	"time"
)

// wireEventHandlers sets up the event chain:
// start request / device edges → workflow machine (one mailbox, in order)
// ItemRepaired → system-of-record write-back
// MoverStatus, ControllerStatus, StageChanged → live state cache
func (e *Engine) wireEventHandlers() {
	e.Events.SubscribeTypes(e.handleWorkflowEvent,
		EventTaskStartRequested,
		EventMoverArrived,
		EventControllerItemReached,
		EventControllerActuatorDone,
		EventControllerReturned,
	)

	e.Events.SubscribeTypes(func(evt Event) error {
		item := evt.Payload.(ItemEvent)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.records.ReportItemRepaired(ctx, item.Side, item.TaskID, item.Item); err != nil {
			return fmt.Errorf("report item %d repaired: %w", item.Item, err)
		}
		return nil
	}, EventItemRepaired)

	if e.cache != nil {
		e.Events.SubscribeTypes(e.handleCacheEvent, EventMoverStatus, EventControllerStatus, EventStageChanged)
	}
}

func (e *Engine) handleWorkflowEvent(evt Event) error {
	switch p := evt.Payload.(type) {
	case TaskStartRequestedEvent:
		e.debugFn("task start requested: side=%s source=%s", p.Side, p.Source)
		if err := e.machine.StartTask(p.Side); err != nil {
			return fmt.Errorf("start task for side %s: %w", p.Side, err)
		}
	case MoverArrivedEvent:
		e.machine.HandleMoverArrived(p.PointID)
	case ControllerEdgeEvent:
		switch evt.Type {
		case EventControllerItemReached:
			e.machine.HandleItemReached()
		case EventControllerActuatorDone:
			e.machine.HandleActuatorDone()
		case EventControllerReturned:
			e.machine.HandleControllerReturned()
		}
	default:
		log.Printf("engine: unexpected payload %T for %s", evt.Payload, evt.Type)
	}
	return nil
}

func (e *Engine) handleCacheEvent(evt Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	switch p := evt.Payload.(type) {
	case MoverStatusEvent:
		return e.cache.SetMoverStatus(ctx, p.Address, p.Status)
	case ControllerStatusEvent:
		return e.cache.SetControllerStatus(ctx, p.Address, p.Status)
	case StageChangedEvent:
		return e.cache.SetWorkflow(ctx, e.machine.Snapshot())
	}
	return nil
}
