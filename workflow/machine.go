// Package workflow sequences a repair task: mover to hand-off, controller
// through each work item, mover back to standby.
package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"repairedge/config"
	"repairedge/controller"
	"repairedge/mover"
	"repairedge/store"
)

// Mover is the navigation side of the mover session.
type Mover interface {
	NavigateTo(ctx context.Context, cmd mover.SimpleNavigation) error
}

// Controller writes named coils and registers.
type Controller interface {
	WriteCoil(ctx context.Context, name string, v bool) error
	WriteRegister(ctx context.Context, name string, v uint16) error
}

// Queue is the durable queue of tasks and work items.
type Queue interface {
	CreateTask(id, side string) error
	UpdateTaskStatus(id, status, detail string) error
	FindUnfinishedTask(side string) (*store.RepairTask, error)
	EnqueueItems(side, taskID string, items []int) error
	DequeueOrderedPending(side, taskID string) ([]int, error)
	MarkItemStatus(side, taskID string, item int, status string) error
	GetProgress(taskID string) (store.Progress, error)
	InsertStageLog(taskID, side, stage, detail string) (int64, error)
}

// WorkSource supplies work items when the durable queue has none for a task.
type WorkSource interface {
	FetchWorkItems(ctx context.Context, side string) ([]int, error)
}

// PointResolver maps a side to its hand-off and standby points.
type PointResolver interface {
	SidePoints(side string) (config.SidePoints, error)
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Queue      Queue
	Source     WorkSource
	Mover      Mover
	Controller Controller
	Points     PointResolver
	Emitter    EventEmitter
	Debug      func(format string, args ...interface{})
}

// Machine is the repair workflow state machine. It owns no goroutine: every
// transition runs on the caller of a Handle method or on an await timer, and
// all of them hold mu.
type Machine struct {
	mu      sync.Mutex
	d       Deps
	debugFn func(format string, args ...interface{})

	cmdTimeout   time.Duration
	awaitTimeout time.Duration

	stage    Stage
	task     *RepairTask
	orderSeq uint32

	timer    *time.Timer
	timerGen uint64
}

// NewMachine creates an idle machine.
func NewMachine(d Deps, cfg config.WorkflowConfig) *Machine {
	debugFn := d.Debug
	if debugFn == nil {
		debugFn = func(string, ...interface{}) {}
	}
	cmdTimeout := cfg.CommandTimeout
	if cmdTimeout <= 0 {
		cmdTimeout = 5 * time.Second
	}
	return &Machine{
		d:            d,
		debugFn:      debugFn,
		cmdTimeout:   cmdTimeout,
		awaitTimeout: cfg.AwaitTimeout,
		stage:        StageIdle,
	}
}

// Stage returns the current stage.
func (m *Machine) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// Snapshot returns the current stage and task counters. Counts are zero while idle.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{Stage: m.stage}
	if t := m.task; t != nil {
		s.TaskID = t.ID
		s.Side = t.Side
		s.Current = t.Current
		s.Pending = append([]int(nil), t.Pending...)
		s.Total = t.Total
		s.Completed = t.Completed
	}
	return s
}

// StartTask begins a repair task for side. It is rejected unless the machine
// is idle. An unfinished task for the same side in the durable queue is
// resumed instead of creating a new one.
func (m *Machine) StartTask(side string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stage != StageIdle {
		return fmt.Errorf("%w: %s on side %s in stage %s", ErrTaskActive, m.task.ID, m.task.Side, m.stage)
	}

	pts, err := m.d.Points.SidePoints(side)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrUnknownSide, err)
		m.d.Emitter.EmitTaskError("", side, err.Error())
		return err
	}

	task := &RepairTask{Side: side, Handoff: pts.Handoff, Standby: pts.Standby}
	existing, err := m.d.Queue.FindUnfinishedTask(side)
	if err != nil {
		m.d.Emitter.EmitTaskError("", side, "look up unfinished task: "+err.Error())
		return fmt.Errorf("find unfinished task for side %s: %w", side, err)
	}
	if existing != nil {
		task.ID = existing.ID
		task.Resumed = true
		log.Printf("workflow: resuming task %s on side %s", task.ID, side)
	} else {
		task.ID = newTaskID(time.Now())
		if err := m.d.Queue.CreateTask(task.ID, side); err != nil {
			m.d.Emitter.EmitTaskError(task.ID, side, "create task: "+err.Error())
			return fmt.Errorf("create task: %w", err)
		}
	}
	m.task = task

	if err := m.navigateLocked(task.Handoff); err != nil {
		m.failLocked(fmt.Sprintf("navigate to hand-off point %d: %v", task.Handoff, err))
		return err
	}
	m.setStageLocked(StageAwaitingMoverAtHandoff, fmt.Sprintf("hand-off point %d", task.Handoff))
	m.d.Emitter.EmitTaskStarted(task.ID, side, task.Handoff, task.Resumed)
	m.armLocked()
	return nil
}

// Abort abandons the active task.
func (m *Machine) Abort(detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stage == StageIdle {
		return ErrNoTask
	}
	if detail == "" {
		detail = "aborted by operator"
	}
	m.failLocked(detail)
	return nil
}

// HandleMoverArrived reacts to the mover reaching a point.
func (m *Machine) HandleMoverArrived(pointID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.stage == StageAwaitingMoverAtHandoff && pointID == m.task.Handoff:
		m.atHandoffLocked()
	case m.stage == StageReturningToStandby && pointID == m.task.Standby:
		m.finishLocked()
	default:
		m.debugFn("workflow: ignoring mover arrival at %d in stage %s", pointID, m.stage)
	}
}

// HandleItemReached reacts to the controller reaching the current item.
func (m *Machine) HandleItemReached() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stage != StageAwaitingControllerArrival {
		m.debugFn("workflow: ignoring item reached in stage %s", m.stage)
		return
	}
	m.setStageLocked(StageTriggerActuator, fmt.Sprintf("item %d", m.task.Current))
	if err := m.writeCoilLocked(controller.ActuatorEnable, true); err != nil {
		m.failLocked(fmt.Sprintf("enable actuator for item %d: %v", m.task.Current, err))
		return
	}
	m.setStageLocked(StageAwaitingActuatorDone, "")
	m.armLocked()
}

// HandleActuatorDone reacts to the controller finishing the current item.
func (m *Machine) HandleActuatorDone() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stage != StageAwaitingActuatorDone {
		m.debugFn("workflow: ignoring actuator done in stage %s", m.stage)
		return
	}
	t := m.task
	item := t.Current
	if err := m.d.Queue.MarkItemStatus(t.Side, t.ID, item, store.ItemCompleted); err != nil {
		m.failLocked(fmt.Sprintf("mark item %d completed: %v", item, err))
		return
	}
	t.Completed++
	t.Current = 0
	if err := m.writeCoilLocked(controller.ActuatorEnable, false); err != nil {
		m.failLocked(fmt.Sprintf("disable actuator after item %d: %v", item, err))
		return
	}
	m.d.Emitter.EmitItemRepaired(t.ID, t.Side, item, t.Completed, t.Total)
	m.sendNextLocked()
}

// HandleControllerReturned reacts to the controller returning to hand-off.
func (m *Machine) HandleControllerReturned() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stage != StageAllItemsDone {
		m.debugFn("workflow: ignoring controller returned in stage %s", m.stage)
		return
	}
	if err := m.writeCoilLocked(controller.MoverAtHandoff, false); err != nil {
		m.failLocked(fmt.Sprintf("clear mover-at-handoff: %v", err))
		return
	}
	if err := m.writeCoilLocked(controller.ReturnToHandoff, false); err != nil {
		m.failLocked(fmt.Sprintf("clear return-to-handoff: %v", err))
		return
	}
	if err := m.navigateLocked(m.task.Standby); err != nil {
		m.failLocked(fmt.Sprintf("navigate to standby point %d: %v", m.task.Standby, err))
		return
	}
	m.setStageLocked(StageReturningToStandby, fmt.Sprintf("standby point %d", m.task.Standby))
	m.armLocked()
}

func (m *Machine) atHandoffLocked() {
	t := m.task
	if err := m.writeCoilLocked(controller.MoverAtHandoff, true); err != nil {
		m.failLocked(fmt.Sprintf("set mover-at-handoff: %v", err))
		return
	}
	m.setStageLocked(StageAtHandoff, "")

	pending, err := m.d.Queue.DequeueOrderedPending(t.Side, t.ID)
	if err != nil {
		m.failLocked(fmt.Sprintf("load pending items: %v", err))
		return
	}
	progress, err := m.d.Queue.GetProgress(t.ID)
	if err != nil {
		m.failLocked(fmt.Sprintf("read progress: %v", err))
		return
	}
	// The durable queue is authoritative once it holds any item for the task,
	// even if every item is already completed.
	if progress.Total == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), m.cmdTimeout)
		items, err := m.d.Source.FetchWorkItems(ctx, t.Side)
		cancel()
		if err != nil {
			m.failLocked(fmt.Sprintf("fetch work items: %v", err))
			return
		}
		if len(items) > 0 {
			if err := m.d.Queue.EnqueueItems(t.Side, t.ID, items); err != nil {
				m.failLocked(fmt.Sprintf("enqueue work items: %v", err))
				return
			}
			pending = items
			progress.Total = len(items)
		}
	}
	t.Pending = pending
	t.Total = progress.Total
	t.Completed = progress.Completed
	log.Printf("workflow: task %s at hand-off, %d of %d items pending", t.ID, len(pending), t.Total)
	m.sendNextLocked()
}

// sendNextLocked sends the next pending item, or finishes the item phase.
func (m *Machine) sendNextLocked() {
	t := m.task
	if len(t.Pending) == 0 {
		if t.Total == 0 {
			t.errDetail = fmt.Sprintf("%v %s", ErrNoWorkItems, t.Side)
			m.d.Emitter.EmitTaskError(t.ID, t.Side, t.errDetail)
		}
		if err := m.writeCoilLocked(controller.ReturnToHandoff, true); err != nil {
			m.failLocked(fmt.Sprintf("set return-to-handoff: %v", err))
			return
		}
		m.setStageLocked(StageAllItemsDone, fmt.Sprintf("%d/%d completed", t.Completed, t.Total))
		m.armLocked()
		return
	}

	item := t.Pending[0]
	if item < 0 || item > 0xFFFF {
		m.failLocked(fmt.Sprintf("item %d: %v", item, ErrPositionRange))
		return
	}
	if err := m.d.Queue.MarkItemStatus(t.Side, t.ID, item, store.ItemProcessing); err != nil {
		m.failLocked(fmt.Sprintf("mark item %d processing: %v", item, err))
		return
	}
	t.Pending = t.Pending[1:]
	t.Current = item
	m.setStageLocked(StageSendingWorkItem, fmt.Sprintf("item %d", item))

	ctx, cancel := context.WithTimeout(context.Background(), m.cmdTimeout)
	err := m.d.Controller.WriteRegister(ctx, controller.ItemPosition, uint16(item))
	cancel()
	if err != nil {
		m.failLocked(fmt.Sprintf("write item position %d: %v", item, err))
		return
	}
	m.d.Emitter.EmitItemSent(t.ID, t.Side, item, t.Completed, t.Total)
	m.setStageLocked(StageAwaitingControllerArrival, "")
	m.armLocked()
}

func (m *Machine) finishLocked() {
	t := m.task
	status, detail := store.TaskCompleted, ""
	if t.errDetail != "" {
		status, detail = store.TaskFailed, t.errDetail
	}
	if err := m.d.Queue.UpdateTaskStatus(t.ID, status, detail); err != nil {
		log.Printf("workflow: persist task %s %s: %v", t.ID, status, err)
	}
	if status == store.TaskCompleted {
		m.d.Emitter.EmitTaskCompleted(t.ID, t.Side, t.Completed, t.Total)
	}
	log.Printf("workflow: task %s on side %s finished (%s, %d/%d)", t.ID, t.Side, status, t.Completed, t.Total)
	m.setStageLocked(StageIdle, status)
	m.task = nil
}

// failLocked abandons the task: task error, persisted failure, back to idle.
func (m *Machine) failLocked(detail string) {
	t := m.task
	if t == nil {
		return
	}
	log.Printf("workflow: task %s on side %s failed in stage %s: %s", t.ID, t.Side, m.stage, detail)
	if err := m.d.Queue.UpdateTaskStatus(t.ID, store.TaskFailed, detail); err != nil {
		log.Printf("workflow: persist task %s failed: %v", t.ID, err)
	}
	m.d.Emitter.EmitTaskError(t.ID, t.Side, detail)
	if m.stage != StageIdle {
		m.setStageLocked(StageIdle, "failed: "+detail)
	}
	m.task = nil
}

func (m *Machine) setStageLocked(next Stage, detail string) {
	m.disarmLocked()
	old := m.stage
	m.stage = next
	var taskID, side string
	if m.task != nil {
		taskID, side = m.task.ID, m.task.Side
	}
	if _, err := m.d.Queue.InsertStageLog(taskID, side, string(next), detail); err != nil {
		log.Printf("workflow: insert stage log: %v", err)
	}
	m.debugFn("workflow: %s -> %s %s", old, next, detail)
	m.d.Emitter.EmitStageChanged(taskID, side, old, next)
}

func (m *Machine) navigateLocked(point uint32) error {
	m.orderSeq++
	ctx, cancel := context.WithTimeout(context.Background(), m.cmdTimeout)
	defer cancel()
	return m.d.Mover.NavigateTo(ctx, mover.SimpleNavigation{PointID: point, OrderID: m.orderSeq})
}

func (m *Machine) writeCoilLocked(name string, v bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.cmdTimeout)
	defer cancel()
	return m.d.Controller.WriteCoil(ctx, name, v)
}

// armLocked starts the await timer for the current stage when configured.
func (m *Machine) armLocked() {
	if m.awaitTimeout <= 0 || !m.stage.Awaiting() {
		return
	}
	gen := m.timerGen
	stage := m.stage
	m.timer = time.AfterFunc(m.awaitTimeout, func() { m.expire(gen, stage) })
}

func (m *Machine) disarmLocked() {
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) expire(gen uint64, stage Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.timerGen || m.stage != stage {
		return
	}
	m.failLocked(fmt.Sprintf("timed out after %v in stage %s", m.awaitTimeout, stage))
}

// newTaskID returns a timestamp plus a random suffix.
func newTaskID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.Format("20060102150405") + "-" + suffix
}
