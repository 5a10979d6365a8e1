package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"repairedge/config"
	"repairedge/controller"
	"repairedge/mover"
	"repairedge/store"
)

// mockEmitter records emitted events for test assertions.
type mockEmitter struct {
	mu     sync.Mutex
	events []string
}

func (e *mockEmitter) record(s string) {
	e.mu.Lock()
	e.events = append(e.events, s)
	e.mu.Unlock()
}

func (e *mockEmitter) EmitStageChanged(taskID, side string, oldStage, newStage Stage) {}

func (e *mockEmitter) EmitTaskStarted(taskID, side string, handoff uint32, resumed bool) {
	e.record(fmt.Sprintf("task_started:%s:resumed=%v", side, resumed))
}

func (e *mockEmitter) EmitItemSent(taskID, side string, item, completed, total int) {
	e.record(fmt.Sprintf("item_sent:%d", item))
}

func (e *mockEmitter) EmitItemRepaired(taskID, side string, item, completed, total int) {
	e.record(fmt.Sprintf("item_repaired:%d:%d/%d", item, completed, total))
}

func (e *mockEmitter) EmitTaskCompleted(taskID, side string, completed, total int) {
	e.record(fmt.Sprintf("task_completed:%d/%d", completed, total))
}

func (e *mockEmitter) EmitTaskError(taskID, side, detail string) {
	e.record("task_error")
}

func (e *mockEmitter) getEvents() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func (e *mockEmitter) has(event string) bool {
	for _, ev := range e.getEvents() {
		if ev == event {
			return true
		}
	}
	return false
}

type fakeMover struct {
	mu      sync.Mutex
	targets []uint32
	err     error
}

func (f *fakeMover) NavigateTo(ctx context.Context, cmd mover.SimpleNavigation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.targets = append(f.targets, cmd.PointID)
	return nil
}

type fakeController struct {
	mu      sync.Mutex
	writes  []string
	failOn  string
	failErr error
}

func (f *fakeController) WriteCoil(ctx context.Context, name string, v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == f.failOn {
		return f.failErr
	}
	f.writes = append(f.writes, fmt.Sprintf("%s=%v", name, v))
	return nil
}

func (f *fakeController) WriteRegister(ctx context.Context, name string, v uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == f.failOn {
		return f.failErr
	}
	f.writes = append(f.writes, fmt.Sprintf("%s=%d", name, v))
	return nil
}

func (f *fakeController) getWrites() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

type fakeSource struct {
	items []int
	err   error
	calls int
}

func (f *fakeSource) FetchWorkItems(ctx context.Context, side string) ([]int, error) {
	f.calls++
	return f.items, f.err
}

type harness struct {
	m     *Machine
	db    *store.DB
	mover *fakeMover
	ctrl  *fakeController
	src   *fakeSource
	em    *mockEmitter
}

func newHarness(t *testing.T, items []int, wf config.WorkflowConfig) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "wf.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Defaults()
	cfg.Mover.Points = map[string]config.SidePoints{"3": {Handoff: 1003, Standby: 1001}}

	h := &harness{db: db, mover: &fakeMover{}, ctrl: &fakeController{}, src: &fakeSource{items: items}, em: &mockEmitter{}}
	h.m = NewMachine(Deps{
		Queue:      db,
		Source:     h.src,
		Mover:      h.mover,
		Controller: h.ctrl,
		Points:     cfg,
		Emitter:    h.em,
	}, wf)
	return h
}

func (h *harness) expectStage(t *testing.T, want Stage) {
	t.Helper()
	if got := h.m.Stage(); got != want {
		t.Fatalf("stage = %s, want %s; events %v", got, want, h.em.getEvents())
	}
}

func TestIdleIgnoresEverythingButStart(t *testing.T) {
	h := newHarness(t, []int{120}, config.WorkflowConfig{})

	h.m.HandleMoverArrived(1003)
	h.m.HandleItemReached()
	h.m.HandleActuatorDone()
	h.m.HandleControllerReturned()
	h.m.HandleMoverArrived(1001)

	h.expectStage(t, StageIdle)
	if w := h.ctrl.getWrites(); len(w) != 0 {
		t.Errorf("controller writes while idle: %v", w)
	}
	if len(h.mover.targets) != 0 {
		t.Errorf("mover commanded while idle: %v", h.mover.targets)
	}
	if ev := h.em.getEvents(); len(ev) != 0 {
		t.Errorf("events while idle: %v", ev)
	}
}

func TestEndToEndRepair(t *testing.T) {
	h := newHarness(t, []int{120, 340}, config.WorkflowConfig{})

	if err := h.m.StartTask("3"); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.expectStage(t, StageAwaitingMoverAtHandoff)
	taskID := h.m.Snapshot().TaskID
	if !reflect.DeepEqual(h.mover.targets, []uint32{1003}) {
		t.Fatalf("mover targets = %v, want [1003]", h.mover.targets)
	}

	// Arrival at the wrong point is ignored.
	h.m.HandleMoverArrived(9999)
	h.expectStage(t, StageAwaitingMoverAtHandoff)

	h.m.HandleMoverArrived(1003)
	h.expectStage(t, StageAwaitingControllerArrival)
	snap := h.m.Snapshot()
	if snap.Current != 120 || snap.Total != 2 || snap.Completed != 0 {
		t.Fatalf("after hand-off snapshot = %+v", snap)
	}

	h.m.HandleItemReached()
	h.expectStage(t, StageAwaitingActuatorDone)
	h.m.HandleActuatorDone()
	h.expectStage(t, StageAwaitingControllerArrival)

	items, _ := h.db.ListWorkItems(taskID)
	if items[0].Status != store.ItemCompleted || items[1].Status != store.ItemProcessing {
		t.Fatalf("durable items after first = %+v", items)
	}

	h.m.HandleItemReached()
	h.m.HandleActuatorDone()
	h.expectStage(t, StageAllItemsDone)

	h.m.HandleControllerReturned()
	h.expectStage(t, StageReturningToStandby)
	if !reflect.DeepEqual(h.mover.targets, []uint32{1003, 1001}) {
		t.Fatalf("mover targets = %v, want [1003 1001]", h.mover.targets)
	}

	// Hand-off arrival is stale once returning.
	h.m.HandleMoverArrived(1003)
	h.expectStage(t, StageReturningToStandby)

	h.m.HandleMoverArrived(1001)
	h.expectStage(t, StageIdle)
	snap = h.m.Snapshot()
	if snap.Total != 0 || snap.Completed != 0 || snap.TaskID != "" {
		t.Errorf("idle snapshot = %+v, want counts reset", snap)
	}

	wantWrites := []string{
		"mover_at_handoff=true",
		"item_position=120",
		"actuator_enable=true",
		"actuator_enable=false",
		"item_position=340",
		"actuator_enable=true",
		"actuator_enable=false",
		"return_to_handoff=true",
		"mover_at_handoff=false",
		"return_to_handoff=false",
	}
	if got := h.ctrl.getWrites(); !reflect.DeepEqual(got, wantWrites) {
		t.Errorf("controller writes:\n got %v\nwant %v", got, wantWrites)
	}

	wantEvents := []string{
		"task_started:3:resumed=false",
		"item_sent:120",
		"item_repaired:120:1/2",
		"item_sent:340",
		"item_repaired:340:2/2",
		"task_completed:2/2",
	}
	if got := h.em.getEvents(); !reflect.DeepEqual(got, wantEvents) {
		t.Errorf("events:\n got %v\nwant %v", got, wantEvents)
	}

	p, err := h.db.GetProgress(taskID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Total != 2 || p.Completed != 2 || p.Status != store.TaskCompleted {
		t.Errorf("durable progress = %+v", p)
	}
	logs, _ := h.db.ListStageLog(taskID)
	if len(logs) == 0 || logs[len(logs)-1].Stage != string(StageIdle) {
		t.Errorf("stage log = %+v", logs)
	}
}

func TestSecondStartRejected(t *testing.T) {
	h := newHarness(t, []int{120}, config.WorkflowConfig{})
	if err := h.m.StartTask("3"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.m.StartTask("3"); !errors.Is(err, ErrTaskActive) {
		t.Fatalf("second start err = %v, want ErrTaskActive", err)
	}
	h.expectStage(t, StageAwaitingMoverAtHandoff)
	if len(h.mover.targets) != 1 {
		t.Errorf("second start must not command the mover: %v", h.mover.targets)
	}
}

func TestUnknownSide(t *testing.T) {
	h := newHarness(t, nil, config.WorkflowConfig{})
	if err := h.m.StartTask("9"); !errors.Is(err, ErrUnknownSide) {
		t.Fatalf("err = %v, want ErrUnknownSide", err)
	}
	h.expectStage(t, StageIdle)
	if !h.em.has("task_error") {
		t.Error("unknown side should emit a task error")
	}
}

func TestEmptyQueueStillReturnsMover(t *testing.T) {
	h := newHarness(t, nil, config.WorkflowConfig{})
	h.m.StartTask("3")
	taskID := h.m.Snapshot().TaskID
	h.m.HandleMoverArrived(1003)

	h.expectStage(t, StageAllItemsDone)
	if !h.em.has("task_error") {
		t.Error("empty queue should emit a task error")
	}
	writes := h.ctrl.getWrites()
	if writes[len(writes)-1] != "return_to_handoff=true" {
		t.Errorf("writes = %v, want return_to_handoff last", writes)
	}

	h.m.HandleControllerReturned()
	h.m.HandleMoverArrived(1001)
	h.expectStage(t, StageIdle)
	if h.em.has("task_completed:0/0") {
		t.Error("degenerate task must not report completion")
	}
	task, _ := h.db.GetTask(taskID)
	if task.Status != store.TaskFailed {
		t.Errorf("task status = %s, want failed", task.Status)
	}
}

func TestFetchErrorAbandonsTask(t *testing.T) {
	h := newHarness(t, nil, config.WorkflowConfig{})
	h.src.err = errors.New("records offline")
	h.m.StartTask("3")
	taskID := h.m.Snapshot().TaskID
	h.m.HandleMoverArrived(1003)

	h.expectStage(t, StageIdle)
	if !h.em.has("task_error") {
		t.Error("fetch error should emit a task error")
	}
	task, _ := h.db.GetTask(taskID)
	if task.Status != store.TaskFailed || !strings.Contains(task.Detail, "records offline") {
		t.Errorf("task = %+v", task)
	}

	// Not resumed: a new start creates a new task.
	h.src.err = nil
	h.src.items = []int{5}
	h.m.StartTask("3")
	if h.m.Snapshot().TaskID == taskID {
		t.Error("failed task must not be resumed")
	}
}

func TestControllerWriteFailureAbandonsTask(t *testing.T) {
	h := newHarness(t, []int{120}, config.WorkflowConfig{})
	h.ctrl.failOn = controller.ActuatorEnable
	h.ctrl.failErr = controller.ErrNotConnected

	h.m.StartTask("3")
	h.m.HandleMoverArrived(1003)
	h.m.HandleItemReached()
	h.expectStage(t, StageIdle)
	if !h.em.has("task_error") {
		t.Error("write failure should emit a task error")
	}
}

func TestPositionOutOfRange(t *testing.T) {
	h := newHarness(t, []int{70000}, config.WorkflowConfig{})
	h.m.StartTask("3")
	h.m.HandleMoverArrived(1003)
	h.expectStage(t, StageIdle)
	for _, w := range h.ctrl.getWrites() {
		if strings.HasPrefix(w, "item_position") {
			t.Errorf("oversized position written: %v", w)
		}
	}
}

func TestMoverNavigationFailure(t *testing.T) {
	h := newHarness(t, []int{1}, config.WorkflowConfig{})
	h.mover.err = errors.New("network unreachable")
	if err := h.m.StartTask("3"); err == nil {
		t.Fatal("expected start to fail")
	}
	h.expectStage(t, StageIdle)
}

func TestAwaitTimeout(t *testing.T) {
	h := newHarness(t, []int{120}, config.WorkflowConfig{AwaitTimeout: 50 * time.Millisecond})
	h.m.StartTask("3")

	deadline := time.Now().Add(2 * time.Second)
	for h.m.Stage() != StageIdle && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	h.expectStage(t, StageIdle)
	if !h.em.has("task_error") {
		t.Error("timeout should emit a task error")
	}
}

func TestTimerDisarmedByProgress(t *testing.T) {
	h := newHarness(t, []int{120}, config.WorkflowConfig{AwaitTimeout: 150 * time.Millisecond})
	h.m.StartTask("3")
	time.Sleep(100 * time.Millisecond)
	h.m.HandleMoverArrived(1003)
	time.Sleep(100 * time.Millisecond)
	// 200ms since start but only 100ms in the current stage.
	h.expectStage(t, StageAwaitingControllerArrival)
}

func TestResumeUnfinishedTask(t *testing.T) {
	h := newHarness(t, []int{120, 340, 560}, config.WorkflowConfig{})
	h.m.StartTask("3")
	taskID := h.m.Snapshot().TaskID
	h.m.HandleMoverArrived(1003)
	h.m.HandleItemReached()
	h.m.HandleActuatorDone() // 120 completed, 340 processing

	// Simulate a crash: a fresh machine over the same durable queue.
	em := &mockEmitter{}
	ctrl := &fakeController{}
	cfg := config.Defaults()
	cfg.Mover.Points = map[string]config.SidePoints{"3": {Handoff: 1003, Standby: 1001}}
	src := &fakeSource{}
	m := NewMachine(Deps{Queue: h.db, Source: src, Mover: &fakeMover{}, Controller: ctrl, Points: cfg, Emitter: em}, config.WorkflowConfig{})

	if err := m.StartTask("3"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := m.Snapshot().TaskID; got != taskID {
		t.Fatalf("task id = %s, want resumed %s", got, taskID)
	}
	m.HandleMoverArrived(1003)
	if src.calls != 0 {
		t.Error("resumed task must not refetch work items")
	}
	snap := m.Snapshot()
	if snap.Current != 340 || !reflect.DeepEqual(snap.Pending, []int{560}) || snap.Completed != 1 || snap.Total != 3 {
		t.Errorf("resumed snapshot = %+v", snap)
	}
	if !em.has("task_started:3:resumed=true") {
		t.Errorf("events = %v", em.getEvents())
	}
}

func TestResumeWithEveryItemCompleted(t *testing.T) {
	h := newHarness(t, []int{120, 340}, config.WorkflowConfig{})
	h.m.StartTask("3")
	taskID := h.m.Snapshot().TaskID
	h.m.HandleMoverArrived(1003)
	h.m.HandleItemReached()
	h.m.HandleActuatorDone()
	h.m.HandleItemReached()
	h.m.HandleActuatorDone()
	h.expectStage(t, StageAllItemsDone)

	// Crash while the controller returns; the source still lists both items.
	em := &mockEmitter{}
	ctrl := &fakeController{}
	cfg := config.Defaults()
	cfg.Mover.Points = map[string]config.SidePoints{"3": {Handoff: 1003, Standby: 1001}}
	src := &fakeSource{items: []int{120, 340}}
	m := NewMachine(Deps{Queue: h.db, Source: src, Mover: &fakeMover{}, Controller: ctrl, Points: cfg, Emitter: em}, config.WorkflowConfig{})

	if err := m.StartTask("3"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	m.HandleMoverArrived(1003)

	if src.calls != 0 {
		t.Errorf("source fetched %d times for a task with durable items", src.calls)
	}
	if got := m.Stage(); got != StageAllItemsDone {
		t.Fatalf("stage = %s, want %s", got, StageAllItemsDone)
	}
	if em.has("task_error") {
		t.Errorf("completed items reported as an error: %v", em.getEvents())
	}
	want := []string{"mover_at_handoff=true", "return_to_handoff=true"}
	if got := ctrl.getWrites(); !reflect.DeepEqual(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}
	items, _ := h.db.ListWorkItems(taskID)
	if len(items) != 2 {
		t.Errorf("durable items = %d, want 2", len(items))
	}

	m.HandleControllerReturned()
	m.HandleMoverArrived(1001)
	if !em.has("task_completed:2/2") {
		t.Errorf("events = %v", em.getEvents())
	}
}

func TestEmptyQueueTimesOutWhenControllerNeverLeaves(t *testing.T) {
	h := newHarness(t, nil, config.WorkflowConfig{AwaitTimeout: 50 * time.Millisecond})
	h.m.StartTask("3")
	taskID := h.m.Snapshot().TaskID
	h.m.HandleMoverArrived(1003)
	h.expectStage(t, StageAllItemsDone)

	// The controller is already at hand-off, so no rising edge ever arrives.
	deadline := time.Now().Add(2 * time.Second)
	for h.m.Stage() != StageIdle {
		if time.Now().After(deadline) {
			t.Fatalf("stage = %s, want idle after await timeout", h.m.Stage())
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := h.db.GetTask(taskID)
	if task.Status != store.TaskFailed {
		t.Errorf("task status = %s, want failed", task.Status)
	}
}

func TestAbort(t *testing.T) {
	h := newHarness(t, []int{120}, config.WorkflowConfig{})
	if err := h.m.Abort(""); !errors.Is(err, ErrNoTask) {
		t.Fatalf("abort idle err = %v", err)
	}
	h.m.StartTask("3")
	if err := h.m.Abort("operator"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	h.expectStage(t, StageIdle)
}

func TestNewTaskIDFormat(t *testing.T) {
	id := newTaskID(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC))
	if !strings.HasPrefix(id, "20260304050607-") || len(id) != len("20260304050607-")+8 {
		t.Errorf("id = %q", id)
	}
}
