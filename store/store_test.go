package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// --- Durable queue tests ---

func TestEnqueueAndDequeueOrder(t *testing.T) {
	db := testDB(t)
	if err := db.CreateTask("t1", "3"); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := db.EnqueueItems("3", "t1", []int{340, 120}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := db.EnqueueItems("3", "t1", []int{55}); err != nil {
		t.Fatalf("enqueue more: %v", err)
	}

	got, err := db.DequeueOrderedPending("3", "t1")
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	want := []int{340, 120, 55}
	if len(got) != len(want) {
		t.Fatalf("pending = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pending = %v, want %v", got, want)
		}
	}

	// Other sides see nothing.
	other, err := db.DequeueOrderedPending("4", "t1")
	if err != nil || len(other) != 0 {
		t.Errorf("other side pending = %v, err %v", other, err)
	}
}

func TestMarkItemStatusAndProgress(t *testing.T) {
	db := testDB(t)
	db.CreateTask("t1", "3")
	db.EnqueueItems("3", "t1", []int{120, 340})

	if err := db.MarkItemStatus("3", "t1", 120, ItemProcessing); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	pending, _ := db.DequeueOrderedPending("3", "t1")
	if len(pending) != 2 || pending[0] != 120 {
		t.Errorf("processing item should stay pending for recovery: %v", pending)
	}

	if err := db.MarkItemStatus("3", "t1", 120, ItemCompleted); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	p, err := db.GetProgress("t1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Total != 2 || p.Completed != 1 || p.Status != TaskActive {
		t.Errorf("progress = %+v, want 2/1 active", p)
	}

	pending, _ = db.DequeueOrderedPending("3", "t1")
	if len(pending) != 1 || pending[0] != 340 {
		t.Errorf("pending = %v, want [340]", pending)
	}

	if err := db.MarkItemStatus("3", "t1", 120, ItemCompleted); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("re-marking completed item: err = %v, want ErrItemNotFound", err)
	}
}

func TestDuplicatePositionsMarkedInOrder(t *testing.T) {
	db := testDB(t)
	db.CreateTask("t1", "A")
	db.EnqueueItems("A", "t1", []int{10, 10})

	db.MarkItemStatus("A", "t1", 10, ItemCompleted)
	items, err := db.ListWorkItems("t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if items[0].Status != ItemCompleted || items[1].Status != ItemPending {
		t.Errorf("items = %+v", items)
	}
}

func TestEnqueueRequiresTask(t *testing.T) {
	db := testDB(t)
	if err := db.EnqueueItems("3", "missing", []int{1}); err == nil {
		t.Error("enqueue for unknown task should fail")
	}
}

// --- Task tests ---

func TestFindUnfinishedTask(t *testing.T) {
	db := testDB(t)

	got, err := db.FindUnfinishedTask("3")
	if err != nil || got != nil {
		t.Fatalf("empty db: got %+v err %v", got, err)
	}

	db.CreateTask("t1", "3")
	db.CreateTask("t2", "4")
	got, err = db.FindUnfinishedTask("3")
	if err != nil || got == nil || got.ID != "t1" {
		t.Fatalf("unfinished = %+v err %v", got, err)
	}

	db.UpdateTaskStatus("t1", TaskCompleted, "")
	got, _ = db.FindUnfinishedTask("3")
	if got != nil {
		t.Errorf("completed task returned as unfinished: %+v", got)
	}

	task, err := db.GetTask("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != TaskCompleted || task.Side != "3" {
		t.Errorf("task = %+v", task)
	}
	if _, err := db.GetTask("nope"); !IsNotFound(err) {
		t.Errorf("missing task err = %v", err)
	}

	tasks, err := db.ListTasks(10)
	if err != nil || len(tasks) != 2 {
		t.Errorf("list = %v err %v", tasks, err)
	}
}

func TestStageLog(t *testing.T) {
	db := testDB(t)
	db.InsertStageLog("t1", "3", "awaiting_mover_at_handoff", "point 1003")
	db.InsertStageLog("t1", "3", "at_handoff", "")
	db.InsertStageLog("t2", "4", "idle", "")

	logs, err := db.ListStageLog("t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 2 || logs[0].Stage != "awaiting_mover_at_handoff" || logs[0].Detail != "point 1003" {
		t.Errorf("logs = %+v", logs)
	}
}

func TestItemCache(t *testing.T) {
	db := testDB(t)
	db.ReplaceCachedItems("3", []int{1, 2, 3})
	db.ReplaceCachedItems("3", []int{9, 8})

	got, err := db.ListCachedItems("3")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0] != 9 || got[1] != 8 {
		t.Errorf("cached = %v, want [9 8]", got)
	}
}

func TestRemoveCachedItemDropsEarliest(t *testing.T) {
	db := testDB(t)
	db.ReplaceCachedItems("3", []int{5, 7, 5})

	if err := db.RemoveCachedItem("3", 5); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ := db.ListCachedItems("3")
	if len(got) != 2 || got[0] != 7 || got[1] != 5 {
		t.Errorf("cached = %v, want [7 5]", got)
	}
	if err := db.RemoveCachedItem("3", 42); err != nil {
		t.Errorf("remove missing: %v", err)
	}
	if got, _ := db.ListCachedItems("3"); len(got) != 2 {
		t.Errorf("missing position should leave the cache alone, got %v", got)
	}
}

// --- Outbox tests ---

func TestOutbox(t *testing.T) {
	db := testDB(t)
	id, err := db.EnqueueOutbox("repair/status", []byte(`{"x":1}`), "task.status")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msgs, _ := db.ListPendingOutbox(10)
	if len(msgs) != 1 || msgs[0].ID != id || msgs[0].MsgType != "task.status" {
		t.Fatalf("pending = %+v", msgs)
	}
	db.IncrementOutboxRetries(id)
	db.AckOutbox(id)
	msgs, _ = db.ListPendingOutbox(10)
	if len(msgs) != 0 {
		t.Errorf("acked message still pending: %+v", msgs)
	}
}

func TestOutboxBacklogAndPurge(t *testing.T) {
	db := testDB(t)
	b, err := db.GetOutboxBacklog()
	if err != nil || b.Pending != 0 || b.Oldest != nil {
		t.Fatalf("empty backlog = %+v err %v", b, err)
	}
	first, _ := db.EnqueueOutbox("a", []byte("1"), "x")
	db.EnqueueOutbox("a", []byte("2"), "x")
	if b, _ = db.GetOutboxBacklog(); b.Pending != 2 || b.Oldest == nil {
		t.Errorf("backlog = %+v", b)
	}

	db.AckOutbox(first)
	if n, _ := db.PurgeSentOutbox(time.Hour); n != 0 {
		t.Errorf("purged %d recent messages", n)
	}
	db.Exec(`UPDATE outbox SET sent_at = '2000-01-01 00:00:00' WHERE id = ?`, first)
	if n, _ := db.PurgeSentOutbox(time.Hour); n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if b, _ = db.GetOutboxBacklog(); b.Pending != 1 {
		t.Errorf("unsent message purged: %+v", b)
	}
}

func TestOperators(t *testing.T) {
	db := testDB(t)
	if ok, _ := db.HasOperators(); ok {
		t.Fatal("no operator expected")
	}
	if err := db.CreateOperator("admin", "hash"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.CreateOperator("admin", "other"); err == nil {
		t.Error("duplicate username accepted")
	}
	if ok, _ := db.HasOperators(); !ok {
		t.Error("operator not found")
	}
	op, err := db.GetOperator("admin")
	if err != nil || op.PasswordHash != "hash" || op.LastLoginAt != nil {
		t.Fatalf("operator = %+v err %v", op, err)
	}
	db.RecordOperatorLogin("admin")
	if op, _ = db.GetOperator("admin"); op.LastLoginAt == nil {
		t.Error("last login not recorded")
	}
	if _, err := db.GetOperator("nobody"); !IsNotFound(err) {
		t.Errorf("unknown operator err = %v", err)
	}
}

func TestCreateFirstOperatorOnlyOnce(t *testing.T) {
	db := testDB(t)
	created, err := db.CreateFirstOperator("admin", "hash")
	if err != nil || !created {
		t.Fatalf("first create = %v err %v", created, err)
	}
	created, err = db.CreateFirstOperator("intruder", "other")
	if err != nil || created {
		t.Fatalf("second create = %v err %v, want false", created, err)
	}
	if _, err := db.GetOperator("intruder"); !IsNotFound(err) {
		t.Errorf("second account exists: %v", err)
	}
}
