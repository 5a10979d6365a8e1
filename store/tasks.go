package store

import (
	"database/sql"
	"errors"
	"time"
)

// Repair task statuses.
const (
	TaskActive    = "active"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// RepairTask is a persisted repair task.
type RepairTask struct {
	ID        string    `json:"id"`
	Side      string    `json:"side"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (db *DB) CreateTask(id, side string) error {
	_, err := db.Exec(`INSERT INTO repair_tasks (id, side, status) VALUES (?, ?, ?)`, id, side, TaskActive)
	return err
}

func (db *DB) UpdateTaskStatus(id, status, detail string) error {
	_, err := db.Exec(`UPDATE repair_tasks SET status = ?, detail = ?, updated_at = datetime('now','localtime') WHERE id = ?`,
		status, detail, id)
	return err
}

func (db *DB) GetTask(id string) (*RepairTask, error) {
	rows, err := db.Query(`SELECT id, side, status, detail, created_at, updated_at FROM repair_tasks WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, sql.ErrNoRows
	}
	return &tasks[0], nil
}

// FindUnfinishedTask returns the newest active task for a side, or nil if none.
func (db *DB) FindUnfinishedTask(side string) (*RepairTask, error) {
	rows, err := db.Query(`SELECT id, side, status, detail, created_at, updated_at FROM repair_tasks
		WHERE side = ? AND status = ? ORDER BY created_at DESC, id DESC LIMIT 1`, side, TaskActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	return &tasks[0], nil
}

func (db *DB) ListTasks(limit int) ([]RepairTask, error) {
	rows, err := db.Query(`SELECT id, side, status, detail, created_at, updated_at FROM repair_tasks ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func scanTasks(rows rowScanner) ([]RepairTask, error) {
	var tasks []RepairTask
	for rows.Next() {
		var t RepairTask
		var createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.Side, &t.Status, &t.Detail, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		t.CreatedAt = scanTime(createdAt)
		t.UpdatedAt = scanTime(updatedAt)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
