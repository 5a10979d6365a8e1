package store

import (
	"errors"
	"fmt"
)

// Work item statuses.
const (
	ItemPending    = "pending"
	ItemProcessing = "processing"
	ItemCompleted  = "completed"
)

var ErrItemNotFound = errors.New("work item not found")

// WorkItem is one queued repair position.
type WorkItem struct {
	ID       int64  `json:"id"`
	TaskID   string `json:"task_id"`
	Side     string `json:"side"`
	Seq      int    `json:"seq"`
	Position int    `json:"position"`
	Status   string `json:"status"`
}

// Progress summarizes a task's work items.
type Progress struct {
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Status    string `json:"status"`
}

// EnqueueItems appends items to a task's queue in order, after any already queued.
func (db *DB) EnqueueItems(side, taskID string, items []int) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), -1) + 1 FROM work_items WHERE task_id = ?`, taskID).Scan(&next); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO work_items (task_id, side, seq, position, status) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, pos := range items {
		if _, err := stmt.Exec(taskID, side, next+i, pos, ItemPending); err != nil {
			return fmt.Errorf("enqueue item %d: %w", pos, err)
		}
	}
	return tx.Commit()
}

// DequeueOrderedPending returns the positions of every item not yet completed,
// in queue order. Items left in processing by a crash are included.
func (db *DB) DequeueOrderedPending(side, taskID string) ([]int, error) {
	rows, err := db.Query(`SELECT position FROM work_items WHERE task_id = ? AND side = ? AND status != ? ORDER BY seq`,
		taskID, side, ItemCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkItemStatus sets the status of the earliest unfinished item at position.
func (db *DB) MarkItemStatus(side, taskID string, item int, status string) error {
	res, err := db.Exec(`UPDATE work_items SET status = ?, updated_at = datetime('now','localtime')
		WHERE id = (SELECT id FROM work_items WHERE task_id = ? AND side = ? AND position = ? AND status != ? ORDER BY seq LIMIT 1)`,
		status, taskID, side, item, ItemCompleted)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: task %s side %s position %d", ErrItemNotFound, taskID, side, item)
	}
	return nil
}

// GetProgress returns item counts and the task status.
func (db *DB) GetProgress(taskID string) (Progress, error) {
	var p Progress
	err := db.QueryRow(`SELECT
		(SELECT COUNT(*) FROM work_items WHERE task_id = ?),
		(SELECT COUNT(*) FROM work_items WHERE task_id = ? AND status = ?),
		status
		FROM repair_tasks WHERE id = ?`, taskID, taskID, ItemCompleted, taskID).Scan(&p.Total, &p.Completed, &p.Status)
	return p, err
}

func (db *DB) ListWorkItems(taskID string) ([]WorkItem, error) {
	rows, err := db.Query(`SELECT id, task_id, side, seq, position, status FROM work_items WHERE task_id = ? ORDER BY seq`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WorkItem
	for rows.Next() {
		var w WorkItem
		if err := rows.Scan(&w.ID, &w.TaskID, &w.Side, &w.Seq, &w.Position, &w.Status); err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}
