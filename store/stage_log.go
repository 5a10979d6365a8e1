package store

// StageLog records a workflow stage transition.
type StageLog struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	Side      string `json:"side"`
	Stage     string `json:"stage"`
	Detail    string `json:"detail"`
	CreatedAt string `json:"created_at"`
}

func (db *DB) InsertStageLog(taskID, side, stage, detail string) (int64, error) {
	res, err := db.Exec(`INSERT INTO stage_log (task_id, side, stage, detail) VALUES (?, ?, ?, ?)`, taskID, side, stage, detail)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) ListStageLog(taskID string) ([]StageLog, error) {
	rows, err := db.Query(`SELECT id, task_id, side, stage, detail, created_at FROM stage_log WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []StageLog
	for rows.Next() {
		var l StageLog
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Side, &l.Stage, &l.Detail, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
