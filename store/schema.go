package store

const schema = `
CREATE TABLE IF NOT EXISTS operators (
    username      TEXT PRIMARY KEY,
    password_hash TEXT NOT NULL,
    created_at    TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    last_login_at TEXT
);

CREATE TABLE IF NOT EXISTS repair_tasks (
    id         TEXT PRIMARY KEY,
    side       TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'active',
    detail     TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_repair_tasks_side_status ON repair_tasks(side, status);

CREATE TABLE IF NOT EXISTS work_items (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id    TEXT NOT NULL REFERENCES repair_tasks(id) ON DELETE CASCADE,
    side       TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    position   INTEGER NOT NULL,
    status     TEXT NOT NULL DEFAULT 'pending',
    updated_at TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    UNIQUE(task_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_work_items_task ON work_items(task_id, status);

CREATE TABLE IF NOT EXISTS stage_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id    TEXT NOT NULL DEFAULT '',
    side       TEXT NOT NULL DEFAULT '',
    stage      TEXT NOT NULL,
    detail     TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_stage_log_task ON stage_log(task_id);

CREATE TABLE IF NOT EXISTS item_cache (
    side       TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    position   INTEGER NOT NULL,
    fetched_at TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    PRIMARY KEY (side, seq)
);

CREATE TABLE IF NOT EXISTS outbox (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    topic      TEXT NOT NULL,
    payload    BLOB NOT NULL,
    msg_type   TEXT NOT NULL DEFAULT '',
    retries    INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    sent_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox(sent_at) WHERE sent_at IS NULL;
`

func (db *DB) migrate() error {
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	// Graceful migrations for existing DBs
	db.Exec("ALTER TABLE repair_tasks ADD COLUMN detail TEXT NOT NULL DEFAULT ''")
	return nil
}
