package store

import (
	"database/sql"
	"time"
)

// OutboxMessage is a broker message waiting in the local queue. Messages are
// published strictly in ID order.
type OutboxMessage struct {
	ID        int64      `json:"id"`
	Topic     string     `json:"topic"`
	Payload   []byte     `json:"payload"`
	MsgType   string     `json:"msg_type"`
	Retries   int        `json:"retries"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// OutboxBacklog summarizes unsent messages for the status endpoint.
type OutboxBacklog struct {
	Pending int        `json:"pending"`
	Oldest  *time.Time `json:"oldest,omitempty"`
}

func (db *DB) EnqueueOutbox(topic string, payload []byte, msgType string) (int64, error) {
	res, err := db.Exec(`INSERT INTO outbox (topic, payload, msg_type) VALUES (?, ?, ?)`, topic, payload, msgType)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListPendingOutbox returns up to limit unsent messages, oldest first.
func (db *DB) ListPendingOutbox(limit int) ([]OutboxMessage, error) {
	rows, err := db.Query(`SELECT id, topic, payload, msg_type, retries, created_at
		FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var created string
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.MsgType, &m.Retries, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = scanTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (db *DB) AckOutbox(id int64) error {
	_, err := db.Exec(`UPDATE outbox SET sent_at = datetime('now','localtime') WHERE id = ?`, id)
	return err
}

func (db *DB) IncrementOutboxRetries(id int64) error {
	_, err := db.Exec(`UPDATE outbox SET retries = retries + 1 WHERE id = ?`, id)
	return err
}

func (db *DB) GetOutboxBacklog() (OutboxBacklog, error) {
	var b OutboxBacklog
	var oldest sql.NullString
	err := db.QueryRow(`SELECT COUNT(*), MIN(created_at) FROM outbox WHERE sent_at IS NULL`).Scan(&b.Pending, &oldest)
	if err != nil {
		return b, err
	}
	if oldest.Valid {
		t := scanTime(oldest.String)
		b.Oldest = &t
	}
	return b, nil
}

// PurgeSentOutbox deletes delivered messages sent more than age ago.
func (db *DB) PurgeSentOutbox(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).Format(timeLayout)
	res, err := db.Exec(`DELETE FROM outbox WHERE sent_at IS NOT NULL AND sent_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
