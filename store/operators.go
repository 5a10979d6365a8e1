package store

import (
	"database/sql"
	"time"
)

// Operator is an account allowed to start and abort tasks through the API.
type Operator struct {
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

func (db *DB) GetOperator(username string) (*Operator, error) {
	op := &Operator{Username: username}
	var created string
	var lastLogin sql.NullString
	err := db.QueryRow(`SELECT password_hash, created_at, last_login_at FROM operators WHERE username = ?`, username).
		Scan(&op.PasswordHash, &created, &lastLogin)
	if err != nil {
		return nil, err
	}
	op.CreatedAt = scanTime(created)
	if lastLogin.Valid {
		t := scanTime(lastLogin.String)
		op.LastLoginAt = &t
	}
	return op, nil
}

func (db *DB) CreateOperator(username, passwordHash string) error {
	_, err := db.Exec(`INSERT INTO operators (username, password_hash) VALUES (?, ?)`, username, passwordHash)
	return err
}

// CreateFirstOperator inserts the account only while the table is empty. It
// reports false when another account already exists.
func (db *DB) CreateFirstOperator(username, passwordHash string) (bool, error) {
	res, err := db.Exec(`INSERT INTO operators (username, password_hash)
		SELECT ?, ? WHERE NOT EXISTS (SELECT 1 FROM operators)`, username, passwordHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// HasOperators reports whether any account exists yet.
func (db *DB) HasOperators() (bool, error) {
	var found int
	err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM operators)`).Scan(&found)
	return found == 1, err
}

func (db *DB) RecordOperatorLogin(username string) error {
	_, err := db.Exec(`UPDATE operators SET last_login_at = datetime('now','localtime') WHERE username = ?`, username)
	return err
}
