package store

// ReplaceCachedItems stores the last work-item list fetched for a side.
func (db *DB) ReplaceCachedItems(side string, items []int) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM item_cache WHERE side = ?`, side); err != nil {
		return err
	}
	for i, pos := range items {
		if _, err := tx.Exec(`INSERT INTO item_cache (side, seq, position) VALUES (?, ?, ?)`, side, i, pos); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListCachedItems returns the cached work-item list for a side.
func (db *DB) ListCachedItems(side string) ([]int, error) {
	rows, err := db.Query(`SELECT position FROM item_cache WHERE side = ? ORDER BY seq`, side)
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

// RemoveCachedItem drops the earliest cached entry at position for a side.
// Removing a position that is not cached is not an error.
func (db *DB) RemoveCachedItem(side string, position int) error {
	_, err := db.Exec(`DELETE FROM item_cache WHERE rowid = (
		SELECT rowid FROM item_cache WHERE side = ? AND position = ? ORDER BY seq LIMIT 1)`, side, position)
	return err
}
