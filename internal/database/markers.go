package database

// IsBackfillComplete reports whether historical messages for a group have
// been processed.
func (db *DB) IsBackfillComplete(groupID string) (bool, error) {
	var n int
	if err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM backfill_markers WHERE group_id = ?`, groupID,
	).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkBackfillComplete records that a group's history has been processed.
func (db *DB) MarkBackfillComplete(groupID string) error {
	_, err := db.conn.Exec(
		`INSERT OR IGNORE INTO backfill_markers (group_id) VALUES (?)`, groupID,
	)
	return err
}

// ClearBackfill removes a group's marker so the next backfill runs again.
func (db *DB) ClearBackfill(groupID string) error {
	_, err := db.conn.Exec(`DELETE FROM backfill_markers WHERE group_id = ?`, groupID)
	return err
}
