package database

import "database/sql"

// AppendSummary logs a summary. Summaries are never updated.
func (db *DB) AppendSummary(groupID, timestamp, text, trigger string) (int64, error) {
	if trigger == "" {
		trigger = TriggerManual
	}
	result, err := db.conn.Exec(
		`INSERT INTO summaries (group_id, timestamp, summary, trigger) VALUES (?, ?, ?, ?)`,
		groupID, timestamp, text, trigger,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetSummary returns a summary by ID, or nil if it does not exist.
func (db *DB) GetSummary(id int64) (*SummaryRecord, error) {
	row := db.conn.QueryRow(
		`SELECT id, group_id, timestamp, summary, trigger FROM summaries WHERE id = ?`, id,
	)

	var s SummaryRecord
	if err := row.Scan(&s.ID, &s.GroupID, &s.Timestamp, &s.Text, &s.Trigger); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetAllSummaries returns all summaries, newest first.
func (db *DB) GetAllSummaries() ([]SummaryRecord, error) {
	rows, err := db.conn.Query(
		`SELECT id, group_id, timestamp, summary, trigger FROM summaries ORDER BY timestamp DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SummaryRecord
	for rows.Next() {
		var s SummaryRecord
		if err := rows.Scan(&s.ID, &s.GroupID, &s.Timestamp, &s.Text, &s.Trigger); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
