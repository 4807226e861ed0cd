package database

import "database/sql"

// AppendContributions logs classified contributions for a group in one
// transaction. Channel and runID may be empty.
func (db *DB) AppendContributions(groupID, channel, runID string, records []ContributionRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO contributions (group_id, channel, run_id, username, count, contribution)
		VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, r := range records {
		count := r.Count
		if count <= 0 {
			count = 1
		}
		if _, err := stmt.Exec(groupID, nullable(channel), nullable(runID), r.Username, count, r.Text); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(records), nil
}

// GetRecentContributions returns the newest logged contributions.
func (db *DB) GetRecentContributions(limit int) ([]Contribution, error) {
	rows, err := db.conn.Query(
		`SELECT id, group_id, channel, run_id, username, count, contribution, logged_at
		FROM contributions ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contribution
	for rows.Next() {
		var c Contribution
		if err := rows.Scan(&c.ID, &c.GroupID, &c.Channel, &c.RunID,
			&c.Username, &c.Count, &c.Text, &c.LoggedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetContributionsByRun returns contributions logged under a run id.
func (db *DB) GetContributionsByRun(runID string) ([]Contribution, error) {
	rows, err := db.conn.Query(
		`SELECT id, group_id, channel, run_id, username, count, contribution, logged_at
		FROM contributions WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contribution
	for rows.Next() {
		var c Contribution
		if err := rows.Scan(&c.ID, &c.GroupID, &c.Channel, &c.RunID,
			&c.Username, &c.Count, &c.Text, &c.LoggedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetLeaderboard returns users ranked by total contribution count.
func (db *DB) GetLeaderboard(limit int) ([]Contributor, error) {
	rows, err := db.conn.Query(
		`SELECT username, SUM(count) AS total FROM contributions
		GROUP BY username ORDER BY total DESC, username LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contributor
	for rows.Next() {
		var c Contributor
		if err := rows.Scan(&c.Username, &c.Total); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
