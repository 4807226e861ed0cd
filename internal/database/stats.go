package database

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(DISTINCT group_id) FROM messages", &s.Groups},
		{"SELECT COUNT(*) FROM messages", &s.Messages},
		{"SELECT COALESCE(SUM(count), 0) FROM contributions", &s.Contributions},
		{"SELECT COUNT(DISTINCT username) FROM contributions", &s.Contributors},
		{"SELECT COUNT(*) FROM summaries", &s.Summaries},
		{"SELECT COUNT(*) FROM backfill_markers", &s.BackfilledGroups},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}
