package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InsertMessage stores a message. Messages are unique per group and external
// id; a duplicate returns 0 without error.
func (db *DB) InsertMessage(m Message) (int64, error) {
	if m.GroupID == "" || m.Channel == "" {
		return 0, fmt.Errorf("message needs a group and channel")
	}
	if m.ExternalID == "" {
		m.ExternalID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	result, err := db.conn.Exec(
		`INSERT OR IGNORE INTO messages
		(group_id, channel, external_id, author, text, is_bot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.GroupID, m.Channel, m.ExternalID, m.Author, m.Text, m.IsBot, formatStored(m.CreatedAt),
	)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil || n == 0 {
		return 0, err
	}
	return result.LastInsertId()
}

// GetChannelHistory returns up to limit of the most recent messages in a
// channel, oldest first. A zero since or non-positive limit means unbounded.
func (db *DB) GetChannelHistory(groupID, channel string, since time.Time, limit int) ([]Message, error) {
	query := `SELECT id, group_id, channel, external_id, author, text, is_bot, created_at, classified
		FROM messages WHERE group_id = ? AND channel = ?`
	args := []any{groupID, channel}
	if !since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, formatStored(since))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.GroupID, &m.Channel, &m.ExternalID,
			&m.Author, &m.Text, &m.IsBot, &createdAt, &m.Classified); err != nil {
			return nil, err
		}
		m.CreatedAt = parseStored(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkClassified records that a stored message has been classified.
func (db *DB) MarkClassified(id int64) error {
	_, err := db.conn.Exec(`UPDATE messages SET classified = 1 WHERE id = ?`, id)
	return err
}

// ListChannels returns the channel names of a group in first-seen order.
func (db *DB) ListChannels(groupID string) ([]string, error) {
	rows, err := db.conn.Query(
		`SELECT channel FROM messages WHERE group_id = ?
		GROUP BY channel ORDER BY MIN(id)`, groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ListGroups returns every group that has stored messages.
func (db *DB) ListGroups() ([]string, error) {
	rows, err := db.conn.Query(`SELECT DISTINCT group_id FROM messages ORDER BY group_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// CountChannelMessages counts the messages in a channel, skipping the given
// authors (case-insensitive).
func (db *DB) CountChannelMessages(groupID, channel string, skipAuthors []string) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE group_id = ? AND channel = ?`
	args := []any{groupID, channel}
	if len(skipAuthors) > 0 {
		placeholders := make([]string, len(skipAuthors))
		for i, a := range skipAuthors {
			placeholders[i] = "?"
			args = append(args, strings.ToLower(a))
		}
		query += " AND LOWER(author) NOT IN (" + strings.Join(placeholders, ", ") + ")"
	}

	var n int
	if err := db.conn.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

type stringScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanStrings(rows stringScanner) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
