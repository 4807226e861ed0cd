package messages

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/TobiSchelling/ubot/internal/database"
)

// Export is the JSON layout accepted by Import: one channel group with its
// channels and their messages.
type Export struct {
	GroupID  string          `json:"group_id"`
	Channels []ExportChannel `json:"channels"`
}

type ExportChannel struct {
	Name     string          `json:"name"`
	Messages []ExportMessage `json:"messages"`
}

type ExportMessage struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	Bot       bool   `json:"bot"`
	Timestamp string `json:"timestamp"`
}

// ImportResult counts what an import stored.
type ImportResult struct {
	GroupID    string
	Channels   int
	Imported   int
	Duplicates int
}

// ImportFile reads a chat export and stores its messages.
func ImportFile(db *database.DB, path string) (*ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading export: %w", err)
	}
	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parsing export: %w", err)
	}
	return Import(db, export)
}

// Import stores an export's messages. Re-importing the same export is a
// no-op because messages are keyed by group and id.
func Import(db *database.DB, export Export) (*ImportResult, error) {
	if export.GroupID == "" {
		return nil, fmt.Errorf("export has no group_id")
	}

	r := &ImportResult{GroupID: export.GroupID}
	for _, ch := range export.Channels {
		if ch.Name == "" {
			return nil, fmt.Errorf("export channel without a name")
		}
		r.Channels++
		for _, m := range ch.Messages {
			ts, err := parseTimestamp(m.Timestamp)
			if err != nil {
				return nil, fmt.Errorf("message %s in #%s: %w", m.ID, ch.Name, err)
			}
			id, err := db.InsertMessage(database.Message{
				GroupID:    export.GroupID,
				Channel:    ch.Name,
				ExternalID: m.ID,
				Author:     m.Author,
				Text:       m.Text,
				IsBot:      m.Bot,
				CreatedAt:  ts,
			})
			if err != nil {
				return nil, fmt.Errorf("storing message %s: %w", m.ID, err)
			}
			if id > 0 {
				r.Imported++
			} else {
				r.Duplicates++
			}
		}
	}
	return r, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
