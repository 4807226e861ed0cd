// Package messages provides chat history to the classifier, summarizer and
// router: an abstract per-group Source, a SQLite-backed implementation, and
// helpers to collect and format recent human messages per channel.
package messages

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/TobiSchelling/ubot/internal/database"
)

// Message is one chat message as delivered by a Source.
type Message struct {
	AuthorID  string
	Text      string
	IsBot     bool
	Timestamp time.Time
	// Classified marks messages already classified as they arrived.
	Classified bool
}

// Source yields chronological chat history for one channel group.
type Source interface {
	// Channels lists the group's channel names.
	Channels(ctx context.Context) ([]string, error)
	// History returns up to limit of the most recent messages in a channel
	// at or after since, oldest first. Zero since or limit means unbounded.
	History(ctx context.Context, channel string, since time.Time, limit int) ([]Message, error)
}

// DBSource reads a group's history from the message store.
type DBSource struct {
	db      *database.DB
	groupID string
}

// NewDBSource creates a Source for one group backed by the database.
func NewDBSource(db *database.DB, groupID string) *DBSource {
	return &DBSource{db: db, groupID: groupID}
}

// GroupID returns the group this source reads.
func (s *DBSource) GroupID() string {
	return s.groupID
}

func (s *DBSource) Channels(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.db.ListChannels(s.groupID)
}

func (s *DBSource) History(ctx context.Context, channel string, since time.Time, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.db.GetChannelHistory(s.groupID, channel, since, limit)
	if err != nil {
		return nil, fmt.Errorf("reading history of %s: %w", channel, err)
	}
	out := make([]Message, len(rows))
	for i, r := range rows {
		out[i] = Message{
			AuthorID:   r.Author,
			Text:       r.Text,
			IsBot:      r.IsBot,
			Timestamp:  r.CreatedAt,
			Classified: r.Classified,
		}
	}
	return out, nil
}

// Unclassified drops messages that were already classified on arrival.
func Unclassified(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Classified {
			out = append(out, m)
		}
	}
	return out
}

// Humans drops bot-authored and blank messages.
func Humans(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsBot || strings.TrimSpace(m.Text) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// FormatLine renders one message the way prompts expect it.
func FormatLine(author, text string) string {
	return fmt.Sprintf("User: %s - Message: %s", author, text)
}

// IsExcluded reports whether name is in the exclusion list.
func IsExcluded(name string, excluded []string) bool {
	return slices.Contains(excluded, name)
}
