package summarize

import (
	"context"
	"log"
	"unicode/utf8"
)

// Header opens every posted summary.
const Header = "**📢 Daily Summary:**\n"

// MaxChunk is the largest message the chat platform accepts, in characters.
const MaxChunk = 2000

// Sink posts a finished summary somewhere people read it.
type Sink interface {
	Emit(ctx context.Context, groupID, summary string) error
}

// LogSink writes summaries to the log.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, groupID, summary string) error {
	for i, part := range Chunk(Header+summary, MaxChunk) {
		log.Printf("Summary for %s [%d]:\n%s", groupID, i+1, part)
	}
	return nil
}

// Chunk splits text into consecutive parts of at most limit characters.
func Chunk(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var parts []string
	runes := []rune(text)
	for len(runes) > 0 {
		n := min(limit, len(runes))
		parts = append(parts, string(runes[:n]))
		runes = runes[n:]
	}
	return parts
}
