package messages

import (
	"context"
	"strings"
	"time"
)

// ChannelLog is the human history of one channel.
type ChannelLog struct {
	Name     string
	Messages []Message
}

// CollectOptions bound a collection pass.
type CollectOptions struct {
	Exclude []string
	Since   time.Time
	Limit   int
}

// Collect gathers recent human messages from every non-excluded channel of
// src. Channels with nothing left after filtering are omitted.
func Collect(ctx context.Context, src Source, opts CollectOptions) ([]ChannelLog, error) {
	channels, err := src.Channels(ctx)
	if err != nil {
		return nil, err
	}

	var logs []ChannelLog
	for _, name := range channels {
		if IsExcluded(name, opts.Exclude) {
			continue
		}
		history, err := src.History(ctx, name, opts.Since, opts.Limit)
		if err != nil {
			return nil, err
		}
		humans := Humans(history)
		if len(humans) == 0 {
			continue
		}
		logs = append(logs, ChannelLog{Name: name, Messages: humans})
	}
	return logs, nil
}

// Format renders channel logs as "#channel:" headers followed by one line
// per message.
func Format(logs []ChannelLog) string {
	var b strings.Builder
	for _, l := range logs {
		b.WriteString("\n#")
		b.WriteString(l.Name)
		b.WriteString(":\n")
		lines := make([]string, len(l.Messages))
		for i, m := range l.Messages {
			lines[i] = FormatLine(m.AuthorID, m.Text)
		}
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}
