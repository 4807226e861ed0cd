// Package summarize runs a summarization pass for a group: collect recent
// human messages, summarize them, log the summary and post it.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/ubot/internal/database"
	"github.com/TobiSchelling/ubot/internal/messages"
)

// ErrNoMessages means the group had nothing to summarize; no summary is
// logged or posted.
var ErrNoMessages = errors.New("no messages found to summarize")

// Summarizer writes a summary of channel logs. It always returns text.
type Summarizer interface {
	Summarize(ctx context.Context, logs []messages.ChannelLog) string
}

// SummaryLog receives summaries.
type SummaryLog interface {
	AppendSummary(groupID, timestamp, text, trigger string) (int64, error)
}

// Options bounds collection.
type Options struct {
	Exclude      []string
	HistoryLimit int
}

// Passer runs summarization passes.
type Passer struct {
	summarizer Summarizer
	store      SummaryLog
	sink       Sink
	opts       Options
	now        func() time.Time
}

// NewPasser creates a passer. A nil sink logs summaries instead of posting
// them.
func NewPasser(summarizer Summarizer, store SummaryLog, sink Sink, opts Options) *Passer {
	if sink == nil {
		sink = LogSink{}
	}
	return &Passer{summarizer: summarizer, store: store, sink: sink, opts: opts, now: time.Now}
}

// Run summarizes src's messages since the given time (zero means the most
// recent HistoryLimit per channel). Logging and posting are best-effort;
// their failures are logged, not returned.
func (p *Passer) Run(ctx context.Context, groupID string, src messages.Source, since time.Time, trigger string) (*database.SummaryRecord, error) {
	logs, err := messages.Collect(ctx, src, messages.CollectOptions{
		Exclude: p.opts.Exclude,
		Since:   since,
		Limit:   p.opts.HistoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("collecting messages for %s: %w", groupID, err)
	}
	if len(logs) == 0 {
		log.Printf("No valid messages retrieved for %s", groupID)
		return nil, ErrNoMessages
	}
	log.Printf("Messages collected for %s from %d channels", groupID, len(logs))

	text := p.summarizer.Summarize(ctx, logs)
	rec := &database.SummaryRecord{
		GroupID:   groupID,
		Timestamp: database.FormatSummaryTime(p.now()),
		Text:      text,
		Trigger:   trigger,
	}

	if id, err := p.store.AppendSummary(groupID, rec.Timestamp, text, trigger); err != nil {
		log.Printf("Failed to log summary for %s: %v", groupID, err)
	} else {
		rec.ID = id
	}

	if err := p.sink.Emit(ctx, groupID, text); err != nil {
		log.Printf("Failed to post summary for %s: %v", groupID, err)
	}
	return rec, nil
}
