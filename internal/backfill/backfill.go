// Package backfill runs a group's existing chat history through the
// classifier once, in rate-limited batches, and remembers that it did.
package backfill

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/ubot/internal/classify"
	"github.com/TobiSchelling/ubot/internal/database"
	"github.com/TobiSchelling/ubot/internal/messages"
)

// Classifier extracts contributions from a batch.
type Classifier interface {
	Classify(ctx context.Context, batch []classify.Pair) (*classify.Result, error)
}

// ContributionLog receives extracted contributions.
type ContributionLog interface {
	AppendContributions(groupID, channel, runID string, records []database.ContributionRecord) (int, error)
}

// Options bounds a backfill run.
type Options struct {
	// HistoryLimit is the number of most recent messages read per channel.
	HistoryLimit int
	BatchSize    int
	// Cooldown is the pause after every batch.
	Cooldown time.Duration
	Exclude  []string
}

// Result summarizes one backfill call.
type Result struct {
	GroupID       string
	RunID         string
	Skipped       bool
	Channels      int
	Messages      int
	Batches       int
	Contributions int
}

// Coordinator drives backfill runs. Batches run strictly one after another.
type Coordinator struct {
	classifier Classifier
	log        ContributionLog
	markers    MarkerStore
	opts       Options

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator creates a coordinator.
func NewCoordinator(classifier Classifier, contributions ContributionLog, markers MarkerStore, opts Options) *Coordinator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 150
	}
	return &Coordinator{
		classifier: classifier,
		log:        contributions,
		markers:    markers,
		opts:       opts,
		sleep:      sleepCtx,
	}
}

// Backfill processes the history of every non-excluded channel of src
// unless the group is already marked complete. The marker is written only
// after every channel finishes; any error before that leaves it unset so
// the next call starts over.
func (c *Coordinator) Backfill(ctx context.Context, groupID string, src messages.Source) (*Result, error) {
	r := &Result{GroupID: groupID}

	done, err := c.markers.IsComplete(groupID)
	if err != nil {
		return nil, fmt.Errorf("checking backfill marker: %w", err)
	}
	if done {
		log.Printf("[backfill] History already processed for %s, skipping", groupID)
		r.Skipped = true
		return r, nil
	}

	channels, err := src.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}

	r.RunID = uuid.NewString()
	log.Printf("[backfill] Processing history for %s (run %s)", groupID, r.RunID)

	for _, channel := range channels {
		if messages.IsExcluded(channel, c.opts.Exclude) {
			continue
		}
		if err := c.backfillChannel(ctx, r, src, channel); err != nil {
			return r, err
		}
	}

	if err := c.markers.MarkComplete(groupID); err != nil {
		return r, fmt.Errorf("writing backfill marker: %w", err)
	}
	log.Printf("[backfill] History processed for %s: %d channels, %d messages, %d batches, %d contributions",
		groupID, r.Channels, r.Messages, r.Batches, r.Contributions)
	return r, nil
}

func (c *Coordinator) backfillChannel(ctx context.Context, r *Result, src messages.Source, channel string) error {
	history, err := src.History(ctx, channel, time.Time{}, c.opts.HistoryLimit)
	if err != nil {
		return fmt.Errorf("reading history of %s: %w", channel, err)
	}
	// Live intake already logged whatever it classified.
	pairs := toPairs(messages.Unclassified(messages.Humans(history)))
	r.Channels++
	r.Messages += len(pairs)

	size := c.opts.BatchSize
	total := (len(pairs) + size - 1) / size
	for i := 0; i < len(pairs); i += size {
		batch := pairs[i:min(i+size, len(pairs))]
		log.Printf("[backfill] #%s batch %d/%d (%d messages)", channel, i/size+1, total, len(batch))

		result, err := c.classifier.Classify(ctx, batch)
		if err != nil {
			return fmt.Errorf("classifying %s: %w", channel, err)
		}
		r.Batches++

		if len(result.Contributions) > 0 {
			n, err := c.log.AppendContributions(r.GroupID, channel, r.RunID, result.Contributions)
			if err != nil {
				log.Printf("[backfill] Failed to log contributions from #%s: %v", channel, err)
			}
			r.Contributions += n
		} else {
			log.Printf("[backfill] No contributions in #%s batch %d", channel, i/size+1)
		}

		if err := c.sleep(ctx, c.opts.Cooldown); err != nil {
			return err
		}
	}
	return nil
}

func toPairs(msgs []messages.Message) []classify.Pair {
	pairs := make([]classify.Pair, len(msgs))
	for i, m := range msgs {
		author := m.AuthorID
		if strings.TrimSpace(author) == "" {
			author = classify.UnknownUser
		}
		pairs[i] = classify.Pair{Author: author, Text: m.Text}
	}
	return pairs
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
