// Package pipeline wires the bot's components together from configuration
// and exposes the operations the CLI and chat adapter call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/TobiSchelling/ubot/internal/backfill"
	"github.com/TobiSchelling/ubot/internal/classify"
	"github.com/TobiSchelling/ubot/internal/config"
	"github.com/TobiSchelling/ubot/internal/database"
	"github.com/TobiSchelling/ubot/internal/knowledge"
	"github.com/TobiSchelling/ubot/internal/llm"
	"github.com/TobiSchelling/ubot/internal/messages"
	"github.com/TobiSchelling/ubot/internal/route"
	"github.com/TobiSchelling/ubot/internal/schedule"
	"github.com/TobiSchelling/ubot/internal/summarize"
)

// ErrUnknownChannel is returned by the counting commands for a channel the
// group has no messages in.
var ErrUnknownChannel = errors.New("channel not found")

// Incoming is one message as delivered by a chat platform.
type Incoming struct {
	GroupID    string
	Channel    string
	ExternalID string
	Author     string
	Text       string
	IsBot      bool
	Timestamp  time.Time
}

// HandleResult reports what happened to an incoming message.
type HandleResult struct {
	Stored        bool
	Classified    bool
	Contributions int
	// Skipped explains why the message was not classified.
	Skipped string
}

// Pipeline holds the wired components.
type Pipeline struct {
	cfg        *config.Config
	db         *database.DB
	provider   llm.Provider
	registry   *knowledge.Registry
	classifier *classify.Classifier
	router     *route.Router
	backfiller *backfill.Coordinator
	markers    backfill.MarkerStore
	passer     *summarize.Passer
}

// New creates a pipeline using the configured language model, bounded by
// a worker pool.
func New(cfg *config.Config, db *database.DB, sink summarize.Sink) (*Pipeline, error) {
	timeout, err := cfg.OracleTimeout()
	if err != nil {
		return nil, err
	}
	pool := llm.NewPool(llm.CreateProvider(cfg.Oracle), cfg.Oracle.MaxConcurrent, timeout)
	return NewWithProvider(cfg, db, pool, sink)
}

// NewWithProvider creates a pipeline around an explicit provider.
func NewWithProvider(cfg *config.Config, db *database.DB, provider llm.Provider, sink summarize.Sink) (*Pipeline, error) {
	registry, err := knowledge.FromConfig(cfg.Sources, cfg.GetDataDir())
	if err != nil {
		return nil, fmt.Errorf("building knowledge registry: %w", err)
	}
	cooldown, err := cfg.BackfillCooldown()
	if err != nil {
		return nil, err
	}

	classifier := classify.New(provider, classify.Options{
		Prompts:        cfg.Prompts,
		IgnoredUsers:   cfg.IgnoredUsers,
		FocusChannels:  cfg.Channels.Focus,
		SummaryChannel: cfg.Channels.Summary,
		MaxTokens:      cfg.Oracle.MaxTokens,
	})

	var markers backfill.MarkerStore
	if cfg.Backfill.Marker == "file" {
		markers = &backfill.FileMarkers{Dir: cfg.GetDataDir()}
	} else {
		markers = backfill.NewDBMarkers(db)
	}

	return &Pipeline{
		cfg:        cfg,
		db:         db,
		provider:   provider,
		registry:   registry,
		classifier: classifier,
		router: route.New(registry, provider, route.Options{
			MaxPromptChars:   cfg.Router.MaxPromptChars,
			LiveHistoryLimit: cfg.Router.LiveHistoryLimit,
			ExcludeChannels:  cfg.Channels.CollectExcluded,
			MaxTokens:        cfg.Oracle.MaxTokens,
		}),
		backfiller: backfill.NewCoordinator(classifier, db, markers, backfill.Options{
			HistoryLimit: cfg.Backfill.HistoryLimit,
			BatchSize:    cfg.Backfill.BatchSize,
			Cooldown:     cooldown,
			Exclude:      cfg.Channels.CollectExcluded,
		}),
		markers: markers,
		passer: summarize.NewPasser(classifier, db, sink, summarize.Options{
			Exclude:      cfg.Channels.CollectExcluded,
			HistoryLimit: cfg.Schedule.HistoryLimit,
		}),
	}, nil
}

// IsConfigured reports whether a language model is available.
func (p *Pipeline) IsConfigured() bool {
	return p.provider != nil && p.provider.IsConfigured()
}

// Registry returns the knowledge sources.
func (p *Pipeline) Registry() *knowledge.Registry {
	return p.registry
}

// IsIgnoredUser reports whether author is on the deny list.
func (p *Pipeline) IsIgnoredUser(author string) bool {
	return p.classifier.IsIgnored(author)
}

// HandleMessage stores an incoming message and, for human messages outside
// the ignored channels and authors, logs any contributions it carries.
// Commands are stored but not classified.
func (p *Pipeline) HandleMessage(ctx context.Context, in Incoming) (*HandleResult, error) {
	id, err := p.db.InsertMessage(database.Message{
		GroupID:    in.GroupID,
		Channel:    in.Channel,
		ExternalID: in.ExternalID,
		Author:     in.Author,
		Text:       in.Text,
		IsBot:      in.IsBot,
		CreatedAt:  in.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("storing message: %w", err)
	}
	r := &HandleResult{Stored: id > 0}

	switch {
	case !r.Stored:
		r.Skipped = "duplicate"
	case in.IsBot:
		r.Skipped = "bot"
	case strings.TrimSpace(in.Text) == "":
		r.Skipped = "blank"
	case p.IsIgnoredUser(in.Author):
		r.Skipped = "ignored user"
	case messages.IsExcluded(in.Channel, p.cfg.Channels.MessageIgnored):
		r.Skipped = "ignored channel"
	case strings.HasPrefix(strings.TrimSpace(in.Text), "/"):
		r.Skipped = "command"
	}
	if r.Skipped != "" {
		return r, nil
	}

	author := in.Author
	if strings.TrimSpace(author) == "" {
		author = classify.UnknownUser
	}
	result, err := p.classifier.Classify(ctx, []classify.Pair{{Author: author, Text: in.Text}})
	if err != nil {
		return r, err
	}
	r.Classified = true
	if err := p.db.MarkClassified(id); err != nil {
		log.Printf("Failed to mark message %d classified: %v", id, err)
	}
	if len(result.Contributions) > 0 {
		n, err := p.db.AppendContributions(in.GroupID, in.Channel, "", result.Contributions)
		if err != nil {
			log.Printf("Failed to log contributions from %s: %v", in.Author, err)
		}
		r.Contributions = n
	}
	return r, nil
}

// Ask answers a question from the knowledge sources, with the group's
// stored history as the live chat source.
func (p *Pipeline) Ask(ctx context.Context, groupID, question string) string {
	var live messages.Source
	if groupID != "" {
		live = messages.NewDBSource(p.db, groupID)
	}
	return p.router.Route(ctx, question, live)
}

// Summarize runs one summarization pass for a group.
func (p *Pipeline) Summarize(ctx context.Context, groupID string, since time.Time, trigger string) (*database.SummaryRecord, error) {
	return p.passer.Run(ctx, groupID, messages.NewDBSource(p.db, groupID), since, trigger)
}

// Backfill processes a group's stored history once.
func (p *Pipeline) Backfill(ctx context.Context, groupID string) (*backfill.Result, error) {
	return p.backfiller.Backfill(ctx, groupID, messages.NewDBSource(p.db, groupID))
}

// BackfillAll backfills every known group, continuing past failures.
func (p *Pipeline) BackfillAll(ctx context.Context) ([]*backfill.Result, error) {
	groups, err := p.db.ListGroups()
	if err != nil {
		return nil, err
	}
	var results []*backfill.Result
	var errs []error
	for _, g := range groups {
		r, err := p.Backfill(ctx, g)
		if err != nil {
			log.Printf("[backfill] %s failed: %v", g, err)
			errs = append(errs, fmt.Errorf("%s: %w", g, err))
			continue
		}
		results = append(results, r)
	}
	return results, errors.Join(errs...)
}

// ResetBackfill clears a group's marker so its history is processed again.
func (p *Pipeline) ResetBackfill(groupID string) error {
	return p.markers.Clear(groupID)
}

// RunScheduler runs daily summaries for every group until ctx is done.
func (p *Pipeline) RunScheduler(ctx context.Context) error {
	s, err := schedule.New(p.cfg.Schedule.At, p.db.ListGroups, func(ctx context.Context, groupID string, since time.Time) error {
		_, err := p.Summarize(ctx, groupID, since, database.TriggerScheduled)
		if errors.Is(err, summarize.ErrNoMessages) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return s.RunDaily(ctx)
}

// CountAnswers classifies every human message in a channel and returns the
// number of contributions found.
func (p *Pipeline) CountAnswers(ctx context.Context, groupID, channel string) (int, error) {
	if err := p.requireChannel(groupID, channel); err != nil {
		return 0, err
	}
	history, err := messages.NewDBSource(p.db, groupID).History(ctx, channel, time.Time{}, 0)
	if err != nil {
		return 0, err
	}
	humans := messages.Humans(history)

	size := max(p.cfg.Backfill.BatchSize, 1)
	total := 0
	for i := 0; i < len(humans); i += size {
		var batch []classify.Pair
		for _, m := range humans[i:min(i+size, len(humans))] {
			author := m.AuthorID
			if strings.TrimSpace(author) == "" {
				author = classify.UnknownUser
			}
			batch = append(batch, classify.Pair{Author: author, Text: m.Text})
		}
		result, err := p.classifier.Classify(ctx, batch)
		if err != nil {
			return total, err
		}
		total += len(result.Contributions)
	}
	return total, nil
}

// CountMessages counts a channel's messages, leaving out ignored users.
func (p *Pipeline) CountMessages(groupID, channel string) (int, error) {
	if err := p.requireChannel(groupID, channel); err != nil {
		return 0, err
	}
	return p.db.CountChannelMessages(groupID, channel, p.cfg.IgnoredUsers)
}

func (p *Pipeline) requireChannel(groupID, channel string) error {
	channels, err := p.db.ListChannels(groupID)
	if err != nil {
		return err
	}
	if !slices.Contains(channels, channel) {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return nil
}
