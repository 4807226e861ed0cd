package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/ubot/internal/config"
	"github.com/TobiSchelling/ubot/internal/database"
)

// mockProvider implements llm.Provider for testing.
type mockProvider struct {
	mu       sync.Mutex
	response string
	err      error
	prompts  []string
}

func (m *mockProvider) Generate(_ context.Context, prompt string, _ int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	return m.response, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type recordingSink struct {
	summaries []string
}

func (s *recordingSink) Emit(_ context.Context, _ string, summary string) error {
	s.summaries = append(s.summaries, summary)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	tracker := "ID,Title,Status\n101,Login crash,In progress\n102,Slow feed,Done\n"
	if err := os.WriteFile(filepath.Join(dir, "dev_tracker.csv"), []byte(tracker), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return &config.Config{
		Channels: config.Channels{
			CollectExcluded: []string{"summary"},
			MessageIgnored:  []string{"rules"},
			Summary:         "summary",
		},
		IgnoredUsers: []string{"ubiq.world"},
		Backfill:     config.Backfill{HistoryLimit: 50, BatchSize: 150, Marker: "sqlite"},
		Schedule:     config.Schedule{At: "01:00", HistoryLimit: 100},
		Router:       config.Router{MaxPromptChars: 120000, LiveHistoryLimit: 100},
		Sources: []config.SourceEntry{
			{Name: "dev_tracker", Label: "Dev tracker", Kind: "tabular", Path: "dev_tracker.csv",
				Keywords: []string{"dev tracker"}},
			{Name: "live_chat", Label: "Live chat", Kind: "live", Keywords: []string{"discord"}},
		},
		Output: config.Output{DataDir: dir},
	}
}

func setup(t *testing.T, p *mockProvider) (*Pipeline, *database.DB, *recordingSink) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sink := &recordingSink{}
	pl, err := NewWithProvider(testConfig(t), db, p, sink)
	if err != nil {
		t.Fatalf("failed to build pipeline: %v", err)
	}
	return pl, db, sink
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func incoming(id, channel, author, text string) Incoming {
	return Incoming{GroupID: "g1", Channel: channel, ExternalID: id, Author: author, Text: text, Timestamp: base}
}

func TestHandleMessageLogsContribution(t *testing.T) {
	p := &mockProvider{response: `{"contributions":[{"username":"alice","contribution":"Reported a login crash."}]}`}
	pl, db, _ := setup(t, p)

	r, err := pl.HandleMessage(context.Background(), incoming("1", "general", "alice", "The app crashes when I log in"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Stored || !r.Classified || r.Contributions != 1 {
		t.Errorf("unexpected result %+v", r)
	}
	logged, _ := db.GetRecentContributions(10)
	if len(logged) != 1 || logged[0].Username != "alice" {
		t.Errorf("expected alice's contribution logged, got %+v", logged)
	}
	if logged[0].Channel == nil || *logged[0].Channel != "general" {
		t.Error("expected channel recorded with the contribution")
	}
}

func TestHandleMessageSkips(t *testing.T) {
	p := &mockProvider{response: `{"contributions":[]}`}
	pl, _, _ := setup(t, p)
	ctx := context.Background()

	bot := incoming("1", "general", "ubot", "beep")
	bot.IsBot = true
	cases := []struct {
		in   Incoming
		want string
	}{
		{bot, "bot"},
		{incoming("2", "general", "ubiq.world", "Prompt 9 is live"), "ignored user"},
		{incoming("3", "rules", "alice", "ok"), "ignored channel"},
		{incoming("4", "general", "alice", "/summary"), "command"},
		{incoming("4", "general", "alice", "/summary"), "duplicate"},
	}
	for _, c := range cases {
		r, err := pl.HandleMessage(ctx, c.in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.Skipped != c.want {
			t.Errorf("message %s: expected skip %q, got %q", c.in.ExternalID, c.want, r.Skipped)
		}
	}
	if p.calls() != 0 {
		t.Errorf("expected no oracle calls, got %d", p.calls())
	}
}

func TestAskRoutesToTracker(t *testing.T) {
	p := &mockProvider{response: " Two items tracked. "}
	pl, _, _ := setup(t, p)

	out := pl.Ask(context.Background(), "g1", "show me the dev tracker status")
	if out != "Two items tracked." {
		t.Errorf("unexpected answer %q", out)
	}
	if !strings.Contains(p.prompts[0], "Login crash") || !strings.Contains(p.prompts[0], "Slow feed") {
		t.Error("expected both tracker records in the prompt")
	}
}

func TestAskLiveChatUsesStoredHistory(t *testing.T) {
	p := &mockProvider{response: `{"contributions":[]}`}
	pl, _, _ := setup(t, p)
	ctx := context.Background()
	pl.HandleMessage(ctx, incoming("1", "general", "alice", "the map is great"))

	pl.Ask(ctx, "g1", "what happened on discord?")
	last := p.prompts[len(p.prompts)-1]
	if !strings.Contains(last, "User: alice - Message: the map is great") {
		t.Errorf("expected stored history in prompt, got:\n%s", last)
	}
}

func TestSummarizeAndCounts(t *testing.T) {
	p := &mockProvider{response: `{"contributions":[{"username":"alice","contribution":"Feedback."}]}`}
	pl, _, sink := setup(t, p)
	ctx := context.Background()
	pl.HandleMessage(ctx, incoming("1", "polls", "alice", "I prefer the 3D world"))
	pl.HandleMessage(ctx, incoming("2", "polls", "Ubiq.World", "New poll!"))
	pl.HandleMessage(ctx, incoming("3", "polls", "bob", "feed UI for me"))

	n, err := pl.CountMessages("g1", "polls")
	if err != nil || n != 2 {
		t.Errorf("expected 2 messages excluding ignored users, got %d, %v", n, err)
	}
	answers, err := pl.CountAnswers(ctx, "g1", "polls")
	if err != nil || answers != 1 {
		t.Errorf("expected 1 answer from one batch, got %d, %v", answers, err)
	}
	if _, err := pl.CountMessages("g1", "nope"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}

	p.response = "- #polls: people like the 3D world"
	rec, err := pl.Summarize(ctx, "g1", time.Time{}, database.TriggerManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Text != "- #polls: people like the 3D world" || len(sink.summaries) != 1 {
		t.Errorf("unexpected summary %+v, posted %d", rec, len(sink.summaries))
	}
}

func TestBackfillAllOnce(t *testing.T) {
	p := &mockProvider{response: `{"contributions":[]}`}
	pl, db, _ := setup(t, p)
	for _, m := range []database.Message{
		{GroupID: "g1", Channel: "general", ExternalID: "1", Author: "alice", Text: "hi", CreatedAt: base},
		{GroupID: "g2", Channel: "general", ExternalID: "1", Author: "bob", Text: "yo", CreatedAt: base},
	} {
		db.InsertMessage(m)
	}

	results, err := pl.BackfillAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 || results[0].Skipped || results[1].Skipped {
		t.Fatalf("expected two real runs, got %+v", results)
	}
	calls := p.calls()

	again, _ := pl.BackfillAll(context.Background())
	if !again[0].Skipped || !again[1].Skipped || p.calls() != calls {
		t.Error("expected the second pass to be a no-op")
	}

	if err := pl.ResetBackfill("g1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, _ := pl.Backfill(context.Background(), "g1")
	if r.Skipped {
		t.Error("expected backfill to run again after reset")
	}
}

func TestBackfillSkipsLiveClassifiedMessages(t *testing.T) {
	p := &mockProvider{response: `{"contributions":[{"username":"alice","contribution":"Reported a login crash."}]}`}
	pl, db, _ := setup(t, p)
	ctx := context.Background()

	if _, err := pl.HandleMessage(ctx, incoming("1", "general", "alice", "The app crashes when I log in")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := p.calls()

	results, err := pl.BackfillAll(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Messages != 0 {
		t.Fatalf("expected nothing left to backfill, got %+v", results)
	}
	if p.calls() != calls {
		t.Errorf("expected no further model calls, got %d", p.calls()-calls)
	}
	logged, _ := db.GetRecentContributions(10)
	if len(logged) != 1 {
		t.Errorf("expected the live contribution logged once, got %d", len(logged))
	}
}

func TestBackfillStillReadsImportedHistory(t *testing.T) {
	p := &mockProvider{response: `{"contributions":[]}`}
	pl, db, _ := setup(t, p)
	ctx := context.Background()

	db.InsertMessage(database.Message{GroupID: "g1", Channel: "general", ExternalID: "old",
		Author: "bob", Text: "Feed loads slowly", CreatedAt: base.Add(-time.Hour)})
	pl.HandleMessage(ctx, incoming("new", "general", "alice", "The app crashes when I log in"))

	results, err := pl.BackfillAll(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Messages != 1 {
		t.Fatalf("expected only the imported message backfilled, got %+v", results)
	}
	last := p.prompts[len(p.prompts)-1]
	if !strings.Contains(last, "Feed loads slowly") || strings.Contains(last, "The app crashes") {
		t.Errorf("unexpected backfill prompt:\n%s", last)
	}
}
