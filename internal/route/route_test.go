package route

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/TobiSchelling/ubot/internal/knowledge"
	"github.com/TobiSchelling/ubot/internal/messages"
)

// mockProvider implements llm.Provider for testing.
type mockProvider struct {
	response string
	err      error
	calls    int
	prompt   string
}

func (m *mockProvider) Generate(_ context.Context, prompt string, _ int) (string, error) {
	m.calls++
	m.prompt = prompt
	return m.response, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

// chatSource implements messages.Source over fixed channels.
type chatSource struct {
	channels map[string][]messages.Message
	order    []string
}

func (c *chatSource) Channels(_ context.Context) ([]string, error) { return c.order, nil }

func (c *chatSource) History(_ context.Context, channel string, _ time.Time, _ int) ([]messages.Message, error) {
	return c.channels[channel], nil
}

func testRegistry(t *testing.T, transcript string) *knowledge.Registry {
	t.Helper()
	reg, err := knowledge.NewRegistry(
		knowledge.NewFreeform("transcripts", "Interview transcripts",
			[]string{"transcript", "transcripts"}, knowledge.StaticText(transcript)),
		knowledge.NewTabular("interviews", "Interview notes", []string{"interview", "interviews"}, true,
			&knowledge.StaticTable{
				Header: []string{"Alice", "Bob", "Carol"},
				Rows: [][]string{
					{"Loves the 3D map", "Wants dark mode", ""},
					{"", "Found the feed slow", " "},
				},
			}),
		knowledge.NewTabular("dev_tracker", "Dev tracker", []string{"dev tracker", "development tracker"}, false,
			&knowledge.StaticTable{
				Header: []string{"ID", "Title", "Status"},
				Rows: [][]string{
					{"101", "Login crash", "In progress"},
					{"102", "Slow feed", "Done"},
				},
			}),
		knowledge.NewTabular("roadmap", "Product roadmap", []string{"roadmap"}, false,
			&knowledge.StaticTable{Header: []string{"Quarter", "Item"}, Rows: [][]string{{"Q3", "Search"}}}),
		knowledge.NewLive("live_chat", "Live chat", []string{"discord", "live chat"}),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func newRouter(t *testing.T, p *mockProvider) *Router {
	return New(testRegistry(t, "Q: How do you find friends? A: Through the map."), p, Options{
		MaxPromptChars:   120000,
		LiveHistoryLimit: 100,
		ExcludeChannels:  []string{"summary"},
	})
}

func selectedNames(r *Router, command string) []string {
	var names []string
	for _, s := range r.Select(command) {
		names = append(names, s.Name)
	}
	return names
}

func TestRouteDevTracker(t *testing.T) {
	p := &mockProvider{response: "  Two items are tracked: the login crash and the slow feed.  \n"}
	r := newRouter(t, p)

	out := r.Route(context.Background(), "show me the dev tracker status", nil)

	if out != "Two items are tracked: the login crash and the slow feed." {
		t.Errorf("expected trimmed oracle response, got %q", out)
	}
	if p.calls != 1 {
		t.Fatalf("expected 1 oracle call, got %d", p.calls)
	}
	for _, want := range []string{"=== Dev tracker ===", `"Title": "Login crash"`, `"Title": "Slow feed"`,
		"Request: show me the dev tracker status"} {
		if !strings.Contains(p.prompt, want) {
			t.Errorf("expected prompt to contain %q", want)
		}
	}
	if strings.Contains(p.prompt, "=== Product roadmap ===") {
		t.Error("expected roadmap to be left out")
	}
}

func TestSelectMultipleSourcesInOrder(t *testing.T) {
	p := &mockProvider{response: "answer"}
	r := newRouter(t, p)

	command := "Compare the dev tracker with what the interviews said"
	names := selectedNames(r, command)
	if strings.Join(names, ",") != "interviews,dev_tracker" {
		t.Fatalf("expected interviews and dev_tracker, got %v", names)
	}

	r.Route(context.Background(), command, nil)
	interviews := strings.Index(p.prompt, "=== Interview notes ===")
	tracker := strings.Index(p.prompt, "=== Dev tracker ===")
	if interviews < 0 || tracker < 0 || interviews > tracker {
		t.Errorf("expected interview block before dev tracker block (%d, %d)", interviews, tracker)
	}
	if strings.Contains(p.prompt, "=== Live chat ===") || strings.Contains(p.prompt, "=== Product roadmap ===") {
		t.Error("expected live chat and roadmap to be excluded")
	}
}

func TestSelectKeywordVariants(t *testing.T) {
	r := newRouter(t, &mockProvider{})
	cases := map[string]string{
		"what's in the devtracker?":        "dev_tracker",
		"DEV-TRACKER please":               "dev_tracker",
		"any news on the Roadmap??":        "roadmap",
		"summarize the live chat":          "live_chat",
		"read the transcripts for me":      "transcripts",
		"development tracker items":        "dev_tracker",
		"what did people say on Discord!!": "live_chat",
	}
	for command, want := range cases {
		names := selectedNames(r, command)
		if len(names) != 1 || names[0] != want {
			t.Errorf("%q: expected [%s], got %v", command, want, names)
		}
	}
}

func TestRouteFallbackHelp(t *testing.T) {
	p := &mockProvider{response: "should not be used"}
	r := newRouter(t, p)

	out := r.Route(context.Background(), "what's the weather like?", nil)
	if out != r.HelpText() {
		t.Errorf("expected help text, got %q", out)
	}
	if p.calls != 0 {
		t.Errorf("expected zero oracle calls, got %d", p.calls)
	}
	for _, want := range []string{"Dev tracker: dev tracker, development tracker", "Live chat: discord, live chat"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected help to list %q", want)
		}
	}
	if r.Route(context.Background(), "hello there", nil) != out {
		t.Error("expected help text to be deterministic")
	}
}

func TestRouteNarrowsToEntity(t *testing.T) {
	p := &mockProvider{response: "Bob wants dark mode."}
	r := newRouter(t, p)

	out := r.Route(context.Background(), "What did Bob say in his interview?", nil)
	if out != "Bob wants dark mode." {
		t.Errorf("unexpected answer %q", out)
	}
	if !strings.Contains(p.prompt, "=== Interview notes: Bob ===") {
		t.Error("expected narrowed block label")
	}
	if !strings.Contains(p.prompt, "Wants dark mode") || !strings.Contains(p.prompt, "Found the feed slow") {
		t.Error("expected Bob's entries in prompt")
	}
	if strings.Contains(p.prompt, "Loves the 3D map") {
		t.Error("expected other columns to be left out")
	}
	if !strings.Contains(p.prompt, `"Bob"`) {
		t.Error("expected the individual-focused instruction")
	}
}

func TestRouteEntityWithOtherSources(t *testing.T) {
	p := &mockProvider{response: "ok"}
	r := newRouter(t, p)

	r.Route(context.Background(), "Compare Bob's interview with the roadmap", nil)
	if !strings.Contains(p.prompt, "=== Interview notes: Bob ===") || !strings.Contains(p.prompt, "=== Product roadmap ===") {
		t.Fatalf("expected both blocks, got:\n%s", p.prompt)
	}
	if strings.Contains(p.prompt, "contains only their entries") {
		t.Error("expected the single-source wording to be left out")
	}
	if !strings.Contains(p.prompt, `The "Interview notes: Bob" block holds only the entries of "Bob"`) {
		t.Error("expected a note scoping the narrowed block")
	}
}

func TestRouteMissingEntity(t *testing.T) {
	p := &mockProvider{response: "should not be used"}
	r := newRouter(t, p)

	out := r.Route(context.Background(), "show carol's interview", nil)
	if out != "No entries found for Carol in Interview notes." {
		t.Errorf("unexpected reply %q", out)
	}
	if p.calls != 0 {
		t.Errorf("expected zero oracle calls, got %d", p.calls)
	}
}

func TestRouteOracleFailure(t *testing.T) {
	p := &mockProvider{err: errors.New("quota exceeded")}
	out := newRouter(t, p).Route(context.Background(), "roadmap please", nil)
	if out != "Error generating response: quota exceeded" {
		t.Errorf("unexpected reply %q", out)
	}
}

func TestRouteFetchFailure(t *testing.T) {
	reg, _ := knowledge.NewRegistry(knowledge.NewTabular("roadmap", "Product roadmap", []string{"roadmap"}, false,
		&knowledge.CSVFile{Path: "/nonexistent/roadmap.csv"}))
	p := &mockProvider{response: "should not be used"}

	out := New(reg, p, Options{}).Route(context.Background(), "roadmap", nil)
	if !strings.HasPrefix(out, "Could not read Product roadmap:") {
		t.Errorf("unexpected reply %q", out)
	}
	if p.calls != 0 {
		t.Errorf("expected zero oracle calls, got %d", p.calls)
	}
}

func TestRouteLiveChat(t *testing.T) {
	p := &mockProvider{response: "People discussed the crash."}
	live := &chatSource{
		order: []string{"general", "summary"},
		channels: map[string][]messages.Message{
			"general": {
				{AuthorID: "alice", Text: "the app crashed again"},
				{AuthorID: "ubot", Text: "beep", IsBot: true},
			},
			"summary": {{AuthorID: "ubot", Text: "yesterday's summary"}},
		},
	}

	newRouter(t, p).Route(context.Background(), "what's new on discord", live)
	if !strings.Contains(p.prompt, "#general:\nUser: alice - Message: the app crashed again") {
		t.Errorf("expected live messages in prompt, got:\n%s", p.prompt)
	}
	if strings.Contains(p.prompt, "beep") || strings.Contains(p.prompt, "yesterday's summary") {
		t.Error("expected bots and excluded channels to be filtered")
	}

	newRouter(t, p).Route(context.Background(), "what's new on discord", nil)
	if !strings.Contains(p.prompt, "unavailable") {
		t.Error("expected unavailable note without a live source")
	}
}

func TestRouteCapsPromptSize(t *testing.T) {
	p := &mockProvider{response: "ok"}
	r := New(testRegistry(t, strings.Repeat("transcript line. ", 1000)), p, Options{MaxPromptChars: 3000})

	r.Route(context.Background(), "transcript and roadmap", nil)
	if n := utf8.RuneCountInString(p.prompt); n > 3000 {
		t.Errorf("expected prompt within 3000 characters, got %d", n)
	}
	if !strings.Contains(p.prompt, "[source truncated: ") {
		t.Error("expected truncation marker")
	}
	if !strings.Contains(p.prompt, `"Item": "Search"`) {
		t.Error("expected the small roadmap block to survive intact")
	}
	if !strings.HasSuffix(p.prompt, "Request: transcript and roadmap") {
		t.Error("expected request at the end of the prompt")
	}
}

func TestComposeNeverExceedsCap(t *testing.T) {
	blocks := []block{
		{label: "Dev tracker", body: strings.Repeat("x", 1000)},
		{label: "Product roadmap", body: strings.Repeat("y", 1000)},
	}
	command := strings.Repeat("please tell me everything about the roadmap ", 20)
	instruction := strings.Repeat("i", 200)

	prompt := compose(instruction, blocks, command, 400)
	if n := utf8.RuneCountInString(prompt); n > 400 {
		t.Errorf("expected prompt within 400 characters, got %d", n)
	}
	if !strings.HasSuffix(prompt, requestMarker) {
		t.Errorf("expected the request to be cut, got:\n%s", prompt)
	}

	tiny := compose(instruction, []block{{label: "a", body: "b"}}, "roadmap", 50)
	if n := utf8.RuneCountInString(tiny); n != 50 {
		t.Errorf("expected a hard cut at 50 characters, got %d", n)
	}
}

func TestCapBodies(t *testing.T) {
	blocks := []block{
		{label: "a", body: strings.Repeat("a", 500)},
		{label: "b", body: strings.Repeat("b", 50)},
		{label: "c", body: strings.Repeat("c", 500)},
	}
	capBodies(blocks, 400)

	total := 0
	for _, b := range blocks {
		total += utf8.RuneCountInString(b.body)
	}
	if total > 400 {
		t.Errorf("expected total within budget, got %d", total)
	}
	if blocks[1].body != strings.Repeat("b", 50) {
		t.Error("expected the small block untouched")
	}
	if !strings.Contains(blocks[0].body, "omitted]") || !strings.Contains(blocks[2].body, "omitted]") {
		t.Error("expected both large blocks truncated")
	}

	small := []block{{label: "x", body: "short"}}
	capBodies(small, 100)
	if small[0].body != "short" {
		t.Error("expected bodies within budget to be untouched")
	}
}

func TestNormalize(t *testing.T) {
	n := normalize("  What's the DEV-Tracker   status?! 🐞 ")
	if n.spaced != "what s the dev tracker status" {
		t.Errorf("unexpected spaced form %q", n.spaced)
	}
	if n.collapsed != "whatsthedevtrackerstatus" {
		t.Errorf("unexpected collapsed form %q", n.collapsed)
	}
}
