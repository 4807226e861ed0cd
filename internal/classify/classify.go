// Package classify turns chat messages into contribution records and
// channel logs into a daily summary, using a language model.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/TobiSchelling/ubot/internal/database"
	"github.com/TobiSchelling/ubot/internal/llm"
	"github.com/TobiSchelling/ubot/internal/messages"
)

const (
	// Sentinel is the text the model uses for "nothing here"; it is never
	// a contribution.
	Sentinel = "No contribution provided."
	// UnknownUser replaces missing or null usernames.
	UnknownUser = "UnknownUser"

	SummaryFallback = "Error generating summary; please try again later."
	NoMessages      = "No valid messages found."
)

// ErrMalformedBatch rejects a batch containing an element that is not an
// (author, text) pair with both fields set.
var ErrMalformedBatch = errors.New("malformed message batch")

const analyzePrompt = `You are analyzing chat messages from an insider program for a mobile app.

Your task: extract ONLY meaningful contributions related to the app. Ignore everything else.

Contributions include:
- Bug reports (e.g. "I found a bug where the app crashes when logging in.")
- Feedback on the app (e.g. "The 3D map makes navigation much easier.")
- Feature requests (e.g. "Can you add a dark mode?")
- Questions about the app (e.g. "How do I reset my password?")
- ANY answer to one of the prompts listed below
Do not ignore well-written messages just because they do not say "bug" or "feature".

Not contributions:
- Introductions and greetings
- Personal stories unrelated to the app
- Off-topic chat
- Anything written by these accounts: %s

Prompts asked to users (an answer to any of them is a contribution):
%s

Respond with ONLY this JSON:
{
    "contributions": [
        {"username": "<author>", "contribution": "<one sentence describing the contribution>"}
    ]
}
If nothing qualifies, respond with {"contributions": []}.

Messages to analyze:
%s`

const summarizePrompt = `Here is a collection of messages from an insider program chat for a spatial media company. Channel names are marked with a "#".

Your task:
- Do not hallucinate or assume any details to meet the length target. Only use the given dataset.
- Get straight to the point. There must be bullet points for each channel.
- Never write "@everyone" in your response.
- Focus heavily on these channels: %s
- Disregard the channel named "%s" completely.
- Aim for no less than 2500 and no more than 4000 characters.
- Highlight bug reports, feature requests, feedback and user concerns.
- Include specific details about problems users faced (error messages, crashes, unexpected behavior).
- Summarize feature requests with a short explanation of the user need.
- Identify recurring issues and trends.
- Leave out bot commands and irrelevant chat.
- Group key points under each channel name.

Here is the dataset containing channels and their messages:
%s`

// Pair is one (author, text) element of a batch.
type Pair struct {
	Author string
	Text   string
}

// Result holds the contributions extracted from one batch.
type Result struct {
	Contributions []database.ContributionRecord
}

// Options configures the prompts.
type Options struct {
	// Prompts are the solicited questions whose answers always count.
	Prompts []string
	// IgnoredUsers never contribute.
	IgnoredUsers []string
	// FocusChannels get extra weight in summaries.
	FocusChannels []string
	// SummaryChannel is where summaries are posted; summaries ignore it.
	SummaryChannel string
	MaxTokens      int
}

// Classifier extracts contributions and writes summaries.
type Classifier struct {
	provider llm.Provider
	opts     Options
}

// New creates a classifier.
func New(provider llm.Provider, opts Options) *Classifier {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	return &Classifier{provider: provider, opts: opts}
}

// ParseBatch converts raw rows into pairs. Every row must have exactly two
// fields.
func ParseBatch(rows [][]string) ([]Pair, error) {
	pairs := make([]Pair, len(rows))
	for i, row := range rows {
		if len(row) != 2 {
			return nil, fmt.Errorf("%w: element %d has %d fields", ErrMalformedBatch, i, len(row))
		}
		pairs[i] = Pair{Author: row[0], Text: row[1]}
	}
	return pairs, nil
}

// IsIgnored reports whether author is on the deny list.
func (c *Classifier) IsIgnored(author string) bool {
	for _, u := range c.opts.IgnoredUsers {
		if strings.EqualFold(u, author) {
			return true
		}
	}
	return false
}

// Classify extracts contributions from a batch. A malformed batch is
// rejected with ErrMalformedBatch; any model or parse failure yields an
// empty result.
func (c *Classifier) Classify(ctx context.Context, batch []Pair) (*Result, error) {
	for i, p := range batch {
		if strings.TrimSpace(p.Author) == "" || strings.TrimSpace(p.Text) == "" {
			return nil, fmt.Errorf("%w: element %d needs an author and text", ErrMalformedBatch, i)
		}
	}

	var lines []string
	for _, p := range batch {
		if c.IsIgnored(p.Author) || isSentinel(p.Text) {
			continue
		}
		lines = append(lines, messages.FormatLine(p.Author, p.Text))
	}
	r := &Result{Contributions: []database.ContributionRecord{}}
	if len(lines) == 0 {
		return r, nil
	}

	if c.provider == nil {
		log.Println("No LLM provider available for classification")
		return r, nil
	}

	prompt := fmt.Sprintf(analyzePrompt,
		strings.Join(c.opts.IgnoredUsers, ", "),
		formatPrompts(c.opts.Prompts),
		strings.Join(lines, "\n"),
	)

	response, err := c.provider.Generate(ctx, prompt, c.opts.MaxTokens)
	if err != nil {
		log.Printf("Classification failed: %v", err)
		return r, nil
	}

	r.Contributions = parseContributions(response)
	return r, nil
}

func parseContributions(response string) []database.ContributionRecord {
	out := []database.ContributionRecord{}

	parsed := llm.ParseJSONResponse(response)
	if parsed == nil {
		return out
	}
	raw, ok := parsed["contributions"]
	if !ok {
		log.Println("Classification response is missing the contributions key")
		return out
	}
	items, ok := raw.([]any)
	if !ok {
		log.Printf("Classification contributions is %T, not a list", raw)
		return out
	}

	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		text := strings.TrimSpace(stringify(entry["contribution"]))
		if text == "" || isSentinel(text) {
			continue
		}
		out = append(out, database.ContributionRecord{
			Username: username(entry["username"]),
			Text:     text,
			Count:    1,
		})
	}
	return out
}

func username(v any) string {
	s, ok := v.(string)
	if !ok {
		return UnknownUser
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return UnknownUser
	}
	return s
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

func isSentinel(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), Sentinel)
}

func formatPrompts(prompts []string) string {
	if len(prompts) == 0 {
		return "(none)"
	}
	lines := make([]string, len(prompts))
	for i, p := range prompts {
		lines[i] = fmt.Sprintf("Prompt %d: %s", i+1, p)
	}
	return strings.Join(lines, "\n")
}

// Summarize writes a per-channel summary of the logs. It always returns
// text: a fixed message for empty input and a fallback when the model fails.
func (c *Classifier) Summarize(ctx context.Context, logs []messages.ChannelLog) string {
	formatted := messages.Format(logs)
	if strings.TrimSpace(formatted) == "" {
		log.Println("No valid messages to summarize")
		return NoMessages
	}
	if c.provider == nil {
		log.Println("No LLM provider available for summaries")
		return SummaryFallback
	}

	focus := make([]string, len(c.opts.FocusChannels))
	for i, ch := range c.opts.FocusChannels {
		focus[i] = `"` + ch + `"`
	}
	prompt := fmt.Sprintf(summarizePrompt, strings.Join(focus, " and "), c.opts.SummaryChannel, formatted)

	summary, err := c.provider.Generate(ctx, prompt, c.opts.MaxTokens)
	if err != nil {
		log.Printf("Summary generation failed: %v", err)
		return SummaryFallback
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		log.Println("Summary generation returned no text")
		return SummaryFallback
	}
	log.Printf("Summary generated (%d characters)", len(summary))
	return strings.ReplaceAll(summary, "@everyone", "everyone")
}
