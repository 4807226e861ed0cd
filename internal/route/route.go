// Package route answers free-form questions from the knowledge sources
// they mention. A question selects every source whose keywords it
// contains; the selected sources are read, composed into one bounded
// prompt and sent to the language model once.
package route

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/TobiSchelling/ubot/internal/knowledge"
	"github.com/TobiSchelling/ubot/internal/llm"
	"github.com/TobiSchelling/ubot/internal/messages"
)

const generalInstruction = `You are an assistant for the product team of a mobile app. Answer the request below using ONLY the data that follows. Each data block is marked with "=== <source> ===". Tabular sources are JSON lists of rows keyed by column name.

- Do not invent details that are not in the data.
- Name the source a fact comes from when it helps.
- Aim for a response between 1000 and 2000 characters.`

const entityInstruction = `You are an assistant for the product team of a mobile app. The request below is about one individual, %q. The data that follows contains only their entries, as a JSON list. Answer using ONLY that data.

- Do not invent details that are not in the data.
- Summarize what %s said or did, then answer the request.
- Aim for a response between 1000 and 2000 characters.`

// entityNote is appended to the general instruction when one block is
// narrowed to an individual but other sources are included too.
const entityNote = `
- The %q block holds only the entries of %q; use it for what they said or did.`

// Options configures a Router.
type Options struct {
	// MaxPromptChars caps the composed prompt; zero means no cap.
	MaxPromptChars int
	// LiveHistoryLimit bounds messages read per channel for live sources.
	LiveHistoryLimit int
	// ExcludeChannels are never read for live sources.
	ExcludeChannels []string
	MaxTokens       int
}

// Router selects knowledge sources for a question and asks the model.
type Router struct {
	registry *knowledge.Registry
	provider llm.Provider
	opts     Options
}

// New creates a router over a registry.
func New(registry *knowledge.Registry, provider llm.Provider, opts Options) *Router {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	return &Router{registry: registry, provider: provider, opts: opts}
}

// Select returns every source whose keywords occur in command, in
// registry order.
func (r *Router) Select(command string) []*knowledge.Source {
	cmd := normalize(command)
	var selected []*knowledge.Source
	for _, s := range r.registry.Sources() {
		for _, kw := range s.Keywords {
			if cmd.contains(normalize(kw)) {
				selected = append(selected, s)
				break
			}
		}
	}
	return selected
}

// HelpText lists each source with the words that select it.
func (r *Router) HelpText() string {
	var b strings.Builder
	b.WriteString("I could not tell which source your question is about. Mention one of these:")
	for _, s := range r.registry.Sources() {
		fmt.Fprintf(&b, "\n- %s: %s", s.Label, strings.Join(s.Keywords, ", "))
	}
	return b.String()
}

// Route answers command. live supplies the chat history for live
// sources and may be nil. The result is always user-facing text.
func (r *Router) Route(ctx context.Context, command string, live messages.Source) string {
	selected := r.Select(command)
	if len(selected) == 0 {
		return r.HelpText()
	}

	names := make([]string, len(selected))
	for i, s := range selected {
		names[i] = s.Name
	}
	log.Printf("Routing question to %s", strings.Join(names, ", "))

	cmd := normalize(command)
	var notes []string
	var entity string
	blocks := make([]block, 0, len(selected))
	for _, s := range selected {
		b, e, reply := r.fetch(ctx, s, cmd, live)
		if reply != "" {
			return reply
		}
		if e != "" {
			entity = e
			notes = append(notes, fmt.Sprintf(entityNote, b.label, e))
		}
		blocks = append(blocks, b)
	}

	instruction := generalInstruction + strings.Join(notes, "")
	if entity != "" && len(blocks) == 1 {
		instruction = fmt.Sprintf(entityInstruction, entity, entity)
	}

	prompt := compose(instruction, blocks, command, r.opts.MaxPromptChars)
	if r.provider == nil {
		return "Error generating response: " + llm.ErrNoProvider.Error()
	}
	answer, err := r.provider.Generate(ctx, prompt, r.opts.MaxTokens)
	if err != nil {
		log.Printf("Routed question failed: %v", err)
		return "Error generating response: " + err.Error()
	}
	return strings.TrimSpace(answer)
}

// fetch reads one source into a block. A non-empty reply ends routing with
// that text instead of calling the model.
func (r *Router) fetch(ctx context.Context, s *knowledge.Source, cmd text, live messages.Source) (b block, entity, reply string) {
	b.label = s.Label

	switch s.Kind {
	case knowledge.FreeformText:
		blob, err := r.registry.Blob(ctx, s.Name)
		if err != nil {
			return b, "", fetchFailed(s, err)
		}
		b.body = blob

	case knowledge.Tabular:
		if s.EntityLookup {
			header, err := r.matchHeader(ctx, s, cmd)
			if err != nil {
				return b, "", fetchFailed(s, err)
			}
			if header != "" {
				entries, err := r.registry.Column(ctx, s.Name, header)
				if err != nil {
					return b, "", fetchFailed(s, err)
				}
				if len(entries) == 0 {
					return b, "", fmt.Sprintf("No entries found for %s in %s.", header, s.Label)
				}
				b.label = s.Label + ": " + header
				b.body, err = indentJSON(entries)
				if err != nil {
					return b, "", fetchFailed(s, err)
				}
				return b, header, ""
			}
		}
		records, err := r.registry.Records(ctx, s.Name)
		if err != nil {
			return b, "", fetchFailed(s, err)
		}
		b.body, err = indentJSON(records)
		if err != nil {
			return b, "", fetchFailed(s, err)
		}

	case knowledge.LiveMessages:
		if live == nil {
			b.body = "(live chat history is unavailable here)"
			return b, "", ""
		}
		logs, err := messages.Collect(ctx, live, messages.CollectOptions{
			Exclude: r.opts.ExcludeChannels,
			Limit:   r.opts.LiveHistoryLimit,
		})
		if err != nil {
			return b, "", fetchFailed(s, err)
		}
		b.body = strings.TrimSpace(messages.Format(logs))
		if b.body == "" {
			b.body = "(no recent messages)"
		}
	}
	return b, "", ""
}

// matchHeader returns the first header of s that occurs in cmd.
func (r *Router) matchHeader(ctx context.Context, s *knowledge.Source, cmd text) (string, error) {
	headers, err := r.registry.HeaderRow(ctx, s.Name)
	if err != nil {
		return "", err
	}
	for _, h := range headers {
		n := normalize(h)
		if n.spaced != "" && strings.Contains(cmd.spaced, n.spaced) {
			return h, nil
		}
	}
	return "", nil
}

func fetchFailed(s *knowledge.Source, err error) string {
	log.Printf("Reading knowledge source %s failed: %v", s.Name, err)
	return fmt.Sprintf("Could not read %s: %v", s.Label, err)
}

func indentJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
