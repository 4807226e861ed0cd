// Package knowledge holds the named data sources questions are answered
// from. Every source is one of three kinds, fixed when it is registered:
// a table of records, a single block of free text, or the live chat history
// of the group that asked.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownSource = errors.New("unknown knowledge source")
	ErrWrongKind     = errors.New("wrong kind of knowledge source")
	ErrUnknownColumn = errors.New("unknown column")
)

// Kind tags what a source holds.
type Kind int

const (
	Tabular Kind = iota + 1
	FreeformText
	LiveMessages
)

func (k Kind) String() string {
	switch k {
	case Tabular:
		return "tabular"
	case FreeformText:
		return "text"
	case LiveMessages:
		return "live"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a config value to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tabular", "table":
		return Tabular, nil
	case "text", "freeform", "freeform_text":
		return FreeformText, nil
	case "live", "live_messages":
		return LiveMessages, nil
	}
	return 0, fmt.Errorf("unknown source kind %q", s)
}

// Record is one table row keyed by column header.
type Record map[string]string

// Table is a header row plus data rows. Rows are padded or cut to the header
// width when loaded.
type Table struct {
	Header []string
	Rows   [][]string
}

// Records returns the rows keyed by header.
func (t *Table) Records() []Record {
	out := make([]Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		r := make(Record, len(t.Header))
		for i, h := range t.Header {
			r[h] = row[i]
		}
		out = append(out, r)
	}
	return out
}

// Column returns the non-blank cells under header, in row order.
func (t *Table) Column(header string) ([]string, error) {
	idx := -1
	for i, h := range t.Header {
		if strings.EqualFold(h, header) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, header)
	}
	var out []string
	for _, row := range t.Rows {
		if cell := strings.TrimSpace(row[idx]); cell != "" {
			out = append(out, cell)
		}
	}
	return out, nil
}

func newTable(header []string, rows [][]string) *Table {
	t := &Table{Header: make([]string, len(header))}
	for i, h := range header {
		t.Header[i] = strings.TrimSpace(h)
	}
	for _, row := range rows {
		fixed := make([]string, len(t.Header))
		copy(fixed, row)
		t.Rows = append(t.Rows, fixed)
	}
	return t
}

// TableLoader reads the current contents of a tabular source.
type TableLoader interface {
	LoadTable(ctx context.Context) (*Table, error)
}

// TextLoader reads the current contents of a free-text source.
type TextLoader interface {
	LoadText(ctx context.Context) (string, error)
}

// Source is one registered knowledge source.
type Source struct {
	Name     string
	Label    string
	Kind     Kind
	Keywords []string
	// EntityLookup allows questions naming a column header to be narrowed
	// to that column.
	EntityLookup bool

	table TableLoader
	text  TextLoader
}

// NewTabular registers a table-backed source.
func NewTabular(name, label string, keywords []string, entityLookup bool, loader TableLoader) *Source {
	return &Source{Name: name, Label: labelOr(label, name), Kind: Tabular,
		Keywords: keywords, EntityLookup: entityLookup, table: loader}
}

// NewFreeform registers a free-text source.
func NewFreeform(name, label string, keywords []string, loader TextLoader) *Source {
	return &Source{Name: name, Label: labelOr(label, name), Kind: FreeformText,
		Keywords: keywords, text: loader}
}

// NewLive registers the live chat history source. Its data is supplied by
// the caller at question time.
func NewLive(name, label string, keywords []string) *Source {
	return &Source{Name: name, Label: labelOr(label, name), Kind: LiveMessages, Keywords: keywords}
}

func labelOr(label, name string) string {
	if label != "" {
		return label
	}
	return name
}
