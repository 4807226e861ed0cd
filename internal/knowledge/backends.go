package knowledge

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// CSVFile is a tabular source read from a CSV file whose first row is the
// header. The file is re-read on every load so edits show up without a
// restart.
type CSVFile struct {
	Path string
}

func (c *CSVFile) LoadTable(ctx context.Context) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", c.Path, err)
	}
	if len(rows) == 0 {
		return &Table{}, nil
	}
	header := rows[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return newTable(header, rows[1:]), nil
}

// TextFile is a free-text source read from a file.
type TextFile struct {
	Path string
}

func (t *TextFile) LoadText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(t.Path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// StaticTable is an in-memory table.
type StaticTable struct {
	Header []string
	Rows   [][]string
}

func (s *StaticTable) LoadTable(_ context.Context) (*Table, error) {
	return newTable(s.Header, s.Rows), nil
}

// StaticText is an in-memory text.
type StaticText string

func (s StaticText) LoadText(_ context.Context) (string, error) {
	return string(s), nil
}
