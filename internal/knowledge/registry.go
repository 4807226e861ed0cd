package knowledge

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/TobiSchelling/ubot/internal/config"
)

// Registry holds the sources in registration order, which is also the
// order their blocks appear in composed prompts.
type Registry struct {
	sources []*Source
	byName  map[string]*Source
}

// NewRegistry builds a registry. Source names must be unique.
func NewRegistry(sources ...*Source) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Source, len(sources))}
	for _, s := range sources {
		if s.Name == "" {
			return nil, fmt.Errorf("knowledge source without a name")
		}
		if _, dup := r.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate knowledge source %q", s.Name)
		}
		r.sources = append(r.sources, s)
		r.byName[s.Name] = s
	}
	return r, nil
}

// FromConfig registers the configured sources. Relative paths resolve
// against dataDir. Entries without a path or URL are skipped.
func FromConfig(entries []config.SourceEntry, dataDir string) (*Registry, error) {
	var sources []*Source
	for _, e := range entries {
		kind, err := ParseKind(e.Kind)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", e.Name, err)
		}

		switch kind {
		case LiveMessages:
			sources = append(sources, NewLive(e.Name, e.Label, e.Keywords))

		case FreeformText:
			if e.Path == "" {
				log.Printf("Skipping knowledge source %s: no path configured", e.Name)
				continue
			}
			sources = append(sources, NewFreeform(e.Name, e.Label, e.Keywords,
				&TextFile{Path: resolvePath(e.Path, dataDir)}))

		case Tabular:
			loader, ok, err := tableBackend(e, dataDir)
			if err != nil {
				return nil, err
			}
			if !ok {
				log.Printf("Skipping knowledge source %s: no %s location configured", e.Name, backendName(e))
				continue
			}
			sources = append(sources, NewTabular(e.Name, e.Label, e.Keywords, e.EntityLookup, loader))
		}
	}
	return NewRegistry(sources...)
}

func backendName(e config.SourceEntry) string {
	if e.Backend == "" {
		return "csv"
	}
	return strings.ToLower(e.Backend)
}

func tableBackend(e config.SourceEntry, dataDir string) (TableLoader, bool, error) {
	switch backendName(e) {
	case "csv":
		if e.Path == "" {
			return nil, false, nil
		}
		return &CSVFile{Path: resolvePath(e.Path, dataDir)}, true, nil
	case "feed":
		if e.URL == "" {
			return nil, false, nil
		}
		return NewFeed(e.URL, e.FetchLinks), true, nil
	}
	return nil, false, fmt.Errorf("source %s: unknown backend %q", e.Name, e.Backend)
}

func resolvePath(path, dataDir string) string {
	if filepath.IsAbs(path) || dataDir == "" {
		return path
	}
	return filepath.Join(dataDir, path)
}

// Sources returns every source in registration order.
func (r *Registry) Sources() []*Source {
	return r.sources
}

// Get looks a source up by name.
func (r *Registry) Get(name string) (*Source, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return s, nil
}

func (r *Registry) tableOf(ctx context.Context, name string) (*Table, error) {
	s, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if s.Kind != Tabular {
		return nil, fmt.Errorf("%w: %s is %s, not tabular", ErrWrongKind, name, s.Kind)
	}
	t, err := s.table.LoadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}
	return t, nil
}

// Records returns every data row of a tabular source.
func (r *Registry) Records(ctx context.Context, name string) ([]Record, error) {
	t, err := r.tableOf(ctx, name)
	if err != nil {
		return nil, err
	}
	return t.Records(), nil
}

// HeaderRow returns the column headers of a tabular source.
func (r *Registry) HeaderRow(ctx context.Context, name string) ([]string, error) {
	t, err := r.tableOf(ctx, name)
	if err != nil {
		return nil, err
	}
	return t.Header, nil
}

// Column returns the non-blank cells of one column of a tabular source.
func (r *Registry) Column(ctx context.Context, name, header string) ([]string, error) {
	t, err := r.tableOf(ctx, name)
	if err != nil {
		return nil, err
	}
	return t.Column(header)
}

// Blob returns the full text of a free-text source.
func (r *Registry) Blob(ctx context.Context, name string) (string, error) {
	s, err := r.Get(name)
	if err != nil {
		return "", err
	}
	if s.Kind != FreeformText {
		return "", fmt.Errorf("%w: %s is %s, not text", ErrWrongKind, name, s.Kind)
	}
	text, err := s.text.LoadText(ctx)
	if err != nil {
		return "", fmt.Errorf("loading %s: %w", name, err)
	}
	return text, nil
}
