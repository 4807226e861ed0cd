package backfill

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TobiSchelling/ubot/internal/database"
)

// MarkerStore records which groups have had their history processed.
// Markers must survive restarts.
type MarkerStore interface {
	IsComplete(groupID string) (bool, error)
	MarkComplete(groupID string) error
	Clear(groupID string) error
}

// DBMarkers keeps markers in the backfill_markers table.
type DBMarkers struct {
	db *database.DB
}

func NewDBMarkers(db *database.DB) *DBMarkers {
	return &DBMarkers{db: db}
}

func (m *DBMarkers) IsComplete(groupID string) (bool, error) {
	return m.db.IsBackfillComplete(groupID)
}

func (m *DBMarkers) MarkComplete(groupID string) error {
	return m.db.MarkBackfillComplete(groupID)
}

func (m *DBMarkers) Clear(groupID string) error {
	return m.db.ClearBackfill(groupID)
}

// FileMarkers keeps one history_processed_<group>.txt file per group in Dir.
type FileMarkers struct {
	Dir string
}

// Path returns the marker file of a group.
func (m *FileMarkers) Path(groupID string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, groupID)
	return filepath.Join(m.Dir, fmt.Sprintf("history_processed_%s.txt", safe))
}

func (m *FileMarkers) IsComplete(groupID string) (bool, error) {
	_, err := os.Stat(m.Path(groupID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (m *FileMarkers) MarkComplete(groupID string) error {
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.Path(groupID), []byte("done"), 0o644)
}

func (m *FileMarkers) Clear(groupID string) error {
	err := os.Remove(m.Path(groupID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
