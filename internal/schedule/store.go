package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
)

// ErrNotFound is returned when no document exists for the requested
// channel/date.
var ErrNotFound = errors.New("schedule document not found")

// Store persists schedule documents as JSON files, one per channel-day, so
// the most recent schedule survives a process restart. Writes are atomic
// (write-then-rename); a reader never observes a half-written document.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create schedules dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the document for its channel and date.
func (s *Store) Save(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	if err := renameio.WriteFile(s.path(doc.ChannelID, doc.Date), data, 0o644); err != nil {
		return fmt.Errorf("write schedule: %w", err)
	}
	return nil
}

// Load reads the document for the given channel and date ("YYYY-MM-DD").
func (s *Store) Load(channelID, date string) (*Document, error) {
	data, err := os.ReadFile(s.path(channelID, date))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	return &doc, nil
}

// Latest returns the most recent document for the channel by date, or
// ErrNotFound if none exist.
func (s *Store) Latest(channelID string) (*Document, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, channelID+"_*.json"))
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	// ISO dates sort lexicographically; the last match is the newest.
	sort.Strings(matches)
	name := filepath.Base(matches[len(matches)-1])
	date := strings.TrimSuffix(strings.TrimPrefix(name, channelID+"_"), ".json")
	return s.Load(channelID, date)
}

func (s *Store) path(channelID, date string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", channelID, date))
}
