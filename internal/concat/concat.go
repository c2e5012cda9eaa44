// Package concat compiles schedule documents into the transcoder's
// concatenation description format.
package concat

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"lineartv/internal/schedule"
)

// PlaylistPath returns the channel's deterministic concat file path. The
// supervisor always launches against this path, so swapping in a new schedule
// is overwrite-then-restart, never a flag change.
func PlaylistPath(dir, channelID string) string {
	return filepath.Join(dir, channelID+".txt")
}

// Compile flattens the document's blocks into an ordered list of media file
// entries and writes it atomically to path. Ad blocks expand to one entry per
// ad. Entries whose file is missing or unreadable are skipped with a warning
// rather than failing the channel; the lost time shortens the day instead of
// being re-padded. Returns the number of entries written.
func Compile(doc *schedule.Document, path string, log *slog.Logger) (int, error) {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")

	entries := 0
	add := func(mediaPath string) {
		if _, err := os.Stat(mediaPath); err != nil {
			log.Warn("media file missing, skipping entry",
				slog.String("path", mediaPath),
				slog.String("error", err.Error()))
			return
		}
		fmt.Fprintf(&b, "file '%s'\n", escapePath(mediaPath))
		entries++
	}

	for _, block := range doc.Blocks {
		switch block.Kind {
		case schedule.BlockContent:
			add(block.Path)
		case schedule.BlockAds:
			for _, ad := range block.Ads {
				add(ad.Path)
			}
		}
	}

	if entries == 0 {
		return 0, fmt.Errorf("no playable entries in schedule for %s", doc.ChannelID)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create playlist dir: %w", err)
	}
	if err := renameio.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return 0, fmt.Errorf("write playlist: %w", err)
	}
	return entries, nil
}

// escapePath quotes a path for the concat syntax: a single quote inside a
// single-quoted string is written as '\''.
func escapePath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}
