// Package ads maintains the advertisement inventory and per-channel rotation
// state used to fill ad breaks.
package ads

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
)

// Entry is one advertisement clip.
type Entry struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Path            string `json:"path"`
	DurationSeconds int    `json:"duration_seconds"`
}

// ScanInventory walks dir for files with one of the given extensions and
// builds the ad inventory. The entry id is the path relative to dir so it
// stays stable across hosts. Clip durations are not probed; defaultDuration
// applies to every entry.
func ScanInventory(dir string, extensions []string, defaultDuration int, log *slog.Logger) []Entry {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}

	var inventory []Entry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = d.Name()
		}
		base := d.Name()
		inventory = append(inventory, Entry{
			ID:              rel,
			Title:           strings.TrimSuffix(base, filepath.Ext(base)),
			Path:            path,
			DurationSeconds: defaultDuration,
		})
		return nil
	})
	if err != nil {
		log.Warn("ad inventory scan incomplete", slog.String("dir", dir), slog.String("error", err.Error()))
	}

	log.Info("ad inventory scanned", slog.String("dir", dir), slog.Int("ads", len(inventory)))
	return inventory
}
