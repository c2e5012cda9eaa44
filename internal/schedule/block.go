// Package schedule generates and persists the per-channel daily programming
// timeline.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"lineartv/internal/ads"
)

// BlockKind discriminates the two schedule block variants.
type BlockKind string

const (
	// BlockContent is a single catalog item played in full.
	BlockContent BlockKind = "content"
	// BlockAds is an ad break: an ordered run of ad entries.
	BlockAds BlockKind = "ads"
)

// Block is one playable unit on the timeline with absolute start/end times.
type Block struct {
	Kind     BlockKind   `json:"kind"`
	ItemID   string      `json:"item_id,omitempty"`
	Title    string      `json:"title,omitempty"`
	Category string      `json:"category,omitempty"`
	Path     string      `json:"path,omitempty"`
	Ads      []ads.Entry `json:"ads,omitempty"`
	Start    time.Time   `json:"start"`
	End      time.Time   `json:"end"`
}

// Duration returns the block's length.
func (b Block) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

// Document is one channel-day of ordered schedule blocks. Immutable once
// written; a new day means a new Document.
type Document struct {
	ID        string  `json:"id"`
	ChannelID string  `json:"channel_id"`
	Date      string  `json:"date"`
	Blocks    []Block `json:"blocks"`
}

// ErrNotContiguous reports a schedule that violates the block contiguity
// invariant. A document failing validation is never persisted.
var ErrNotContiguous = errors.New("schedule blocks are not contiguous")

// Validate checks the contiguity invariant against the given day start:
// blocks are non-empty and ordered, the first starts at dayStart, every
// block's end equals the next block's start, and the last block ends at or
// after dayStart+24h (items may overrun the day boundary, never undershoot).
func (d *Document) Validate(dayStart time.Time) error {
	if len(d.Blocks) == 0 {
		return fmt.Errorf("%w: no blocks", ErrNotContiguous)
	}
	if !d.Blocks[0].Start.Equal(dayStart) {
		return fmt.Errorf("%w: first block starts at %s, want %s",
			ErrNotContiguous, d.Blocks[0].Start, dayStart)
	}
	for i, b := range d.Blocks {
		if !b.End.After(b.Start) {
			return fmt.Errorf("%w: block %d has non-positive duration", ErrNotContiguous, i)
		}
		if i > 0 && !b.Start.Equal(d.Blocks[i-1].End) {
			return fmt.Errorf("%w: block %d starts at %s but block %d ends at %s",
				ErrNotContiguous, i, b.Start, i-1, d.Blocks[i-1].End)
		}
	}
	dayEnd := dayStart.Add(24 * time.Hour)
	if last := d.Blocks[len(d.Blocks)-1]; last.End.Before(dayEnd) {
		return fmt.Errorf("%w: last block ends at %s, before day end %s",
			ErrNotContiguous, last.End, dayEnd)
	}
	return nil
}
