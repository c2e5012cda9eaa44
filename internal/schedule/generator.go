package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"lineartv/internal/ads"
	"lineartv/internal/catalog"
	"lineartv/internal/platform/config"
)

// AdSource supplies ad sets for breaks. Satisfied by *ads.Rotator.
type AdSource interface {
	NextBreak(n int) []ads.Entry
}

// ErrUnfillable reports that a stretch of the day had neither content nor ads
// to schedule, so the contiguity invariant cannot be met.
var ErrUnfillable = fmt.Errorf("no content or filler available: %w", ErrNotContiguous)

// Generator produces one day's schedule document for a single channel.
type Generator struct {
	channel config.Channel
	gateway catalog.Gateway
	adSrc   AdSource
	log     *slog.Logger
	rng     *rand.Rand
}

// NewGenerator returns a Generator for the given channel.
func NewGenerator(channel config.Channel, gateway catalog.Gateway, adSrc AdSource, log *slog.Logger) *Generator {
	return &Generator{
		channel: channel,
		gateway: gateway,
		adSrc:   adSrc,
		log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generate builds the schedule document for the calendar day containing date.
// Block timestamps are derived purely by cumulative duration from the day
// start. The result always satisfies the contiguity invariant; any violation
// aborts generation with an error and no document.
func (g *Generator) Generate(ctx context.Context, date time.Time) (*Document, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	doc := &Document{
		ID:        uuid.NewString(),
		ChannelID: g.channel.ID,
		Date:      dayStart.Format(time.DateOnly),
	}

	// Slots plus the gaps between them form a full ordered partition of the
	// day. Gaps carry no category and are padded with filler ads.
	segments := g.daySegments()

	cursor := dayStart
	for _, seg := range segments {
		segEnd := dayStart.Add(seg.End)
		if !cursor.Before(segEnd) {
			// A previous slot's last item overran past this whole segment.
			g.log.Warn("slot swallowed by overrun",
				slog.String("slot", seg.Time),
				slog.Time("cursor", cursor))
			continue
		}
		if seg.Category == "" {
			cursor = g.fill(doc, cursor, segEnd)
			continue
		}
		cursor = g.fillSlot(ctx, doc, seg, cursor, segEnd)
	}

	if cursor.Before(dayEnd) {
		return nil, fmt.Errorf("day covered only until %s: %w", cursor, ErrUnfillable)
	}
	if err := doc.Validate(dayStart); err != nil {
		return nil, err
	}
	return doc, nil
}

// fillSlot appends content blocks for one slot, breaking for ads every time
// the accumulated content duration reaches the slot's ad interval. Items are
// drawn uniformly without replacement until the category is exhausted, then
// the shuffled order loops. Items are never split: the last one may overrun
// segEnd, and the next slot starts right after it.
func (g *Generator) fillSlot(ctx context.Context, doc *Document, slot config.Slot, cursor, segEnd time.Time) time.Time {
	items, err := g.gateway.ListItems(ctx, slot.Category)
	if err != nil {
		g.log.Warn("catalog unavailable, treating category as empty",
			slog.String("category", slot.Category),
			slog.String("error", err.Error()))
		items = nil
	}
	if len(items) == 0 {
		g.log.Warn("no items for category, padding slot with filler ads",
			slog.String("category", slot.Category),
			slog.String("slot", slot.Time))
		return g.fill(doc, cursor, segEnd)
	}

	g.rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })

	adInterval := time.Duration(slot.AdInterval) * time.Second
	sinceBreak := time.Duration(0)
	idx := 0
	for cursor.Before(segEnd) {
		item := items[idx%len(items)]
		idx++

		dur := time.Duration(item.DurationSeconds) * time.Second
		doc.Blocks = append(doc.Blocks, Block{
			Kind:     BlockContent,
			ItemID:   item.ID,
			Title:    item.Title,
			Category: slot.Category,
			Path:     item.Path,
			Start:    cursor,
			End:      cursor.Add(dur),
		})
		cursor = cursor.Add(dur)
		sinceBreak += dur

		if sinceBreak >= adInterval && cursor.Before(segEnd) {
			if end, ok := g.adBreak(doc, cursor); ok {
				cursor = end
			}
			sinceBreak = 0
		}
	}
	return cursor
}

// fill pads [cursor, to) with back-to-back ad breaks. If no ads exist the
// range stays uncovered and Generate fails the contiguity check.
func (g *Generator) fill(doc *Document, cursor, to time.Time) time.Time {
	for cursor.Before(to) {
		end, ok := g.adBreak(doc, cursor)
		if !ok {
			return cursor
		}
		cursor = end
	}
	return cursor
}

// adBreak appends one ad block starting at cursor and reports its end.
func (g *Generator) adBreak(doc *Document, cursor time.Time) (time.Time, bool) {
	entries := g.adSrc.NextBreak(g.channel.Rotation.AdsPerBreak)
	if len(entries) == 0 {
		return cursor, false
	}
	total := time.Duration(0)
	for _, e := range entries {
		total += time.Duration(e.DurationSeconds) * time.Second
	}
	end := cursor.Add(total)
	doc.Blocks = append(doc.Blocks, Block{
		Kind:  BlockAds,
		Ads:   entries,
		Start: cursor,
		End:   end,
	})
	return end, true
}

// daySegments merges the channel's slots with the gaps between them into one
// ordered partition of [0, 24h).
func (g *Generator) daySegments() []config.Slot {
	gaps := g.channel.Gaps()
	segments := make([]config.Slot, 0, len(g.channel.Slots)+len(gaps))
	segments = append(segments, g.channel.Slots...)
	segments = append(segments, gaps...)
	sort.Slice(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })
	return segments
}
