// Package channel runs the per-channel pipeline: schedule generation, playlist
// compilation, transcoder supervision, and the daily regeneration cycle. Every
// channel is fully isolated from the others.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lineartv/internal/concat"
	"lineartv/internal/guide"
	"lineartv/internal/platform/config"
	"lineartv/internal/platform/metrics"
	"lineartv/internal/schedule"
	"lineartv/internal/stream"
)

// Health is the externally visible condition of one channel.
type Health struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	Healthy  bool   `json:"healthy"`
	Restarts int    `json:"restarts"`
}

// stateFailed marks a channel whose transcoder never launched (bad binary or
// no usable schedule). Fatal for the channel only.
const stateFailed = "failed"

// RunnerConfig wires one Runner. Now and RegenPoll exist for tests; their
// zero values mean the wall clock and a one-minute cadence.
type RunnerConfig struct {
	Channel      config.Channel
	Generator    *schedule.Generator
	Store        *schedule.Store
	Supervisor   *stream.Supervisor
	PlaylistPath string
	Log          *slog.Logger
	Metrics      *metrics.Metrics // may be nil

	// Lookahead controls how long before midnight the next day's schedule is
	// generated ahead of time, so the guide can publish tomorrow.
	Lookahead time.Duration

	Now       func() time.Time
	RegenPoll time.Duration
}

// Runner owns one channel's pipeline for the lifetime of the process.
type Runner struct {
	cfg RunnerConfig
	log *slog.Logger

	mu      sync.Mutex
	current *schedule.Document
	next    *schedule.Document
	failed  bool
}

// NewRunner returns a Runner for the given wiring.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RegenPoll <= 0 {
		cfg.RegenPoll = time.Minute
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = time.Hour
	}
	return &Runner{cfg: cfg, log: cfg.Log}
}

// Run prepares today's schedule, starts the supervised transcoder, and then
// cycles: pre-generating the next day inside the lookahead window and swapping
// it in when the calendar date changes. Returns when ctx is done or the
// channel fails to launch.
func (r *Runner) Run(ctx context.Context) {
	if err := r.prepare(ctx); err != nil {
		r.log.Error("channel has no usable schedule, marking failed",
			slog.String("error", err.Error()))
		r.setFailed()
		return
	}
	if err := r.cfg.Supervisor.Start(); err != nil {
		r.log.Error("transcoder launch failed, channel offline",
			slog.String("error", err.Error()))
		r.setFailed()
		return
	}

	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		r.cfg.Supervisor.Run(ctx.Done())
	}()

	ticker := time.NewTicker(r.cfg.RegenPoll)
	defer ticker.Stop()
	lastDate := r.cfg.Now().Format(time.DateOnly)

	for {
		select {
		case <-ctx.Done():
			<-supDone
			return
		case <-ticker.C:
			now := r.cfg.Now()
			if today := now.Format(time.DateOnly); today != lastDate {
				lastDate = today
				r.rollover(ctx, now)
				continue
			}
			r.maybePregenerate(ctx, now)
		}
	}
}

// prepare establishes today's document: re-read from disk if one survives
// from a previous run, otherwise generate and persist, then compile. If
// generation fails, the newest persisted document keeps the channel on air
// with its last good schedule.
func (r *Runner) prepare(ctx context.Context) error {
	now := r.cfg.Now()
	today := now.Format(time.DateOnly)

	doc, err := r.cfg.Store.Load(r.cfg.Channel.ID, today)
	switch {
	case err == nil:
		r.log.Info("reusing persisted schedule", slog.String("date", today))
	case errors.Is(err, schedule.ErrNotFound):
		doc, err = r.generate(ctx, now)
		if err != nil {
			genErr := err
			doc, err = r.cfg.Store.Latest(r.cfg.Channel.ID)
			if err != nil {
				return genErr
			}
			r.log.Warn("generation failed, replaying last persisted schedule",
				slog.String("date", doc.Date),
				slog.String("error", genErr.Error()))
		}
	default:
		return err
	}

	if _, err := concat.Compile(doc, r.cfg.PlaylistPath, r.log); err != nil {
		return err
	}
	r.mu.Lock()
	r.current = doc
	r.mu.Unlock()
	return nil
}

// rollover swaps in the new day's schedule: use the pre-generated document if
// present, otherwise generate now. Any failure keeps the previous document in
// force; the running stream simply plays out its remaining playlist.
func (r *Runner) rollover(ctx context.Context, now time.Time) {
	r.mu.Lock()
	doc := r.next
	r.next = nil
	r.mu.Unlock()

	if doc == nil || doc.Date != now.Format(time.DateOnly) {
		var err error
		doc, err = r.generate(ctx, now)
		if err != nil {
			r.log.Error("daily regeneration failed, keeping previous schedule",
				slog.String("error", err.Error()))
			return
		}
	}

	if _, err := concat.Compile(doc, r.cfg.PlaylistPath, r.log); err != nil {
		r.log.Error("playlist compile failed, keeping previous schedule",
			slog.String("error", err.Error()))
		return
	}
	if err := r.cfg.Supervisor.SwapSchedule(); err != nil {
		r.log.Error("schedule swap failed", slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	r.current = doc
	r.mu.Unlock()
	r.log.Info("schedule swapped", slog.String("date", doc.Date))
}

// maybePregenerate builds tomorrow's document once the lookahead window
// before midnight opens, so guides can publish the next day and the midnight
// swap needs no generation work.
func (r *Runner) maybePregenerate(ctx context.Context, now time.Time) {
	r.mu.Lock()
	have := r.next != nil
	r.mu.Unlock()
	if have {
		return
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
	if midnight.Sub(now) > r.cfg.Lookahead {
		return
	}

	doc, err := r.generate(ctx, midnight)
	if err != nil {
		r.log.Warn("next-day pre-generation failed, will retry at midnight",
			slog.String("error", err.Error()))
		return
	}
	r.mu.Lock()
	r.next = doc
	r.mu.Unlock()
	r.log.Info("next-day schedule ready", slog.String("date", doc.Date))
}

func (r *Runner) generate(ctx context.Context, date time.Time) (*schedule.Document, error) {
	doc, err := r.cfg.Generator.Generate(ctx, date)
	if err != nil {
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.IncScheduleErrors(r.cfg.Channel.ID)
		}
		return nil, err
	}
	if err := r.cfg.Store.Save(doc); err != nil {
		return nil, err
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.IncScheduleGenerations(r.cfg.Channel.ID)
		for _, b := range doc.Blocks {
			if b.Kind == schedule.BlockAds {
				r.cfg.Metrics.IncAdBreaksFilled(r.cfg.Channel.ID)
			}
		}
	}
	return doc, nil
}

func (r *Runner) setFailed() {
	r.mu.Lock()
	r.failed = true
	r.mu.Unlock()
}

// Guide returns the channel's publishable schedule documents.
func (r *Runner) Guide() guide.ChannelGuide {
	r.mu.Lock()
	defer r.mu.Unlock()
	var docs []*schedule.Document
	if r.current != nil {
		docs = append(docs, r.current)
	}
	if r.next != nil {
		docs = append(docs, r.next)
	}
	return guide.ChannelGuide{ID: r.cfg.Channel.ID, Name: r.cfg.Channel.Name, Documents: docs}
}

// Health reports the channel's current condition.
func (r *Runner) Health() Health {
	r.mu.Lock()
	failed := r.failed
	r.mu.Unlock()

	h := Health{ID: r.cfg.Channel.ID, Name: r.cfg.Channel.Name}
	if failed {
		h.State = stateFailed
		return h
	}
	h.State = string(r.cfg.Supervisor.Status())
	h.Healthy = r.cfg.Supervisor.Healthy()
	h.Restarts = r.cfg.Supervisor.Restarts()
	return h
}
