package channel

import (
	"context"
	"log/slog"
	"sync"

	"lineartv/internal/guide"
)

// Pool fans the channel runners out over goroutines and aggregates their
// state. Channels never share state; one runner's failure cannot reach
// another's stream.
type Pool struct {
	runners []*Runner
	log     *slog.Logger
}

// NewPool returns a Pool over the given runners.
func NewPool(runners []*Runner, log *slog.Logger) *Pool {
	return &Pool{runners: runners, log: log}
}

// Run starts every channel and blocks until all runners have returned, which
// happens after ctx is cancelled (or, for individual channels, on launch
// failure). Each runner stops its own subprocess on the way out.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range p.runners {
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}
	wg.Wait()
	p.log.Info("all channels stopped")
}

// Health returns the per-channel condition of every configured channel.
func (p *Pool) Health() []Health {
	out := make([]Health, 0, len(p.runners))
	for _, r := range p.runners {
		out = append(out, r.Health())
	}
	return out
}

// UpCount returns how many channels are currently healthy.
func (p *Pool) UpCount() int {
	n := 0
	for _, r := range p.runners {
		if r.Health().Healthy {
			n++
		}
	}
	return n
}

// Guides returns the publishable schedule state of every channel.
func (p *Pool) Guides() []guide.ChannelGuide {
	out := make([]guide.ChannelGuide, 0, len(p.runners))
	for _, r := range p.runners {
		out = append(out, r.Guide())
	}
	return out
}
