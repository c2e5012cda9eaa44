package ads

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"lineartv/internal/platform/config"
)

// State is the persisted rotation bookkeeping for one channel: the round-robin
// cursor and the cumulative play count per ad. It is written back after every
// filled break so a crash loses at most the in-flight break's accounting.
type State struct {
	Cursor     int            `json:"cursor"`
	PlayCounts map[string]int `json:"play_counts"`
}

// Rotator selects ad sets for one channel's ad breaks. It is safe for
// concurrent use, though in practice only the channel's generator calls it.
type Rotator struct {
	mu        sync.Mutex
	policy    config.RotationPolicy
	inventory []Entry
	weights   map[string]float64
	state     State
	statePath string
	rng       *rand.Rand
	log       *slog.Logger
}

// NewRotator builds a Rotator over the given inventory. If statePath holds a
// previously persisted State it is restored so rotation continues fairly
// across restarts; a missing or corrupt file starts from scratch.
func NewRotator(policy config.RotationPolicy, inventory []Entry, weights map[string]float64, statePath string, log *slog.Logger) *Rotator {
	r := &Rotator{
		policy:    policy,
		inventory: inventory,
		weights:   weights,
		state:     State{PlayCounts: make(map[string]int)},
		statePath: statePath,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		log:       log,
	}
	r.restore()
	return r
}

// NextBreak returns the next n ads to play. Selection depends on the
// configured policy; round-robin advances a shared cursor so long-run play
// counts stay within one of each other. The updated state is persisted before
// returning. An empty inventory yields nil.
func (r *Rotator) NextBreak(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.inventory) == 0 || n <= 0 {
		return nil
	}

	selected := make([]Entry, 0, n)
	switch r.policy {
	case config.RotationWeighted:
		for i := 0; i < n; i++ {
			selected = append(selected, r.weightedPick())
		}
	case config.RotationRandom:
		for i := 0; i < n; i++ {
			selected = append(selected, r.inventory[r.rng.Intn(len(r.inventory))])
		}
	default: // round-robin
		for i := 0; i < n; i++ {
			selected = append(selected, r.inventory[r.state.Cursor%len(r.inventory)])
			r.state.Cursor = (r.state.Cursor + 1) % len(r.inventory)
		}
	}

	for _, e := range selected {
		r.state.PlayCounts[e.ID]++
	}
	if err := r.persist(); err != nil {
		r.log.Warn("rotation state not persisted", slog.String("error", err.Error()))
	}
	return selected
}

// PlayCounts returns a copy of the cumulative play counts.
func (r *Rotator) PlayCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.state.PlayCounts))
	for id, n := range r.state.PlayCounts {
		out[id] = n
	}
	return out
}

// InventorySize returns the number of known ads.
func (r *Rotator) InventorySize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inventory)
}

// weightedPick draws one entry with probability proportional to its configured
// weight; unconfigured entries weigh 1.
func (r *Rotator) weightedPick() Entry {
	total := 0.0
	for _, e := range r.inventory {
		total += r.weightOf(e.ID)
	}
	x := r.rng.Float64() * total
	for _, e := range r.inventory {
		x -= r.weightOf(e.ID)
		if x < 0 {
			return e
		}
	}
	return r.inventory[len(r.inventory)-1]
}

func (r *Rotator) weightOf(id string) float64 {
	if w, ok := r.weights[id]; ok && w > 0 {
		return w
	}
	return 1
}

func (r *Rotator) restore() {
	data, err := os.ReadFile(r.statePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.log.Warn("rotation state unreadable, starting fresh", slog.String("error", err.Error()))
		}
		return
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		r.log.Warn("rotation state corrupt, starting fresh", slog.String("error", err.Error()))
		return
	}
	if st.PlayCounts == nil {
		st.PlayCounts = make(map[string]int)
	}
	if len(r.inventory) > 0 {
		st.Cursor %= len(r.inventory)
	}
	r.state = st
}

func (r *Rotator) persist() error {
	data, err := json.MarshalIndent(r.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rotation state: %w", err)
	}
	if err := renameio.WriteFile(r.statePath, data, 0o644); err != nil {
		return fmt.Errorf("write rotation state: %w", err)
	}
	return nil
}
