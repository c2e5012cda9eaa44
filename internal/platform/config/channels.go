package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RotationPolicy selects how ads are drawn from the inventory for a channel.
type RotationPolicy string

const (
	RotationRoundRobin RotationPolicy = "round-robin"
	RotationWeighted   RotationPolicy = "weighted"
	RotationRandom     RotationPolicy = "random"
)

// Default slot and rotation tunables applied during validation.
const (
	DefaultAdIntervalSeconds = 900
	DefaultAdsPerBreak       = 2
	DefaultAdDuration        = 30
)

// Slot is a time-of-day window [Start, End) mapping to a content category and
// an ad-break cadence. Start and End are offsets from the start of the day,
// derived from the "HH:MM-HH:MM" Time field during validation.
type Slot struct {
	Time       string `yaml:"time"`
	Category   string `yaml:"category"`
	AdInterval int    `yaml:"ad_interval"`

	Start time.Duration `yaml:"-"`
	End   time.Duration `yaml:"-"`
}

// Rotation configures ad selection for one channel.
type Rotation struct {
	Policy      RotationPolicy     `yaml:"policy"`
	AdsPerBreak int                `yaml:"ads_per_break"`
	Weights     map[string]float64 `yaml:"weights"`
}

// Channel describes one simulated linear channel. Immutable per run; changing
// a channel definition requires a process restart.
type Channel struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Slots    []Slot   `yaml:"slots"`
	Rotation Rotation `yaml:"rotation"`
}

// Catalog points at the media-library service.
type Catalog struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// Ads configures the ad inventory scan.
type Ads struct {
	Directory       string   `yaml:"directory"`
	Extensions      []string `yaml:"extensions"`
	DefaultDuration int      `yaml:"default_duration"`
}

// File is the parsed channel configuration document.
type File struct {
	Channels []Channel `yaml:"channels"`
	Catalog  Catalog   `yaml:"catalog"`
	Ads      Ads       `yaml:"ads"`
}

// LoadFile reads, parses, and validates the YAML channel configuration.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if len(f.Channels) == 0 {
		return fmt.Errorf("config must define at least one channel")
	}

	seen := make(map[string]bool, len(f.Channels))
	for i := range f.Channels {
		ch := &f.Channels[i]
		if ch.ID == "" || ch.Name == "" {
			return fmt.Errorf("channel %d: id and name are required", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("duplicate channel id %q", ch.ID)
		}
		seen[ch.ID] = true

		if len(ch.Slots) == 0 {
			return fmt.Errorf("channel %s: at least one slot is required", ch.ID)
		}
		for j := range ch.Slots {
			s := &ch.Slots[j]
			if s.Category == "" {
				return fmt.Errorf("channel %s slot %d: category is required", ch.ID, j)
			}
			start, end, err := ParseTimeRange(s.Time)
			if err != nil {
				return fmt.Errorf("channel %s slot %d: %w", ch.ID, j, err)
			}
			s.Start, s.End = start, end
			if s.AdInterval <= 0 {
				s.AdInterval = DefaultAdIntervalSeconds
			}
		}
		sort.Slice(ch.Slots, func(a, b int) bool { return ch.Slots[a].Start < ch.Slots[b].Start })
		for j := 1; j < len(ch.Slots); j++ {
			if ch.Slots[j].Start < ch.Slots[j-1].End {
				return fmt.Errorf("channel %s: slots %q and %q overlap",
					ch.ID, ch.Slots[j-1].Time, ch.Slots[j].Time)
			}
		}

		switch ch.Rotation.Policy {
		case RotationRoundRobin, RotationWeighted, RotationRandom:
		case "":
			ch.Rotation.Policy = RotationRoundRobin
		default:
			return fmt.Errorf("channel %s: unknown rotation policy %q", ch.ID, ch.Rotation.Policy)
		}
		if ch.Rotation.AdsPerBreak <= 0 {
			ch.Rotation.AdsPerBreak = DefaultAdsPerBreak
		}
	}

	if f.Ads.Directory == "" {
		f.Ads.Directory = "/ads"
	}
	if len(f.Ads.Extensions) == 0 {
		f.Ads.Extensions = []string{".mp4", ".mkv"}
	}
	if f.Ads.DefaultDuration <= 0 {
		f.Ads.DefaultDuration = DefaultAdDuration
	}
	return nil
}

// Gaps returns the uncovered intervals of the 24-hour day for a channel's
// slots, assuming the slots are sorted and non-overlapping (as validation
// guarantees). Gaps are tolerated: the schedule generator pads them with
// filler ad blocks.
func (ch *Channel) Gaps() []Slot {
	var gaps []Slot
	cursor := time.Duration(0)
	for _, s := range ch.Slots {
		if s.Start > cursor {
			gaps = append(gaps, Slot{Start: cursor, End: s.Start})
		}
		cursor = s.End
	}
	if cursor < 24*time.Hour {
		gaps = append(gaps, Slot{Start: cursor, End: 24 * time.Hour})
	}
	return gaps
}

// ParseTimeRange parses "HH:MM-HH:MM" into offsets from the start of the day.
// "24:00" is accepted as the end of the day.
func ParseTimeRange(s string) (start, end time.Duration, err error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time range %q", s)
	}
	start, err = parseClock(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time range %q: %w", s, err)
	}
	end, err = parseClock(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time range %q: %w", s, err)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("invalid time range %q: end must be after start", s)
	}
	return start, end, nil
}

func parseClock(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}
