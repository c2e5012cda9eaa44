// Package stream owns the lifecycle of the per-channel transcoder subprocess:
// launch, liveness polling, bounded restart on crash, and coordinated restart
// when a new schedule is swapped in.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ManifestName is the fixed manifest file name the transcoder writes into the
// channel's segment directory.
const ManifestName = "channel.m3u8"

// State is the supervisor's lifecycle state for one channel.
type State string

const (
	StateStopped    State = "stopped"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	// StateDegraded means the restart budget was exceeded within the rolling
	// window. The supervisor keeps retrying at the backoff ceiling rather
	// than giving up; transient resource exhaustion is expected to recover.
	StateDegraded State = "degraded"
)

// ErrNoPlaylist is returned by Start when the compiled playlist is absent.
var ErrNoPlaylist = errors.New("stream: compiled playlist does not exist")

// ErrAlreadyRunning is returned by Start when a subprocess is already up.
var ErrAlreadyRunning = errors.New("stream: transcoder already running")

// Options configures a Supervisor. Zero-valued tunables get defaults.
type Options struct {
	ChannelID      string
	BinaryPath     string // transcoder binary, e.g. "ffmpeg"
	PlaylistPath   string // deterministic concat file path
	SegmentDir     string // per-channel segment output directory
	SegmentSeconds int
	WindowSize     int

	PollInterval   time.Duration // liveness poll cadence
	GracePeriod    time.Duration // alive this long after launch counts as running
	StopTimeout    time.Duration // SIGTERM to SIGKILL escalation
	RestartBudget  int           // crashes tolerated within RestartWindow
	RestartWindow  time.Duration
	InitialBackoff time.Duration // first crash-restart delay

	// OnRestart is called after every crash-triggered relaunch, if set.
	OnRestart func()
}

func (o *Options) defaults() {
	if o.SegmentSeconds <= 0 {
		o.SegmentSeconds = 10
	}
	if o.WindowSize <= 0 {
		o.WindowSize = 6
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = 10 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 10 * time.Second
	}
	if o.RestartBudget <= 0 {
		o.RestartBudget = 5
	}
	if o.RestartWindow <= 0 {
		o.RestartWindow = 5 * time.Minute
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
}

// handle is one launched subprocess. Replaced wholesale on restart, never
// mutated.
type handle struct {
	cmd       *exec.Cmd
	playlist  string
	startedAt time.Time
	done      chan struct{}
	exitErr   error
}

func (h *handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Supervisor drives the transcoder subprocess for one channel. All state
// transitions are serialized by its mutex so a health-triggered restart and a
// schedule-swap restart can never double-launch.
type Supervisor struct {
	opts Options
	log  *slog.Logger

	mu            sync.Mutex
	state         State
	handle        *handle
	crashTimes    []time.Time
	restarts      int
	nextRestartAt time.Time
	backoff       *backoff.ExponentialBackOff
}

// NewSupervisor returns a stopped Supervisor for the given options.
func NewSupervisor(opts Options, log *slog.Logger) *Supervisor {
	opts.defaults()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.InitialBackoff
	bo.MaxInterval = opts.RestartWindow / 4
	if bo.MaxInterval < bo.InitialInterval {
		bo.MaxInterval = bo.InitialInterval
	}
	return &Supervisor{
		opts:    opts,
		log:     log,
		state:   StateStopped,
		backoff: bo,
	}
}

// Start launches the transcoder against the compiled playlist. The playlist
// must already exist. The state becomes Starting; the poll loop promotes it
// to Running once the process has stayed alive for the grace period.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil && !s.handle.exited() {
		return ErrAlreadyRunning
	}
	if _, err := os.Stat(s.opts.PlaylistPath); err != nil {
		return fmt.Errorf("%w: %s", ErrNoPlaylist, s.opts.PlaylistPath)
	}
	s.backoff.Reset()
	return s.launchLocked()
}

// Run polls process liveness until stop is closed, driving state transitions
// and crash recovery. It terminates the subprocess before returning.
func (s *Supervisor) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			s.Stop()
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

// SwapSchedule restarts the transcoder against the (freshly overwritten)
// playlist path: graceful terminate, confirm exit, relaunch. Viewers see a
// brief reconnect; that is the accepted cost of daily regeneration.
func (s *Supervisor) SwapSchedule() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.terminateLocked()
	s.backoff.Reset()
	s.crashTimes = nil
	return s.launchLocked()
}

// Stop terminates the subprocess and transitions to Stopped. Used at
// process-wide shutdown only.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminateLocked()
	s.state = StateStopped
}

// Status reports the externally visible state. While recovering with the
// restart budget exceeded it reports Degraded, never Stopped.
func (s *Supervisor) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRestarting && s.overBudgetLocked(time.Now()) {
		return StateDegraded
	}
	return s.state
}

// Healthy reports whether the channel's process is up or coming up.
func (s *Supervisor) Healthy() bool {
	st := s.Status()
	return st == StateRunning || st == StateStarting
}

// Restarts returns the number of crash-triggered relaunches so far.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// poll inspects the subprocess once and advances the state machine.
func (s *Supervisor) poll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	switch s.state {
	case StateStopped:
		return

	case StateStarting, StateRunning:
		h := s.handle
		if h == nil {
			return
		}
		if h.exited() {
			s.log.Warn("transcoder exited unexpectedly",
				slog.String("state", string(s.state)),
				slog.String("error", exitReason(h.exitErr)))
			s.handle = nil
			s.recordCrashLocked(now)
			return
		}
		if s.state == StateStarting && now.Sub(h.startedAt) >= s.opts.GracePeriod {
			s.state = StateRunning
			s.backoff.Reset()
			s.log.Info("transcoder confirmed running",
				slog.Int("pid", h.cmd.Process.Pid))
		}

	case StateRestarting, StateDegraded:
		if now.Before(s.nextRestartAt) {
			return
		}
		s.restarts++
		if s.opts.OnRestart != nil {
			s.opts.OnRestart()
		}
		if err := s.launchLocked(); err != nil {
			// Binary or playlist gone mid-flight; keep retrying on the
			// same cadence rather than killing the channel.
			s.log.Error("relaunch failed", slog.String("error", err.Error()))
			s.state = StateRestarting
			s.nextRestartAt = now.Add(s.backoff.NextBackOff())
		}
	}
}

// recordCrashLocked notes a crash and schedules the next relaunch with
// exponential backoff. Exceeding the restart budget within the rolling window
// flips the visible status to Degraded but never stops retrying.
func (s *Supervisor) recordCrashLocked(now time.Time) {
	s.crashTimes = append(s.crashTimes, now)
	s.pruneCrashesLocked(now)
	s.state = StateRestarting
	s.nextRestartAt = now.Add(s.backoff.NextBackOff())
	if s.overBudgetLocked(now) {
		s.log.Error("restart budget exceeded, channel degraded",
			slog.Int("crashes_in_window", len(s.crashTimes)),
			slog.Time("next_attempt", s.nextRestartAt))
	}
}

func (s *Supervisor) pruneCrashesLocked(now time.Time) {
	cutoff := now.Add(-s.opts.RestartWindow)
	kept := s.crashTimes[:0]
	for _, t := range s.crashTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.crashTimes = kept
}

func (s *Supervisor) overBudgetLocked(now time.Time) bool {
	s.pruneCrashesLocked(now)
	return len(s.crashTimes) >= s.opts.RestartBudget
}

// launchLocked starts a fresh subprocess and replaces the handle.
func (s *Supervisor) launchLocked() error {
	if err := os.MkdirAll(s.opts.SegmentDir, 0o755); err != nil {
		return fmt.Errorf("create segment dir: %w", err)
	}

	cmd := exec.Command(s.opts.BinaryPath, s.args()...)
	// Output is logged, never parsed: the only signals consumed are process
	// liveness and exit status.
	cmd.Stdout = &logWriter{log: s.log, level: slog.LevelDebug}
	cmd.Stderr = &logWriter{log: s.log, level: slog.LevelDebug}
	// Own process group, so termination reaches any children the transcoder
	// spawns. WaitDelay stops Wait from blocking on the inherited output
	// pipes if a descendant outlives the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = s.opts.StopTimeout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch transcoder: %w", err)
	}

	h := &handle{
		cmd:       cmd,
		playlist:  s.opts.PlaylistPath,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go func() {
		h.exitErr = cmd.Wait()
		close(h.done)
	}()

	s.handle = h
	s.state = StateStarting
	s.log.Info("transcoder launched",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("playlist", s.opts.PlaylistPath))
	return nil
}

// terminateLocked stops the current subprocess tree: SIGTERM to the process
// group, bounded wait, then SIGKILL to the group. Every branch is bounded by
// StopTimeout so callers holding the supervisor mutex cannot wedge on a
// subprocess that refuses to die.
func (s *Supervisor) terminateLocked() {
	h := s.handle
	s.handle = nil
	if h == nil || h.exited() {
		return
	}

	pid := h.cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-h.done:
		return
	case <-time.After(s.opts.StopTimeout):
		s.log.Warn("transcoder ignored SIGTERM, killing process group",
			slog.Int("pid", pid))
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}

	select {
	case <-h.done:
	case <-time.After(s.opts.StopTimeout):
		// WaitDelay should have released Wait by now; log and move on
		// rather than blocking the caller.
		s.log.Error("transcoder did not reap after SIGKILL",
			slog.Int("pid", pid))
	}
}

// args builds the fixed transcoder argument template: real-time pacing,
// stream copy, segmented output with a rolling window and deletion of
// expired segments.
func (s *Supervisor) args() []string {
	return []string{
		"-re",
		"-f", "concat",
		"-safe", "0",
		"-i", s.opts.PlaylistPath,
		"-c", "copy",
		"-f", "hls",
		"-hls_time", strconv.Itoa(s.opts.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(s.opts.WindowSize),
		"-hls_flags", "delete_segments+append_list",
		"-hls_segment_filename", filepath.Join(s.opts.SegmentDir, "segment_%05d.ts"),
		filepath.Join(s.opts.SegmentDir, ManifestName),
	}
}

func exitReason(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

// logWriter forwards subprocess output lines to the structured logger.
type logWriter struct {
	log   *slog.Logger
	level slog.Level
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range splitLines(p) {
		w.log.Log(context.Background(), w.level, "transcoder output", slog.String("line", line))
	}
	return len(p), nil
}

func splitLines(p []byte) []string {
	var out []string
	start := 0
	for i, b := range p {
		if b == '\n' {
			if i > start {
				out = append(out, string(p[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(p) {
		out = append(out, string(p[start:]))
	}
	return out
}
