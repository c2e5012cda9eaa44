package stream

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeScript writes an executable shell script acting as the transcoder.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-transcoder.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testOptions(t *testing.T, binary string) Options {
	t.Helper()
	dir := t.TempDir()
	playlist := filepath.Join(dir, "ch1.txt")
	require.NoError(t, os.WriteFile(playlist, []byte("ffconcat version 1.0\n"), 0o644))
	return Options{
		ChannelID:      "ch1",
		BinaryPath:     binary,
		PlaylistPath:   playlist,
		SegmentDir:     filepath.Join(dir, "stream", "ch1"),
		PollInterval:   10 * time.Millisecond,
		GracePeriod:    30 * time.Millisecond,
		StopTimeout:    time.Second,
		RestartBudget:  2,
		RestartWindow:  10 * time.Second,
		InitialBackoff: 10 * time.Millisecond,
	}
}

// pollUntil drives the supervisor's poll loop manually until cond holds.
func pollUntil(t *testing.T, s *Supervisor, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.poll()
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v (state %s)", timeout, s.Status())
}

func TestSupervisor_Start_requiresPlaylist(t *testing.T) {
	opts := testOptions(t, writeScript(t, "sleep 60"))
	opts.PlaylistPath = filepath.Join(t.TempDir(), "missing.txt")
	s := NewSupervisor(opts, testLogger())

	err := s.Start()
	assert.ErrorIs(t, err, ErrNoPlaylist)
	assert.Equal(t, StateStopped, s.Status())
}

func TestSupervisor_Start_binaryMissing(t *testing.T) {
	opts := testOptions(t, filepath.Join(t.TempDir(), "no-such-binary"))
	s := NewSupervisor(opts, testLogger())
	assert.Error(t, s.Start())
}

func TestSupervisor_runningAfterGrace(t *testing.T) {
	s := NewSupervisor(testOptions(t, writeScript(t, "sleep 60")), testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Equal(t, StateStarting, s.Status())
	pollUntil(t, s, time.Second, func() bool { return s.Status() == StateRunning })
	assert.True(t, s.Healthy())
}

func TestSupervisor_crashTriggersRestart(t *testing.T) {
	s := NewSupervisor(testOptions(t, writeScript(t, "exit 1")), testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	pollUntil(t, s, time.Second, func() bool { return s.Restarts() >= 1 })
	assert.GreaterOrEqual(t, s.Restarts(), 1, "restart counter increments after a crash")
}

func TestSupervisor_degradedAfterBudget_keepsRetrying(t *testing.T) {
	s := NewSupervisor(testOptions(t, writeScript(t, "exit 1")), testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	pollUntil(t, s, 2*time.Second, func() bool { return s.Status() == StateDegraded })

	// Degraded is a retrying state, not a terminal one.
	assert.NotEqual(t, StateStopped, s.Status())
	before := s.Restarts()
	pollUntil(t, s, 2*time.Second, func() bool { return s.Restarts() > before })
}

func TestSupervisor_recoveryClearsDegraded(t *testing.T) {
	// The script crashes while the marker file exists, then stays up.
	dir := t.TempDir()
	marker := filepath.Join(dir, "crash-marker")
	require.NoError(t, os.WriteFile(marker, nil, 0o644))
	script := writeScript(t, "test -e "+marker+" && exit 1\nsleep 60")

	s := NewSupervisor(testOptions(t, script), testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	pollUntil(t, s, 2*time.Second, func() bool { return s.Status() == StateDegraded })
	require.NoError(t, os.Remove(marker))
	pollUntil(t, s, 2*time.Second, func() bool { return s.Status() == StateRunning })
}

func TestSupervisor_SwapSchedule(t *testing.T) {
	s := NewSupervisor(testOptions(t, writeScript(t, "sleep 60")), testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	pollUntil(t, s, time.Second, func() bool { return s.Status() == StateRunning })
	old := s.handle

	require.NoError(t, s.SwapSchedule())

	// The old subprocess is confirmed terminated before the new one starts.
	assert.True(t, old.exited(), "old transcoder must be down before relaunch")
	assert.NotSame(t, old, s.handle, "handle is replaced, not mutated")
	assert.Equal(t, StateStarting, s.Status())
	pollUntil(t, s, time.Second, func() bool { return s.Status() == StateRunning })
}

// A shell wrapper defers SIGTERM until its foreground child exits, so
// signalling only the direct child would block Stop for the child's full
// runtime. Termination must reach the whole process group.
func TestSupervisor_Stop_terminatesProcessTree(t *testing.T) {
	opts := testOptions(t, writeScript(t, "sleep 60"))
	opts.StopTimeout = 5 * time.Second
	s := NewSupervisor(opts, testLogger())
	require.NoError(t, s.Start())
	pollUntil(t, s, time.Second, func() bool { return s.Status() == StateRunning })

	start := time.Now()
	s.Stop()
	assert.Less(t, time.Since(start), 2*time.Second,
		"group SIGTERM must stop the tree without waiting out the child")
	assert.Equal(t, StateStopped, s.Status())
}

// A descendant in its own session survives the group signals while holding
// the inherited output pipes; Wait must abandon pipe draining instead of
// blocking Stop until that orphan exits.
func TestSupervisor_Stop_boundedWhenOrphanHoldsPipes(t *testing.T) {
	opts := testOptions(t, writeScript(t, "setsid sleep 60 &\nsleep 60"))
	opts.StopTimeout = 100 * time.Millisecond
	s := NewSupervisor(opts, testLogger())
	require.NoError(t, s.Start())
	pollUntil(t, s, time.Second, func() bool { return s.Status() == StateRunning })

	start := time.Now()
	s.Stop()
	assert.Less(t, time.Since(start), 2*time.Second,
		"Stop must return within the bounded grace period")
	assert.Equal(t, StateStopped, s.Status())
}

func TestSupervisor_Stop_escalatesToKill(t *testing.T) {
	script := writeScript(t, "trap '' TERM\nwhile :; do sleep 1; done")
	opts := testOptions(t, script)
	opts.StopTimeout = 50 * time.Millisecond
	s := NewSupervisor(opts, testLogger())
	require.NoError(t, s.Start())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after SIGKILL escalation")
	}
	assert.Equal(t, StateStopped, s.Status())
}

func TestSupervisor_Run_stopsOnSignal(t *testing.T) {
	s := NewSupervisor(testOptions(t, writeScript(t, "sleep 60")), testLogger())
	require.NoError(t, s.Start())

	stop := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		s.Run(stop)
		close(finished)
	}()

	time.Sleep(100 * time.Millisecond)
	close(stop)
	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after stop")
	}
	assert.Equal(t, StateStopped, s.Status())
}

func TestSupervisor_Start_whileRunning(t *testing.T) {
	s := NewSupervisor(testOptions(t, writeScript(t, "sleep 60")), testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.ErrorIs(t, s.Start(), ErrAlreadyRunning)
}
