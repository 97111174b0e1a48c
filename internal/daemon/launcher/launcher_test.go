package launcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/pkg/models"
)

// TestHelperProcess is not a real test. It is the daemon the supervisor
// launches, selected by HELPER_MODE.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("HELPER_MODE") {
	case "serve":
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		fmt.Println("ready")
		<-sig
		fmt.Println("interrupted")
		os.Exit(0)
	case "crash":
		fmt.Println("ready")
		fmt.Fprintln(os.Stderr, "panic: database locked")
		os.Exit(3)
	case "stubborn":
		signal.Ignore(os.Interrupt)
		fmt.Println("ready")
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(2)
}

type recordingSink struct {
	mu      sync.Mutex
	updates []models.LauncherProcess
}

func (r *recordingSink) SetLauncher(p models.LauncherProcess) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, p)
	return true
}

func (r *recordingSink) count(status models.LauncherStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		if u.Status == status {
			n++
		}
	}
	return n
}

func helperOptions(t *testing.T, mode string) Options {
	t.Helper()
	return Options{
		Binary:      os.Args[0],
		Args:        []string{"-test.run=TestHelperProcess"},
		Env:         []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode},
		LogFile:     filepath.Join(t.TempDir(), "logs", "daemon.log"),
		StopTimeout: 5 * time.Second,
	}
}

func waitForLog(t *testing.T, path, text string) {
	t.Helper()
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(data), text)
	}, 10*time.Second, 20*time.Millisecond, "log never contained %q", text)
}

func TestStartRunStop(t *testing.T) {
	sink := &recordingSink{}
	opts := helperOptions(t, "serve")
	s := New(opts, nil, sink)

	assert.Equal(t, models.LauncherNotStarted, s.Status().Status)

	require.NoError(t, s.Start())
	st := s.Status()
	assert.Equal(t, models.LauncherStarting, st.Status)
	assert.Equal(t, uint64(1), st.Launch)
	assert.Greater(t, st.PID, 0)
	assert.False(t, st.StartedAt.IsZero())

	assert.True(t, s.MarkRunning())
	assert.False(t, s.MarkRunning(), "already running")
	assert.Equal(t, models.LauncherRunning, s.Status().Status)

	waitForLog(t, opts.LogFile, "ready")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	st = s.Status()
	assert.Equal(t, models.LauncherStopped, st.Status)
	assert.Zero(t, st.PID)
	require.NotNil(t, st.ExitCode)
	assert.Equal(t, 0, *st.ExitCode)
	assert.Empty(t, st.Error)
	assert.Equal(t, 1, sink.count(models.LauncherStopping))
	assert.Equal(t, 1, sink.count(models.LauncherStopped))
	assert.Zero(t, sink.count(models.LauncherCrashed))

	waitForLog(t, opts.LogFile, "interrupted")
}

func TestCrashPublishesOnce(t *testing.T) {
	sink := &recordingSink{}
	opts := helperOptions(t, "crash")
	s := New(opts, nil, sink)

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool {
		return s.Status().Status == models.LauncherCrashed
	}, 10*time.Second, 20*time.Millisecond)

	st := s.Status()
	require.NotNil(t, st.ExitCode)
	assert.Equal(t, 3, *st.ExitCode)
	assert.Contains(t, st.Error, string(errors.ErrCodeLauncher))
	assert.Equal(t, 1, sink.count(models.LauncherCrashed))

	data, err := os.ReadFile(opts.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "database locked", "stderr goes to the log file")

	// Crashed allows a new launch.
	require.NoError(t, s.Start())
	assert.Equal(t, uint64(2), s.Status().Launch)
	require.Eventually(t, func() bool {
		return s.Status().Status == models.LauncherCrashed
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2, sink.count(models.LauncherCrashed))
}

func TestStopKillsAfterTimeout(t *testing.T) {
	opts := helperOptions(t, "stubborn")
	opts.StopTimeout = 200 * time.Millisecond
	s := New(opts, nil, nil)

	require.NoError(t, s.Start())
	waitForLog(t, opts.LogFile, "ready")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, s.Stop(ctx))

	assert.GreaterOrEqual(t, time.Since(start), opts.StopTimeout)
	assert.Equal(t, models.LauncherStopped, s.Status().Status)
}

func TestInvalidTransitions(t *testing.T) {
	opts := helperOptions(t, "serve")
	s := New(opts, nil, nil)

	err := s.Stop(context.Background())
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidCommand))
	assert.False(t, s.MarkRunning())

	require.NoError(t, s.Start())
	err = s.Start()
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidCommand))

	waitForLog(t, opts.LogFile, "ready")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	err = s.Stop(ctx)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidCommand), "stopped launcher cannot be stopped again")
}

func TestSpawnFailure(t *testing.T) {
	sink := &recordingSink{}
	s := New(Options{
		Binary:  filepath.Join(t.TempDir(), "no-such-daemon"),
		LogFile: filepath.Join(t.TempDir(), "daemon.log"),
	}, nil, sink)

	err := s.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeLauncher))

	st := s.Status()
	assert.Equal(t, models.LauncherCrashed, st.Status)
	assert.Equal(t, uint64(1), st.Launch)
	assert.NotEmpty(t, st.Error)
	assert.Equal(t, 1, sink.count(models.LauncherCrashed))
}

func TestServeStopsDaemonOnShutdown(t *testing.T) {
	sink := &recordingSink{}
	opts := helperOptions(t, "serve")
	s := New(opts, nil, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	require.NoError(t, s.Start())
	waitForLog(t, opts.LogFile, "ready")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, models.LauncherStopped, s.Status().Status)
	assert.GreaterOrEqual(t, sink.count(models.LauncherNotStarted), 1, "initial status is published")
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour\n"), 0644))

	var buf bytes.Buffer
	require.NoError(t, Tail(path, 2, &buf))
	assert.Equal(t, "three\nfour\n", buf.String())

	buf.Reset()
	require.NoError(t, Tail(path, 0, &buf))
	assert.Equal(t, "one\ntwo\nthree\nfour\n", buf.String())

	err := Tail(filepath.Join(t.TempDir(), "missing.log"), 10, &buf)
	assert.True(t, errors.Is(err, errors.ErrCodeLauncher))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFollow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	require.NoError(t, os.WriteFile(path, []byte("old line\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- Follow(ctx, path, out) }()

	require.Eventually(t, func() bool {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return false
		}
		fmt.Fprintln(f, "new line")
		f.Close()
		return strings.Contains(out.String(), "new line")
	}, 10*time.Second, 200*time.Millisecond)
	assert.NotContains(t, out.String(), "old line")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not return")
	}
}
