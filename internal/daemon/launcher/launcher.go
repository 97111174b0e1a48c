// Package launcher supervises a locally launched daemon process.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/synctray/command"
	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/internal/daemon/metrics"
	"github.com/grovetools/synctray/logging"
	"github.com/grovetools/synctray/pkg/models"
	"github.com/grovetools/synctray/pkg/process"
)

const DefaultStopTimeout = 10 * time.Second

// Options describes the process to launch.
type Options struct {
	Binary      string
	Args        []string
	Env         []string
	LogFile     string
	StopTimeout time.Duration
}

// StatusSink receives every status change.
type StatusSink interface {
	SetLauncher(proc models.LauncherProcess) bool
}

// Supervisor owns the child process. Nothing else signals or waits on it.
//
//	NotStarted|Stopped|Crashed --Start--> Starting --MarkRunning--> Running
//	Starting|Running --Stop--> Stopping --exit--> Stopped
//	Starting|Running --exit--> Crashed
type Supervisor struct {
	builder *command.SafeBuilder
	sink    StatusSink
	logger  *logrus.Entry
	now     func() time.Time

	mu       sync.Mutex
	opts     Options
	proc     models.LauncherProcess
	cmd      *exec.Cmd
	stopping bool
	exited   chan struct{}
}

// New creates a Supervisor. exec may be nil for the real executor.
func New(opts Options, exec command.Executor, sink StatusSink) *Supervisor {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	return &Supervisor{
		builder: command.NewSafeBuilderWithExecutor(exec),
		sink:    sink,
		logger:  logging.NewLogger("launcher"),
		now:     time.Now,
		opts:    opts,
		proc:    models.LauncherProcess{Status: models.LauncherNotStarted},
	}
}

// Configure replaces the launch options used by the next Start.
func (s *Supervisor) Configure(opts Options) {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
}

// Status returns the current process view.
func (s *Supervisor) Status() models.LauncherProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// LogFile returns the file receiving the child's output.
func (s *Supervisor) LogFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.LogFile
}

func (s *Supervisor) snapshotLocked() models.LauncherProcess {
	p := s.proc
	if p.ExitCode != nil {
		code := *p.ExitCode
		p.ExitCode = &code
	}
	return p
}

func (s *Supervisor) publishLocked() {
	if s.sink != nil {
		s.sink.SetLauncher(s.snapshotLocked())
	}
	metrics.SetLauncherStatus(s.proc.Status)
}

// Start launches the daemon. A failed spawn moves the supervisor to Crashed
// and returns a LauncherError.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.proc.Status {
	case models.LauncherNotStarted, models.LauncherStopped, models.LauncherCrashed:
	default:
		return errors.InvalidCommand("launcher start", fmt.Sprintf("launcher is %s", s.proc.Status))
	}

	s.proc = models.LauncherProcess{
		Launch:    s.proc.Launch + 1,
		Status:    models.LauncherStarting,
		StartedAt: s.now(),
	}
	s.stopping = false

	cmd, logFile, err := s.buildLocked()
	if err == nil {
		err = cmd.Start()
		if err != nil && logFile != nil {
			logFile.Close()
		}
	}
	if err != nil {
		lerr := errors.LauncherFailed(s.opts.Binary, err)
		s.proc.Status = models.LauncherCrashed
		s.proc.Error = lerr.Error()
		metrics.RecordLauncherCrash()
		s.publishLocked()
		s.logger.WithError(err).WithField("binary", s.opts.Binary).Error("Failed to launch daemon")
		return lerr
	}

	s.cmd = cmd
	s.proc.PID = cmd.Process.Pid
	s.exited = make(chan struct{})
	s.publishLocked()
	s.logger.WithFields(logrus.Fields{
		"pid":    s.proc.PID,
		"launch": s.proc.Launch,
		"binary": s.opts.Binary,
	}).Info("Launched daemon")

	go s.wait(cmd, logFile, s.proc.Launch, s.exited)
	return nil
}

func (s *Supervisor) buildLocked() (*exec.Cmd, *os.File, error) {
	c, err := s.builder.Build(s.opts.Binary, s.opts.Args...)
	if err != nil {
		return nil, nil, err
	}
	if c, err = c.WithEnv(s.opts.Env...); err != nil {
		return nil, nil, err
	}
	cmd := c.Exec()

	var logFile *os.File
	if s.opts.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(s.opts.LogFile), 0755); err != nil {
			return nil, nil, err
		}
		logFile, err = os.OpenFile(s.opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, err
		}
		fmt.Fprintf(logFile, "--- %s launch: %s\n", s.now().Format(time.RFC3339), c.String())
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}
	return cmd, logFile, nil
}

// wait observes the exit of one launch.
func (s *Supervisor) wait(cmd *exec.Cmd, logFile *os.File, launch uint64, exited chan struct{}) {
	err := cmd.Wait()
	if logFile != nil {
		logFile.Close()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(exited)

	if s.proc.Launch != launch {
		return
	}

	code := cmd.ProcessState.ExitCode()
	s.proc.ExitCode = &code
	s.proc.PID = 0
	s.cmd = nil

	logger := s.logger.WithFields(logrus.Fields{"launch": launch, "exit_code": code})
	if s.stopping {
		s.proc.Status = models.LauncherStopped
		logger.Info("Daemon stopped")
	} else {
		s.proc.Status = models.LauncherCrashed
		cause := err
		if cause == nil {
			cause = fmt.Errorf("exited with code %d", code)
		}
		s.proc.Error = errors.LauncherFailed(s.opts.Binary, cause).Error()
		metrics.RecordLauncherCrash()
		logger.WithError(err).Error("Daemon exited unexpectedly")
	}
	s.publishLocked()
}

// MarkRunning records the first contact with the launched daemon.
func (s *Supervisor) MarkRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc.Status != models.LauncherStarting {
		return false
	}
	s.proc.Status = models.LauncherRunning
	s.publishLocked()
	return true
}

// Stop interrupts the daemon and kills it when it has not exited after the
// stop timeout. It returns once the exit was observed or ctx is done.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.proc.Status {
	case models.LauncherStarting, models.LauncherRunning:
	case models.LauncherStopping:
		exited := s.exited
		s.mu.Unlock()
		return waitExit(ctx, exited)
	default:
		status := s.proc.Status
		s.mu.Unlock()
		return errors.InvalidCommand("launcher stop", fmt.Sprintf("launcher is %s", status))
	}

	s.stopping = true
	s.proc.Status = models.LauncherStopping
	s.publishLocked()
	proc := s.cmd.Process
	exited := s.exited
	timeout := s.opts.StopTimeout
	launch := s.proc.Launch
	s.mu.Unlock()

	s.logger.WithField("pid", proc.Pid).Info("Stopping daemon")
	if err := process.Interrupt(proc); err != nil {
		s.logger.WithError(err).Warn("Interrupt failed, killing daemon")
		_ = process.Kill(proc)
	}

	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-exited:
		case <-timer.C:
			s.logger.WithFields(logrus.Fields{"launch": launch, "timeout": timeout.String()}).
				Warn("Daemon ignored interrupt, killing")
			_ = process.Kill(proc)
		}
	}()

	return waitExit(ctx, exited)
}

func waitExit(ctx context.Context, exited chan struct{}) error {
	if exited == nil {
		return nil
	}
	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve implements suture.Service: it publishes the initial status, and
// stops a running daemon when the engine shuts down.
func (s *Supervisor) Serve(ctx context.Context) error {
	s.mu.Lock()
	s.publishLocked()
	s.mu.Unlock()

	<-ctx.Done()

	if s.Status().Status.Active() {
		stopCtx, cancel := context.WithTimeout(context.Background(), s.stopTimeout()+time.Second)
		defer cancel()
		if err := s.Stop(stopCtx); err != nil && !errors.Is(err, errors.ErrCodeInvalidCommand) {
			s.logger.WithError(err).Warn("Daemon did not stop cleanly")
		}
	}
	return ctx.Err()
}

func (s *Supervisor) stopTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.StopTimeout
}

func (s *Supervisor) String() string {
	return "launcher"
}
