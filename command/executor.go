package command

import "os/exec"

// Executor creates the process for a built command. Tests substitute one
// that records the daemon binary and its arguments.
type Executor interface {
	Command(name string, args ...string) *exec.Cmd
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(name string, args ...string) *exec.Cmd

// Command calls f.
func (f ExecutorFunc) Command(name string, args ...string) *exec.Cmd {
	return f(name, args...)
}

// OSExecutor starts processes with os/exec.
var OSExecutor Executor = ExecutorFunc(exec.Command)
