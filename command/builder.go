package command

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

// SafeBuilder validates a command line before it is turned into an exec.Cmd.
// Commands are never run through a shell, but values still come from a
// config file and are rejected when they look like shell syntax.
type SafeBuilder struct {
	validators map[string]func(string) error
	executor   Executor
}

// NewSafeBuilder creates a new SafeBuilder instance with OSExecutor
func NewSafeBuilder() *SafeBuilder {
	return NewSafeBuilderWithExecutor(OSExecutor)
}

// NewSafeBuilderWithExecutor creates a new SafeBuilder with a custom Executor
func NewSafeBuilderWithExecutor(exec Executor) *SafeBuilder {
	if exec == nil {
		exec = OSExecutor
	}
	return &SafeBuilder{
		validators: makeDefaultValidators(),
		executor:   exec,
	}
}

func makeDefaultValidators() map[string]func(string) error {
	return map[string]func(string) error{
		"binary":   validateBinary,
		"argument": validateArgument,
		"env":      validateEnvEntry,
		"fileName": validateFileName,
	}
}

var envKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateBinary accepts a bare executable name or a path to one.
func validateBinary(name string) error {
	if name == "" {
		return fmt.Errorf("binary cannot be empty")
	}
	if strings.ContainsAny(name, ";|&$`<>\n") {
		return fmt.Errorf("invalid binary: %s", name)
	}
	return nil
}

// validateArgument rejects arguments that only make sense to a shell.
func validateArgument(arg string) error {
	if strings.ContainsAny(arg, "`\n") || strings.Contains(arg, "$(") {
		return fmt.Errorf("invalid argument: %q", arg)
	}
	return nil
}

// validateEnvEntry ensures KEY=VALUE form with a portable key.
func validateEnvEntry(entry string) error {
	key, _, ok := strings.Cut(entry, "=")
	if !ok {
		return fmt.Errorf("environment entry must be KEY=VALUE: %q", entry)
	}
	if !envKey.MatchString(key) {
		return fmt.Errorf("invalid environment variable name: %q", key)
	}
	return nil
}

// validateFileName ensures file paths are safe
func validateFileName(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	// Prevent command injection via shell metacharacters
	if strings.ContainsAny(path, ";|&$`") {
		return fmt.Errorf("file path contains invalid characters")
	}

	return nil
}

// Command represents a validated command line.
type Command struct {
	name     string
	args     []string
	env      []string
	executor Executor
}

// Build validates name and args and returns a Command.
func (sb *SafeBuilder) Build(name string, args ...string) (*Command, error) {
	if err := validateBinary(name); err != nil {
		return nil, err
	}
	for _, arg := range args {
		if err := validateArgument(arg); err != nil {
			return nil, err
		}
	}
	return &Command{
		name:     name,
		args:     append([]string(nil), args...),
		executor: sb.executor,
	}, nil
}

// WithEnv adds KEY=VALUE entries on top of the current environment.
func (c *Command) WithEnv(entries ...string) (*Command, error) {
	for _, e := range entries {
		if err := validateEnvEntry(e); err != nil {
			return nil, err
		}
	}
	c.env = append(c.env, entries...)
	return c, nil
}

// String renders the command line for logs.
func (c *Command) String() string {
	return strings.Join(append([]string{c.name}, c.args...), " ")
}

// Validate validates specific arguments
func (sb *SafeBuilder) Validate(argType string, value string) error {
	validator, exists := sb.validators[argType]
	if !exists {
		return fmt.Errorf("no validator for argument type: %s", argType)
	}

	return validator(value)
}

// Exec creates and returns an exec.Cmd. The process outlives any request,
// so it is not bound to a context; the caller stops it with signals.
func (c *Command) Exec() *exec.Cmd {
	cmd := c.executor.Command(c.name, c.args...) //nolint:gosec
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	return cmd
}
