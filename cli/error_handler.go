package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/grovetools/synctray/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
	out     io.Writer
}

// NewErrorHandler creates a new error handler writing to stderr.
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
		out:     os.Stderr,
	}
}

// WithWriter redirects the messages.
func (h *ErrorHandler) WithWriter(w io.Writer) *ErrorHandler {
	h.out = w
	return h
}

// Handle prints a message and hint suited to the error code, and returns err.
func (h *ErrorHandler) Handle(err error) error {
	t := DefaultTheme
	prefix := t.Error.Render("Error:")
	hint := func(format string, args ...interface{}) {
		fmt.Fprintln(h.out, t.Muted.Render(fmt.Sprintf(format, args...)))
	}

	se, _ := err.(*errors.SyncError)
	message := err.Error()
	if se != nil {
		message = se.Message
		if se.Cause != nil {
			message = fmt.Sprintf("%s: %v", se.Message, se.Cause)
		}
	}
	fmt.Fprintf(h.out, "%s %s\n", prefix, message)

	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		hint("Create one with 'synctray profiles add <id> --url <address>'.")
	case errors.ErrCodeConfigInvalid:
		hint("Check the file against 'synctray schema'.")
	case errors.ErrCodeConfig:
		hint("Run 'synctray profiles list' to see the configured profiles.")
	case errors.ErrCodeConnection:
		if se != nil && se.Details["socket"] != nil {
			hint("Is the engine running? Start it with 'synctray daemon start'.")
		} else {
			hint("Check that the daemon is reachable at the profile address.")
		}
	case errors.ErrCodeAuth:
		hint("Update the profile's api_key; it is shown in the daemon's GUI settings.")
	case errors.ErrCodeLauncher:
		hint("Inspect the daemon output with 'synctray launcher logs'.")
	}

	if h.Verbose && se != nil {
		fmt.Fprintf(h.out, "\nError details:\n%s\n", se.ToJSON())
	}
	return err
}
