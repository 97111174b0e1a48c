package errors

import (
	"fmt"
	"os/exec"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *SyncError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *SyncError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// ProfileNotDefined creates the error for selecting a profile that is not
// configured (or no longer enabled).
func ProfileNotDefined(id string) *SyncError {
	return New(ErrCodeConfig,
		fmt.Sprintf("the specified connection configuration '%s' is not defined and hence ignored", id)).
		WithDetail("profile", id)
}

// ConnectionFailed creates a retryable transport error.
func ConnectionFailed(url string, err error) *SyncError {
	return Wrap(err, ErrCodeConnection, "unable to establish connection to the daemon").
		WithDetail("url", url)
}

// AuthRejected creates the non-retryable error for a rejected credential.
func AuthRejected(url string, status int) *SyncError {
	return New(ErrCodeAuth, fmt.Sprintf("daemon rejected the API key (status %d)", status)).
		WithDetail("url", url).
		WithDetail("status", status)
}

// MalformedEvent creates a protocol error for an event record that could not be decoded.
func MalformedEvent(eventType string, id int64, err error) *SyncError {
	return Wrap(err, ErrCodeProtocol, fmt.Sprintf("malformed %s event", eventType)).
		WithDetail("type", eventType).
		WithDetail("id", id)
}

// CursorInvalid creates the error for an event feed that no longer continues
// from the acknowledged cursor.
func CursorInvalid(cursor, firstID int64) *SyncError {
	return New(ErrCodeCursor, fmt.Sprintf("event feed does not continue from %d (next id %d)", cursor, firstID)).
		WithDetail("cursor", cursor).
		WithDetail("next", firstID)
}

// LocalPathMissing creates the warning raised for a folder path absent on disk.
func LocalPathMissing(folderID, path string) *SyncError {
	return New(ErrCodeLocalPath,
		fmt.Sprintf("the directory %s does not exist on the local machine", path)).
		WithDetail("folder", folderID).
		WithDetail("path", path)
}

// LauncherFailed creates a launcher error from a spawn failure or unexpected exit.
func LauncherFailed(binary string, err error) *SyncError {
	syncErr := Wrap(err, ErrCodeLauncher, fmt.Sprintf("launcher error: %s", binary)).
		WithDetail("binary", binary)

	// Extract exit code if available
	if exitErr, ok := err.(*exec.ExitError); ok {
		syncErr = syncErr.WithDetail("exitCode", exitErr.ExitCode())
	}

	return syncErr
}

// InvalidCommand creates an error for a control command that cannot be submitted.
func InvalidCommand(kind, reason string) *SyncError {
	return New(ErrCodeInvalidCommand, fmt.Sprintf("invalid command %s: %s", kind, reason)).
		WithDetail("command", kind)
}
