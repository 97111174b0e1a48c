package models

// CommandKind names a control command.
type CommandKind string

const (
	CmdPauseAll     CommandKind = "pause_all"
	CmdResumeAll    CommandKind = "resume_all"
	CmdPauseDevice  CommandKind = "pause_device"
	CmdResumeDevice CommandKind = "resume_device"
	CmdPauseFolder  CommandKind = "pause_folder"
	CmdResumeFolder CommandKind = "resume_folder"
	CmdRescanAll    CommandKind = "rescan_all"
	CmdRescanFolder CommandKind = "rescan_folder"
	CmdRestart      CommandKind = "restart"
)

// CommandKinds lists every command in display order.
var CommandKinds = []CommandKind{
	CmdPauseAll, CmdResumeAll,
	CmdPauseDevice, CmdResumeDevice,
	CmdPauseFolder, CmdResumeFolder,
	CmdRescanAll, CmdRescanFolder,
	CmdRestart,
}

// NeedsTarget reports whether the command addresses a single device or folder.
func (k CommandKind) NeedsTarget() bool {
	switch k {
	case CmdPauseDevice, CmdResumeDevice, CmdPauseFolder, CmdResumeFolder, CmdRescanFolder:
		return true
	}
	return false
}

// Command is a control request submitted by a collaborator.
type Command struct {
	Kind   CommandKind `json:"kind"`
	Target string      `json:"target,omitempty"` // device or folder id
}

// CommandResult reports whether the daemon accepted a command.
type CommandResult struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}
