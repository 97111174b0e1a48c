package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"

	"github.com/grovetools/synctray/pkg/models"
)

// newTable creates a rounded table with styled headers.
func newTable(headers ...string) *ltable.Table {
	t := DefaultTheme
	return ltable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(t.Muted).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == ltable.HeaderRow {
				return t.Header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

func stateStyle(state models.ConnectionState) lipgloss.Style {
	t := DefaultTheme
	switch state {
	case models.StateConnected:
		return t.Success
	case models.StateConnecting, models.StateDegraded:
		return t.Warning
	case models.StateError:
		return t.Error
	default:
		return t.Muted
	}
}

// RenderStatus writes a summary of the snapshot.
func RenderStatus(w io.Writer, snap *models.Snapshot) {
	t := DefaultTheme
	s := snap.Session

	profile := s.ProfileID
	if profile == "" {
		profile = "(none)"
	}
	fmt.Fprintf(w, "%s %s  %s\n", t.Bold.Render("Profile:"), profile, stateStyle(s.State).Render(string(s.State)))
	if s.LastError != "" {
		fmt.Fprintf(w, "%s %s\n", t.Bold.Render("Last error:"), t.Error.Render(s.LastError))
	}
	if s.DaemonID != "" {
		fmt.Fprintf(w, "%s %s\n", t.Bold.Render("Daemon:"), s.DaemonID)
	}
	if snap.AggregatePaused {
		fmt.Fprintln(w, t.Warning.Render("Some devices or folders are paused"))
	}
	if snap.Launcher.Status != models.LauncherNotStarted {
		fmt.Fprintf(w, "%s %s\n", t.Bold.Render("Launcher:"), launcherSummary(snap.Launcher))
	}

	if len(snap.Devices) > 0 {
		fmt.Fprintf(w, "\n%s (%d/%d connected)\n", t.Header.Render("Devices"), snap.ConnectedDevices(), len(snap.Devices))
		table := newTable("NAME", "ID", "STATE", "ADDRESS")
		for _, d := range snap.SortedDevices() {
			state := t.Muted.Render("disconnected")
			switch {
			case d.Paused:
				state = t.Warning.Render("paused")
			case d.Connected:
				state = t.Success.Render("connected")
			}
			short := d.ShortID
			if short == "" {
				short = d.ID
			}
			table.Row(d.DisplayName(), short, state, d.Address)
		}
		fmt.Fprintln(w, table.Render())
	}

	if len(snap.Folders) > 0 {
		fmt.Fprintf(w, "\n%s\n", t.Header.Render("Folders"))
		table := newTable("LABEL", "ID", "STATE", "PATH")
		for _, f := range snap.SortedFolders() {
			table.Row(f.DisplayName(), f.ID, folderState(f), f.Path)
		}
		fmt.Fprintln(w, table.Render())
	}

	if downloads := snap.SortedDownloads(); len(downloads) > 0 {
		fmt.Fprintf(w, "\n%s\n", t.Header.Render("Downloading"))
		for _, d := range downloads {
			fmt.Fprintf(w, "  %s/%s %3.0f%%\n", d.FolderID, d.Path, d.Progress*100)
		}
	}

	if n := len(snap.PendingDevices) + len(snap.PendingFolders); n > 0 {
		fmt.Fprintf(w, "\n%s %d pending request(s); see 'synctray notifications list'\n", t.Warning.Render("!"), n)
	}

	if len(snap.RecentChanges) > 0 {
		fmt.Fprintf(w, "\n%s\n", t.Header.Render("Recent changes"))
		limit := len(snap.RecentChanges)
		if limit > 5 {
			limit = 5
		}
		for _, c := range snap.RecentChanges[:limit] {
			fmt.Fprintf(w, "  %s %-8s %s %s\n",
				t.Muted.Render(c.Time.Local().Format(time.Kitchen)), c.Action, c.FolderID, c.Path)
		}
	}
}

func folderState(f models.Folder) string {
	t := DefaultTheme
	switch {
	case !f.PathExists:
		return t.Error.Render("path missing")
	case f.Paused:
		return t.Warning.Render("paused")
	case f.ScanState == models.ScanError:
		return t.Error.Render("error")
	case f.ScanState == models.ScanIdle || f.ScanState == "":
		return t.Success.Render("up to date")
	default:
		return t.Accent.Render(string(f.ScanState))
	}
}

func launcherSummary(p models.LauncherProcess) string {
	t := DefaultTheme
	var b strings.Builder
	switch p.Status {
	case models.LauncherRunning, models.LauncherStarting:
		b.WriteString(t.Success.Render(string(p.Status)))
	case models.LauncherCrashed:
		b.WriteString(t.Error.Render(string(p.Status)))
	default:
		b.WriteString(t.Muted.Render(string(p.Status)))
	}
	if p.PID != 0 {
		fmt.Fprintf(&b, " (pid %d)", p.PID)
	}
	if p.ExitCode != nil {
		fmt.Fprintf(&b, " exit code %d", *p.ExitCode)
	}
	return b.String()
}

// RenderLauncher writes the launcher status.
func RenderLauncher(w io.Writer, info models.LauncherInfo) {
	t := DefaultTheme
	if !info.Enabled {
		fmt.Fprintln(w, t.Muted.Render("The launcher is not enabled."))
		return
	}
	fmt.Fprintf(w, "%s %s\n", t.Bold.Render("Status:"), launcherSummary(info.LauncherProcess))
	fmt.Fprintf(w, "%s %s\n", t.Bold.Render("Profile:"), info.Profile)
	if info.Launch > 0 {
		fmt.Fprintf(w, "%s %d\n", t.Bold.Render("Launches:"), info.Launch)
	}
	if !info.StartedAt.IsZero() {
		fmt.Fprintf(w, "%s %s\n", t.Bold.Render("Started:"), info.StartedAt.Local().Format(time.RFC3339))
	}
	if info.Error != "" {
		fmt.Fprintf(w, "%s %s\n", t.Bold.Render("Error:"), t.Error.Render(info.Error))
	}
	if info.LogFile != "" {
		fmt.Fprintf(w, "%s %s\n", t.Bold.Render("Log:"), info.LogFile)
	}
}

// RenderNotifications writes the feed, unseen entries marked.
func RenderNotifications(w io.Writer, list []models.Notification) {
	t := DefaultTheme
	if len(list) == 0 {
		fmt.Fprintln(w, t.Muted.Render("No notifications."))
		return
	}
	table := newTable("", "ID", "KIND", "MESSAGE", "TIME")
	for _, n := range list {
		mark := " "
		if !n.Seen {
			mark = t.Warning.Render("●")
		}
		table.Row(mark, shortID(n.ID), string(n.Kind), n.Text, n.Time.Local().Format(time.Stamp))
	}
	fmt.Fprintln(w, table.Render())
}

// shortID abbreviates notification ids; commands accept any unique prefix.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RenderProfiles writes the profile list, the selected profile marked.
func RenderProfiles(w io.Writer, profiles []models.ProfileInfo) {
	t := DefaultTheme
	if len(profiles) == 0 {
		fmt.Fprintln(w, t.Muted.Render("No profiles configured."))
		return
	}
	table := newTable("", "ID", "LABEL", "URL", "ENABLED")
	for _, p := range profiles {
		mark := " "
		if p.Selected {
			mark = t.Success.Render("*")
		}
		enabled := t.Success.Render("yes")
		if !p.Enabled {
			enabled = t.Muted.Render("no")
		}
		table.Row(mark, p.ID, p.Label, p.URL, enabled)
	}
	fmt.Fprintln(w, table.Render())
}
