package cli

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/pkg/models"
)

func TestWrapText(t *testing.T) {
	assert.Equal(t, "short", wrapText("short", 20))
	assert.Equal(t, "one two\nthree", wrapText("one two three", 8))
	assert.Equal(t, "keep\nbreaks", wrapText("keep\nbreaks", 80))
}

func TestSplitExamples(t *testing.T) {
	desc, ex := splitExamples("Does things.\n\nExamples:\n  tool run\n")
	assert.Equal(t, "Does things.", desc)
	assert.Equal(t, "tool run", ex)

	desc, ex = splitExamples("No examples here.")
	assert.Equal(t, "No examples here.", desc)
	assert.Empty(t, ex)
}

func TestRenderHelp(t *testing.T) {
	root := NewStandardCommand("synctray", "Tray engine")
	root.Long = "Follows a daemon.\n\nExamples:\n  # show the state\n  synctray status"
	sub := &cobra.Command{Use: "status", Short: "Show state", RunE: func(*cobra.Command, []string) error { return nil }}
	root.AddCommand(sub)

	var buf bytes.Buffer
	renderHelp(&buf, root, 80)
	out := buf.String()

	assert.Contains(t, out, "SYNCTRAY")
	assert.Contains(t, out, "Follows a daemon.")
	assert.Contains(t, out, "COMMANDS")
	assert.Contains(t, out, "status")
	assert.Contains(t, out, "Show state")
	assert.Contains(t, out, "-v, --verbose")
	assert.Contains(t, out, "    --socket")
	assert.Contains(t, out, "EXAMPLES")
	assert.Contains(t, out, "# show the state")
	assert.Contains(t, out, `Use "synctray [command] --help"`)
}

func TestGetOptions(t *testing.T) {
	cmd := NewStandardCommand("synctray", "")
	require.NoError(t, cmd.ParseFlags([]string{"-v", "--json", "--socket", "/tmp/s.sock", "-c", "cfg.toml"}))

	opts := GetOptions(cmd)
	assert.True(t, opts.Verbose)
	assert.True(t, opts.JSONOutput)
	assert.Equal(t, "/tmp/s.sock", opts.Socket)
	assert.Equal(t, "cfg.toml", opts.ConfigFile)
	assert.Equal(t, "/tmp/s.sock", SocketPath(cmd))
}

func TestErrorHandlerHints(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			name: "missing config",
			err:  errors.ConfigNotFound("/etc/synctray.toml"),
			want: []string{"Error:", "profiles add"},
		},
		{
			name: "engine not running",
			err: errors.New(errors.ErrCodeConnection, "synctrayd is not running").
				WithDetail("socket", "/run/synctrayd.sock"),
			want: []string{"synctrayd is not running", "daemon start"},
		},
		{
			name: "daemon unreachable",
			err:  errors.ConnectionFailed("http://127.0.0.1:8384", fmt.Errorf("connection refused")),
			want: []string{"connection refused", "reachable"},
		},
		{
			name: "auth",
			err:  errors.AuthRejected("http://127.0.0.1:8384", 403),
			want: []string{"api_key"},
		},
		{
			name: "plain error",
			err:  fmt.Errorf("boom"),
			want: []string{"Error: boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			got := NewErrorHandler(false).WithWriter(&buf).Handle(tt.err)
			assert.Equal(t, tt.err, got)
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
			assert.NotContains(t, buf.String(), "Error details")
		})
	}

	t.Run("verbose adds details", func(t *testing.T) {
		var buf bytes.Buffer
		NewErrorHandler(true).WithWriter(&buf).Handle(errors.InvalidCommand("pause_folder", "unknown folder"))
		assert.Contains(t, buf.String(), "Error details")
		assert.Contains(t, buf.String(), `"code": "INVALID_COMMAND"`)
	})
}

func TestExecuteReportsErrors(t *testing.T) {
	root := NewStandardCommand("synctray", "")
	root.AddCommand(&cobra.Command{
		Use: "fail",
		RunE: func(*cobra.Command, []string) error {
			return errors.ProfileNotDefined("ghost")
		},
	})
	var buf bytes.Buffer
	root.SetErr(&buf)
	root.SetOut(&buf)
	root.SetArgs([]string{"fail"})

	assert.Equal(t, 1, Execute(root))
	assert.Contains(t, buf.String(), "'ghost' is not defined")
	assert.Contains(t, buf.String(), "profiles list")

	root.SetArgs([]string{})
	assert.Equal(t, 0, Execute(root))
}

func TestRenderStatus(t *testing.T) {
	snap := models.NewSnapshot()
	snap.Session = models.SessionInfo{ProfileID: "home", State: models.StateConnected, DaemonID: "SELF"}
	snap.Devices["DEV-A"] = models.Device{ID: "DEV-A", ShortID: "DEVA", Name: "laptop", Connected: true}
	snap.Devices["DEV-B"] = models.Device{ID: "DEV-B", Name: "phone", Paused: true}
	snap.Folders["docs"] = models.Folder{ID: "docs", Label: "Documents", Path: "/home/me/docs", PathExists: true, ScanState: models.ScanIdle}
	snap.Folders["pics"] = models.Folder{ID: "pics", Path: "/gone", PathExists: false}
	snap.Downloads[models.DownloadKey("docs", "a.txt")] = models.DownloadItem{FolderID: "docs", Path: "a.txt", Progress: 0.5}
	snap.RecentChanges = []models.RecentChange{{FolderID: "docs", Action: "added", Path: "b.txt", Time: time.Now()}}
	snap.AggregatePaused = true

	var buf bytes.Buffer
	RenderStatus(&buf, snap)
	out := buf.String()

	assert.Contains(t, out, "home")
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "(1/2 connected)")
	assert.Contains(t, out, "laptop")
	assert.Contains(t, out, "paused")
	assert.Contains(t, out, "Documents")
	assert.Contains(t, out, "up to date")
	assert.Contains(t, out, "path missing")
	assert.Contains(t, out, "docs/a.txt  50%")
	assert.Contains(t, out, "b.txt")
	assert.NotContains(t, out, "Launcher:")
}

func TestRenderNotifications(t *testing.T) {
	var buf bytes.Buffer
	RenderNotifications(&buf, nil)
	assert.Contains(t, buf.String(), "No notifications.")

	buf.Reset()
	RenderNotifications(&buf, []models.Notification{
		{ID: "0123456789abcdef", Kind: models.KindDisconnected, Text: "laptop disconnected", Time: time.Now()},
		{ID: "fedcba", Kind: models.KindGeneric, Text: "seen already", Time: time.Now(), Seen: true},
	})
	out := buf.String()
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789")
	assert.Contains(t, out, "laptop disconnected")
	assert.Equal(t, 1, strings.Count(out, "●"))
}

func TestRenderProfiles(t *testing.T) {
	var buf bytes.Buffer
	RenderProfiles(&buf, []models.ProfileInfo{
		{Profile: models.Profile{ID: "home", URL: "http://127.0.0.1:8384", Enabled: true}, Selected: true},
		{Profile: models.Profile{ID: "nas", Label: "NAS", URL: "https://nas:8384"}},
	})
	out := buf.String()
	assert.Contains(t, out, "home")
	assert.Contains(t, out, "NAS")
	assert.Contains(t, out, "no")
}

func TestRenderLauncher(t *testing.T) {
	var buf bytes.Buffer
	RenderLauncher(&buf, models.LauncherInfo{})
	assert.Contains(t, buf.String(), "not enabled")

	code := 2
	buf.Reset()
	RenderLauncher(&buf, models.LauncherInfo{
		LauncherProcess: models.LauncherProcess{Status: models.LauncherCrashed, Launch: 3, ExitCode: &code},
		Enabled:         true,
		Profile:         "local",
		LogFile:         "/tmp/launcher.log",
	})
	out := buf.String()
	assert.Contains(t, out, "crashed")
	assert.Contains(t, out, "exit code 2")
	assert.Contains(t, out, "local")
	assert.Contains(t, out, "/tmp/launcher.log")
}
