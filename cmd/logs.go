package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/hpcloud/tail"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/grovetools/synctray/cli"
	"github.com/grovetools/synctray/logging"
)

// engineComponents are the loggers of synctrayd, in display order.
var engineComponents = []string{
	"synctrayd", "engine", "session", "syncthing", "reconciler",
	"notify", "gateway", "launcher", "configwatch",
}

// TailedLine is a line of log output from one component.
type TailedLine struct {
	Component string
	Line      string
}

// NewLogsCmd creates the `logs` command.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [component...]",
		Short: "Display the logs of synctrayd",
		Long: `Prints today's log files of synctrayd. Every component writes its own file
unless logging.file sends everything to one place.

Examples:
  # Follow all components
  synctray logs -f

  # The last 100 lines of the session and the REST client
  synctray logs --tail 100 session syncthing

  # JSON lines for scripts
  synctray logs --json`,
		ValidArgs: engineComponents,
		RunE:      runLogsE,
	}

	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().Int("tail", 50, "Number of lines to show from the end of each log (-1: all)")

	return cmd
}

func runLogsE(cmd *cobra.Command, args []string) error {
	logger := cli.GetLogger(cmd, "cli")
	opts := cli.GetOptions(cmd)
	follow, _ := cmd.Flags().GetBool("follow")
	tailLines, _ := cmd.Flags().GetInt("tail")

	var logCfg logging.Config
	if cfg, _, err := cli.LoadConfig(cmd); err == nil {
		_ = cfg.UnmarshalExtension("logging", &logCfg)
	}

	components := args
	if len(components) == 0 {
		components = engineComponents
	}
	files := logFiles(components, logCfg, time.Now())

	lineChan := make(chan TailedLine, 100)
	var wg sync.WaitGroup
	found := 0
	for _, f := range files {
		if _, err := os.Stat(f.path); err != nil && !follow {
			logger.WithField("log_file", f.path).Debugf("Skipping: %v", err)
			continue
		}
		found++
		logger.WithFields(logrus.Fields{
			"component": f.component,
			"log_file":  f.path,
		}).Debug("Tailing log file")

		wg.Add(1)
		go func(component, path string) {
			defer wg.Done()
			tailFile(cmd.Context(), component, path, lineChan, follow, tailLines)
		}(f.component, f.path)
	}
	if found == 0 {
		pretty(cmd).Info("No log files for today. Is synctrayd running?")
		return nil
	}

	go func() {
		wg.Wait()
		close(lineChan)
	}()

	out := cmd.OutOrStdout()
	for tailedLine := range lineChan {
		if opts.JSONOutput {
			printLogJSON(out, tailedLine)
		} else {
			printLogText(out, tailedLine)
		}
	}
	return nil
}

type logFile struct {
	component string
	path      string
}

// logFiles maps components to files. A shared file sink yields one entry.
func logFiles(components []string, logCfg logging.Config, now time.Time) []logFile {
	seen := make(map[string]bool)
	var files []logFile
	for _, c := range components {
		path := logging.FilePath(c, logCfg, now)
		if seen[path] {
			continue
		}
		seen[path] = true
		label := c
		if logCfg.File.Enabled && logCfg.File.Path != "" {
			label = ""
		}
		files = append(files, logFile{component: label, path: path})
	}
	return files
}

// tailFile sends the last tailLines lines of path, then new lines when following.
func tailFile(ctx context.Context, component, path string, lineChan chan<- TailedLine, follow bool, tailLines int) {
	if lines, err := lastLines(path, tailLines); err == nil {
		for _, line := range lines {
			lineChan <- TailedLine{Component: component, Line: line}
		}
	}
	if !follow {
		return
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return
	}
	defer t.Cleanup()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line.Err == nil && line.Text != "" {
				lineChan <- TailedLine{Component: component, Line: line.Text}
			}
		}
	}
}

// lastLines returns the last n non-empty lines of path; n < 0 returns all of them.
func lastLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if scanner.Text() == "" {
			continue
		}
		lines = append(lines, scanner.Text())
		if n >= 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, scanner.Err()
}

// printLogJSON prints a log line in JSON format, enriched with the component name.
func printLogJSON(w io.Writer, tailedLine TailedLine) {
	var logMap map[string]interface{}
	if err := json.Unmarshal([]byte(tailedLine.Line), &logMap); err != nil {
		fallback := map[string]interface{}{
			"component": tailedLine.Component,
			"raw_line":  tailedLine.Line,
		}
		jsonData, _ := json.Marshal(fallback)
		fmt.Fprintln(w, string(jsonData))
		return
	}

	if _, ok := logMap["component"]; !ok && tailedLine.Component != "" {
		logMap["component"] = tailedLine.Component
	}
	jsonData, _ := json.Marshal(logMap)
	fmt.Fprintln(w, string(jsonData))
}

// printLogText pretty-prints a log line for human consumption.
// Lines written by the text formatter are printed as they are.
func printLogText(w io.Writer, tailedLine TailedLine) {
	t := cli.DefaultTheme
	var logMap map[string]interface{}
	if err := json.Unmarshal([]byte(tailedLine.Line), &logMap); err != nil {
		if tailedLine.Component == "" {
			fmt.Fprintln(w, tailedLine.Line)
			return
		}
		fmt.Fprintf(w, "[%s] %s\n", t.Accent.Render(tailedLine.Component), tailedLine.Line)
		return
	}

	ts, _ := logMap["time"].(string)
	level, _ := logMap["level"].(string)
	msg, _ := logMap["msg"].(string)
	component, _ := logMap["component"].(string)
	if component == "" {
		component = tailedLine.Component
	}

	parsedTime, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		parsedTime, _ = time.Parse(time.RFC3339, ts)
	}

	var levelStyle lipgloss.Style
	switch strings.ToLower(level) {
	case "error", "fatal", "panic":
		levelStyle = t.Error
	case "warning":
		levelStyle = t.Warning
	case "info":
		levelStyle = t.Accent
	default:
		levelStyle = t.Muted
	}

	var keys []string
	for k := range logMap {
		if k != "time" && k != "level" && k != "msg" && k != "component" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s=%v", t.Muted.Render(k), logMap[k]))
	}

	fmt.Fprintf(w, "%s [%s] %s %s %s\n",
		parsedTime.Format("15:04:05"),
		t.Accent.Render(component),
		levelStyle.Render(strings.ToUpper(level)),
		msg,
		strings.Join(fields, " "),
	)
}
