package profiling

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilerNesting(t *testing.T) {
	p := &Profiler{}
	p.Start("ignored").Stop()

	p.enabled = true
	outer := p.Start("connect")
	p.Start("dial").Stop()
	outer.Stop()
	p.Start("render").Stop()

	var buf bytes.Buffer
	p.Summarize(&buf)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[1], "- connect"))
	assert.True(t, strings.HasPrefix(lines[2], "  - dial"))
	assert.True(t, strings.HasPrefix(lines[3], "- render"))
	assert.NotContains(t, buf.String(), "ignored")
}

func TestDisabledSummaryIsEmpty(t *testing.T) {
	var buf bytes.Buffer
	(&Profiler{}).Summarize(&buf)
	assert.Empty(t, buf.String())
}

func TestCobraProfilerFlags(t *testing.T) {
	root := &cobra.Command{Use: "synctray", RunE: func(*cobra.Command, []string) error { return nil }}
	NewCobraProfiler().Attach(root)

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"--timing"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "Timing Profile")
}
