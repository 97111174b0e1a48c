package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.Success("Added profile %s", "laptop")
	c.Info("No log files for today")
	c.Warn("synctrayd is stopped")
	c.Field("Profiles", 2)
	c.Path("Socket", "/run/synctrayd.sock")
	c.Field("Generation", 12)

	assert.Equal(t, "✓ Added profile laptop\n"+
		"• No log files for today\n"+
		"! synctrayd is stopped\n"+
		"  Profiles: 2\n"+
		"  Socket:   /run/synctrayd.sock\n"+
		"  Generation: 12\n", buf.String())
}
