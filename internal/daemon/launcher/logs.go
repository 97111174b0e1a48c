package launcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"

	"github.com/hpcloud/tail"

	"github.com/grovetools/synctray/errors"
)

// Tail writes the last n lines of the launcher log to w. n <= 0 writes everything.
func Tail(path string, n int, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New(errors.ErrCodeLauncher, fmt.Sprintf("no launcher log at %s", path)).
				WithDetail("path", path)
		}
		return err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// Follow streams the launcher log to w until ctx is done, surviving the file
// being recreated by the next launch.
func Follow(ctx context.Context, path string, w io.Writer) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeLauncher, "failed to follow launcher log").
			WithDetail("path", path)
	}
	defer t.Cleanup()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				continue
			}
			if _, err := fmt.Fprintln(w, line.Text); err != nil {
				return err
			}
		}
	}
}
