package syncthing

import (
	"context"

	"github.com/grovetools/synctray/errors"
)

// EventSource serves event records newer than since.
// *Client is the production implementation.
type EventSource interface {
	Events(ctx context.Context, since int64, limit int) ([]Event, error)
}

// Stream is a resumable sequence of events read from an EventSource.
// It long-polls whenever its buffer runs dry and advances its cursor past
// every record it hands out, including malformed ones.
type Stream struct {
	src    EventSource
	cursor int64
	limit  int
	buf    []Event
}

// NewStream creates a stream resuming after cursor. A zero cursor accepts
// whatever the source returns first.
func NewStream(src EventSource, cursor int64, limit int) *Stream {
	return &Stream{src: src, cursor: cursor, limit: limit}
}

// Cursor returns the id of the last record handed out.
func (s *Stream) Cursor() int64 {
	return s.cursor
}

// Reset discards buffered records and resumes after cursor.
func (s *Stream) Reset(cursor int64) {
	s.cursor = cursor
	s.buf = nil
}

// Next returns the next event.
//
// Errors: a CONNECTION_ERROR or AUTH_ERROR from the source ends the current
// poll; CURSOR_INVALID means the feed no longer continues from the cursor;
// a PROTOCOL_ERROR is returned together with the offending record and the
// stream stays usable.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for len(s.buf) == 0 {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		events, err := s.src.Events(ctx, s.cursor, s.limit)
		if err != nil {
			return Event{}, err
		}
		// An empty response is only a heartbeat.
		if len(events) == 0 {
			continue
		}
		if err := s.validate(events); err != nil {
			return Event{}, err
		}
		s.buf = events
	}

	ev := s.buf[0]
	s.buf = s.buf[1:]
	if ev.ID > s.cursor {
		s.cursor = ev.ID
	}
	if ev.Err != nil {
		return ev, ev.Err
	}
	return ev, nil
}

// validate checks that a batch continues the feed: the first record must
// directly follow the cursor and ids must increase.
func (s *Stream) validate(events []Event) error {
	prev := s.cursor
	for i, ev := range events {
		if ev.ID == 0 && ev.Err != nil {
			continue
		}
		if ev.ID <= prev {
			return errors.CursorInvalid(s.cursor, ev.ID)
		}
		if i == 0 && s.cursor > 0 && ev.ID != s.cursor+1 {
			return errors.CursorInvalid(s.cursor, ev.ID)
		}
		prev = ev.ID
	}
	return nil
}
