package timeline

import (
	"time"

	"github.com/creativecareer/ccai/internal/chat"
)

// Entry is one row of the rendered thread: either a day separator or a
// message.
type Entry struct {
	Separator bool
	Day       time.Time
	Message   chat.Message
}

// WithDaySeparators inserts a separator before the first message of each
// calendar day, as seen in loc. The input is not modified.
func WithDaySeparators(msgs []chat.Message, loc *time.Location) []Entry {
	if loc == nil {
		loc = time.Local
	}
	out := make([]Entry, 0, len(msgs)+1)
	var prevY, prevD int
	var prevM time.Month
	for i, m := range msgs {
		ts := m.Timestamp.In(loc)
		y, mo, d := ts.Date()
		if i == 0 || y != prevY || mo != prevM || d != prevD {
			out = append(out, Entry{Separator: true, Day: time.Date(y, mo, d, 0, 0, 0, 0, loc)})
		}
		prevY, prevM, prevD = y, mo, d
		out = append(out, Entry{Message: m})
	}
	return out
}
