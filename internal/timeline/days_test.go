package timeline

import (
	"testing"
	"time"

	"github.com/creativecareer/ccai/internal/chat"
)

func TestWithDaySeparators(t *testing.T) {
	day1 := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)
	msgs := []chat.Message{
		persisted("a", day1),
		persisted("b", day1.Add(20*time.Minute)),
		persisted("c", day1.Add(40*time.Minute)),
		persisted("d", day1.Add(49*time.Hour)),
	}

	entries := WithDaySeparators(msgs, time.UTC)

	var got []string
	for _, e := range entries {
		if e.Separator {
			got = append(got, e.Day.Format("2006-01-02"))
		} else {
			got = append(got, e.Message.Content)
		}
	}
	want := []string{"2024-05-01", "msg a", "msg b", "2024-05-02", "msg c", "2024-05-04", "msg d"}
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entries[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWithDaySeparatorsUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	msgs := []chat.Message{
		persisted("a", time.Date(2024, 5, 1, 21, 0, 0, 0, time.UTC)),
		persisted("b", time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)),
	}

	if n := len(WithDaySeparators(msgs, time.UTC)); n != 3 {
		t.Errorf("UTC entries = %d, want 3", n)
	}
	if n := len(WithDaySeparators(msgs, loc)); n != 4 {
		t.Errorf("UTC+2 entries = %d, want 4", n)
	}
}

func TestWithDaySeparatorsEmpty(t *testing.T) {
	if got := WithDaySeparators(nil, nil); len(got) != 0 {
		t.Errorf("entries = %v, want none", got)
	}
}
