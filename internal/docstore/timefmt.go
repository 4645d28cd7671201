package docstore

import (
	"strings"
	"sync"
	"time"
)

// TimeLayout is the fixed human-readable timestamp format used for join
// dates, mute deadlines and ban dates throughout the document.
const TimeLayout = "15:04; 02/01/2006"

var (
	locationOnce sync.Once
	location     *time.Location
)

// Location returns the bot's operating timezone. Falls back to the local
// zone when tzdata is unavailable.
func Location() *time.Location {
	locationOnce.Do(func() {
		loc, err := time.LoadLocation("Europe/Kyiv")
		if err != nil {
			loc = time.Local
		}
		location = loc
	})
	return location
}

func FormatTime(t time.Time) string {
	return t.In(Location()).Format(TimeLayout)
}

// ParseTime parses a document timestamp. The sentinel, empty strings and
// malformed values return the zero time with ok=false; callers treat those
// as "no deadline".
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == MuteForever {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(TimeLayout, s, Location())
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
