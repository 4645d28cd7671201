// Package directory derives lookups from a document snapshot. Everything
// here is read-only; callers take a fresh snapshot per logical operation
// because the store has no change notification.
package directory

import (
	"strconv"
	"time"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/docstore"
)

func IsAdmin(doc *docstore.Document, username string) bool {
	for _, name := range doc.Admins {
		if name == username {
			return true
		}
	}
	return false
}

func IsProgrammer(doc *docstore.Document, username string) bool {
	for _, name := range doc.Programmers {
		if name == username {
			return true
		}
	}
	return false
}

// IsStaff reports whether the username holds either role. Programmers hold a
// superset of admin privileges; the few programmer-only commands check
// IsProgrammer directly.
func IsStaff(doc *docstore.Document, username string) bool {
	return IsAdmin(doc, username) || IsProgrammer(doc, username)
}

// MuteStatus is a muted user's reconstructed state. A nil Expiration means
// the mute never auto-expires: the sentinel, a missing value and a malformed
// timestamp all land there.
type MuteStatus struct {
	UserID     string
	Username   string
	FirstName  string
	Expiration *time.Time
	Reason     string
}

// MutedUsers filters users with the mute flag set, parsing each mute_end
// into a concrete deadline where possible.
func MutedUsers(doc *docstore.Document) map[string]MuteStatus {
	out := make(map[string]MuteStatus)
	for _, u := range doc.Users {
		if !u.Mute {
			continue
		}
		status := MuteStatus{
			UserID:    u.ID,
			Username:  u.Username,
			FirstName: u.FirstName,
		}
		if u.Reason != nil {
			status.Reason = *u.Reason
		}
		if u.MuteEnd != nil {
			if t, ok := docstore.ParseTime(*u.MuteEnd); ok {
				status.Expiration = &t
			}
		}
		out[u.ID] = status
	}
	return out
}

// IsMutedNow reports whether the user is muted with a deadline still in the
// future. Deadline-less mutes (sentinel or malformed) count as muted.
func IsMutedNow(doc *docstore.Document, userID string, now time.Time) bool {
	u := doc.FindUser(userID)
	if u == nil || !u.Mute {
		return false
	}
	if u.MuteEnd == nil {
		return true
	}
	t, ok := docstore.ParseTime(*u.MuteEnd)
	if !ok {
		return true
	}
	return t.After(now)
}

// UserForThread resolves the user owning a forum thread, "" when unmapped.
func UserForThread(doc *docstore.Document, threadID int64) string {
	return doc.UserTopics[strconv.FormatInt(threadID, 10)].String()
}

// ThreadForUser resolves a user's forum thread, 0 when unmapped.
func ThreadForUser(doc *docstore.Document, userID string) int64 {
	return doc.Topics[userID].Int64()
}
