package docstore

import "strconv"

// MuteForever is the mute_end sentinel stored for banned users. A banned user
// always carries mute=true with this sentinel so the mute flag and the ban set
// never disagree.
const MuteForever = "forever"

// sentMessageCap bounds the relayed-message ledger. The source of truth for
// reply attribution is the newest entries; once the cap is exceeded the oldest
// message ids are dropped.
const sentMessageCap = 5000

type User struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	FirstName string  `json:"first_name"`
	JoinDate  string  `json:"join_date"`
	Rating    float64 `json:"rating"`
	Mute      bool    `json:"mute"`
	MuteEnd   *string `json:"mute_end"`
	Reason    *string `json:"reason"`
}

type BanEntry struct {
	Reason string `json:"reason"`
	Date   string `json:"date"`
}

// MuteEntry mirrors the mute fields of the user record. It is a derived
// index; every write that touches one representation must touch both.
type MuteEntry struct {
	Expiration *string `json:"expiration"`
	Reason     string  `json:"reason"`
}

type Document struct {
	Users           []User               `json:"users"`
	MutedUsers      map[string]MuteEntry `json:"muted_users"`
	BannedUsers     map[string]BanEntry  `json:"banned_users"`
	Admins          []string             `json:"admins"`
	Programmers     []string             `json:"programmers"`
	BotToken        string               `json:"bot_token"`
	OwnerID         FlexString           `json:"owner_id"`
	ChatID          FlexString           `json:"chat_id"`
	CaveChatID      FlexString           `json:"cave_chat_id"`
	AllUsersTopicID FlexInt64            `json:"allusers_tem_id"`
	TotalScore      float64              `json:"total_score"`
	NumOfRatings    int                  `json:"num_of_ratings"`
	// SentMessages maps relayed message id -> originating user id.
	SentMessages map[string]FlexString `json:"sent_messages"`
	// Topics maps user id -> forum thread id; UserTopics is its inverse.
	Topics     map[string]FlexInt64  `json:"topics"`
	UserTopics map[string]FlexString `json:"user_topics"`
}

// Defaults returns an empty document with every top-level key present.
func Defaults() Document {
	return Document{
		Users:        []User{},
		MutedUsers:   map[string]MuteEntry{},
		BannedUsers:  map[string]BanEntry{},
		Admins:       []string{},
		Programmers:  []string{},
		SentMessages: map[string]FlexString{},
		Topics:       map[string]FlexInt64{},
		UserTopics:   map[string]FlexString{},
	}
}

// Normalize backfills top-level keys that older document files may be
// missing, so a document written by any prior schema round-trips cleanly.
func (d *Document) Normalize() {
	if d.Users == nil {
		d.Users = []User{}
	}
	if d.MutedUsers == nil {
		d.MutedUsers = map[string]MuteEntry{}
	}
	if d.BannedUsers == nil {
		d.BannedUsers = map[string]BanEntry{}
	}
	if d.Admins == nil {
		d.Admins = []string{}
	}
	if d.Programmers == nil {
		d.Programmers = []string{}
	}
	if d.SentMessages == nil {
		d.SentMessages = map[string]FlexString{}
	}
	if d.Topics == nil {
		d.Topics = map[string]FlexInt64{}
	}
	if d.UserTopics == nil {
		d.UserTopics = map[string]FlexString{}
	}
}

// Clone returns a deep copy safe to hand to readers.
func (d Document) Clone() Document {
	out := d
	out.Users = make([]User, len(d.Users))
	for i, u := range d.Users {
		cu := u
		if u.MuteEnd != nil {
			v := *u.MuteEnd
			cu.MuteEnd = &v
		}
		if u.Reason != nil {
			v := *u.Reason
			cu.Reason = &v
		}
		out.Users[i] = cu
	}
	out.MutedUsers = make(map[string]MuteEntry, len(d.MutedUsers))
	for k, v := range d.MutedUsers {
		cv := v
		if v.Expiration != nil {
			e := *v.Expiration
			cv.Expiration = &e
		}
		out.MutedUsers[k] = cv
	}
	out.BannedUsers = make(map[string]BanEntry, len(d.BannedUsers))
	for k, v := range d.BannedUsers {
		out.BannedUsers[k] = v
	}
	out.Admins = append([]string{}, d.Admins...)
	out.Programmers = append([]string{}, d.Programmers...)
	out.SentMessages = make(map[string]FlexString, len(d.SentMessages))
	for k, v := range d.SentMessages {
		out.SentMessages[k] = v
	}
	out.Topics = make(map[string]FlexInt64, len(d.Topics))
	for k, v := range d.Topics {
		out.Topics[k] = v
	}
	out.UserTopics = make(map[string]FlexString, len(d.UserTopics))
	for k, v := range d.UserTopics {
		out.UserTopics[k] = v
	}
	return out
}

// FindUser returns a pointer into Users, or nil when the id is unknown.
func (d *Document) FindUser(userID string) *User {
	for i := range d.Users {
		if d.Users[i].ID == userID {
			return &d.Users[i]
		}
	}
	return nil
}

// EnsureUser returns the existing record for userID or appends a fresh one.
func (d *Document) EnsureUser(userID, username, firstName, joinDate string) *User {
	if u := d.FindUser(userID); u != nil {
		return u
	}
	d.Users = append(d.Users, User{
		ID:        userID,
		Username:  username,
		FirstName: firstName,
		JoinDate:  joinDate,
	})
	return &d.Users[len(d.Users)-1]
}

func (d *Document) IsBanned(userID string) bool {
	_, ok := d.BannedUsers[userID]
	return ok
}

// SetMuted flips the user to muted and writes the derived muted index in the
// same step, preserving the dual-representation invariant.
func (d *Document) SetMuted(userID, muteEnd, reason string) {
	u := d.FindUser(userID)
	if u == nil {
		return
	}
	end := muteEnd
	rsn := reason
	u.Mute = true
	u.MuteEnd = &end
	u.Reason = &rsn
	d.MutedUsers[userID] = MuteEntry{Expiration: &end, Reason: reason}
}

// ClearMuted flips the user back to active and drops the derived entry.
func (d *Document) ClearMuted(userID string) {
	if u := d.FindUser(userID); u != nil {
		u.Mute = false
		u.MuteEnd = nil
		u.Reason = nil
	}
	delete(d.MutedUsers, userID)
}

// SetBanned records the ban and forces the mute representation to the
// forever sentinel: banned implies muted.
func (d *Document) SetBanned(userID, reason, date string) {
	d.BannedUsers[userID] = BanEntry{Reason: reason, Date: date}
	d.SetMuted(userID, MuteForever, "banned: "+reason)
}

// ClearBanned lifts the ban and any mute remnants it left behind.
func (d *Document) ClearBanned(userID string) {
	delete(d.BannedUsers, userID)
	d.ClearMuted(userID)
}

// RecordSentMessage adds a ledger entry and prunes the ledger to its cap.
// Message ids are monotonically increasing per chat, so the numerically
// smallest keys are the oldest and go first.
func (d *Document) RecordSentMessage(messageID, userID string) {
	d.SentMessages[messageID] = FlexString(userID)
	if len(d.SentMessages) <= sentMessageCap {
		return
	}
	type entry struct {
		key string
		num int64
	}
	numeric := make([]entry, 0, len(d.SentMessages))
	for k := range d.SentMessages {
		n, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		numeric = append(numeric, entry{key: k, num: n})
	}
	excess := len(d.SentMessages) - sentMessageCap
	for i := 0; i < excess && len(numeric) > 0; i++ {
		oldest := 0
		for j := range numeric {
			if numeric[j].num < numeric[oldest].num {
				oldest = j
			}
		}
		delete(d.SentMessages, numeric[oldest].key)
		numeric = append(numeric[:oldest], numeric[oldest+1:]...)
	}
}

// ApplyRating sets the user's rating and keeps the aggregate transactional:
// the previous contribution is subtracted, the new one added, and the counter
// only moves on a user's first rating. Returns true on a first rating.
func (d *Document) ApplyRating(userID, username, firstName, joinDate string, rating float64) bool {
	u := d.EnsureUser(userID, username, firstName, joinDate)
	previous := u.Rating
	u.Rating = rating
	if previous == 0 {
		d.NumOfRatings++
		d.TotalScore += rating
		return true
	}
	d.TotalScore = d.TotalScore - previous + rating
	return false
}

// AverageRating is TotalScore/NumOfRatings, zero before any rating.
func (d *Document) AverageRating() float64 {
	if d.NumOfRatings == 0 {
		return 0
	}
	return d.TotalScore / float64(d.NumOfRatings)
}
