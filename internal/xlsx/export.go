// Package xlsx turns a document into a spreadsheet snapshot and back. The
// workbook is the staff-facing view: one sheet per collection plus a
// GeneralInfo sheet with the scalars.
package xlsx

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/docstore"
)

// BanSentinel replaces the storage sentinel in exported rows so staff reading
// the sheet see the ban, not an internal marker.
const BanSentinel = "Forever (ban)"

const (
	sheetAllUsers     = "AllUsers"
	sheetActiveUsers  = "ActiveUsers"
	sheetMutedUsers   = "MutedUsers"
	sheetBannedUsers  = "BannedUsers"
	sheetTopics       = "Topics"
	sheetUserTopics   = "UserTopics"
	sheetSentMessages = "SentMessages"
	sheetAdmins       = "Admins"
	sheetProgrammers  = "Programmers"
	sheetGeneralInfo  = "GeneralInfo"
)

var sheetOrder = []string{
	sheetAllUsers, sheetActiveUsers, sheetMutedUsers, sheetBannedUsers,
	sheetTopics, sheetUserTopics, sheetSentMessages,
	sheetAdmins, sheetProgrammers, sheetGeneralInfo,
}

// Export writes the document as an xlsx workbook at path.
func Export(doc *docstore.Document, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	for _, name := range sheetOrder {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("xlsx export: sheet %s: %w", name, err)
		}
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("xlsx export: %w", err)
	}

	if err := writeAllUsers(f, doc); err != nil {
		return err
	}
	if err := writeActiveUsers(f, doc); err != nil {
		return err
	}
	if err := writeMutedUsers(f, doc); err != nil {
		return err
	}
	if err := writeBannedUsers(f, doc); err != nil {
		return err
	}
	if err := writePairs(f, sheetTopics, []string{"user_id", "thread_id"}, topicRows(doc)); err != nil {
		return err
	}
	if err := writePairs(f, sheetUserTopics, []string{"thread_id", "user_id"}, userTopicRows(doc)); err != nil {
		return err
	}
	if err := writePairs(f, sheetSentMessages, []string{"message_id", "user_id"}, sentMessageRows(doc)); err != nil {
		return err
	}
	if err := writeList(f, sheetAdmins, "username", doc.Admins); err != nil {
		return err
	}
	if err := writeList(f, sheetProgrammers, "username", doc.Programmers); err != nil {
		return err
	}
	if err := writeGeneralInfo(f, doc); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("xlsx export: save %s: %w", path, err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("xlsx export: %s row %d: %w", sheet, row, err)
	}
	return nil
}

// exportMuteEnd is the user's mute_end column value: banned users always show
// the ban sentinel regardless of what the storage carries.
func exportMuteEnd(doc *docstore.Document, u docstore.User) string {
	if doc.IsBanned(u.ID) {
		return BanSentinel
	}
	if u.MuteEnd == nil {
		return ""
	}
	return *u.MuteEnd
}

func writeAllUsers(f *excelize.File, doc *docstore.Document) error {
	header := []any{"id", "username", "first_name", "join_date", "rating", "mute/ban", "mute/ban_end", "reason"}
	if err := setRow(f, sheetAllUsers, 1, header); err != nil {
		return err
	}
	for i, u := range doc.Users {
		muted := u.Mute || doc.IsBanned(u.ID)
		reason := ""
		if u.Reason != nil {
			reason = *u.Reason
		}
		row := []any{
			u.ID, u.Username, u.FirstName, u.JoinDate,
			u.Rating, strconv.FormatBool(muted), exportMuteEnd(doc, u), reason,
		}
		if err := setRow(f, sheetAllUsers, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeActiveUsers(f *excelize.File, doc *docstore.Document) error {
	header := []any{"id", "username", "first_name", "join_date", "rating"}
	if err := setRow(f, sheetActiveUsers, 1, header); err != nil {
		return err
	}
	row := 2
	for _, u := range doc.Users {
		if u.Mute || doc.IsBanned(u.ID) {
			continue
		}
		if err := setRow(f, sheetActiveUsers, row, []any{u.ID, u.Username, u.FirstName, u.JoinDate, u.Rating}); err != nil {
			return err
		}
		row++
	}
	return nil
}

func writeMutedUsers(f *excelize.File, doc *docstore.Document) error {
	header := []any{"id", "username", "first_name", "expiration", "reason"}
	if err := setRow(f, sheetMutedUsers, 1, header); err != nil {
		return err
	}
	row := 2
	for _, u := range doc.Users {
		if !u.Mute || doc.IsBanned(u.ID) {
			continue
		}
		end := ""
		if u.MuteEnd != nil {
			end = *u.MuteEnd
		}
		reason := ""
		if u.Reason != nil {
			reason = *u.Reason
		}
		if err := setRow(f, sheetMutedUsers, row, []any{u.ID, u.Username, u.FirstName, end, reason}); err != nil {
			return err
		}
		row++
	}
	return nil
}

func writeBannedUsers(f *excelize.File, doc *docstore.Document) error {
	header := []any{"id", "reason", "date"}
	if err := setRow(f, sheetBannedUsers, 1, header); err != nil {
		return err
	}
	ids := sortedKeys(doc.BannedUsers)
	for i, id := range ids {
		entry := doc.BannedUsers[id]
		if err := setRow(f, sheetBannedUsers, i+2, []any{id, entry.Reason, entry.Date}); err != nil {
			return err
		}
	}
	return nil
}

func writePairs(f *excelize.File, sheet string, header []string, rows [][2]string) error {
	head := make([]any, len(header))
	for i, h := range header {
		head[i] = h
	}
	if err := setRow(f, sheet, 1, head); err != nil {
		return err
	}
	for i, pair := range rows {
		if err := setRow(f, sheet, i+2, []any{pair[0], pair[1]}); err != nil {
			return err
		}
	}
	return nil
}

func writeList(f *excelize.File, sheet, header string, values []string) error {
	if err := setRow(f, sheet, 1, []any{header}); err != nil {
		return err
	}
	for i, v := range values {
		if err := setRow(f, sheet, i+2, []any{v}); err != nil {
			return err
		}
	}
	return nil
}

func writeGeneralInfo(f *excelize.File, doc *docstore.Document) error {
	rows := [][2]string{
		{"bot_token", doc.BotToken},
		{"owner_id", doc.OwnerID.String()},
		{"chat_id", doc.ChatID.String()},
		{"cave_chat_id", doc.CaveChatID.String()},
		{"allusers_tem_id", strconv.FormatInt(doc.AllUsersTopicID.Int64(), 10)},
		{"total_score", strconv.FormatFloat(doc.TotalScore, 'f', -1, 64)},
		{"num_of_ratings", strconv.Itoa(doc.NumOfRatings)},
	}
	return writePairs(f, sheetGeneralInfo, []string{"key", "value"}, rows)
}

func topicRows(doc *docstore.Document) [][2]string {
	keys := sortedKeys(doc.Topics)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, strconv.FormatInt(doc.Topics[k].Int64(), 10)})
	}
	return out
}

func userTopicRows(doc *docstore.Document) [][2]string {
	keys := sortedKeys(doc.UserTopics)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, doc.UserTopics[k].String()})
	}
	return out
}

func sentMessageRows(doc *docstore.Document) [][2]string {
	keys := sortedKeys(doc.SentMessages)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, doc.SentMessages[k].String()})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
