package xlsx

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/docstore"
)

// Import reads a workbook produced by Export back into a document. The muted
// index is regenerated from the user rows so a hand-edited sheet can never
// leave the two representations disagreeing.
func Import(path string) (docstore.Document, error) {
	doc := docstore.Defaults()

	f, err := excelize.OpenFile(path)
	if err != nil {
		return doc, fmt.Errorf("xlsx import: open %s: %w", path, err)
	}
	defer f.Close()

	if err := readBannedUsers(f, &doc); err != nil {
		return doc, err
	}
	if err := readAllUsers(f, &doc); err != nil {
		return doc, err
	}
	if err := readPairs(f, sheetTopics, func(k, v string) {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return
		}
		doc.Topics[k] = docstore.FlexInt64(n)
	}); err != nil {
		return doc, err
	}
	if err := readPairs(f, sheetUserTopics, func(k, v string) {
		doc.UserTopics[k] = docstore.FlexString(v)
	}); err != nil {
		return doc, err
	}
	if err := readPairs(f, sheetSentMessages, func(k, v string) {
		doc.SentMessages[k] = docstore.FlexString(v)
	}); err != nil {
		return doc, err
	}
	doc.Admins, err = readList(f, sheetAdmins)
	if err != nil {
		return doc, err
	}
	doc.Programmers, err = readList(f, sheetProgrammers)
	if err != nil {
		return doc, err
	}
	if err := readGeneralInfo(f, &doc); err != nil {
		return doc, err
	}

	rebuildMutedIndex(&doc)
	return doc, nil
}

func dataRows(f *excelize.File, sheet string) ([][]string, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("xlsx import: sheet %s: %w", sheet, err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	return rows[1:], nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func readAllUsers(f *excelize.File, doc *docstore.Document) error {
	rows, err := dataRows(f, sheetAllUsers)
	if err != nil {
		return err
	}
	for _, row := range rows {
		id := cell(row, 0)
		if id == "" {
			continue
		}
		u := docstore.User{
			ID:        id,
			Username:  cell(row, 1),
			FirstName: cell(row, 2),
			JoinDate:  cell(row, 3),
		}
		if rating, err := strconv.ParseFloat(cell(row, 4), 64); err == nil {
			u.Rating = rating
		}
		if muted, err := strconv.ParseBool(strings.ToLower(cell(row, 5))); err == nil {
			u.Mute = muted
		}
		if end := cell(row, 6); end != "" {
			if strings.EqualFold(end, BanSentinel) || doc.IsBanned(id) {
				end = docstore.MuteForever
			}
			u.MuteEnd = &end
		}
		if reason := cell(row, 7); reason != "" {
			u.Reason = &reason
		}
		if doc.IsBanned(id) {
			u.Mute = true
			forever := docstore.MuteForever
			u.MuteEnd = &forever
		}
		doc.Users = append(doc.Users, u)
	}
	return nil
}

func readBannedUsers(f *excelize.File, doc *docstore.Document) error {
	rows, err := dataRows(f, sheetBannedUsers)
	if err != nil {
		return err
	}
	for _, row := range rows {
		id := cell(row, 0)
		if id == "" {
			continue
		}
		doc.BannedUsers[id] = docstore.BanEntry{Reason: cell(row, 1), Date: cell(row, 2)}
	}
	return nil
}

func readPairs(f *excelize.File, sheet string, set func(k, v string)) error {
	rows, err := dataRows(f, sheet)
	if err != nil {
		return err
	}
	for _, row := range rows {
		k := cell(row, 0)
		if k == "" {
			continue
		}
		set(k, cell(row, 1))
	}
	return nil
}

func readList(f *excelize.File, sheet string) ([]string, error) {
	rows, err := dataRows(f, sheet)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, row := range rows {
		if v := cell(row, 0); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func readGeneralInfo(f *excelize.File, doc *docstore.Document) error {
	return readPairs(f, sheetGeneralInfo, func(k, v string) {
		switch k {
		case "bot_token":
			doc.BotToken = v
		case "owner_id":
			doc.OwnerID = docstore.FlexString(v)
		case "chat_id":
			doc.ChatID = docstore.FlexString(v)
		case "cave_chat_id":
			doc.CaveChatID = docstore.FlexString(v)
		case "allusers_tem_id":
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				doc.AllUsersTopicID = docstore.FlexInt64(n)
			}
		case "total_score":
			if score, err := strconv.ParseFloat(v, 64); err == nil {
				doc.TotalScore = score
			}
		case "num_of_ratings":
			if n, err := strconv.Atoi(v); err == nil {
				doc.NumOfRatings = n
			}
		}
	})
}

// rebuildMutedIndex derives muted_users from the imported user rows. Banned
// users are excluded; their mute representation is owned by the ban entry.
func rebuildMutedIndex(doc *docstore.Document) {
	for _, u := range doc.Users {
		if doc.IsBanned(u.ID) {
			doc.SetMuted(u.ID, docstore.MuteForever, "banned: "+doc.BannedUsers[u.ID].Reason)
			continue
		}
		if !u.Mute {
			continue
		}
		end := docstore.MuteForever
		if u.MuteEnd != nil && *u.MuteEnd != "" {
			end = *u.MuteEnd
		}
		reason := ""
		if u.Reason != nil {
			reason = *u.Reason
		}
		doc.SetMuted(u.ID, end, reason)
	}
}
