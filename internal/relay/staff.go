package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/directory"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/docstore"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/moderation"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/telegram"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/xlsx"
)

func (p *Pipeline) handleStaffCommand(ctx context.Context, logger *slog.Logger, doc *docstore.Document, msg *telegram.Message, name, args string) {
	switch name {
	case "info":
		p.cmdInfo(ctx, doc, msg)
	case "mute":
		p.cmdMute(ctx, doc, msg, args)
	case "unmute":
		p.cmdUnmute(ctx, doc, msg)
	case "ban":
		p.cmdBan(ctx, doc, msg, args)
	case "unban":
		p.cmdUnban(ctx, doc, msg)
	case "mutelist":
		p.cmdMuteList(ctx, doc, msg)
	case "alllist":
		p.cmdAllList(ctx, doc, msg)
	case "get_alllist":
		p.cmdGetAllList(ctx, logger, doc, msg)
	case "set_alllist":
		p.cmdSetAllList(ctx, msg)
	case "get_logs":
		p.cmdGetLogs(ctx, logger, msg)
	case "allmessage":
		p.cmdAllMessage(ctx, logger, msg, args)
	}
}

// topicTarget resolves the user a moderation command addresses: the owner of
// the forum topic the command was issued in.
func (p *Pipeline) topicTarget(doc *docstore.Document, msg *telegram.Message) (string, bool) {
	if msg.Chat.ID != p.cfg.StaffChatID || msg.MessageThreadID == 0 {
		return "", false
	}
	userID := directory.UserForThread(doc, msg.MessageThreadID)
	return userID, userID != ""
}

func (p *Pipeline) moderationReply(ctx context.Context, msg *telegram.Message, err error, okText string) {
	switch {
	case err == nil:
		p.reply(ctx, msg, okText)
	case errors.Is(err, moderation.ErrOwnerProtected):
		p.reply(ctx, msg, "Власника бота не можна обмежити.")
	case errors.Is(err, moderation.ErrUserBanned):
		p.reply(ctx, msg, "Користувач заблокований. Спочатку /unban.")
	case errors.Is(err, moderation.ErrUnknownUser):
		p.reply(ctx, msg, "Користувача не знайдено.")
	default:
		p.logger.Error("moderation_error", "error", err)
		p.reply(ctx, msg, "Не вдалося виконати команду.")
	}
}

func (p *Pipeline) cmdMute(ctx context.Context, doc *docstore.Document, msg *telegram.Message, args string) {
	target, ok := p.topicTarget(doc, msg)
	if !ok {
		p.reply(ctx, msg, "Команду /mute потрібно виконувати в темі користувача.")
		return
	}
	duration := time.Duration(0)
	reason := ""
	if fields := strings.Fields(args); len(fields) > 0 {
		if secs, err := strconv.Atoi(fields[0]); err == nil && secs > 0 {
			duration = time.Duration(secs) * time.Second
			reason = strings.TrimSpace(strings.Join(fields[1:], " "))
		} else {
			reason = strings.TrimSpace(args)
		}
	}
	err := p.moderation.Mute(ctx, target, duration, reason)
	p.moderationReply(ctx, msg, err, "Користувача заглушено 🔇")
}

func (p *Pipeline) cmdUnmute(ctx context.Context, doc *docstore.Document, msg *telegram.Message) {
	target, ok := p.topicTarget(doc, msg)
	if !ok {
		p.reply(ctx, msg, "Команду /unmute потрібно виконувати в темі користувача.")
		return
	}
	err := p.moderation.Unmute(ctx, target)
	p.moderationReply(ctx, msg, err, "Обмеження знято 🔊")
}

func (p *Pipeline) cmdBan(ctx context.Context, doc *docstore.Document, msg *telegram.Message, args string) {
	target, ok := p.topicTarget(doc, msg)
	if !ok {
		p.reply(ctx, msg, "Команду /ban потрібно виконувати в темі користувача.")
		return
	}
	err := p.moderation.Ban(ctx, target, strings.TrimSpace(args))
	p.moderationReply(ctx, msg, err, "Користувача заблоковано ⛔")
}

func (p *Pipeline) cmdUnban(ctx context.Context, doc *docstore.Document, msg *telegram.Message) {
	target, ok := p.topicTarget(doc, msg)
	if !ok {
		p.reply(ctx, msg, "Команду /unban потрібно виконувати в темі користувача.")
		return
	}
	err := p.moderation.Unban(ctx, target)
	p.moderationReply(ctx, msg, err, "Користувача розблоковано ✅")
}

func (p *Pipeline) cmdInfo(ctx context.Context, doc *docstore.Document, msg *telegram.Message) {
	muted := 0
	for _, u := range doc.Users {
		if u.Mute && !doc.IsBanned(u.ID) {
			muted++
		}
	}
	banned := len(doc.BannedUsers)
	active := len(doc.Users) - muted - banned
	if active < 0 {
		active = 0
	}
	text := fmt.Sprintf(
		"Статистика %s:\nКористувачів: %d\nАктивних: %d\nЗаглушених: %d\nЗаблокованих: %d\nСередня оцінка: %.2f (%d голосів)\nТем: %d",
		p.cfg.BotName, len(doc.Users), active, muted, banned,
		doc.AverageRating(), doc.NumOfRatings, len(doc.Topics),
	)
	p.reply(ctx, msg, text)
}

func (p *Pipeline) cmdMuteList(ctx context.Context, doc *docstore.Document, msg *telegram.Message) {
	statuses := directory.MutedUsers(doc)
	if len(statuses) == 0 {
		p.reply(ctx, msg, "Заглушених користувачів немає.")
		return
	}
	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("Заглушені користувачі:\n")
	for _, id := range ids {
		s := statuses[id]
		fmt.Fprintf(&b, "%s (%s @%s) — ", s.UserID, s.FirstName, s.Username)
		if s.Expiration != nil {
			b.WriteString("до " + docstore.FormatTime(*s.Expiration))
		} else {
			b.WriteString("назавжди")
		}
		if s.Reason != "" {
			fmt.Fprintf(&b, "; причина: %s", s.Reason)
		}
		b.WriteString("\n")
	}
	p.reply(ctx, msg, b.String())
}

func (p *Pipeline) cmdAllList(ctx context.Context, doc *docstore.Document, msg *telegram.Message) {
	if len(doc.Users) == 0 {
		p.reply(ctx, msg, "Користувачів ще немає.")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Користувачі (%d):\n", len(doc.Users))
	for _, u := range doc.Users {
		fmt.Fprintf(&b, "%s — %s @%s", u.ID, u.FirstName, u.Username)
		if u.Rating > 0 {
			fmt.Fprintf(&b, " ⭐%s", strconv.FormatFloat(u.Rating, 'f', -1, 64))
		}
		switch {
		case doc.IsBanned(u.ID):
			b.WriteString(" ⛔")
		case u.Mute:
			b.WriteString(" 🔇")
		}
		b.WriteString("\n")
	}
	p.reply(ctx, msg, b.String())
}

func (p *Pipeline) cmdGetAllList(ctx context.Context, logger *slog.Logger, doc *docstore.Document, msg *telegram.Message) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("alllist-%d.xlsx", p.now().UnixNano()))
	if err := xlsx.Export(doc, path); err != nil {
		logger.Error("export_error", "error", err)
		p.reply(ctx, msg, "Не вдалося сформувати таблицю.")
		return
	}
	defer os.Remove(path)
	if _, err := p.platform.UploadDocument(ctx, msg.Chat.ID, msg.MessageThreadID, path, "Список користувачів"); err != nil {
		logger.Error("export_upload_error", "error", err)
		p.reply(ctx, msg, "Не вдалося надіслати таблицю.")
	}
}

func (p *Pipeline) cmdSetAllList(ctx context.Context, msg *telegram.Message) {
	p.setAwaitingFile(strconv.FormatInt(msg.From.ID, 10), true)
	p.reply(ctx, msg, "Надішліть файл .xlsx з таблицею користувачів. Будь-яке текстове повідомлення скасує імпорт.")
}

// handleImportFile consumes the document from a staff member armed by
// /set_alllist. A plain message cancels the import.
func (p *Pipeline) handleImportFile(ctx context.Context, logger *slog.Logger, msg *telegram.Message) {
	userID := strconv.FormatInt(msg.From.ID, 10)
	if msg.Document == nil {
		p.setAwaitingFile(userID, false)
		p.reply(ctx, msg, "Імпорт скасовано.")
		return
	}
	defer p.setAwaitingFile(userID, false)

	path := filepath.Join(os.TempDir(), fmt.Sprintf("import-%d.xlsx", p.now().UnixNano()))
	defer os.Remove(path)
	if err := p.platform.DownloadFileTo(ctx, msg.Document.FileID, path); err != nil {
		logger.Error("import_download_error", "error", err)
		p.reply(ctx, msg, "Не вдалося завантажити файл.")
		return
	}
	imported, err := xlsx.Import(path)
	if err != nil {
		logger.Error("import_parse_error", "error", err)
		p.reply(ctx, msg, "Не вдалося прочитати таблицю. Перевірте формат файлу.")
		return
	}
	if err := p.store.Update(ctx, func(d *docstore.Document) error {
		*d = imported
		d.Normalize()
		return nil
	}); err != nil {
		logger.Error("import_store_error", "error", err)
		p.reply(ctx, msg, "Не вдалося зберегти дані.")
		return
	}
	logger.Info("import_applied", "users", len(imported.Users))
	p.reply(ctx, msg, fmt.Sprintf("Імпорт завершено: %d користувачів, %d заблокованих, %d тем.",
		len(imported.Users), len(imported.BannedUsers), len(imported.Topics)))
}

func (p *Pipeline) cmdGetLogs(ctx context.Context, logger *slog.Logger, msg *telegram.Message) {
	if p.cfg.LogFilePath == "" {
		p.reply(ctx, msg, "Файл логів не налаштовано.")
		return
	}
	if _, err := os.Stat(p.cfg.LogFilePath); err != nil {
		p.reply(ctx, msg, "Файл логів ще не створено.")
		return
	}
	if _, err := p.platform.UploadDocument(ctx, msg.Chat.ID, msg.MessageThreadID, p.cfg.LogFilePath, "Логи бота"); err != nil {
		logger.Error("logs_upload_error", "error", err)
		p.reply(ctx, msg, "Не вдалося надіслати логи.")
	}
}

func (p *Pipeline) cmdAllMessage(ctx context.Context, logger *slog.Logger, msg *telegram.Message, args string) {
	text := strings.TrimSpace(args)
	if text == "" {
		p.reply(ctx, msg, "Використання: /allmessage <текст розсилки>")
		return
	}
	p.broadcast(ctx, logger, msg, telegram.Payload{Kind: telegram.PayloadText, Text: text})
}

func (p *Pipeline) handleRoleCommand(ctx context.Context, logger *slog.Logger, msg *telegram.Message, name, args string) {
	target := strings.TrimPrefix(strings.TrimSpace(args), "@")
	if target == "" {
		p.reply(ctx, msg, fmt.Sprintf("Використання: /%s <username>", name))
		return
	}

	var resultText string
	err := p.store.Update(ctx, func(d *docstore.Document) error {
		switch name {
		case "admin":
			if containsFold(d.Admins, target) {
				resultText = "Користувач уже адміністратор."
				return nil
			}
			d.Admins = append(d.Admins, target)
			resultText = fmt.Sprintf("@%s тепер адміністратор.", target)
		case "deleteadmin":
			if !containsFold(d.Admins, target) {
				resultText = "Такого адміністратора немає."
				return nil
			}
			d.Admins = removeFold(d.Admins, target)
			resultText = fmt.Sprintf("@%s більше не адміністратор.", target)
		case "programier":
			if containsFold(d.Programmers, target) {
				resultText = "Користувач уже програміст."
				return nil
			}
			d.Programmers = append(d.Programmers, target)
			resultText = fmt.Sprintf("@%s тепер програміст.", target)
		case "deleteprogramier":
			if p.cfg.Founder != "" && strings.EqualFold(target, p.cfg.Founder) {
				resultText = "Засновника не можна прибрати зі списку програмістів."
				return nil
			}
			if !containsFold(d.Programmers, target) {
				resultText = "Такого програміста немає."
				return nil
			}
			d.Programmers = removeFold(d.Programmers, target)
			resultText = fmt.Sprintf("@%s більше не програміст.", target)
		}
		return nil
	})
	if err != nil {
		logger.Error("role_update_error", "error", err)
		p.reply(ctx, msg, "Не вдалося оновити ролі.")
		return
	}
	p.reply(ctx, msg, resultText)
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func removeFold(list []string, v string) []string {
	out := list[:0]
	for _, item := range list {
		if !strings.EqualFold(item, v) {
			out = append(out, item)
		}
	}
	return out
}
