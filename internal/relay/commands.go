package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/directory"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/docstore"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/telegram"
)

const ratingCallbackPrefix = "rate:"

func (p *Pipeline) handleCommand(ctx context.Context, logger *slog.Logger, msg *telegram.Message, name, args string) {
	doc, err := p.store.Snapshot(ctx)
	if err != nil {
		logger.Error("snapshot_error", "error", err)
		return
	}
	username := msg.From.Username
	logger = logger.With("command", name, "user_id", msg.From.ID)

	switch name {
	case "start":
		p.cmdStart(ctx, logger, msg)
	case "rate":
		p.cmdRate(ctx, msg)
	case "message":
		p.cmdMessage(ctx, &doc, msg)
	case "stopmessage":
		p.cmdStopMessage(ctx, msg)
	case "help":
		p.cmdHelp(ctx, &doc, msg)
	case "fromus":
		p.cmdFromUs(ctx, msg)

	case "info", "mute", "unmute", "ban", "unban", "mutelist", "alllist",
		"get_alllist", "set_alllist", "get_logs", "allmessage":
		if !directory.IsStaff(&doc, username) {
			p.reply(ctx, msg, "Ця команда доступна лише персоналу.")
			return
		}
		p.handleStaffCommand(ctx, logger, &doc, msg, name, args)

	case "admin", "deleteadmin", "programier", "deleteprogramier":
		if !directory.IsProgrammer(&doc, username) {
			p.reply(ctx, msg, "Ця команда доступна лише програмістам.")
			return
		}
		p.handleRoleCommand(ctx, logger, msg, name, args)

	default:
		logger.Debug("command_unknown")
	}
}

func (p *Pipeline) cmdStart(ctx context.Context, logger *slog.Logger, msg *telegram.Message) {
	if msg.Chat.ID == p.cfg.StaffChatID {
		p.reply(ctx, msg, "/start працює лише в особистих повідомленнях боту.")
		return
	}
	p.ensureUserRecord(ctx, logger, msg.From)
	if _, err := p.router.ResolveOrCreateThread(ctx, msg.From); err != nil {
		logger.Warn("start_topic_error", "error", err)
	}

	keyboard := &telegram.ReplyKeyboardMarkup{
		Keyboard: [][]telegram.KeyboardButton{
			{{Text: "/message"}, {Text: "/stopmessage"}},
			{{Text: "/rate"}, {Text: "/help"}},
		},
		ResizeKeyboard: true,
	}
	greeting := fmt.Sprintf(
		"Вітаємо в %s!\nНадішліть /message і напишіть своє питання — підтримка відповість тут.",
		p.cfg.BotName,
	)
	if _, err := p.platform.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:      msg.Chat.ID,
		Text:        greeting,
		ReplyMarkup: keyboard,
	}); err != nil {
		logger.Warn("start_greeting_error", "error", err)
	}
}

// cmdRate shows the half-step rating keyboard.
func (p *Pipeline) cmdRate(ctx context.Context, msg *telegram.Message) {
	var rows [][]telegram.InlineKeyboardButton
	var row []telegram.InlineKeyboardButton
	for v := 5; v <= 50; v += 5 {
		value := float64(v) / 10
		label := strconv.FormatFloat(value, 'f', -1, 64)
		row = append(row, telegram.InlineKeyboardButton{
			Text:         label + " ⭐",
			CallbackData: ratingCallbackPrefix + label,
		})
		if len(row) == 5 {
			rows = append(rows, row)
			row = nil
		}
	}
	if _, err := p.platform.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:          msg.Chat.ID,
		MessageThreadID: msg.MessageThreadID,
		Text:            "Оцініть роботу бота:",
		ReplyMarkup:     &telegram.InlineKeyboardMarkup{InlineKeyboard: rows},
	}); err != nil {
		p.logger.Warn("rate_keyboard_error", "error", err)
	}
}

func (p *Pipeline) handleCallback(ctx context.Context, logger *slog.Logger, cb *telegram.CallbackQuery) {
	defer func() {
		if err := p.platform.AnswerCallbackQuery(ctx, cb.ID); err != nil {
			logger.Warn("callback_answer_error", "error", err)
		}
	}()
	if cb.From == nil || !strings.HasPrefix(cb.Data, ratingCallbackPrefix) {
		return
	}
	rating, err := strconv.ParseFloat(strings.TrimPrefix(cb.Data, ratingCallbackPrefix), 64)
	if err != nil || rating < 0.5 || rating > 5 {
		logger.Warn("callback_bad_rating", "data", cb.Data)
		return
	}

	userID := strconv.FormatInt(cb.From.ID, 10)
	joined := docstore.FormatTime(p.now().In(docstore.Location()))
	var first bool
	var average float64
	var votes int
	err = p.store.Update(ctx, func(d *docstore.Document) error {
		first = d.ApplyRating(userID, cb.From.Username, telegram.DisplayName(cb.From), joined, rating)
		average = d.AverageRating()
		votes = d.NumOfRatings
		return nil
	})
	if err != nil {
		logger.Error("rating_update_error", "error", err)
		return
	}
	logger.Info("rating_applied", "user_id", userID, "rating", rating, "first", first)

	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	text := fmt.Sprintf("Дякуємо за оцінку %s ⭐!\nСередня оцінка: %.2f (%d голосів)",
		strconv.FormatFloat(rating, 'f', -1, 64), average, votes)
	if err := p.platform.EditMessageText(ctx, cb.Message.Chat.ID, cb.Message.MessageID, text); err != nil {
		logger.Warn("rating_edit_error", "error", err)
	}
}

// cmdMessage arms composing mode so following messages relay to the topic.
func (p *Pipeline) cmdMessage(ctx context.Context, doc *docstore.Document, msg *telegram.Message) {
	if msg.Chat.Type != "private" {
		p.reply(ctx, msg, "/message працює лише в особистих повідомленнях боту.")
		return
	}
	userID := strconv.FormatInt(msg.From.ID, 10)
	if directory.IsMutedNow(doc, userID, p.now().In(docstore.Location())) {
		p.replyEphemeral(ctx, msg, "Вам тимчасово заборонено писати боту.", p.mutedNoticeTTL)
		return
	}
	p.setComposing(userID, true)
	p.reply(ctx, msg, "Напишіть повідомлення — воно буде передано підтримці. Завершити: /stopmessage.")
}

func (p *Pipeline) cmdStopMessage(ctx context.Context, msg *telegram.Message) {
	p.setComposing(strconv.FormatInt(msg.From.ID, 10), false)
	p.reply(ctx, msg, "Режим повідомлень завершено.")
}

func (p *Pipeline) cmdHelp(ctx context.Context, doc *docstore.Document, msg *telegram.Message) {
	var b strings.Builder
	b.WriteString("Команди:\n")
	b.WriteString("/start — почати роботу з ботом\n")
	b.WriteString("/message — написати підтримці\n")
	b.WriteString("/stopmessage — завершити режим повідомлень\n")
	b.WriteString("/rate — оцінити бота\n")
	b.WriteString("/fromus — про цього бота\n")
	if directory.IsStaff(doc, msg.From.Username) {
		b.WriteString("\nКоманди персоналу:\n")
		b.WriteString("/info — статистика\n")
		b.WriteString("/mute [секунди] [причина] — заглушити користувача теми\n")
		b.WriteString("/unmute — зняти обмеження\n")
		b.WriteString("/ban [причина] — заблокувати користувача теми\n")
		b.WriteString("/unban — розблокувати\n")
		b.WriteString("/mutelist — заглушені користувачі\n")
		b.WriteString("/alllist — всі користувачі\n")
		b.WriteString("/get_alllist — вивантажити таблицю\n")
		b.WriteString("/set_alllist — завантажити таблицю\n")
		b.WriteString("/get_logs — файл логів\n")
		b.WriteString("/allmessage <текст> — розсилка\n")
	}
	if directory.IsProgrammer(doc, msg.From.Username) {
		b.WriteString("\nКоманди програмістів:\n")
		b.WriteString("/admin, /deleteadmin, /programier, /deleteprogramier\n")
	}
	p.reply(ctx, msg, b.String())
}

func (p *Pipeline) cmdFromUs(ctx context.Context, msg *telegram.Message) {
	p.reply(ctx, msg, fmt.Sprintf("%s — бот служби підтримки. Ваші повідомлення читає жива людина.", p.cfg.BotName))
}
