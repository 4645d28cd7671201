// Package relay classifies inbound updates and executes the command surface.
// Non-command messages route by precedence: awaited import file, broadcast,
// direct message, staff topic message, reply to a relayed message.
package relay

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/directory"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/docstore"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/telegram"
)

// Config carries the bot-level settings loaded from the document at startup.
type Config struct {
	BotName           string
	BotUsername       string
	OwnerID           string
	StaffChatID       int64
	CaveChatID        int64
	BroadcastThreadID int64
	// Founder cannot be removed from the programmers list.
	Founder     string
	LogFilePath string
}

// Platform is the slice of the chat platform the pipeline needs. Satisfied
// by *telegram.API.
type Platform interface {
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error)
	SendMessageMarkdownV2(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error)
	SendPayload(ctx context.Context, req telegram.SendPayloadRequest) (*telegram.Message, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	AnswerCallbackQuery(ctx context.Context, callbackQueryID string) error
	DownloadFileTo(ctx context.Context, fileID, destPath string) error
	UploadDocument(ctx context.Context, chatID int64, threadID int64, path, caption string) (*telegram.Message, error)
}

// Relayer is the thread router surface the pipeline needs.
type Relayer interface {
	ResolveOrCreateThread(ctx context.Context, user *telegram.User) (int64, error)
	RelayUserToStaff(ctx context.Context, user *telegram.User, payload telegram.Payload) (int64, error)
	RelayStaffToUser(ctx context.Context, userID string, payload telegram.Payload) error
}

// Moderator is the mute/ban state machine surface the pipeline needs.
type Moderator interface {
	Mute(ctx context.Context, userID string, duration time.Duration, reason string) error
	Unmute(ctx context.Context, userID string) error
	Ban(ctx context.Context, userID, reason string) error
	Unban(ctx context.Context, userID string) error
}

type Pipeline struct {
	cfg        Config
	store      *docstore.Store
	platform   Platform
	router     Relayer
	moderation Moderator
	logger     *slog.Logger
	now        func() time.Time

	// per-user conversation flags, in-memory only
	mu           sync.Mutex
	composing    map[string]bool
	awaitingFile map[string]bool

	mutedNoticeTTL time.Duration
	confirmTTL     time.Duration
}

func NewPipeline(cfg Config, store *docstore.Store, platform Platform, r Relayer, m Moderator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:            cfg,
		store:          store,
		platform:       platform,
		router:         r,
		moderation:     m,
		logger:         logger,
		now:            time.Now,
		composing:      map[string]bool{},
		awaitingFile:   map[string]bool{},
		mutedNoticeTTL: 10 * time.Second,
		confirmTTL:     5 * time.Second,
	}
}

// SetClock overrides the time source. Tests only.
func (p *Pipeline) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// SetNoticeTTLs overrides the ephemeral notice lifetimes. Zero or negative
// values delete synchronously. Tests only.
func (p *Pipeline) SetNoticeTTLs(muted, confirm time.Duration) {
	p.mutedNoticeTTL = muted
	p.confirmTTL = confirm
}

// HandleUpdate processes one update. Every fault is recovered into a logged
// event plus a generic failure answer; a broken update never takes down the
// poll loop.
func (p *Pipeline) HandleUpdate(ctx context.Context, update telegram.Update) {
	corr := uuid.NewString()
	logger := p.logger.With("correlation_id", corr)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("update_panic", "panic", r)
			if chatID, threadID := updateOrigin(update); chatID != 0 {
				_, _ = p.platform.SendMessage(ctx, telegram.SendMessageRequest{
					ChatID:          chatID,
					MessageThreadID: threadID,
					Text:            "Сталася помилка. Спробуйте пізніше.",
				})
			}
		}
	}()

	if update.CallbackQuery != nil {
		p.handleCallback(ctx, logger, update.CallbackQuery)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot || msg.Chat == nil {
		return
	}

	if name, args, ok := parseCommand(msg.Text, p.cfg.BotUsername); ok {
		p.handleCommand(ctx, logger, msg, name, args)
		return
	}
	p.handleMessage(ctx, logger, msg)
}

// handleMessage applies the non-command precedence.
func (p *Pipeline) handleMessage(ctx context.Context, logger *slog.Logger, msg *telegram.Message) {
	userID := strconv.FormatInt(msg.From.ID, 10)

	if p.isAwaitingFile(userID) {
		p.handleImportFile(ctx, logger, msg)
		return
	}

	if msg.Chat.ID == p.cfg.StaffChatID {
		if p.cfg.BroadcastThreadID != 0 && msg.MessageThreadID == p.cfg.BroadcastThreadID {
			p.handleBroadcast(ctx, logger, msg)
			return
		}
		p.handleStaffChatMessage(ctx, logger, msg)
		return
	}

	if msg.Chat.Type == "private" {
		p.handleDirectMessage(ctx, logger, msg)
		return
	}

	if msg.ReplyTo != nil {
		p.handleReplyRelay(ctx, logger, msg)
	}
}

func (p *Pipeline) handleStaffChatMessage(ctx context.Context, logger *slog.Logger, msg *telegram.Message) {
	doc, err := p.store.Snapshot(ctx)
	if err != nil {
		logger.Error("snapshot_error", "error", err)
		return
	}

	if msg.MessageThreadID != 0 {
		if userID := doc.UserTopics[strconv.FormatInt(msg.MessageThreadID, 10)].String(); userID != "" {
			if !directory.IsStaff(&doc, msg.From.Username) {
				logger.Debug("topic_relay_ignored_non_staff", "user_id", msg.From.ID)
				return
			}
			p.relayTopicMessage(ctx, logger, msg, userID)
			return
		}
	}
	if msg.ReplyTo != nil {
		p.handleReplyRelay(ctx, logger, msg)
	}
}

// relayTopicMessage forwards a staff message written inside a user topic.
func (p *Pipeline) relayTopicMessage(ctx context.Context, logger *slog.Logger, msg *telegram.Message, userID string) {
	payload := telegram.PayloadFromMessage(msg)
	if err := p.router.RelayStaffToUser(ctx, userID, payload); err != nil {
		logger.Warn("relay_staff_message_error", "user_id", userID, "error", err)
		p.replyEphemeral(ctx, msg, "Не вдалося доставити повідомлення користувачу.", p.mutedNoticeTTL)
		return
	}
	p.replyEphemeral(ctx, msg, "Доставлено ✅", p.confirmTTL)
}

// handleReplyRelay resolves the original author of a relayed message through
// the ledger and forwards the staff reply to them.
func (p *Pipeline) handleReplyRelay(ctx context.Context, logger *slog.Logger, msg *telegram.Message) {
	doc, err := p.store.Snapshot(ctx)
	if err != nil {
		logger.Error("snapshot_error", "error", err)
		return
	}
	userID := doc.SentMessages[strconv.FormatInt(msg.ReplyTo.MessageID, 10)].String()
	if userID == "" {
		return
	}
	payload := telegram.PayloadFromMessage(msg)
	if err := p.router.RelayStaffToUser(ctx, userID, payload); err != nil {
		logger.Warn("relay_reply_error", "user_id", userID, "error", err)
		p.replyEphemeral(ctx, msg, "Не вдалося доставити відповідь користувачу.", p.mutedNoticeTTL)
		return
	}
	replyKey := strconv.FormatInt(msg.MessageID, 10)
	if err := p.store.Update(ctx, func(d *docstore.Document) error {
		d.RecordSentMessage(replyKey, userID)
		return nil
	}); err != nil {
		logger.Error("ledger_update_error", "error", err)
	}
	p.replyEphemeral(ctx, msg, "Доставлено ✅", p.confirmTTL)
}

func (p *Pipeline) handleDirectMessage(ctx context.Context, logger *slog.Logger, msg *telegram.Message) {
	userID := strconv.FormatInt(msg.From.ID, 10)

	doc, err := p.store.Snapshot(ctx)
	if err != nil {
		logger.Error("snapshot_error", "error", err)
		return
	}
	if directory.IsMutedNow(&doc, userID, p.now().In(docstore.Location())) {
		p.replyEphemeral(ctx, msg, "Вам тимчасово заборонено писати боту.", p.mutedNoticeTTL)
		return
	}
	if !p.isComposing(userID) {
		p.reply(ctx, msg, "Щоб написати підтримці, скористайтеся командою /message.")
		return
	}

	p.ensureUserRecord(ctx, logger, msg.From)
	payload := telegram.PayloadFromMessage(msg)
	if _, err := p.router.RelayUserToStaff(ctx, msg.From, payload); err != nil {
		logger.Warn("relay_user_message_error", "user_id", userID, "error", err)
		p.reply(ctx, msg, "Не вдалося передати повідомлення. Спробуйте пізніше.")
		return
	}
	p.replyEphemeral(ctx, msg, "Повідомлення передано підтримці ✅", p.confirmTTL)
}

// ensureUserRecord registers the sender if this is the first contact.
func (p *Pipeline) ensureUserRecord(ctx context.Context, logger *slog.Logger, from *telegram.User) {
	userID := strconv.FormatInt(from.ID, 10)
	joined := docstore.FormatTime(p.now().In(docstore.Location()))
	if err := p.store.Update(ctx, func(d *docstore.Document) error {
		d.EnsureUser(userID, from.Username, telegram.DisplayName(from), joined)
		return nil
	}); err != nil {
		logger.Error("register_user_error", "user_id", userID, "error", err)
	}
}

func (p *Pipeline) isComposing(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.composing[userID]
}

func (p *Pipeline) setComposing(userID string, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		p.composing[userID] = true
	} else {
		delete(p.composing, userID)
	}
}

func (p *Pipeline) isAwaitingFile(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.awaitingFile[userID]
}

func (p *Pipeline) setAwaitingFile(userID string, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		p.awaitingFile[userID] = true
	} else {
		delete(p.awaitingFile, userID)
	}
}

// reply answers in the chat and thread the message came from.
func (p *Pipeline) reply(ctx context.Context, msg *telegram.Message, text string) {
	_, err := p.platform.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:          msg.Chat.ID,
		MessageThreadID: msg.MessageThreadID,
		Text:            text,
	})
	if err != nil {
		p.logger.Warn("reply_error", "chat_id", msg.Chat.ID, "error", err)
	}
}

// replyEphemeral answers and deletes the answer after ttl. Delete failures
// are swallowed; the notice is cosmetic.
func (p *Pipeline) replyEphemeral(ctx context.Context, msg *telegram.Message, text string, ttl time.Duration) {
	sent, err := p.platform.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:          msg.Chat.ID,
		MessageThreadID: msg.MessageThreadID,
		Text:            text,
	})
	if err != nil {
		p.logger.Warn("notice_error", "chat_id", msg.Chat.ID, "error", err)
		return
	}
	chatID := msg.Chat.ID
	if ttl <= 0 {
		_ = p.platform.DeleteMessage(ctx, chatID, sent.MessageID)
		return
	}
	go func() {
		timer := time.NewTimer(ttl)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		deleteCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = p.platform.DeleteMessage(deleteCtx, chatID, sent.MessageID)
	}()
}

func updateOrigin(update telegram.Update) (chatID, threadID int64) {
	if update.Message != nil && update.Message.Chat != nil {
		return update.Message.Chat.ID, update.Message.MessageThreadID
	}
	if update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil {
		return update.CallbackQuery.Message.Chat.ID, update.CallbackQuery.Message.MessageThreadID
	}
	return 0, 0
}

// parseCommand splits "/name@bot args" into its parts. The @bot suffix only
// matches this bot's username.
func parseCommand(text, botUsername string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	rest := text[1:]
	if rest == "" {
		return "", "", false
	}
	head := rest
	if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
		head = rest[:i]
		args = strings.TrimSpace(rest[i:])
	}
	if at := strings.Index(head, "@"); at >= 0 {
		mention := head[at+1:]
		head = head[:at]
		if botUsername != "" && !strings.EqualFold(mention, botUsername) {
			return "", "", false
		}
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), args, true
}
