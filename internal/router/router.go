// Package router maps users to forum topics in the staff chat and relays
// message payloads in both directions.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/directory"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/docstore"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/telegram"
)

// ErrBotBlocked means the user blocked the bot, so no topic is created and
// nothing can be delivered to them.
var ErrBotBlocked = errors.New("router: bot is blocked by the user")

// Platform is the slice of the chat platform the router needs. Satisfied by
// *telegram.API.
type Platform interface {
	SendChatAction(ctx context.Context, chatID int64, action string) error
	CreateForumTopic(ctx context.Context, chatID int64, name string) (*telegram.ForumTopic, error)
	PinChatMessage(ctx context.Context, chatID, messageID int64) error
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error)
	SendMessageMarkdownV2(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error)
	SendPayload(ctx context.Context, req telegram.SendPayloadRequest) (*telegram.Message, error)
	SendPayloadMarkdownV2(ctx context.Context, req telegram.SendPayloadRequest) (*telegram.Message, error)
}

type Router struct {
	store    *docstore.Store
	platform Platform
	logger   *slog.Logger

	staffChatID int64
	now         func() time.Time

	// creating serializes first-contact topic creation per user so two
	// concurrent updates never create two topics.
	mu       sync.Mutex
	creating map[string]*sync.Mutex
}

func New(store *docstore.Store, platform Platform, staffChatID int64, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:       store,
		platform:    platform,
		logger:      logger,
		staffChatID: staffChatID,
		now:         time.Now,
		creating:    map[string]*sync.Mutex{},
	}
}

// SetClock overrides the time source. Tests only.
func (r *Router) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

func (r *Router) userLock(userID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.creating[userID]
	if !ok {
		l = &sync.Mutex{}
		r.creating[userID] = l
	}
	return l
}

// ResolveOrCreateThread returns the user's forum thread, creating it on first
// contact. The cheap sendChatAction probe detects a blocked bot before a
// topic exists for a user the bot can never answer.
func (r *Router) ResolveOrCreateThread(ctx context.Context, user *telegram.User) (int64, error) {
	if user == nil {
		return 0, errors.New("router: nil user")
	}
	userID := strconv.FormatInt(user.ID, 10)

	doc, err := r.store.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if threadID := directory.ThreadForUser(&doc, userID); threadID != 0 {
		return threadID, nil
	}

	lock := r.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	doc, err = r.store.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if threadID := directory.ThreadForUser(&doc, userID); threadID != 0 {
		return threadID, nil
	}

	if err := r.platform.SendChatAction(ctx, user.ID, "typing"); err != nil {
		if telegram.IsBlockedByUser(err) {
			return 0, ErrBotBlocked
		}
		r.logger.Warn("topic_probe_error", "user_id", userID, "error", err)
	}

	name := telegram.DisplayName(user)
	if name == "" {
		name = userID
	}
	topic, err := r.platform.CreateForumTopic(ctx, r.staffChatID, fmt.Sprintf("%s (%s)", name, userID))
	if err != nil {
		return 0, fmt.Errorf("create forum topic: %w", err)
	}

	info := fmt.Sprintf("Ім'я: %s\nUsername: @%s\nID: %s\nТема: %d", name, user.Username, userID, topic.MessageThreadID)
	if infoMsg, err := r.platform.SendMessage(ctx, telegram.SendMessageRequest{
		ChatID:          r.staffChatID,
		MessageThreadID: topic.MessageThreadID,
		Text:            info,
	}); err != nil {
		r.logger.Warn("topic_info_error", "user_id", userID, "error", err)
	} else if err := r.platform.PinChatMessage(ctx, r.staffChatID, infoMsg.MessageID); err != nil {
		r.logger.Warn("topic_pin_error", "user_id", userID, "error", err)
	}

	threadKey := strconv.FormatInt(topic.MessageThreadID, 10)
	err = r.store.Update(ctx, func(d *docstore.Document) error {
		d.Topics[userID] = docstore.FlexInt64(topic.MessageThreadID)
		d.UserTopics[threadKey] = docstore.FlexString(userID)
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("topic_created", "user_id", userID, "thread_id", topic.MessageThreadID)
	return topic.MessageThreadID, nil
}

// RelayUserToStaff delivers a user's payload into their topic with a metadata
// header. Captionable media travel as one message whose caption is the header
// plus the user's caption; stickers and video notes cannot carry a caption,
// so for them the header goes out as a separate message before the raw media.
// Every staff-side message id lands in the ledger so a staff reply to any of
// them routes back to the user.
func (r *Router) RelayUserToStaff(ctx context.Context, user *telegram.User, payload telegram.Payload) (int64, error) {
	threadID, err := r.ResolveOrCreateThread(ctx, user)
	if err != nil {
		return 0, err
	}
	userID := strconv.FormatInt(user.ID, 10)
	header := r.metadataHeader(user)

	var ledgerIDs []int64

	switch {
	case payload.Kind == telegram.PayloadText:
		msg, err := r.platform.SendMessageMarkdownV2(ctx, telegram.SendMessageRequest{
			ChatID:          r.staffChatID,
			MessageThreadID: threadID,
			Text:            header + "\n\n" + telegram.EscapeMarkdownV2(payload.Text),
		})
		if err != nil {
			return 0, fmt.Errorf("relay text: %w", err)
		}
		ledgerIDs = append(ledgerIDs, msg.MessageID)
	case payload.SupportsCaption():
		withHeader := payload
		withHeader.Caption = header
		if payload.Caption != "" {
			withHeader.Caption += "\n\n" + telegram.EscapeMarkdownV2(payload.Caption)
		}
		mediaMsg, err := r.platform.SendPayloadMarkdownV2(ctx, telegram.SendPayloadRequest{
			ChatID:          r.staffChatID,
			MessageThreadID: threadID,
			Payload:         withHeader,
		})
		if err != nil {
			return 0, fmt.Errorf("relay media: %w", err)
		}
		ledgerIDs = append(ledgerIDs, mediaMsg.MessageID)
	default:
		headMsg, err := r.platform.SendMessageMarkdownV2(ctx, telegram.SendMessageRequest{
			ChatID:          r.staffChatID,
			MessageThreadID: threadID,
			Text:            header,
		})
		if err != nil {
			return 0, fmt.Errorf("relay header: %w", err)
		}
		ledgerIDs = append(ledgerIDs, headMsg.MessageID)

		mediaMsg, err := r.platform.SendPayload(ctx, telegram.SendPayloadRequest{
			ChatID:          r.staffChatID,
			MessageThreadID: threadID,
			Payload:         payload,
		})
		if err != nil {
			return 0, fmt.Errorf("relay media: %w", err)
		}
		ledgerIDs = append(ledgerIDs, mediaMsg.MessageID)
	}

	err = r.store.Update(ctx, func(d *docstore.Document) error {
		for _, id := range ledgerIDs {
			d.RecordSentMessage(strconv.FormatInt(id, 10), userID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("relay_user_message", "user_id", userID, "thread_id", threadID, "kind", string(payload.Kind))
	return threadID, nil
}

// RelayStaffToUser delivers a staff payload to the user's private chat as-is.
func (r *Router) RelayStaffToUser(ctx context.Context, userID string, payload telegram.Payload) error {
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("relay to user: bad user id %q", userID)
	}
	if _, err := r.platform.SendPayload(ctx, telegram.SendPayloadRequest{
		ChatID:  uid,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("relay to user %s: %w", userID, err)
	}
	r.logger.Info("relay_staff_message", "user_id", userID, "kind", string(payload.Kind))
	return nil
}

func (r *Router) metadataHeader(user *telegram.User) string {
	name := telegram.DisplayName(user)
	if name == "" {
		name = strconv.FormatInt(user.ID, 10)
	}
	ts := docstore.FormatTime(r.now().In(docstore.Location()))
	header := fmt.Sprintf("📩 Повідомлення від *%s*", telegram.EscapeMarkdownV2(name))
	if user.Username != "" {
		header += fmt.Sprintf("; @%s", telegram.EscapeMarkdownV2(user.Username))
	}
	header += fmt.Sprintf(" `%d`\n⏰ %s", user.ID, telegram.EscapeMarkdownV2(ts))
	return header
}
