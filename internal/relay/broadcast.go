package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/directory"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/telegram"
)

const broadcastPrefix = "📢 Оголошення"

// handleBroadcast fans a staff message out of the designated broadcast topic
// to every user. Non-staff messages in that topic are dropped.
func (p *Pipeline) handleBroadcast(ctx context.Context, logger *slog.Logger, msg *telegram.Message) {
	doc, err := p.store.Snapshot(ctx)
	if err != nil {
		logger.Error("snapshot_error", "error", err)
		return
	}
	if !directory.IsStaff(&doc, msg.From.Username) {
		logger.Debug("broadcast_ignored_non_staff", "user_id", msg.From.ID)
		return
	}
	p.broadcast(ctx, logger, msg, telegram.PayloadFromMessage(msg))
}

// broadcast delivers the payload to every known user and reports the tally
// back where the broadcast was issued. Per-user failures (blocked bots,
// deleted accounts) are counted, not fatal.
func (p *Pipeline) broadcast(ctx context.Context, logger *slog.Logger, origin *telegram.Message, payload telegram.Payload) {
	doc, err := p.store.Snapshot(ctx)
	if err != nil {
		logger.Error("snapshot_error", "error", err)
		return
	}

	sent, failed := 0, 0
	for _, u := range doc.Users {
		uid, err := strconv.ParseInt(u.ID, 10, 64)
		if err != nil {
			failed++
			continue
		}
		if err := p.broadcastTo(ctx, uid, payload); err != nil {
			logger.Warn("broadcast_send_error", "user_id", u.ID, "error", err)
			failed++
			continue
		}
		sent++
	}

	logger.Info("broadcast_done", "sent", sent, "failed", failed, "total", len(doc.Users))
	p.reply(ctx, origin, fmt.Sprintf("Розсилку завершено: надіслано %d, помилок %d, всього %d.", sent, failed, len(doc.Users)))
}

func (p *Pipeline) broadcastTo(ctx context.Context, chatID int64, payload telegram.Payload) error {
	switch {
	case payload.Kind == telegram.PayloadText || payload.Kind == "":
		_, err := p.platform.SendMessage(ctx, telegram.SendMessageRequest{
			ChatID: chatID,
			Text:   broadcastPrefix + "\n\n" + payload.Text,
		})
		return err
	case payload.SupportsCaption():
		withPrefix := payload
		withPrefix.Caption = broadcastPrefix
		if payload.Caption != "" {
			withPrefix.Caption += "\n\n" + payload.Caption
		}
		_, err := p.platform.SendPayload(ctx, telegram.SendPayloadRequest{ChatID: chatID, Payload: withPrefix})
		return err
	default:
		// stickers and video notes carry no caption, so announce first
		if _, err := p.platform.SendMessage(ctx, telegram.SendMessageRequest{
			ChatID: chatID,
			Text:   broadcastPrefix,
		}); err != nil {
			return err
		}
		_, err := p.platform.SendPayload(ctx, telegram.SendPayloadRequest{ChatID: chatID, Payload: payload})
		return err
	}
}
