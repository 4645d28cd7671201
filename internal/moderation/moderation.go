// Package moderation owns the mute/ban state machine. Every transition
// persists both the user record and the derived muted index in one store
// update, then applies the platform side effects best-effort.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/docstore"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/telegram"
)

const (
	// DefaultMuteDuration applies when /mute is issued without seconds.
	DefaultMuteDuration = 300 * time.Second

	// DefaultSweepInterval is how often expired mutes are lifted.
	DefaultSweepInterval = 60 * time.Second

	defaultMuteReason = "за рішенням адміністрації"
	defaultBanReason  = "за рішенням адміністрації"
)

var (
	ErrOwnerProtected = errors.New("moderation: owner cannot be muted or banned")
	ErrUserBanned     = errors.New("moderation: user is banned")
	ErrUnknownUser    = errors.New("moderation: unknown user")
)

// Platform is the slice of the chat platform moderation needs. Satisfied by
// *telegram.API.
type Platform interface {
	RestrictChatMember(ctx context.Context, chatID, userID int64, perms telegram.ChatPermissions, until time.Time) error
	BanChatMember(ctx context.Context, chatID, userID int64) error
	UnbanChatMember(ctx context.Context, chatID, userID int64) error
	SendMessage(ctx context.Context, req telegram.SendMessageRequest) (*telegram.Message, error)
}

type Service struct {
	store    *docstore.Store
	platform Platform
	logger   *slog.Logger

	chatID  int64
	ownerID string

	now func() time.Time
}

func NewService(store *docstore.Store, platform Platform, chatID int64, ownerID string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		platform: platform,
		logger:   logger,
		chatID:   chatID,
		ownerID:  ownerID,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Mute silences userID for duration (default 300s). Banned users stay banned
// and the owner is never mutable.
func (s *Service) Mute(ctx context.Context, userID string, duration time.Duration, reason string) error {
	if userID == s.ownerID {
		return ErrOwnerProtected
	}
	if duration <= 0 {
		duration = DefaultMuteDuration
	}
	if reason == "" {
		reason = defaultMuteReason
	}
	until := s.now().In(docstore.Location()).Add(duration)
	end := docstore.FormatTime(until)

	err := s.store.Update(ctx, func(doc *docstore.Document) error {
		if doc.IsBanned(userID) {
			return ErrUserBanned
		}
		if doc.FindUser(userID) == nil {
			return ErrUnknownUser
		}
		doc.SetMuted(userID, end, reason)
		return nil
	})
	if err != nil {
		return err
	}

	s.restrict(ctx, userID, telegram.MutedPermissions(), until)
	s.notify(ctx, userID, fmt.Sprintf("Вам заборонено писати боту до %s.\nПричина: %s", end, reason))
	s.logger.Info("user_muted", "user_id", userID, "until", end, "reason", reason)
	return nil
}

// Unmute lifts a mute. Rejected while the user is banned; unban is the only
// path out of banned.
func (s *Service) Unmute(ctx context.Context, userID string) error {
	err := s.store.Update(ctx, func(doc *docstore.Document) error {
		if doc.IsBanned(userID) {
			return ErrUserBanned
		}
		if doc.FindUser(userID) == nil {
			return ErrUnknownUser
		}
		doc.ClearMuted(userID)
		return nil
	})
	if err != nil {
		return err
	}

	s.restrict(ctx, userID, telegram.UnmutedPermissions(), time.Time{})
	s.notify(ctx, userID, "Вам знову дозволено писати боту.")
	s.logger.Info("user_unmuted", "user_id", userID)
	return nil
}

// Ban records the ban and forces the muted-forever representation alongside it.
func (s *Service) Ban(ctx context.Context, userID, reason string) error {
	if userID == s.ownerID {
		return ErrOwnerProtected
	}
	if reason == "" {
		reason = defaultBanReason
	}
	date := docstore.FormatTime(s.now().In(docstore.Location()))

	err := s.store.Update(ctx, func(doc *docstore.Document) error {
		if doc.FindUser(userID) == nil {
			return ErrUnknownUser
		}
		doc.SetBanned(userID, reason, date)
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(ctx, userID, fmt.Sprintf("Вас заблоковано назавжди.\nПричина: %s", reason))
	if uid, ok := parseUserID(userID); ok {
		if err := s.platform.BanChatMember(ctx, s.chatID, uid); err != nil {
			s.logger.Warn("platform_ban_error", "user_id", userID, "error", err)
		}
	}
	s.logger.Info("user_banned", "user_id", userID, "reason", reason)
	return nil
}

// Unban lifts the ban and every mute remnant it left behind.
func (s *Service) Unban(ctx context.Context, userID string) error {
	err := s.store.Update(ctx, func(doc *docstore.Document) error {
		if doc.FindUser(userID) == nil {
			return ErrUnknownUser
		}
		doc.ClearBanned(userID)
		return nil
	})
	if err != nil {
		return err
	}

	if uid, ok := parseUserID(userID); ok {
		if err := s.platform.UnbanChatMember(ctx, s.chatID, uid); err != nil {
			s.logger.Warn("platform_unban_error", "user_id", userID, "error", err)
		}
	}
	s.restrict(ctx, userID, telegram.UnmutedPermissions(), time.Time{})
	s.notify(ctx, userID, "Вас розблоковано.")
	s.logger.Info("user_unbanned", "user_id", userID)
	return nil
}

// Sweep lifts every mute whose deadline has passed. Sentinel and malformed
// deadlines never auto-expire. All transitions land in one store update;
// platform and notification failures are logged per user and never block the
// rest of the sweep.
func (s *Service) Sweep(ctx context.Context) error {
	now := s.now().In(docstore.Location())

	var expired []string
	err := s.store.Update(ctx, func(doc *docstore.Document) error {
		expired = expired[:0]
		for i := range doc.Users {
			u := &doc.Users[i]
			if !u.Mute || u.MuteEnd == nil {
				continue
			}
			end, ok := docstore.ParseTime(*u.MuteEnd)
			if !ok {
				continue
			}
			if end.After(now) {
				continue
			}
			expired = append(expired, u.ID)
		}
		for _, id := range expired {
			doc.ClearMuted(id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range expired {
		s.restrict(ctx, id, telegram.UnmutedPermissions(), time.Time{})
		s.notify(ctx, id, "Час вашого обмеження минув. Вам знову дозволено писати боту.")
	}
	if len(expired) > 0 {
		s.logger.Info("sweep_unmuted", "count", len(expired))
	}
	return nil
}

// RunSweeper runs Sweep on a ticker until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep_error", "error", err)
			}
		}
	}
}

func (s *Service) restrict(ctx context.Context, userID string, perms telegram.ChatPermissions, until time.Time) {
	uid, ok := parseUserID(userID)
	if !ok {
		s.logger.Warn("restrict_skip_bad_user_id", "user_id", userID)
		return
	}
	if err := s.platform.RestrictChatMember(ctx, s.chatID, uid, perms, until); err != nil {
		s.logger.Warn("platform_restrict_error", "user_id", userID, "error", err)
	}
}

// notify DMs the user about the transition. Blocked bots and closed chats are
// expected here, so failures only get a log line.
func (s *Service) notify(ctx context.Context, userID, text string) {
	uid, ok := parseUserID(userID)
	if !ok {
		return
	}
	if _, err := s.platform.SendMessage(ctx, telegram.SendMessageRequest{ChatID: uid, Text: text}); err != nil {
		s.logger.Warn("notify_user_error", "user_id", userID, "error", err)
	}
}

func parseUserID(userID string) (int64, bool) {
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, false
	}
	return uid, true
}
