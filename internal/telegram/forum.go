package telegram

import (
	"context"
	"time"
)

// MaxTopicNameLen is the Bot API limit for forum topic names.
const MaxTopicNameLen = 128

// TruncateTopicName shortens a topic name to the API limit without splitting
// a rune.
func TruncateTopicName(name string) string {
	runes := []rune(name)
	if len(runes) <= MaxTopicNameLen {
		return name
	}
	return string(runes[:MaxTopicNameLen])
}

func (api *API) CreateForumTopic(ctx context.Context, chatID int64, name string) (*ForumTopic, error) {
	var topic ForumTopic
	err := api.call(ctx, "createForumTopic", map[string]any{
		"chat_id": chatID,
		"name":    TruncateTopicName(name),
	}, &topic)
	if err != nil {
		return nil, err
	}
	return &topic, nil
}

func (api *API) PinChatMessage(ctx context.Context, chatID, messageID int64) error {
	return api.call(ctx, "pinChatMessage", map[string]any{
		"chat_id":              chatID,
		"message_id":           messageID,
		"disable_notification": true,
	}, nil)
}

// RestrictChatMember applies perms to the user. A zero until means the
// restriction has no expiry on the platform side.
func (api *API) RestrictChatMember(ctx context.Context, chatID, userID int64, perms ChatPermissions, until time.Time) error {
	payload := map[string]any{
		"chat_id":     chatID,
		"user_id":     userID,
		"permissions": perms,
	}
	if !until.IsZero() {
		payload["until_date"] = until.Unix()
	}
	return api.call(ctx, "restrictChatMember", payload, nil)
}

func (api *API) BanChatMember(ctx context.Context, chatID, userID int64) error {
	return api.call(ctx, "banChatMember", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	}, nil)
}

func (api *API) UnbanChatMember(ctx context.Context, chatID, userID int64) error {
	return api.call(ctx, "unbanChatMember", map[string]any{
		"chat_id":        chatID,
		"user_id":        userID,
		"only_if_banned": true,
	}, nil)
}
