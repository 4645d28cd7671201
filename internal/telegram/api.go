package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.telegram.org"

// API is a thin Bot API client: JSON over net/http, one method per endpoint
// the bot actually uses.
type API struct {
	http    *http.Client
	baseURL string
	token   string
}

func New(httpClient *http.Client, baseURL, token string) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &API{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// call posts payload to the named method and unmarshals result into out
// (out may be nil for methods whose result the caller ignores).
func (api *API) call(ctx context.Context, method string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("telegram %s: encode: %w", method, err)
		}
		body = bytes.NewReader(b)
	}
	url := fmt.Sprintf("%s/bot%s/%s", api.baseURL, api.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := api.http.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var parsed apiResponse
	_ = json.Unmarshal(raw, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !parsed.OK {
		return &RequestError{
			StatusCode:  resp.StatusCode,
			ErrorCode:   parsed.ErrorCode,
			Description: parsed.Description,
			Body:        strings.TrimSpace(string(raw)),
		}
	}
	if out != nil && len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

func (api *API) GetMe(ctx context.Context) (*User, error) {
	var u User
	if err := api.call(ctx, "getMe", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (api *API) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var c Chat
	err := api.call(ctx, "getChat", map[string]any{"chat_id": chatID}, &c)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetUpdates long-polls for updates and returns the next offset to ack.
func (api *API) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	payload := map[string]any{"timeout": secs}
	if offset > 0 {
		payload["offset"] = offset
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	var updates []Update
	if err := api.call(reqCtx, "getUpdates", payload, &updates); err != nil {
		return nil, offset, err
	}
	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

type SendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	MessageThreadID       int64  `json:"message_thread_id,omitempty"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
	ReplyToMessageID      int64  `json:"reply_to_message_id,omitempty"`
	ReplyMarkup           any    `json:"reply_markup,omitempty"`
}

func (api *API) SendMessage(ctx context.Context, req SendMessageRequest) (*Message, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		req.Text = "(empty)"
	}
	var msg Message
	if err := api.call(ctx, "sendMessage", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendMessageMarkdownV2 tries MarkdownV2 first, then the fully escaped text,
// then plain text, so a formatting reject never loses the message.
func (api *API) SendMessageMarkdownV2(ctx context.Context, req SendMessageRequest) (*Message, error) {
	req.ParseMode = "MarkdownV2"
	msg, err := api.SendMessage(ctx, req)
	if err == nil {
		return msg, nil
	}
	if IsMarkdownParseError(err) {
		escaped := req
		escaped.Text = EscapeMarkdownV2(req.Text)
		if msg, err2 := api.SendMessage(ctx, escaped); err2 == nil {
			return msg, nil
		}
	}
	plain := req
	plain.ParseMode = ""
	return api.SendMessage(ctx, plain)
}

func (api *API) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	return api.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}, nil)
}

func (api *API) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return api.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

func (api *API) SendChatAction(ctx context.Context, chatID int64, action string) error {
	if strings.TrimSpace(action) == "" {
		action = "typing"
	}
	return api.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  action,
	}, nil)
}

func (api *API) AnswerCallbackQuery(ctx context.Context, callbackQueryID string) error {
	return api.call(ctx, "answerCallbackQuery", map[string]any{
		"callback_query_id": callbackQueryID,
	}, nil)
}

type commandScope struct {
	Type   string `json:"type"`
	ChatID int64  `json:"chat_id,omitempty"`
}

// SetMyCommands registers the default command menu.
func (api *API) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	return api.call(ctx, "setMyCommands", map[string]any{
		"commands": commands,
		"scope":    commandScope{Type: "default"},
	}, nil)
}

// SetChatCommands registers a per-chat command menu (staff and cave chats).
func (api *API) SetChatCommands(ctx context.Context, chatID int64, commands []BotCommand) error {
	return api.call(ctx, "setMyCommands", map[string]any{
		"commands": commands,
		"scope":    commandScope{Type: "chat", ChatID: chatID},
	}, nil)
}
