package telegram

import "context"

// PayloadKind names the attachment family a relayed message carries.
type PayloadKind string

const (
	PayloadText      PayloadKind = "text"
	PayloadPhoto     PayloadKind = "photo"
	PayloadDocument  PayloadKind = "document"
	PayloadSticker   PayloadKind = "sticker"
	PayloadVoice     PayloadKind = "voice"
	PayloadVideo     PayloadKind = "video"
	PayloadVideoNote PayloadKind = "video_note"
)

// Payload is the platform-independent content of a message: either text or a
// file reference plus optional caption. Relaying re-sends the same file_id
// rather than downloading and re-uploading media.
type Payload struct {
	Kind    PayloadKind
	Text    string
	FileID  string
	Caption string
}

// SupportsCaption reports whether the kind can carry a caption on send.
// Stickers and video notes cannot, so their caption travels as a separate
// text message.
func (p Payload) SupportsCaption() bool {
	switch p.Kind {
	case PayloadSticker, PayloadVideoNote, PayloadText:
		return false
	default:
		return true
	}
}

// PayloadFromMessage extracts the relayable content of msg. For photos the
// largest size is used.
func PayloadFromMessage(msg *Message) Payload {
	if msg == nil {
		return Payload{Kind: PayloadText}
	}
	switch {
	case len(msg.Photo) > 0:
		return Payload{Kind: PayloadPhoto, FileID: msg.Photo[len(msg.Photo)-1].FileID, Caption: msg.Caption}
	case msg.Document != nil:
		return Payload{Kind: PayloadDocument, FileID: msg.Document.FileID, Caption: msg.Caption}
	case msg.Sticker != nil:
		return Payload{Kind: PayloadSticker, FileID: msg.Sticker.FileID}
	case msg.Voice != nil:
		return Payload{Kind: PayloadVoice, FileID: msg.Voice.FileID, Caption: msg.Caption}
	case msg.Video != nil:
		return Payload{Kind: PayloadVideo, FileID: msg.Video.FileID, Caption: msg.Caption}
	case msg.VideoNote != nil:
		return Payload{Kind: PayloadVideoNote, FileID: msg.VideoNote.FileID}
	default:
		return Payload{Kind: PayloadText, Text: msg.Text}
	}
}

// SendPayloadRequest addresses a payload at a chat, optionally inside a forum
// thread or as a reply. ParseMode applies to the caption.
type SendPayloadRequest struct {
	ChatID           int64
	MessageThreadID  int64
	ReplyToMessageID int64
	ParseMode        string
	Payload          Payload
}

var kindToMethod = map[PayloadKind]string{
	PayloadPhoto:     "sendPhoto",
	PayloadDocument:  "sendDocument",
	PayloadSticker:   "sendSticker",
	PayloadVoice:     "sendVoice",
	PayloadVideo:     "sendVideo",
	PayloadVideoNote: "sendVideoNote",
}

var kindToField = map[PayloadKind]string{
	PayloadPhoto:     "photo",
	PayloadDocument:  "document",
	PayloadSticker:   "sticker",
	PayloadVoice:     "voice",
	PayloadVideo:     "video",
	PayloadVideoNote: "video_note",
}

// SendPayload dispatches the payload to the method matching its kind and
// returns the sent message for ledger bookkeeping.
func (api *API) SendPayload(ctx context.Context, req SendPayloadRequest) (*Message, error) {
	if req.Payload.Kind == PayloadText || req.Payload.Kind == "" {
		return api.SendMessage(ctx, SendMessageRequest{
			ChatID:           req.ChatID,
			MessageThreadID:  req.MessageThreadID,
			ReplyToMessageID: req.ReplyToMessageID,
			Text:             req.Payload.Text,
		})
	}

	method, ok := kindToMethod[req.Payload.Kind]
	if !ok {
		return api.SendMessage(ctx, SendMessageRequest{
			ChatID:           req.ChatID,
			MessageThreadID:  req.MessageThreadID,
			ReplyToMessageID: req.ReplyToMessageID,
			Text:             req.Payload.Text,
		})
	}

	payload := map[string]any{"chat_id": req.ChatID}
	payload[kindToField[req.Payload.Kind]] = req.Payload.FileID
	if req.MessageThreadID != 0 {
		payload["message_thread_id"] = req.MessageThreadID
	}
	if req.ReplyToMessageID != 0 {
		payload["reply_to_message_id"] = req.ReplyToMessageID
	}
	if req.Payload.Caption != "" && req.Payload.SupportsCaption() {
		payload["caption"] = req.Payload.Caption
		if req.ParseMode != "" {
			payload["parse_mode"] = req.ParseMode
		}
	}

	var msg Message
	if err := api.call(ctx, method, payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendPayloadMarkdownV2 applies the same formatting ladder as
// SendMessageMarkdownV2 to the caption: MarkdownV2, then the fully escaped
// caption, then plain.
func (api *API) SendPayloadMarkdownV2(ctx context.Context, req SendPayloadRequest) (*Message, error) {
	req.ParseMode = "MarkdownV2"
	msg, err := api.SendPayload(ctx, req)
	if err == nil {
		return msg, nil
	}
	if IsMarkdownParseError(err) {
		escaped := req
		escaped.Payload.Caption = EscapeMarkdownV2(req.Payload.Caption)
		if msg, err2 := api.SendPayload(ctx, escaped); err2 == nil {
			return msg, nil
		}
	}
	plain := req
	plain.ParseMode = ""
	return api.SendPayload(ctx, plain)
}
