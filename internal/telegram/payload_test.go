package telegram

import (
	"context"
	"net/http"
	"testing"
)

func TestPayloadFromMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		msg  *Message
		want Payload
	}{
		{
			name: "text",
			msg:  &Message{Text: "hello"},
			want: Payload{Kind: PayloadText, Text: "hello"},
		},
		{
			name: "photo picks largest size",
			msg: &Message{
				Photo:   []PhotoSize{{FileID: "small"}, {FileID: "large"}},
				Caption: "look",
			},
			want: Payload{Kind: PayloadPhoto, FileID: "large", Caption: "look"},
		},
		{
			name: "document",
			msg:  &Message{Document: &Document{FileID: "doc1"}, Caption: "report"},
			want: Payload{Kind: PayloadDocument, FileID: "doc1", Caption: "report"},
		},
		{
			name: "sticker drops caption",
			msg:  &Message{Sticker: &Sticker{FileID: "stk1"}, Caption: "ignored"},
			want: Payload{Kind: PayloadSticker, FileID: "stk1"},
		},
		{
			name: "voice",
			msg:  &Message{Voice: &Voice{FileID: "v1"}},
			want: Payload{Kind: PayloadVoice, FileID: "v1"},
		},
		{
			name: "video note",
			msg:  &Message{VideoNote: &VideoNote{FileID: "vn1"}},
			want: Payload{Kind: PayloadVideoNote, FileID: "vn1"},
		},
		{
			name: "nil message",
			msg:  nil,
			want: Payload{Kind: PayloadText},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := PayloadFromMessage(tc.msg)
			if got != tc.want {
				t.Fatalf("payload mismatch: got %+v want %+v", got, tc.want)
			}
		})
	}
}

func TestSupportsCaption(t *testing.T) {
	t.Parallel()

	if (Payload{Kind: PayloadSticker}).SupportsCaption() {
		t.Fatalf("sticker should not carry a caption")
	}
	if (Payload{Kind: PayloadVideoNote}).SupportsCaption() {
		t.Fatalf("video note should not carry a caption")
	}
	if !(Payload{Kind: PayloadPhoto}).SupportsCaption() {
		t.Fatalf("photo should carry a caption")
	}
}

func TestSendPayloadDispatchesByKind(t *testing.T) {
	t.Parallel()

	fb := newFakeBotServer(t)
	fb.respond("sendPhoto", func(map[string]any) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"message_id":31}}`
	})
	fb.respond("sendSticker", func(map[string]any) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"message_id":32}}`
	})
	api := fb.api()

	msg, err := api.SendPayload(context.Background(), SendPayloadRequest{
		ChatID:          -100123,
		MessageThreadID: 555,
		Payload:         Payload{Kind: PayloadPhoto, FileID: "ph1", Caption: "see"},
	})
	if err != nil {
		t.Fatalf("SendPayload(photo) error = %v", err)
	}
	if msg.MessageID != 31 {
		t.Fatalf("message_id mismatch: got %d want 31", msg.MessageID)
	}
	photoCalls := fb.callsTo("sendPhoto")
	if len(photoCalls) != 1 {
		t.Fatalf("sendPhoto calls mismatch: got %d want 1", len(photoCalls))
	}
	if got, _ := photoCalls[0].Payload["caption"].(string); got != "see" {
		t.Fatalf("caption mismatch: got %q want %q", got, "see")
	}
	if got, _ := photoCalls[0].Payload["message_thread_id"].(float64); int64(got) != 555 {
		t.Fatalf("thread id mismatch: got %v want 555", photoCalls[0].Payload["message_thread_id"])
	}

	if _, err := api.SendPayload(context.Background(), SendPayloadRequest{
		ChatID:  7,
		Payload: Payload{Kind: PayloadSticker, FileID: "stk1", Caption: "must be dropped"},
	}); err != nil {
		t.Fatalf("SendPayload(sticker) error = %v", err)
	}
	stickerCalls := fb.callsTo("sendSticker")
	if len(stickerCalls) != 1 {
		t.Fatalf("sendSticker calls mismatch: got %d want 1", len(stickerCalls))
	}
	if _, present := stickerCalls[0].Payload["caption"]; present {
		t.Fatalf("sticker payload should not include caption: %v", stickerCalls[0].Payload)
	}
}

func TestSendPayloadMarkdownV2SetsCaptionParseMode(t *testing.T) {
	t.Parallel()

	fb := newFakeBotServer(t)
	fb.respond("sendPhoto", func(map[string]any) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"message_id":41}}`
	})

	_, err := fb.api().SendPayloadMarkdownV2(context.Background(), SendPayloadRequest{
		ChatID:  7,
		Payload: Payload{Kind: PayloadPhoto, FileID: "ph1", Caption: "*bold*"},
	})
	if err != nil {
		t.Fatalf("SendPayloadMarkdownV2() error = %v", err)
	}
	calls := fb.callsTo("sendPhoto")
	if len(calls) != 1 {
		t.Fatalf("sendPhoto calls mismatch: got %d want 1", len(calls))
	}
	if got, _ := calls[0].Payload["parse_mode"].(string); got != "MarkdownV2" {
		t.Fatalf("parse_mode mismatch: got %q want %q", got, "MarkdownV2")
	}
}

func TestSendPayloadMarkdownV2FallsBackToEscapedCaption(t *testing.T) {
	t.Parallel()

	fb := newFakeBotServer(t)
	fb.respond("sendPhoto", func(payload map[string]any) (int, string) {
		caption, _ := payload["caption"].(string)
		if payload["parse_mode"] == "MarkdownV2" && caption == "broken *caption" {
			return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`
		}
		return http.StatusOK, `{"ok":true,"result":{"message_id":42}}`
	})

	msg, err := fb.api().SendPayloadMarkdownV2(context.Background(), SendPayloadRequest{
		ChatID:  7,
		Payload: Payload{Kind: PayloadPhoto, FileID: "ph1", Caption: "broken *caption"},
	})
	if err != nil {
		t.Fatalf("SendPayloadMarkdownV2() error = %v", err)
	}
	if msg.MessageID != 42 {
		t.Fatalf("message_id mismatch: got %d want 42", msg.MessageID)
	}
	calls := fb.callsTo("sendPhoto")
	if len(calls) != 2 {
		t.Fatalf("sendPhoto calls mismatch: got %d want 2", len(calls))
	}
	if got, _ := calls[1].Payload["caption"].(string); got != EscapeMarkdownV2("broken *caption") {
		t.Fatalf("second attempt should escape the caption: got %q", got)
	}
}

func TestSendPayloadTextUsesSendMessage(t *testing.T) {
	t.Parallel()

	fb := newFakeBotServer(t)
	fb.respond("sendMessage", func(map[string]any) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"message_id":33,"text":"plain"}}`
	})

	msg, err := fb.api().SendPayload(context.Background(), SendPayloadRequest{
		ChatID:  7,
		Payload: Payload{Kind: PayloadText, Text: "plain"},
	})
	if err != nil {
		t.Fatalf("SendPayload(text) error = %v", err)
	}
	if msg.MessageID != 33 {
		t.Fatalf("message_id mismatch: got %d want 33", msg.MessageID)
	}
	if len(fb.callsTo("sendMessage")) != 1 {
		t.Fatalf("sendMessage should be called once")
	}
}
