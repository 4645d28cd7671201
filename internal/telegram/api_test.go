package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordedCall struct {
	Method  string
	Payload map[string]any
}

// fakeBotServer serves the Bot API shape: /bot<token>/<method> with a
// configurable responder per method.
type fakeBotServer struct {
	t *testing.T

	mu       sync.Mutex
	calls    []recordedCall
	handlers map[string]func(payload map[string]any) (status int, body string)

	server *httptest.Server
}

func newFakeBotServer(t *testing.T) *fakeBotServer {
	t.Helper()
	fb := &fakeBotServer{
		t:        t,
		handlers: map[string]func(map[string]any) (int, string){},
	}
	fb.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		method := parts[len(parts)-1]

		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)

		fb.mu.Lock()
		fb.calls = append(fb.calls, recordedCall{Method: method, Payload: payload})
		handler := fb.handlers[method]
		fb.mu.Unlock()

		if handler == nil {
			w.Write([]byte(`{"ok":true,"result":{}}`))
			return
		}
		status, body := handler(payload)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBotServer) respond(method string, fn func(map[string]any) (int, string)) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.handlers[method] = fn
}

func (fb *fakeBotServer) callsTo(method string) []recordedCall {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	var out []recordedCall
	for _, c := range fb.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (fb *fakeBotServer) api() *API {
	return New(fb.server.Client(), fb.server.URL, "TEST_TOKEN")
}

func TestCallDecodesResult(t *testing.T) {
	t.Parallel()

	fb := newFakeBotServer(t)
	fb.respond("getMe", func(map[string]any) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Helper","username":"helper_bot"}}`
	})

	me, err := fb.api().GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe() error = %v", err)
	}
	if me.ID != 42 {
		t.Fatalf("id mismatch: got %d want 42", me.ID)
	}
	if me.Username != "helper_bot" {
		t.Fatalf("username mismatch: got %q want %q", me.Username, "helper_bot")
	}
}

func TestCallReturnsRequestError(t *testing.T) {
	t.Parallel()

	fb := newFakeBotServer(t)
	fb.respond("sendMessage", func(map[string]any) (int, string) {
		return http.StatusForbidden, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`
	})

	_, err := fb.api().SendMessage(context.Background(), SendMessageRequest{ChatID: 7, Text: "hi"})
	if err == nil {
		t.Fatalf("SendMessage() expected error")
	}
	if !IsBlockedByUser(err) {
		t.Fatalf("IsBlockedByUser() = false for %v", err)
	}
	if IsMarkdownParseError(err) {
		t.Fatalf("IsMarkdownParseError() = true for %v", err)
	}
}

func TestGetUpdatesAdvancesOffset(t *testing.T) {
	t.Parallel()

	fb := newFakeBotServer(t)
	fb.respond("getUpdates", func(map[string]any) (int, string) {
		return http.StatusOK, `{"ok":true,"result":[
			{"update_id":100,"message":{"message_id":1,"text":"a"}},
			{"update_id":102,"message":{"message_id":2,"text":"b"}}
		]}`
	})

	updates, next, err := fb.api().GetUpdates(context.Background(), 0, time.Second)
	if err != nil {
		t.Fatalf("GetUpdates() error = %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("updates length mismatch: got %d want 2", len(updates))
	}
	if next != 103 {
		t.Fatalf("next offset mismatch: got %d want 103", next)
	}
}

func TestSendMessageMarkdownV2FallsBackToEscaped(t *testing.T) {
	t.Parallel()

	fb := newFakeBotServer(t)
	fb.respond("sendMessage", func(payload map[string]any) (int, string) {
		text, _ := payload["text"].(string)
		if strings.Contains(text, "\\") {
			return http.StatusOK, `{"ok":true,"result":{"message_id":9}}`
		}
		return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`
	})

	msg, err := fb.api().SendMessageMarkdownV2(context.Background(), SendMessageRequest{
		ChatID: 7,
		Text:   "price: 2+2=4 (approx.)",
	})
	if err != nil {
		t.Fatalf("SendMessageMarkdownV2() error = %v", err)
	}
	if msg.MessageID != 9 {
		t.Fatalf("message_id mismatch: got %d want 9", msg.MessageID)
	}
	calls := fb.callsTo("sendMessage")
	if len(calls) != 2 {
		t.Fatalf("sendMessage calls mismatch: got %d want 2", len(calls))
	}
}

func TestSendMessageMarkdownV2FallsBackToPlain(t *testing.T) {
	t.Parallel()

	fb := newFakeBotServer(t)
	fb.respond("sendMessage", func(payload map[string]any) (int, string) {
		if mode, _ := payload["parse_mode"].(string); mode != "" {
			return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`
		}
		return http.StatusOK, `{"ok":true,"result":{"message_id":11}}`
	})

	msg, err := fb.api().SendMessageMarkdownV2(context.Background(), SendMessageRequest{ChatID: 7, Text: "_"})
	if err != nil {
		t.Fatalf("SendMessageMarkdownV2() error = %v", err)
	}
	if msg.MessageID != 11 {
		t.Fatalf("message_id mismatch: got %d want 11", msg.MessageID)
	}
}

func TestCreateForumTopicTruncatesName(t *testing.T) {
	t.Parallel()

	fb := newFakeBotServer(t)
	fb.respond("createForumTopic", func(payload map[string]any) (int, string) {
		name, _ := payload["name"].(string)
		if got := len([]rune(name)); got > MaxTopicNameLen {
			return http.StatusBadRequest, fmt.Sprintf(`{"ok":false,"error_code":400,"description":"name too long: %d"}`, got)
		}
		return http.StatusOK, `{"ok":true,"result":{"message_thread_id":555,"name":"ok"}}`
	})

	long := strings.Repeat("й", 300)
	topic, err := fb.api().CreateForumTopic(context.Background(), -100123, long)
	if err != nil {
		t.Fatalf("CreateForumTopic() error = %v", err)
	}
	if topic.MessageThreadID != 555 {
		t.Fatalf("thread id mismatch: got %d want 555", topic.MessageThreadID)
	}
}

func TestRestrictChatMemberCarriesPermissions(t *testing.T) {
	t.Parallel()

	fb := newFakeBotServer(t)
	api := fb.api()

	until := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := api.RestrictChatMember(context.Background(), -100123, 77, MutedPermissions(), until); err != nil {
		t.Fatalf("RestrictChatMember() error = %v", err)
	}

	calls := fb.callsTo("restrictChatMember")
	if len(calls) != 1 {
		t.Fatalf("restrictChatMember calls mismatch: got %d want 1", len(calls))
	}
	perms, ok := calls[0].Payload["permissions"].(map[string]any)
	if !ok {
		t.Fatalf("permissions missing from payload: %v", calls[0].Payload)
	}
	if canSend, _ := perms["can_send_messages"].(bool); canSend {
		t.Fatalf("can_send_messages mismatch: got true want false")
	}
	if gotUntil, _ := calls[0].Payload["until_date"].(float64); int64(gotUntil) != until.Unix() {
		t.Fatalf("until_date mismatch: got %v want %d", calls[0].Payload["until_date"], until.Unix())
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	t.Parallel()

	got := EscapeMarkdownV2("a_b*c[d]e(f)g.h!i")
	want := `a\_b\*c\[d\]e\(f\)g\.h\!i`
	if got != want {
		t.Fatalf("escape mismatch: got %q want %q", got, want)
	}
	if EscapeMarkdownV2("") != "" {
		t.Fatalf("empty input should stay empty")
	}
}
