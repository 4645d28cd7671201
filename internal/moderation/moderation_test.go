package moderation

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/docstore"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/telegram"
)

type restrictCall struct {
	ChatID int64
	UserID int64
	Perms  telegram.ChatPermissions
	Until  time.Time
}

type fakePlatform struct {
	mu        sync.Mutex
	restricts []restrictCall
	bans      []int64
	unbans    []int64
	messages  []telegram.SendMessageRequest

	sendErr error
}

func (f *fakePlatform) RestrictChatMember(_ context.Context, chatID, userID int64, perms telegram.ChatPermissions, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restricts = append(f.restricts, restrictCall{ChatID: chatID, UserID: userID, Perms: perms, Until: until})
	return nil
}

func (f *fakePlatform) BanChatMember(_ context.Context, _, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bans = append(f.bans, userID)
	return nil
}

func (f *fakePlatform) UnbanChatMember(_ context.Context, _, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unbans = append(f.unbans, userID)
	return nil
}

func (f *fakePlatform) SendMessage(_ context.Context, req telegram.SendMessageRequest) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, req)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &telegram.Message{MessageID: int64(len(f.messages))}, nil
}

func newTestService(t *testing.T) (*Service, *docstore.Store, *fakePlatform) {
	t.Helper()
	store := docstore.NewStore(filepath.Join(t.TempDir(), "data.json"), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	platform := &fakePlatform{}
	svc := NewService(store, platform, -100900, "1", slog.New(slog.NewTextHandler(os.Stderr, nil)))
	svc.SetClock(func() time.Time {
		return time.Date(2025, 6, 5, 12, 0, 0, 0, docstore.Location())
	})
	if err := store.Update(context.Background(), func(doc *docstore.Document) error {
		doc.EnsureUser("1", "owner", "Owner", "12:00; 01/01/2025")
		doc.EnsureUser("42", "alice", "Alice", "12:00; 01/01/2025")
		doc.EnsureUser("43", "bob", "Bob", "12:00; 01/01/2025")
		return nil
	}); err != nil {
		t.Fatalf("seed users: %v", err)
	}
	return svc, store, platform
}

func TestMuteDefaultsAndPersists(t *testing.T) {
	t.Parallel()

	svc, store, platform := newTestService(t)
	if err := svc.Mute(context.Background(), "42", 0, ""); err != nil {
		t.Fatalf("Mute() error = %v", err)
	}

	doc, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	u := doc.FindUser("42")
	if u == nil || !u.Mute {
		t.Fatalf("user not muted: %+v", u)
	}
	wantEnd := docstore.FormatTime(time.Date(2025, 6, 5, 12, 5, 0, 0, docstore.Location()))
	if u.MuteEnd == nil || *u.MuteEnd != wantEnd {
		t.Fatalf("mute_end mismatch: got %v want %q", u.MuteEnd, wantEnd)
	}
	entry, ok := doc.MutedUsers["42"]
	if !ok || entry.Expiration == nil || *entry.Expiration != wantEnd {
		t.Fatalf("muted index mismatch: %+v", entry)
	}

	if len(platform.restricts) != 1 {
		t.Fatalf("restrict calls mismatch: got %d want 1", len(platform.restricts))
	}
	if platform.restricts[0].Perms.CanSendMessages {
		t.Fatalf("mute should revoke can_send_messages")
	}
	if len(platform.messages) != 1 || platform.messages[0].ChatID != 42 {
		t.Fatalf("notification mismatch: %+v", platform.messages)
	}
}

func TestMuteRejectsOwnerAndBanned(t *testing.T) {
	t.Parallel()

	svc, store, _ := newTestService(t)
	if err := svc.Mute(context.Background(), "1", time.Minute, "x"); !errors.Is(err, ErrOwnerProtected) {
		t.Fatalf("Mute(owner) error = %v, want ErrOwnerProtected", err)
	}

	if err := svc.Ban(context.Background(), "43", "spam"); err != nil {
		t.Fatalf("Ban() error = %v", err)
	}
	if err := svc.Mute(context.Background(), "43", time.Minute, "x"); !errors.Is(err, ErrUserBanned) {
		t.Fatalf("Mute(banned) error = %v, want ErrUserBanned", err)
	}

	doc, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	u := doc.FindUser("43")
	if u.MuteEnd == nil || *u.MuteEnd != docstore.MuteForever {
		t.Fatalf("banned user mute_end mismatch: got %v want %q", u.MuteEnd, docstore.MuteForever)
	}
}

func TestMuteUnknownUser(t *testing.T) {
	t.Parallel()

	svc, _, platform := newTestService(t)
	if err := svc.Mute(context.Background(), "999", time.Minute, "x"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("Mute(unknown) error = %v, want ErrUnknownUser", err)
	}
	if len(platform.restricts) != 0 {
		t.Fatalf("no platform calls expected for unknown user")
	}
}

func TestUnmuteRejectedWhileBanned(t *testing.T) {
	t.Parallel()

	svc, store, platform := newTestService(t)
	if err := svc.Ban(context.Background(), "42", "spam"); err != nil {
		t.Fatalf("Ban() error = %v", err)
	}
	if err := svc.Unmute(context.Background(), "42"); !errors.Is(err, ErrUserBanned) {
		t.Fatalf("Unmute(banned) error = %v, want ErrUserBanned", err)
	}

	if err := svc.Unban(context.Background(), "42"); err != nil {
		t.Fatalf("Unban() error = %v", err)
	}
	doc, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if doc.IsBanned("42") {
		t.Fatalf("user still banned after Unban()")
	}
	if u := doc.FindUser("42"); u.Mute || u.MuteEnd != nil {
		t.Fatalf("mute remnants after Unban(): %+v", u)
	}
	if len(platform.unbans) != 1 || platform.unbans[0] != 42 {
		t.Fatalf("platform unban mismatch: %v", platform.unbans)
	}
}

func TestBanRejectsOwner(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	if err := svc.Ban(context.Background(), "1", "x"); !errors.Is(err, ErrOwnerProtected) {
		t.Fatalf("Ban(owner) error = %v, want ErrOwnerProtected", err)
	}
}

func TestSweepLiftsOnlyExpiredMutes(t *testing.T) {
	t.Parallel()

	svc, store, platform := newTestService(t)
	past := docstore.FormatTime(time.Date(2025, 6, 5, 11, 0, 0, 0, docstore.Location()))
	future := docstore.FormatTime(time.Date(2025, 6, 5, 13, 0, 0, 0, docstore.Location()))
	if err := store.Update(context.Background(), func(doc *docstore.Document) error {
		doc.EnsureUser("50", "carol", "Carol", past)
		doc.EnsureUser("51", "dave", "Dave", past)
		doc.EnsureUser("52", "erin", "Erin", past)
		doc.SetMuted("42", past, "expired")
		doc.SetMuted("50", future, "still muted")
		doc.SetMuted("51", docstore.MuteForever, "sentinel")
		doc.SetMuted("52", "not a timestamp", "malformed")
		return nil
	}); err != nil {
		t.Fatalf("seed mutes: %v", err)
	}

	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	doc, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if u := doc.FindUser("42"); u.Mute {
		t.Fatalf("expired mute not lifted: %+v", u)
	}
	if _, ok := doc.MutedUsers["42"]; ok {
		t.Fatalf("expired mute still in muted index")
	}
	for _, id := range []string{"50", "51", "52"} {
		if u := doc.FindUser(id); !u.Mute {
			t.Fatalf("user %s should stay muted", id)
		}
	}
	if len(platform.restricts) != 1 || platform.restricts[0].UserID != 42 {
		t.Fatalf("restore calls mismatch: %+v", platform.restricts)
	}
	if !platform.restricts[0].Perms.CanSendMessages {
		t.Fatalf("sweep should restore permissions")
	}
}

func TestSweepNotifyFailureDoesNotBlock(t *testing.T) {
	t.Parallel()

	svc, store, platform := newTestService(t)
	platform.sendErr = errors.New("blocked")
	past := docstore.FormatTime(time.Date(2025, 6, 5, 11, 0, 0, 0, docstore.Location()))
	if err := store.Update(context.Background(), func(doc *docstore.Document) error {
		doc.SetMuted("42", past, "a")
		doc.SetMuted("43", past, "b")
		return nil
	}); err != nil {
		t.Fatalf("seed mutes: %v", err)
	}

	if err := svc.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	doc, err := store.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(doc.MutedUsers) != 0 {
		t.Fatalf("muted index should be empty, got %v", doc.MutedUsers)
	}
	if len(platform.restricts) != 2 {
		t.Fatalf("restore calls mismatch: got %d want 2", len(platform.restricts))
	}
}

func TestMuteNotificationMentionsDeadline(t *testing.T) {
	t.Parallel()

	svc, _, platform := newTestService(t)
	if err := svc.Mute(context.Background(), "42", 2*time.Minute, "spam"); err != nil {
		t.Fatalf("Mute() error = %v", err)
	}
	wantEnd := docstore.FormatTime(time.Date(2025, 6, 5, 12, 2, 0, 0, docstore.Location()))
	if len(platform.messages) != 1 {
		t.Fatalf("messages mismatch: %+v", platform.messages)
	}
	if text := platform.messages[0].Text; !strings.Contains(text, wantEnd) || !strings.Contains(text, "spam") {
		t.Fatalf("notification text mismatch: %q", text)
	}
}
