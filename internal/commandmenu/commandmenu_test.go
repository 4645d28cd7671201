package commandmenu

import (
	"context"
	"testing"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/telegram"
)

type fakeRegistrar struct {
	defaultSet []telegram.BotCommand
	chatSets   map[int64][]telegram.BotCommand
}

func (f *fakeRegistrar) SetMyCommands(_ context.Context, commands []telegram.BotCommand) error {
	f.defaultSet = commands
	return nil
}

func (f *fakeRegistrar) SetChatCommands(_ context.Context, chatID int64, commands []telegram.BotCommand) error {
	if f.chatSets == nil {
		f.chatSets = map[int64][]telegram.BotCommand{}
	}
	f.chatSets[chatID] = commands
	return nil
}

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	userCommands, staffCommands, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(userCommands) == 0 {
		t.Fatalf("no user commands loaded")
	}
	if len(staffCommands) <= len(userCommands) {
		t.Fatalf("staff menu should extend the user menu: %d vs %d", len(staffCommands), len(userCommands))
	}
	for _, c := range append(userCommands, staffCommands...) {
		if c.Command == "" || c.Description == "" {
			t.Fatalf("catalog entry incomplete: %+v", c)
		}
	}

	has := func(commands []telegram.BotCommand, name string) bool {
		for _, c := range commands {
			if c.Command == name {
				return true
			}
		}
		return false
	}
	if !has(userCommands, "start") || !has(userCommands, "message") {
		t.Fatalf("user menu missing core commands: %v", userCommands)
	}
	if has(userCommands, "mute") {
		t.Fatalf("user menu must not expose staff commands: %v", userCommands)
	}
	if !has(staffCommands, "mute") || !has(staffCommands, "get_alllist") {
		t.Fatalf("staff menu missing moderation commands: %v", staffCommands)
	}
}

func TestRegisterScopes(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistrar{}
	if err := Register(context.Background(), reg, -100900); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(reg.defaultSet) == 0 {
		t.Fatalf("default scope not registered")
	}
	staff, ok := reg.chatSets[-100900]
	if !ok || len(staff) <= len(reg.defaultSet) {
		t.Fatalf("staff scope mismatch: %v", reg.chatSets)
	}
}
