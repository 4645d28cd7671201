// Package commandmenu registers the bot's command menus from an embedded
// YAML catalog: the default scope gets the user commands, the staff chat
// additionally gets the moderation commands.
package commandmenu

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/telegram"
)

//go:embed commands.yaml
var commandsYAML []byte

type catalog struct {
	Default []telegram.BotCommand `yaml:"default"`
	Staff   []telegram.BotCommand `yaml:"staff"`
}

// Registrar is the slice of the chat platform the menu needs. Satisfied by
// *telegram.API.
type Registrar interface {
	SetMyCommands(ctx context.Context, commands []telegram.BotCommand) error
	SetChatCommands(ctx context.Context, chatID int64, commands []telegram.BotCommand) error
}

// Load parses the embedded catalog.
func Load() (userCommands, staffCommands []telegram.BotCommand, err error) {
	var c catalog
	if err := yaml.Unmarshal(commandsYAML, &c); err != nil {
		return nil, nil, fmt.Errorf("commandmenu: parse catalog: %w", err)
	}
	if len(c.Default) == 0 {
		return nil, nil, fmt.Errorf("commandmenu: catalog has no default commands")
	}
	return c.Default, append(append([]telegram.BotCommand{}, c.Default...), c.Staff...), nil
}

// Register installs the default menu globally and the full menu in the staff
// chat.
func Register(ctx context.Context, reg Registrar, staffChatID int64) error {
	userCommands, staffCommands, err := Load()
	if err != nil {
		return err
	}
	if err := reg.SetMyCommands(ctx, userCommands); err != nil {
		return fmt.Errorf("commandmenu: default scope: %w", err)
	}
	if staffChatID != 0 {
		if err := reg.SetChatCommands(ctx, staffChatID, staffCommands); err != nil {
			return fmt.Errorf("commandmenu: staff scope: %w", err)
		}
	}
	return nil
}
