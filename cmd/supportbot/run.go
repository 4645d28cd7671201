package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/commandmenu"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/docstore"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/health"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/logutil"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/moderation"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/relay"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/router"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/telegram"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/xlsx"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot: poll loop, sweeper, health endpoint, daily export",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}
	cmd.Flags().String("listen", "", "Health endpoint listen address (default :8080).")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))
	cmd.Flags().String("token", "", "Bot token override (defaults to the token stored in the document).")
	_ = viper.BindPFlag("telegram.token", cmd.Flags().Lookup("token"))
	return cmd
}

func runBot(parent context.Context) error {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := docstore.NewStore(viper.GetString("store.path"), logger)
	doc, err := store.Load()
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	token := strings.TrimSpace(viper.GetString("telegram.token"))
	if token == "" {
		token = strings.TrimSpace(doc.BotToken)
	}
	if token == "" {
		return fmt.Errorf("no bot token: set bot_token in the document or --token")
	}

	api := telegram.New(nil, viper.GetString("telegram.base_url"), token)
	me, err := api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("getMe: %w", err)
	}

	cfg := relay.Config{
		BotName:           me.FirstName,
		BotUsername:       me.Username,
		OwnerID:           doc.OwnerID.String(),
		StaffChatID:       doc.ChatID.Int64(),
		CaveChatID:        doc.CaveChatID.Int64(),
		BroadcastThreadID: doc.AllUsersTopicID.Int64(),
		LogFilePath:       logutil.LogFilePath(),
	}
	if cfg.BotName == "" {
		cfg.BotName = "Supp0rtBot"
	}
	if len(doc.Programmers) > 0 {
		cfg.Founder = doc.Programmers[0]
	}
	if cfg.StaffChatID == 0 {
		return fmt.Errorf("no staff chat: set chat_id in the document")
	}
	logger.Info("bot_starting", "bot", me.Username, "staff_chat_id", cfg.StaffChatID)

	moderationSvc := moderation.NewService(store, api, cfg.StaffChatID, cfg.OwnerID, logger)
	threadRouter := router.New(store, api, cfg.StaffChatID, logger)
	pipeline := relay.NewPipeline(cfg, store, api, threadRouter, moderationSvc, logger)

	healthSrv := health.New(viper.GetString("server.listen"), cfg.BotName, logger)
	go func() {
		if err := healthSrv.Run(ctx); err != nil {
			logger.Error("health_server_error", "error", err)
		}
	}()

	go moderationSvc.RunSweeper(ctx, viper.GetDuration("moderation.sweep_interval"))
	go runDailyExport(ctx, store, api, cfg.CaveChatID, logger)

	if err := commandmenu.Register(ctx, api, cfg.StaffChatID); err != nil {
		logger.Warn("command_menu_error", "error", err)
	}

	return pollLoop(ctx, api, pipeline, logger)
}

func pollLoop(ctx context.Context, api *telegram.API, pipeline *relay.Pipeline, logger *slog.Logger) error {
	timeout := viper.GetDuration("telegram.poll_timeout")
	var offset int64
	for {
		if ctx.Err() != nil {
			logger.Info("bot_stopping")
			return nil
		}
		updates, next, err := api.GetUpdates(ctx, offset, timeout)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("bot_stopping")
				return nil
			}
			if telegram.IsPollTimeout(err) {
				continue
			}
			logger.Error("poll_error", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
			continue
		}
		offset = next
		for _, update := range updates {
			pipeline.HandleUpdate(ctx, update)
		}
	}
}

// runDailyExport ships the user spreadsheet to the cave chat every midnight
// (Europe/Kyiv). Failures are reported to the cave chat best-effort.
func runDailyExport(ctx context.Context, store *docstore.Store, api *telegram.API, caveChatID int64, logger *slog.Logger) {
	if caveChatID == 0 {
		logger.Info("daily_export_disabled")
		return
	}
	for {
		now := time.Now().In(docstore.Location())
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, docstore.Location()).AddDate(0, 0, 1)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := exportToChat(ctx, store, api, caveChatID); err != nil {
			logger.Error("daily_export_error", "error", err)
			_, _ = api.SendMessage(ctx, telegram.SendMessageRequest{
				ChatID: caveChatID,
				Text:   "Не вдалося сформувати щоденний звіт: " + err.Error(),
			})
		}
	}
}

func exportToChat(ctx context.Context, store *docstore.Store, api *telegram.API, chatID int64) error {
	doc, err := store.Snapshot(ctx)
	if err != nil {
		return err
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("daily-%d.xlsx", time.Now().UnixNano()))
	defer os.Remove(path)
	if err := xlsx.Export(&doc, path); err != nil {
		return err
	}
	date := docstore.FormatTime(time.Now().In(docstore.Location()))
	_, err = api.UploadDocument(ctx, chatID, 0, path, "Щоденний звіт "+date)
	return err
}
