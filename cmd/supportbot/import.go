package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/KirsanowArtem/Supp0rtBotNew/internal/docstore"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/logutil"
	"github.com/KirsanowArtem/Supp0rtBotNew/internal/xlsx"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <workbook.xlsx>",
		Short: "Replace the document with the contents of an xlsx workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			imported, err := xlsx.Import(args[0])
			if err != nil {
				return err
			}
			store := docstore.NewStore(viper.GetString("store.path"), logger)
			if _, err := store.Load(); err != nil {
				return fmt.Errorf("load document: %w", err)
			}
			if err := store.Update(cmd.Context(), func(d *docstore.Document) error {
				*d = imported
				d.Normalize()
				return nil
			}); err != nil {
				return err
			}
			logger.Info("import_done", "path", args[0], "users", len(imported.Users))
			return nil
		},
	}
}
