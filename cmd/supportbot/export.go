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

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the document as an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			out, _ := cmd.Flags().GetString("out")
			store := docstore.NewStore(viper.GetString("store.path"), logger)
			doc, err := store.Load()
			if err != nil {
				return fmt.Errorf("load document: %w", err)
			}
			if err := xlsx.Export(&doc, out); err != nil {
				return err
			}
			logger.Info("export_done", "path", out, "users", len(doc.Users))
			return nil
		},
	}
	cmd.Flags().String("out", "alllist.xlsx", "Output workbook path.")
	return cmd
}
