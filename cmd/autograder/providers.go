package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joseph-ayodele/autograder/internal/common"
	"github.com/joseph-ayodele/autograder/internal/llm"
)

func newProvidersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported AI providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tAUTH\tENDPOINT")
			for _, d := range llm.Providers() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.DisplayName, d.Auth, d.Endpoint)
			}
			return w.Flush()
		},
	}
}

func newPingCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check provider, key and model of both backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			timeout := v.GetDuration("timeout")
			client := llm.NewClient(llm.Config{Timeout: timeout, Endpoints: cfg.LLM.Endpoints}, slog.Default())

			failed := 0
			for i, b := range []common.BackendConfig{cfg.First, cfg.Second} {
				name := fmt.Sprintf("API %d", i+1)
				if b.APIKey == "" || b.ModelID == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): not configured\n", name, b.Provider)
					continue
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				start := time.Now()
				err := client.Ping(ctx, b.Provider, b.APIKey, b.ModelID)
				cancel()
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s (%s/%s): FAIL %s\n", name, b.Provider, b.ModelID, llm.FriendlyReason(err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s/%s): OK in %dms\n", name, b.Provider, b.ModelID, time.Since(start).Milliseconds())
			}
			if failed > 0 {
				return fmt.Errorf("%d backend(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 30*time.Second, "Per-backend timeout")
	return cmd
}

func newExportCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored score records to XLSX",
		Long: `Export stored score and summary records to an XLSX workbook.

Examples:
  autograder export -c grading.yaml --out grades.xlsx
  autograder export -c grading.yaml --run-id 0b6c... --out run.xlsx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if cfg.Records.DSN == "" {
				return common.NewConfigError("未配置记录数据库", "records.dsn", nil)
			}
			logger := slog.Default()
			ctx := cmd.Context()

			db, err := repositoryOpen(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer repositoryClose(db, logger)

			data, err := exportService(db, logger).ExportRunXLSX(ctx, v.GetString("run-id"))
			if err != nil {
				return err
			}
			out := v.GetString("out")
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return common.NewResourceError("写入导出文件失败", common.ResourceFileIO, out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(data))
			return nil
		},
	}
	cmd.Flags().String("run-id", "", "Only export this run")
	cmd.Flags().StringP("out", "o", "grades.xlsx", "Output file")
	return cmd
}
