package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joseph-ayodele/autograder/internal/common"
)

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("AUTOGRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "autograder",
		Short:         "AI-assisted exam grading",
		Long:          "autograder captures answer areas, grades them with two redundant AI backends and types the scores back.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			logger, err := newLogger(v.GetString("log-format"), v.GetString("log-level"))
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(newRunCommand(v))
	rootCmd.AddCommand(newProvidersCommand())
	rootCmd.AddCommand(newPingCommand(v))
	rootCmd.AddCommand(newExportCommand(v))
	rootCmd.AddCommand(newStatusCommand(v))
	return rootCmd
}

// loadConfig reads the config file named by --config (or AUTOGRADER_CONFIG).
func loadConfig(v *viper.Viper) (*common.Config, error) {
	return common.LoadConfig(v.GetString("config"))
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}
