// Command egr serves the episode question-answering API and manages its
// corpus database.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/episode-graphrag/egr"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/config"
)

var (
	// Global flags
	configPath string
	logLevel   string

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           egr.DefaultAppName,
	Short:         "Conversational question answering over a podcast episode corpus",
	Version:       egr.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.App.LogLevel = logLevel
		}
		logger = newLogger(cfg.App, os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override app.log_level")

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the root logger and applies the configured level
// process-wide.
func newLogger(app config.AppConfigSection, w io.Writer) zerolog.Logger {
	if strings.EqualFold(app.LogFormat, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	setLogLevel(app.LogLevel)
	return zerolog.New(w).With().Timestamp().Str("app", app.Name).Logger()
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
