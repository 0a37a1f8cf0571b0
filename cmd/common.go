package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sunbk201/rulesync/internal/config"
	"github.com/sunbk201/rulesync/internal/log"
)

// loadToolConfig builds the config for one-shot subcommands, which keep
// stdout for their output and log to stderr.
func loadToolConfig() (*config.Config, error) {
	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	slog.SetDefault(slog.New(log.NewHandler(os.Stderr, log.ParseLevel(cfg.LogLevel))))
	return cfg, nil
}
