// Package raidbot parses raid service flags and launches the service.
package raidbot

import (
	"context"
	"flag"

	entrypoint "github.com/web3kaiju/raidbot/internal/platform/cmd"
	"github.com/web3kaiju/raidbot/internal/services/raids/app"
)

// Config holds raidbot command configuration.
type Config struct {
	DBPath  string `env:"RAIDBOT_DB_PATH" envDefault:"data/raidbot.db"`
	GroupID int64  `env:"RAIDBOT_GROUP_ID"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the raidbot SQLite database")
	fs.Int64Var(&cfg.GroupID, "group", cfg.GroupID, "Chat ID of the community group for daily reminders (0 disables)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the raid lifecycle service and its sweep scheduler.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRaidbot, func(context.Context) error {
		runtime, err := app.NewRuntimeWithDBPath(cfg.DBPath, cfg.GroupID, app.LogNotifier{})
		if err != nil {
			return err
		}
		return runtime.Run(ctx)
	})
}
