// Package maintenance runs the raid lifecycle sweeps as a one-shot command,
// for operators who want to force a pass outside the service scheduler.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/web3kaiju/raidbot/internal/services/raids/app"
	"github.com/web3kaiju/raidbot/internal/services/raids/storage/sqlite"
)

// Config holds maintenance command configuration.
type Config struct {
	DBPath      string        `env:"RAIDBOT_DB_PATH"`
	Timeout     time.Duration `env:"RAIDBOT_MAINTENANCE_TIMEOUT" envDefault:"10m"`
	Expire      bool
	AutoApprove bool
	Ban         bool
	JSONOutput  bool
}

type envConfig struct {
	DBPath  string        `env:"RAIDBOT_DB_PATH"`
	Timeout time.Duration `env:"RAIDBOT_MAINTENANCE_TIMEOUT" envDefault:"10m"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		DBPath:  envCfg.DBPath,
		Timeout: envCfg.Timeout,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "raidbot.db")
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to raidbot sqlite database (default: RAIDBOT_DB_PATH or data/raidbot.db)")
	fs.BoolVar(&cfg.Expire, "expire", false, "expire approved posts past the raid validity window")
	fs.BoolVar(&cfg.AutoApprove, "auto-approve", false, "approve pending posts stuck past the review window")
	fs.BoolVar(&cfg.Ban, "ban", false, "ban owners who left verifications unresolved past the grace window")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output a JSON report")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type sweepReport struct {
	Expired      int64   `json:"expired,omitempty"`
	AutoApproved []int64 `json:"auto_approved,omitempty"`
	Banned       []int64 `json:"banned,omitempty"`
}

// Run executes the selected sweeps. With no sweep flags set, all sweeps run.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if !cfg.Expire && !cfg.AutoApprove && !cfg.Ban {
		cfg.Expire = true
		cfg.AutoApprove = true
		cfg.Ban = true
	}

	if _, err := os.Stat(cfg.DBPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("database %s does not exist", cfg.DBPath)
		}
		return fmt.Errorf("stat database: %w", err)
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open raids sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			fmt.Fprintf(errOut, "Error: close store: %v\n", closeErr)
		}
	}()

	service := app.NewService(app.Stores{
		Users:         store,
		Posts:         store,
		Verifications: store,
		Ledger:        store,
		Follows:       store,
		Profiles:      store,
	}, app.NopNotifier{}, nil)

	var report sweepReport
	if cfg.Expire {
		expired, err := service.ExpirePosts(ctx)
		if err != nil {
			return fmt.Errorf("expire posts: %w", err)
		}
		report.Expired = expired
	}
	if cfg.AutoApprove {
		approved, err := service.AutoApproveStalePosts(ctx)
		if err != nil {
			return fmt.Errorf("auto-approve stale posts: %w", err)
		}
		for _, post := range approved {
			report.AutoApproved = append(report.AutoApproved, post.ID)
		}
	}
	if cfg.Ban {
		banned, err := service.BanUnresponsiveOwners(ctx)
		if err != nil {
			return fmt.Errorf("ban unresponsive owners: %w", err)
		}
		report.Banned = banned
	}

	if cfg.JSONOutput {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	if cfg.Expire {
		fmt.Fprintf(out, "expired %d post(s)\n", report.Expired)
	}
	if cfg.AutoApprove {
		fmt.Fprintf(out, "auto-approved %d post(s)\n", len(report.AutoApproved))
	}
	if cfg.Ban {
		fmt.Fprintf(out, "banned %d owner(s)\n", len(report.Banned))
	}
	return nil
}
