package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/web3kaiju/raidbot/internal/platform/config"
	"github.com/web3kaiju/raidbot/internal/services/raids/storage/sqlite"
)

type runtimeEnv struct {
	DBPath  string `env:"RAIDBOT_DB_PATH"`
	GroupID int64  `env:"RAIDBOT_GROUP_ID"`
}

func loadRuntimeEnv() runtimeEnv {
	var cfg runtimeEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "raidbot.db")
	}
	return cfg
}

// Runtime owns the raids service storage and scheduler lifecycle.
type Runtime struct {
	store     *sqlite.Store
	service   *Service
	scheduler *Scheduler
}

// NewRuntime opens storage and wires the service with its sweep scheduler.
func NewRuntime(notifier Notifier) (*Runtime, error) {
	env := loadRuntimeEnv()
	return NewRuntimeWithDBPath(env.DBPath, env.GroupID, notifier)
}

// NewRuntimeWithDBPath opens storage at the provided path and wires the
// service with its sweep scheduler. A non-zero groupID enables the daily
// group reminder.
func NewRuntimeWithDBPath(dbPath string, groupID int64, notifier Notifier) (*Runtime, error) {
	store, err := openRaidsStore(dbPath)
	if err != nil {
		return nil, err
	}
	service := NewService(Stores{
		Users:         store,
		Posts:         store,
		Verifications: store,
		Ledger:        store,
		Follows:       store,
		Profiles:      store,
	}, notifier, nil)
	return &Runtime{
		store:     store,
		service:   service,
		scheduler: NewScheduler(service, groupID),
	}, nil
}

// Service exposes the wired raids service.
func (r *Runtime) Service() *Service {
	if r == nil {
		return nil
	}
	return r.service
}

// Run starts the sweep scheduler and blocks until context cancellation.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return errors.New("runtime is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer r.Close()

	log.Printf("raids service running with store at %s", r.store.Path())
	return r.scheduler.Run(ctx)
}

// Close releases runtime resources.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			log.Printf("close raids store: %v", err)
		}
	}
}

func openRaidsStore(path string) (*sqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raids sqlite store: %w", err)
	}
	return store, nil
}
