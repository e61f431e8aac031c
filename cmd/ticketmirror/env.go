package main

import (
	"fmt"
	"log"
	"os"

	"github.com/mirrorboard/ticketmirror/internal/config"
	"github.com/mirrorboard/ticketmirror/internal/mapping"
	"github.com/mirrorboard/ticketmirror/internal/orchestrator"
	"github.com/mirrorboard/ticketmirror/internal/progress"
	"github.com/mirrorboard/ticketmirror/internal/remote"
	"github.com/mirrorboard/ticketmirror/internal/store"
	"github.com/mirrorboard/ticketmirror/internal/synclock"
)

// env is the wired-up runtime for one command invocation.
type env struct {
	cfg    *config.Config
	db     *store.DB
	orch   *orchestrator.Orchestrator
	logger *log.Logger
}

// openStore opens and initializes the mirror database.
func openStore(cfg *config.Config) (*store.DB, error) {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database, err)
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// newEnv wires the full sync stack. reporter may be nil; then progress
// goes to the logger only.
func newEnv(cfg *config.Config, reporter progress.Reporter, logger *log.Logger) (*env, error) {
	if !cfg.HasRemote() {
		return nil, fmt.Errorf("no remote tracker configured; run 'ticketmirror setup' first")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	var mapper *mapping.Table
	if cfg.Mapping != "" {
		mapper, err = mapping.Load(cfg.Mapping)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load mapping table %s: %w", cfg.Mapping, err)
		}
	}

	client := remote.NewClient(remote.ClientConfig{
		BaseURL:  cfg.Remote.BaseURL,
		Username: cfg.Remote.Username,
		APIToken: cfg.Remote.APIToken,
		Timeout:  cfg.Remote.Timeout,
		Logger:   logger,
	})
	fetcher := remote.NewFetcher(client, cfg.Sync.MaxRetries, cfg.Sync.RetryDelay, logger)
	locks := synclock.NewManager(logger)

	batch := store.DefaultBatchOptions()
	batch.ChunkSize = cfg.Sync.ChunkSize
	batch.ChunkRetries = cfg.Sync.MaxRetries
	batch.RetryDelay = cfg.Sync.RetryDelay
	batch.Logger = logger

	opts := orchestrator.Options{
		MaxConcurrency:  cfg.Sync.MaxConcurrency,
		PageSize:        cfg.Remote.PageSize,
		LockTimeout:     cfg.Sync.LockTimeout,
		Window:          cfg.Sync.Window,
		Projects:        cfg.Filters.Projects,
		ExcludeProjects: cfg.Filters.ExcludeProjects,
		ExcludeStatuses: cfg.Filters.ExcludeStatuses,
		ExcludeTypes:    cfg.Filters.ExcludeTypes,
		WindowDays:      cfg.Filters.WindowDays,
		Batch:           batch,
		Logger:          logger,
	}
	if reporter == nil {
		reporter = progress.NewLogReporter(logger)
	}

	return &env{
		cfg:    cfg,
		db:     db,
		orch:   orchestrator.New(db, fetcher, locks, reporter, mapper, opts),
		logger: logger,
	}, nil
}

func (e *env) close() {
	if e.db != nil {
		e.db.Close()
	}
}
