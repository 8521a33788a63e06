package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook/internal/domain/cell"
	"github.com/GriffinCanCode/notebook/internal/domain/notebook"
	"github.com/GriffinCanCode/notebook/internal/domain/persistence"
	"github.com/GriffinCanCode/notebook/internal/execution"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/config"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/storage"
	"github.com/GriffinCanCode/notebook/internal/sandbox"
)

// NewLogger builds the process logger from configuration
func NewLogger(cfg config.LogConfig) (*logging.Logger, error) {
	return logging.New(logging.Configure(cfg.Level, cfg.Development))
}

// NewSpawner creates the sandbox spawner for the configured isolation mode.
// Worker processes are guarded by a circuit breaker.
func NewSpawner(cfg config.SandboxConfig, logger *zap.Logger) (sandbox.Spawner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sbxCfg := sandbox.DefaultConfig()
	sbxCfg.MaxCallStackSize = cfg.MaxCallStack

	switch cfg.Isolation {
	case config.IsolationProcess:
		var command []string
		if cfg.WorkerPath != "" {
			command = []string{cfg.WorkerPath, "worker"}
		}
		spawner, err := sandbox.NewProcess(command, sbxCfg, logger)
		if err != nil {
			return nil, err
		}
		return resilience.GuardSpawner(spawner, nil, logger), nil
	case config.IsolationInProcess, "":
		return sandbox.NewInProcess(sbxCfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown sandbox isolation %q", cfg.Isolation)
	}
}

// Components is a wired notebook plus the resources it owns
type Components struct {
	Notebook  *notebook.Notebook
	DB        *storage.DB
	Adapter   *persistence.Adapter
	LoadState notebook.LoadState
}

// Close closes the notebook, flushing any pending save, then the database
func (c *Components) Close(ctx context.Context) error {
	err := c.Notebook.Close(ctx)
	if cerr := c.DB.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// OpenNotebook wires sandbox, execution host, storage and autosave into an
// opened notebook. metrics may be nil.
func OpenNotebook(ctx context.Context, cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) (*Components, error) {
	spawner, err := NewSpawner(cfg.Sandbox, logger.Component("sandbox"))
	if err != nil {
		return nil, err
	}

	hostOpts := []execution.Option{
		execution.WithTimeout(cfg.Sandbox.Timeout),
		execution.WithLogger(logger.Component("execution")),
	}
	saveOpts := []persistence.AutosaveOption{persistence.WithDebounce(cfg.Notebook.Debounce)}
	if metrics != nil {
		hostOpts = append(hostOpts, execution.WithObserver(metrics))
		saveOpts = append(saveOpts, persistence.WithSaveObserver(metrics))
	}

	db, err := storage.Open(cfg.Notebook.DBPath)
	if err != nil {
		return nil, err
	}

	persistLogger := logger.Component("persistence")
	adapter := persistence.NewAdapter(db, cfg.Notebook.Key, persistLogger)

	welcome := cfg.Notebook.Welcome
	if welcome == "" {
		welcome = notebook.DefaultWelcome
	}

	nb := notebook.New(notebook.Config{
		Store:     cell.NewStore(welcome),
		Host:      execution.NewHost(spawner, hostOpts...),
		Loader:    adapter,
		Autosaver: persistence.NewAutosaver(adapter, persistLogger, saveOpts...),
		Logger:    logger.Component("notebook"),
	})

	state, err := nb.Open(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if metrics != nil {
		metrics.RecordLoad(string(state))
	}
	logger.Info("Notebook opened",
		zap.String("db", db.Path),
		zap.String("key", adapter.Key()),
		zap.String("load", string(state)),
		zap.Int("cells", nb.Store().Len()),
	)

	return &Components{Notebook: nb, DB: db, Adapter: adapter, LoadState: state}, nil
}
