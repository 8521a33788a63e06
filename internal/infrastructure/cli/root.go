package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/notebook/internal/infrastructure/config"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/server"
)

// Options holds flags shared by every subcommand. Zero values leave the
// environment configuration alone.
type Options struct {
	DBPath    string
	Key       string
	LogLevel  string
	Dev       bool
	Isolation string
	Timeout   time.Duration
}

// Config loads environment configuration and applies flag overrides
func (o *Options) Config() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.DBPath != "" {
		cfg.Notebook.DBPath = o.DBPath
	}
	if o.Key != "" {
		cfg.Notebook.Key = o.Key
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.Dev {
		cfg.Logging.Development = true
	}
	if o.Isolation != "" {
		cfg.Sandbox.Isolation = o.Isolation
	}
	if o.Timeout > 0 {
		cfg.Sandbox.Timeout = o.Timeout
	}
	return cfg, cfg.Validate()
}

func (o *Options) setup() (*config.Config, *logging.Logger, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, nil, err
	}
	logger, err := server.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// NewRootCmd wires the cobra root command.
func NewRootCmd() *cobra.Command {
	opts := &Options{}

	root := &cobra.Command{
		Use:           "notebook",
		Short:         "JavaScript notebook with sandboxed cell execution",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.DBPath, "db", "", "Notebook database path (default from NOTEBOOK_DB)")
	flags.StringVar(&opts.Key, "key", "", "Notebook record key (default from NOTEBOOK_KEY)")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&opts.Dev, "dev", false, "Development logging")
	flags.StringVar(&opts.Isolation, "isolation", "", "Sandbox isolation: inprocess or process")
	flags.DurationVar(&opts.Timeout, "timeout", 0, "Execution timeout (default from EXECUTION_TIMEOUT)")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newExportCommand(opts))
	root.AddCommand(newImportCommand(opts))
	root.AddCommand(newListCommand(opts))
	root.AddCommand(newDeleteCommand(opts))
	root.AddCommand(newWorkerCommand())
	return root
}
