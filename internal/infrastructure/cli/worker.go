package cli

import (
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/notebook/internal/sandbox"
)

// newWorkerCommand is the sandbox side of process isolation. It speaks the
// framed protocol on stdin/stdout and exits after one execution.
func newWorkerCommand() *cobra.Command {
	config := sandbox.DefaultConfig()

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one sandboxed execution over stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sandbox.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), config)
		},
	}

	cmd.Flags().IntVar(&config.MaxCallStackSize, "max-call-stack", config.MaxCallStackSize, "Maximum JS call stack depth")
	cmd.Flags().BoolVar(&config.EnableConsole, "console", config.EnableConsole, "Install console functions")
	cmd.Flags().BoolVar(&config.EnableTimers, "timers", config.EnableTimers, "Install setTimeout/clearTimeout")
	return cmd
}
