package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/notebook/internal/execution"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/server"
	"github.com/GriffinCanCode/notebook/internal/sandbox"
	"github.com/GriffinCanCode/notebook/internal/sandbox/value"
	"github.com/GriffinCanCode/notebook/internal/shared/utils"
)

// ErrRunFailed is returned when the script threw or timed out
var ErrRunFailed = errors.New("execution failed")

func newRunCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "run <file|->",
		Short: "Run a script once in a fresh sandbox and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			code, err := readSource(cmd, args[0])
			if err != nil {
				return err
			}
			if err := utils.ValidateCode(code); err != nil {
				return err
			}

			spawner, err := server.NewSpawner(cfg.Sandbox, logger.Component("sandbox"))
			if err != nil {
				return err
			}
			host := execution.NewHost(spawner,
				execution.WithTimeout(cfg.Sandbox.Timeout),
				execution.WithLogger(logger.Component("execution")),
			)
			defer host.Close()

			out := cmd.OutOrStdout()
			outcome, err := host.Execute(cmd.Context(), code, func(ev execution.ConsoleEvent) {
				printConsole(out, ev)
			}, nil)
			if err != nil {
				return err
			}
			return printOutcome(out, outcome)
		},
	}
}

func readSource(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), utils.MaxCodeSize+1))
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

func printConsole(w io.Writer, ev execution.ConsoleEvent) {
	line := value.RenderArgs(ev.Args)
	if ev.Method != sandbox.ConsoleLog {
		line = "[" + string(ev.Method) + "] " + line
	}
	fmt.Fprintln(w, line)
}

func printOutcome(w io.Writer, out execution.Outcome) error {
	if out.Success {
		if out.Value != nil {
			fmt.Fprintf(w, "=> %s\n", value.Render(*out.Value))
		}
		fmt.Fprintf(w, "(%dms)\n", out.ExecutionTime)
		return nil
	}

	if out.Error != nil {
		name := out.Error.Name
		if name == "" {
			name = "Error"
		}
		fmt.Fprintf(w, "%s: %s\n", name, out.Error.Message)
		if out.Error.Stack != "" {
			fmt.Fprintln(w, out.Error.Stack)
		}
	}
	fmt.Fprintf(w, "(%dms)\n", out.ExecutionTime)
	return ErrRunFailed
}
