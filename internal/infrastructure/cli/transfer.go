package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/notebook/internal/domain/persistence"
	"github.com/GriffinCanCode/notebook/internal/infrastructure/server"
)

func newExportCommand(opts *Options) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the saved notebook as JSON, YAML or TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = string(persistence.FormatJSON)
				if output != "" {
					format = filepath.Ext(output)
				}
			}
			f, err := persistence.ParseFormat(format)
			if err != nil {
				return err
			}

			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			c, err := server.OpenNotebook(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer c.Close(context.Background())

			data, err := persistence.Encode(c.Notebook.Export(cfg.Notebook.Key), f)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: json, yaml or toml (default json, or from --output)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newImportCommand(opts *Options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the saved notebook with a JSON, YAML or TOML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == "" {
				format = filepath.Ext(args[0])
			}
			f, err := persistence.ParseFormat(format)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read notebook: %w", err)
			}
			rec, err := persistence.Decode(data, f)
			if err != nil {
				return err
			}

			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			c, err := server.OpenNotebook(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			if err := c.Notebook.Import(cmd.Context(), rec); err != nil {
				c.Close(context.Background())
				return err
			}
			if err := c.Close(context.Background()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d cells into %q\n", len(rec.Cells), cfg.Notebook.Key)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Input format (default from the file extension)")
	return cmd
}
