package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration that results from defaults, the --config file,
KEYLSP_* environment variables and flags. The output can be saved and
passed back with --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			data, err := cfg.Encode("keylsp." + format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "toml", "Output format: toml, yaml")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		switch format {
		case "toml", "yaml":
			return nil
		default:
			return fmt.Errorf("unsupported format %q", format)
		}
	}
	return cmd
}
