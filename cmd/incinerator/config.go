package main

import (
	"github.com/spf13/cobra"

	"github.com/wippyai/incinerator/config"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after merging defaults, the config file and
INCINERATOR_* environment variables. With --output the result is written
to a file instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" {
				return config.Save(opts.cfg, output)
			}
			data, err := config.Marshal(opts.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file")
	return cmd
}
