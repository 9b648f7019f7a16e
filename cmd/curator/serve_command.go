package main

import (
	"github.com/spf13/cobra"

	"curator/internal/daemonrun"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var development bool
	var diagnostic bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the curator daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(),
				Development: development,
				Diagnostic:  diagnostic,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	cmd.Flags().BoolVar(&diagnostic, "diagnostic", false, "Mirror debug-level JSON logs into log_dir/debug")
	return cmd
}
