package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vidrelay/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify folders, the history location, the conversion service, and subtitle tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := preflight.NewClient(cfg)
			if err != nil {
				return err
			}

			results := preflight.RunAll(cmd.Context(), cfg, client)
			rows := make([][]string, 0, len(results))
			for _, result := range results {
				rows = append(rows, []string{result.Name, checkLabel(result), result.Detail})
			}
			out := cmd.OutOrStdout()
			if len(cfg.Folders) == 0 {
				fmt.Fprintln(out, "No monitored folders configured")
			}
			writeTable(out, []column{left("Check"), left("Result"), left("Detail")}, rows)

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
}

func checkLabel(result preflight.Result) string {
	switch {
	case result.Passed:
		return "ok"
	case result.Optional:
		return "missing (optional)"
	default:
		return "failed"
	}
}
