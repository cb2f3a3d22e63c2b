package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vidrelay/internal/daemon"
	"vidrelay/internal/preflight"
	"vidrelay/internal/syncer"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run sync cycles on the configured interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireFolders(); err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			// The store is only opened while holding the agent lock.
			lock, err := daemon.Lock(cfg.LockPath())
			if err != nil {
				return err
			}
			defer lock.Unlock() //nolint:errcheck

			runCtx := cmd.Context()
			s, err := syncer.Open(runCtx, cfg, logger)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer s.Close()

			client, err := preflight.NewClient(cfg)
			if err != nil {
				return err
			}
			d, err := daemon.New(cfg, s, logger, daemon.WithPreflight(client), daemon.WithHeldLock(lock))
			if err != nil {
				return err
			}
			return d.Run(runCtx)
		},
	}
}

func newOnceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single sync cycle and print what happened",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireFolders(); err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			lock, err := daemon.Lock(cfg.LockPath())
			if err != nil {
				return err
			}
			defer lock.Unlock() //nolint:errcheck

			s, err := syncer.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer s.Close()

			report := s.RunOnce(cmd.Context())
			printReport(cmd.OutOrStdout(), report)
			if report.Canceled {
				return cmd.Context().Err()
			}
			return nil
		},
	}
}

func printReport(out io.Writer, report syncer.Report) {
	summary := report.Summary()
	fmt.Fprintf(out, "Cycle %s finished in %s\n", report.CycleID, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(out, "Uploaded: %d  Downloaded: %d  Skipped: %d  Failed: %d\n",
		summary.Uploaded, summary.Downloaded, summary.Skipped, summary.Failed)

	if len(report.Files) > 0 {
		rows := make([][]string, 0, len(report.Files))
		for _, file := range report.Files {
			detail := file.Detail
			if file.Err != nil {
				detail = file.Err.Error()
			}
			rows = append(rows, []string{file.Filename, string(file.Action), string(file.Status), detail})
		}
		writeTable(out, []column{left("File"), left("Step"), left("Result"), left("Detail")}, rows)
	}

	if report.PollErr != nil {
		fmt.Fprintf(out, "Status poll failed: %v\n", report.PollErr)
	}
	if report.SaveErr != nil {
		fmt.Fprintf(out, "History save failed: %v\n", report.SaveErr)
	}
	if len(report.Unmatched) > 0 {
		fmt.Fprintf(out, "Converted on server without a pending upload: %s\n", strings.Join(report.Unmatched, ", "))
	}
	if report.Canceled {
		fmt.Fprintln(out, "Cycle interrupted before completion")
	}
}
