package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"vidrelay/internal/daemon"
	"vidrelay/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and edit the transfer history",
	}
	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryForgetCommand(ctx))
	return historyCmd
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded files",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := history.Status(strings.ToLower(strings.TrimSpace(statusFlag)))
			if filter != "" && !filter.Valid() {
				return fmt.Errorf("invalid --status %q (expected uploaded or downloaded)", statusFlag)
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			h, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var rows [][]string
			for _, entry := range h.UploadRecords() {
				if filter != "" && entry.Record.Status != filter {
					continue
				}
				downloaded := ""
				if entry.Record.DownloadedAt != nil {
					downloaded = formatTimestamp(*entry.Record.DownloadedAt)
				}
				rows = append(rows, []string{
					entry.Path,
					string(entry.Record.Status),
					formatTimestamp(entry.Record.UploadedAt),
					downloaded,
				})
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No files recorded")
				return nil
			}
			writeTable(out, []column{left("Source"), left("Status"), left("Uploaded"), left("Downloaded")}, rows)

			counts := h.Counts()
			fmt.Fprintf(out, "%d files (%d awaiting conversion, %d downloaded)\n", counts.Total, counts.Uploaded, counts.Downloaded)
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "Only show records with this status (uploaded or downloaded)")
	return cmd
}

func newHistoryForgetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <path>",
		Short: "Remove a file from the history so it is uploaded again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}

			lock, err := daemon.Lock(cfg.LockPath())
			if err != nil {
				return fmt.Errorf("%w; stop the running agent before editing history", err)
			}
			defer lock.Unlock() //nolint:errcheck

			store, err := history.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			h, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			if !h.Forget(path) {
				return fmt.Errorf("no history entry for %s", path)
			}
			if err := store.Save(cmd.Context(), h); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", path)
			return nil
		},
	}
}

func formatTimestamp(ts history.Timestamp) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}
