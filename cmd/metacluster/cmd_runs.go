package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// backuper is implemented by stores that can copy themselves to a file.
type backuper interface {
	Backup(ctx context.Context, destPath string) error
}

func newRunsCmd(a *app) *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Inspect reduction runs in the configured store",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			infos, err := store.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tCREATED\tROUNDS\tROOTS\tCLUSTERS\tDEGRADED")
			for _, r := range infos {
				degraded := "-"
				if r.Degraded {
					degraded = r.DegradedReason
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.CreatedAt.Format(time.RFC3339), r.Rounds, r.RootCount, r.ClusterCount, degraded)
			}
			return tw.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete run %s: %w", args[0], err)
			}
			a.logger.Info().Str("run_id", args[0]).Msg("deleted run")
			return nil
		},
	}

	backup := &cobra.Command{
		Use:   "backup PATH",
		Short: "Write a verified copy of the sqlite store to PATH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			b, ok := store.(backuper)
			if !ok {
				return fmt.Errorf("storage engine %q does not support backups", a.cfg.Storage.Engine)
			}
			if err := b.Backup(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.logger.Info().Str("path", args[0]).Msg("backup complete")
			return nil
		},
	}

	runs.AddCommand(list, del, backup)
	return runs
}
