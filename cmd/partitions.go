// File: cmd/partitions.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pacer/internal/partitioning"
	"github.com/xkilldash9x/pacer/internal/service"
)

func newPartitionsCmd(a *app) *cobra.Command {
	partitionsCmd := &cobra.Command{
		Use:   "partitions",
		Short: "Maintain partitioned tables",
	}
	partitionsCmd.AddCommand(newPartitionsSyncCmd(a), newPartitionsDropCmd(a))
	return partitionsCmd
}

func newPartitionsSyncCmd(a *app) *cobra.Command {
	var database string

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Create missing partitions and detach expired ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withComponents(cmd, func(ctx context.Context, c *service.Components) error {
				models := c.Registry.Models()
				if database != "" {
					models = c.Registry.ByDatabase()[database]
					if len(models) == 0 {
						return fmt.Errorf("no partitioned tables registered for database %q", database)
					}
				}
				report, err := c.Manager.SyncPartitionsWithReport(ctx, models)
				writeSyncReport(cmd.OutOrStdout(), report)
				return err
			})
		},
	}

	syncCmd.Flags().StringVarP(&database, "database", "d", "", "only sync tables of this logical database")
	return syncCmd
}

func newPartitionsDropCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drop-detached",
		Short: "Drop detached partitions whose retention has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withComponents(cmd, func(ctx context.Context, c *service.Components) error {
				dropped, err := c.Dropper.DropExpired(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "dropped %d detached partition(s)\n", dropped)
				return err
			})
		},
	}
}

func writeSyncReport(w io.Writer, report *partitioning.SyncReport) {
	if report == nil {
		return
	}
	for _, t := range report.Tables {
		switch {
		case t.Err != nil:
			fmt.Fprintf(w, "%s %s: failed: %v\n", t.Database, t.Table, t.Err)
		case t.Skipped:
			fmt.Fprintf(w, "%s %s: skipped (not partitioned)\n", t.Database, t.Table)
		case len(t.Created) == 0 && len(t.Detached) == 0:
			fmt.Fprintf(w, "%s %s: up to date\n", t.Database, t.Table)
		default:
			fmt.Fprintf(w, "%s %s: created [%s] detached [%s]\n", t.Database, t.Table,
				strings.Join(t.Created, ", "), strings.Join(t.Detached, ", "))
		}
	}
}
