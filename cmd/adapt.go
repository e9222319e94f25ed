// File: cmd/adapt.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pacer/internal/observability"
	"github.com/xkilldash9x/pacer/internal/service"
)

func newAdaptCmd(a *app) *cobra.Command {
	var (
		migrationID int64
		database    string
		indicator   []string
	)

	adaptCmd := &cobra.Command{
		Use:   "adapt",
		Short: "Evaluate health indicators once for a migration and hold or optimize it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withComponents(cmd, func(ctx context.Context, c *service.Components) error {
				db, ok := c.Database(database)
				if !ok {
					return fmt.Errorf("no connection configured for database %q", database)
				}
				record, err := c.Stores[database].MigrationByID(ctx, migrationID)
				if err != nil {
					return err
				}

				ind := db.Indicator
				if len(indicator) > 0 {
					ind, err = service.NewIndicator(indicator, c.Pools[database], a.cfg.Adapt().IndicatorTimeout, observability.GetLogger())
					if err != nil {
						return err
					}
				}

				sig, err := c.Controller.Adapt(ctx, db.Entity(record), ind)
				if err != nil {
					return err
				}
				observability.GetLogger().Info("Adapt finished",
					zap.Int64("migration_id", migrationID),
					zap.String("database", database),
					zap.Stringer("signal", sig))
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "migration %d (%s): %s\n", record.ID, record.JobClassName, sig)
				return err
			})
		},
	}

	adaptCmd.Flags().Int64Var(&migrationID, "migration-id", 0, "id of the batched background migration")
	adaptCmd.Flags().StringVarP(&database, "database", "d", "main", "logical database that owns the migration")
	adaptCmd.Flags().StringSliceVar(&indicator, "indicator", nil, "indicators to evaluate instead of the configured ones")
	_ = adaptCmd.MarkFlagRequired("migration-id")
	return adaptCmd
}
