// File: cmd/migrations.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pacer/internal/migration"
	"github.com/xkilldash9x/pacer/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newMigrationsCmd(a *app) *cobra.Command {
	migrationsCmd := &cobra.Command{
		Use:   "migrations",
		Short: "Inspect batched background migrations",
	}
	migrationsCmd.AddCommand(newMigrationsListCmd(a))
	return migrationsCmd
}

func newMigrationsListCmd(a *app) *cobra.Command {
	var (
		database string
		format   string
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List migrations with their batch size and hold state",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "table", "json":
				return nil
			}
			return fmt.Errorf("unsupported format %q (want table or json)", format)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withComponents(cmd, func(ctx context.Context, c *service.Components) error {
				st, ok := c.Stores[database]
				if !ok {
					return fmt.Errorf("no connection configured for database %q", database)
				}
				migrations, err := st.ListMigrations(ctx)
				if err != nil {
					return err
				}
				if format == "json" {
					return writeMigrationsJSON(cmd.OutOrStdout(), migrations)
				}
				return writeMigrationsTable(cmd.OutOrStdout(), migrations)
			})
		},
	}

	listCmd.Flags().StringVarP(&database, "database", "d", "main", "logical database to list")
	listCmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table or json")
	return listCmd
}

type migrationView struct {
	ID          int64    `json:"id"`
	JobClass    string   `json:"job_class_name"`
	Table       string   `json:"table_name"`
	Tables      []string `json:"tables"`
	Status      string   `json:"status"`
	BatchSize   int      `json:"batch_size"`
	OnHoldUntil *string  `json:"on_hold_until,omitempty"`
}

func toView(m *migration.Migration) migrationView {
	v := migrationView{
		ID:        m.ID,
		JobClass:  m.JobClassName,
		Table:     m.TableName,
		Tables:    m.Tables(),
		Status:    m.Status.String(),
		BatchSize: m.BatchSize,
	}
	if m.OnHoldUntil != nil {
		s := m.OnHoldUntil.UTC().Format("2006-01-02T15:04:05Z")
		v.OnHoldUntil = &s
	}
	return v
}

func writeMigrationsJSON(w io.Writer, migrations []*migration.Migration) error {
	views := make([]migrationView, 0, len(migrations))
	for _, m := range migrations {
		views = append(views, toView(m))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

func writeMigrationsTable(w io.Writer, migrations []*migration.Migration) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tJOB CLASS\tTABLES\tSTATUS\tBATCH SIZE\tON HOLD UNTIL")
	for _, m := range migrations {
		v := toView(m)
		hold := "-"
		if v.OnHoldUntil != nil {
			hold = *v.OnHoldUntil
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n", v.ID, v.JobClass, strings.Join(v.Tables, ","), v.Status, v.BatchSize, hold)
	}
	return tw.Flush()
}
