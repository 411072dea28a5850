package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"registration-system/internal/storage/sqlite"
)

type capacityReporter interface {
	CapacityReport(ctx context.Context) ([]sqlite.CapacityRow, error)
}

// newCapacityAuditCmd reports events whose counter disagrees with their
// approved registrations. It never rewrites the counter.
func newCapacityAuditCmd(store capacityReporter) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "capacity:audit",
		Short: "Compare event registration counters with approved registrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			drifted, err := auditCapacity(cmd.Context(), store, cmd.OutOrStdout(), all)
			if err != nil {
				return err
			}
			if drifted > 0 {
				return fmt.Errorf("%d event(s) with counter drift", drifted)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every event, not only drifted ones")
	return cmd
}

func auditCapacity(ctx context.Context, store capacityReporter, out io.Writer, all bool) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := store.CapacityReport(ctx)
	if err != nil {
		return 0, err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tTITLE\tMAX\tCOUNTER\tAPPROVED\tDRIFT")

	drifted := 0
	for _, r := range rows {
		if r.Drift() != 0 {
			drifted++
		} else if !all {
			continue
		}

		limit := "-"
		if r.MaxSpots.Valid {
			limit = strconv.FormatInt(r.MaxSpots.Int64, 10)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%+d\n", r.EventID, r.Title, limit, r.CurrentRegistrations, r.Approved, r.Drift())
	}
	if err := w.Flush(); err != nil {
		return drifted, err
	}

	fmt.Fprintf(out, "%d event(s) checked, %d with drift\n", len(rows), drifted)
	return drifted, nil
}
