package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/arkilian/rptbench/internal/archive"
	"github.com/arkilian/rptbench/internal/catalog"
)

const sqlPreviewWidth = 60

// RenderCatalog lists the catalog's queries with their probe counts.
func RenderCatalog(w io.Writer, cat *catalog.Catalog) error {
	fmt.Fprintf(w, "Catalog %s: %d queries, fingerprint %s\n", cat.Name(), cat.Len(), cat.Fingerprint())

	table := tablewriter.NewWriter(w)
	table.Header("Query", "Probes", "SQL")
	for _, q := range cat.Queries() {
		if err := table.Append(q.ID, fmt.Sprintf("%d", len(q.Probes)), preview(q.SQL)); err != nil {
			return err
		}
	}
	return table.Render()
}

// RenderHistory lists archived runs, newest first.
func RenderHistory(w io.Writer, runs []archive.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No archived runs.")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Run", "Kind", "Mode", "Started", "Duration", "Reps", "Status")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		err := table.Append(
			shortID(r.ID),
			r.Kind,
			r.Mode,
			r.StartedAt.Local().Format(time.DateTime),
			duration,
			fmt.Sprintf("%d", r.Reps),
			r.Status,
		)
		if err != nil {
			return err
		}
	}
	return table.Render()
}

// preview collapses whitespace and truncates SQL for one table cell.
func preview(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > sqlPreviewWidth {
		return s[:sqlPreviewWidth-3] + "..."
	}
	return s
}
