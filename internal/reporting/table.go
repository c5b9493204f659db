package reporting

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
	"github.com/xkilldash9x/catalog-cli/internal/orchestrator"
	"github.com/xkilldash9x/catalog-cli/internal/queue"
)

// tableReporter renders human-readable tables.
type tableReporter struct {
	w io.WriteCloser
}

func newTableReporter(w io.WriteCloser) *tableReporter {
	return &tableReporter{w: w}
}

func (r *tableReporter) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(r.w)
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func (r *tableReporter) Summary(sum *orchestrator.Summary) error {
	t := r.newTable("Run " + sum.RunID)
	status := "complete"
	if sum.Interrupted {
		status = "interrupted"
	}
	t.AppendRows([]table.Row{
		{"Status", status},
		{"Newly enqueued", sum.Enqueued},
		{"Processed", sum.Processed()},
		{"Duration", sum.Finished.Sub(sum.Started).Round(time.Millisecond).String()},
	})
	t.Render()
	return r.Tally(sum.Tally)
}

func (r *tableReporter) Tally(tally schemas.Tally) error {
	t := r.newTable("")
	t.AppendHeader(table.Row{"Set", "Count"})
	t.AppendRows([]table.Row{
		{queue.SetAdded, tally.Added},
		{queue.SetAlreadyExists, tally.AlreadyExists},
		{queue.SetNotFound, tally.NotFound},
		{queue.SetErrors, tally.Errors},
	})
	t.AppendSeparator()
	t.AppendRow(table.Row{"pending", tally.Pending})
	t.AppendFooter(table.Row{"Total", tally.Total()})
	t.Render()
	return nil
}

func (r *tableReporter) Entries(set queue.Set, entries []queue.Entry) error {
	t := r.newTable(fmt.Sprintf("%s (%d)", set, len(entries)))
	t.AppendHeader(table.Row{"#", "ISBN", "Message"})
	for i, e := range entries {
		t.AppendRow(table.Row{i + 1, e.ISBN, e.Message})
	}
	t.Render()
	return nil
}

func (r *tableReporter) Results(results []schemas.Result) error {
	t := r.newTable("Journal")
	t.AppendHeader(table.Row{"Recorded", "ISBN", "Outcome", "Message"})
	for _, res := range results {
		t.AppendRow(table.Row{res.At.UTC().Format(time.RFC3339), res.ISBN, res.Outcome, res.Message})
	}
	t.Render()
	return nil
}

func (r *tableReporter) Close() error {
	return r.w.Close()
}
