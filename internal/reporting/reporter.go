// -- internal/reporting/reporter.go --
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
	"github.com/xkilldash9x/catalog-cli/internal/orchestrator"
	"github.com/xkilldash9x/catalog-cli/internal/queue"
)

// Supported output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// Reporter writes run and ledger information to an output.
type Reporter interface {
	// Summary describes a finished or interrupted run.
	Summary(sum *orchestrator.Summary) error
	// Tally writes the per-set counts and the pending count.
	Tally(t schemas.Tally) error
	// Entries lists the records of one ledger set.
	Entries(set queue.Set, entries []queue.Entry) error
	// Results lists outcomes read back from the journal.
	Results(results []schemas.Result) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
func New(format, outputPath string) (Reporter, error) {
	if err := checkFormat(format); err != nil {
		return nil, err
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return newReporter(format, writer), nil
}

// NewWriter creates a reporter over w. Closing it does not close w.
func NewWriter(format string, w io.Writer) (Reporter, error) {
	if err := checkFormat(format); err != nil {
		return nil, err
	}
	return newReporter(format, &nopWriteCloser{w}), nil
}

func checkFormat(format string) error {
	switch format {
	case FormatTable, FormatJSON:
		return nil
	}
	return fmt.Errorf("unsupported output format: %s", format)
}

func newReporter(format string, w io.WriteCloser) Reporter {
	if format == FormatJSON {
		return newJSONReporter(w)
	}
	return newTableReporter(w)
}
