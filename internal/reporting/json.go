package reporting

import (
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
	"github.com/xkilldash9x/catalog-cli/internal/orchestrator"
	"github.com/xkilldash9x/catalog-cli/internal/queue"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonReporter writes one JSON document per call, newline delimited.
type jsonReporter struct {
	w   io.WriteCloser
	enc *jsoniter.Encoder
}

func newJSONReporter(w io.WriteCloser) *jsonReporter {
	return &jsonReporter{w: w, enc: json.NewEncoder(w)}
}

type summaryDoc struct {
	RunID       string           `json:"run_id"`
	Enqueued    int              `json:"enqueued"`
	Processed   int              `json:"processed"`
	Interrupted bool             `json:"interrupted"`
	Started     time.Time        `json:"started"`
	Finished    time.Time        `json:"finished"`
	Tally       schemas.Tally    `json:"tally"`
	Results     []schemas.Result `json:"results"`
}

type entriesDoc struct {
	Set     queue.Set     `json:"set"`
	Entries []queue.Entry `json:"entries"`
}

func (r *jsonReporter) Summary(sum *orchestrator.Summary) error {
	return r.enc.Encode(summaryDoc{
		RunID:       sum.RunID,
		Enqueued:    sum.Enqueued,
		Processed:   sum.Processed(),
		Interrupted: sum.Interrupted,
		Started:     sum.Started,
		Finished:    sum.Finished,
		Tally:       sum.Tally,
		Results:     sum.Results,
	})
}

func (r *jsonReporter) Tally(t schemas.Tally) error {
	return r.enc.Encode(t)
}

func (r *jsonReporter) Entries(set queue.Set, entries []queue.Entry) error {
	if entries == nil {
		entries = []queue.Entry{}
	}
	return r.enc.Encode(entriesDoc{Set: set, Entries: entries})
}

func (r *jsonReporter) Results(results []schemas.Result) error {
	if results == nil {
		results = []schemas.Result{}
	}
	return r.enc.Encode(results)
}

func (r *jsonReporter) Close() error {
	return r.w.Close()
}
