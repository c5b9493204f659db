// Package queue is the durable work queue and outcome ledger. The queue
// file holds pending identifiers in order; four append-only ledger files
// hold terminal outcomes. An outcome is always made durable before its
// identifier leaves the queue, so a crash between the two steps only leaves
// a head that is already terminal, which the next Open drops.
package queue

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/catalog-cli/api/schemas"
)

// Set names one ledger partition.
type Set string

const (
	SetAdded         Set = "added"
	SetAlreadyExists Set = "already_exists"
	SetNotFound      Set = "not_found"
	SetErrors        Set = "errors"
)

// Sets lists the ledger partitions in display order.
var Sets = []Set{SetAdded, SetAlreadyExists, SetNotFound, SetErrors}

// QueueFile is the name of the pending queue inside the data directory.
const QueueFile = "queue.txt"

// UnknownPrefix marks Unknown outcomes inside the error set.
const UnknownPrefix = "unknown: "

var (
	// ErrNotHead is returned when recording an identifier other than the queue head.
	ErrNotHead = errors.New("identifier is not at the head of the queue")
	// ErrEmpty is returned when recording against an empty queue.
	ErrEmpty = errors.New("queue is empty")
)

// SetFor maps an outcome to its ledger set. Unknown shares the error set.
func SetFor(o schemas.Outcome) (Set, error) {
	switch o {
	case schemas.OutcomeAdded:
		return SetAdded, nil
	case schemas.OutcomeAlreadyExists:
		return SetAlreadyExists, nil
	case schemas.OutcomeNotFound:
		return SetNotFound, nil
	case schemas.OutcomeUnknown, schemas.OutcomeError:
		return SetErrors, nil
	}
	return "", fmt.Errorf("no ledger set for outcome %q", o)
}

// ParseSet resolves a set by name.
func ParseSet(name string) (Set, error) {
	for _, s := range Sets {
		if string(s) == strings.ToLower(strings.TrimSpace(name)) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown ledger set %q", name)
}

// OutcomeOf recovers the outcome of a ledger record.
func OutcomeOf(set Set, msg string) schemas.Outcome {
	switch set {
	case SetAdded:
		return schemas.OutcomeAdded
	case SetAlreadyExists:
		return schemas.OutcomeAlreadyExists
	case SetNotFound:
		return schemas.OutcomeNotFound
	}
	if strings.HasPrefix(msg, UnknownPrefix) {
		return schemas.OutcomeUnknown
	}
	return schemas.OutcomeError
}

// LedgerPath is the file backing set inside dir.
func LedgerPath(dir string, set Set) string {
	return filepath.Join(dir, string(set)+".txt")
}

// Entry is one ledger line.
type Entry struct {
	ISBN    string `json:"isbn"`
	Message string `json:"message,omitempty"`
}

// Queue is safe for concurrent use, though the batch only ever has one
// writer.
type Queue struct {
	dir    string
	logger *zap.Logger

	mu       sync.Mutex
	pending  []string
	terminal map[string]Set
	entries  map[Set][]Entry
}

// Open loads the queue and ledger from dir, creating it if needed. A torn
// trailing line in any file is truncated away.
func Open(dir string, logger *zap.Logger) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	q := &Queue{
		dir:      dir,
		logger:   logger.Named("queue"),
		terminal: make(map[string]Set),
		entries:  make(map[Set][]Entry),
	}

	for _, set := range Sets {
		lines, err := q.readLines(LedgerPath(dir, set))
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			isbn, msg, err := DecodeRecord(line)
			if err != nil {
				continue
			}
			if prev, ok := q.terminal[isbn]; ok {
				q.logger.Warn("Identifier recorded in more than one set; keeping the first.",
					zap.String("isbn", isbn), zap.String("kept", string(prev)), zap.String("ignored", string(set)))
				continue
			}
			q.terminal[isbn] = set
			q.entries[set] = append(q.entries[set], Entry{ISBN: isbn, Message: msg})
		}
	}

	lines, err := q.readLines(filepath.Join(dir, QueueFile))
	if err != nil {
		return nil, err
	}
	pending := make([]string, 0, len(lines))
	for _, line := range lines {
		if isbn, _, err := DecodeRecord(line); err == nil {
			pending = append(pending, isbn)
		}
	}
	q.pending, _ = q.filter(pending)
	if len(q.pending) != len(pending) {
		q.logger.Info("Dropped already-recorded identifiers from the queue.",
			zap.Int("dropped", len(pending)-len(q.pending)))
		if err := q.writeQueue(q.pending); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Dir is the data directory.
func (q *Queue) Dir() string { return q.dir }

// Initialize merges ids behind the persisted pending identifiers, drops
// duplicates and anything already terminal, and persists the result. It
// returns how many identifiers were newly enqueued.
func (q *Queue) Initialize(ids []string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]string, 0, len(q.pending)+len(ids))
	merged = append(merged, q.pending...)
	merged = append(merged, ids...)
	next, skipped := q.filter(merged)

	if err := q.writeQueue(next); err != nil {
		return 0, err
	}
	added := len(next) - len(q.pending)
	q.logger.Info("Queue initialized.",
		zap.Int("resumed", len(q.pending)),
		zap.Int("enqueued", added),
		zap.Int("already_terminal", skipped))
	q.pending = next
	return added, nil
}

// filter drops duplicates, malformed identifiers and terminal identifiers,
// keeping first occurrences in order. It reports how many were terminal.
func (q *Queue) filter(ids []string) ([]string, int) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	terminal := 0
	for _, id := range ids {
		if _, err := EncodeRecord(id, ""); err != nil || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := q.terminal[id]; ok {
			terminal++
			continue
		}
		out = append(out, id)
	}
	return out, terminal
}

// Peek returns the head of the queue.
func (q *Queue) Peek() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	return q.pending[0], true
}

// RecordAndAdvance appends res to its ledger set, syncs it, and only then
// removes res.ISBN from the head of the queue.
func (q *Queue) RecordAndAdvance(res schemas.Result) error {
	set, err := SetFor(res.Outcome)
	if err != nil {
		return err
	}
	msg := res.Message
	switch res.Outcome {
	case schemas.OutcomeUnknown:
		msg = UnknownPrefix + msg
	case schemas.OutcomeError:
		if msg == "" {
			msg = "error"
		}
	default:
		msg = ""
	}
	line, err := EncodeRecord(res.ISBN, msg)
	if err != nil {
		return err
	}
	// Keep the in-memory view identical to what Open reads back.
	if _, msg, err = DecodeRecord(line); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return ErrEmpty
	}
	if q.pending[0] != res.ISBN {
		return fmt.Errorf("%w: got %q, head is %q", ErrNotHead, res.ISBN, q.pending[0])
	}

	if err := appendLine(LedgerPath(q.dir, set), line); err != nil {
		return fmt.Errorf("recording %s: %w", res.ISBN, err)
	}
	q.terminal[res.ISBN] = set
	q.entries[set] = append(q.entries[set], Entry{ISBN: res.ISBN, Message: msg})

	rest := q.pending[1:]
	if err := q.writeQueue(rest); err != nil {
		// The outcome is durable; the next Open drops the stale head.
		return fmt.Errorf("dequeuing %s: %w", res.ISBN, err)
	}
	q.pending = rest
	return nil
}

// Tally counts every set and the pending queue.
func (q *Queue) Tally() schemas.Tally {
	q.mu.Lock()
	defer q.mu.Unlock()
	return schemas.Tally{
		Added:         len(q.entries[SetAdded]),
		AlreadyExists: len(q.entries[SetAlreadyExists]),
		NotFound:      len(q.entries[SetNotFound]),
		Errors:        len(q.entries[SetErrors]),
		Pending:       len(q.pending),
	}
}

// Pending returns a copy of the queue.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.pending...)
}

// Entries returns a copy of one ledger set in recording order.
func (q *Queue) Entries(set Set) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries[set]...)
}

// Results converts every ledger record to a result, set by set. The
// ledger keeps no timestamps, so At is zero.
func (q *Queue) Results() []schemas.Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []schemas.Result
	for _, set := range Sets {
		for _, e := range q.entries[set] {
			res := schemas.Result{ISBN: e.ISBN, Outcome: OutcomeOf(set, e.Message), Message: e.Message}
			if res.Outcome == schemas.OutcomeUnknown {
				res.Message = strings.TrimPrefix(e.Message, UnknownPrefix)
			}
			out = append(out, res)
		}
	}
	return out
}

// Item reports the lifecycle state of isbn as the queue sees it. The queue
// never holds an in-flight item; that state belongs to the processor.
func (q *Queue) Item(isbn string) (schemas.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.terminal[isbn]; ok {
		return schemas.WorkItem{ISBN: isbn, State: schemas.ItemResolved}, true
	}
	for _, id := range q.pending {
		if id == isbn {
			return schemas.WorkItem{ISBN: isbn, State: schemas.ItemPending}, true
		}
	}
	return schemas.WorkItem{}, false
}

// SetOf reports which set holds isbn, if any.
func (q *Queue) SetOf(isbn string) (Set, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	set, ok := q.terminal[isbn]
	return set, ok
}

// readLines returns the complete lines of path. A missing file has none.
// A final line without a newline is a torn write and is cut off the file.
func (q *Queue) readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if n := len(data); n > 0 && data[n-1] != '\n' {
		keep := bytes.LastIndexByte(data, '\n') + 1
		q.logger.Warn("Truncating partial trailing line.",
			zap.String("file", filepath.Base(path)),
			zap.Int("bytes", n-keep))
		if err := os.Truncate(path, int64(keep)); err != nil {
			return nil, fmt.Errorf("truncating %s: %w", path, err)
		}
		data = data[:keep]
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// writeQueue replaces the queue file atomically.
func (q *Queue) writeQueue(ids []string) error {
	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(id)
		buf.WriteByte('\n')
	}

	path := filepath.Join(q.dir, QueueFile)
	tmp, err := os.CreateTemp(q.dir, ".queue-*.tmp")
	if err != nil {
		return fmt.Errorf("creating queue temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing queue: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing queue: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return syncDir(q.dir)
}

// appendLine appends one line and fsyncs before returning. A file created
// by the call also has its directory entry synced.
func appendLine(path, line string) error {
	_, statErr := os.Stat(path)
	created := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if created {
		return syncDir(filepath.Dir(path))
	}
	return nil
}

// syncDir flushes dir's entries so a rename or create survives power loss.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening %s for sync: %w", dir, err)
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return fmt.Errorf("syncing %s: %w", dir, err)
	}
	return d.Close()
}
