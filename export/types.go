package export

import (
	"context"
	"time"
)

// Row is a column-aligned record.
type Row []any

// Column defines a column in the export schema.
type Column struct {
	Name  string
	Label string
	Type  string
}

// Schema defines the columns for a dataset. It is fixed for the whole
// row stream and known before chunking begins.
type Schema struct {
	Columns []Column
}

// Labels returns the header labels, falling back to column names.
func (s Schema) Labels() []string {
	labels := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		label := col.Label
		if label == "" {
			label = col.Name
		}
		labels[i] = label
	}
	return labels
}

// RowIterator streams rows. Next returns io.EOF when the stream is
// exhausted.
type RowIterator interface {
	Next(ctx context.Context) (Row, error)
	Close() error
}

// RowSourceSpec is passed to RowSource.Open.
type RowSourceSpec struct {
	Query  string
	Params []any
}

// RowSource provides row iterators for exports. Implementations own the
// connection lifecycle; the engine only consumes the iterator.
type RowSource interface {
	Open(ctx context.Context, spec RowSourceSpec) (Schema, RowIterator, error)
}

// Chunk is a contiguous, ordered slice of the row stream. Indexes are
// 0-based, strictly increasing and gap-free. A chunk is immutable once
// emitted and owned by exactly one render task.
type Chunk struct {
	Index  int
	Schema Schema
	Rows   []Row
}

// ExportTarget is the resolved destination for one chunk.
type ExportTarget struct {
	Path      string
	SheetName string
	Overwrite bool
}

// ChunkResult is the outcome of rendering one chunk. Err is nil on
// success, in which case Path points at the produced file.
type ChunkResult struct {
	Index    int
	Path     string
	Rows     int
	Duration time.Duration
	Err      error
}

// ChunkFailure pairs a failed chunk index with its cause.
type ChunkFailure struct {
	Index int
	Cause error
}

// State captures the terminal state of an export.
type State string

const (
	StateCompleted       State = "completed"
	StatePartiallyFailed State = "partially_failed"
	StateNoData          State = "no_data"
)

// ExportOutcome aggregates all chunk results. Paths is ordered by chunk
// index and contains only successfully produced files.
type ExportOutcome struct {
	ID       string
	State    State
	Paths    []string
	Failures []ChunkFailure
	Rows     int
	Duration time.Duration
	Uploaded bool
}

// Failed reports whether any chunk failed.
func (o ExportOutcome) Failed() bool {
	return len(o.Failures) > 0
}

// RenderFunc renders one chunk and returns the produced file path. The
// function is expected to resolve the chunk's target itself.
type RenderFunc func(ctx context.Context, chunk Chunk) (string, error)

// FileRenderer writes one chunk to one spreadsheet document.
type FileRenderer interface {
	Render(ctx context.Context, chunk Chunk, target ExportTarget, decorations []Decoration) (string, error)
}

// DecorationElement is a single label/content pair on a decoration
// sheet.
type DecorationElement struct {
	Label   string
	Content any
}

// Decoration describes an extra worksheet with a title and a block of
// label/content rows, applied to a produced document as best effort.
type Decoration struct {
	SheetName string
	Title     string
	Elements  []DecorationElement
}

// Uploader attaches produced files to an issue and posts a comment.
// Invoked only after a fully successful export.
type Uploader interface {
	AttachAndComment(ctx context.Context, issueKey, issueTitle string, paths []string, comment string) error
}

// Logger provides logging hooks.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// NopLogger is a no-op logger.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any) {}
func (NopLogger) Infof(string, ...any)  {}
func (NopLogger) Warnf(string, ...any)  {}
func (NopLogger) Errorf(string, ...any) {}
