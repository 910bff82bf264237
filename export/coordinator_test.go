package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	errorslib "github.com/goliatone/go-errors"
)

type stubRowSource struct {
	rows    []Row
	iterErr error
	opens   int
	lastSQL string
}

func (s *stubRowSource) Open(ctx context.Context, spec RowSourceSpec) (Schema, RowIterator, error) {
	_ = ctx
	s.opens++
	s.lastSQL = spec.Query
	return testSchema, &stubIterator{rows: s.rows, err: s.iterErr}, nil
}

type captureUploader struct {
	calls   int
	issue   string
	title   string
	paths   []string
	comment string
	err     error
}

func (u *captureUploader) AttachAndComment(ctx context.Context, issueKey, issueTitle string, paths []string, comment string) error {
	_ = ctx
	u.calls++
	u.issue = issueKey
	u.title = issueTitle
	u.paths = paths
	u.comment = comment
	return u.err
}

// failingRenderer fails a fixed chunk index and writes a marker file for
// every other chunk.
type failingRenderer struct {
	failIndex int
}

func (r failingRenderer) Render(ctx context.Context, chunk Chunk, target ExportTarget, decorations []Decoration) (string, error) {
	_ = ctx
	_ = decorations
	if chunk.Index == r.failIndex {
		return "", NewError(KindWrite, fmt.Sprintf("chunk %d write failed", chunk.Index), nil)
	}
	if err := os.WriteFile(target.Path, []byte("data"), 0o644); err != nil {
		return "", NewError(KindWrite, "write failed", err)
	}
	return target.Path, nil
}

func newTestCoordinator(t *testing.T, source RowSource) *Coordinator {
	t.Helper()
	coordinator := NewCoordinator(t.TempDir(), source)
	coordinator.NewID = func() string { return "test-export" }
	return coordinator
}

func TestCoordinator_ChunkedExport(t *testing.T) {
	source := &stubRowSource{rows: makeRows(2500)}
	coordinator := newTestCoordinator(t, source)

	outcome, err := coordinator.Export(context.Background(), Request{
		Query:        "SELECT id, name FROM things",
		BaseFilename: "things.xlsx",
		SheetName:    "Data",
		ChunkSize:    1000,
		Concurrency:  2,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if outcome.State != StateCompleted {
		t.Fatalf("expected completed, got %s", outcome.State)
	}
	if outcome.Rows != 2500 {
		t.Fatalf("expected 2500 rows, got %d", outcome.Rows)
	}
	if len(outcome.Paths) != 3 {
		t.Fatalf("expected 3 files, got %d", len(outcome.Paths))
	}
	for i, path := range outcome.Paths {
		want := fmt.Sprintf("things_%d.xlsx", i+1)
		if filepath.Base(path) != want {
			t.Fatalf("expected file %q, got %q", want, filepath.Base(path))
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing output file %s: %v", path, err)
		}
	}

	// Chunk sizes 1000, 1000, 500 round-tripped through the real renderer.
	rows := readRows(t, outcome.Paths[2], "Data")
	if len(rows) != 501 {
		t.Fatalf("expected header + 500 rows in last file, got %d", len(rows))
	}
}

func TestCoordinator_SingleChunkKeepsBaseName(t *testing.T) {
	source := &stubRowSource{rows: makeRows(5)}
	coordinator := newTestCoordinator(t, source)

	outcome, err := coordinator.Export(context.Background(), Request{
		Query:        "SELECT id, name FROM things",
		BaseFilename: "things.xlsx",
		ChunkSize:    100,
		Concurrency:  2,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(outcome.Paths) != 1 {
		t.Fatalf("expected 1 file, got %d", len(outcome.Paths))
	}
	if filepath.Base(outcome.Paths[0]) != "things.xlsx" {
		t.Fatalf("expected unmodified base name, got %q", filepath.Base(outcome.Paths[0]))
	}
}

func TestCoordinator_EmptyStreamIsNoData(t *testing.T) {
	source := &stubRowSource{}
	uploader := &captureUploader{}
	coordinator := newTestCoordinator(t, source)
	coordinator.Uploader = uploader

	outcome, err := coordinator.Export(context.Background(), Request{
		Query:        "SELECT id, name FROM things",
		BaseFilename: "things.xlsx",
		ChunkSize:    100,
		Concurrency:  2,
		IssueKey:     "OPS-1",
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if outcome.State != StateNoData {
		t.Fatalf("expected no_data, got %s", outcome.State)
	}
	if len(outcome.Paths) != 0 || outcome.Failed() {
		t.Fatalf("expected empty outcome, got %+v", outcome)
	}
	if uploader.calls != 0 {
		t.Fatalf("uploader must not run for an empty result")
	}

	entries, err := os.ReadDir(coordinator.Dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files, found %d", len(entries))
	}
}

func TestCoordinator_PartialFailure(t *testing.T) {
	source := &stubRowSource{rows: makeRows(50)}
	uploader := &captureUploader{}
	coordinator := newTestCoordinator(t, source)
	coordinator.Renderer = failingRenderer{failIndex: 1}
	coordinator.Uploader = uploader

	outcome, err := coordinator.Export(context.Background(), Request{
		Query:        "SELECT id, name FROM things",
		BaseFilename: "things.xlsx",
		ChunkSize:    10,
		Concurrency:  2,
		IssueKey:     "OPS-1",
	})
	if err != nil {
		t.Fatalf("partial failure must not be the returned error: %v", err)
	}

	if outcome.State != StatePartiallyFailed {
		t.Fatalf("expected partially_failed, got %s", outcome.State)
	}
	if len(outcome.Paths) != 4 {
		t.Fatalf("expected 4 succeeded paths, got %d", len(outcome.Paths))
	}
	if len(outcome.Failures) != 1 || outcome.Failures[0].Index != 1 {
		t.Fatalf("expected exactly one failure at index 1, got %+v", outcome.Failures)
	}
	if KindFromError(outcome.Failures[0].Cause) != KindWrite {
		t.Fatalf("expected write failure, got %v", outcome.Failures[0].Cause)
	}
	for _, path := range outcome.Paths {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("succeeded file missing: %v", err)
		}
	}
	if uploader.calls != 0 {
		t.Fatalf("uploader must not run after a partial failure")
	}
}

func TestCoordinator_SourceFailureReportsRenderedChunks(t *testing.T) {
	source := &stubRowSource{rows: makeRows(25), iterErr: errors.New("connection reset")}
	uploader := &captureUploader{}
	coordinator := newTestCoordinator(t, source)
	coordinator.Uploader = uploader

	outcome, err := coordinator.Export(context.Background(), Request{
		Query:        "SELECT id, name FROM things",
		BaseFilename: "things.xlsx",
		ChunkSize:    10,
		Concurrency:  2,
		IssueKey:     "OPS-1",
	})
	if err == nil {
		t.Fatalf("expected the source error to surface")
	}
	var mapped *errorslib.Error
	if !errors.As(err, &mapped) || mapped.TextCode != "internal" {
		t.Fatalf("expected internal error code, got %v", err)
	}

	// The chunks rendered before the stream broke are still accounted
	// for, with their files on disk.
	if outcome.State != StatePartiallyFailed {
		t.Fatalf("expected partially_failed, got %q", outcome.State)
	}
	if len(outcome.Paths) != 2 {
		t.Fatalf("expected 2 rendered paths, got %v", outcome.Paths)
	}
	for i, path := range outcome.Paths {
		want := fmt.Sprintf("things_%d.xlsx", i+1)
		if filepath.Base(path) != want {
			t.Fatalf("expected file %q, got %q", want, filepath.Base(path))
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("rendered file missing: %v", err)
		}
	}
	if outcome.Rows != 20 {
		t.Fatalf("expected 20 rendered rows, got %d", outcome.Rows)
	}
	if uploader.calls != 0 {
		t.Fatalf("uploader must not run after a source failure")
	}
}

func TestCoordinator_UploadsOnCompletion(t *testing.T) {
	source := &stubRowSource{rows: makeRows(5)}
	uploader := &captureUploader{}
	coordinator := newTestCoordinator(t, source)
	coordinator.Uploader = uploader

	outcome, err := coordinator.Export(context.Background(), Request{
		Query:        "SELECT id, name FROM things",
		BaseFilename: "things.xlsx",
		ChunkSize:    100,
		Concurrency:  1,
		IssueKey:     "OPS-7",
		IssueTitle:   "Quarterly numbers",
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !outcome.Uploaded {
		t.Fatalf("expected uploaded outcome")
	}
	if uploader.calls != 1 || uploader.issue != "OPS-7" || uploader.title != "Quarterly numbers" {
		t.Fatalf("unexpected upload call: %+v", uploader)
	}

	// The XLSX plus the SQL sidecar.
	if len(uploader.paths) != 2 {
		t.Fatalf("expected 2 uploaded files, got %v", uploader.paths)
	}
	if filepath.Base(uploader.paths[1]) != "things.sql" {
		t.Fatalf("expected sql sidecar, got %q", uploader.paths[1])
	}
	sidecar, err := os.ReadFile(uploader.paths[1])
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if string(sidecar) != "SELECT id, name FROM things" {
		t.Fatalf("unexpected sidecar content %q", sidecar)
	}

	if !strings.Contains(uploader.comment, "[^things.xlsx]") || !strings.Contains(uploader.comment, "[^things.sql]") {
		t.Fatalf("comment does not list attachments: %q", uploader.comment)
	}
}

func TestCoordinator_UploadFailureKeepsFiles(t *testing.T) {
	source := &stubRowSource{rows: makeRows(5)}
	uploader := &captureUploader{err: errors.New("401 unauthorized")}
	coordinator := newTestCoordinator(t, source)
	coordinator.Uploader = uploader

	outcome, err := coordinator.Export(context.Background(), Request{
		Query:        "SELECT id, name FROM things",
		BaseFilename: "things.xlsx",
		ChunkSize:    100,
		Concurrency:  1,
		IssueKey:     "OPS-7",
	})
	if err == nil {
		t.Fatalf("expected upload error")
	}
	var mapped *errorslib.Error
	if !errors.As(err, &mapped) || mapped.TextCode != "upload" {
		t.Fatalf("expected upload error code, got %v", err)
	}

	if outcome.State != StateCompleted {
		t.Fatalf("upload failure must not invalidate the export, got %s", outcome.State)
	}
	if outcome.Uploaded {
		t.Fatalf("outcome must not be marked uploaded")
	}
	for _, path := range outcome.Paths {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("written file missing after upload failure: %v", err)
		}
	}
}

func TestCoordinator_ValidatesBeforeAnyWork(t *testing.T) {
	cases := []struct {
		name string
		req  Request
	}{
		{"zero chunk size", Request{BaseFilename: "x.xlsx", ChunkSize: 0, Concurrency: 1}},
		{"negative concurrency", Request{BaseFilename: "x.xlsx", ChunkSize: 10, Concurrency: -1}},
		{"missing base filename", Request{ChunkSize: 10, Concurrency: 1}},
		{"path separator in base filename", Request{BaseFilename: "a/b.xlsx", ChunkSize: 10, Concurrency: 1}},
		{"issue without uploader", Request{BaseFilename: "x.xlsx", ChunkSize: 10, Concurrency: 1, IssueKey: "OPS-1"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			source := &stubRowSource{rows: makeRows(5)}
			coordinator := newTestCoordinator(t, source)

			_, err := coordinator.Export(context.Background(), tc.req)
			if err == nil {
				t.Fatalf("expected config error")
			}
			var mapped *errorslib.Error
			if !errors.As(err, &mapped) || mapped.TextCode != "config" {
				t.Fatalf("expected config error code, got %v", err)
			}
			if source.opens != 0 {
				t.Fatalf("row source opened despite invalid configuration")
			}
		})
	}
}

func TestCoordinator_MissingDestinationDirectory(t *testing.T) {
	source := &stubRowSource{rows: makeRows(5)}
	coordinator := NewCoordinator(filepath.Join(os.TempDir(), "does-not-exist-ck"), source)

	_, err := coordinator.Export(context.Background(), Request{
		Query:        "SELECT 1",
		BaseFilename: "x.xlsx",
		ChunkSize:    10,
		Concurrency:  1,
	})
	if err == nil {
		t.Fatalf("expected config error for missing directory")
	}
	var mapped *errorslib.Error
	if !errors.As(err, &mapped) || mapped.Category != errorslib.CategoryValidation {
		t.Fatalf("expected validation category, got %v", err)
	}
}
