package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request captures one export invocation. It is an immutable value,
// validated once before any chunk work starts.
type Request struct {
	Query        string
	Params       []any
	BaseFilename string
	SheetName    string
	ChunkSize    int
	Concurrency  int
	Overwrite    bool
	Decorations  []Decoration

	// IssueKey enables the upload step; when empty no upload happens.
	IssueKey   string
	IssueTitle string
}

// Coordinator drives the export pipeline: it opens the row stream,
// chunks it, fans the chunks out to the worker pool, aggregates the
// per-chunk outcomes and, on full success, hands the produced files to
// the uploader.
type Coordinator struct {
	// Dir is the destination directory for all produced files.
	Dir      string
	Source   RowSource
	Renderer FileRenderer
	Uploader Uploader
	Logger   Logger
	Now      func() time.Time
	NewID    func() string
}

// NewCoordinator creates a coordinator with an XLSX renderer and a
// uuid-based run ID generator.
func NewCoordinator(dir string, source RowSource) *Coordinator {
	return &Coordinator{
		Dir:      dir,
		Source:   source,
		Renderer: XLSXRenderer{},
		Logger:   NopLogger{},
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
}

// Export runs the pipeline for req.
//
// Per-chunk failures never surface as the returned error: they are
// aggregated into a PartiallyFailed outcome so the caller has a complete
// accounting of which chunks succeeded (with paths) and which failed
// (with cause), enabling selective retry by chunk index. The returned
// error is reserved for configuration problems, row source failures and
// upload failures; an upload failure leaves the outcome Completed since
// the written files stay valid. A row source failure mid-stream returns
// both the error and a PartiallyFailed outcome listing the files
// already produced, so nothing written to disk goes unreported.
//
// An empty row stream is the distinct NoData outcome: no files are
// written and the uploader is not invoked.
func (c *Coordinator) Export(ctx context.Context, req Request) (ExportOutcome, error) {
	if c == nil {
		return ExportOutcome{}, AsGoError(NewError(KindInternal, "coordinator is nil", nil))
	}
	c.applyDefaults()

	if err := c.validate(req); err != nil {
		return ExportOutcome{}, AsGoError(err)
	}

	outcome := ExportOutcome{ID: c.NewID()}
	started := c.Now()
	log := c.Logger

	log.Infof("export %s starting: chunk_size=%d concurrency=%d dir=%s", outcome.ID, req.ChunkSize, req.Concurrency, c.Dir)

	queryStarted := c.Now()
	schema, rows, err := c.Source.Open(ctx, RowSourceSpec{Query: req.Query, Params: req.Params})
	if err != nil {
		return outcome, AsGoError(NewError(KindInternal, "opening row source failed", err))
	}
	defer func() {
		_ = rows.Close()
	}()
	queryDuration := c.Now().Sub(queryStarted)

	chunker, err := NewChunker(rows, schema, req.ChunkSize)
	if err != nil {
		return outcome, AsGoError(err)
	}

	src, multi, err := newLookaheadSource(ctx, chunker)
	if err != nil {
		if err == io.EOF {
			outcome.State = StateNoData
			outcome.Duration = c.Now().Sub(started)
			log.Infof("export %s produced no data, skipping output and upload", outcome.ID)
			return outcome, nil
		}
		return outcome, AsGoError(err)
	}

	decorations := c.buildDecorations(req, queryDuration)
	render := func(ctx context.Context, chunk Chunk) (string, error) {
		target := ResolveTarget(c.Dir, req.BaseFilename, chunk.Index, multi, req.SheetName, req.Overwrite)
		return c.Renderer.Render(ctx, chunk, target, decorations)
	}

	pool := Pool{Concurrency: req.Concurrency, Logger: log}
	results, runErr := pool.RunStream(ctx, src, render)

	for _, res := range results {
		outcome.Rows += res.Rows
		if res.Err != nil {
			outcome.Failures = append(outcome.Failures, ChunkFailure{Index: res.Index, Cause: res.Err})
			continue
		}
		outcome.Paths = append(outcome.Paths, res.Path)
	}
	outcome.Duration = c.Now().Sub(started)

	// A row source failure mid-stream still leaves the already rendered
	// files on disk; report them so the caller can retry or clean up.
	if runErr != nil {
		outcome.State = StatePartiallyFailed
		log.Errorf("export %s aborted: %d chunk(s) rendered before the row stream failed: %v", outcome.ID, len(outcome.Paths), runErr)
		return outcome, AsGoError(NewError(KindInternal, "reading row stream failed", runErr))
	}

	if outcome.Failed() {
		outcome.State = StatePartiallyFailed
		log.Errorf("export %s partially failed: %d succeeded, %d failed", outcome.ID, len(outcome.Paths), len(outcome.Failures))
		return outcome, nil
	}
	outcome.State = StateCompleted
	log.Infof("export %s completed: %d rows in %d file(s) in %s", outcome.ID, outcome.Rows, len(outcome.Paths), outcome.Duration)

	sidecar, err := c.writeQuerySidecar(req)
	if err != nil {
		log.Warnf("export %s: writing query sidecar failed: %v", outcome.ID, err)
		sidecar = ""
	}

	if req.IssueKey == "" {
		return outcome, nil
	}
	if err := c.upload(ctx, req, outcome, sidecar); err != nil {
		return outcome, AsGoError(err)
	}
	outcome.Uploaded = true
	return outcome, nil
}

func (c *Coordinator) applyDefaults() {
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	if c.Renderer == nil {
		c.Renderer = XLSXRenderer{Logger: c.Logger, Now: c.Now}
	}
}

func (c *Coordinator) validate(req Request) error {
	if c.Source == nil {
		return NewError(KindConfig, "row source is required", nil)
	}
	if req.ChunkSize <= 0 {
		return NewError(KindConfig, fmt.Sprintf("chunk size must be positive, got %d", req.ChunkSize), nil)
	}
	if req.ChunkSize > excelMaxRows-1 {
		return NewError(KindConfig, fmt.Sprintf("chunk size %d exceeds the %d row worksheet limit", req.ChunkSize, excelMaxRows-1), nil)
	}
	if req.Concurrency <= 0 {
		return NewError(KindConfig, fmt.Sprintf("concurrency must be positive, got %d", req.Concurrency), nil)
	}
	if strings.TrimSpace(req.BaseFilename) == "" {
		return NewError(KindConfig, "base filename is required", nil)
	}
	if strings.ContainsAny(req.BaseFilename, `/\`) {
		return NewError(KindConfig, "base filename must not contain path separators", nil)
	}
	if req.IssueKey != "" && c.Uploader == nil {
		return NewError(KindConfig, "issue key set but no uploader configured", nil)
	}

	info, err := os.Stat(c.Dir)
	if err != nil {
		return NewError(KindConfig, fmt.Sprintf("destination directory %s is not accessible", c.Dir), err)
	}
	if !info.IsDir() {
		return NewError(KindConfig, fmt.Sprintf("destination %s is not a directory", c.Dir), nil)
	}
	probe, err := os.CreateTemp(c.Dir, ".probe-*")
	if err != nil {
		return NewError(KindConfig, fmt.Sprintf("destination directory %s is not writable", c.Dir), err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	return nil
}

// buildDecorations appends the query details sheet to the caller's
// decorations. No decorations configured means none are applied at all.
func (c *Coordinator) buildDecorations(req Request, queryDuration time.Duration) []Decoration {
	if len(req.Decorations) == 0 {
		return nil
	}
	decorations := make([]Decoration, len(req.Decorations), len(req.Decorations)+1)
	copy(decorations, req.Decorations)
	decorations = append(decorations, Decoration{
		SheetName: "SQL",
		Title:     "Query details",
		Elements: []DecorationElement{
			{Label: "Query duration", Content: queryDuration.Round(time.Millisecond).String()},
			{Label: "SQL query", Content: req.Query},
		},
	})
	return decorations
}

// writeQuerySidecar stores the query text next to the exported
// documents so the export is reproducible.
func (c *Coordinator) writeQuerySidecar(req Request) (string, error) {
	if strings.TrimSpace(req.Query) == "" {
		return "", nil
	}
	path := QuerySidecarPath(c.Dir, req.BaseFilename)
	if err := os.WriteFile(path, []byte(req.Query), 0o644); err != nil {
		return "", NewError(KindWrite, "writing query sidecar failed", err)
	}
	return path, nil
}

func (c *Coordinator) upload(ctx context.Context, req Request, outcome ExportOutcome, sidecar string) error {
	paths := append([]string(nil), outcome.Paths...)
	if sidecar != "" {
		paths = append(paths, sidecar)
	}

	comment := CommentBody(paths)
	c.Logger.Infof("export %s uploading %d file(s) to issue %s", outcome.ID, len(paths), req.IssueKey)
	if err := c.Uploader.AttachAndComment(ctx, req.IssueKey, req.IssueTitle, paths, comment); err != nil {
		return NewError(KindUpload, fmt.Sprintf("uploading to issue %s failed", req.IssueKey), err)
	}
	return nil
}

// CommentBody builds the issue comment listing the attached files using
// attachment link markup.
func CommentBody(paths []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Attached the following %d file(s) to this issue:\n\n", len(paths))
	for _, path := range paths {
		fmt.Fprintf(&b, " [^%s]\n", filepath.Base(path))
	}
	return b.String()
}

// lookaheadSource buffers the first two chunks so the export knows,
// before the first render starts, whether it spans multiple files. The
// first chunk's filename depends on that.
type lookaheadSource struct {
	buffered []Chunk
	rest     *Chunker
}

// newLookaheadSource pulls up to two chunks. io.EOF on the first pull
// means the stream was empty.
func newLookaheadSource(ctx context.Context, chunker *Chunker) (*lookaheadSource, bool, error) {
	first, err := chunker.Next(ctx)
	if err != nil {
		return nil, false, err
	}
	src := &lookaheadSource{buffered: []Chunk{first}, rest: chunker}

	second, err := chunker.Next(ctx)
	if err == io.EOF {
		return src, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	src.buffered = append(src.buffered, second)
	return src, true, nil
}

func (s *lookaheadSource) Next(ctx context.Context) (Chunk, error) {
	if len(s.buffered) > 0 {
		chunk := s.buffered[0]
		s.buffered = s.buffered[1:]
		return chunk, nil
	}
	return s.rest.Next(ctx)
}
