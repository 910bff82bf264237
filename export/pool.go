package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ChunkSource yields chunks in index order, io.EOF terminal.
type ChunkSource interface {
	Next(ctx context.Context) (Chunk, error)
}

// Pool renders chunks concurrently, bounded by Concurrency. Failures are
// captured per chunk and never abort sibling renders. The pool fully
// drains before returning and produces exactly one result per chunk,
// ordered by chunk index regardless of completion order.
type Pool struct {
	Concurrency int
	Logger      Logger
}

// Run renders every chunk in the slice. Cancellation lets in-flight
// renders finish; chunks not yet handed to a worker are marked canceled
// without being dispatched.
func (p Pool) Run(ctx context.Context, chunks []Chunk, render RenderFunc) ([]ChunkResult, error) {
	if err := p.validate(render); err != nil {
		return nil, err
	}

	results := make([]ChunkResult, len(chunks))

	var group errgroup.Group
	group.SetLimit(p.Concurrency)
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			results[i] = canceledResult(chunk)
			continue
		}
		group.Go(func() error {
			results[i] = p.renderOne(ctx, chunk, render)
			return nil
		})
	}
	_ = group.Wait()

	return results, nil
}

// RunStream pulls chunks from src and renders them as they arrive, so
// only in-flight chunks stay resident. On cancellation no further
// chunks are pulled; in-flight renders finish, already pulled but
// undispatched chunks are marked canceled, and the context error is
// returned so the caller knows the stream was cut short.
func (p Pool) RunStream(ctx context.Context, src ChunkSource, render RenderFunc) ([]ChunkResult, error) {
	if err := p.validate(render); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, NewError(KindConfig, "chunk source is required", nil)
	}

	var (
		mu      sync.Mutex
		results []ChunkResult
	)
	record := func(res ChunkResult) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}

	var group errgroup.Group
	group.SetLimit(p.Concurrency)

	var srcErr error
	for {
		if err := ctx.Err(); err != nil {
			srcErr = err
			break
		}
		chunk, err := src.Next(ctx)
		if err != nil {
			if err != io.EOF {
				srcErr = err
			}
			break
		}
		group.Go(func() error {
			record(p.renderOne(ctx, chunk, render))
			return nil
		})
	}
	_ = group.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results, srcErr
}

func (p Pool) validate(render RenderFunc) error {
	if p.Concurrency <= 0 {
		return NewError(KindConfig, fmt.Sprintf("concurrency must be positive, got %d", p.Concurrency), nil)
	}
	if render == nil {
		return NewError(KindConfig, "render function is required", nil)
	}
	return nil
}

func (p Pool) renderOne(ctx context.Context, chunk Chunk, render RenderFunc) ChunkResult {
	if ctx.Err() != nil {
		return canceledResult(chunk)
	}

	started := time.Now()
	path, err := render(ctx, chunk)
	result := ChunkResult{
		Index:    chunk.Index,
		Path:     path,
		Rows:     len(chunk.Rows),
		Duration: time.Since(started),
		Err:      err,
	}
	if err != nil {
		result.Path = ""
		p.logger().Errorf("chunk %d failed: %v", chunk.Index, err)
	} else {
		p.logger().Infof("chunk %d exported %d rows to %s in %s", chunk.Index, len(chunk.Rows), path, result.Duration)
	}
	return result
}

func (p Pool) logger() Logger {
	if p.Logger == nil {
		return NopLogger{}
	}
	return p.Logger
}

func canceledResult(chunk Chunk) ChunkResult {
	return ChunkResult{
		Index: chunk.Index,
		Rows:  len(chunk.Rows),
		Err:   NewError(KindCanceled, fmt.Sprintf("chunk %d canceled before dispatch", chunk.Index), nil),
	}
}
