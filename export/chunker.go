package export

import (
	"context"
	"fmt"
	"io"
)

// excelMaxRows is the XLSX worksheet row limit.
const excelMaxRows = 1048576

// Chunker partitions an ordered row stream into contiguous chunks of at
// most size rows. It consumes the stream exactly once and holds at most
// one chunk's worth of rows in memory.
type Chunker struct {
	rows   RowIterator
	schema Schema
	size   int
	index  int
	done   bool
}

// NewChunker creates a chunker over rows. The chunk size must be
// positive and leave room for the header row within the XLSX row limit.
func NewChunker(rows RowIterator, schema Schema, size int) (*Chunker, error) {
	if rows == nil {
		return nil, NewError(KindConfig, "row iterator is required", nil)
	}
	if size <= 0 {
		return nil, NewError(KindConfig, fmt.Sprintf("chunk size must be positive, got %d", size), nil)
	}
	if size > excelMaxRows-1 {
		return nil, NewError(KindConfig, fmt.Sprintf("chunk size %d exceeds the %d row worksheet limit", size, excelMaxRows-1), nil)
	}
	return &Chunker{rows: rows, schema: schema, size: size}, nil
}

// Next returns the next chunk, or io.EOF once the stream is exhausted.
// An empty stream yields io.EOF immediately; no chunk is ever empty.
func (c *Chunker) Next(ctx context.Context) (Chunk, error) {
	if c.done {
		return Chunk{}, io.EOF
	}

	buf := make([]Row, 0, c.size)
	for len(buf) < c.size {
		row, err := c.rows.Next(ctx)
		if err != nil {
			if err == io.EOF {
				c.done = true
				break
			}
			return Chunk{}, err
		}
		if len(row) != len(c.schema.Columns) {
			return Chunk{}, NewError(KindConfig, fmt.Sprintf("row %d length %d does not match schema width %d",
				c.index*c.size+len(buf), len(row), len(c.schema.Columns)), nil)
		}
		buf = append(buf, row)
	}

	if len(buf) == 0 {
		return Chunk{}, io.EOF
	}

	chunk := Chunk{Index: c.index, Schema: c.schema, Rows: buf}
	c.index++
	return chunk, nil
}
