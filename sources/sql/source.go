package exportsql

import (
	"context"
	"database/sql"
	"io"
	"strings"

	"github.com/goliatone/go-chunkexport/export"
)

// Source adapts a *sql.DB into an export.RowSource. It does not own the
// pool: the caller opens and closes the database.
type Source struct {
	DB *sql.DB
}

// NewSource creates a row source over db.
func NewSource(db *sql.DB) *Source {
	return &Source{DB: db}
}

// Open executes the query and returns the column schema plus a
// single-pass iterator over the result set.
func (s *Source) Open(ctx context.Context, spec export.RowSourceSpec) (export.Schema, export.RowIterator, error) {
	if s == nil || s.DB == nil {
		return export.Schema{}, nil, export.NewError(export.KindConfig, "database handle is required", nil)
	}
	if strings.TrimSpace(spec.Query) == "" {
		return export.Schema{}, nil, export.NewError(export.KindConfig, "query is required", nil)
	}

	rows, err := s.DB.QueryContext(ctx, spec.Query, spec.Params...)
	if err != nil {
		return export.Schema{}, nil, err
	}

	names, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return export.Schema{}, nil, err
	}

	schema := export.Schema{Columns: make([]export.Column, len(names))}
	for i, name := range names {
		schema.Columns[i] = export.Column{Name: name}
	}
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			schema.Columns[i].Type = strings.ToLower(ct.DatabaseTypeName())
		}
	}

	return schema, &rowIterator{rows: rows, width: len(names)}, nil
}

type rowIterator struct {
	rows  *sql.Rows
	width int
}

func (it *rowIterator) Next(ctx context.Context) (export.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	values := make([]any, it.width)
	scan := make([]any, it.width)
	for i := range values {
		scan[i] = &values[i]
	}
	if err := it.rows.Scan(scan...); err != nil {
		return nil, err
	}
	return export.Row(values), nil
}

func (it *rowIterator) Close() error {
	return it.rows.Close()
}
