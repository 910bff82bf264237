package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
)

const defaultSheetName = "Data"

// XLSXRenderer writes chunks to XLSX documents on disk.
//
// Documents are written to a temp file in the destination directory,
// fsynced and then linked into place, so a partially written file is
// never visible at a path that gets reported as a success. When two
// concurrent renders race on the same overwrite-disallowed path, the
// second one to attempt the final link loses with a DestinationExists
// failure.
type XLSXRenderer struct {
	Logger Logger
	Now    func() time.Time
}

// Render writes the chunk's header and rows to target.Path and applies
// the decorations as a best-effort second pass. A decoration failure is
// logged as a warning and does not invalidate the written document.
func (r XLSXRenderer) Render(ctx context.Context, chunk Chunk, target ExportTarget, decorations []Decoration) (string, error) {
	if target.Path == "" {
		return "", NewError(KindConfig, "target path is required", nil)
	}

	if !target.Overwrite {
		if _, err := os.Stat(target.Path); err == nil {
			return "", NewError(KindDestinationExists, fmt.Sprintf("file already exists at %s", target.Path), nil)
		}
	}

	if err := r.write(ctx, chunk, target); err != nil {
		return "", err
	}

	if len(decorations) > 0 {
		if err := applyDecorations(target.Path, decorations, r.now()); err != nil {
			r.logger().Warnf("decorating %s failed, document kept undecorated: %v", target.Path, err)
		}
	}

	return target.Path, nil
}

func (r XLSXRenderer) write(ctx context.Context, chunk Chunk, target ExportTarget) error {
	file := excelize.NewFile()
	defer func() {
		_ = file.Close()
	}()

	sheetName := target.SheetName
	if sheetName == "" {
		sheetName = defaultSheetName
	}
	if defaultSheet := file.GetSheetName(0); defaultSheet != sheetName {
		if err := file.SetSheetName(defaultSheet, sheetName); err != nil {
			return NewError(KindWrite, "renaming worksheet failed", err)
		}
	}

	stream, err := file.NewStreamWriter(sheetName)
	if err != nil {
		return NewError(KindWrite, "opening stream writer failed", err)
	}

	headerID, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return NewError(KindWrite, "creating header style failed", err)
	}
	headers := make([]any, len(chunk.Schema.Columns))
	for i, label := range chunk.Schema.Labels() {
		headers[i] = excelize.Cell{StyleID: headerID, Value: label}
	}
	if err := stream.SetRow("A1", headers); err != nil {
		return NewError(KindWrite, "writing header row failed", err)
	}

	for i, row := range chunk.Rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		cells := make([]any, len(row))
		for j, value := range row {
			cells[j] = cellValue(value)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return NewError(KindWrite, "resolving cell coordinates failed", err)
		}
		if err := stream.SetRow(cell, cells); err != nil {
			return NewError(KindWrite, fmt.Sprintf("writing row %d failed", i), err)
		}
	}

	if err := stream.Flush(); err != nil {
		return NewError(KindWrite, "flushing worksheet failed", err)
	}

	return r.commit(file, target)
}

// commit writes the workbook to a temp file and links it into place.
func (r XLSXRenderer) commit(file *excelize.File, target ExportTarget) error {
	dir := filepath.Dir(target.Path)
	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return NewError(KindWrite, "creating temp file failed", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := file.WriteTo(tmp); err != nil {
		return NewError(KindWrite, "writing workbook failed", err)
	}
	if err := tmp.Sync(); err != nil {
		return NewError(KindWrite, "syncing workbook failed", err)
	}
	if err := tmp.Close(); err != nil {
		return NewError(KindWrite, "closing workbook failed", err)
	}

	if target.Overwrite {
		if err := os.Rename(tmpName, target.Path); err != nil {
			return NewError(KindWrite, "moving workbook into place failed", err)
		}
		return nil
	}

	// Link instead of rename so the race between two overwrite-disallowed
	// writers has a defined loser.
	if err := os.Link(tmpName, target.Path); err != nil {
		if os.IsExist(err) {
			return NewError(KindDestinationExists, fmt.Sprintf("file already exists at %s", target.Path), err)
		}
		return NewError(KindWrite, "moving workbook into place failed", err)
	}
	return nil
}

func (r XLSXRenderer) logger() Logger {
	if r.Logger == nil {
		return NopLogger{}
	}
	return r.Logger
}

func (r XLSXRenderer) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func cellValue(value any) any {
	switch v := value.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	case time.Time:
		return v
	default:
		return v
	}
}
