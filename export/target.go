package export

import (
	"fmt"
	"path/filepath"
	"strings"
)

const xlsxExtension = ".xlsx"

// ResolvePath computes the destination path for one chunk. A single
// chunk export keeps the base filename unmodified; when the export spans
// several chunks, a 1-based ordinal suffix is inserted before the
// extension so every produced file has a distinct, predictable name.
func ResolvePath(dir, baseName string, index int, multi bool) string {
	stem := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	if !multi {
		return filepath.Join(dir, stem+xlsxExtension)
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, index+1, xlsxExtension))
}

// ResolveTarget pairs the chunk path with the sheet name and overwrite
// policy. Computed once per chunk, before rendering.
func ResolveTarget(dir, baseName string, index int, multi bool, sheetName string, overwrite bool) ExportTarget {
	return ExportTarget{
		Path:      ResolvePath(dir, baseName, index, multi),
		SheetName: sheetName,
		Overwrite: overwrite,
	}
}

// QuerySidecarPath is the path of the SQL sidecar file written next to
// the exported documents.
func QuerySidecarPath(dir, baseName string) string {
	stem := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	return filepath.Join(dir, stem+".sql")
}
