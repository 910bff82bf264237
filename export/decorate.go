package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// CurrentDatetimePlaceholder in a decoration element content is replaced
// with the render timestamp.
const CurrentDatetimePlaceholder = "CURRENT_DATETIME"

const (
	decorationTitleCell = "B3"
	decorationFirstRow  = 6
)

// applyDecorations adds one worksheet per decoration to the workbook at
// path: a large title cell plus right-aligned label / left-aligned
// content pairs. The data worksheet is left untouched.
func applyDecorations(path string, decorations []Decoration, now time.Time) error {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return NewError(KindStyle, fmt.Sprintf("opening %s for decoration failed", path), err)
	}
	defer func() {
		_ = file.Close()
	}()

	titleID, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Size: 22}})
	if err != nil {
		return NewError(KindStyle, "creating title style failed", err)
	}
	labelID, err := file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "right"},
	})
	if err != nil {
		return NewError(KindStyle, "creating label style failed", err)
	}
	contentID, err := file.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "left"},
	})
	if err != nil {
		return NewError(KindStyle, "creating content style failed", err)
	}

	for _, decoration := range decorations {
		if _, err := file.NewSheet(decoration.SheetName); err != nil {
			return NewError(KindStyle, fmt.Sprintf("creating worksheet %q failed", decoration.SheetName), err)
		}
		if err := file.SetCellValue(decoration.SheetName, decorationTitleCell, decoration.Title); err != nil {
			return NewError(KindStyle, "writing decoration title failed", err)
		}
		if err := file.SetCellStyle(decoration.SheetName, decorationTitleCell, decorationTitleCell, titleID); err != nil {
			return NewError(KindStyle, "styling decoration title failed", err)
		}

		for i, element := range decoration.Elements {
			labelCell := fmt.Sprintf("B%d", decorationFirstRow+i)
			contentCell := fmt.Sprintf("C%d", decorationFirstRow+i)

			if err := file.SetCellValue(decoration.SheetName, labelCell, element.Label); err != nil {
				return NewError(KindStyle, "writing decoration label failed", err)
			}
			if err := file.SetCellStyle(decoration.SheetName, labelCell, labelCell, labelID); err != nil {
				return NewError(KindStyle, "styling decoration label failed", err)
			}
			if err := file.SetCellValue(decoration.SheetName, contentCell, resolvePlaceholder(element.Content, now)); err != nil {
				return NewError(KindStyle, "writing decoration content failed", err)
			}
			if err := file.SetCellStyle(decoration.SheetName, contentCell, contentCell, contentID); err != nil {
				return NewError(KindStyle, "styling decoration content failed", err)
			}
		}
	}

	if err := file.Save(); err != nil {
		return NewError(KindStyle, "saving decorated workbook failed", err)
	}
	return nil
}

func resolvePlaceholder(content any, now time.Time) any {
	if content == CurrentDatetimePlaceholder {
		return now
	}
	return content
}
