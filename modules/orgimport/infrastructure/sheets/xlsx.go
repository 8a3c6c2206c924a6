package sheets

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/iota-uz/org-import/modules/orgimport/domain/record"
)

func parseXLSX(r io.Reader, kinds []record.SheetKind) (*record.Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheetOf := map[record.SheetKind]string{}
	for _, name := range f.GetSheetList() {
		kind, err := record.ParseSheetKind(name)
		if err != nil {
			continue
		}
		if _, ok := sheetOf[kind]; !ok {
			sheetOf[kind] = name
		}
	}

	wanted := kinds
	if len(wanted) == 0 {
		for _, k := range []record.SheetKind{record.SheetDepartments, record.SheetPositions} {
			if _, ok := sheetOf[k]; ok {
				wanted = append(wanted, k)
			}
		}
		if len(wanted) == 0 {
			return nil, ErrNoSheets
		}
	}

	wb := &record.Workbook{}
	for _, kind := range wanted {
		sheet, ok := sheetOf[kind]
		if !ok {
			return nil, fmt.Errorf("%s: sheet not found (have %v)", kind, f.GetSheetList())
		}
		records, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%s: read sheet %q: %w", kind, sheet, err)
		}
		rows, err := buildRows(kind, records, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		assign(wb, kind, rows)
	}
	return wb, nil
}
