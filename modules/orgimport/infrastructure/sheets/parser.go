package sheets

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/iota-uz/org-import/modules/orgimport/domain/record"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")
	ErrNoSheets          = errors.New("no departments or positions sheet found")
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Parse reads departments and positions from r. A csv stream holds exactly one sheet,
// so exactly one kind must be given. For xlsx, the named kinds must be present; with no
// kinds every recognised sheet is read.
func Parse(r io.Reader, format Format, kinds ...record.SheetKind) (*record.Workbook, error) {
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("unknown sheet kind: %q", k)
		}
	}
	switch format {
	case FormatXLSX:
		return parseXLSX(r, kinds)
	case FormatCSV:
		if len(kinds) != 1 {
			return nil, fmt.Errorf("csv input needs exactly one sheet kind, got %d", len(kinds))
		}
		return parseCSV(r, kinds[0])
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

var headerAliases = map[record.SheetKind]map[string]string{
	record.SheetDepartments: {
		"code":             record.FieldCode,
		"dept_code":        record.FieldCode,
		"department_code":  record.FieldCode,
		"name":             record.FieldName,
		"dept_name":        record.FieldName,
		"department_name":  record.FieldName,
		"parent_code":      record.FieldParentCode,
		"parent_dept_code": record.FieldParentCode,
		"parent":           record.FieldParentCode,
	},
	record.SheetPositions: {
		"code":            record.FieldCode,
		"pos_code":        record.FieldCode,
		"position_code":   record.FieldCode,
		"name":            record.FieldName,
		"title":           record.FieldName,
		"pos_title":       record.FieldName,
		"position_title":  record.FieldName,
		"reports_to_code": record.FieldReportsToCode,
		"reports_to":      record.FieldReportsToCode,
		"manager_code":    record.FieldReportsToCode,
		"department_code": record.FieldDepartmentCode,
		"dept_code":       record.FieldDepartmentCode,
		"department":      record.FieldDepartmentCode,
	},
}

// normalizeHeader turns "Parent Dept-Code" into "parent_dept_code".
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '/':
			return '_'
		}
		return r
	}, h)
	for strings.Contains(h, "__") {
		h = strings.ReplaceAll(h, "__", "_")
	}
	return strings.Trim(h, "_")
}

func canonicalHeader(kind record.SheetKind, raw []string) ([]string, error) {
	out := make([]string, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, h := range raw {
		if !utf8.ValidString(h) {
			return nil, fmt.Errorf("invalid header encoding")
		}
		name := normalizeHeader(h)
		if alias, ok := headerAliases[kind][name]; ok {
			name = alias
		}
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate header column: %s", name)
		}
		seen[name] = struct{}{}
		out[i] = name
	}
	return out, nil
}

func requireHeader(kind record.SheetKind, header []string) error {
	hset := make(map[string]struct{}, len(header))
	for _, h := range header {
		hset[h] = struct{}{}
	}
	for _, req := range []string{record.FieldCode, record.FieldName} {
		if _, ok := hset[req]; !ok {
			label := req
			if req == record.FieldName && kind == record.SheetPositions {
				label = "title"
			}
			return fmt.Errorf("missing required header column: %s", label)
		}
	}
	return nil
}

// buildRows maps raw records (header first) to rows. lines holds the 1-based source line of
// each record; when nil the record index is used. Blank records are skipped.
func buildRows(kind record.SheetKind, records [][]string, lines []int) ([]record.Row, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("missing header")
	}
	header, err := canonicalHeader(kind, records[0])
	if err != nil {
		return nil, err
	}
	if err := requireHeader(kind, header); err != nil {
		return nil, err
	}

	var rows []record.Row
	for i := 1; i < len(records); i++ {
		rec := records[i]
		if blank(rec) {
			continue
		}
		line := i + 1
		if lines != nil {
			line = lines[i]
		}
		row := record.Row{Kind: kind, Line: line}
		for col, name := range header {
			if name == "" {
				continue
			}
			cell := ""
			if col < len(rec) {
				cell = strings.TrimSpace(rec[col])
			}
			row.Set(name, cell)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet has no data rows")
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func assign(wb *record.Workbook, kind record.SheetKind, rows []record.Row) {
	if kind == record.SheetPositions {
		wb.Positions = rows
		return
	}
	wb.Departments = rows
}
