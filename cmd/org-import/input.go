package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iota-uz/org-import/modules/orgimport/domain/record"
	"github.com/iota-uz/org-import/modules/orgimport/infrastructure/sheets"
	"github.com/iota-uz/org-import/modules/orgimport/services"
)

// inputOptions names the spreadsheet sources: one workbook, or one csv per sheet.
type inputOptions struct {
	file        string
	departments string
	positions   string
}

func (o *inputOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.file, "file", "", "Workbook (.xlsx) with Departments and/or Positions sheets")
	cmd.Flags().StringVar(&o.departments, "departments", "", "Departments sheet as .csv or .xlsx")
	cmd.Flags().StringVar(&o.positions, "positions", "", "Positions sheet as .csv or .xlsx")
}

func loadWorkbook(opts inputOptions) (*record.Workbook, error) {
	file := strings.TrimSpace(opts.file)
	depts := strings.TrimSpace(opts.departments)
	poss := strings.TrimSpace(opts.positions)

	switch {
	case file != "" && (depts != "" || poss != ""):
		return nil, withCode(exitUsage, fmt.Errorf("--file cannot be combined with --departments/--positions"))
	case file != "":
		return parseFile(file)
	case depts == "" && poss == "":
		return nil, withCode(exitUsage, fmt.Errorf("one of --file, --departments or --positions is required"))
	}

	wb := &record.Workbook{}
	if depts != "" {
		part, err := parseFile(depts, record.SheetDepartments)
		if err != nil {
			return nil, err
		}
		wb.Departments = part.Departments
	}
	if poss != "" {
		part, err := parseFile(poss, record.SheetPositions)
		if err != nil {
			return nil, err
		}
		wb.Positions = part.Positions
	}
	return wb, nil
}

func parseFile(path string, kinds ...record.SheetKind) (*record.Workbook, error) {
	format, err := sheets.FormatFromPath(path)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	if format == sheets.FormatCSV && len(kinds) == 0 {
		return nil, withCode(exitUsage, fmt.Errorf("%s: csv input needs --departments or --positions", path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("open %s: %w", path, err))
	}
	defer func() { _ = f.Close() }()

	wb, err := sheets.Parse(f, format, kinds...)
	if err != nil {
		return nil, withCode(exitValidation, fmt.Errorf("%s: %w", path, err))
	}
	return wb, nil
}

// parseResolutions reads "<sheet>:<code>=<strategy>" entries, e.g. "departments:HR=merge".
func parseResolutions(values []string) (map[services.ResolutionKey]record.Strategy, error) {
	out := make(map[services.ResolutionKey]record.Strategy, len(values))
	for _, raw := range values {
		target, strategy, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, withCode(exitUsage, fmt.Errorf("invalid --resolve %q (expected sheet:code=strategy)", raw))
		}
		sheet, code, ok := strings.Cut(target, ":")
		if !ok || strings.TrimSpace(code) == "" {
			return nil, withCode(exitUsage, fmt.Errorf("invalid --resolve %q (expected sheet:code=strategy)", raw))
		}
		kind, err := record.ParseSheetKind(sheet)
		if err != nil {
			return nil, withCode(exitUsage, fmt.Errorf("invalid --resolve %q: %w", raw, err))
		}
		s, err := record.ParseStrategy(strategy)
		if err != nil {
			return nil, withCode(exitUsage, fmt.Errorf("invalid --resolve %q: %w", raw, err))
		}
		key := services.NewResolutionKey(kind, code)
		if prev, dup := out[key]; dup && prev != s {
			return nil, withCode(exitUsage, fmt.Errorf("conflicting --resolve for %s %q", kind, code))
		}
		out[key] = s
	}
	return out, nil
}
