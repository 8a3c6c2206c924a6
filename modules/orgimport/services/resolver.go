package services

import (
	"errors"
	"fmt"

	"github.com/iota-uz/org-import/modules/orgimport/domain/record"
)

var ErrEmptyDuplicateEntry = errors.New("duplicate entry has no rows")

// DuplicateResolver turns a detected group and a chosen strategy into keep/remove row
// sets. Resolve is pure: the same entry and strategy always give an equal resolution.
type DuplicateResolver struct{}

func NewDuplicateResolver() *DuplicateResolver {
	return &DuplicateResolver{}
}

func (r *DuplicateResolver) Resolve(entry record.DuplicateEntry, strategy record.Strategy) (record.DuplicateResolution, error) {
	res := record.DuplicateResolution{
		Key:        entry.Key,
		Kind:       entry.Kind,
		Strategy:   strategy,
		KeepRows:   []int{},
		RemoveRows: []int{},
	}
	if len(entry.Rows) == 0 {
		return res, ErrEmptyDuplicateEntry
	}

	switch strategy {
	case record.StrategyKeepFirst:
		keepOne(&res, entry.Rows, 0)
	case record.StrategyKeepLast:
		keepOne(&res, entry.Rows, len(entry.Rows)-1)
	case record.StrategyKeepAll, record.StrategyManual:
		for _, row := range entry.Rows {
			res.KeepRows = append(res.KeepRows, row.RowNumber)
		}
	case record.StrategyMerge:
		keepOne(&res, entry.Rows, 0)
		merged := mergeRows(entry.Rows)
		res.MergedData = &merged
	default:
		return res, fmt.Errorf("unknown duplicate strategy: %q", strategy)
	}
	return res, nil
}

func keepOne(res *record.DuplicateResolution, rows []record.DuplicateRowInfo, keep int) {
	for i, row := range rows {
		if i == keep {
			res.KeepRows = append(res.KeepRows, row.RowNumber)
			continue
		}
		res.RemoveRows = append(res.RemoveRows, row.RowNumber)
	}
}

// mergeRows fills the empty fields of the most complete row from the others, scanning in
// completeness order so the first populated value wins.
func mergeRows(rows []record.DuplicateRowInfo) record.Row {
	base := rows[0].Data.Clone()
	for _, other := range rows[1:] {
		for _, f := range other.Data.Fields() {
			if record.IsEmpty(f.Value) || !record.IsEmpty(base.Get(f.Name)) {
				continue
			}
			base.Set(f.Name, f.Value)
		}
	}
	return base
}

type rowRef struct {
	kind record.SheetKind
	line int
}

// Apply drops removed rows and substitutes merged data for the kept row. Rows that no
// resolution mentions pass through unchanged.
func (r *DuplicateResolver) Apply(rows []record.Row, resolutions []record.DuplicateResolution) []record.Row {
	removed := map[rowRef]struct{}{}
	merged := map[rowRef]record.Row{}
	for _, res := range resolutions {
		for _, line := range res.RemoveRows {
			removed[rowRef{kind: res.Kind, line: line}] = struct{}{}
		}
		if res.MergedData != nil && len(res.KeepRows) == 1 {
			merged[rowRef{kind: res.Kind, line: res.KeepRows[0]}] = res.MergedData.Clone()
		}
	}

	out := make([]record.Row, 0, len(rows))
	for _, row := range rows {
		ref := rowRef{kind: row.Kind, line: row.Line}
		if _, ok := removed[ref]; ok {
			continue
		}
		if m, ok := merged[ref]; ok {
			m.Kind = row.Kind
			m.Line = row.Line
			out = append(out, m)
			continue
		}
		out = append(out, row.Clone())
	}
	return out
}
