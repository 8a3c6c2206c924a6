package services

import (
	"math"
	"sort"
	"strings"

	"github.com/iota-uz/org-import/modules/orgimport/domain/record"
)

const (
	ReasonIdentical        = "All entries are identical"
	ReasonOneMoreComplete  = "One entry is more complete than others"
	ReasonMultipleComplete = "Multiple complete entries with different data"
	ReasonCombine          = "Entries have different information that should be combined"
	// ReasonCompleteNotFirst covers a single complete row that has fewer filled fields than
	// an incomplete sibling. Merging into the fuller row picks up its missing required
	// fields, while keep-first would keep the incomplete one.
	ReasonCompleteNotFirst = "Only one entry is complete but another has more data; combine them"
)

// DuplicateDetector groups rows by normalized code and recommends how to reconcile
// each group. It never drops or rewrites rows.
type DuplicateDetector struct{}

func NewDuplicateDetector() *DuplicateDetector {
	return &DuplicateDetector{}
}

func (d *DuplicateDetector) Detect(rows []record.Row) []record.DuplicateEntry {
	var (
		keys   []string
		groups = map[string][]record.Row{}
	)
	for _, r := range rows {
		key := record.NormalizeCode(r.Code)
		if key == "" {
			continue
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], r)
	}

	var entries []record.DuplicateEntry
	for _, key := range keys {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		entries = append(entries, buildEntry(key, group))
	}
	return entries
}

func buildEntry(key string, group []record.Row) record.DuplicateEntry {
	fields := fieldUnion(group)

	infos := make([]record.DuplicateRowInfo, len(group))
	for i, r := range group {
		infos[i] = record.DuplicateRowInfo{
			RowNumber:      r.Line,
			Data:           r.Clone(),
			IsComplete:     isComplete(r),
			Completeness:   completeness(r, fields),
			HasDescription: !record.IsEmpty(r.Get(record.FieldDescription)),
			Differences:    differences(i, group, fields),
		}
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].Completeness != infos[j].Completeness {
			return infos[i].Completeness > infos[j].Completeness
		}
		if infos[i].IsComplete != infos[j].IsComplete {
			return infos[i].IsComplete
		}
		return infos[i].RowNumber < infos[j].RowNumber
	})

	strategy, reason := recommend(infos)
	return record.DuplicateEntry{
		Key:                 key,
		Kind:                group[0].Kind,
		Rows:                infos,
		RecommendedStrategy: strategy,
		Reason:              reason,
	}
}

func recommend(infos []record.DuplicateRowInfo) (record.Strategy, string) {
	identical := true
	complete := 0
	for _, info := range infos {
		if len(info.Differences) > 0 {
			identical = false
		}
		if info.IsComplete {
			complete++
		}
	}

	switch {
	case identical:
		return record.StrategyKeepFirst, ReasonIdentical
	case complete == 1 && infos[0].IsComplete:
		return record.StrategyKeepFirst, ReasonOneMoreComplete
	case complete == 1:
		return record.StrategyMerge, ReasonCompleteNotFirst
	case complete > 1:
		return record.StrategyMerge, ReasonMultipleComplete
	default:
		return record.StrategyMerge, ReasonCombine
	}
}

// fieldUnion lists every field name carried by any row of the group, in first-seen order.
func fieldUnion(group []record.Row) []string {
	seen := map[string]struct{}{}
	var names []string
	for _, r := range group {
		for _, f := range r.Fields() {
			if _, ok := seen[f.Name]; ok {
				continue
			}
			seen[f.Name] = struct{}{}
			names = append(names, f.Name)
		}
	}
	return names
}

func isComplete(r record.Row) bool {
	for _, f := range record.RequiredFields(r.Kind) {
		if record.IsEmpty(r.Get(f)) {
			return false
		}
	}
	return true
}

// completeness is the rounded share of non-empty fields over the group's field union.
func completeness(r record.Row, fields []string) int {
	if len(fields) == 0 {
		return 0
	}
	filled := 0
	for _, f := range fields {
		if !record.IsEmpty(r.Get(f)) {
			filled++
		}
	}
	return int(math.Round(float64(filled) / float64(len(fields)) * 100))
}

func differences(idx int, group []record.Row, fields []string) []string {
	out := []string{}
	for _, f := range fields {
		mine := cellKey(group[idx].Get(f))
		for j, other := range group {
			if j == idx {
				continue
			}
			if cellKey(other.Get(f)) != mine {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

func cellKey(v any) string {
	if record.IsEmpty(v) {
		return ""
	}
	return strings.TrimSpace(record.Stringify(v))
}
