package record

import (
	"fmt"
	"strings"
)

type Strategy string

const (
	StrategyKeepFirst Strategy = "keep-first"
	StrategyKeepLast  Strategy = "keep-last"
	StrategyKeepAll   Strategy = "keep-all"
	StrategyMerge     Strategy = "merge"
	StrategyManual    Strategy = "manual"
)

func ParseStrategy(v string) (Strategy, error) {
	s := Strategy(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case StrategyKeepFirst, StrategyKeepLast, StrategyKeepAll, StrategyMerge, StrategyManual:
		return s, nil
	default:
		return "", fmt.Errorf("unknown duplicate strategy: %q", v)
	}
}

// DuplicateRowInfo describes one member of a duplicate group.
type DuplicateRowInfo struct {
	RowNumber      int      `json:"row_number"`
	Data           Row      `json:"data"`
	IsComplete     bool     `json:"is_complete"`
	Completeness   int      `json:"completeness"`
	HasDescription bool     `json:"has_description"`
	Differences    []string `json:"differences"`
}

// DuplicateEntry is a group of at least two rows sharing a normalized code.
// Rows are ordered by descending completeness.
type DuplicateEntry struct {
	Key                 string             `json:"key"`
	Kind                SheetKind          `json:"kind"`
	Rows                []DuplicateRowInfo `json:"rows"`
	RecommendedStrategy Strategy           `json:"recommended_strategy"`
	Reason              string             `json:"reason"`
}

// Differences is the union of the per-row differing fields, in first-seen order.
func (e DuplicateEntry) Differences() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range e.Rows {
		for _, f := range r.Differences {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

type DuplicateResolution struct {
	Key        string    `json:"key"`
	Kind       SheetKind `json:"kind"`
	Strategy   Strategy  `json:"strategy"`
	KeepRows   []int     `json:"keep_rows"`
	RemoveRows []int     `json:"remove_rows"`
	MergedData *Row      `json:"merged_data,omitempty"`
}
