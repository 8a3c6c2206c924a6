package record

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeCode is the natural-key form used for grouping and lookups: trimmed and
// Unicode case-folded.
func NormalizeCode(code string) string {
	return cases.Fold().String(strings.TrimSpace(code))
}

// CodeSet is a set of normalized codes.
type CodeSet map[string]struct{}

func NewCodeSet(codes ...string) CodeSet {
	s := make(CodeSet, len(codes))
	for _, c := range codes {
		s.Add(c)
	}
	return s
}

func (s CodeSet) Add(code string) {
	n := NormalizeCode(code)
	if n == "" {
		return
	}
	s[n] = struct{}{}
}

func (s CodeSet) Has(code string) bool {
	if s == nil {
		return false
	}
	_, ok := s[NormalizeCode(code)]
	return ok
}

func (s CodeSet) Len() int { return len(s) }

// Sorted returns the normalized codes in lexical order.
func (s CodeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// CodesOf collects the codes of rows, skipping blanks.
func CodesOf(rows []Row) CodeSet {
	s := make(CodeSet, len(rows))
	for _, r := range rows {
		s.Add(r.Code)
	}
	return s
}

// ExistingCodes holds the codes already persisted in the target store.
type ExistingCodes struct {
	Departments CodeSet `json:"departments"`
	Positions   CodeSet `json:"positions"`
}

func (e ExistingCodes) For(kind SheetKind) CodeSet {
	var s CodeSet
	if kind == SheetPositions {
		s = e.Positions
	} else {
		s = e.Departments
	}
	if s == nil {
		return CodeSet{}
	}
	return s
}
