package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/iota-uz/org-import/modules/orgimport/domain/record"
)

// DefaultMaxDepth bounds the number of parent hops a hierarchy chain may have.
const DefaultMaxDepth = 20

// maxSuggestionDistance is the largest edit distance still offered as a hint.
const maxSuggestionDistance = 2

type Validator struct {
	maxDepth int
}

type ValidatorOption func(*Validator)

func WithMaxDepth(depth int) ValidatorOption {
	return func(v *Validator) {
		if depth > 0 {
			v.maxDepth = depth
		}
	}
}

func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) MaxDepth() int { return v.maxDepth }

// Validate checks required fields, in-file code collisions, parent references and
// hierarchy shape. Rows outside the file are resolved against validCodes and
// existingCodes; only in-file edges are walked for cycles.
func (v *Validator) Validate(rows []record.Row, validCodes, existingCodes record.CodeSet) []record.ValidationError {
	var errs []record.ValidationError
	errs = append(errs, checkRequired(rows)...)
	errs = append(errs, checkDuplicateCodes(rows)...)
	errs = append(errs, checkReferences(rows, validCodes, existingCodes)...)
	errs = append(errs, v.checkHierarchy(rows)...)
	errs = append(errs, checkRoots(rows, existingCodes)...)
	return errs
}

// ValidatePositionDepartments checks that every position points at a department that
// exists in the import or in the store.
func (v *Validator) ValidatePositionDepartments(positions []record.Row, departments, existingDepartments record.CodeSet) []record.ValidationError {
	var errs []record.ValidationError
	for _, r := range positions {
		dept := r.DepartmentCode()
		if dept == "" {
			errs = append(errs, record.NewWarning(r.Line, record.FieldDepartmentCode,
				fmt.Sprintf("row %d: position %q has no department_code", r.Line, strings.TrimSpace(r.Code))))
			continue
		}
		if departments.Has(dept) || existingDepartments.Has(dept) {
			continue
		}
		errs = append(errs, record.NewError(r.Line, record.FieldDepartmentCode,
			fmt.Sprintf("row %d: unknown department_code %q%s", r.Line, dept, suggestCode(dept, departments.Sorted()))))
	}
	return errs
}

func nameLabel(kind record.SheetKind) string {
	if kind == record.SheetPositions {
		return "title"
	}
	return "name"
}

func checkRequired(rows []record.Row) []record.ValidationError {
	var errs []record.ValidationError
	for _, r := range rows {
		if strings.TrimSpace(r.Code) == "" {
			errs = append(errs, record.NewError(r.Line, record.FieldCode,
				fmt.Sprintf("row %d: code is required", r.Line)))
		}
		if strings.TrimSpace(r.Name) == "" {
			errs = append(errs, record.NewError(r.Line, record.FieldName,
				fmt.Sprintf("row %d: %s is required", r.Line, nameLabel(r.Kind))))
		}
	}
	return errs
}

// checkDuplicateCodes reports exact repeats of a code and codes that only collide once
// normalized, since both end up addressing the same stored row.
func checkDuplicateCodes(rows []record.Row) []record.ValidationError {
	type seenCode struct {
		code string
		line int
	}
	var errs []record.ValidationError
	firstSeen := make(map[string]int, len(rows))
	firstKey := make(map[string]seenCode, len(rows))
	for _, r := range rows {
		code := strings.TrimSpace(r.Code)
		if code == "" {
			continue
		}
		if first, ok := firstSeen[code]; ok {
			errs = append(errs, record.NewError(r.Line, record.FieldCode,
				fmt.Sprintf("row %d: duplicate code %q (first seen at row %d)", r.Line, code, first)))
			continue
		}
		firstSeen[code] = r.Line

		key := record.NormalizeCode(code)
		if first, ok := firstKey[key]; ok {
			errs = append(errs, record.NewError(r.Line, record.FieldCode,
				fmt.Sprintf("row %d: code %q collides with %q at row %d (codes are case-insensitive)", r.Line, code, first.code, first.line)))
			continue
		}
		firstKey[key] = seenCode{code: code, line: r.Line}
	}
	return errs
}

func checkReferences(rows []record.Row, validCodes, existingCodes record.CodeSet) []record.ValidationError {
	inFile := record.CodesOf(rows)
	candidates := make([]string, 0, len(rows))
	seen := map[string]struct{}{}
	for _, r := range rows {
		c := strings.TrimSpace(r.Code)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		candidates = append(candidates, c)
	}

	var errs []record.ValidationError
	for _, r := range rows {
		p := r.Parent()
		if p == "" {
			continue
		}
		if inFile.Has(p) || validCodes.Has(p) || existingCodes.Has(p) {
			continue
		}
		field := r.Kind.ParentField()
		errs = append(errs, record.NewError(r.Line, field,
			fmt.Sprintf("row %d: unknown %s %q%s", r.Line, field, p, suggestCode(p, candidates))))
	}
	return errs
}

// suggestCode returns a "did you mean" suffix for an unresolved code, or "".
func suggestCode(code string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindNormalizedFold(code, candidates)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return fmt.Sprintf(" (did you mean %q?)", ranks[0].Target)
	}

	best, bestDist := "", maxSuggestionDistance+1
	lc := strings.ToLower(code)
	for _, c := range candidates {
		d := fuzzy.LevenshteinDistance(lc, strings.ToLower(c))
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	if best == "" {
		return ""
	}
	return fmt.Sprintf(" (did you mean %q?)", best)
}

type hierarchyEdge struct {
	to   string
	line int
}

const (
	colorWhite = iota
	colorGray
	colorBlack
)

// checkHierarchy walks the in-file parent graph with an explicit stack. A gray target
// closes a cycle; finished nodes carry their height (hops to the top of the in-file
// chain) so that chains longer than maxDepth are reported once, where they cross the
// bound.
func (v *Validator) checkHierarchy(rows []record.Row) []record.ValidationError {
	var (
		order    []string
		display  = map[string]string{}
		lineOf   = map[string]int{}
		kindOf   = map[string]record.SheetKind{}
		graph    = map[string][]hierarchyEdge{}
		inFile   = record.CodesOf(rows)
		errs     []record.ValidationError
		color    = map[string]int{}
		height   = map[string]int{}
		cyclic   = map[string]bool{}
		tooDeep  = map[string]bool{}
		maxDepth = v.maxDepth
	)

	for _, r := range rows {
		code := record.NormalizeCode(r.Code)
		if code == "" {
			continue
		}
		if _, ok := display[code]; !ok {
			display[code] = strings.TrimSpace(r.Code)
			lineOf[code] = r.Line
			kindOf[code] = r.Kind
			order = append(order, code)
		}
		p := r.Parent()
		if p == "" || !inFile.Has(p) {
			continue
		}
		graph[code] = append(graph[code], hierarchyEdge{to: record.NormalizeCode(p), line: r.Line})
	}

	type frame struct {
		node string
		next int
	}

	for _, start := range order {
		if color[start] != colorWhite {
			continue
		}
		color[start] = colorGray
		stack := []frame{{node: start}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			edges := graph[top.node]

			if top.next < len(edges) {
				e := edges[top.next]
				top.next++
				switch color[e.to] {
				case colorWhite:
					color[e.to] = colorGray
					stack = append(stack, frame{node: e.to})
				case colorGray:
					idx := len(stack) - 1
					for idx > 0 && stack[idx].node != e.to {
						idx--
					}
					path := make([]string, 0, len(stack)-idx+1)
					for _, f := range stack[idx:] {
						path = append(path, display[f.node])
						cyclic[f.node] = true
					}
					path = append(path, display[e.to])
					errs = append(errs, record.NewError(e.line, kindOf[top.node].ParentField(),
						fmt.Sprintf("row %d: circular reference detected: %s", e.line, strings.Join(path, " → "))))
				}
				continue
			}

			node := top.node
			h, known, parentTooDeep := 0, !cyclic[node], false
			for _, e := range edges {
				ph, ok := height[e.to]
				if cyclic[e.to] || !ok || ph < 0 {
					known = false
					continue
				}
				if tooDeep[e.to] {
					parentTooDeep = true
				}
				if ph+1 > h {
					h = ph + 1
				}
			}
			if !known {
				height[node] = -1
			} else {
				height[node] = h
				if h > maxDepth {
					tooDeep[node] = true
					if !parentTooDeep {
						errs = append(errs, record.NewError(lineOf[node], kindOf[node].ParentField(),
							fmt.Sprintf("row %d: hierarchy depth exceeds %d levels at %q", lineOf[node], maxDepth, display[node])))
					}
				}
			}
			color[node] = colorBlack
			stack = stack[:len(stack)-1]
		}
	}
	return errs
}

// checkRoots warns when a fresh department import carries more than one top-level node.
func checkRoots(rows []record.Row, existingCodes record.CodeSet) []record.ValidationError {
	if len(rows) == 0 || rows[0].Kind != record.SheetDepartments || existingCodes.Len() > 0 {
		return nil
	}
	var roots []string
	for _, r := range rows {
		if r.Parent() == "" && strings.TrimSpace(r.Code) != "" {
			roots = append(roots, strings.TrimSpace(r.Code))
		}
	}
	if len(roots) <= 1 {
		return nil
	}
	return []record.ValidationError{
		record.NewWarning(0, record.FieldParentCode,
			fmt.Sprintf("multiple root departments found: %s", strings.Join(roots, ", "))),
	}
}
