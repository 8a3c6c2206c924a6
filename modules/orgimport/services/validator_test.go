package services

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/org-import/modules/orgimport/domain/record"
)

func strPtr(s string) *string { return &s }

func dept(line int, code, name, parent string) record.Row {
	r := record.Row{Kind: record.SheetDepartments, Line: line, Code: code, Name: name}
	if parent != "" {
		r.ParentCode = strPtr(parent)
	}
	return r
}

func pos(line int, code, title, reportsTo, department string) record.Row {
	r := record.Row{Kind: record.SheetPositions, Line: line, Code: code, Name: title}
	if reportsTo != "" {
		r.ParentCode = strPtr(reportsTo)
	}
	if department != "" {
		r.Extra = map[string]any{record.FieldDepartmentCode: department}
	}
	return r
}

func messagesContaining(errs []record.ValidationError, sub string) []record.ValidationError {
	var out []record.ValidationError
	for _, e := range errs {
		if strings.Contains(e.Message, sub) {
			out = append(out, e)
		}
	}
	return out
}

func TestValidator_DetectsThreeNodeCycle(t *testing.T) {
	rows := []record.Row{
		dept(2, "A", "Alpha", "B"),
		dept(3, "B", "Beta", "C"),
		dept(4, "C", "Gamma", "A"),
	}

	errs := NewValidator().Validate(rows, nil, nil)

	cycles := messagesContaining(errs, "circular")
	require.Len(t, cycles, 1)
	require.Equal(t, record.SeverityError, cycles[0].Severity)
	require.Contains(t, cycles[0].Message, "A → B → C → A")
	require.NotNil(t, cycles[0].Row)
	require.Equal(t, 4, *cycles[0].Row)
	require.Equal(t, record.FieldParentCode, *cycles[0].Field)
}

func TestValidator_SelfReferenceIsCycle(t *testing.T) {
	errs := NewValidator().Validate([]record.Row{dept(2, "A", "Alpha", "A")}, nil, nil)
	cycles := messagesContaining(errs, "circular")
	require.Len(t, cycles, 1)
	require.Contains(t, cycles[0].Message, "A → A")
}

func TestValidator_CycleBehindTailReportedOnce(t *testing.T) {
	rows := []record.Row{
		dept(2, "D", "Delta", "A"),
		dept(3, "A", "Alpha", "B"),
		dept(4, "B", "Beta", "A"),
		dept(5, "X", "X-ray", "Y"),
		dept(6, "Y", "Yankee", "X"),
	}
	cycles := messagesContaining(NewValidator().Validate(rows, nil, nil), "circular")
	require.Len(t, cycles, 2)
	require.Contains(t, cycles[0].Message, "A → B → A")
	require.Contains(t, cycles[1].Message, "X → Y → X")
}

func TestValidator_ExistingParentsAreLeaves(t *testing.T) {
	rows := []record.Row{
		dept(2, "HR-REC", "Recruiting", "HR"),
		dept(3, "HR-OPS", "People Ops", "hr"),
	}
	errs := NewValidator().Validate(rows, nil, record.NewCodeSet("HR", "FIN"))
	require.Empty(t, errs)
}

func TestValidator_ValidCodesResolveReferences(t *testing.T) {
	rows := []record.Row{pos(2, "P2", "Engineer", "P1", "ENG")}
	errs := NewValidator().Validate(rows, record.NewCodeSet("P1"), nil)
	require.Empty(t, errs)
}

func chain(n int) []record.Row {
	rows := make([]record.Row, 0, n)
	for i := 0; i < n; i++ {
		parent := ""
		if i > 0 {
			parent = fmt.Sprintf("N%d", i-1)
		}
		rows = append(rows, dept(i+2, fmt.Sprintf("N%d", i), fmt.Sprintf("Node %d", i), parent))
	}
	return rows
}

func TestValidator_DepthGuard(t *testing.T) {
	v := NewValidator()

	require.Empty(t, v.Validate(chain(DefaultMaxDepth+1), nil, nil), "20 hops is within bound")

	errs := v.Validate(chain(DefaultMaxDepth+3), nil, nil)
	deep := messagesContaining(errs, "depth exceeds")
	require.Len(t, deep, 1)
	require.Equal(t, record.SeverityError, deep[0].Severity)
	require.Contains(t, deep[0].Message, `"N21"`)
	require.Equal(t, DefaultMaxDepth+1+2, *deep[0].Row)
	require.Empty(t, messagesContaining(errs, "circular"))
}

func TestValidator_DepthGuardReverseOrder(t *testing.T) {
	rows := chain(DefaultMaxDepth + 2)
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	deep := messagesContaining(NewValidator().Validate(rows, nil, nil), "depth exceeds")
	require.Len(t, deep, 1)
}

func TestValidator_CustomMaxDepth(t *testing.T) {
	v := NewValidator(WithMaxDepth(2))
	require.Equal(t, 2, v.MaxDepth())
	deep := messagesContaining(v.Validate(chain(4), nil, nil), "depth exceeds 2 levels")
	require.Len(t, deep, 1)
}

func TestValidator_UnknownParentWithSuggestion(t *testing.T) {
	rows := []record.Row{
		dept(2, "ENGINEERING", "Engineering", ""),
		dept(3, "ENG-BE", "Backend", "ENGINEERIN"),
		dept(4, "ENG-FE", "Frontend", "ZZZ"),
	}
	errs := NewValidator().Validate(rows, nil, nil)

	unknown := messagesContaining(errs, "unknown parent_code")
	require.Len(t, unknown, 2)
	require.Equal(t, 3, *unknown[0].Row)
	require.Contains(t, unknown[0].Message, `"ENGINEERIN"`)
	require.Contains(t, unknown[0].Message, `did you mean "ENGINEERING"`)
	require.NotContains(t, unknown[1].Message, "did you mean")
}

func TestValidator_RequiredFields(t *testing.T) {
	rows := []record.Row{
		dept(2, "", "Nameless code", ""),
		pos(3, "P1", " ", "", "ENG"),
	}
	errs := NewValidator().Validate(rows, nil, nil)
	require.Len(t, errs, 2)
	require.Equal(t, record.FieldCode, *errs[0].Field)
	require.Equal(t, 2, *errs[0].Row)
	require.Contains(t, errs[1].Message, "title is required")
}

func TestValidator_DuplicateCodes(t *testing.T) {
	rows := []record.Row{
		dept(2, "HR", "Human Resources", ""),
		dept(3, "HR", "HR again", ""),
		dept(4, "hr", "lower", ""),
	}
	dups := messagesContaining(NewValidator().Validate(rows, nil, record.NewCodeSet("ROOT")), "duplicate code")
	require.Len(t, dups, 1)
	require.Equal(t, 3, *dups[0].Row)
	require.Contains(t, dups[0].Message, "first seen at row 2")

	collisions := messagesContaining(NewValidator().Validate(rows, nil, record.NewCodeSet("ROOT")), "collides with")
	require.Len(t, collisions, 1)
	require.Equal(t, 4, *collisions[0].Row)
	require.Equal(t, `row 4: code "hr" collides with "HR" at row 2 (codes are case-insensitive)`, collisions[0].Message)
}

func TestValidator_CaseVariantCodesBlock(t *testing.T) {
	rows := []record.Row{
		dept(2, "HR", "Human Resources", ""),
		dept(3, "hr", "Payroll", ""),
		dept(4, "Straße", "Street", ""),
		dept(5, "STRASSE", "Street again", ""),
	}
	errs := NewValidator().Validate(rows, nil, record.NewCodeSet("HR"))
	require.True(t, record.HasErrors(errs))
	collisions := messagesContaining(errs, "collides with")
	require.Len(t, collisions, 2)
	require.Equal(t, 3, *collisions[0].Row)
	require.Equal(t, 5, *collisions[1].Row)
	require.Empty(t, messagesContaining(errs, "duplicate code"))
}

func TestValidator_MultipleRootsWarning(t *testing.T) {
	rows := []record.Row{
		dept(2, "A", "Alpha", ""),
		dept(3, "B", "Beta", ""),
	}
	errs := NewValidator().Validate(rows, nil, nil)
	require.Len(t, errs, 1)
	require.Equal(t, record.SeverityWarning, errs[0].Severity)
	require.Nil(t, errs[0].Row)
	require.False(t, record.HasErrors(errs))

	require.Empty(t, NewValidator().Validate(rows, nil, record.NewCodeSet("HQ")))
}

func TestValidator_PositionDepartments(t *testing.T) {
	positions := []record.Row{
		pos(2, "P1", "Lead", "", "ENG"),
		pos(3, "P2", "Analyst", "", "FIN"),
		pos(4, "P3", "Intern", "", "ENGG"),
		pos(5, "P4", "Floater", "", ""),
	}
	errs := NewValidator().ValidatePositionDepartments(positions, record.NewCodeSet("ENG"), record.NewCodeSet("FIN"))
	require.Len(t, errs, 2)
	require.Equal(t, record.SeverityError, errs[0].Severity)
	require.Equal(t, 4, *errs[0].Row)
	require.Contains(t, errs[0].Message, `did you mean "eng"`)
	require.Equal(t, record.SeverityWarning, errs[1].Severity)
}

func TestValidator_DoesNotMutateRows(t *testing.T) {
	rows := []record.Row{dept(2, " A ", "Alpha", " B "), dept(3, "B", "Beta", "")}
	before := []record.Row{rows[0].Clone(), rows[1].Clone()}
	NewValidator().Validate(rows, nil, nil)
	require.Equal(t, before, rows)
}

// hasCycleBrute counts distinct cycles of a graph where every node has at most one parent.
func hasCycleBrute(parent []int) int {
	n := len(parent)
	onCycle := make([]bool, n)
	for s := 0; s < n; s++ {
		cur := s
		for steps := 0; steps < n && cur >= 0; steps++ {
			cur = parent[cur]
			if cur == s {
				onCycle[s] = true
				break
			}
		}
	}
	seen := make([]bool, n)
	count := 0
	for s := 0; s < n; s++ {
		if !onCycle[s] || seen[s] {
			continue
		}
		count++
		cur := s
		for !seen[cur] {
			seen[cur] = true
			cur = parent[cur]
		}
	}
	return count
}

func TestValidator_CycleSoundnessRandomGraphs(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	v := NewValidator()
	for iter := 0; iter < 300; iter++ {
		n := 1 + rnd.Intn(12)
		parent := make([]int, n)
		rows := make([]record.Row, n)
		for i := 0; i < n; i++ {
			parent[i] = rnd.Intn(n+2) - 2
			if parent[i] < 0 {
				parent[i] = -1
			}
		}
		for i := 0; i < n; i++ {
			p := ""
			if parent[i] >= 0 {
				p = fmt.Sprintf("C%d", parent[i])
			}
			rows[i] = dept(i+2, fmt.Sprintf("C%d", i), "n", p)
		}

		got := messagesContaining(v.Validate(rows, nil, record.NewCodeSet("EXT")), "circular")
		require.Len(t, got, hasCycleBrute(parent), "parents=%v", parent)
	}
}
