package record

import (
	"fmt"
	"sort"
	"strings"
)

type SheetKind string

const (
	SheetDepartments SheetKind = "departments"
	SheetPositions   SheetKind = "positions"
)

func (k SheetKind) Valid() bool {
	return k == SheetDepartments || k == SheetPositions
}

// ItemType is the singular form used on import items and error reports.
func (k SheetKind) ItemType() string {
	switch k {
	case SheetDepartments:
		return "department"
	case SheetPositions:
		return "position"
	default:
		return string(k)
	}
}

// ParentField is the column holding the hierarchy reference for the sheet.
func (k SheetKind) ParentField() string {
	if k == SheetPositions {
		return FieldReportsToCode
	}
	return FieldParentCode
}

func ParseSheetKind(v string) (SheetKind, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "departments", "department", "dept", "depts":
		return SheetDepartments, nil
	case "positions", "position", "pos":
		return SheetPositions, nil
	default:
		return "", fmt.Errorf("unknown sheet kind: %q", v)
	}
}

const (
	FieldCode           = "code"
	FieldName           = "name"
	FieldParentCode     = "parent_code"
	FieldReportsToCode  = "reports_to_code"
	FieldDepartmentCode = "department_code"
	FieldDescription    = "description"
)

// Row is one parsed data line of a department or position sheet.
// Line is 1-based and counts the header as line 1.
type Row struct {
	Kind       SheetKind      `json:"kind"`
	Line       int            `json:"row"`
	Code       string         `json:"code"`
	Name       string         `json:"name"`
	ParentCode *string        `json:"parent_code,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Field is a single named value of a row in a stable order.
type Field struct {
	Name  string
	Value any
}

// Fields returns code, name, the parent reference and every extra cell (sorted by name).
func (r Row) Fields() []Field {
	out := make([]Field, 0, 3+len(r.Extra))
	out = append(out,
		Field{Name: FieldCode, Value: r.Code},
		Field{Name: FieldName, Value: r.Name},
	)
	var parent any
	if r.ParentCode != nil {
		parent = *r.ParentCode
	}
	out = append(out, Field{Name: r.Kind.ParentField(), Value: parent})

	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, Field{Name: k, Value: r.Extra[k]})
	}
	return out
}

// Get returns the value of a named field; unknown names fall through to Extra.
func (r Row) Get(name string) any {
	switch name {
	case FieldCode:
		return r.Code
	case FieldName:
		return r.Name
	case r.Kind.ParentField():
		if r.ParentCode == nil {
			return nil
		}
		return *r.ParentCode
	}
	if r.Extra == nil {
		return nil
	}
	return r.Extra[name]
}

// Set assigns a named field; unknown names go to Extra.
func (r *Row) Set(name string, value any) {
	switch name {
	case FieldCode:
		r.Code = Stringify(value)
		return
	case FieldName:
		r.Name = Stringify(value)
		return
	case r.Kind.ParentField():
		if IsEmpty(value) {
			r.ParentCode = nil
			return
		}
		s := strings.TrimSpace(Stringify(value))
		r.ParentCode = &s
		return
	}
	if r.Extra == nil {
		r.Extra = map[string]any{}
	}
	r.Extra[name] = value
}

// Parent returns the trimmed parent reference, or "" when there is none.
func (r Row) Parent() string {
	if r.ParentCode == nil {
		return ""
	}
	return strings.TrimSpace(*r.ParentCode)
}

func (r Row) DepartmentCode() string {
	return strings.TrimSpace(Stringify(r.Get(FieldDepartmentCode)))
}

func (r Row) Clone() Row {
	c := r
	if r.ParentCode != nil {
		p := *r.ParentCode
		c.ParentCode = &p
	}
	if r.Extra != nil {
		c.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// RequiredFields lists the fields a row must carry to count as complete.
func RequiredFields(kind SheetKind) []string {
	if kind == SheetPositions {
		return []string{FieldCode, FieldName, FieldDepartmentCode}
	}
	return []string{FieldCode, FieldName}
}

// IsEmpty reports whether a cell value counts as missing.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case *string:
		return t == nil || strings.TrimSpace(*t) == ""
	default:
		return false
	}
}

func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Workbook is the parser output: rows per sheet kind.
type Workbook struct {
	Departments []Row `json:"departments"`
	Positions   []Row `json:"positions"`
}

func (w *Workbook) Rows(kind SheetKind) []Row {
	if kind == SheetPositions {
		return w.Positions
	}
	return w.Departments
}

func (w *Workbook) Len() int {
	return len(w.Departments) + len(w.Positions)
}
