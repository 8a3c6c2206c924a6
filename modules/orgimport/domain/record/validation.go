package record

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// ValidationError is a single finding of the validator. Row and Field are nil for
// group-level findings.
type ValidationError struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Row      *int     `json:"row,omitempty"`
	Field    *string  `json:"field,omitempty"`
}

func NewError(row int, field, message string) ValidationError {
	return newFinding(SeverityError, row, field, message)
}

func NewWarning(row int, field, message string) ValidationError {
	return newFinding(SeverityWarning, row, field, message)
}

func newFinding(sev Severity, row int, field, message string) ValidationError {
	ve := ValidationError{Severity: sev, Message: message}
	if row > 0 {
		r := row
		ve.Row = &r
	}
	if field != "" {
		f := field
		ve.Field = &f
	}
	return ve
}

func (e ValidationError) IsError() bool { return e.Severity == SeverityError }

func HasErrors(errs []ValidationError) bool {
	for _, e := range errs {
		if e.IsError() {
			return true
		}
	}
	return false
}

func Errors(errs []ValidationError) []ValidationError {
	return filterSeverity(errs, SeverityError)
}

func Warnings(errs []ValidationError) []ValidationError {
	return filterSeverity(errs, SeverityWarning)
}

func filterSeverity(errs []ValidationError, sev Severity) []ValidationError {
	var out []ValidationError
	for _, e := range errs {
		if e.Severity == sev {
			out = append(out, e)
		}
	}
	return out
}
