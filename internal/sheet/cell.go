// Package sheet reads store-location workbooks into typed rows.
package sheet

import "strings"

// CellKind tags the source representation of a CellValue.
type CellKind int

const (
	KindEmpty CellKind = iota
	KindText
	KindRichText
	KindFormula
	KindHyperlink
)

// String returns the kind name.
func (k CellKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindText:
		return "text"
	case KindRichText:
		return "rich_text"
	case KindFormula:
		return "formula"
	case KindHyperlink:
		return "hyperlink"
	default:
		return "unknown"
	}
}

// CellValue is a spreadsheet cell reduced to one of a fixed set of shapes.
// The zero value is an empty cell.
type CellValue struct {
	kind CellKind
	text string
}

// Empty returns an empty cell.
func Empty() CellValue { return CellValue{} }

// Text returns a plain value cell.
func Text(s string) CellValue {
	if s == "" {
		return CellValue{}
	}
	return CellValue{kind: KindText, text: s}
}

// RichText returns a cell made of formatted runs; the runs are concatenated.
func RichText(runs ...string) CellValue {
	s := strings.Join(runs, "")
	if s == "" {
		return CellValue{}
	}
	return CellValue{kind: KindRichText, text: s}
}

// FormulaResult returns a cell holding the cached result of a formula.
func FormulaResult(result string) CellValue {
	if result == "" {
		return CellValue{}
	}
	return CellValue{kind: KindFormula, text: result}
}

// Hyperlink returns a hyperlink cell. The display text wins; the target is
// used only when the cell shows nothing.
func Hyperlink(display, target string) CellValue {
	s := display
	if s == "" {
		s = target
	}
	if s == "" {
		return CellValue{}
	}
	return CellValue{kind: KindHyperlink, text: s}
}

// Kind reports the source shape of the cell.
func (v CellValue) Kind() CellKind { return v.kind }

// IsEmpty reports whether the cell resolves to blank text.
func (v CellValue) IsEmpty() bool { return Extract(v) == "" }

// String implements fmt.Stringer via Extract.
func (v CellValue) String() string { return Extract(v) }

// Extract resolves any cell shape to trimmed plain text.
func Extract(v CellValue) string {
	if v.kind == KindEmpty {
		return ""
	}
	return strings.TrimSpace(v.text)
}
