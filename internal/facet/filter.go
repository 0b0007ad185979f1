package facet

import (
	"strings"

	"github.com/sells-group/maplink/internal/model"
	"github.com/sells-group/maplink/internal/sheet"
)

// Evaluate reports whether row is in scope for opts. A row needs a primary
// identifier, and every non-empty filter must appear as a case-insensitive
// substring of the matching field. The "(Empty)" survey filter selects rows
// whose survey cell is blank.
func Evaluate(row sheet.SourceRow, opts model.JobOptions) bool {
	if !row.Valid() {
		return false
	}
	if !contains(row.Project, opts.Project) {
		return false
	}
	if !contains(row.Province, opts.Province) {
		return false
	}
	if !contains(row.District, opts.District) {
		return false
	}
	if opts.Survey == model.EmptySurvey {
		return row.Survey == ""
	}
	return contains(row.Survey, opts.Survey)
}

// InScope returns the rows of rows that pass Evaluate, in order.
func InScope(rows []sheet.SourceRow, opts model.JobOptions) []sheet.SourceRow {
	var out []sheet.SourceRow
	for _, r := range rows {
		if Evaluate(r, opts) {
			out = append(out, r)
		}
	}
	return out
}

func contains(field, filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(field), strings.ToLower(filter))
}
