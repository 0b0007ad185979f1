package facet

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/maplink/internal/sheet"
)

// Scan opens a workbook and indexes its rows.
func Scan(doc []byte, opts sheet.Options) (*Index, error) {
	wb, err := sheet.OpenBytes(doc, opts)
	if err != nil {
		return nil, eris.Wrap(err, "facet: scan")
	}
	defer wb.Close() //nolint:errcheck
	return Build(wb.Rows()), nil
}
