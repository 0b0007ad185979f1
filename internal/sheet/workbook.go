package sheet

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// DefaultSheetName is the worksheet holding store data in master workbooks.
const DefaultSheetName = "General Data"

// ErrNoSheet is returned when a workbook contains no usable worksheet.
var ErrNoSheet = errors.New("sheet: no worksheet found")

// Options configures how a workbook is read.
type Options struct {
	SheetName string  // preferred worksheet; the first sheet is used when absent
	HeaderRow int     // 1-based header row, default 2
	StartRow  int     // first data row, default 3
	Columns   Columns // zero value means DefaultColumns
}

func (o Options) withDefaults() Options {
	if o.SheetName == "" {
		o.SheetName = DefaultSheetName
	}
	if o.HeaderRow <= 0 {
		o.HeaderRow = 2
	}
	if o.StartRow <= 0 {
		o.StartRow = o.HeaderRow + 1
	}
	if o.Columns == (Columns{}) {
		o.Columns = DefaultColumns()
	}
	return o
}

// Workbook is an opened input document bound to one worksheet.
type Workbook struct {
	f        *excelize.File
	sheet    string
	opts     Options
	cols     Columns
	rowCount int
}

// OpenBytes opens a workbook from raw file bytes.
func OpenBytes(data []byte, opts Options) (*Workbook, error) {
	return Open(bytes.NewReader(data), opts)
}

// Open reads a workbook and selects the data worksheet.
func Open(r io.Reader, opts Options) (*Workbook, error) {
	opts = opts.withDefaults()

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: open workbook")
	}

	name, err := pickSheet(f, opts.SheetName)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	rows, err := f.GetRows(name)
	if err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "sheet: read rows of %q", name)
	}

	w := &Workbook{f: f, sheet: name, opts: opts, rowCount: len(rows)}
	w.cols = DetectColumns(w.headerLabels(rows), opts.Columns)

	zap.L().Debug("sheet: opened workbook",
		zap.String("sheet", name),
		zap.Int("rows", w.rowCount),
		zap.Int("address_col", w.cols.Address),
		zap.Int("coords_col", w.cols.Coordinates),
		zap.Int("link_col", w.cols.Link),
	)
	return w, nil
}

func pickSheet(f *excelize.File, preferred string) (string, error) {
	if idx, err := f.GetSheetIndex(preferred); err == nil && idx >= 0 {
		return f.GetSheetName(idx), nil
	}
	list := f.GetSheetList()
	if len(list) == 0 {
		return "", ErrNoSheet
	}
	return list[0], nil
}

func (w *Workbook) headerLabels(rows [][]string) []string {
	if w.opts.HeaderRow > len(rows) {
		return nil
	}
	return rows[w.opts.HeaderRow-1]
}

// SheetName returns the selected worksheet.
func (w *Workbook) SheetName() string { return w.sheet }

// Columns returns the column layout after header detection.
func (w *Workbook) Columns() Columns { return w.cols }

// Close releases the underlying file.
func (w *Workbook) Close() error {
	return w.f.Close()
}

// Cell reads one cell as a CellValue. Out-of-range or unreadable cells are
// empty.
func (w *Workbook) Cell(row, col int) CellValue {
	if row <= 0 || col <= 0 {
		return Empty()
	}
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return Empty()
	}

	value, err := w.f.GetCellValue(w.sheet, ref)
	if err != nil {
		return Empty()
	}

	if formula, err := w.f.GetCellFormula(w.sheet, ref); err == nil && formula != "" {
		return FormulaResult(value)
	}
	if ok, target, err := w.f.GetCellHyperLink(w.sheet, ref); err == nil && ok {
		return Hyperlink(value, target)
	}
	if runs, err := w.f.GetCellRichText(w.sheet, ref); err == nil && len(runs) > 1 {
		texts := make([]string, len(runs))
		for i, run := range runs {
			texts[i] = run.Text
		}
		return RichText(texts...)
	}
	return Text(value)
}

// Row builds the SourceRow for a 1-based sheet row.
func (w *Workbook) Row(index int) SourceRow {
	text := func(col int) string { return Extract(w.Cell(index, col)) }
	return SourceRow{
		Index:           index,
		ID:              text(w.cols.ID),
		Project:         text(w.cols.Project),
		Province:        text(w.cols.Province),
		District:        text(w.cols.District),
		WarehouseCode:   text(w.cols.WarehouseCode),
		ShopName:        text(w.cols.Address),
		SpecificAddress: text(w.cols.SpecificAddress),
		Survey:          text(w.cols.Survey),
	}
}

// Rows returns every data row from the start row to the last populated
// row, valid or not.
func (w *Workbook) Rows() []SourceRow {
	if w.rowCount < w.opts.StartRow {
		return nil
	}
	out := make([]SourceRow, 0, w.rowCount-w.opts.StartRow+1)
	for i := w.opts.StartRow; i <= w.rowCount; i++ {
		out = append(out, w.Row(i))
	}
	return out
}

// HeaderLabels returns the trimmed header row labels.
func (w *Workbook) HeaderLabels() []string {
	rows, err := w.f.GetRows(w.sheet)
	if err != nil {
		return nil
	}
	labels := w.headerLabels(rows)
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = strings.TrimSpace(l)
	}
	return out
}
