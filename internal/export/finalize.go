// Package export turns a backup ledger into the final result workbook.
package export

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/maplink/internal/ledger"
	"github.com/sells-group/maplink/internal/model"
)

// SheetName is the only sheet in the output workbook.
const SheetName = "Result"

// Header is the output header row.
var Header = []string{"STT", "MÃ KHO 2", "Tỉnh", "Tên Shop", "Địa Chỉ", "Link Map", "Tọa Độ"}

// FileName returns the output workbook name for a job key.
func FileName(jobKey string) string {
	return "Final_Result_" + jobKey + ".xlsx"
}

// Summary counts the records written.
type Summary struct {
	Rows     int `json:"rows"`
	Found    int `json:"found"`
	NotFound int `json:"notFound"`
	Failed   int `json:"failed"`
}

// Finalize reads the ledger at ledgerPath and writes the result workbook
// to outPath, replacing any previous file atomically.
func Finalize(ledgerPath, outPath string) (Summary, error) {
	recs, err := ledger.Read(ledgerPath)
	if err != nil {
		return Summary{}, err
	}

	f, sum, err := build(recs)
	if err != nil {
		return Summary{}, err
	}
	if err := writeAtomic(f, outPath); err != nil {
		return Summary{}, err
	}

	zap.L().Info("export: wrote result workbook",
		zap.String("ledger", ledgerPath),
		zap.String("output", outPath),
		zap.Int("rows", sum.Rows),
		zap.Int("found", sum.Found),
	)
	return sum, nil
}

func build(recs []model.EnrichmentRecord) (*xlsx.File, Summary, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, Summary{}, eris.Wrap(err, "export: add sheet")
	}
	addRow(sheet, Header)

	var sum Summary
	for _, r := range recs {
		addRow(sheet, []string{
			strconv.Itoa(r.RowIndex),
			r.WarehouseCode,
			r.Province,
			r.ShopName,
			r.Address,
			r.MapLink,
			r.Coordinates,
		})
		sum.Rows++
		switch r.Status {
		case model.StatusFound:
			sum.Found++
		case model.StatusFailed:
			sum.Failed++
		default:
			sum.NotFound++
		}
	}
	return f, sum, nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// writeAtomic writes f to a temp file beside path, syncs it, and renames it
// into place.
func writeAtomic(f *xlsx.File, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "export: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "export: create temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := f.Write(tmp); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "export: write workbook")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "export: sync workbook")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "export: close workbook")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "export: rename to %s", path)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
