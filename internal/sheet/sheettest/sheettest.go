// Package sheettest builds in-memory store workbooks for tests.
package sheettest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// Row is one store row in the default column layout.
type Row struct {
	ID              string
	Project         string
	Province        string
	District        string
	WarehouseCode   string
	ShopName        string
	SpecificAddress string
	Survey          string
}

// Header is the label row written at row 2.
var Header = map[int]string{
	1:  "STT",
	2:  "Tỉnh",
	3:  "Quận/Huyện",
	4:  "MÃ KHO 2",
	5:  "TÊN SIÊU THỊ/VĂN PHÒNG/KHO",
	10: "TỌA ĐỘ",
	11: "Link Googgle Map",
	12: "Địa chỉ cụ thể",
	29: "Survey",
	52: "Project Code",
}

// Workbook writes rows sequentially starting at sheet row 3.
func Workbook(t testing.TB, rows ...Row) []byte {
	t.Helper()
	at := make(map[int]Row, len(rows))
	for i, r := range rows {
		at[i+3] = r
	}
	return At(t, at)
}

// At writes each row at its given 1-based sheet row on a "General Data"
// worksheet.
func At(t testing.TB, rows map[int]Row) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	const name = "General Data"
	require.NoError(t, f.SetSheetName("Sheet1", name))

	for col, label := range Header {
		set(t, f, name, col, 2, label)
	}
	for idx, r := range rows {
		set(t, f, name, 1, idx, r.ID)
		set(t, f, name, 2, idx, r.Province)
		set(t, f, name, 3, idx, r.District)
		set(t, f, name, 4, idx, r.WarehouseCode)
		set(t, f, name, 5, idx, r.ShopName)
		set(t, f, name, 12, idx, r.SpecificAddress)
		set(t, f, name, 29, idx, r.Survey)
		set(t, f, name, 52, idx, r.Project)
	}
	return write(t, f)
}

// Custom hands a fresh workbook to build and returns its bytes.
func Custom(t testing.TB, build func(f *excelize.File)) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck
	build(f)
	return write(t, f)
}

func set(t testing.TB, f *excelize.File, sheet string, col, row int, value string) {
	t.Helper()
	if value == "" {
		return
	}
	ref, err := excelize.CoordinatesToCellName(col, row)
	require.NoError(t, err)
	require.NoError(t, f.SetCellStr(sheet, ref, value))
}

func write(t testing.TB, f *excelize.File) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}
