package sheet

import (
	"strings"

	"github.com/sells-group/maplink/internal/model"
)

// Columns holds 1-based column positions of the fields the engine reads.
type Columns struct {
	ID              int `mapstructure:"id"`
	Province        int `mapstructure:"province"`
	District        int `mapstructure:"district"`
	WarehouseCode   int `mapstructure:"warehouse_code"`
	Address         int `mapstructure:"address"`
	Coordinates     int `mapstructure:"coordinates"`
	Link            int `mapstructure:"link"`
	SpecificAddress int `mapstructure:"specific_address"`
	Survey          int `mapstructure:"survey"`
	Project         int `mapstructure:"project"`
}

// DefaultColumns returns the fixed layout of the store master workbook.
func DefaultColumns() Columns {
	return Columns{
		ID:              1,
		Province:        2,
		District:        3,
		WarehouseCode:   4,
		Address:         5,
		Coordinates:     10,
		Link:            11,
		SpecificAddress: 12,
		Survey:          29,
		Project:         52,
	}
}

// Header labels that relocate the address, coordinates and link columns.
// "Googgle" matches the spelling used in the source workbooks.
const (
	addressLabel     = "SIÊU THỊ/VĂN PHÒNG/KHO"
	coordinatesLabel = "TỌA ĐỘ"
	linkLabel        = "Googgle Map"
)

// DetectColumns scans header labels and overrides the address, coordinates
// and link positions of base when a matching label is found. header[0] is
// column 1. When a label repeats, the right-most match wins.
func DetectColumns(header []string, base Columns) Columns {
	cols := base
	for i, label := range header {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		switch {
		case strings.Contains(label, addressLabel):
			cols.Address = i + 1
		case strings.Contains(label, coordinatesLabel):
			cols.Coordinates = i + 1
		case strings.Contains(label, linkLabel):
			cols.Link = i + 1
		}
	}
	return cols
}

// SourceRow is a read-only snapshot of one data row, already reduced to
// plain text.
type SourceRow struct {
	Index           int // 1-based sheet row number
	ID              string
	Project         string
	Province        string
	District        string
	WarehouseCode   string
	ShopName        string // value of the address column
	SpecificAddress string
	Survey          string
}

// Valid reports whether the row carries a primary identifier.
func (r SourceRow) Valid() bool { return r.ID != "" }

// SearchAddress returns the specific address, falling back to the shop
// name column when the specific address is blank.
func (r SourceRow) SearchAddress() string {
	if r.SpecificAddress != "" {
		return r.SpecificAddress
	}
	return r.ShopName
}

// SurveyFacet returns the survey value with blanks collapsed to the
// "(Empty)" sentinel.
func (r SourceRow) SurveyFacet() string {
	if r.Survey == "" {
		return model.EmptySurvey
	}
	return r.Survey
}
