package model

// RecordStatus is the outcome of enriching one row.
type RecordStatus string

const (
	StatusFound    RecordStatus = "found"
	StatusNotFound RecordStatus = "not_found"
	StatusFailed   RecordStatus = "failed"
)

// Placeholders written in the map link column when no link was extracted.
// The ledger has no status column, so the status of a re-parsed record is
// recovered from these values.
const (
	NotFoundLink = "NOT FOUND"
	FailedLink   = "ERROR"
)

// StatusFromLink recovers the record status from a ledger map link value.
func StatusFromLink(link string) RecordStatus {
	switch link {
	case NotFoundLink, "":
		return StatusNotFound
	case FailedLink:
		return StatusFailed
	default:
		return StatusFound
	}
}

// EnrichmentRecord is the result for one in-scope row. It is appended to the
// backup ledger once and never modified afterwards.
type EnrichmentRecord struct {
	RowIndex        int          `json:"row_index"`
	WarehouseCode   string       `json:"warehouse_code"`
	Province        string       `json:"province"`
	ShopName        string       `json:"shop_name"`
	Address         string       `json:"address"`
	SpecificAddress string       `json:"specific_address"`
	MapLink         string       `json:"map_link"`
	Coordinates     string       `json:"coordinates"`
	Status          RecordStatus `json:"status"`
}

// FacetCombination is one distinct (project, province, district, survey)
// tuple observed in a document, with the number of rows carrying it.
type FacetCombination struct {
	Project  string `json:"proj"`
	Province string `json:"prov"`
	District string `json:"dist"`
	Survey   string `json:"surv"`
	Count    int    `json:"count"`
}
