package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_AllKinds(t *testing.T) {
	tests := []struct {
		name string
		in   CellValue
		kind CellKind
		want string
	}{
		{"zero", CellValue{}, KindEmpty, ""},
		{"empty", Empty(), KindEmpty, ""},
		{"text", Text("  Quận 1 "), KindText, "Quận 1"},
		{"blank text", Text(""), KindEmpty, ""},
		{"rich text", RichText("Bách ", "Hóa ", "Xanh"), KindRichText, "Bách Hóa Xanh"},
		{"formula", FormulaResult("2026_bidding"), KindFormula, "2026_bidding"},
		{"hyperlink display", Hyperlink("Store 12", "https://example.com"), KindHyperlink, "Store 12"},
		{"hyperlink target", Hyperlink("", "https://example.com"), KindHyperlink, "https://example.com"},
		{"hyperlink blank", Hyperlink("", ""), KindEmpty, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.in.Kind())
			assert.Equal(t, tt.want, Extract(tt.in))
			assert.Equal(t, tt.want, tt.in.String())
			assert.Equal(t, tt.want == "", tt.in.IsEmpty())
		})
	}
}

func TestCellKind_String(t *testing.T) {
	assert.Equal(t, "rich_text", KindRichText.String())
	assert.Equal(t, "unknown", CellKind(99).String())
}
