package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/maplink/internal/facet"
)

var scanCmd = &cobra.Command{
	Use:   "scan <workbook>",
	Short: "List the filter combinations found in a workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "scan: read workbook")
		}
		idx, err := facet.Scan(doc, cfg.SheetOptions())
		if err != nil {
			return err
		}

		unique, _ := cmd.Flags().GetBool("unique")
		asJSON, _ := cmd.Flags().GetBool("json")
		out := cmd.OutOrStdout()

		switch {
		case unique:
			return writeIndented(out, idx.Unique())
		case asJSON:
			return writeIndented(out, idx.Result())
		default:
			formatFacets(out, idx.Result())
			return nil
		}
	},
}

func init() {
	scanCmd.Flags().Bool("unique", false, "print distinct values per field instead of combinations")
	scanCmd.Flags().Bool("json", false, "print combinations as JSON")
	rootCmd.AddCommand(scanCmd)
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatFacets writes a table of facet combinations to out.
func formatFacets(out io.Writer, res facet.ScanResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROJECT\tPROVINCE\tDISTRICT\tSURVEY\tROWS")
	for _, f := range res.FilterData {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", f.Project, f.Province, f.District, f.Survey, f.Count)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%d valid rows, %d combinations\n", res.TotalRows, len(res.FilterData))
}
