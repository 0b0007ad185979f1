package main

import (
	"fmt"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/maplink/internal/export"
	"github.com/sells-group/maplink/internal/ledger"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize <ledger.csv>",
	Short: "Rebuild the result workbook from a backup ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			var err error
			if out, err = finalizeOutputPath(args[0]); err != nil {
				return err
			}
		}

		sum, err := export.Finalize(args[0], out)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows (%d found, %d not found, %d failed)\n",
			out, sum.Rows, sum.Found, sum.NotFound, sum.Failed)
		return nil
	},
}

func init() {
	finalizeCmd.Flags().String("out", "", "output workbook path (default Final_Result_<key>.xlsx next to the ledger)")
	rootCmd.AddCommand(finalizeCmd)
}

// finalizeOutputPath derives the result path from a ledger path.
func finalizeOutputPath(ledgerPath string) (string, error) {
	key, ok := ledger.KeyFromPath(ledgerPath)
	if !ok {
		return "", eris.Errorf("finalize: cannot derive job key from %q, pass --out", filepath.Base(ledgerPath))
	}
	return filepath.Join(filepath.Dir(ledgerPath), export.FileName(key)), nil
}
