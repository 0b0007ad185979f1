package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/maplink/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "maplink",
	Short: "Store map link enrichment",
	Long:  "Reads store workbooks, searches each in-scope store on the map, and records its share link and coordinates.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		switch mode := commandMode(cmd); mode {
		case "scan", "run", "serve", "jobs", "finalize":
			return cfg.Validate(mode)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

// commandMode returns the name of the top-level subcommand cmd belongs to.
func commandMode(cmd *cobra.Command) string {
	for cmd.HasParent() && cmd.Parent().HasParent() {
		cmd = cmd.Parent()
	}
	return cmd.Name()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
