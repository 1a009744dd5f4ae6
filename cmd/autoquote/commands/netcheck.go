package commands

import (
	"path/filepath"

	"autoquote-backend/internal/netcheck"
	"autoquote-backend/lib/util/fsutil"
	"autoquote-backend/lib/util/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// dumpOutput is a subdirectory of the debug directory, nil when there is none.
func dumpOutput(debugDir, name string) fsutil.Output {
	if debugDir == "" {
		return nil
	}
	return fsutil.NewDirectoryOutput(filepath.Join(debugDir, name))
}

func init() {
	rootCmd.AddCommand(netcheckCmd)
}

var netcheckCmd = &cobra.Command{
	Use:   "netcheck",
	Short: "Shows the public address and location quotes are requested from.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			serviceutil.Fatal("failed to read config", err, "path", configPath)
		}
		checker, err := netcheck.NewChecker(cfg.Netcheck, netcheck.WithDumps(dumpOutput(cfg.Browser.DebugDir, "netcheck")))
		if err != nil {
			return err
		}
		egress, err := checker.Check(cmd.Context())
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(egress)
		}

		t := newTable()
		t.AppendRows([]table.Row{
			{"IP", egress.IP},
			{"Provider", egress.Org},
			{"City", egress.City},
			{"Region", egress.Region},
			{"Country", egress.Country},
		})
		t.Render()
		return nil
	},
}
