package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspects the price cache.",
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheListCmd = &cobra.Command{
	Use:   "ls <service>",
	Short: "Lists the cached prices of a service, newest first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cmd.Context())
		defer a.close()

		if !a.store.Available() {
			return fmt.Errorf("no price cache configured (cache.dsn or AUTOQUOTE_CACHE_DSN)")
		}
		entries, err := a.store.List(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(entries)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Vehicle", "Selection", "Price", "Last updated"})
		for _, e := range entries {
			selection := ""
			if e.Selection != nil {
				selection = *e.Selection
			}
			t.AppendRow(table.Row{e.VehicleKey, selection, formatPrice(e.Price), e.LastUpdated.In(a.clock.Location()).Format(time.DateTime)})
		}
		t.Render()
		return nil
	},
}
