package commands

import (
	"strings"

	"autoquote-backend/internal/catalog"
	"autoquote-backend/lib/util/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspects the service catalog.",
}

func init() {
	catalogCmd.AddCommand(catalogListCmd)
	rootCmd.AddCommand(catalogCmd)
}

func status(svc catalog.ServiceDescriptor) string {
	switch {
	case svc.ScrapingDisabled:
		return "disabled"
	case svc.Unsupported():
		return "unsupported"
	case svc.FormURL == "":
		return "no form"
	}
	return "ok"
}

var catalogListCmd = &cobra.Command{
	Use:   "ls",
	Short: "Lists the services of the catalog in batch order.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			serviceutil.Fatal("failed to read config", err, "path", configPath)
		}
		services, err := catalog.Load(cfg.Catalog)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(services.Services())
		}

		t := newTable()
		t.AppendHeader(table.Row{"#", "Id", "Name", "Category", "Variants", "Status"})
		for _, svc := range services.Services() {
			t.AppendRow(table.Row{
				svc.Priority,
				svc.ID,
				svc.Name,
				svc.Category,
				strings.Join(svc.VariantLabels, " / "),
				status(svc),
			})
		}
		t.Render()
		return nil
	},
}
