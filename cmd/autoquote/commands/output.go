package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"autoquote-backend/internal/pricing"
	"autoquote-backend/internal/vehiclekey"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatPrice(price float64) string {
	return fmt.Sprintf("%.2f €", price)
}

func printResult(label string, res pricing.Result) error {
	if asJSON {
		return printJSON(res)
	}
	t := newTable()
	t.AppendHeader(table.Row{"Service", "Vehicle", "Price", "Source", "Error"})
	source := "scraped"
	if res.Cached {
		source = "cache"
	}
	price := ""
	if res.Success {
		price = formatPrice(res.Price)
	} else {
		source = string(res.Kind)
	}
	t.AppendRow(table.Row{label, res.VehicleKey, price, source, res.Error})
	t.Render()
	if !res.Success {
		return fmt.Errorf("could not price %s", label)
	}
	return nil
}

// vehicleFlags binds the flags describing a vehicle onto cmd.
func vehicleFlags(cmd *cobra.Command) *vehiclekey.VehicleInfo {
	v := &vehiclekey.VehicleInfo{}
	cmd.Flags().StringVar(&v.Brand, "brand", "", "Vehicle brand, e.g. Renault.")
	cmd.Flags().StringVar(&v.Model, "model", "", "Vehicle model, e.g. Clio.")
	cmd.Flags().StringVar(&v.Engine, "engine", "", "Engine designation.")
	cmd.Flags().IntVar(&v.Year, "year", 0, "Model year.")
	cmd.MarkFlagRequired("brand")
	cmd.MarkFlagRequired("model")
	return v
}
