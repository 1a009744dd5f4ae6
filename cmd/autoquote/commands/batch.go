package commands

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"autoquote-backend/internal/batch"
	"autoquote-backend/internal/vehiclekey"
	"autoquote-backend/lib/util/fsutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	batchVehicle *vehiclekey.VehicleInfo
	batchMail    bool
)

func init() {
	batchVehicle = vehicleFlags(batchCmd)
	batchCmd.Flags().BoolVar(&batchMail, "mail", false, "Mail the report to batch.mail.to once done.")
	rootCmd.AddCommand(batchCmd)
}

var batchCmd = &cobra.Command{
	Use:   "batch <plate> --brand <brand> --model <model> [--mail]",
	Short: "Prices every quotable service of the catalog for a vehicle and writes a json report.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cmd.Context())
		defer a.close()

		reportDir := a.cfg.Batch.ReportDir
		if reportDir == "" {
			reportDir = "."
		}
		runner := batch.NewRunner(a.resolver, a.catalog, a.clock,
			batch.WithOptions(a.cfg.Batch.options()),
			batch.WithReports(fsutil.NewDirectoryOutput(reportDir)),
			batch.WithPerfStats(10*time.Second),
		)

		report, err := runner.Run(cmd.Context(), args[0], *batchVehicle)
		if err != nil {
			return err
		}

		if asJSON {
			err = printJSON(report)
			if err != nil {
				return err
			}
		} else {
			t := newTable()
			t.AppendHeader(table.Row{"Service", "Price", "Source", "Seconds", "Error"})
			for _, o := range report.Results {
				price, source := "", "scraped"
				if o.Success {
					price = formatPrice(o.Price)
					if o.Cached {
						source = "cache"
					}
				} else {
					source = string(o.Kind)
				}
				t.AppendRow(table.Row{o.Name, price, source, int(o.Seconds), o.Error})
			}
			t.AppendFooter(table.Row{
				"Total",
				fmt.Sprintf("%d/%d", report.Succeeded, report.Total),
				fmt.Sprintf("%d cached", report.Cached),
				int(report.Seconds),
				fmt.Sprintf("%d failed", report.Failed),
			})
			t.Render()
		}
		slog.Info("report written", "path", filepath.Join(reportDir, report.FileName()))

		if batchMail {
			if !a.cfg.Batch.Mail.Enabled() {
				slog.Warn("--mail given but batch.mail is not configured")
				return nil
			}
			err = batch.SendReport(cmd.Context(), a.cfg.Batch.Mail, report)
			if err != nil {
				return err
			}
			slog.Info("report mailed", "to", a.cfg.Batch.Mail.To)
		}
		return nil
	},
}
