package commands

import (
	"autoquote-backend/internal/vehiclekey"

	"github.com/spf13/cobra"
)

var dualVehicle *vehiclekey.VehicleInfo

func init() {
	dualVehicle = vehicleFlags(dualCmd)
	rootCmd.AddCommand(dualCmd)
}

var dualCmd = &cobra.Command{
	Use:   "dual <service> <plate> --brand <brand> --model <model>",
	Short: "Prices the front and rear variants of a service together, e.g. plaquettes-de-frein.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cmd.Context())
		defer a.close()

		res := a.resolver.ResolveDualVariantPrice(cmd.Context(), args[0], args[1], *dualVehicle)
		return printResult(args[0]+" (avant + arrière)", res)
	},
}
